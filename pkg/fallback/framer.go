package fallback

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"locallab-hq/locallab/pkg/protocol"
)

const (
	// readChunkSize is the size of each read while looking for the end of
	// the header block.
	readChunkSize = 4096

	// maxHeaderBytes bounds the header block.
	maxHeaderBytes = 1 << 20

	// maxBodyBytes bounds a Content-Length body.
	maxBodyBytes = 32 << 20
)

var headerTerminator = []byte("\r\n\r\n")

// Request is a parsed HTTP/1.1 request.
type Request struct {
	Method   string
	Target   string
	Path     string
	RawQuery string
	Proto    string

	// Headers keeps the received order with lower-cased names.
	Headers []protocol.Header

	Body []byte
}

// Header returns the first value for the lower-cased name.
func (r *Request) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if h.Name() == name {
			return h.Value(), true
		}
	}
	return "", false
}

// ReadRequest reads one request from r. It reads in chunks until the end of
// the header block or the peer closes. Bytes that arrived after the header
// block are the body, extended or truncated to Content-Length when present.
func ReadRequest(r io.Reader) (*Request, error) {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	headerEnd := -1

	for headerEnd < 0 {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		headerEnd = bytes.Index(buf, headerTerminator)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if len(buf) == 0 {
				return nil, err
			}
			break
		}
		if headerEnd < 0 && len(buf) > maxHeaderBytes {
			return nil, fmt.Errorf("%w: header block exceeds %d bytes", ErrMalformedRequest, maxHeaderBytes)
		}
	}

	if len(buf) == 0 {
		return nil, ErrNoRequest
	}

	var head, body []byte
	if headerEnd < 0 {
		head = buf
	} else {
		head = buf[:headerEnd]
		body = buf[headerEnd+len(headerTerminator):]
	}

	req, err := parseHead(head)
	if err != nil {
		return nil, err
	}

	if cl, ok := req.Header("content-length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 || n > maxBodyBytes {
			return nil, fmt.Errorf("%w: invalid content-length %q", ErrMalformedRequest, cl)
		}
		switch {
		case len(body) > n:
			body = body[:n]
		case len(body) < n:
			rest := make([]byte, n-len(body))
			read, err := io.ReadFull(r, rest)
			if err != nil {
				return nil, fmt.Errorf("%w: body truncated after %d of %d bytes", ErrMalformedRequest, len(body)+read, n)
			}
			body = append(body, rest...)
		}
	}
	req.Body = body

	return req, nil
}

func parseHead(head []byte) (*Request, error) {
	lines := strings.Split(string(head), "\r\n")

	parts := strings.Fields(lines[0])
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedRequest, lines[0])
	}

	req := &Request{
		Method: parts[0],
		Target: parts[1],
		Proto:  parts[2],
	}

	path := req.Target
	if i := strings.IndexByte(path, '?'); i >= 0 {
		req.RawQuery = path[i+1:]
		path = path[:i]
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		req.Path = unescaped
	} else {
		req.Path = path
	}

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Headers = append(req.Headers, protocol.NewHeader(
			strings.ToLower(strings.TrimSpace(name)),
			strings.TrimSpace(value),
		))
	}

	return req, nil
}

// ResponseWriter serializes response messages onto a connection. It accepts
// exactly one start message followed by body messages; the final body
// (more == false) flushes and closes the underlying connection.
type ResponseWriter struct {
	w      *bufio.Writer
	closer io.Closer

	started  bool
	complete bool
}

// NewResponseWriter wraps w. If w is an io.Closer it is closed after the final
// body.
func NewResponseWriter(w io.Writer) *ResponseWriter {
	rw := &ResponseWriter{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		rw.closer = c
	}
	return rw
}

// Started reports whether the status line has been written.
func (rw *ResponseWriter) Started() bool { return rw.started }

// WriteStart writes the status line and header block. Content-Type defaults
// to text/plain and Connection is always "close".
func (rw *ResponseWriter) WriteStart(status int, headers []protocol.Header) error {
	if rw.started {
		return protocol.ErrResponseStarted
	}
	rw.started = true

	reason := http.StatusText(status)
	if reason == "" {
		reason = "Unknown"
	}
	fmt.Fprintf(rw.w, "HTTP/1.1 %d %s\r\n", status, reason)

	hasContentType := false
	for _, h := range headers {
		name := strings.ToLower(h.Name())
		if name == "connection" {
			continue
		}
		if name == "content-type" {
			hasContentType = true
		}
		fmt.Fprintf(rw.w, "%s: %s\r\n", h.Name(), h.Value())
	}
	if !hasContentType {
		rw.w.WriteString("Content-Type: text/plain\r\n")
	}
	rw.w.WriteString("Connection: close\r\n\r\n")

	return nil
}

// WriteBody writes raw body bytes. When more is false the response is
// flushed and the connection closed.
func (rw *ResponseWriter) WriteBody(body []byte, more bool) error {
	if !rw.started {
		return protocol.ErrResponseNotStarted
	}
	if rw.complete {
		return protocol.ErrResponseComplete
	}

	if _, err := rw.w.Write(body); err != nil {
		return err
	}
	if more {
		return rw.w.Flush()
	}

	rw.complete = true
	if err := rw.w.Flush(); err != nil {
		return err
	}
	if rw.closer != nil {
		return rw.closer.Close()
	}
	return nil
}

// WriteMessage dispatches a protocol message to WriteStart or WriteBody.
func (rw *ResponseWriter) WriteMessage(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeResponseStart:
		return rw.WriteStart(msg.Status, msg.Headers)
	case protocol.TypeResponseBody:
		return rw.WriteBody(msg.Body, msg.MoreBody)
	default:
		return fmt.Errorf("fallback: unexpected message type %q", msg.Type)
	}
}
