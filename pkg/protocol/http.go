package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ErrResponseStarted is returned when a second http.response.start is sent.
var ErrResponseStarted = errors.New("protocol: response already started")

// ErrResponseNotStarted is returned when a body is sent before the start message.
var ErrResponseNotStarted = errors.New("protocol: response body sent before start")

// ErrResponseComplete is returned when a message is sent after the final body.
var ErrResponseComplete = errors.New("protocol: response already complete")

// ScopeFromRequest builds an http Scope from a net/http request.
func ScopeFromRequest(r *http.Request, transport string) Scope {
	headers := make([]Header, 0, len(r.Header)+1)
	if r.Host != "" {
		headers = append(headers, NewHeader("host", r.Host))
	}
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range r.Header[name] {
			headers = append(headers, NewHeader(strings.ToLower(name), v))
		}
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	var server Addr
	if local, ok := r.Context().Value(http.LocalAddrContextKey).(interface{ String() string }); ok {
		server = addrFromString(local.String())
	}

	return Scope{
		Type:        ScopeHTTP,
		Version:     ProtocolVersion,
		HTTPVersion: fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		Method:      r.Method,
		Scheme:      scheme,
		Path:        r.URL.Path,
		RawPath:     []byte(r.URL.EscapedPath()),
		QueryString: []byte(r.URL.RawQuery),
		Headers:     headers,
		Client:      addrFromString(r.RemoteAddr),
		Server:      server,
		Transport:   transport,
	}
}

// ToHTTPHandler serves an Application through net/http.
func ToHTTPHandler(app Application, transport string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := ScopeFromRequest(r, transport)
		rw := &messageResponseWriter{w: w}

		consumed := false
		receive := func(ctx context.Context) (Message, error) {
			if consumed {
				return Message{Type: TypeHTTPDisconnect}, nil
			}
			consumed = true
			body, err := io.ReadAll(r.Body)
			if err != nil {
				return Message{}, fmt.Errorf("read request body: %w", err)
			}
			return Message{Type: TypeHTTPRequest, Body: body}, nil
		}

		err := func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("application panic: %v", rec)
				}
			}()
			return app.Handle(r.Context(), scope, receive, rw.send)
		}()
		if err != nil {
			slog.ErrorContext(r.Context(), "application error",
				"transport", transport,
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
			if !rw.started {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}
		if !rw.started {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}

// messageResponseWriter turns SendFunc messages into net/http writes.
type messageResponseWriter struct {
	w        http.ResponseWriter
	started  bool
	complete bool
}

func (m *messageResponseWriter) send(_ context.Context, msg Message) error {
	switch msg.Type {
	case TypeResponseStart:
		if m.started {
			return ErrResponseStarted
		}
		m.started = true
		for _, h := range msg.Headers {
			m.w.Header().Add(h.Name(), h.Value())
		}
		m.w.WriteHeader(msg.Status)
		return nil
	case TypeResponseBody:
		if !m.started {
			return ErrResponseNotStarted
		}
		if m.complete {
			return ErrResponseComplete
		}
		if len(msg.Body) > 0 {
			if _, err := m.w.Write(msg.Body); err != nil {
				return err
			}
		}
		if msg.MoreBody {
			if f, ok := m.w.(http.Flusher); ok {
				f.Flush()
			}
		} else {
			m.complete = true
		}
		return nil
	default:
		return fmt.Errorf("protocol: unexpected message type %q", msg.Type)
	}
}

// FromHTTPHandler adapts a net/http handler into an Application. Writes are
// buffered and sent as a single body message unless the handler flushes.
func FromHTTPHandler(h http.Handler) Application {
	return ApplicationFunc(func(ctx context.Context, scope Scope, receive ReceiveFunc, send SendFunc) error {
		if scope.Type != ScopeHTTP {
			return fmt.Errorf("protocol: unsupported scope type %q", scope.Type)
		}

		var body bytes.Buffer
		for {
			msg, err := receive(ctx)
			if err != nil {
				return err
			}
			if msg.Type == TypeHTTPDisconnect {
				break
			}
			body.Write(msg.Body)
			if !msg.MoreBody {
				break
			}
		}

		req, err := requestFromScope(ctx, scope, body.Bytes())
		if err != nil {
			return err
		}

		w := &bufferedResponseWriter{ctx: ctx, header: make(http.Header), send: send}
		h.ServeHTTP(w, req)
		return w.finish()
	})
}

func requestFromScope(ctx context.Context, scope Scope, body []byte) (*http.Request, error) {
	target := string(scope.RawPath)
	if target == "" {
		target = scope.Path
	}
	if len(scope.QueryString) > 0 {
		target += "?" + string(scope.QueryString)
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, fmt.Errorf("protocol: invalid request target %q: %w", target, err)
	}

	req, err := http.NewRequestWithContext(ctx, scope.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.RequestURI = target
	req.URL = u
	req.Proto = "HTTP/1.1"
	req.ProtoMajor, req.ProtoMinor = 1, 1
	req.RemoteAddr = scope.Client.String()
	req.ContentLength = int64(len(body))
	req.Host = scope.Server.String()
	for _, h := range scope.Headers {
		if h.Name() == "host" {
			req.Host = h.Value()
			continue
		}
		req.Header.Add(h.Name(), h.Value())
	}
	return req, nil
}

// bufferedResponseWriter collects a net/http response into protocol messages.
type bufferedResponseWriter struct {
	ctx     context.Context
	header  http.Header
	status  int
	buf     bytes.Buffer
	started bool
	send    SendFunc
	err     error
}

func (b *bufferedResponseWriter) Header() http.Header { return b.header }

func (b *bufferedResponseWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponseWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.buf.Write(p)
}

// Flush sends what has been written so far as a non-final body message.
func (b *bufferedResponseWriter) Flush() {
	if b.err != nil {
		return
	}
	if err := b.start(); err != nil {
		b.err = err
		return
	}
	if b.buf.Len() == 0 {
		return
	}
	chunk := bytes.Clone(b.buf.Bytes())
	b.buf.Reset()
	b.err = b.send(b.ctx, ResponseBody(chunk, true))
}

func (b *bufferedResponseWriter) start() error {
	if b.started {
		return nil
	}
	b.started = true
	if b.status == 0 {
		b.status = http.StatusOK
	}
	names := make([]string, 0, len(b.header))
	for name := range b.header {
		names = append(names, name)
	}
	sort.Strings(names)
	headers := make([]Header, 0, len(names))
	for _, name := range names {
		for _, v := range b.header[name] {
			headers = append(headers, NewHeader(name, v))
		}
	}
	return b.send(b.ctx, ResponseStart(b.status, headers))
}

func (b *bufferedResponseWriter) finish() error {
	if b.err != nil {
		return b.err
	}
	if err := b.start(); err != nil {
		return err
	}
	return b.send(b.ctx, ResponseBody(bytes.Clone(b.buf.Bytes()), false))
}

func addrFromString(s string) Addr {
	host, port, err := netSplit(s)
	if err != nil {
		return Addr{Host: s}
	}
	return Addr{Host: host, Port: port}
}
