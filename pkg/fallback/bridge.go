package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"locallab-hq/locallab/pkg/protocol"
)

// TransportName is the scope transport label of this package.
const TransportName = "fallback"

// internalErrorBody is the body of every synthetic 500.
const internalErrorBody = "Internal Server Error: The server encountered an error processing your request."

// InternalError returns the start and body messages of the synthetic 500.
func InternalError() []protocol.Message {
	return []protocol.Message{
		protocol.ResponseStart(http.StatusInternalServerError, []protocol.Header{
			protocol.NewHeader("Content-Type", "text/plain"),
		}),
		protocol.ResponseBody([]byte(internalErrorBody), false),
	}
}

// Bridge runs an application against parsed requests.
type Bridge struct {
	app    protocol.Application
	logger *slog.Logger
}

// NewBridge creates a Bridge. A nil logger uses slog.Default.
func NewBridge(app protocol.Application, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{app: app, logger: logger}
}

// Scope builds the http scope for req.
func (b *Bridge) Scope(req *Request, local, remote protocol.Addr) protocol.Scope {
	headers := make([]protocol.Header, len(req.Headers))
	copy(headers, req.Headers)

	rawPath, _, _ := strings.Cut(req.Target, "?")

	return protocol.Scope{
		Type:        protocol.ScopeHTTP,
		Version:     protocol.ProtocolVersion,
		HTTPVersion: "1.1",
		Method:      req.Method,
		Scheme:      "http",
		Path:        req.Path,
		RawPath:     []byte(rawPath),
		QueryString: []byte(req.RawQuery),
		Headers:     headers,
		Client:      remote,
		Server:      local,
		Transport:   TransportName,
	}
}

// Dispatch invokes the application once for req and returns the response
// messages it produced. An application error, a panic or an incomplete
// response is logged and replaced by InternalError; partial output is
// discarded.
func (b *Bridge) Dispatch(ctx context.Context, req *Request, local, remote protocol.Addr) []protocol.Message {
	scope := b.Scope(req, local, remote)

	delivered := false
	receive := func(ctx context.Context) (protocol.Message, error) {
		if delivered {
			return protocol.Message{Type: protocol.TypeHTTPDisconnect}, nil
		}
		delivered = true
		return protocol.Message{Type: protocol.TypeHTTPRequest, Body: req.Body}, nil
	}

	out := &messageSequence{}

	if err := b.invoke(ctx, scope, receive, out.send); err != nil {
		b.logger.ErrorContext(ctx, "application failed on fallback transport",
			"method", req.Method,
			"path", req.Path,
			"error", err,
		)
		return InternalError()
	}

	if !out.started {
		b.logger.ErrorContext(ctx, "application returned without starting a response",
			"method", req.Method,
			"path", req.Path,
		)
		return InternalError()
	}
	if !out.complete {
		out.messages = append(out.messages, protocol.ResponseBody(nil, false))
	}

	return out.messages
}

func (b *Bridge) invoke(ctx context.Context, scope protocol.Scope, receive protocol.ReceiveFunc, send protocol.SendFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("application panic: %v", rec)
		}
	}()
	return b.app.Handle(ctx, scope, receive, send)
}

// messageSequence records sent messages and enforces start-then-body order.
type messageSequence struct {
	messages []protocol.Message
	started  bool
	complete bool
}

func (s *messageSequence) send(_ context.Context, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeResponseStart:
		if s.started {
			return protocol.ErrResponseStarted
		}
		s.started = true
	case protocol.TypeResponseBody:
		if !s.started {
			return protocol.ErrResponseNotStarted
		}
		if s.complete {
			return protocol.ErrResponseComplete
		}
		s.complete = !msg.MoreBody
	default:
		return fmt.Errorf("fallback: unexpected message type %q", msg.Type)
	}
	s.messages = append(s.messages, msg)
	return nil
}
