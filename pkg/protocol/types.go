package protocol

import (
	"context"
	"net"
	"strconv"
	"strings"
)

// Scope types.
const (
	ScopeHTTP     = "http"
	ScopeLifespan = "lifespan"
)

// Message types exchanged through ReceiveFunc and SendFunc.
const (
	TypeHTTPRequest    = "http.request"
	TypeHTTPDisconnect = "http.disconnect"
	TypeResponseStart  = "http.response.start"
	TypeResponseBody   = "http.response.body"

	TypeLifespanStartup          = "lifespan.startup"
	TypeLifespanStartupComplete  = "lifespan.startup.complete"
	TypeLifespanStartupFailed    = "lifespan.startup.failed"
	TypeLifespanShutdown         = "lifespan.shutdown"
	TypeLifespanShutdownComplete = "lifespan.shutdown.complete"
	TypeLifespanShutdownFailed   = "lifespan.shutdown.failed"
)

// ProtocolVersion is the version of the message contract reported in every scope.
const ProtocolVersion = "3.0"

// Header is one name/value pair. Names in a Scope are lower-cased; order is
// preserved as received.
type Header [2][]byte

// Name returns the header name.
func (h Header) Name() string { return string(h[0]) }

// Value returns the header value.
func (h Header) Value() string { return string(h[1]) }

// NewHeader builds a Header from strings.
func NewHeader(name, value string) Header {
	return Header{[]byte(name), []byte(value)}
}

// Addr is a host/port pair.
type Addr struct {
	Host string
	Port int
}

// String returns host:port.
func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// AddrFrom converts a net.Addr into an Addr. Unknown address kinds yield the
// zero Addr.
func AddrFrom(addr net.Addr) Addr {
	if addr == nil {
		return Addr{}
	}
	return addrFromString(addr.String())
}

func netSplit(s string) (string, int, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", 0, err
	}
	return host, p, nil
}

// Scope describes one connection-level unit of work handed to an Application.
type Scope struct {
	// Type is ScopeHTTP or ScopeLifespan.
	Type string

	// Version is the contract version (ProtocolVersion).
	Version string

	// HTTPVersion is "1.1" for both transports.
	HTTPVersion string

	Method      string
	Scheme      string
	Path        string
	RawPath     []byte
	QueryString []byte

	// Headers holds ordered pairs with lower-cased names.
	Headers []Header

	Client Addr
	Server Addr

	// Transport names the engine that produced the scope ("primary" or "fallback").
	Transport string
}

// Header returns the first value for name (case-insensitive) and whether it
// was present.
func (s Scope) Header(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, h := range s.Headers {
		if strings.EqualFold(string(h[0]), name) {
			return string(h[1]), true
		}
	}
	return "", false
}

// Message is one frame exchanged between a transport and an application.
type Message struct {
	Type string

	// Status is set on http.response.start.
	Status int

	// Headers is set on http.response.start.
	Headers []Header

	// Body carries request or response bytes.
	Body []byte

	// MoreBody reports whether further body messages follow.
	MoreBody bool

	// Message carries the reason for lifespan.*.failed messages.
	Message string
}

// ResponseStart builds an http.response.start message.
func ResponseStart(status int, headers []Header) Message {
	return Message{Type: TypeResponseStart, Status: status, Headers: headers}
}

// ResponseBody builds an http.response.body message.
func ResponseBody(body []byte, more bool) Message {
	return Message{Type: TypeResponseBody, Body: body, MoreBody: more}
}

// ReceiveFunc yields the next inbound message.
type ReceiveFunc func(ctx context.Context) (Message, error)

// SendFunc delivers one outbound message.
type SendFunc func(ctx context.Context, msg Message) error

// Application handles one scope. Returning an error (or panicking) before a
// complete response was sent makes the transport answer with a 500.
type Application interface {
	Handle(ctx context.Context, scope Scope, receive ReceiveFunc, send SendFunc) error
}

// ApplicationFunc adapts a function to the Application interface.
type ApplicationFunc func(ctx context.Context, scope Scope, receive ReceiveFunc, send SendFunc) error

// Handle calls f.
func (f ApplicationFunc) Handle(ctx context.Context, scope Scope, receive ReceiveFunc, send SendFunc) error {
	return f(ctx, scope, receive, send)
}

// LifespanAware is implemented by applications that handle lifespan scopes.
type LifespanAware interface {
	Application
	SupportsLifespan() bool
}
