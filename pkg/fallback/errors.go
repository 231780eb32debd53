package fallback

import (
	"errors"
	"fmt"
)

// ErrNoRequest is returned by ReadRequest when the peer closed the
// connection without sending anything. Callers drop the connection silently.
var ErrNoRequest = errors.New("fallback: connection closed before request")

// ErrMalformedRequest is returned by ReadRequest when the request line cannot
// be parsed.
var ErrMalformedRequest = errors.New("fallback: malformed request")

// BindError reports that an acceptor could not bind its address.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ConnectionError describes a failure while handling a single connection.
// It is logged and counted, never returned from the accept loop.
type ConnectionError struct {
	ConnID string
	Remote string
	Op     string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s from %s: %s: %v", e.ConnID, e.Remote, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
