package server

import (
	"errors"
	"fmt"
	"net"

	"locallab-hq/locallab/pkg/fallback"
)

// BindError reports that no engine could bind a listen address. It is fatal.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("cannot bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// newBindError strips the wrappers that already name addr so the message
// carries the address once.
func newBindError(addr string, err error) *BindError {
	var fbErr *fallback.BindError
	if errors.As(err, &fbErr) {
		err = fbErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		err = opErr.Err
	}
	return &BindError{Addr: addr, Err: err}
}
