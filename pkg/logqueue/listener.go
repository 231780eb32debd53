package logqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultPollTimeout is how long Listen waits on an empty queue before
// checking ctx again.
const DefaultPollTimeout = 500 * time.Millisecond

// Pump copies r into w and flushes the trailing partial line when r ends.
func Pump(r io.Reader, w *LineWriter) error {
	_, err := io.Copy(w, r)
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Listen prints every queued line to out, verbatim, until the queue is
// closed and drained (returns nil) or ctx ends (returns ctx.Err()).
func Listen(ctx context.Context, q *Queue, out io.Writer, pollTimeout time.Duration) error {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}

	for {
		line, err := q.Get(ctx, pollTimeout)
		switch {
		case err == nil:
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrClosed):
			return nil
		default:
			return err
		}
	}
}
