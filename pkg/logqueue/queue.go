// Package logqueue funnels a child process's output to the parent through a
// bounded FIFO queue.
//
// The child writes through a LineWriter so only complete lines leave the
// process. The parent copies each pipe into a LineWriter whose sink is the
// Queue, and a single Listen goroutine drains the queue to the terminal.
package logqueue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultSize is the queue capacity used when NewQueue is given zero.
const DefaultSize = 1000

var (
	// ErrClosed is returned by Put after Close, and by Get once the queue
	// is closed and drained.
	ErrClosed = errors.New("logqueue: queue closed")

	// ErrTimeout is returned by Get when no line arrived in time.
	ErrTimeout = errors.New("logqueue: get timed out")
)

// Queue is a bounded FIFO of log lines with many writers and one reader.
type Queue struct {
	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a Queue holding up to size lines.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultSize
	}
	return &Queue{
		lines: make(chan string, size),
		done:  make(chan struct{}),
	}
}

// Put enqueues line, blocking while the queue is full.
func (q *Queue) Put(ctx context.Context, line string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.lines <- line:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the oldest line, waiting at most timeout. Lines enqueued
// before Close are still returned; after that Get reports ErrClosed.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case line := <-q.lines:
		return line, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-q.lines:
		return line, nil
	case <-q.done:
		select {
		case line := <-q.lines:
			return line, nil
		default:
			return "", ErrClosed
		}
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close marks the end of the stream. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Len returns the number of queued lines.
func (q *Queue) Len() int {
	return len(q.lines)
}

// Sink returns a Sink that enqueues lines, bounded by ctx.
func (q *Queue) Sink(ctx context.Context) Sink {
	return func(line string) error {
		return q.Put(ctx, line)
	}
}
