package lifespan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrShapeMismatch is returned by a strategy builder when the application
// does not present that strategy's calling convention.
var ErrShapeMismatch = errors.New("lifespan: application does not match strategy")

// Handle drives an application's lifecycle.
type Handle interface {
	Startup(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// NoopName is the strategy name reported for the Noop handle.
const NoopName = "noop"

// Noop is the fallback Handle used when no strategy matched or when a real
// handle failed to start.
type Noop struct {
	logger *slog.Logger

	mu       sync.Mutex
	warnings []string
}

// NewNoop creates a Noop handle.
func NewNoop(logger *slog.Logger) *Noop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Noop{logger: logger}
}

// Startup records and logs a degraded-capability warning.
func (n *Noop) Startup(ctx context.Context) error {
	const msg = "using no-op lifespan: application startup and shutdown hooks will not run"
	n.logger.WarnContext(ctx, msg)

	n.mu.Lock()
	n.warnings = append(n.warnings, msg)
	n.mu.Unlock()
	return nil
}

// Shutdown does nothing.
func (n *Noop) Shutdown(ctx context.Context) error {
	return nil
}

// Warnings returns the warnings recorded so far.
func (n *Noop) Warnings() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.warnings...)
}

type startStopHandle struct {
	app interface {
		Start(ctx context.Context) error
		Stop(ctx context.Context) error
	}
}

func (h startStopHandle) Startup(ctx context.Context) error  { return h.app.Start(ctx) }
func (h startStopHandle) Shutdown(ctx context.Context) error { return h.app.Stop(ctx) }

type plainHooksHandle struct {
	app interface {
		OnStartup() error
		OnShutdown() error
	}
}

func (h plainHooksHandle) Startup(context.Context) error  { return h.app.OnStartup() }
func (h plainHooksHandle) Shutdown(context.Context) error { return h.app.OnShutdown() }

type closerHandle struct {
	c io.Closer
}

func (closerHandle) Startup(context.Context) error    { return nil }
func (h closerHandle) Shutdown(context.Context) error { return h.c.Close() }

// onceHandle lets Startup and Shutdown reach the wrapped handle at most once
// each. Repeated calls return the first result.
type onceHandle struct {
	inner Handle

	startupOnce  sync.Once
	startupErr   error
	shutdownOnce sync.Once
	shutdownErr  error
}

func guard(h Handle) Handle {
	if _, ok := h.(*onceHandle); ok {
		return h
	}
	return &onceHandle{inner: h}
}

func (h *onceHandle) Startup(ctx context.Context) error {
	h.startupOnce.Do(func() {
		h.startupErr = h.inner.Startup(ctx)
	})
	return h.startupErr
}

func (h *onceHandle) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.shutdownErr = h.inner.Shutdown(ctx)
	})
	return h.shutdownErr
}

// Unwrap returns the handle behind the at-most-once guard added by the
// Negotiator, or h itself.
func Unwrap(h Handle) Handle {
	if g, ok := h.(*onceHandle); ok {
		return g.inner
	}
	return h
}

// PhaseError reports a lifespan phase the application declared failed.
type PhaseError struct {
	Phase   string
	Message string
}

func (e *PhaseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("lifespan %s failed", e.Phase)
	}
	return fmt.Sprintf("lifespan %s failed: %s", e.Phase, e.Message)
}
