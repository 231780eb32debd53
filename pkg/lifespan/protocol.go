package lifespan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"locallab-hq/locallab/pkg/protocol"
)

// ErrUnsupported is returned by a lifespan-protocol Startup when the
// application returned without acknowledging the startup message.
var ErrUnsupported = errors.New("lifespan: application returned without handling lifespan scope")

// protocolHandle runs the application's lifespan scope in its own goroutine
// and exchanges startup and shutdown messages with it.
type protocolHandle struct {
	app protocol.Application

	events  chan protocol.Message
	replies chan protocol.Message
	done    chan struct{}
	cancel  context.CancelFunc

	mu     sync.Mutex
	appErr error
}

func newProtocolHandle(app protocol.Application) *protocolHandle {
	return &protocolHandle{
		app:     app,
		events:  make(chan protocol.Message, 1),
		replies: make(chan protocol.Message, 1),
		done:    make(chan struct{}),
	}
}

func (h *protocolHandle) Startup(ctx context.Context) error {
	appCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel

	scope := protocol.Scope{Type: protocol.ScopeLifespan, Version: protocol.ProtocolVersion}
	go h.run(appCtx, scope)

	h.events <- protocol.Message{Type: protocol.TypeLifespanStartup}

	err := h.await(ctx, "startup", protocol.TypeLifespanStartupComplete, protocol.TypeLifespanStartupFailed)
	if err != nil {
		cancel()
	}
	return err
}

func (h *protocolHandle) Shutdown(ctx context.Context) error {
	if h.cancel == nil {
		return nil
	}
	defer h.cancel()

	select {
	case <-h.done:
		return h.err()
	case h.events <- protocol.Message{Type: protocol.TypeLifespanShutdown}:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := h.await(ctx, "shutdown", protocol.TypeLifespanShutdownComplete, protocol.TypeLifespanShutdownFailed)
	if errors.Is(err, ErrUnsupported) {
		return nil
	}
	return err
}

func (h *protocolHandle) run(ctx context.Context, scope protocol.Scope) {
	defer close(h.done)

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("lifespan handler panic: %v", rec)
			}
		}()
		return h.app.Handle(ctx, scope, h.receive, h.send)
	}()

	h.mu.Lock()
	h.appErr = err
	h.mu.Unlock()
}

func (h *protocolHandle) receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-h.events:
		return msg, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (h *protocolHandle) send(ctx context.Context, msg protocol.Message) error {
	select {
	case h.replies <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *protocolHandle) err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.appErr
}

func (h *protocolHandle) await(ctx context.Context, phase, complete, failed string) error {
	select {
	case msg := <-h.replies:
		switch msg.Type {
		case complete:
			return nil
		case failed:
			return &PhaseError{Phase: phase, Message: msg.Message}
		default:
			return fmt.Errorf("lifespan %s: unexpected message %q", phase, msg.Type)
		}
	case <-h.done:
		if err := h.err(); err != nil {
			return fmt.Errorf("lifespan %s: %w", phase, err)
		}
		return ErrUnsupported
	case <-ctx.Done():
		return ctx.Err()
	}
}
