package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"locallab-hq/locallab/pkg/protocol"
	"locallab-hq/locallab/pkg/telemetry/logging"
	"locallab-hq/locallab/pkg/telemetry/metrics"
)

// State is the lifecycle state of an Acceptor.
type State int32

const (
	StateCreated State = iota
	StateListening
	StateAccepting
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateListening:
		return "listening"
	case StateAccepting:
		return "accepting"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultMaxConnections bounds concurrently handled connections when
// Options.MaxConnections is zero.
const DefaultMaxConnections = 100

// acceptRetryDelay is the pause after a transient Accept error.
const acceptRetryDelay = 10 * time.Millisecond

// Options configures an Acceptor.
type Options struct {
	// Addr is the host:port to bind.
	Addr string

	// MaxConnections bounds concurrently handled connections.
	MaxConnections int64

	// ReadTimeout bounds reading one request. Zero means no deadline.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing one response. Zero means no deadline.
	WriteTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Acceptor serves an application on one listening socket using the
// fallback framer. Each accepted connection is handled by exactly one
// goroutine.
type Acceptor struct {
	opts   Options
	bridge *Bridge
	logger *slog.Logger
	sem    *semaphore.Weighted

	state atomic.Int32

	mu         sync.Mutex
	listener   net.Listener
	cancel     context.CancelFunc
	connCancel context.CancelFunc
	acceptDone chan struct{}
	closeOnce  sync.Once

	conns sync.WaitGroup
}

// New creates an Acceptor for app.
func New(app protocol.Application, opts Options) *Acceptor {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "fallback", "addr", opts.Addr)

	return &Acceptor{
		opts:   opts,
		bridge: NewBridge(app, logger),
		logger: logger,
		sem:    semaphore.NewWeighted(opts.MaxConnections),
	}
}

// State returns the current state.
func (a *Acceptor) State() State {
	return State(a.state.Load())
}

// Addr returns the bound address, or nil before Listen.
func (a *Acceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Listen binds the configured address with SO_REUSEADDR. It does not search
// for another port; an occupied address yields a *BindError.
func (a *Acceptor) Listen(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.State() != StateCreated {
		return fmt.Errorf("fallback: listen in state %s", a.State())
	}

	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", a.opts.Addr)
	if err != nil {
		return &BindError{Addr: a.opts.Addr, Err: err}
	}

	a.listener = ln
	a.state.Store(int32(StateListening))
	a.logger.Info("fallback listener bound", "local_addr", ln.Addr().String())
	return nil
}

// Start launches the accept loop and returns immediately. The loop runs
// until Close is called or ctx is cancelled.
func (a *Acceptor) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.State() != StateListening {
		return fmt.Errorf("fallback: start in state %s", a.State())
	}

	acceptCtx, cancel := context.WithCancel(ctx)
	connCtx, connCancel := context.WithCancel(context.WithoutCancel(ctx))
	connCtx = logging.WithTransport(connCtx, TransportName)

	a.cancel = cancel
	a.connCancel = connCancel
	a.acceptDone = make(chan struct{})
	a.state.Store(int32(StateAccepting))

	ln := a.listener
	go func() {
		<-acceptCtx.Done()
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			a.logger.Warn("error closing listener", "error", err)
		}
	}()

	go a.acceptLoop(acceptCtx, connCtx, ln, a.acceptDone)
	return nil
}

// Serve starts the accept loop and blocks until it exits.
func (a *Acceptor) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	done := a.acceptDone
	a.mu.Unlock()
	<-done
	return nil
}

func (a *Acceptor) acceptLoop(ctx, connCtx context.Context, ln net.Listener, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			a.logger.Warn("error accepting connection", "error", err)
			a.opts.Metrics.RecordConnection(TransportName, "accept_error")
			time.Sleep(acceptRetryDelay)
			continue
		}

		if err := a.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			return
		}

		a.conns.Add(1)
		go a.handleConnection(connCtx, conn)
	}
}

func (a *Acceptor) handleConnection(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()
	ctx = logging.WithConnectionID(ctx, connID)

	a.opts.Metrics.ConnectionOpened(TransportName)
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			a.logger.DebugContext(ctx, "error closing connection", "error", err)
		}
		a.opts.Metrics.ConnectionClosed(TransportName)
		a.sem.Release(1)
		a.conns.Done()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	outcome := a.serveConn(ctx, conn, connID)
	a.opts.Metrics.RecordConnection(TransportName, outcome)
}

// serveConn runs parse, dispatch and serialize for one connection and
// returns the outcome label.
func (a *Acceptor) serveConn(ctx context.Context, conn net.Conn, connID string) string {
	remote := conn.RemoteAddr().String()

	if a.opts.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(a.opts.ReadTimeout))
	}

	var messages []protocol.Message
	req, err := ReadRequest(conn)
	switch {
	case errors.Is(err, ErrNoRequest):
		return "no_request"
	case errors.Is(err, ErrMalformedRequest):
		a.logger.WarnContext(ctx, "malformed request", "remote", remote, "error", err)
		messages = InternalError()
	case err != nil:
		a.logError(ctx, &ConnectionError{ConnID: connID, Remote: remote, Op: "read", Err: err})
		return "error"
	default:
		messages = a.bridge.Dispatch(ctx, req, protocol.AddrFrom(conn.LocalAddr()), protocol.AddrFrom(conn.RemoteAddr()))
	}

	if a.opts.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(a.opts.WriteTimeout))
	}

	rw := NewResponseWriter(conn)
	for _, msg := range messages {
		if err := rw.WriteMessage(msg); err != nil {
			a.logError(ctx, &ConnectionError{ConnID: connID, Remote: remote, Op: "write", Err: err})
			return "error"
		}
	}

	if req == nil {
		return "malformed"
	}
	return "ok"
}

func (a *Acceptor) logError(ctx context.Context, err *ConnectionError) {
	a.logger.WarnContext(ctx, "connection error", "op", err.Op, "remote", err.Remote, "error", err.Err)
}

// Close stops accepting. In-flight connections keep running until they
// finish or WaitClosed gives up on them. Close is idempotent.
func (a *Acceptor) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		a.state.Store(int32(StateDraining))
		if a.cancel != nil {
			a.cancel()
			return
		}
		if a.listener != nil {
			a.listener.Close()
		}
	})
}

// WaitClosed waits until the accept goroutine has exited and every in-flight
// connection has finished. If ctx ends first the remaining connections are
// closed and ctx.Err() is returned.
func (a *Acceptor) WaitClosed(ctx context.Context) error {
	a.mu.Lock()
	done := a.acceptDone
	connCancel := a.connCancel
	a.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	drained := make(chan struct{})
	go func() {
		a.conns.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		if connCancel != nil {
			connCancel()
		}
		a.state.Store(int32(StateClosed))
		return ctx.Err()
	}

	if connCancel != nil {
		connCancel()
	}
	a.state.Store(int32(StateClosed))
	return nil
}
