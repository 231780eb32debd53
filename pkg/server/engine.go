package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"locallab-hq/locallab/pkg/fallback"
	"locallab-hq/locallab/pkg/protocol"
	"locallab-hq/locallab/pkg/telemetry/logging"
	"locallab-hq/locallab/pkg/telemetry/metrics"
)

// Engine modes accepted in Config.Engine.
const (
	EngineAuto     = "auto"
	EngineHTTP     = "http"
	EngineFallback = "fallback"
)

// PrimaryTransport is the transport label of the net/http engine.
const PrimaryTransport = "primary"

// Engine is a transport able to serve the application on a set of
// addresses. Listen binds without accepting; Serve starts accepting and
// returns immediately.
type Engine interface {
	Name() string
	Listen(ctx context.Context, addrs []string) error
	Serve(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Addrs() []net.Addr
}

// HTTPOptions configures the primary engine.
type HTTPOptions struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger

	// OnError is called when a running http.Server stops with an error.
	OnError func(error)
}

// HTTPEngine is the primary engine, serving the application through
// net/http.
type HTTPEngine struct {
	handler http.Handler
	opts    HTTPOptions
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []net.Listener
	servers   []*http.Server
}

// NewHTTPEngine creates the primary engine for app.
func NewHTTPEngine(app protocol.Application, opts HTTPOptions) *HTTPEngine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HTTPEngine{
		handler: protocol.ToHTTPHandler(app, PrimaryTransport),
		opts:    opts,
		logger:  opts.Logger.With("component", "http_engine"),
	}
}

// Name returns PrimaryTransport.
func (e *HTTPEngine) Name() string { return PrimaryTransport }

// Listen binds every address. On failure the already bound listeners are
// closed and a *BindError is returned.
func (e *HTTPEngine) Listen(ctx context.Context, addrs []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var lc net.ListenConfig
	for _, addr := range addrs {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			for _, l := range e.listeners {
				l.Close()
			}
			e.listeners = nil
			return newBindError(addr, err)
		}
		e.listeners = append(e.listeners, ln)
	}
	return nil
}

// Serve starts one http.Server per bound listener.
func (e *HTTPEngine) Serve(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.listeners) == 0 {
		return errors.New("http engine: no bound listeners")
	}

	base := logging.WithTransport(context.WithoutCancel(ctx), PrimaryTransport)
	for _, ln := range e.listeners {
		srv := &http.Server{
			Handler:      e.handler,
			ReadTimeout:  e.opts.ReadTimeout,
			WriteTimeout: e.opts.WriteTimeout,
			BaseContext:  func(net.Listener) context.Context { return base },
		}
		e.servers = append(e.servers, srv)

		go func(ln net.Listener) {
			e.logger.Info("serving", "address", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("http server stopped", "address", ln.Addr().String(), "error", err)
				if e.opts.OnError != nil {
					e.opts.OnError(err)
				}
			}
		}(ln)
	}
	return nil
}

// Shutdown gracefully stops every server, bounded by ctx.
func (e *HTTPEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if len(e.servers) == 0 {
		for _, ln := range e.listeners {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
	}
	for _, srv := range e.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.servers = nil
	e.listeners = nil
	return errors.Join(errs...)
}

// Addrs returns the bound addresses.
func (e *HTTPEngine) Addrs() []net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()

	addrs := make([]net.Addr, 0, len(e.listeners))
	for _, ln := range e.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// fallbackEngine serves through one fallback.Acceptor per address.
type fallbackEngine struct {
	app  protocol.Application
	opts fallback.Options

	acceptors []*fallback.Acceptor
}

func newFallbackEngine(app protocol.Application, maxConns int64, read, write time.Duration, logger *slog.Logger, m *metrics.Collector) *fallbackEngine {
	return &fallbackEngine{
		app: app,
		opts: fallback.Options{
			MaxConnections: maxConns,
			ReadTimeout:    read,
			WriteTimeout:   write,
			Logger:         logger,
			Metrics:        m,
		},
	}
}

func (e *fallbackEngine) Name() string { return fallback.TransportName }

func (e *fallbackEngine) Listen(ctx context.Context, addrs []string) error {
	for _, addr := range addrs {
		opts := e.opts
		opts.Addr = addr
		acc := fallback.New(e.app, opts)
		if err := acc.Listen(ctx); err != nil {
			for _, a := range e.acceptors {
				a.Close()
			}
			e.acceptors = nil
			return newBindError(addr, err)
		}
		e.acceptors = append(e.acceptors, acc)
	}
	return nil
}

func (e *fallbackEngine) Serve(ctx context.Context) error {
	for _, acc := range e.acceptors {
		if err := acc.Start(ctx); err != nil {
			return fmt.Errorf("start fallback acceptor: %w", err)
		}
	}
	return nil
}

// Shutdown closes every acceptor first, then waits for each to drain.
func (e *fallbackEngine) Shutdown(ctx context.Context) error {
	for _, acc := range e.acceptors {
		acc.Close()
	}
	var errs []error
	for _, acc := range e.acceptors {
		if err := acc.WaitClosed(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.acceptors = nil
	return errors.Join(errs...)
}

func (e *fallbackEngine) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(e.acceptors))
	for _, acc := range e.acceptors {
		if a := acc.Addr(); a != nil {
			addrs = append(addrs, a)
		}
	}
	return addrs
}
