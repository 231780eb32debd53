package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/lifespan"
	"locallab-hq/locallab/pkg/protocol"
	"locallab-hq/locallab/pkg/state"
	"locallab-hq/locallab/pkg/telemetry/metrics"
)

// Config configures a Server.
type Config struct {
	// Addrs are the host:port pairs to serve on.
	Addrs []string

	// App handles every request.
	App protocol.Application

	// Lifecycle is the value whose lifespan is negotiated. Defaults to App.
	Lifecycle any

	// Engine is EngineAuto, EngineHTTP or EngineFallback.
	Engine string

	// Primary overrides the net/http engine.
	Primary Engine

	MaxConnections int64
	PollInterval   time.Duration
	GracePeriod    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// HandleSignals installs SIGINT/SIGTERM handlers during Start.
	HandleSignals bool

	// OnStarted runs once, after Start and before the supervisory loop.
	OnStarted func()

	// Exit is called by the watchdog. Defaults to os.Exit.
	Exit func(code int)

	Logger  *slog.Logger
	Metrics *metrics.Collector
	Runtime *state.Runtime
}

// ConfigFrom builds a Config from the server section.
func ConfigFrom(cfg *config.Config, app protocol.Application) Config {
	return Config{
		Addrs:          []string{net.JoinHostPort(cfg.ServerHost(), strconv.Itoa(cfg.Server.Port))},
		App:            app,
		Engine:         cfg.Server.Engine,
		MaxConnections: int64(cfg.Server.MaxConnections),
		PollInterval:   cfg.Server.PollInterval,
		GracePeriod:    cfg.Server.ShutdownGrace,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		HandleSignals:  true,
	}
}

// Server supervises one application.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	negotiator *lifespan.Negotiator
	watchdog   *Watchdog
	runtime    *state.Runtime

	shouldExit atomic.Bool
	started    sync.Once

	mu       sync.Mutex
	engine   Engine
	handle   lifespan.Handle
	strategy string

	signals     chan os.Signal
	signalsDone chan struct{}

	shutdownOnce sync.Once
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Engine == "" {
		cfg.Engine = EngineAuto
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultServerPollInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = config.DefaultServerShutdownGrace
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	if cfg.Lifecycle == nil {
		cfg.Lifecycle = cfg.App
	}
	if cfg.Runtime == nil {
		cfg.Runtime = state.New()
	}

	logger := cfg.Logger.With("component", "server")
	return &Server{
		cfg:        cfg,
		logger:     logger,
		negotiator: lifespan.NewNegotiator(cfg.Logger),
		watchdog:   NewWatchdog(cfg.GracePeriod, cfg.Exit, logger),
		runtime:    cfg.Runtime,
	}
}

// RequestExit sets the exit flag polled by Run.
func (s *Server) RequestExit() {
	s.shouldExit.Store(true)
}

// ShouldExit reports whether exit was requested.
func (s *Server) ShouldExit() bool {
	return s.shouldExit.Load()
}

// Transport returns the name of the engine serving requests, or "".
func (s *Server) Transport() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return ""
	}
	return s.engine.Name()
}

// LifespanStrategy returns the negotiated lifespan strategy name.
func (s *Server) LifespanStrategy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// Addrs returns the bound addresses.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return nil
	}
	return s.engine.Addrs()
}

// Start binds, runs the lifespan startup and begins serving. It returns a
// *BindError when no engine could bind.
func (s *Server) Start(ctx context.Context) error {
	if s.shouldExit.Load() {
		return nil
	}
	s.runtime.MarkStarting()

	if s.cfg.HandleSignals {
		s.installSignals()
	}

	handle, strategy := s.negotiator.Negotiate(s.cfg.Lifecycle)
	s.cfg.Metrics.SetLifespanStrategy(strategy)
	s.runtime.SetLifespan(strategy)

	engine, err := s.bind(ctx)
	if err != nil {
		s.runtime.MarkFailed(err)
		return err
	}

	if err := handle.Startup(ctx); err != nil {
		s.logger.Error("lifespan startup failed, continuing without lifespan", "strategy", strategy, "error", err)
		noop := lifespan.NewNoop(s.cfg.Logger)
		noop.Startup(ctx)
		handle, strategy = noop, lifespan.NoopName
		s.cfg.Metrics.SetLifespanStrategy(strategy)
		s.runtime.SetLifespan(strategy)
	}

	s.mu.Lock()
	s.engine = engine
	s.handle = handle
	s.strategy = strategy
	s.mu.Unlock()

	if err := engine.Serve(ctx); err != nil {
		return fmt.Errorf("start %s engine: %w", engine.Name(), err)
	}

	s.cfg.Metrics.SetTransport(engine.Name())
	s.runtime.SetTransport(engine.Name())
	s.logger.Info("server started", "transport", engine.Name(), "addrs", s.cfg.Addrs, "lifespan", strategy)
	return nil
}

// bind returns a bound engine, trying the primary engine before the
// fallback acceptors according to the configured mode.
func (s *Server) bind(ctx context.Context) (Engine, error) {
	if s.cfg.Engine != EngineFallback {
		primary := s.cfg.Primary
		if primary == nil {
			primary = NewHTTPEngine(s.cfg.App, HTTPOptions{
				ReadTimeout:  s.cfg.ReadTimeout,
				WriteTimeout: s.cfg.WriteTimeout,
				Logger:       s.cfg.Logger,
				OnError: func(err error) {
					s.logger.Error("primary engine failed while running, requesting exit", "error", err)
					s.RequestExit()
				},
			})
		}

		err := primary.Listen(ctx, s.cfg.Addrs)
		if err == nil {
			return primary, nil
		}
		if s.cfg.Engine == EngineHTTP {
			return nil, err
		}
		s.logger.Warn("primary engine failed to start, switching to fallback transport", "error", err)
		s.cfg.Metrics.RecordFallbackActivation(fallbackReason(err))
	}

	fb := newFallbackEngine(s.cfg.App, s.cfg.MaxConnections, s.cfg.ReadTimeout, s.cfg.WriteTimeout, s.cfg.Logger, s.cfg.Metrics)
	if err := fb.Listen(ctx, s.cfg.Addrs); err != nil {
		return nil, err
	}
	return fb, nil
}

func fallbackReason(err error) string {
	var bindErr *BindError
	if errors.As(err, &bindErr) {
		return "bind"
	}
	return "startup"
}

func (s *Server) installSignals() {
	s.signals = make(chan os.Signal, 1)
	s.signalsDone = make(chan struct{})
	signal.Notify(s.signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer close(s.signalsDone)
		for sig := range s.signals {
			s.logger.Info("received shutdown signal", "signal", sig.String())
			s.runtime.MarkShuttingDown()
			s.RequestExit()
			s.watchdog.Arm()
		}
	}()
}

func (s *Server) stopSignals() {
	if s.signals == nil {
		return
	}
	signal.Stop(s.signals)
	close(s.signals)
	<-s.signalsDone
	s.signals = nil
}

// Run fires the startup callback once, then polls the exit flag every
// PollInterval until it is set or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.started.Do(func() {
		s.runtime.MarkRunning()
		if s.cfg.OnStarted != nil {
			s.cfg.OnStarted()
		}
	})

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for !s.shouldExit.Load() {
		select {
		case <-ctx.Done():
			s.logger.Info("context cancelled, leaving main loop")
			return nil
		case <-ticker.C:
		}
	}
	s.logger.Debug("exit flag set, leaving main loop")
	return nil
}

// Shutdown closes the engine, waits for in-flight connections and runs the
// lifespan shutdown. Errors are logged and swallowed. Only the first call
// does anything.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.runtime.MarkShuttingDown()
		s.logger.Info("shutting down server", "grace_period", s.cfg.GracePeriod.String())

		graceCtx, cancel := context.WithTimeout(ctx, s.cfg.GracePeriod)
		defer cancel()

		s.mu.Lock()
		engine, handle := s.engine, s.handle
		s.engine, s.handle = nil, nil
		s.mu.Unlock()

		if engine != nil {
			if err := engine.Shutdown(graceCtx); err != nil {
				s.logger.Error("error closing transport", "transport", engine.Name(), "error", err)
			}
		}

		if handle != nil {
			if err := handle.Shutdown(graceCtx); err != nil {
				s.logger.Error("error during lifespan shutdown", "error", err)
			}
		}

		s.stopSignals()
		s.watchdog.Disarm()
		s.runtime.MarkStopped()
		s.logger.Info("server stopped")
	})
	return nil
}

// Serve runs Start, the startup callback, Run and Shutdown. A bind failure
// is returned as is.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		s.Shutdown(context.WithoutCancel(ctx))
		return err
	}
	if err := s.Run(ctx); err != nil {
		s.logger.Error("error in main loop", "error", err)
	}
	return s.Shutdown(context.WithoutCancel(ctx))
}
