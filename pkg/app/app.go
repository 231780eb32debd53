package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"locallab-hq/locallab/pkg/journal"
	"locallab-hq/locallab/pkg/model"
	"locallab-hq/locallab/pkg/protocol"
	"locallab-hq/locallab/pkg/state"
	"locallab-hq/locallab/pkg/telemetry/health"
	"locallab-hq/locallab/pkg/telemetry/metrics"
)

// Options configures an App.
type Options struct {
	Manager *model.Manager
	Runtime *state.Runtime

	// Journal records requests; nil disables journaling.
	Journal *journal.Journal

	Metrics *metrics.Collector
	Logger  *slog.Logger

	// IdleCheckSchedule is the cron schedule of the model idle check.
	IdleCheckSchedule string

	Version   string
	Commit    string
	BuildTime string
}

// App is the inference application.
type App struct {
	manager  *model.Manager
	runtime  *state.Runtime
	journal  *journal.Journal
	metrics  *metrics.Collector
	checker  *health.Checker
	logger   *slog.Logger
	started  time.Time
	schedule string

	handler     http.Handler
	application protocol.Application

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New creates an App.
func New(opts Options) *App {
	if opts.Runtime == nil {
		opts.Runtime = state.New()
	}
	if opts.Manager == nil {
		opts.Manager = model.NewManager(model.Options{Runtime: opts.Runtime})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &App{
		manager:  opts.Manager,
		runtime:  opts.Runtime,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		checker:  health.New(2 * time.Second),
		logger:   opts.Logger.With("component", "app"),
		started:  time.Now(),
		schedule: opts.IdleCheckSchedule,
	}

	a.checker.SetLiveness(a.runtime.HealthStatus)
	a.checker.RegisterCheck("model", func(ctx context.Context) error {
		if a.runtime.ModelLoading() {
			return errors.New("model loading")
		}
		if a.manager.Current() == "" {
			return errors.New("no model loaded")
		}
		return nil
	})

	mux := a.routes(opts.Version, opts.Commit, opts.BuildTime)
	a.handler = requestID(a.recovery(a.instrument(mux)))
	a.application = protocol.FromHTTPHandler(a.handler)
	return a
}

// Handle implements protocol.Application.
func (a *App) Handle(ctx context.Context, scope protocol.Scope, receive protocol.ReceiveFunc, send protocol.SendFunc) error {
	return a.application.Handle(ctx, scope, receive, send)
}

// ServeHTTP serves the application directly through net/http.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// Startup starts loading the default model in the background and schedules
// the idle check. It does not wait for the model.
func (a *App) Startup(ctx context.Context) error {
	a.bgMu.Lock()
	defer a.bgMu.Unlock()

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.bgCancel = cancel
	a.logger.Info("starting application")

	if id := a.manager.DefaultModel(); id != "" {
		a.bgWG.Add(1)
		go func() {
			defer a.bgWG.Done()
			a.loadInBackground(bgCtx, id)
		}()
	}

	if err := a.manager.StartIdleCheck(bgCtx, a.schedule); err != nil {
		a.logger.Warn("idle check not scheduled", "error", err)
	}
	return nil
}

func (a *App) loadInBackground(ctx context.Context, id string) {
	a.logger.Info("loading model in background", "model", id)
	start := time.Now()
	if err := a.manager.Load(ctx, id); err != nil {
		a.logger.Error("failed to load model", "model", id, "error", err)
		return
	}
	a.logger.Info("model loaded", "model", a.manager.Current(), "duration", time.Since(start).Round(time.Millisecond))
}

// Shutdown cancels background work, waits for it within ctx and unloads
// the model.
func (a *App) Shutdown(ctx context.Context) error {
	a.bgMu.Lock()
	cancel := a.bgCancel
	a.bgMu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.bgWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		a.logger.Warn("background work did not stop in time", "error", err)
	}

	a.manager.StopIdleCheck()
	if id, ok := a.manager.Unload(); ok {
		a.logger.Info("model unloaded", "model", id)
	}
	a.logger.Info("application shutdown complete")
	return err
}
