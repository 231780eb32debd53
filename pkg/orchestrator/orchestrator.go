package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/logqueue"
	"locallab-hq/locallab/pkg/telemetry/metrics"
)

// Provisioner opens a public tunnel to a local port.
type Provisioner interface {
	Provision(ctx context.Context, port int) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	Host string
	Port int

	// Tunnel requests a public tunnel once the server is healthy.
	Tunnel bool

	Warmup               time.Duration
	HealthTimeout        time.Duration
	TunnelHealthTimeout  time.Duration
	HealthPollInterval   time.Duration
	HealthRequestTimeout time.Duration
	HealthWindow         int
	PortScanWindow       int
	LogQueueSize         int
	LogPollTimeout       time.Duration
	GracePeriod          time.Duration

	// ChildArgs and ChildEnv are passed to every spawned server.
	ChildArgs []string
	ChildEnv  []string

	// Output receives the child's log lines and the status banners.
	Output io.Writer

	Launcher    Launcher
	Provisioner Provisioner
	Logger      *slog.Logger
	Metrics     *metrics.Collector
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Host:                 cfg.ServerHost(),
		Port:                 cfg.Server.Port,
		Tunnel:               cfg.Tunnel.Enabled,
		Warmup:               cfg.Orchestrator.Warmup,
		HealthTimeout:        cfg.Orchestrator.HealthTimeout,
		TunnelHealthTimeout:  cfg.Orchestrator.TunnelHealthTimeout,
		HealthPollInterval:   cfg.Orchestrator.HealthPollInterval,
		HealthRequestTimeout: cfg.Orchestrator.HealthRequestTimeout,
		HealthWindow:         cfg.Orchestrator.HealthWindow,
		PortScanWindow:       cfg.Orchestrator.PortScanWindow,
		LogQueueSize:         cfg.Orchestrator.LogQueueSize,
		LogPollTimeout:       cfg.Orchestrator.LogPollTimeout,
		GracePeriod:          cfg.Server.ShutdownGrace,
	}
}

// Orchestrator runs one child server from spawn to exit.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
	client *http.Client

	mu         sync.RWMutex
	port       int
	healthPort int
	publicURL  string
	ready      bool
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Host == "" {
		opts.Host = config.DefaultServerHost
	}
	if opts.Port == 0 {
		opts.Port = config.DefaultServerPort
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = config.DefaultHealthTimeout
	}
	if opts.TunnelHealthTimeout <= 0 {
		opts.TunnelHealthTimeout = config.DefaultTunnelHealthTimeout
	}
	if opts.HealthPollInterval <= 0 {
		opts.HealthPollInterval = config.DefaultHealthPollInterval
	}
	if opts.HealthRequestTimeout <= 0 {
		opts.HealthRequestTimeout = config.DefaultHealthRequestTimeout
	}
	if opts.HealthWindow <= 0 {
		opts.HealthWindow = config.DefaultHealthWindow
	}
	if opts.PortScanWindow <= 0 {
		opts.PortScanWindow = config.DefaultPortScanWindow
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = config.DefaultServerShutdownGrace
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	opts.Output = &lockedWriter{w: opts.Output}
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Orchestrator{
		opts:   opts,
		logger: opts.Logger.With("component", "orchestrator"),
		client: &http.Client{
			Timeout:   opts.HealthRequestTimeout,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
}

// Port returns the port the child was asked to bind.
func (o *Orchestrator) Port() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.port
}

// HealthPort returns the port that answered the health poll.
func (o *Orchestrator) HealthPort() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.healthPort
}

// PublicURL returns the tunnel URL, or "".
func (o *Orchestrator) PublicURL() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.publicURL
}

// Ready reports whether the child passed the health poll.
func (o *Orchestrator) Ready() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ready
}

// StartupTimeout returns the overall health timeout in effect.
func (o *Orchestrator) StartupTimeout() time.Duration {
	if o.opts.Tunnel {
		return o.opts.TunnelHealthTimeout
	}
	return o.opts.HealthTimeout
}

// Run spawns the server and blocks until ctx ends (the child is then
// terminated) or the child exits. Fatal startup errors are printed as a
// diagnostic block to Output and returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	port, err := FindFreePort(o.opts.Host, o.opts.Port, o.opts.PortScanWindow)
	if err != nil {
		return o.fail(fmt.Errorf("port %d and the next %d ports are in use: %w", o.opts.Port, o.opts.PortScanWindow-1, err))
	}
	if port != o.opts.Port {
		o.logger.Info("requested port in use, using next free port", "requested", o.opts.Port, "port", port)
	}
	o.mu.Lock()
	o.port = port
	o.mu.Unlock()

	queue := logqueue.NewQueue(o.opts.LogQueueSize)
	listenDone := make(chan struct{})
	go func() {
		defer close(listenDone)
		if err := logqueue.Listen(context.WithoutCancel(ctx), queue, o.opts.Output, o.opts.LogPollTimeout); err != nil {
			o.logger.Error("log listener stopped", "error", err)
		}
	}()

	child, err := o.opts.Launcher.Launch(ctx, ChildSpec{
		Host: o.opts.Host,
		Port: port,
		Args: o.opts.ChildArgs,
		Env:  o.opts.ChildEnv,
	})
	if err != nil {
		queue.Close()
		<-listenDone
		return o.fail(err)
	}
	o.logger.Info("server process started", "pid", child.Pid(), "port", port)

	pumps := o.pump(child, queue)
	go func() {
		if err := pumps.Wait(); err != nil {
			o.logger.Warn("log pump stopped", "error", err)
		}
		queue.Close()
		if c, ok := child.(io.Closer); ok {
			c.Close()
		}
	}()

	exited := make(chan struct{})
	var exitErr error
	go func() {
		exitErr = child.Wait()
		close(exited)
	}()

	finish := func(err error) error {
		<-listenDone
		if err != nil {
			return o.fail(err)
		}
		return nil
	}

	healthPort, err := o.waitForHealthy(ctx, port, exited)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			o.terminate(child, exited)
			return finish(nil)
		}
		var exitedErr *ChildExitedError
		if errors.As(err, &exitedErr) {
			exitedErr.Err = exitErr
		} else {
			o.terminate(child, exited)
		}
		return finish(err)
	}

	o.mu.Lock()
	o.healthPort = healthPort
	o.ready = true
	o.mu.Unlock()
	o.logger.Info("server is healthy", "port", healthPort)

	if o.opts.Tunnel && o.opts.Provisioner != nil {
		url, err := o.opts.Provisioner.Provision(ctx, healthPort)
		if err != nil {
			o.terminate(child, exited)
			return finish(err)
		}
		o.mu.Lock()
		o.publicURL = url
		o.mu.Unlock()
	}

	o.printReady(healthPort)

	select {
	case <-ctx.Done():
		o.logger.Info("stopping server process", "pid", child.Pid())
		o.terminate(child, exited)
		return finish(nil)
	case <-exited:
		if exitErr != nil {
			return finish(fmt.Errorf("server process exited: %w", exitErr))
		}
		return finish(nil)
	}
}

func (o *Orchestrator) pump(child Child, queue *logqueue.Queue) *errgroup.Group {
	var g errgroup.Group
	sink := queue.Sink(context.Background())
	for _, r := range []io.Reader{child.Stdout(), child.Stderr()} {
		g.Go(func() error {
			return logqueue.Pump(r, logqueue.NewLineWriter(sink, logqueue.WithTimestamp()))
		})
	}
	return &g
}

// waitForHealthy sleeps the warm-up, then polls /health across the health
// window until a port answers 200. The timeout counts from the call.
func (o *Orchestrator) waitForHealthy(ctx context.Context, port int, exited <-chan struct{}) (int, error) {
	timeout := o.StartupTimeout()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	timeoutErr := func(last error) error {
		return &StartupTimeoutError{Timeout: timeout, Port: port, Window: o.opts.HealthWindow, LastErr: last}
	}

	if o.opts.Warmup > 0 {
		o.logger.Info("waiting for server warm-up", "warmup", o.opts.Warmup.String())
		select {
		case <-time.After(o.opts.Warmup):
		case <-exited:
			return 0, &ChildExitedError{}
		case <-deadline.C:
			return 0, timeoutErr(nil)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	var lastErr error
	for {
		for p := port; p < port+o.opts.HealthWindow; p++ {
			err := o.checkHealth(ctx, p)
			if err == nil {
				o.opts.Metrics.RecordHealthPoll("ok")
				return p, nil
			}
			lastErr = err
		}
		o.opts.Metrics.RecordHealthPoll("fail")
		o.logger.Debug("server not healthy yet", "error", lastErr)

		select {
		case <-time.After(o.opts.HealthPollInterval):
		case <-exited:
			return 0, &ChildExitedError{}
		case <-deadline.C:
			o.opts.Metrics.RecordHealthPoll("timeout")
			return 0, timeoutErr(lastErr)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (o *Orchestrator) checkHealth(ctx context.Context, port int) error {
	host := o.opts.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// terminate sends SIGTERM, waits the grace period, then kills.
func (o *Orchestrator) terminate(child Child, exited <-chan struct{}) {
	select {
	case <-exited:
		return
	default:
	}

	if err := child.Signal(syscall.SIGTERM); err != nil {
		o.logger.Warn("error sending SIGTERM to server process", "pid", child.Pid(), "error", err)
	}

	select {
	case <-exited:
		o.logger.Info("server process exited")
	case <-time.After(o.opts.GracePeriod):
		o.logger.Warn("server process did not exit within grace period, killing", "pid", child.Pid())
		if err := child.Kill(); err != nil {
			o.logger.Error("error killing server process", "pid", child.Pid(), "error", err)
		}
		<-exited
	}
}

func (o *Orchestrator) printReady(port int) {
	host := o.opts.Host
	if host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	fmt.Fprintf(o.opts.Output, "\nLocalLab server is running\n")
	fmt.Fprintf(o.opts.Output, "  Local URL:  http://%s\n", net.JoinHostPort(host, strconv.Itoa(port)))
	if url := o.PublicURL(); url != "" {
		fmt.Fprintf(o.opts.Output, "  Public URL: %s\n", url)
	}
	o.printCounters()
	fmt.Fprintln(o.opts.Output)
}

// printCounters reports the startup counters when a collector is set.
func (o *Orchestrator) printCounters() {
	if o.opts.Metrics == nil {
		return
	}
	polls := o.opts.Metrics.HealthPolls()
	fmt.Fprintf(o.opts.Output, "  Health polls: %d ok, %d failed, %d timed out\n", polls["ok"], polls["fail"], polls["timeout"])
	if o.opts.Tunnel {
		attempts := o.opts.Metrics.TunnelAttempts()
		fmt.Fprintf(o.opts.Output, "  Tunnel attempts: %d ok, %d failed\n", attempts["ok"], attempts["error"])
	}
}

// fail prints the diagnostic block for a fatal error and returns it.
func (o *Orchestrator) fail(err error) error {
	o.logger.Error("server startup failed", "error", err)

	fmt.Fprintf(o.opts.Output, "\nLocalLab server failed to start\n")
	fmt.Fprintf(o.opts.Output, "  Error: %v\n", err)

	var timeoutErr *StartupTimeoutError
	var exitedErr *ChildExitedError
	switch {
	case errors.As(err, &timeoutErr):
		fmt.Fprintf(o.opts.Output, "  The server did not answer /health within %s.\n", timeoutErr.Timeout)
		fmt.Fprintf(o.opts.Output, "  Check the log output above, or raise orchestrator.health_timeout.\n")
	case errors.As(err, &exitedErr):
		fmt.Fprintf(o.opts.Output, "  The server process exited early; see the log output above.\n")
	case errors.Is(err, ErrNoFreePort):
		fmt.Fprintf(o.opts.Output, "  Free a port or choose another with --port.\n")
	}
	o.printCounters()
	fmt.Fprintln(o.opts.Output)
	return err
}

// lockedWriter serializes writes from the log listener and the banners.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
