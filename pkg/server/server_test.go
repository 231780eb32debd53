package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locallab-hq/locallab/pkg/fallback"
	"locallab-hq/locallab/pkg/lifespan"
	"locallab-hq/locallab/pkg/protocol"
	"locallab-hq/locallab/pkg/state"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type lifecycleApp struct {
	protocol.Application
	failStartup bool
	startups    atomic.Int32
	shutdowns   atomic.Int32
}

func (a *lifecycleApp) Startup(context.Context) error {
	a.startups.Add(1)
	if a.failStartup {
		return errors.New("model directory missing")
	}
	return nil
}

func (a *lifecycleApp) Shutdown(context.Context) error {
	a.shutdowns.Add(1)
	return nil
}

func newHealthApp() *lifecycleApp {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"healthy"}`)
	})
	return &lifecycleApp{Application: protocol.FromHTTPHandler(mux)}
}

// brokenEngine fails to start, forcing the fallback transport.
type brokenEngine struct{}

func (brokenEngine) Name() string                           { return "broken" }
func (brokenEngine) Listen(context.Context, []string) error { return errors.New("engine unavailable") }
func (brokenEngine) Serve(context.Context) error            { return nil }
func (brokenEngine) Shutdown(context.Context) error         { return nil }
func (brokenEngine) Addrs() []net.Addr                      { return nil }

func testConfig(app *lifecycleApp) Config {
	return Config{
		Addrs:        []string{"127.0.0.1:0"},
		App:          app,
		Lifecycle:    app,
		PollInterval: 5 * time.Millisecond,
		GracePeriod:  2 * time.Second,
		Logger:       discardLogger,
		Exit:         func(int) {},
	}
}

func getHealth(t *testing.T, addr net.Addr) (int, string) {
	t.Helper()

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	resp, err := client.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_PrimaryFailureFallsBack(t *testing.T) {
	app := newHealthApp()
	cfg := testConfig(app)
	cfg.Primary = brokenEngine{}
	srv := New(cfg)

	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown(context.Background())

	assert.Equal(t, fallback.TransportName, srv.Transport())
	require.Len(t, srv.Addrs(), 1)

	code, body := getHealth(t, srv.Addrs()[0])
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"healthy"}`, body)
	assert.Equal(t, int32(1), app.startups.Load())
}

func TestServer_PrimaryEngine(t *testing.T) {
	app := newHealthApp()
	srv := New(testConfig(app))

	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown(context.Background())

	assert.Equal(t, PrimaryTransport, srv.Transport())
	assert.Equal(t, "context-hooks", srv.LifespanStrategy())

	code, _ := getHealth(t, srv.Addrs()[0])
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_FallbackMode(t *testing.T) {
	app := newHealthApp()
	cfg := testConfig(app)
	cfg.Engine = EngineFallback
	srv := New(cfg)

	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown(context.Background())

	assert.Equal(t, fallback.TransportName, srv.Transport())
	code, _ := getHealth(t, srv.Addrs()[0])
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_LifespanStartupFailureUsesNoop(t *testing.T) {
	app := newHealthApp()
	app.failStartup = true
	srv := New(testConfig(app))

	require.NoError(t, srv.Start(context.Background()))
	assert.Equal(t, lifespan.NoopName, srv.LifespanStrategy())

	code, _ := getHealth(t, srv.Addrs()[0])
	assert.Equal(t, http.StatusOK, code)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, int32(0), app.shutdowns.Load(), "failed hook must not be shut down")
}

func TestServer_ShutdownIdempotent(t *testing.T) {
	app := newHealthApp()
	cfg := testConfig(app)
	cfg.Engine = EngineFallback
	srv := New(cfg)

	require.NoError(t, srv.Start(context.Background()))
	addr := srv.Addrs()[0]

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, srv.Shutdown(context.Background()))

	assert.Equal(t, int32(1), app.shutdowns.Load())
	assert.Empty(t, srv.Transport())

	_, err := net.DialTimeout("tcp", addr.String(), time.Second)
	assert.Error(t, err, "listener should be closed")
}

func TestServer_ServeExitsOnRequest(t *testing.T) {
	app := newHealthApp()
	rt := state.New()
	cfg := testConfig(app)
	cfg.Runtime = rt

	var startedCalls atomic.Int32
	cfg.OnStarted = func() { startedCalls.Add(1) }
	srv := New(cfg)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	require.Eventually(t, func() bool { return rt.Status() == state.StatusRunning }, 5*time.Second, 5*time.Millisecond)
	srv.RequestExit()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after exit was requested")
	}

	assert.Equal(t, int32(1), startedCalls.Load())
	assert.Equal(t, int32(1), app.shutdowns.Load())
	assert.Equal(t, state.StatusStopped, rt.Status())
}

func TestServer_BindFailureIsFatal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	app := newHealthApp()
	cfg := testConfig(app)
	cfg.Addrs = []string{ln.Addr().String()}
	srv := New(cfg)

	err = srv.Serve(context.Background())

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.ErrorIs(t, err, syscall.EADDRINUSE)
	assert.Equal(t, 1, strings.Count(err.Error(), ln.Addr().String()), "address should appear once in %q", err.Error())
	assert.Equal(t, int32(0), app.startups.Load(), "lifespan must not start when nothing is bound")
}

func TestServer_SignalTriggersGracefulShutdown(t *testing.T) {
	app := newHealthApp()
	rt := state.New()
	cfg := testConfig(app)
	cfg.Runtime = rt
	cfg.HandleSignals = true
	cfg.GracePeriod = 200 * time.Millisecond

	var exits atomic.Int32
	cfg.Exit = func(int) { exits.Add(1) }
	srv := New(cfg)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	require.Eventually(t, func() bool { return rt.Status() == state.StatusRunning }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after SIGTERM")
	}

	assert.Equal(t, int32(1), app.shutdowns.Load())
	assert.Equal(t, state.StatusStopped, rt.Status())

	// Outlive the grace period to show the watchdog was disarmed.
	time.Sleep(2 * cfg.GracePeriod)
	assert.Equal(t, int32(0), exits.Load(), "watchdog must not force an exit after a clean shutdown")
}

func TestServer_HTTPModeDoesNotFallBack(t *testing.T) {
	app := newHealthApp()
	cfg := testConfig(app)
	cfg.Engine = EngineHTTP
	cfg.Primary = brokenEngine{}
	srv := New(cfg)

	err := srv.Start(context.Background())
	require.Error(t, err)
	srv.Shutdown(context.Background())
}

func TestWatchdog(t *testing.T) {
	t.Run("fires after grace period", func(t *testing.T) {
		exited := make(chan int, 1)
		w := NewWatchdog(10*time.Millisecond, func(code int) { exited <- code }, discardLogger)

		w.Arm()
		assert.True(t, w.Armed())

		select {
		case code := <-exited:
			assert.Equal(t, 0, code)
		case <-time.After(5 * time.Second):
			t.Fatal("watchdog did not fire")
		}
	})

	t.Run("disarm prevents exit", func(t *testing.T) {
		var exits atomic.Int32
		w := NewWatchdog(20*time.Millisecond, func(int) { exits.Add(1) }, discardLogger)

		w.Arm()
		w.Disarm()
		w.Arm()
		time.Sleep(60 * time.Millisecond)

		assert.Equal(t, int32(0), exits.Load())
		assert.False(t, w.Armed())
	})
}
