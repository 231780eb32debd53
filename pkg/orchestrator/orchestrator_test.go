package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/telemetry/metrics"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeChild struct {
	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	ignoreTerm bool
	srv        *http.Server

	mu      sync.Mutex
	signals []os.Signal
	killed  atomic.Bool

	exit     chan struct{}
	exitOnce sync.Once
}

func newFakeChild(ignoreTerm bool) *fakeChild {
	c := &fakeChild{ignoreTerm: ignoreTerm, exit: make(chan struct{})}
	c.stdoutR, c.stdoutW = io.Pipe()
	c.stderrR, c.stderrW = io.Pipe()
	return c
}

func (c *fakeChild) Pid() int          { return 4242 }
func (c *fakeChild) Stdout() io.Reader { return c.stdoutR }
func (c *fakeChild) Stderr() io.Reader { return c.stderrR }
func (c *fakeChild) Wait() error       { <-c.exit; return nil }

func (c *fakeChild) Signal(sig os.Signal) error {
	c.mu.Lock()
	c.signals = append(c.signals, sig)
	c.mu.Unlock()
	if !c.ignoreTerm {
		c.stop()
	}
	return nil
}

func (c *fakeChild) Kill() error {
	c.killed.Store(true)
	c.stop()
	return nil
}

func (c *fakeChild) stop() {
	c.exitOnce.Do(func() {
		if c.srv != nil {
			c.srv.Close()
		}
		c.stdoutW.Close()
		c.stderrW.Close()
		close(c.exit)
	})
}

func (c *fakeChild) receivedSignals() []os.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]os.Signal(nil), c.signals...)
}

type fakeLauncher struct {
	serve      bool
	ignoreTerm bool
	exitEarly  bool
	lines      []string

	mu    sync.Mutex
	spec  ChildSpec
	child *fakeChild
}

func (l *fakeLauncher) Launch(ctx context.Context, spec ChildSpec) (Child, error) {
	c := newFakeChild(l.ignoreTerm)

	if l.serve {
		ln, err := net.Listen("tcp", net.JoinHostPort(spec.Host, strconv.Itoa(spec.Port)))
		if err != nil {
			return nil, err
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"status":"healthy"}`)
		})
		c.srv = &http.Server{Handler: mux}
		go c.srv.Serve(ln)
	}

	go func() {
		for _, line := range l.lines {
			fmt.Fprintln(c.stdoutW, line)
		}
		if l.exitEarly {
			c.stop()
		}
	}()

	l.mu.Lock()
	l.spec = spec
	l.child = c
	l.mu.Unlock()
	return c, nil
}

func (l *fakeLauncher) launched() (ChildSpec, *fakeChild) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spec, l.child
}

type fakeProvisioner struct {
	url  string
	err  error
	port atomic.Int32
}

func (p *fakeProvisioner) Provision(ctx context.Context, port int) (string, error) {
	p.port.Store(int32(port))
	return p.url, p.err
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func testOptions(port int, launcher Launcher, out io.Writer) Options {
	return Options{
		Host:                 "127.0.0.1",
		Port:                 port,
		HealthTimeout:        5 * time.Second,
		HealthPollInterval:   20 * time.Millisecond,
		HealthRequestTimeout: time.Second,
		HealthWindow:         10,
		PortScanWindow:       100,
		LogPollTimeout:       10 * time.Millisecond,
		GracePeriod:          time.Second,
		Output:               out,
		Launcher:             launcher,
		Logger:               discardLogger,
	}
}

func TestFindFreePort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	got, err := FindFreePort("127.0.0.1", busy, 100)
	require.NoError(t, err)
	assert.Greater(t, got, busy)
	assert.Less(t, got, busy+100)

	_, err = FindFreePort("127.0.0.1", busy, 1)
	assert.ErrorIs(t, err, ErrNoFreePort)

	free := freePort(t)
	got, err = FindFreePort("127.0.0.1", free, 100)
	require.NoError(t, err)
	assert.Equal(t, free, got)
}

func TestRun_BusyPortMovesForward(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	launcher := &fakeLauncher{serve: true, lines: []string{"2026-01-01 10:00:00 - child booting", "plain line"}}
	out := &syncBuffer{}
	o := New(testOptions(busy, launcher, out))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, o.Ready, 5*time.Second, 10*time.Millisecond)

	spec, child := launcher.launched()
	assert.Greater(t, spec.Port, busy)
	assert.Equal(t, spec.Port, o.Port())
	assert.Equal(t, spec.Port, o.HealthPort())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, []os.Signal{syscall.SIGTERM}, child.receivedSignals())
	assert.False(t, child.killed.Load())
	assert.Contains(t, out.String(), "2026-01-01 10:00:00 - child booting\n")
	assert.Regexp(t, `\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} - plain line`, out.String())
	assert.Contains(t, out.String(), "LocalLab server is running")
}

func TestRun_HealthTimeoutTerminatesChild(t *testing.T) {
	launcher := &fakeLauncher{}
	out := &syncBuffer{}
	opts := testOptions(freePort(t), launcher, out)
	opts.HealthTimeout = 200 * time.Millisecond
	o := New(opts)

	err := o.Run(context.Background())

	var timeoutErr *StartupTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)
	assert.Error(t, timeoutErr.LastErr)

	_, child := launcher.launched()
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, child.receivedSignals())
	assert.False(t, o.Ready())
	assert.Contains(t, out.String(), "LocalLab server failed to start")
}

func TestRun_KillsAfterGracePeriod(t *testing.T) {
	launcher := &fakeLauncher{ignoreTerm: true}
	opts := testOptions(freePort(t), launcher, io.Discard)
	opts.HealthTimeout = 100 * time.Millisecond
	opts.GracePeriod = 50 * time.Millisecond
	o := New(opts)

	err := o.Run(context.Background())

	var timeoutErr *StartupTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	_, child := launcher.launched()
	assert.True(t, child.killed.Load())
}

func TestRun_ChildExitsDuringStartup(t *testing.T) {
	launcher := &fakeLauncher{exitEarly: true, lines: []string{"fatal: cannot load config"}}
	out := &syncBuffer{}
	o := New(testOptions(freePort(t), launcher, out))

	err := o.Run(context.Background())

	var exitedErr *ChildExitedError
	require.ErrorAs(t, err, &exitedErr)
	assert.Contains(t, out.String(), "fatal: cannot load config")
}

func TestRun_ProvisionsTunnel(t *testing.T) {
	launcher := &fakeLauncher{serve: true}
	prov := &fakeProvisioner{url: "https://abc123.ngrok.app"}
	opts := testOptions(freePort(t), launcher, io.Discard)
	opts.Tunnel = true
	opts.TunnelHealthTimeout = 5 * time.Second
	opts.Provisioner = prov
	o := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return o.PublicURL() != "" }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "https://abc123.ngrok.app", o.PublicURL())
	assert.Equal(t, int32(o.HealthPort()), prov.port.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestRun_PrintsStartupCounters(t *testing.T) {
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test"}, prometheus.NewRegistry())
	launcher := &fakeLauncher{serve: true}
	out := &syncBuffer{}
	opts := testOptions(freePort(t), launcher, out)
	opts.Tunnel = true
	opts.Provisioner = &fakeProvisioner{url: "https://abc123.ngrok.app"}
	opts.Metrics = collector
	o := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Health polls:")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, collector.HealthPolls()["ok"])
	assert.Contains(t, out.String(), "Health polls: 1 ok")
	assert.Contains(t, out.String(), "Tunnel attempts: 0 ok, 0 failed")
}

func TestRun_FailureReportsHealthPolls(t *testing.T) {
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test"}, prometheus.NewRegistry())
	out := &syncBuffer{}
	opts := testOptions(freePort(t), &fakeLauncher{}, out)
	opts.HealthTimeout = 200 * time.Millisecond
	opts.Metrics = collector
	o := New(opts)

	err := o.Run(context.Background())
	var timeoutErr *StartupTimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	polls := collector.HealthPolls()
	assert.Equal(t, 1, polls["timeout"])
	assert.Greater(t, polls["fail"], 0)
	assert.Contains(t, out.String(), "1 timed out")
}

func TestRun_TunnelFailureStopsChild(t *testing.T) {
	launcher := &fakeLauncher{serve: true}
	opts := testOptions(freePort(t), launcher, io.Discard)
	opts.Tunnel = true
	opts.Provisioner = &fakeProvisioner{err: errors.New("tunnel refused")}
	o := New(opts)

	err := o.Run(context.Background())
	require.EqualError(t, err, "tunnel refused")

	_, child := launcher.launched()
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, child.receivedSignals())
}

func TestStartupTimeout(t *testing.T) {
	o := New(Options{HealthTimeout: 120 * time.Second, TunnelHealthTimeout: 180 * time.Second})
	assert.Equal(t, 120*time.Second, o.StartupTimeout())

	o = New(Options{Tunnel: true, HealthTimeout: 120 * time.Second, TunnelHealthTimeout: 180 * time.Second})
	assert.Equal(t, 180*time.Second, o.StartupTimeout())
}
