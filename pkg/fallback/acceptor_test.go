package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"locallab-hq/locallab/pkg/protocol"
)

func startAcceptor(t *testing.T, app protocol.Application) *Acceptor {
	t.Helper()

	acc := New(app, Options{Addr: "127.0.0.1:0", Logger: discardLogger, ReadTimeout: 5 * time.Second})
	if err := acc.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := acc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return acc
}

func stopAcceptor(t *testing.T, acc *Acceptor) {
	t.Helper()

	acc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := acc.WaitClosed(ctx); err != nil {
		t.Fatalf("WaitClosed: %v", err)
	}
}

func roundTrip(t *testing.T, addr net.Addr, raw string) string {
	t.Helper()

	resp, err := exchange(addr, raw)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	return resp
}

// exchange writes raw to a fresh connection and reads until the server
// closes it.
func exchange(addr net.Addr, raw string) (string, error) {
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, raw); err != nil {
		return "", err
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := io.ReadAll(conn)
	return string(resp), err
}

func TestAcceptor_EchoRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	acc := startAcceptor(t, echoApp)
	if acc.State() != StateAccepting {
		t.Errorf("expected state accepting, got %s", acc.State())
	}

	resp := roundTrip(t, acc.Addr(), "POST /echo HTTP/1.1\r\nHost: test\r\nContent-Length: 5\r\n\r\nhello")

	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("unexpected status line in %q", resp)
	}
	if !strings.Contains(resp, "X-Path: /echo\r\n") {
		t.Errorf("expected X-Path header in %q", resp)
	}
	if !strings.Contains(resp, "Connection: close\r\n") {
		t.Errorf("expected Connection: close in %q", resp)
	}
	if !strings.HasSuffix(resp, "\r\n\r\nhello") {
		t.Errorf("expected echoed body in %q", resp)
	}

	stopAcceptor(t, acc)
	if acc.State() != StateClosed {
		t.Errorf("expected state closed, got %s", acc.State())
	}
}

func TestAcceptor_AppFailureYields500(t *testing.T) {
	defer goleak.VerifyNone(t)

	acc := startAcceptor(t, protocol.ApplicationFunc(func(context.Context, protocol.Scope, protocol.ReceiveFunc, protocol.SendFunc) error {
		panic("handler exploded")
	}))
	defer stopAcceptor(t, acc)

	resp := roundTrip(t, acc.Addr(), "GET / HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 500 Internal Server Error\r\n") {
		t.Errorf("unexpected response %q", resp)
	}
	if !strings.HasSuffix(resp, internalErrorBody) {
		t.Errorf("expected generic error body in %q", resp)
	}

	// The accept loop survives the failure.
	resp = roundTrip(t, acc.Addr(), "GARBAGE\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 500 ") {
		t.Errorf("expected 500 for malformed request, got %q", resp)
	}
}

func TestAcceptor_EmptyConnectionDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	acc := startAcceptor(t, protocol.ApplicationFunc(func(context.Context, protocol.Scope, protocol.ReceiveFunc, protocol.SendFunc) error {
		calls.Add(1)
		return nil
	}))

	conn, err := net.Dial("tcp", acc.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.(*net.TCPConn).CloseWrite()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, _ := io.ReadAll(conn)
	conn.Close()

	if len(resp) != 0 {
		t.Errorf("expected no response, got %q", resp)
	}

	stopAcceptor(t, acc)
	if calls.Load() != 0 {
		t.Errorf("expected application not called, got %d calls", calls.Load())
	}
}

func TestAcceptor_OneHandlerPerConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	app := protocol.ApplicationFunc(func(ctx context.Context, scope protocol.Scope, receive protocol.ReceiveFunc, send protocol.SendFunc) error {
		calls.Add(1)
		send(ctx, protocol.ResponseStart(200, nil))
		return send(ctx, protocol.ResponseBody([]byte(scope.Path), false))
	})
	acc := startAcceptor(t, app)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/req/%d", i)
			resp, err := exchange(acc.Addr(), "GET "+path+" HTTP/1.1\r\n\r\n")
			if err != nil {
				errs <- err
				return
			}
			if !strings.HasSuffix(resp, path) {
				errs <- fmt.Errorf("connection %d got %q", i, resp)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	stopAcceptor(t, acc)
	if calls.Load() != n {
		t.Errorf("expected %d application calls, got %d", n, calls.Load())
	}
}

func TestAcceptor_BindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acc := New(echoApp, Options{Addr: ln.Addr().String(), Logger: discardLogger})
	err = acc.Listen(context.Background())

	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("expected *BindError, got %v", err)
	}
	if bindErr.Addr != ln.Addr().String() {
		t.Errorf("expected addr %s, got %s", ln.Addr(), bindErr.Addr)
	}
	if acc.State() != StateCreated {
		t.Errorf("expected state created, got %s", acc.State())
	}
}

func TestAcceptor_CloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	acc := startAcceptor(t, echoApp)
	addr := acc.Addr()

	stopAcceptor(t, acc)
	stopAcceptor(t, acc)

	if _, err := net.DialTimeout("tcp", addr.String(), time.Second); err == nil {
		t.Error("expected dial to fail after close")
	}
}

func TestAcceptor_CloseBeforeStart(t *testing.T) {
	acc := New(echoApp, Options{Addr: "127.0.0.1:0", Logger: discardLogger})
	if err := acc.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	stopAcceptor(t, acc)
	if err := acc.Start(context.Background()); err == nil {
		t.Error("expected Start after Close to fail")
	}
}

func TestAcceptor_WaitClosedTimeout(t *testing.T) {
	release := make(chan struct{})
	app := protocol.ApplicationFunc(func(ctx context.Context, _ protocol.Scope, _ protocol.ReceiveFunc, send protocol.SendFunc) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	acc := startAcceptor(t, app)
	defer close(release)

	conn, err := net.Dial("tcp", acc.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	io.WriteString(conn, "GET /slow HTTP/1.1\r\n\r\n")

	// Give the handler time to enter the application.
	time.Sleep(100 * time.Millisecond)

	acc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := acc.WaitClosed(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
