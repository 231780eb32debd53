package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	validToken    = strings.Repeat("a", 40)
)

type fakeAgent struct {
	clears atomic.Int32
	opens  atomic.Int32

	// urls is consumed one per OpenTunnel call; the last one repeats.
	urls []string
	err  error
}

func (f *fakeAgent) ClearTunnels(ctx context.Context) error {
	f.clears.Add(1)
	return nil
}

func (f *fakeAgent) OpenTunnel(ctx context.Context, port int) (string, error) {
	n := int(f.opens.Add(1)) - 1
	if f.err != nil {
		return "", f.err
	}
	if n >= len(f.urls) {
		n = len(f.urls) - 1
	}
	return f.urls[n], nil
}

func newProvisioner(agent Agent, token string) *Provisioner {
	return NewProvisioner(agent, Options{
		Token:          token,
		InitialBackoff: time.Millisecond,
		Logger:         discardLogger,
	})
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "missing", token: "", wantErr: ErrTokenMissing},
		{name: "whitespace", token: "   ", wantErr: ErrTokenMissing},
		{name: "too short", token: "abc123", wantErr: ErrTokenTooShort},
		{name: "exactly minimum", token: strings.Repeat("x", 30)},
		{name: "long", token: validToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToken(tt.token, 30)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestProvision_RejectsTokenBeforeNetwork(t *testing.T) {
	agent := &fakeAgent{urls: []string{"https://never.example"}}

	_, err := newProvisioner(agent, "short").Provision(context.Background(), 8000)
	require.ErrorIs(t, err, ErrTokenTooShort)

	_, err = newProvisioner(agent, "").Provision(context.Background(), 8000)
	require.ErrorIs(t, err, ErrTokenMissing)

	assert.Equal(t, int32(0), agent.clears.Load())
	assert.Equal(t, int32(0), agent.opens.Load())
}

func TestProvision_Success(t *testing.T) {
	public := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"status":"healthy"}`)
	}))
	defer public.Close()

	agent := &fakeAgent{urls: []string{public.URL}}
	url, err := newProvisioner(agent, validToken).Provision(context.Background(), 8000)

	require.NoError(t, err)
	assert.Equal(t, public.URL, url)
	assert.Equal(t, int32(1), agent.clears.Load())
}

func TestProvision_RetriesThenSucceeds(t *testing.T) {
	public := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer public.Close()

	// First attempt yields a non-http URL, second a working one.
	agent := &fakeAgent{urls: []string{"tcp://0.tcp.ngrok.io:1234", public.URL}}
	url, err := newProvisioner(agent, validToken).Provision(context.Background(), 8000)

	require.NoError(t, err)
	assert.Equal(t, public.URL, url)
	assert.Equal(t, int32(2), agent.opens.Load())
	assert.Equal(t, int32(2), agent.clears.Load())
}

func TestProvision_ExhaustsRetries(t *testing.T) {
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer unhealthy.Close()

	agent := &fakeAgent{urls: []string{unhealthy.URL}}
	_, err := newProvisioner(agent, validToken).Provision(context.Background(), 8000)

	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 3, provErr.Attempts)
	assert.Contains(t, provErr.Error(), "502")
	assert.Equal(t, int32(3), agent.opens.Load())
}

func TestProvision_AgentError(t *testing.T) {
	agent := &fakeAgent{err: errors.New("authentication failed")}
	_, err := newProvisioner(agent, validToken).Provision(context.Background(), 8000)

	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, err.Error(), "authentication failed")
}

// fakeAgentAPI mimics the agent's /api/tunnels endpoints.
type fakeAgentAPI struct {
	mu      sync.Mutex
	tunnels map[string]apiTunnel
	deleted []string
}

func (f *fakeAgentAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/tunnels":
		list := apiTunnelList{}
		for _, t := range f.tunnels {
			list.Tunnels = append(list.Tunnels, t)
		}
		json.NewEncoder(w).Encode(list)
	case r.Method == http.MethodPost && r.URL.Path == "/api/tunnels":
		var req apiStartTunnel
		json.NewDecoder(r.Body).Decode(&req)
		t := apiTunnel{Name: req.Name, Proto: "https", PublicURL: "https://tunnel.example/" + req.Addr}
		f.tunnels[req.Name] = t
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(t)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/tunnels/"):
		name := strings.TrimPrefix(r.URL.Path, "/api/tunnels/")
		delete(f.tunnels, name)
		f.deleted = append(f.deleted, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func TestAgentClient(t *testing.T) {
	api := &fakeAgentAPI{tunnels: map[string]apiTunnel{
		"stale": {Name: "stale", PublicURL: "https://old.example"},
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	client := NewAgentClient(AgentOptions{API: srv.URL, Path: "/nonexistent/ngrok", Logger: discardLogger})
	ctx := context.Background()

	require.NoError(t, client.ClearTunnels(ctx))
	assert.Equal(t, []string{"stale"}, api.deleted)

	url, err := client.OpenTunnel(ctx, 8001)
	require.NoError(t, err)
	assert.Equal(t, "https://tunnel.example/8001", url)
	require.NoError(t, client.Stop())
}

func TestAgentCommand_TokenInEnvironment(t *testing.T) {
	token := validToken
	client := NewAgentClient(AgentOptions{Path: "ngrok", Region: "eu", Token: token, Logger: discardLogger})

	cmd := client.agentCommand()
	assert.Equal(t, []string{"ngrok", "start", "--none", "--region", "eu"}, cmd.Args)
	for _, arg := range cmd.Args {
		assert.NotContains(t, arg, token)
	}
	assert.Contains(t, cmd.Env, AuthTokenEnv+"="+token)

	anonymous := NewAgentClient(AgentOptions{Path: "ngrok", Region: "eu", Logger: discardLogger}).agentCommand()
	assert.Equal(t, os.Environ(), anonymous.Env)
}

func TestAgentClient_StartFailure(t *testing.T) {
	client := NewAgentClient(AgentOptions{
		API:    "http://127.0.0.1:1",
		Path:   "/nonexistent/ngrok",
		Logger: discardLogger,
	})

	err := client.ClearTunnels(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start tunnel agent")
}
