package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"locallab-hq/locallab/pkg/config"
)

// TunnelName is the name given to tunnels opened by LocalLab.
const TunnelName = "locallab"

// AuthTokenEnv is the variable the agent reads its auth token from.
const AuthTokenEnv = "NGROK_AUTHTOKEN"

// agentStartTimeout bounds waiting for a spawned agent's API.
const agentStartTimeout = 10 * time.Second

// AgentOptions configures an AgentClient.
type AgentOptions struct {
	// API is the agent's local API base URL.
	API string

	// Path is the agent executable, started when the API is unreachable.
	Path string

	Token  string
	Region string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// AgentOptionsFromConfig builds AgentOptions from the tunnel section.
func AgentOptionsFromConfig(cfg config.TunnelConfig) AgentOptions {
	return AgentOptions{
		API:    cfg.AgentAPI,
		Path:   cfg.AgentPath,
		Token:  cfg.AuthToken,
		Region: cfg.Region,
	}
}

// AgentClient talks to an ngrok agent's local JSON API.
type AgentClient struct {
	opts   AgentOptions
	client *http.Client
	logger *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewAgentClient creates an AgentClient.
func NewAgentClient(opts AgentOptions) *AgentClient {
	if opts.API == "" {
		opts.API = config.DefaultTunnelAgentAPI
	}
	if opts.Path == "" {
		opts.Path = config.DefaultTunnelAgentPath
	}
	if opts.Region == "" {
		opts.Region = config.DefaultTunnelRegion
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentClient{
		opts:   opts,
		client: client,
		logger: logger.With("component", "tunnel_agent"),
	}
}

type apiTunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
}

type apiTunnelList struct {
	Tunnels []apiTunnel `json:"tunnels"`
}

type apiStartTunnel struct {
	Name  string `json:"name"`
	Addr  string `json:"addr"`
	Proto string `json:"proto"`
}

// ClearTunnels deletes every open tunnel.
func (a *AgentClient) ClearTunnels(ctx context.Context) error {
	if err := a.ensureRunning(ctx); err != nil {
		return err
	}

	var list apiTunnelList
	if err := a.do(ctx, http.MethodGet, "/api/tunnels", nil, &list); err != nil {
		return err
	}
	for _, t := range list.Tunnels {
		if err := a.do(ctx, http.MethodDelete, "/api/tunnels/"+t.Name, nil, nil); err != nil {
			return fmt.Errorf("close tunnel %s: %w", t.Name, err)
		}
		a.logger.Info("closed existing tunnel", "name", t.Name, "public_url", t.PublicURL)
	}
	return nil
}

// OpenTunnel opens an http tunnel to port.
func (a *AgentClient) OpenTunnel(ctx context.Context, port int) (string, error) {
	if err := a.ensureRunning(ctx); err != nil {
		return "", err
	}

	var t apiTunnel
	body := apiStartTunnel{Name: TunnelName, Addr: strconv.Itoa(port), Proto: "http"}
	if err := a.do(ctx, http.MethodPost, "/api/tunnels", body, &t); err != nil {
		return "", err
	}
	if t.PublicURL == "" {
		return "", errors.New("agent returned a tunnel without public url")
	}
	return t.PublicURL, nil
}

// Stop terminates an agent started by this client.
func (a *AgentClient) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cmd == nil {
		return nil
	}
	err := a.cmd.Process.Kill()
	a.cmd.Wait()
	a.cmd = nil
	return err
}

func (a *AgentClient) ensureRunning(ctx context.Context) error {
	if a.ping(ctx) == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cmd == nil {
		cmd := a.agentCommand()
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start tunnel agent %s: %w", a.opts.Path, err)
		}
		a.cmd = cmd
		a.logger.Info("started tunnel agent", "path", a.opts.Path, "pid", cmd.Process.Pid, "region", a.opts.Region)
	}

	deadline := time.Now().Add(agentStartTimeout)
	for {
		err := a.ping(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("tunnel agent api %s not reachable: %w", a.opts.API, err)
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// agentCommand builds the agent invocation. The token goes in the
// environment, never on argv.
func (a *AgentClient) agentCommand() *exec.Cmd {
	cmd := exec.Command(a.opts.Path, "start", "--none", "--region", a.opts.Region)
	cmd.Env = os.Environ()
	if a.opts.Token != "" {
		cmd.Env = append(cmd.Env, AuthTokenEnv+"="+a.opts.Token)
	}
	return cmd
}

func (a *AgentClient) ping(ctx context.Context) error {
	return a.do(ctx, http.MethodGet, "/api/tunnels", nil, nil)
}

func (a *AgentClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.opts.API, "/")+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
