package tunnel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/telemetry/logging"
	"locallab-hq/locallab/pkg/telemetry/metrics"
)

// DefaultSettleDelay is the pause between opening a tunnel and verifying it.
const DefaultSettleDelay = 2 * time.Second

// Agent manages tunnels on a tunnel agent.
type Agent interface {
	// ClearTunnels closes every tunnel the agent has open.
	ClearTunnels(ctx context.Context) error

	// OpenTunnel opens an HTTP tunnel to the local port and returns its
	// public URL.
	OpenTunnel(ctx context.Context, port int) (string, error)
}

// Options configures a Provisioner.
type Options struct {
	Token          string
	MinTokenLength int
	MaxRetries     int
	InitialBackoff time.Duration
	SettleDelay    time.Duration

	// HTTPClient verifies the public URL.
	HTTPClient *http.Client

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// OptionsFromConfig builds Options from the tunnel section.
func OptionsFromConfig(cfg config.TunnelConfig) Options {
	return Options{
		Token:          cfg.AuthToken,
		MinTokenLength: cfg.MinTokenLength,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		SettleDelay:    DefaultSettleDelay,
	}
}

// ValidateToken checks presence and minimum length.
func ValidateToken(token string, minLength int) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenMissing
	}
	if len(token) < minLength {
		return fmt.Errorf("%w: got %d characters, need at least %d", ErrTokenTooShort, len(token), minLength)
	}
	return nil
}

// Provisioner opens and verifies a public tunnel.
type Provisioner struct {
	agent  Agent
	opts   Options
	logger *slog.Logger
}

// NewProvisioner creates a Provisioner using agent.
func NewProvisioner(agent Agent, opts Options) *Provisioner {
	if opts.MinTokenLength <= 0 {
		opts.MinTokenLength = config.DefaultTunnelMinTokenLength
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = config.DefaultTunnelMaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = config.DefaultTunnelBackoff
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Provisioner{
		agent:  agent,
		opts:   opts,
		logger: opts.Logger.With("component", "tunnel"),
	}
}

// Provision validates the token, then tries up to MaxRetries times to clear
// existing tunnels, open a tunnel to port and verify that <url>/health
// answers 200. It returns the public URL or a *ProvisioningError.
func (p *Provisioner) Provision(ctx context.Context, port int) (string, error) {
	if err := ValidateToken(p.opts.Token, p.opts.MinTokenLength); err != nil {
		return "", err
	}

	p.logger.Info("provisioning tunnel", "port", port, "token", logging.RedactSecret(p.opts.Token))

	attempts := 0
	operation := func() (string, error) {
		attempts++
		publicURL, err := p.attempt(ctx, port)
		if err != nil {
			p.opts.Metrics.RecordTunnelAttempt("error")
			p.logger.Warn("tunnel attempt failed", "attempt", attempts, "max_attempts", p.opts.MaxRetries, "error", err)
			return "", err
		}
		p.opts.Metrics.RecordTunnelAttempt("ok")
		return publicURL, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	publicURL, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.opts.MaxRetries)),
	)
	if err != nil {
		return "", &ProvisioningError{Attempts: attempts, Err: err}
	}

	p.logger.Info("tunnel ready", "public_url", publicURL)
	return publicURL, nil
}

func (p *Provisioner) attempt(ctx context.Context, port int) (string, error) {
	if err := p.agent.ClearTunnels(ctx); err != nil {
		return "", fmt.Errorf("clear existing tunnels: %w", err)
	}

	publicURL, err := p.agent.OpenTunnel(ctx, port)
	if err != nil {
		return "", fmt.Errorf("open tunnel: %w", err)
	}

	u, err := url.Parse(publicURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid public url %q", publicURL)
	}

	if p.opts.SettleDelay > 0 {
		select {
		case <-time.After(p.opts.SettleDelay):
		case <-ctx.Done():
			return "", backoff.Permanent(ctx.Err())
		}
	}

	if err := p.verify(ctx, publicURL); err != nil {
		return "", err
	}
	return publicURL, nil
}

func (p *Provisioner) verify(ctx context.Context, publicURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(publicURL, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("verify tunnel: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verify tunnel: GET /health returned %d", resp.StatusCode)
	}
	return nil
}
