package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"locallab-hq/locallab/pkg/config"
)

// CompletionRequest is one generation call.
type CompletionRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Backend runs models.
type Backend interface {
	// LoadModel makes path ready for generation.
	LoadModel(ctx context.Context, path string) error

	// Complete returns the full completion.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Stream calls emit with each generated chunk in order.
	Stream(ctx context.Context, req CompletionRequest, emit func(chunk string) error) error
}

// BackendOptions configures an HTTPBackend.
type BackendOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int

	// RetryBackoff is the delay before the first retry; it doubles after.
	RetryBackoff time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// BackendOptionsFromConfig builds BackendOptions from the model section.
func BackendOptionsFromConfig(cfg config.ModelConfig) BackendOptions {
	return BackendOptions{
		BaseURL:    cfg.BackendURL,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.RequestTimeout,
		MaxRetries: cfg.MaxRetries,
	}
}

// HTTPBackend is a Backend for OpenAI-compatible completion servers.
type HTTPBackend struct {
	opts   BackendOptions
	client *http.Client
	logger *slog.Logger
}

// NewHTTPBackend creates an HTTPBackend.
func NewHTTPBackend(opts BackendOptions) *HTTPBackend {
	if opts.BaseURL == "" {
		opts.BaseURL = config.DefaultModelBackendURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultModelRequestTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		// No client timeout: streams may legitimately run long. Unary calls
		// are bounded by opts.Timeout through the request context.
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPBackend{
		opts:   opts,
		client: client,
		logger: logger.With("component", "model_backend"),
	}
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type completionBody struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Stream      bool    `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// LoadModel checks that the backend serves path. Backends that report no
// models at all are assumed to load on demand.
func (b *HTTPBackend) LoadModel(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	resp, err := b.do(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decode model list: %w", err)
	}
	if len(list.Data) == 0 {
		return nil
	}
	for _, m := range list.Data {
		if m.ID == path {
			return nil
		}
	}
	return fmt.Errorf("backend does not serve %q", path)
}

// Complete implements Backend.
func (b *HTTPBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	resp, err := b.do(ctx, http.MethodPost, "/v1/completions", newCompletionBody(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return out.Choices[0].Text, nil
}

// Stream implements Backend by reading the server-sent event stream until
// the [DONE] marker.
func (b *HTTPBackend) Stream(ctx context.Context, req CompletionRequest, emit func(chunk string) error) error {
	resp, err := b.do(ctx, http.MethodPost, "/v1/completions", newCompletionBody(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}

		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Text == "" {
			continue
		}
		if err := emit(chunk.Choices[0].Text); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func newCompletionBody(req CompletionRequest, stream bool) completionBody {
	return completionBody{
		Model:       req.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
}

// do sends one request, retrying network errors and retryable statuses
// with exponential backoff. The caller closes the returned body.
func (b *HTTPBackend) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	url := strings.TrimRight(b.opts.BaseURL, "/") + path
	attempt := 0
	operation := func() (*http.Response, error) {
		attempt++
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if b.opts.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+b.opts.APIKey)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			b.logger.Warn("backend request failed, will retry", "url", url, "attempt", attempt, "error", err)
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		berr := &BackendError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
		if !berr.Retryable() {
			return nil, backoff.Permanent(berr)
		}
		b.logger.Warn("backend returned error status, will retry", "url", url, "status", resp.StatusCode, "attempt", attempt)
		return nil, berr
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.opts.RetryBackoff
	eb.Multiplier = 2

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(b.opts.MaxRetries+1)),
	)
}
