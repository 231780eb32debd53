package model

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/state"
	"locallab-hq/locallab/pkg/telemetry/metrics"
)

// Generation defaults for requests that leave the sampling parameters unset.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
)

// GenerateParams describes one generation request.
type GenerateParams struct {
	Prompt string

	// ModelID switches the active model before generating when set.
	ModelID string

	MaxLength   int
	Temperature float64
	TopP        float64

	// SystemInstructions overrides the stored instructions for this call.
	SystemInstructions string
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FormatChat renders messages as "role: content" lines.
func FormatChat(messages []ChatMessage) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = m.Role + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

// CurrentInfo describes the loaded model.
type CurrentInfo struct {
	Status    string    `json:"status,omitempty"`
	ModelID   string    `json:"model_id,omitempty"`
	ModelName string    `json:"model_name,omitempty"`
	Path      string    `json:"path,omitempty"`
	MaxLength int       `json:"max_length,omitempty"`
	RAM       string    `json:"ram_required,omitempty"`
	VRAM      string    `json:"vram_required,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitzero"`
	LastUsed  time.Time `json:"last_used,omitzero"`
}

// Options configures a Manager.
type Options struct {
	Registry *Registry
	Backend  Backend

	// DefaultModel is loaded when generation is requested with nothing
	// loaded.
	DefaultModel string

	// IdleTimeout unloads the model after this long without use; zero
	// disables idle unloading.
	IdleTimeout time.Duration

	Runtime *state.Runtime
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// OptionsFromConfig builds Options from the model section. Backend,
// Runtime and Metrics are left for the caller.
func OptionsFromConfig(cfg config.ModelConfig) Options {
	return Options{
		DefaultModel: cfg.Default,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Manager owns the active model.
type Manager struct {
	registry     *Registry
	backend      Backend
	instructions *Instructions
	defaultModel string
	idleTimeout  time.Duration
	runtime      *state.Runtime
	metrics      *metrics.Collector
	logger       *slog.Logger
	now          func() time.Time

	// loadMu serializes loads; mu guards the fields below it.
	loadMu   sync.Mutex
	mu       sync.RWMutex
	current  Info
	loaded   bool
	loadedAt time.Time
	lastUsed time.Time

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Runtime == nil {
		opts.Runtime = state.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		registry:     opts.Registry,
		backend:      opts.Backend,
		instructions: NewInstructions(),
		defaultModel: opts.DefaultModel,
		idleTimeout:  opts.IdleTimeout,
		runtime:      opts.Runtime,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With("component", "model_manager"),
		now:          time.Now,
	}
}

// Registry returns the model registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Instructions returns the system instruction store.
func (m *Manager) Instructions() *Instructions {
	return m.instructions
}

// DefaultModel returns the model loaded when none is active.
func (m *Manager) DefaultModel() string {
	return m.defaultModel
}

// Load makes modelID the active model. When the backend rejects it and the
// registry names a fallback, the fallback is loaded instead; a chain of
// fallbacks is followed until it succeeds or revisits a model.
func (m *Manager) Load(ctx context.Context, modelID string) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.runtime.BeginModelLoad(modelID)
	start := m.now()

	info, err := m.loadChain(ctx, modelID)

	m.runtime.FinishModelLoad(info.ID, err)
	result := "ok"
	if err != nil {
		result = "error"
	} else if info.ID != modelID {
		result = "fallback"
	}
	m.metrics.RecordModelLoad(modelID, result, m.now().Sub(start))
	return err
}

func (m *Manager) loadChain(ctx context.Context, modelID string) (Info, error) {
	visited := make(map[string]bool)
	id := modelID
	var firstErr error

	for {
		visited[id] = true
		info, _ := m.registry.Resolve(id)

		m.logger.Info("loading model", "model", id, "path", info.Path)
		err := m.backend.LoadModel(ctx, info.Path)
		if err == nil {
			m.mu.Lock()
			m.current = info
			m.loaded = true
			m.loadedAt = m.now()
			m.lastUsed = m.loadedAt
			m.mu.Unlock()
			m.logger.Info("model loaded", "model", id)
			return info, nil
		}

		if firstErr == nil {
			firstErr = err
		}
		m.logger.Error("model load failed", "model", id, "error", err)

		if ctx.Err() != nil || info.Fallback == "" || visited[info.Fallback] {
			return Info{}, &LoadError{Model: modelID, Err: firstErr}
		}
		m.logger.Warn("attempting fallback model", "model", id, "fallback", info.Fallback)
		id = info.Fallback
	}
}

// Unload releases the active model. It returns the unloaded model ID, or
// false when nothing was loaded.
func (m *Manager) Unload() (string, bool) {
	m.mu.Lock()
	if !m.loaded {
		m.mu.Unlock()
		return "", false
	}
	id := m.current.ID
	m.current = Info{}
	m.loaded = false
	m.mu.Unlock()

	m.runtime.ModelUnloaded()
	m.logger.Info("model unloaded", "model", id)
	return id, true
}

// Current returns the active model ID, or "" when none is loaded.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.ID
}

// Info describes the active model.
func (m *Manager) Info() CurrentInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.loaded {
		return CurrentInfo{Status: "No model loaded"}
	}
	return CurrentInfo{
		ModelID:   m.current.ID,
		ModelName: m.current.Name,
		Path:      m.current.Path,
		MaxLength: m.current.MaxLength,
		RAM:       m.current.RAM,
		VRAM:      m.current.VRAM,
		LoadedAt:  m.loadedAt,
		LastUsed:  m.lastUsed,
	}
}

// Generate runs one completion.
func (m *Manager) Generate(ctx context.Context, p GenerateParams) (string, error) {
	req, err := m.prepare(ctx, p)
	if err != nil {
		return "", err
	}
	return m.backend.Complete(ctx, req)
}

// Stream runs one completion, passing chunks to emit as they arrive.
func (m *Manager) Stream(ctx context.Context, p GenerateParams, emit func(chunk string) error) error {
	req, err := m.prepare(ctx, p)
	if err != nil {
		return err
	}
	return m.backend.Stream(ctx, req, emit)
}

func (m *Manager) prepare(ctx context.Context, p GenerateParams) (CompletionRequest, error) {
	if err := m.ensureModel(ctx, p.ModelID); err != nil {
		return CompletionRequest{}, err
	}

	m.mu.Lock()
	m.lastUsed = m.now()
	info := m.current
	m.mu.Unlock()

	instructions := p.SystemInstructions
	if instructions == "" {
		instructions = m.instructions.Get(info.ID)
	}
	prompt := p.Prompt
	if instructions != "" {
		prompt = fmt.Sprintf("%s\n\n%s", instructions, p.Prompt)
	}

	req := CompletionRequest{
		Model:       info.Path,
		Prompt:      prompt,
		MaxTokens:   p.MaxLength,
		Temperature: p.Temperature,
		TopP:        p.TopP,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = info.MaxLength
	}
	if req.Temperature == 0 {
		req.Temperature = DefaultTemperature
	}
	if req.TopP == 0 {
		req.TopP = DefaultTopP
	}
	return req, nil
}

func (m *Manager) ensureModel(ctx context.Context, modelID string) error {
	current := m.Current()
	if modelID != "" && modelID != current {
		return m.Load(ctx, modelID)
	}
	if current != "" {
		return nil
	}
	if m.defaultModel == "" {
		return ErrNoModelLoaded
	}
	return m.Load(ctx, m.defaultModel)
}

// CheckIdle unloads the model when it has been unused for longer than the
// idle timeout and reports whether it did.
func (m *Manager) CheckIdle() bool {
	if m.idleTimeout <= 0 {
		return false
	}

	m.mu.RLock()
	idle := m.loaded && m.now().Sub(m.lastUsed) > m.idleTimeout
	id := m.current.ID
	m.mu.RUnlock()

	if !idle {
		return false
	}
	m.logger.Info("unloading model due to inactivity", "model", id, "idle_timeout", m.idleTimeout)
	_, ok := m.Unload()
	return ok
}

// StartIdleCheck runs CheckIdle on the cron schedule until ctx is done or
// StopIdleCheck is called. It does nothing when idle unloading is off.
func (m *Manager) StartIdleCheck(ctx context.Context, schedule string) error {
	if m.idleTimeout <= 0 || schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid idle check schedule %q: %w", schedule, err)
	}

	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { m.CheckIdle() }); err != nil {
		return fmt.Errorf("failed to schedule idle check: %w", err)
	}
	c.Start()
	m.cron = c
	m.logger.Info("idle check scheduled", "schedule", schedule, "idle_timeout", m.idleTimeout)

	go func() {
		<-ctx.Done()
		m.StopIdleCheck()
	}()
	return nil
}

// StopIdleCheck stops the idle schedule and waits for a running check.
func (m *Manager) StopIdleCheck() {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.cron = nil
}
