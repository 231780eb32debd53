// Package state holds the process-wide runtime state shared by the server,
// the embedded application and the model manager.
package state

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is the server lifecycle status.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusStarting     Status = "starting"
	StatusRunning      Status = "running"
	StatusShuttingDown Status = "shutting_down"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
)

// Snapshot is a point-in-time copy of Runtime.
type Snapshot struct {
	Status       Status        `json:"status"`
	ModelLoading bool          `json:"model_loading"`
	CurrentModel string        `json:"current_model,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	Transport    string        `json:"transport,omitempty"`
	Lifespan     string        `json:"lifespan,omitempty"`
	Requests     int64         `json:"request_count"`
	Uptime       time.Duration `json:"uptime"`
}

// Runtime is safe for concurrent use. All mutation goes through the named
// transition methods.
type Runtime struct {
	mu           sync.RWMutex
	status       Status
	modelLoading bool
	currentModel string
	lastError    string
	transport    string
	lifespan     string
	startedAt    time.Time

	requests atomic.Int64
	now      func() time.Time
}

// New creates a Runtime in StatusIdle.
func New() *Runtime {
	return &Runtime{status: StatusIdle, now: time.Now}
}

// MarkStarting records that the server began binding.
func (r *Runtime) MarkStarting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusStarting
	r.startedAt = r.now()
}

// MarkRunning records that the server accepts connections.
func (r *Runtime) MarkRunning() {
	r.setStatus(StatusRunning)
}

// MarkShuttingDown records that shutdown began.
func (r *Runtime) MarkShuttingDown() {
	r.setStatus(StatusShuttingDown)
}

// MarkStopped records that shutdown completed.
func (r *Runtime) MarkStopped() {
	r.setStatus(StatusStopped)
}

// MarkFailed records a fatal error.
func (r *Runtime) MarkFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusError
	if err != nil {
		r.lastError = err.Error()
	}
}

func (r *Runtime) setStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

// BeginModelLoad records that model is loading.
func (r *Runtime) BeginModelLoad(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelLoading = true
	r.lastError = ""
}

// FinishModelLoad records the outcome of a load started by BeginModelLoad.
func (r *Runtime) FinishModelLoad(model string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelLoading = false
	if err != nil {
		r.lastError = err.Error()
		return
	}
	r.currentModel = model
}

// ModelUnloaded clears the current model.
func (r *Runtime) ModelUnloaded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentModel = ""
}

// SetTransport records which engine serves requests ("primary" or "fallback").
func (r *Runtime) SetTransport(transport string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport = transport
}

// SetLifespan records the negotiated lifespan strategy.
func (r *Runtime) SetLifespan(strategy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifespan = strategy
}

// IncRequests counts one handled request and returns the new total.
func (r *Runtime) IncRequests() int64 {
	return r.requests.Add(1)
}

// Status returns the lifecycle status.
func (r *Runtime) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// ModelLoading reports whether a model load is in progress.
func (r *Runtime) ModelLoading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modelLoading
}

// CurrentModel returns the loaded model id, or "".
func (r *Runtime) CurrentModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentModel
}

// Transport returns the serving transport.
func (r *Runtime) Transport() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transport
}

// HealthStatus is the liveness string reported by /health: "initializing"
// while a model loads, "healthy" otherwise.
func (r *Runtime) HealthStatus() string {
	if r.ModelLoading() {
		return "initializing"
	}
	return "healthy"
}

// Snapshot returns a copy of the current state.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var uptime time.Duration
	if !r.startedAt.IsZero() {
		uptime = r.now().Sub(r.startedAt)
	}

	return Snapshot{
		Status:       r.status,
		ModelLoading: r.modelLoading,
		CurrentModel: r.currentModel,
		LastError:    r.lastError,
		Transport:    r.transport,
		Lifespan:     r.lifespan,
		Requests:     r.requests.Load(),
		Uptime:       uptime,
	}
}
