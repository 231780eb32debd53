package health

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Liveness status values reported by /health.
const (
	StatusInitializing = "initializing"
	StatusHealthy      = "healthy"
)

// Readiness status values reported by /ready.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
)

// CheckFunc performs a health check for a component. It returns nil if the
// component is healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

// StatusFunc reports the liveness status string.
type StatusFunc func() string

// CheckResult represents the result of a single health check.
type CheckResult struct {
	// Status is "ok" or "unhealthy".
	Status string `json:"status"`

	// Message carries the failure reason.
	Message string `json:"message,omitempty"`

	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ms,omitempty"`
}

// HealthStatus is the JSON payload of the health endpoints.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker answers liveness from a status function and readiness from a set of
// registered component checks.
type Checker struct {
	mu       sync.RWMutex
	checks   map[string]CheckFunc
	liveness StatusFunc

	checkTimeout time.Duration
}

// ErrCheckTimeout is reported when a component check exceeds its timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// New creates a new health checker with the specified check timeout.
// If timeout is 0, defaults to 5 seconds per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}

	return &Checker{
		checks:       make(map[string]CheckFunc),
		checkTimeout: checkTimeout,
	}
}

// SetLiveness installs the function used by CheckLiveness.
func (c *Checker) SetLiveness(fn StatusFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveness = fn
}

// RegisterCheck registers a readiness check for a named component,
// replacing any existing check with the same name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// CheckLiveness reports whether the process is serving. It never runs
// component checks: a bound server is alive even while the model loads.
func (c *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	fn := c.liveness
	c.mu.RUnlock()

	status := StatusHealthy
	if fn != nil {
		status = fn()
	}
	return HealthStatus{Status: status}
}

// CheckReadiness runs every registered check concurrently and aggregates them.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()

			result := c.runCheck(ctx, check)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := StatusReady
	for _, result := range results {
		if result.Status != "ok" {
			status = StatusDegraded
		}
	}

	return HealthStatus{Status: status, Checks: results}
}

// runCheck executes a single health check with timeout.
func (c *Checker) runCheck(ctx context.Context, check CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()

	errChan := make(chan error, 1)
	go func() {
		errChan <- check(checkCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return CheckResult{Status: "unhealthy", Message: err.Error(), Duration: time.Since(start)}
		}
		return CheckResult{Status: "ok", Duration: time.Since(start)}

	case <-checkCtx.Done():
		return CheckResult{Status: "unhealthy", Message: ErrCheckTimeout.Error(), Duration: time.Since(start)}
	}
}
