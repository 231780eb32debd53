package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{name: "default timeout", timeout: 0, expectedTimeout: 5 * time.Second},
		{name: "custom timeout", timeout: 10 * time.Second, expectedTimeout: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(tt.timeout)
			if checker.checkTimeout != tt.expectedTimeout {
				t.Errorf("expected timeout %v, got %v", tt.expectedTimeout, checker.checkTimeout)
			}
		})
	}
}

func TestCheckLiveness(t *testing.T) {
	checker := New(0)

	if got := checker.CheckLiveness(context.Background()).Status; got != StatusHealthy {
		t.Errorf("expected %q without a status func, got %q", StatusHealthy, got)
	}

	status := StatusInitializing
	checker.SetLiveness(func() string { return status })
	if got := checker.CheckLiveness(context.Background()).Status; got != StatusInitializing {
		t.Errorf("expected %q, got %q", StatusInitializing, got)
	}

	status = StatusHealthy
	if got := checker.CheckLiveness(context.Background()).Status; got != StatusHealthy {
		t.Errorf("expected %q, got %q", StatusHealthy, got)
	}
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   string
	}{
		{name: "no checks", checks: nil, want: StatusReady},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"model":   func(ctx context.Context) error { return nil },
				"journal": func(ctx context.Context) error { return nil },
			},
			want: StatusReady,
		},
		{
			name: "one unhealthy",
			checks: map[string]CheckFunc{
				"model":   func(ctx context.Context) error { return errors.New("no model loaded") },
				"journal": func(ctx context.Context) error { return nil },
			},
			want: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(time.Second)
			for name, check := range tt.checks {
				checker.RegisterCheck(name, check)
			}

			status := checker.CheckReadiness(context.Background())
			if status.Status != tt.want {
				t.Errorf("expected status %q, got %q", tt.want, status.Status)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("expected %d check results, got %d", len(tt.checks), len(status.Checks))
			}
		})
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	checker := New(50 * time.Millisecond)
	checker.RegisterCheck("slow", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	status := checker.CheckReadiness(context.Background())
	if status.Status != StatusDegraded {
		t.Errorf("expected degraded, got %q", status.Status)
	}
	if msg := status.Checks["slow"].Message; msg != ErrCheckTimeout.Error() {
		t.Errorf("expected timeout message, got %q", msg)
	}
}

func TestLivenessHandler(t *testing.T) {
	checker := New(0)
	checker.SetLiveness(func() string { return StatusInitializing })
	checker.RegisterCheck("model", func(ctx context.Context) error { return errors.New("loading") })

	tests := []struct {
		method     string
		wantStatus int
		wantBody   bool
	}{
		{http.MethodGet, http.StatusOK, true},
		{http.MethodHead, http.StatusOK, false},
		{http.MethodPost, http.StatusMethodNotAllowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			checker.LivenessHandler()(rec, httptest.NewRequest(tt.method, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !tt.wantBody {
				return
			}
			var body HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Status != StatusInitializing {
				t.Errorf("expected status %q, got %q", StatusInitializing, body.Status)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	checker := New(0)
	healthy := false
	checker.RegisterCheck("model", func(ctx context.Context) error {
		if !healthy {
			return errors.New("loading")
		}
		return nil
	})

	rec := httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while loading, got %d", rec.Code)
	}

	healthy = true
	rec = httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 once loaded, got %d", rec.Code)
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc", "today")(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc" {
		t.Errorf("unexpected version info: %+v", info)
	}
	if info.GoVersion == "" {
		t.Error("expected go version")
	}
}
