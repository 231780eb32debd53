package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"locallab-hq/locallab/pkg/journal"
	"locallab-hq/locallab/pkg/telemetry/logging"
)

// SlowRequestThreshold is the duration above which a request is logged as
// slow.
const SlowRequestThreshold = time.Second

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// statusRecorder captures the response status and keeps Flush working for
// streamed responses.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.written {
		return
	}
	r.status = code
	r.written = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func isHealthCheck(path string) bool {
	return strings.HasSuffix(path, "/health") || strings.HasSuffix(path, "/startup-status")
}

// requestID takes the client's X-Request-ID or generates one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// recovery turns handler panics into a JSON 500.
func (a *App) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.ErrorContext(r.Context(), "panic in handler",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "An internal error occurred. Please try again later.")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// instrument counts, times, journals and logs each request. Timing headers
// are set before the handler writes so that they reach the client.
func (a *App) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		count := a.runtime.IncRequests()
		healthCheck := isHealthCheck(r.URL.Path)

		if !healthCheck {
			a.logger.DebugContext(r.Context(), "request started",
				"method", r.Method,
				"path", r.URL.Path,
				"client", r.RemoteAddr,
			)
		}

		rec := &statusRecorder{ResponseWriter: &timingWriter{ResponseWriter: w, start: start}, status: http.StatusOK}
		w.Header().Set("X-Request-Count", strconv.FormatInt(count, 10))
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := routeLabel(r.URL.Path)
		a.metrics.RecordRequest(r.Method, route, rec.status, elapsed)

		if healthCheck {
			return
		}

		if a.journal != nil {
			a.journal.Record(r.Context(), journal.Record{
				RequestID: logging.GetRequestID(r.Context()),
				Method:    r.Method,
				Path:      r.URL.Path,
				Status:    rec.status,
				Duration:  elapsed,
				Transport: logging.GetTransport(r.Context()),
				Client:    r.RemoteAddr,
			})
		}

		level := slog.LevelInfo
		if rec.status >= 500 {
			level = slog.LevelError
		} else if rec.status >= 400 {
			level = slog.LevelWarn
		}
		a.logger.Log(r.Context(), level, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"latency_ms", elapsed.Milliseconds(),
		)
		if elapsed > SlowRequestThreshold {
			a.logger.WarnContext(r.Context(), "slow request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", fmt.Sprintf("%.2fs", elapsed.Seconds()),
			)
		}
	})
}

// timingWriter stamps X-Process-Time when the header is written.
type timingWriter struct {
	http.ResponseWriter
	start   time.Time
	stamped bool
}

func (t *timingWriter) stamp() {
	if !t.stamped {
		t.stamped = true
		t.Header().Set("X-Process-Time", fmt.Sprintf("%.4f", time.Since(t.start).Seconds()))
	}
}

func (t *timingWriter) WriteHeader(code int) {
	t.stamp()
	t.ResponseWriter.WriteHeader(code)
}

func (t *timingWriter) Write(b []byte) (int, error) {
	t.stamp()
	return t.ResponseWriter.Write(b)
}

func (t *timingWriter) Flush() {
	t.stamp()
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel bounds metric label cardinality to the known routes.
func routeLabel(path string) string {
	if _, ok := knownRoutes[path]; ok {
		return path
	}
	return "other"
}
