package model

import (
	"errors"
	"fmt"
)

// ErrNoModelLoaded is returned when generation is requested with no model
// loaded and no default to fall back on.
var ErrNoModelLoaded = errors.New("model: no model loaded")

// LoadError reports a failed model load.
type LoadError struct {
	Model string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.Model, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// BackendError is a non-2xx answer from the completion backend.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed when repeated.
func (e *BackendError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
