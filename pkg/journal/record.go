package journal

import (
	"context"
	"time"
)

// Record is one journaled request.
type Record struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id,omitempty"`
	Time      time.Time     `json:"time"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	Duration  time.Duration `json:"duration"`
	Transport string        `json:"transport,omitempty"`
	Client    string        `json:"client,omitempty"`
}

// Store persists records.
type Store interface {
	// Append stores rec.
	Append(ctx context.Context, rec *Record) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]*Record, error)

	// DeleteBefore removes records older than cutoff and returns how many.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
