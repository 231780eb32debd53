package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"locallab-hq/locallab/pkg/config"
)

// Open creates the Store configured by cfg. A disabled journal gets a
// MemoryStore so request counting keeps working.
func Open(cfg config.JournalConfig) (Store, error) {
	if !cfg.Enabled {
		return NewMemoryStore(), nil
	}
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLite)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.Backend)
	}
}

// Journal stamps and stores request records.
type Journal struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Journal writing to store.
func New(store Store, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		store:  store,
		logger: logger.With("component", "journal"),
		now:    time.Now,
	}
}

// Record stores rec, filling in ID and Time when unset. Storage errors are
// logged, never returned: journaling must not fail a request.
func (j *Journal) Record(ctx context.Context, rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = j.now()
	}
	if err := j.store.Append(context.WithoutCancel(ctx), &rec); err != nil {
		j.logger.Warn("failed to journal request", "path", rec.Path, "error", err)
	}
}

// Count returns the number of journaled requests.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	return j.store.Count(ctx)
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*Record, error) {
	return j.store.Recent(ctx, limit)
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	return j.store.Close()
}
