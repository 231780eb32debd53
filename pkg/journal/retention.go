package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/telemetry/metrics"
)

// Retention deletes records older than the configured number of days on a
// cron schedule.
type Retention struct {
	store   Store
	days    int
	spec    string
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRetention creates a Retention for store.
func NewRetention(store Store, cfg config.RetentionConfig, collector *metrics.Collector) *Retention {
	return &Retention{
		store:   store,
		days:    cfg.Days,
		spec:    cfg.Schedule,
		metrics: collector,
		logger:  slog.Default().With("component", "journal.retention"),
		now:     time.Now,
	}
}

// Prune deletes expired records once. Zero days keeps everything.
func (r *Retention) Prune(ctx context.Context) (int64, error) {
	if r.days <= 0 {
		return 0, nil
	}

	cutoff := r.now().AddDate(0, 0, -r.days)
	deleted, err := r.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	r.metrics.RecordJournalPruned(deleted)
	if deleted > 0 {
		r.logger.Info("pruned journal records", "deleted_count", deleted, "retention_days", r.days)
	}
	return deleted, nil
}

// Start schedules Prune until ctx is done or Stop is called. An empty
// schedule or zero retention leaves it idle.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.spec == "" || r.days <= 0 {
		r.logger.Info("journal retention disabled")
		return nil
	}
	if r.running {
		return nil
	}
	if _, err := cron.ParseStandard(r.spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", r.spec, err)
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.spec, func() {
		if _, err := r.Prune(ctx); err != nil {
			r.logger.Error("scheduled pruning failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}
	r.cron.Start()
	r.running = true
	r.logger.Info("journal retention started", "schedule", r.spec, "retention_days", r.days)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop stops the schedule and waits for a running prune.
func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
}

// NextRun returns the next scheduled prune, or nil when not running.
func (r *Retention) NextRun() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
