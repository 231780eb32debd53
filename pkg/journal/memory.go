package journal

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in memory in insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	closed  bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newStorageError("memory", "append", ErrClosed)
	}
	recordCopy := *rec
	s.records = append(s.records, &recordCopy)
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, newStorageError("memory", "count", ErrClosed)
	}
	return int64(len(s.records)), nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, newStorageError("memory", "recent", ErrClosed)
	}

	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Record, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		recordCopy := *s.records[i]
		out = append(out, &recordCopy)
	}
	return out, nil
}

// DeleteBefore implements Store.
func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, newStorageError("memory", "delete", ErrClosed)
	}

	kept := s.records[:0]
	var deleted int64
	for _, rec := range s.records {
		if rec.Time.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return deleted, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
