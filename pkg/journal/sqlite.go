package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"locallab-hq/locallab/pkg/config"
)

// SQLiteStore is a Store backed by SQLite.
type SQLiteStore struct {
	db     *sql.DB
	cfg    config.SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path.
// cfg.Driver selects "sqlite" (pure Go) or "sqlite3" (cgo).
func NewSQLiteStore(cfg config.SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Driver == "" {
		cfg.Driver = config.DefaultJournalSQLiteDriver
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = config.DefaultJournalSQLiteMaxOpen
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = config.DefaultJournalSQLiteBusyTimeout
	}

	logger := slog.Default().With("component", "journal.sqlite")

	if dir := filepath.Dir(cfg.Path); dir != "." && cfg.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, newStorageError("sqlite", "mkdir", err)
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, newStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	s := &SQLiteStore{db: db, cfg: cfg, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("journal storage initialized",
		"path", cfg.Path,
		"driver", cfg.Driver,
		"wal_mode", cfg.WALMode,
	)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if s.cfg.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return newStorageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.cfg.BusyTimeout.Milliseconds())); err != nil {
		return newStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return newStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(insertSchemaVersion, SchemaVersion); err != nil {
		return newStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(getSchemaVersion).Scan(&version); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return newStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return newStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, rec *Record) error {
	const query = `
		INSERT INTO requests (id, request_id, recorded_at, method, path, status, duration_us, transport, client)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.RequestID, rec.Time.UnixNano(), rec.Method, rec.Path,
		rec.Status, rec.Duration.Microseconds(), rec.Transport, rec.Client,
	)
	if err != nil {
		return newStorageError("sqlite", "append", err)
	}
	return nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM requests").Scan(&n); err != nil {
		return 0, newStorageError("sqlite", "count", err)
	}
	return n, nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Record, error) {
	query := `
		SELECT id, request_id, recorded_at, method, path, status, duration_us, transport, client
		FROM requests ORDER BY recorded_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newStorageError("sqlite", "recent", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			rec        Record
			requestID  sql.NullString
			transport  sql.NullString
			client     sql.NullString
			recordedAt int64
			durationUS int64
		)
		if err := rows.Scan(&rec.ID, &requestID, &recordedAt, &rec.Method, &rec.Path,
			&rec.Status, &durationUS, &transport, &client); err != nil {
			return nil, newStorageError("sqlite", "scan", err)
		}
		rec.RequestID = requestID.String
		rec.Transport = transport.String
		rec.Client = client.String
		rec.Time = time.Unix(0, recordedAt)
		rec.Duration = time.Duration(durationUS) * time.Microsecond
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError("sqlite", "recent", err)
	}
	return out, nil
}

// DeleteBefore implements Store.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM requests WHERE recorded_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, newStorageError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, newStorageError("sqlite", "delete", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return newStorageError("sqlite", "close", err)
	}
	return nil
}
