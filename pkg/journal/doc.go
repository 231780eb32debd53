// Package journal records every request handled by the embedded
// application.
//
// A Record holds the request line, status, duration and the transport that
// carried it ("primary" or "fallback"). Records go to a Store: SQLiteStore
// for persistence (driver "sqlite" from modernc.org/sqlite or "sqlite3"
// from github.com/mattn/go-sqlite3) or MemoryStore for tests and
// journal-less runs.
//
// The request count reported by /system/info is read from the Store, and
// a Retention job deletes old records on a cron schedule:
//
//	store, err := journal.Open(cfg.Journal)
//	j := journal.New(store, logger)
//	ret := journal.NewRetention(store, cfg.Journal.Retention, collector)
//	ret.Start(ctx)
package journal
