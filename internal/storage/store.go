// Package storage persists jobs, evaluation results, and remediation
// results to a local SQLite database, the same way the teacher's
// internal/adapters/state package persists workflow state: a single
// modernc.org/sqlite-backed *sql.DB opened in WAL mode with a bounded busy
// timeout, versioned migrations applied from embedded SQL files, and
// retry-on-busy around writes.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/evalsvc/docreview/internal/core"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is the SQLite-backed persistence layer behind the Job Manager: job
// records (for boot-time recovery), evaluation records (for the
// GET/import evaluation endpoints and for resolving the originating
// repository of a remediation request), and remediation records (for the
// GET remediation/patch endpoints).
type Store struct {
	db            *sql.DB
	maxRetries    int
	baseRetryWait time.Duration
}

// Open opens (creating if necessary) the SQLite database at path and
// applies any pending migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.ErrFileSystem("STORE_OPEN_FAILED", err.Error())
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writes; a single conn avoids SQLITE_BUSY under WAL

	s := &Store{db: db, maxRetries: 5, baseRetryWait: 20 * time.Millisecond}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at DATETIME NOT NULL)`); err != nil {
		return core.ErrFileSystem("MIGRATION_TABLE_FAILED", err.Error())
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return core.ErrFileSystem("MIGRATION_READ_FAILED", err.Error())
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		version, err := migrationVersion(name)
		if err != nil {
			return err
		}
		var applied int
		row := s.db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version)
		if err := row.Scan(&applied); err != nil {
			return core.ErrFileSystem("MIGRATION_CHECK_FAILED", err.Error())
		}
		if applied > 0 {
			continue
		}

		sqlBytes, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return core.ErrFileSystem("MIGRATION_READ_FAILED", err.Error())
		}
		tx, err := s.db.Begin()
		if err != nil {
			return core.ErrFileSystem("MIGRATION_BEGIN_FAILED", err.Error())
		}
		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return core.ErrFileSystem("MIGRATION_APPLY_FAILED", fmt.Sprintf("%s: %v", name, err))
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, version, time.Now()); err != nil {
			_ = tx.Rollback()
			return core.ErrFileSystem("MIGRATION_RECORD_FAILED", err.Error())
		}
		if err := tx.Commit(); err != nil {
			return core.ErrFileSystem("MIGRATION_COMMIT_FAILED", err.Error())
		}
	}
	return nil
}

func migrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, core.ErrFileSystem("MIGRATION_NAME_INVALID", name)
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, core.ErrFileSystem("MIGRATION_NAME_INVALID", name)
	}
	return n, nil
}

// retryWrite retries fn on SQLITE_BUSY/SQLITE_LOCKED with exponential
// backoff, the same shape as the teacher's state manager uses around its
// own writes under WAL.
func (s *Store) retryWrite(fn func() error) error {
	var lastErr error
	wait := s.baseRetryWait
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isSQLiteBusy(lastErr) {
			return lastErr
		}
		time.Sleep(wait)
		wait *= 2
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}
