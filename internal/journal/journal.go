// Package journal records execution history in sqlite. Rows outlive the
// sessions they belong to: the journal is history, not session state, and
// is never used to resurrect a session.
package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded execution.
type Entry struct {
	SessionID      string
	Timestamp      time.Time
	Success        bool
	ElapsedSeconds float64
	CodeLen        int
}

type Journal struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS executions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      TEXT NOT NULL,
	ts              DATETIME NOT NULL,
	success         INTEGER NOT NULL,
	elapsed_seconds REAL NOT NULL,
	code_len        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_session_id ON executions(session_id);
`

// WAL allows multiple readers plus one writer; a small pool covers the
// overlap between the execute path and list_sessions.
const maxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and
// perf pragmas applied to every new connection; the driver applies DSN
// pragmas per-connection.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-64000)" +
		"&_pragma=temp_store(MEMORY)"
}

func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one execution.
func (j *Journal) Append(e Entry) error {
	err := retryOnBusy(func() error {
		_, execErr := j.db.Exec(
			`INSERT INTO executions (session_id, ts, success, elapsed_seconds, code_len)
			 VALUES (?, ?, ?, ?, ?)`,
			e.SessionID, e.Timestamp.UTC(), e.Success, e.ElapsedSeconds, e.CodeLen,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// Counts returns the number of recorded executions per session, for every
// session that has at least one entry.
func (j *Journal) Counts() (map[string]int, error) {
	rows, err := j.db.Query(`SELECT session_id, COUNT(*) FROM executions GROUP BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning journal count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal counts: %w", err)
	}
	return counts, nil
}

// isBusyLock reports whether err indicates SQLite database lock
// (SQLITE_BUSY). Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}
