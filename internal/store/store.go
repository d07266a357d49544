// Package store persists question/answer transcripts per chat session in a
// local SQLite database. Transcripts are kept for operators; they are never
// fed back into retrieval or answer synthesis.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrEmptySession is returned when an exchange has no session ID.
var ErrEmptySession = errors.New("store: session id must not be empty")

// Exchange is one answered question within a session.
type Exchange struct {
	// SessionID groups exchanges of one chat session.
	SessionID string
	// Question is the user's question as submitted.
	Question string
	// Answer is the synthesised answer or the fixed prompt message.
	Answer string
	// Sources lists the "file p.N" labels of the chunks used.
	Sources []string
	// CreatedAt is when the exchange was persisted.
	CreatedAt time.Time
}

// TranscriptStore persists and retrieves exchanges keyed by session ID.
// Implementations must be safe for concurrent use.
type TranscriptStore interface {
	// Append persists one exchange.
	Append(ctx context.Context, ex Exchange) error
	// Recent returns the most recent n exchanges of the session, oldest first.
	Recent(ctx context.Context, sessionID string, n int) ([]Exchange, error)
	// Clear deletes every exchange of the session and returns how many
	// were removed.
	Clear(ctx context.Context, sessionID string) (int64, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a TranscriptStore backed by a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ TranscriptStore = (*SQLiteStore)(nil)

// DefaultDBPath returns ~/.docqa/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS exchanges (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT    NOT NULL,
    question    TEXT    NOT NULL,
    answer      TEXT    NOT NULL,
    sources     TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL  -- Unix nanoseconds
);
CREATE INDEX IF NOT EXISTS idx_exchanges_session_created
    ON exchanges (session_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists ex. A zero CreatedAt is set to the current time.
func (s *SQLiteStore) Append(ctx context.Context, ex Exchange) error {
	if ex.SessionID == "" {
		return ErrEmptySession
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = s.now()
	}
	const q = `INSERT INTO exchanges (session_id, question, answer, sources, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		ex.SessionID, ex.Question, ex.Answer, strings.Join(ex.Sources, "\n"), ex.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n exchanges of the session, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Exchange, error) {
	const q = `
SELECT question, answer, sources, created_at FROM (
    SELECT id, question, answer, sources, created_at
    FROM   exchanges
    WHERE  session_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		ex := Exchange{SessionID: sessionID}
		var sources string
		var ts int64
		if err := rows.Scan(&ex.Question, &ex.Answer, &sources, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		if sources != "" {
			ex.Sources = strings.Split(sources, "\n")
		}
		ex.CreatedAt = time.Unix(0, ts)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return out, nil
}

// Clear deletes the session's exchanges.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exchanges WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("store: clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: clear: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
