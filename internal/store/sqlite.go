// ABOUTME: SQLite implementation of the SessionStore interface using modernc.org/sqlite
// ABOUTME: Provides session ledger persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the SessionStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ SessionStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Writers wait instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id  TEXT PRIMARY KEY,
			thread_key  TEXT NOT NULL,
			channel_id  TEXT NOT NULL,
			opened_at   TEXT NOT NULL,
			reminded_at TEXT,
			closed_at   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_thread_key ON sessions(thread_key);
		CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(closed_at, opened_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// OpenSession records a new session
func (s *SQLiteStore) OpenSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (session_id, thread_key, channel_id, opened_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.ThreadKey,
		session.ChannelID,
		formatTime(session.OpenedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("opened session", "session_id", session.ID, "thread", session.ThreadKey)
	return nil
}

// MarkReminded sets reminded_at for a session
func (s *SQLiteStore) MarkReminded(ctx context.Context, sessionID string, at time.Time) error {
	return s.setTime(ctx, "reminded_at", sessionID, at)
}

// CloseSession sets closed_at for a session
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	return s.setTime(ctx, "closed_at", sessionID, at)
}

// setTime updates one timestamp column. column is never caller input.
func (s *SQLiteStore) setTime(ctx context.Context, column, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET ` + column + ` = ? WHERE session_id = ?`

	result, err := s.db.ExecContext(ctx, query, formatTime(at), sessionID)
	if err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession retrieves a session by id
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		SELECT session_id, thread_key, channel_id, opened_at, reminded_at, closed_at
		FROM sessions
		WHERE session_id = ?
	`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return session, nil
}

// ListOpenSessions returns every session with no closure time
func (s *SQLiteStore) ListOpenSessions(ctx context.Context) ([]*Session, error) {
	query := `
		SELECT session_id, thread_key, channel_id, opened_at, reminded_at, closed_at
		FROM sessions
		WHERE closed_at IS NULL
		ORDER BY opened_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying open sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Stats counts open, closed and reminded sessions
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN closed_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN closed_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN reminded_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM sessions
	`

	var st Stats
	if err := s.db.QueryRowContext(ctx, query).Scan(&st.Open, &st.Closed, &st.Reminded); err != nil {
		return Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session    Session
		openedAt   string
		remindedAt sql.NullString
		closedAt   sql.NullString
	)
	if err := row.Scan(&session.ID, &session.ThreadKey, &session.ChannelID, &openedAt, &remindedAt, &closedAt); err != nil {
		return nil, err
	}

	var err error
	if session.OpenedAt, err = time.Parse(time.RFC3339, openedAt); err != nil {
		return nil, fmt.Errorf("parsing opened_at: %w", err)
	}
	if remindedAt.Valid {
		if session.RemindedAt, err = time.Parse(time.RFC3339, remindedAt.String); err != nil {
			return nil, fmt.Errorf("parsing reminded_at: %w", err)
		}
	}
	if closedAt.Valid {
		if session.ClosedAt, err = time.Parse(time.RFC3339, closedAt.String); err != nil {
			return nil, fmt.Errorf("parsing closed_at: %w", err)
		}
	}
	return &session, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
