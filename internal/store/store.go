// ABOUTME: SessionStore interface and data types for the session ledger
// ABOUTME: Records when conversations open, get reminded and close, never their content

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when opening a session id that already exists
var ErrDuplicateSession = errors.New("session already exists")

// Session is one tracked conversation from first message to closure
type Session struct {
	ID         string
	ThreadKey  string
	ChannelID  string
	OpenedAt   time.Time
	RemindedAt time.Time // zero until the idle reminder is sent
	ClosedAt   time.Time // zero while open
}

// Open reports whether the session has not been closed.
func (s *Session) Open() bool {
	return s.ClosedAt.IsZero()
}

// Stats summarizes the ledger
type Stats struct {
	Open     int
	Closed   int
	Reminded int
}

// SessionStore persists the session ledger
type SessionStore interface {
	// OpenSession records a new session. It returns ErrDuplicateSession if the id exists.
	OpenSession(ctx context.Context, s *Session) error

	// MarkReminded sets the reminder time. It returns ErrNotFound for unknown ids.
	MarkReminded(ctx context.Context, sessionID string, at time.Time) error

	// CloseSession sets the closure time. It returns ErrNotFound for unknown ids.
	CloseSession(ctx context.Context, sessionID string, at time.Time) error

	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// ListOpenSessions returns open sessions ordered by opening time.
	ListOpenSessions(ctx context.Context) ([]*Session, error)

	Stats(ctx context.Context) (Stats, error)

	Close() error
}
