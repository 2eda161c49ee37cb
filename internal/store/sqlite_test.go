// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers session open, remind, close, listing and stats

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := first.OpenSession(ctx, testSession("s1", time.Now())); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	first.Close()

	second, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	if _, err := second.GetSession(ctx, "s1"); err != nil {
		t.Errorf("GetSession after reopen: %v", err)
	}
}

// runSessionStoreTests exercises a SessionStore implementation.
func runSessionStoreTests(t *testing.T, newStore func(t *testing.T) SessionStore) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("open and get", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.OpenSession(ctx, testSession("s1", base)); err != nil {
			t.Fatalf("OpenSession failed: %v", err)
		}

		got, err := s.GetSession(ctx, "s1")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.ThreadKey != "C1:U1" || got.ChannelID != "C1" {
			t.Errorf("got %+v", got)
		}
		if !got.OpenedAt.Equal(base) {
			t.Errorf("OpenedAt = %v, want %v", got.OpenedAt, base)
		}
		if !got.Open() || !got.RemindedAt.IsZero() {
			t.Errorf("new session should be open and not reminded: %+v", got)
		}
	})

	t.Run("duplicate open", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.OpenSession(ctx, testSession("s1", base)); err != nil {
			t.Fatalf("OpenSession failed: %v", err)
		}
		err := s.OpenSession(ctx, testSession("s1", base))
		if !errors.Is(err, ErrDuplicateSession) {
			t.Errorf("second OpenSession error = %v, want ErrDuplicateSession", err)
		}
	})

	t.Run("remind and close", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.OpenSession(ctx, testSession("s1", base)); err != nil {
			t.Fatalf("OpenSession failed: %v", err)
		}
		if err := s.MarkReminded(ctx, "s1", base.Add(time.Minute)); err != nil {
			t.Fatalf("MarkReminded failed: %v", err)
		}
		if err := s.CloseSession(ctx, "s1", base.Add(2*time.Minute)); err != nil {
			t.Fatalf("CloseSession failed: %v", err)
		}

		got, err := s.GetSession(ctx, "s1")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if !got.RemindedAt.Equal(base.Add(time.Minute)) {
			t.Errorf("RemindedAt = %v", got.RemindedAt)
		}
		if got.Open() || !got.ClosedAt.Equal(base.Add(2*time.Minute)) {
			t.Errorf("ClosedAt = %v", got.ClosedAt)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetSession error = %v, want ErrNotFound", err)
		}
		if err := s.MarkReminded(ctx, "missing", base); !errors.Is(err, ErrNotFound) {
			t.Errorf("MarkReminded error = %v, want ErrNotFound", err)
		}
		if err := s.CloseSession(ctx, "missing", base); !errors.Is(err, ErrNotFound) {
			t.Errorf("CloseSession error = %v, want ErrNotFound", err)
		}
	})

	t.Run("list open and stats", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i, id := range []string{"s3", "s1", "s2"} {
			if err := s.OpenSession(ctx, testSession(id, base.Add(time.Duration(i)*time.Second))); err != nil {
				t.Fatalf("OpenSession(%s) failed: %v", id, err)
			}
		}
		if err := s.MarkReminded(ctx, "s1", base.Add(time.Minute)); err != nil {
			t.Fatalf("MarkReminded failed: %v", err)
		}
		if err := s.CloseSession(ctx, "s1", base.Add(2*time.Minute)); err != nil {
			t.Fatalf("CloseSession failed: %v", err)
		}

		open, err := s.ListOpenSessions(ctx)
		if err != nil {
			t.Fatalf("ListOpenSessions failed: %v", err)
		}
		if len(open) != 2 || open[0].ID != "s3" || open[1].ID != "s2" {
			t.Errorf("open sessions = %v, want [s3 s2]", sessionIDs(open))
		}

		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if st != (Stats{Open: 2, Closed: 1, Reminded: 1}) {
			t.Errorf("Stats = %+v", st)
		}
	})
}

func TestSQLiteStore_Sessions(t *testing.T) {
	runSessionStoreTests(t, func(t *testing.T) SessionStore { return newTestStore(t) })
}

func TestMockStore_Sessions(t *testing.T) {
	runSessionStoreTests(t, func(*testing.T) SessionStore { return NewMockStore() })
}

func testSession(id string, openedAt time.Time) *Session {
	return &Session{ID: id, ThreadKey: "C1:U1", ChannelID: "C1", OpenedAt: openedAt}
}

func sessionIDs(sessions []*Session) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}
