// ABOUTME: sessions subcommand reading the SQLite session ledger
// ABOUTME: Prints ledger counts and open sessions, or one session by id

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/helpdesk-gateway/internal/store"
)

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions [session-id]",
		Short: "Show the session ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return errors.New("no session ledger configured (store.path is empty)")
			}

			st, err := store.NewSQLiteStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}
			defer st.Close()

			if len(args) == 1 {
				return printSession(cmd.Context(), st, args[0], cmd.OutOrStdout())
			}
			return printSessions(cmd.Context(), st, cmd.OutOrStdout())
		},
	}
}

func printSessions(ctx context.Context, st store.SessionStore, out io.Writer) error {
	stats, err := st.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading ledger stats: %w", err)
	}
	open, err := st.ListOpenSessions(ctx)
	if err != nil {
		return fmt.Errorf("listing open sessions: %w", err)
	}

	fmt.Fprintf(out, "open: %d  closed: %d  reminded: %d\n", stats.Open, stats.Closed, stats.Reminded)
	for _, s := range open {
		line := fmt.Sprintf("  %s  %s  opened %s", s.ID, s.ThreadKey, s.OpenedAt.Format(time.RFC3339))
		if !s.RemindedAt.IsZero() {
			line += "  (reminded)"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func printSession(ctx context.Context, st store.SessionStore, id string, out io.Writer) error {
	s, err := st.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}

	fmt.Fprintf(out, "id:       %s\n", s.ID)
	fmt.Fprintf(out, "thread:   %s\n", s.ThreadKey)
	fmt.Fprintf(out, "channel:  %s\n", s.ChannelID)
	fmt.Fprintf(out, "opened:   %s\n", s.OpenedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "reminded: %s\n", formatOptional(s.RemindedAt))
	fmt.Fprintf(out, "closed:   %s\n", formatOptional(s.ClosedAt))
	return nil
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
