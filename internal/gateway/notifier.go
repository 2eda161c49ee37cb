// ABOUTME: Activity notifier that posts reminder and closure messages
// ABOUTME: Records session transitions in the ledger and drops closed histories

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/helpdesk-gateway/internal/activity"
	"github.com/2389/helpdesk-gateway/internal/store"
	"github.com/2389/helpdesk-gateway/internal/transport"
)

// Messages posted by the activity monitor.
const (
	ReminderText        = ":wave: Just checking in. Is there anything else I can help you with?"
	ClosureText         = ":white_check_mark: This conversation has been closed due to inactivity. Feel free to start a new one anytime!"
	ExplicitClosureText = ":white_check_mark: This conversation has been closed. Feel free to start a new one anytime!"
)

// ledgerTimeout bounds a single ledger write.
const ledgerTimeout = 5 * time.Second

type historyCloser interface {
	CloseConversation(threadKey string)
}

// sessionNotifier implements activity.Notifier. ledger may be nil.
type sessionNotifier struct {
	deliverer transport.Deliverer
	history   historyCloser
	ledger    store.SessionStore
	limit     int
	now       func() time.Time
	logger    *slog.Logger
}

var _ activity.Notifier = (*sessionNotifier)(nil)

func (n *sessionNotifier) Opened(ctx context.Context, t activity.Thread) {
	if n.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()

	err := n.ledger.OpenSession(ctx, &store.Session{
		ID:        t.SessionID,
		ThreadKey: t.Key,
		ChannelID: t.ChannelID,
		OpenedAt:  t.LastUserTime,
	})
	if err != nil {
		n.logger.Warn("recording session open failed", "session_id", t.SessionID, "error", err)
	}
}

func (n *sessionNotifier) Remind(ctx context.Context, t activity.Thread) error {
	if err := transport.DeliverAll(ctx, n.deliverer, t.ChannelID, ReminderText, t.ReplyTarget, n.limit); err != nil {
		return fmt.Errorf("delivering reminder: %w", err)
	}
	if n.ledger == nil {
		return nil
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := n.ledger.MarkReminded(lctx, t.SessionID, n.now()); err != nil {
		// The reminder went out; only the ledger is behind.
		n.logger.Warn("recording reminder failed", "session_id", t.SessionID, "error", err)
	}
	return nil
}

func (n *sessionNotifier) Closed(ctx context.Context, t activity.Thread) {
	n.history.CloseConversation(t.Key)

	text := ClosureText
	if t.CloseReason == activity.CloseExplicit {
		text = ExplicitClosureText
	}
	if err := transport.DeliverAll(ctx, n.deliverer, t.ChannelID, text, t.ReplyTarget, n.limit); err != nil {
		n.logger.Error("delivering closure message failed", "thread", t.Key, "error", err)
	}

	if n.ledger == nil {
		return
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := n.ledger.CloseSession(lctx, t.SessionID, n.now()); err != nil {
		n.logger.Warn("recording session close failed", "session_id", t.SessionID, "error", err)
	}
}
