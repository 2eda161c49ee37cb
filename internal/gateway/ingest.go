// ABOUTME: Inbound path from transports into the core: dedupe, debounce, activity, pipeline
// ABOUTME: Also holds the queue-backed ingester and the log-only fallback deliverer

package gateway

import (
	"context"
	"log/slog"

	"github.com/2389/helpdesk-gateway/internal/debounce"
	"github.com/2389/helpdesk-gateway/internal/event"
	"github.com/2389/helpdesk-gateway/internal/pipeline"
	"github.com/2389/helpdesk-gateway/internal/queue"
	"github.com/2389/helpdesk-gateway/internal/transport"
)

var _ transport.Ingester = (*Gateway)(nil)

// Ingest claims ev's id and buffers its text for the sender's debounce window.
// The thread is marked as processing on arrival. It returns without waiting
// for the reply.
func (g *Gateway) Ingest(ctx context.Context, ev event.Inbound) {
	if !g.dedupe.TryClaim(ctx, ev.EventID) {
		g.logger.Debug("duplicate event dropped", "event_id", ev.EventID, "channel", ev.ChannelID)
		return
	}

	// The settle callback waits until this message's activity is recorded,
	// so a fast settle cannot release the thread before it is marked.
	recorded := make(chan struct{})
	origin := debounce.Origin{ThreadKey: ev.ThreadKey(), ReplyTarget: ev.ReplyTarget}
	pinned, ok := g.debouncer.Buffer(ev.DebounceKey(), ev.Text, origin, func(combined string, o debounce.Origin) {
		<-recorded
		g.settle(ev, combined, o)
	})
	if !ok {
		return
	}
	g.activity.RecordUser(ctx, pinned.ThreadKey, ev.ChannelID, pinned.ReplyTarget)
	close(recorded)
}

// settle runs when a burst goes quiet. ev is the most recent event of the
// burst; origin comes from its first.
func (g *Gateway) settle(ev event.Inbound, combined string, origin debounce.Origin) {
	threadKey := origin.ThreadKey
	if !g.activity.BeginProcessing(threadKey) {
		g.activity.RecordUser(g.ctx, threadKey, ev.ChannelID, origin.ReplyTarget)
	}

	err := g.pipeline.Submit(pipeline.Request{
		ThreadKey:   threadKey,
		SubjectID:   ev.SubjectID(),
		ChannelID:   ev.ChannelID,
		ChannelName: ev.ChannelName,
		ReplyTarget: origin.ReplyTarget,
		Text:        combined,
	})
	if err != nil {
		g.logger.Warn("settled message not processed", "thread", threadKey, "error", err)
		g.activity.RecordBotError(threadKey)
	}
}

// CloseThread ends a thread before its inactivity deadline. It reports whether
// the thread was open.
func (g *Gateway) CloseThread(ctx context.Context, threadKey string) bool {
	return g.activity.Close(ctx, threadKey)
}

// publish is the entry point for the webhook: the queue when one is
// configured, otherwise Ingest.
func (g *Gateway) publish(ctx context.Context, ev event.Inbound) error {
	if g.queue != nil {
		return g.queue.Publish(ctx, ev)
	}
	g.Ingest(ctx, ev)
	return nil
}

// queueIngester routes a transport's events through the queue.
type queueIngester struct {
	queue  *queue.Queue
	logger *slog.Logger
}

func (q queueIngester) Ingest(ctx context.Context, ev event.Inbound) {
	if err := q.queue.Publish(ctx, ev); err != nil {
		q.logger.Error("publishing event failed", "event_id", ev.EventID, "error", err)
	}
}

// logDeliverer writes replies to the log. It is used when no chat transport
// is configured.
type logDeliverer struct {
	logger *slog.Logger
}

func (d logDeliverer) Deliver(_ context.Context, channelID, text, replyTarget string) error {
	d.logger.Info("reply", "channel", channelID, "reply_target", replyTarget, "text", text)
	return nil
}
