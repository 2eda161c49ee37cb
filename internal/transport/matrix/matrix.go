// ABOUTME: Matrix transport that feeds room messages to the gateway and posts replies
// ABOUTME: Replies are threaded under the triggering event and rendered to HTML

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	mxevent "maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/helpdesk-gateway/internal/event"
	"github.com/2389/helpdesk-gateway/internal/transport"
)

// networkTimeout bounds a single send when the caller's context has no deadline.
const networkTimeout = 30 * time.Second

// Config holds the Matrix connection and room settings.
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedRooms []string

	// Channels maps room ids to the channel names used for product routing.
	// Rooms without an entry route on the room id itself.
	Channels map[string]string
}

// Adapter is both the inbound and outbound side of the Matrix transport.
type Adapter struct {
	client   *mautrix.Client
	userID   id.UserID
	allowed  map[string]bool
	channels map[string]string
	ingester transport.Ingester
	logger   *slog.Logger
}

var _ transport.Deliverer = (*Adapter)(nil)

// New creates an Adapter. Inbound messages go to ingester once Run is called.
func New(cfg Config, ingester transport.Ingester, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	allowed := make(map[string]bool, len(cfg.AllowedRooms))
	for _, room := range cfg.AllowedRooms {
		allowed[room] = true
	}
	channels := make(map[string]string, len(cfg.Channels))
	for room, name := range cfg.Channels {
		channels[room] = name
	}

	return &Adapter{
		client:   client,
		userID:   id.UserID(cfg.UserID),
		allowed:  allowed,
		channels: channels,
		ingester: ingester,
		logger:   logger.With("component", "matrix"),
	}, nil
}

// Run syncs with the homeserver and blocks until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	syncer, ok := a.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", a.client.Syncer)
	}
	syncer.OnEventType(mxevent.EventMessage, a.handleMessageEvent)

	a.logger.Info("connecting to matrix homeserver", "user_id", a.userID.String())

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- a.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down matrix sync")
		a.client.StopSync()
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// Deliver posts text to the room channelID, threaded under replyTarget when set.
func (a *Adapter) Deliver(ctx context.Context, channelID, text, replyTarget string) error {
	content := &mxevent.MessageEventContent{
		MsgType: mxevent.MsgText,
		Body:    plainBody(text),
	}
	if html, ok := htmlBody(text); ok {
		content.Format = mxevent.FormatHTML
		content.FormattedBody = html
	}
	if replyTarget != "" {
		target := id.EventID(replyTarget)
		content.RelatesTo = (&mxevent.RelatesTo{}).SetThread(target, target)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, networkTimeout)
		defer cancel()
	}

	if _, err := a.client.SendMessageEvent(ctx, id.RoomID(channelID), mxevent.EventMessage, content); err != nil {
		return fmt.Errorf("sending to room %s: %w", channelID, err)
	}
	return nil
}

// handleMessageEvent turns a room text message into an inbound event.
func (a *Adapter) handleMessageEvent(ctx context.Context, evt *mxevent.Event) {
	if evt.Sender == a.userID {
		return
	}

	content, ok := evt.Content.Parsed.(*mxevent.MessageEventContent)
	if !ok || content.MsgType != mxevent.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	if !a.isRoomAllowed(roomID) {
		a.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	body := strings.TrimSpace(content.Body)
	if body == "" {
		return
	}

	var thread string
	if content.RelatesTo != nil {
		thread = content.RelatesTo.GetThreadParent().String()
	}
	reply := thread
	if reply == "" {
		reply = evt.ID.String()
	}

	channelName := a.channels[roomID]
	if channelName == "" {
		channelName = roomID
	}

	a.ingester.Ingest(ctx, event.Inbound{
		EventID:     evt.ID.String(),
		ChannelID:   roomID,
		ChannelName: channelName,
		UserID:      evt.Sender.String(),
		ThreadTS:    thread,
		ReplyTarget: reply,
		Text:        body,
		ArrivalTime: arrivalTime(evt.Timestamp),
	})
}

// isRoomAllowed checks if the room is in the allowed list.
func (a *Adapter) isRoomAllowed(roomID string) bool {
	if len(a.allowed) == 0 {
		return true
	}
	return a.allowed[roomID]
}

func arrivalTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
