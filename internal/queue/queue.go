// ABOUTME: Watermill-backed event queue with gochannel and Redis Streams backends
// ABOUTME: Publishes inbound events as JSON and feeds consumed events to an Ingester

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/2389/helpdesk-gateway/internal/event"
	"github.com/2389/helpdesk-gateway/internal/transport"
)

// DefaultTopic is the stream events are published to.
const DefaultTopic = "helpdesk.events"

// PartitionKeyMetadata names the metadata entry holding the channel id.
const PartitionKeyMetadata = "partition_key"

// Payload is the wire form of an inbound event.
type Payload struct {
	EventID     string    `json:"eventId"`
	ChannelID   string    `json:"channelId"`
	ChannelName string    `json:"channelName"`
	UserID      string    `json:"userId"`
	ThreadTS    string    `json:"threadTs,omitempty"`
	ReplyTarget string    `json:"replyTarget,omitempty"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// Encode builds a watermill message for ev.
func Encode(ev event.Inbound) (*message.Message, error) {
	body, err := json.Marshal(Payload{
		EventID:     ev.EventID,
		ChannelID:   ev.ChannelID,
		ChannelName: ev.ChannelName,
		UserID:      ev.UserID,
		ThreadTS:    ev.ThreadTS,
		ReplyTarget: ev.ReplyTarget,
		Text:        ev.Text,
		Timestamp:   ev.ArrivalTime,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), body)
	msg.Metadata.Set(PartitionKeyMetadata, ev.ChannelID)
	return msg, nil
}

// Decode parses a message produced by Encode.
func Decode(msg *message.Message) (event.Inbound, error) {
	var p Payload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return event.Inbound{}, fmt.Errorf("decoding event: %w", err)
	}
	if p.EventID == "" || p.ChannelID == "" {
		return event.Inbound{}, errors.New("decoding event: eventId and channelId are required")
	}
	arrival := p.Timestamp
	if arrival.IsZero() {
		arrival = time.Now()
	}
	return event.Inbound{
		EventID:     p.EventID,
		ChannelID:   p.ChannelID,
		ChannelName: p.ChannelName,
		UserID:      p.UserID,
		ThreadTS:    p.ThreadTS,
		ReplyTarget: p.ReplyTarget,
		Text:        p.Text,
		ArrivalTime: arrival,
	}, nil
}

// Queue publishes and consumes inbound events on one topic.
type Queue struct {
	pub    message.Publisher
	sub    message.Subscriber
	shared bool // pub and sub are the same gochannel
	topic  string
	logger *slog.Logger
}

// NewMemory creates an in-process queue. Messages published while nobody is
// consuming are dropped.
func NewMemory(topic string, logger *slog.Logger) *Queue {
	logger = componentLogger(logger)
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NewSlogLogger(logger))
	q := newQueue(ps, ps, topic, logger)
	q.shared = true
	return q
}

// RedisOptions configures a Redis Streams queue.
type RedisOptions struct {
	Client        redis.UniversalClient
	Topic         string
	ConsumerGroup string

	// Consumer names this replica within the group. Empty picks a random name.
	Consumer string
}

// NewRedis creates a queue over Redis Streams.
func NewRedis(opts RedisOptions, logger *slog.Logger) (*Queue, error) {
	logger = componentLogger(logger)
	wlog := watermill.NewSlogLogger(logger)
	if opts.Consumer == "" {
		opts.Consumer = "gateway-" + uuid.NewString()[:8]
	}

	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     opts.Client,
		Marshaller: marshaler,
	}, wlog)
	if err != nil {
		return nil, fmt.Errorf("creating redis publisher: %w", err)
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        opts.Client,
		Unmarshaller:  marshaler,
		ConsumerGroup: opts.ConsumerGroup,
		Consumer:      opts.Consumer,
	}, wlog)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("creating redis subscriber: %w", err)
	}

	return newQueue(pub, sub, opts.Topic, logger), nil
}

func newQueue(pub message.Publisher, sub message.Subscriber, topic string, logger *slog.Logger) *Queue {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Queue{pub: pub, sub: sub, topic: topic, logger: logger}
}

func componentLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "queue")
}

// Topic returns the topic name.
func (q *Queue) Topic() string {
	return q.topic
}

// Publish enqueues ev.
func (q *Queue) Publish(ctx context.Context, ev event.Inbound) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	if err := q.pub.Publish(q.topic, msg); err != nil {
		return fmt.Errorf("publishing event %s: %w", ev.EventID, err)
	}
	q.logger.Debug("published event", "event_id", ev.EventID, "message_id", msg.UUID)
	return nil
}

// Consume feeds every message on the topic to in until ctx ends.
func (q *Queue) Consume(ctx context.Context, in transport.Ingester) error {
	messages, err := q.sub.Subscribe(ctx, q.topic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", q.topic, err)
	}
	q.logger.Info("consuming events", "topic", q.topic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			q.handle(ctx, msg, in)
		}
	}
}

func (q *Queue) handle(ctx context.Context, msg *message.Message, in transport.Ingester) {
	defer msg.Ack()

	ev, err := Decode(msg)
	if err != nil {
		q.logger.Error("dropping malformed event", "message_id", msg.UUID, "error", err)
		return
	}
	in.Ingest(ctx, ev)
}

// Close releases the publisher and the subscriber.
func (q *Queue) Close() error {
	var errs []error
	if err := q.pub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing publisher: %w", err))
	}
	if !q.shared {
		if err := q.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing subscriber: %w", err))
		}
	}
	return errors.Join(errs...)
}
