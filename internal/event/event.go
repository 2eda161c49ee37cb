// ABOUTME: Inbound message shape shared by transports, the queue and the pipeline
// ABOUTME: Derives thread and debounce keys from channel, user and thread identifiers

package event

import (
	"strings"
	"time"
)

// Inbound is a single user message as delivered by a transport. It is created at
// the transport boundary and never mutated afterwards.
type Inbound struct {
	EventID     string
	ChannelID   string
	ChannelName string
	UserID      string

	// ThreadTS is the platform thread identifier, empty for top-level messages.
	ThreadTS string

	// ReplyTarget is where a response should be posted. Transports usually set it
	// to ThreadTS, or to the message's own id when the message starts a thread.
	ReplyTarget string

	Text        string
	ArrivalTime time.Time
}

// SubjectID identifies the conversant. Cache keys and knowledge lookups use it.
func (e Inbound) SubjectID() string {
	return e.UserID
}

// ThreadKey returns "channel:thread" for threaded messages and "channel:user"
// for top-level ones.
func (e Inbound) ThreadKey() string {
	return ThreadKey(e.ChannelID, e.ThreadTS, e.UserID)
}

// DebounceKey groups messages from one user in one channel.
func (e Inbound) DebounceKey() string {
	return e.ChannelID + ":" + e.UserID
}

// ThreadKey builds the activity/history key for a message.
func ThreadKey(channelID, threadTS, userID string) string {
	if strings.TrimSpace(threadTS) != "" {
		return channelID + ":" + threadTS
	}
	return channelID + ":" + userID
}
