// ABOUTME: Tests for the Matrix adapter against an httptest homeserver
// ABOUTME: Covers reply threading, HTML rendering and inbound event mapping

package matrix

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mxevent "maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/helpdesk-gateway/internal/event"
)

type recordingIngester struct {
	mu     sync.Mutex
	events []event.Inbound
}

func (r *recordingIngester) Ingest(_ context.Context, ev event.Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type fakeHomeserver struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]any
	status int
}

func (f *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	f.bodies = append(f.bodies, body)

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"nope"}`))
		return
	}
	_, _ = w.Write([]byte(`{"event_id":"$reply"}`))
}

func newTestAdapter(t *testing.T, hs http.Handler, cfg Config) (*Adapter, *recordingIngester) {
	t.Helper()
	homeserver := "https://matrix.example.org"
	if hs != nil {
		srv := httptest.NewServer(hs)
		t.Cleanup(srv.Close)
		homeserver = srv.URL
	}
	cfg.Homeserver = homeserver
	cfg.UserID = "@helpdesk:example.org"
	cfg.AccessToken = "syt_test"

	in := &recordingIngester{}
	a, err := New(cfg, in, nil)
	require.NoError(t, err)
	return a, in
}

func TestDeliver_ThreadedHTML(t *testing.T) {
	hs := &fakeHomeserver{}
	a, _ := newTestAdapter(t, hs, Config{})

	err := a.Deliver(context.Background(), "!room:example.org", ":warning: *Heads up*\n\n1. Reset", "$root")
	require.NoError(t, err)

	require.Len(t, hs.paths, 1)
	assert.True(t, strings.HasPrefix(hs.paths[0], "PUT "))
	assert.Contains(t, hs.paths[0], "/rooms/!room:example.org/send/m.room.message/")

	body := hs.bodies[0]
	assert.Equal(t, "m.text", body["msgtype"])
	assert.Equal(t, "⚠️ *Heads up*\n\n1. Reset", body["body"])
	assert.Equal(t, "org.matrix.custom.html", body["format"])
	assert.Contains(t, body["formatted_body"], "<strong>Heads up</strong>")
	assert.Contains(t, body["formatted_body"], "<ol>")

	rel, ok := body["m.relates_to"].(map[string]any)
	require.True(t, ok, "reply should carry a relation")
	assert.Equal(t, "m.thread", rel["rel_type"])
	assert.Equal(t, "$root", rel["event_id"])
}

func TestDeliver_NoReplyTarget(t *testing.T) {
	hs := &fakeHomeserver{}
	a, _ := newTestAdapter(t, hs, Config{})

	require.NoError(t, a.Deliver(context.Background(), "!room:example.org", "hello", ""))
	require.Len(t, hs.bodies, 1)
	_, hasRelation := hs.bodies[0]["m.relates_to"]
	assert.False(t, hasRelation)
}

func TestDeliver_Error(t *testing.T) {
	hs := &fakeHomeserver{status: http.StatusForbidden}
	a, _ := newTestAdapter(t, hs, Config{})

	err := a.Deliver(context.Background(), "!room:example.org", "hello", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "!room:example.org")
}

func textEvent(room, sender, body string, rel *mxevent.RelatesTo) *mxevent.Event {
	return &mxevent.Event{
		ID:        id.EventID("$evt1"),
		RoomID:    id.RoomID(room),
		Sender:    id.UserID(sender),
		Timestamp: 1772366400000,
		Content: mxevent.Content{Parsed: &mxevent.MessageEventContent{
			MsgType:   mxevent.MsgText,
			Body:      body,
			RelatesTo: rel,
		}},
	}
}

func TestHandleMessageEvent_TopLevel(t *testing.T) {
	a, in := newTestAdapter(t, nil, Config{Channels: map[string]string{"!r:x": "artemishelp"}})

	a.handleMessageEvent(context.Background(), textEvent("!r:x", "@alice:x", "  cannot log in ", nil))

	require.Len(t, in.events, 1)
	ev := in.events[0]
	assert.Equal(t, "$evt1", ev.EventID)
	assert.Equal(t, "artemishelp", ev.ChannelName)
	assert.Equal(t, "cannot log in", ev.Text)
	assert.Empty(t, ev.ThreadTS)
	assert.Equal(t, "$evt1", ev.ReplyTarget)
	assert.Equal(t, "!r:x:@alice:x", ev.ThreadKey())
	assert.Equal(t, time.UnixMilli(1772366400000), ev.ArrivalTime)
}

func TestHandleMessageEvent_Threaded(t *testing.T) {
	a, in := newTestAdapter(t, nil, Config{})
	rel := (&mxevent.RelatesTo{}).SetThread("$root", "$root")

	a.handleMessageEvent(context.Background(), textEvent("!r:x", "@alice:x", "still broken", rel))

	require.Len(t, in.events, 1)
	assert.Equal(t, "$root", in.events[0].ThreadTS)
	assert.Equal(t, "$root", in.events[0].ReplyTarget)
	assert.Equal(t, "!r:x", in.events[0].ChannelName)
}

func TestHandleMessageEvent_Ignored(t *testing.T) {
	a, in := newTestAdapter(t, nil, Config{AllowedRooms: []string{"!allowed:x"}})

	a.handleMessageEvent(context.Background(), textEvent("!other:x", "@alice:x", "hi", nil))
	a.handleMessageEvent(context.Background(), textEvent("!allowed:x", "@helpdesk:example.org", "my own reply", nil))
	a.handleMessageEvent(context.Background(), textEvent("!allowed:x", "@alice:x", "   ", nil))

	notice := textEvent("!allowed:x", "@alice:x", "notice", nil)
	notice.Content.Parsed.(*mxevent.MessageEventContent).MsgType = mxevent.MsgNotice
	a.handleMessageEvent(context.Background(), notice)

	assert.Empty(t, in.events)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "✅ done :unknown_code:", plainBody(":white_check_mark: done :unknown_code:"))
	assert.Equal(t, "**bold** and _it_ and 2*3*4", toMarkdown("*bold* and _it_ and 2*3*4"))

	html, ok := htmlBody("*API Results:*\n• `user`: ok")
	require.True(t, ok)
	assert.Contains(t, html, "<strong>API Results:</strong>")
	assert.Contains(t, html, "<code>user</code>")
}
