// ABOUTME: Tests for the Gateway composition root and its inbound path
// ABOUTME: Runs the real HTTP server with in-memory backends and a recording deliverer

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk-gateway/internal/activity"
	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/conversation"
	"github.com/2389/helpdesk-gateway/internal/event"
	"github.com/2389/helpdesk-gateway/internal/store"
)

type delivery struct {
	channelID   string
	text        string
	replyTarget string
}

type recordingDeliverer struct {
	mu  sync.Mutex
	out []delivery
}

func (d *recordingDeliverer) Deliver(_ context.Context, channelID, text, replyTarget string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = append(d.out, delivery{channelID: channelID, text: text, replyTarget: replyTarget})
	return nil
}

func (d *recordingDeliverer) all() []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivery(nil), d.out...)
}

type recordingCompleter struct {
	mu    sync.Mutex
	users []string
}

func (c *recordingCompleter) Complete(_ context.Context, _, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, user)
	return "", errors.New("offline")
}

func (c *recordingCompleter) prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.users...)
}

// testConfig creates a minimal config for testing with an available port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := config.Default()
	cfg.Server.HTTPAddr = addr
	cfg.Debounce.Delay = 20 * time.Millisecond
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	gw        *Gateway
	cfg       *config.Config
	deliverer *recordingDeliverer
	completer *recordingCompleter
	ledger    *store.MockStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cfg:       testConfig(t),
		deliverer: &recordingDeliverer{},
		completer: &recordingCompleter{},
		ledger:    store.NewMockStore(),
	}
	gw, err := New(context.Background(), h.cfg, testLogger(),
		WithDeliverer(h.deliverer),
		WithCompleter(h.completer),
		WithSessionStore(h.ledger),
	)
	require.NoError(t, err)
	h.gw = gw
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return h
}

// run starts the gateway and waits for the health endpoint.
func (h *harness) run(t *testing.T) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + h.cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	return func() error {
		stop()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			return errors.New("gateway did not stop")
		}
	}
}

func inbound(id, text string) event.Inbound {
	return event.Inbound{
		EventID:     id,
		ChannelID:   "C1",
		ChannelName: "artemishelp",
		UserID:      "U1",
		ReplyTarget: "1700000000.0001",
		Text:        text,
		ArrivalTime: time.Now(),
	}
}

func TestGatewayNew(t *testing.T) {
	h := newHarness(t)

	assert.Same(t, h.cfg, h.gw.config)
	product, err := h.gw.Router().Resolve("ArtemisHelp")
	require.NoError(t, err)
	assert.Equal(t, "artemis", product)
	assert.Nil(t, h.gw.queue)
	assert.Nil(t, h.gw.matrix)
}

func TestGatewayNew_InvalidBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Kind = config.BackendRedis
	cfg.Backend.Redis.Addr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, testLogger(), WithDeliverer(&recordingDeliverer{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to redis")
}

func TestGatewayRunAndShutdown(t *testing.T) {
	h := newHarness(t)
	stop := h.run(t)

	resp, err := http.Get("http://" + h.cfg.Server.HTTPAddr + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	assert.NoError(t, stop())
	assert.NoError(t, h.gw.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestGateway_WebhookEventAnswered(t *testing.T) {
	h := newHarness(t)
	stop := h.run(t)
	defer func() { assert.NoError(t, stop()) }()

	payload := `{"eventId":"E1","channelId":"C1","channelName":"artemishelp","userId":"U1","messageTs":"1700000000.0001","text":"my account is locked"}`
	resp, err := http.Post("http://"+h.cfg.Server.HTTPAddr+"/api/events", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool { return len(h.deliverer.all()) == 1 }, 3*time.Second, 10*time.Millisecond)
	got := h.deliverer.all()[0]
	assert.Equal(t, "C1", got.channelID)
	assert.Equal(t, "1700000000.0001", got.replyTarget)
	assert.NotEmpty(t, got.text)

	stats, err := h.ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Open)
}

func TestGateway_DuplicateEventIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gw.Ingest(ctx, inbound("E1", "my account is locked"))
	require.Eventually(t, func() bool { return len(h.deliverer.all()) == 1 }, 3*time.Second, 10*time.Millisecond)

	h.gw.Ingest(ctx, inbound("E1", "my account is locked"))
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, h.deliverer.all(), 1)
}

func TestGateway_BurstCoalesced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gw.Ingest(ctx, inbound("E1", "my account"))
	h.gw.Ingest(ctx, inbound("E2", "is locked"))

	require.Eventually(t, func() bool { return len(h.deliverer.all()) == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.deliverer.all(), 1)

	prompts := h.completer.prompts()
	require.NotEmpty(t, prompts)
	assert.Contains(t, prompts[0], "my account is locked")
}

func TestGateway_BurstRecordedUnderFirstThread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	threaded := inbound("E1", "my account")
	threaded.ThreadTS = "1700000000.0001"
	topLevel := inbound("E2", "is locked")
	topLevel.ReplyTarget = "1700000000.0002"

	h.gw.Ingest(ctx, threaded)
	h.gw.Ingest(ctx, topLevel)

	require.Eventually(t, func() bool {
		th, ok := h.gw.activity.Get("C1:1700000000.0001")
		return ok && !th.LastBotTime.IsZero()
	}, 3*time.Second, 10*time.Millisecond)

	got := h.deliverer.all()
	require.Len(t, got, 1)
	assert.Equal(t, "1700000000.0001", got[0].replyTarget)

	_, ok := h.gw.activity.Get(topLevel.ThreadKey())
	assert.False(t, ok, "no record under the top-level key")
	assert.Len(t, h.gw.conversations.History("C1:1700000000.0001"), 2)
	assert.Empty(t, h.gw.conversations.History(topLevel.ThreadKey()))

	assert.True(t, h.gw.CloseThread(ctx, "C1:1700000000.0001"))
}

func TestGateway_ArrivalRecordedBeforeSettle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Debounce.Delay = time.Hour
	d := &recordingDeliverer{}

	gw, err := New(context.Background(), cfg, testLogger(),
		WithDeliverer(d),
		WithCompleter(&recordingCompleter{}),
	)
	require.NoError(t, err)

	ev := inbound("E1", "my account is locked")
	before := time.Now()
	gw.Ingest(context.Background(), ev)

	th, ok := gw.activity.Get(ev.ThreadKey())
	require.True(t, ok)
	assert.False(t, th.LastUserTime.Before(before))
	assert.True(t, th.Processing)
	assert.Equal(t, 1, gw.debouncer.Pending())

	require.NoError(t, gw.Shutdown(context.Background()))
	assert.Len(t, d.all(), 1)
}

func TestGateway_CloseThread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ev := inbound("E1", "my account is locked")
	h.gw.Ingest(ctx, ev)
	require.Eventually(t, func() bool {
		th, ok := h.gw.activity.Get(ev.ThreadKey())
		return ok && !th.Processing && !th.LastBotTime.IsZero()
	}, 3*time.Second, 10*time.Millisecond)
	require.Len(t, h.deliverer.all(), 1)

	assert.True(t, h.gw.CloseThread(ctx, ev.ThreadKey()))
	assert.False(t, h.gw.CloseThread(ctx, ev.ThreadKey()))

	got := h.deliverer.all()
	require.Len(t, got, 2)
	assert.Equal(t, ExplicitClosureText, got[1].text)
	assert.Empty(t, h.gw.conversations.History(ev.ThreadKey()))

	stats, err := h.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Open)
	assert.Equal(t, 1, stats.Closed)
}

func TestGateway_ShutdownFlushesPendingBursts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Debounce.Delay = time.Hour
	d := &recordingDeliverer{}

	gw, err := New(context.Background(), cfg, testLogger(),
		WithDeliverer(d),
		WithCompleter(&recordingCompleter{}),
	)
	require.NoError(t, err)

	gw.Ingest(context.Background(), inbound("E1", "my account is locked"))
	assert.Empty(t, d.all())

	require.NoError(t, gw.Shutdown(context.Background()))
	assert.Len(t, d.all(), 1)
}

func newTestNotifier() (*sessionNotifier, *recordingDeliverer, *conversation.Store, *store.MockStore) {
	d := &recordingDeliverer{}
	history := conversation.New(conversation.Options{}, testLogger())
	ledger := store.NewMockStore()
	n := &sessionNotifier{
		deliverer: d,
		history:   history,
		ledger:    ledger,
		limit:     3000,
		now:       time.Now,
		logger:    testLogger(),
	}
	return n, d, history, ledger
}

func testThread() activity.Thread {
	return activity.Thread{
		Key:          "C1:1700000000.0001",
		SessionID:    "S1",
		ChannelID:    "C1",
		ReplyTarget:  "1700000000.0001",
		LastUserTime: time.Now(),
	}
}

func TestSessionNotifier_Remind(t *testing.T) {
	n, d, _, ledger := newTestNotifier()
	ctx := context.Background()
	th := testThread()

	n.Opened(ctx, th)
	require.NoError(t, n.Remind(ctx, th))

	got := d.all()
	require.Len(t, got, 1)
	assert.Equal(t, ReminderText, got[0].text)
	assert.Equal(t, th.ReplyTarget, got[0].replyTarget)

	s, err := ledger.GetSession(ctx, "S1")
	require.NoError(t, err)
	assert.False(t, s.RemindedAt.IsZero())
	assert.True(t, s.Open())
}

func TestSessionNotifier_RemindDeliveryFailure(t *testing.T) {
	n, _, _, ledger := newTestNotifier()
	n.deliverer = failingDeliverer{}
	ctx := context.Background()
	th := testThread()

	n.Opened(ctx, th)
	require.Error(t, n.Remind(ctx, th))

	s, err := ledger.GetSession(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, s.RemindedAt.IsZero())
}

func TestSessionNotifier_ClosedForInactivity(t *testing.T) {
	n, d, history, ledger := newTestNotifier()
	ctx := context.Background()
	th := testThread()
	th.CloseReason = activity.CloseInactivity

	history.AddMessage(th.Key, conversation.RoleUser, "hello")
	n.Opened(ctx, th)
	n.Closed(ctx, th)

	got := d.all()
	require.Len(t, got, 1)
	assert.Equal(t, ClosureText, got[0].text)
	assert.Empty(t, history.History(th.Key))

	s, err := ledger.GetSession(ctx, "S1")
	require.NoError(t, err)
	assert.False(t, s.Open())
}

func TestSessionNotifier_NilLedger(t *testing.T) {
	n, d, _, _ := newTestNotifier()
	n.ledger = nil
	ctx := context.Background()
	th := testThread()

	n.Opened(ctx, th)
	require.NoError(t, n.Remind(ctx, th))
	n.Closed(ctx, th)

	assert.Len(t, d.all(), 2)
}

type failingDeliverer struct{}

func (failingDeliverer) Deliver(context.Context, string, string, string) error {
	return errors.New("transport down")
}
