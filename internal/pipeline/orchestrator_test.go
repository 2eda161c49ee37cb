// ABOUTME: End-to-end tests of the orchestrator with in-memory collaborators
// ABOUTME: Covers every terminal state, fan-out degradation, the worker pool and spans

package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/2389/helpdesk-gateway/internal/actions"
	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/conversation"
	"github.com/2389/helpdesk-gateway/internal/knowledge"
	"github.com/2389/helpdesk-gateway/internal/llm"
	"github.com/2389/helpdesk-gateway/internal/routing"
)

type fakeLLM struct {
	mu          sync.Mutex
	intentReply string
	intentErr   error
	synthReply  string
	synthErr    error
	intentCalls []string
	synthCalls  []string
}

func (f *fakeLLM) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.HasPrefix(system, "You are an expert") {
		f.synthCalls = append(f.synthCalls, user)
		return f.synthReply, f.synthErr
	}
	f.intentCalls = append(f.intentCalls, system+"\n---\n"+user)
	return f.intentReply, f.intentErr
}

func (f *fakeLLM) counts() (intent, synth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.intentCalls), len(f.synthCalls)
}

type fakeInvoker struct {
	mu      sync.Mutex
	results map[string]actions.Result
	panicOn string
	calls   []string
}

func (f *fakeInvoker) Invoke(_ context.Context, _, name string, _ map[string]string) actions.Result {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if name == f.panicOn {
		panic("invoker exploded")
	}
	if r, ok := f.results[name]; ok {
		return r
	}
	return actions.Success(name, map[string]any{"ok": true})
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRetriever struct {
	calls atomic.Int32
	docs  []knowledge.Result
	panic bool
}

func (f *fakeRetriever) Query(context.Context, string, string) []knowledge.Result {
	f.calls.Add(1)
	if f.panic {
		panic("retriever exploded")
	}
	return f.docs
}

type delivered struct {
	channel, text, replyTarget string
}

type fakeDeliverer struct {
	mu   sync.Mutex
	msgs []delivered
	err  error
}

func (f *fakeDeliverer) Deliver(_ context.Context, channelID, text, replyTarget string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, delivered{channelID, text, replyTarget})
	return nil
}

func (f *fakeDeliverer) messages() []delivered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivered(nil), f.msgs...)
}

type fakeActivity struct {
	mu     sync.Mutex
	bot    []string
	botErr []string
}

func (f *fakeActivity) RecordBot(k string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bot = append(f.bot, k)
}

func (f *fakeActivity) RecordBotError(k string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.botErr = append(f.botErr, k)
}

type harness struct {
	orch      *Orchestrator
	llm       *fakeLLM
	invoker   *fakeInvoker
	retriever *fakeRetriever
	out       *fakeDeliverer
	activity  *fakeActivity
	cache     *cache.ResponseCache
	history   *conversation.Store
	spans     *tracetest.SpanRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	router := routing.NewRouter([]routing.Product{
		{ID: "artemis", Description: "Artemis is a user management and access control platform.", Channels: []string{"artemishelp"}},
	}, nil)
	mapper := routing.NewMapper([]routing.Mapping{
		{AppID: "artemis", IntentName: "user_access_issue", APINames: []string{"user", "business"}},
	})

	local := cache.NewLocalBackend(100)
	t.Cleanup(func() { _ = local.Close() })

	h := &harness{
		llm:       &fakeLLM{intentReply: `{"intentName":"user_access_issue","parameters":{"userId":"USR-1"}}`, synthReply: "Here is your answer."},
		invoker:   &fakeInvoker{results: map[string]actions.Result{}},
		retriever: &fakeRetriever{docs: []knowledge.Result{{ID: "D1", Title: "Reactivation", Excerpt: "Do X", Score: 0.5}}},
		out:       &fakeDeliverer{},
		activity:  &fakeActivity{},
		cache:     cache.New(local, time.Minute, nil),
		history:   conversation.New(conversation.Options{}, nil),
		spans:     tracetest.NewSpanRecorder(),
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orch, err := New(Deps{
		Router:    router,
		Mapper:    mapper,
		LLM:       h.llm,
		Actions:   h.invoker,
		Knowledge: h.retriever,
		Deliverer: h.out,
		Cache:     h.cache,
		History:   h.history,
		Activity:  h.activity,
		Tracer:    tp.Tracer("test"),
	}, Options{MaxConcurrent: 2}, nil)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func request(channelName string) Request {
	return Request{
		ThreadKey:   "C1:U1",
		SubjectID:   "U1",
		ChannelID:   "C1",
		ChannelName: channelName,
		ReplyTarget: "ts-1",
		Text:        "I cannot log in",
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Options{}, nil)
	assert.Error(t, err)
}

func TestHandle_UnknownChannel(t *testing.T) {
	h := newHarness(t)
	h.orch.Handle(context.Background(), request("random"))

	msgs := h.out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RouteNotFoundText, msgs[0].text)
	assert.Equal(t, "ts-1", msgs[0].replyTarget)

	intent, synth := h.llm.counts()
	assert.Zero(t, intent)
	assert.Zero(t, synth)
	assert.Zero(t, h.invoker.count())
	assert.Equal(t, []string{"C1:U1"}, h.activity.bot)
}

func TestHandle_CacheHit(t *testing.T) {
	h := newHarness(t)
	h.cache.Put(context.Background(), cache.Key("U1", "artemis", "user_access_issue"), "cached answer", 0)

	h.orch.Handle(context.Background(), request("ArtemisHelp"))

	msgs := h.out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "cached answer", msgs[0].text)

	intent, synth := h.llm.counts()
	assert.Equal(t, 1, intent)
	assert.Zero(t, synth)
	assert.Zero(t, h.invoker.count())
	assert.Zero(t, h.retriever.calls.Load())
}

func TestHandle_PartialFailureStillSynthesizes(t *testing.T) {
	h := newHarness(t)
	h.invoker.results["business"] = actions.Failure("business", "backend timeout")

	h.orch.Handle(context.Background(), request("artemishelp"))

	msgs := h.out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Here is your answer.", msgs[0].text)

	require.Len(t, h.llm.synthCalls, 1)
	prompt := h.llm.synthCalls[0]
	assert.Contains(t, prompt, "API: user | Success: true")
	assert.Contains(t, prompt, "API: business | Success: false")
	assert.Contains(t, prompt, "Error: backend timeout")
	assert.Contains(t, prompt, "Title: Reactivation")

	cached, ok := h.cache.Get(context.Background(), cache.Key("U1", "artemis", "user_access_issue"))
	assert.True(t, ok)
	assert.Equal(t, "Here is your answer.", cached)

	hist := h.history.History("C1:U1")
	require.Len(t, hist, 2)
	assert.Equal(t, conversation.RoleUser, hist[0].Role)
	assert.Equal(t, conversation.RoleAssistant, hist[1].Role)
}

func TestHandle_AllCollaboratorsFail(t *testing.T) {
	h := newHarness(t)
	h.llm.intentErr = errors.New("llm down")
	h.llm.synthErr = errors.New("llm down")
	h.orch.mapper = routing.NewMapper([]routing.Mapping{
		{AppID: "artemis", IntentName: IntentServiceUnavailable, APINames: []string{"user"}},
	})
	h.invoker.results["user"] = actions.Failure("user", "unreachable")
	h.retriever.docs = nil

	h.orch.Handle(context.Background(), request("artemishelp"))

	msgs := h.out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, fallbackText([]actions.Result{actions.Failure("user", "unreachable")}, nil), msgs[0].text)
	assert.Contains(t, msgs[0].text, "AI synthesis is temporarily unavailable")
	assert.Contains(t, msgs[0].text, "✗ unreachable")
}

func TestHandle_ServiceUnavailableWithoutMapping(t *testing.T) {
	h := newHarness(t)
	h.llm.intentErr = errors.New("llm down")

	h.orch.Handle(context.Background(), request("artemishelp"))

	msgs := h.out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, IntentNotFoundText("artemis"), msgs[0].text)
	assert.Zero(t, h.invoker.count())
}

func TestHandle_DisabledLLMWithDefaultMappings(t *testing.T) {
	h := newHarness(t)
	mappings, err := routing.DefaultMappings()
	require.NoError(t, err)
	h.orch.mapper = routing.NewMapper(mappings)
	h.orch.llm = llm.Disabled{}

	h.orch.Handle(context.Background(), request("artemishelp"))

	msgs := h.out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, IntentNotFoundText("artemis"), msgs[0].text)
	assert.Zero(t, h.invoker.count())
	assert.Zero(t, h.retriever.calls.Load())
	assert.Equal(t, []string{"C1:U1"}, h.activity.bot)
}

func TestHandle_IntentCaseInsensitiveMapping(t *testing.T) {
	h := newHarness(t)
	h.llm.intentReply = "```json\n{\"intentName\":\"User_Access_Issue\",\"parameters\":{}}\n```"

	h.orch.Handle(context.Background(), request("artemishelp"))

	msgs := h.out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Here is your answer.", msgs[0].text)
	assert.Equal(t, 2, h.invoker.count())
}

func TestHandle_ActionPanicDegrades(t *testing.T) {
	h := newHarness(t)
	h.invoker.panicOn = "business"

	h.orch.Handle(context.Background(), request("artemishelp"))

	require.Len(t, h.out.messages(), 1)
	require.Len(t, h.llm.synthCalls, 1)
	assert.Contains(t, h.llm.synthCalls[0], "API: business | Success: false")
	assert.Contains(t, h.llm.synthCalls[0], "Error: internal error")
}

func TestHandle_RetrieverPanicDegrades(t *testing.T) {
	h := newHarness(t)
	h.retriever.panic = true

	h.orch.Handle(context.Background(), request("artemishelp"))

	require.Len(t, h.out.messages(), 1)
	require.Len(t, h.llm.synthCalls, 1)
	assert.NotContains(t, h.llm.synthCalls[0], "=== Relevant Documentation ===")
}

type panickyRouter struct{}

func (panickyRouter) Resolve(string) (string, error) { panic("router bug") }
func (panickyRouter) Description(string) string      { return "" }

func TestHandle_PanicBecomesGenericError(t *testing.T) {
	h := newHarness(t)
	h.orch.router = panickyRouter{}

	assert.NotPanics(t, func() {
		h.orch.Handle(context.Background(), request("artemishelp"))
	})

	msgs := h.out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, GenericErrorText, msgs[0].text)
	assert.Equal(t, []string{"C1:U1"}, h.activity.bot)
}

func TestHandle_DeliveryFailureReleasesAsError(t *testing.T) {
	h := newHarness(t)
	h.out.err = errors.New("platform down")

	h.orch.Handle(context.Background(), request("artemishelp"))

	assert.Empty(t, h.activity.bot)
	assert.Equal(t, []string{"C1:U1"}, h.activity.botErr)
}

func TestHandle_HistoryFeedsIntentPrompt(t *testing.T) {
	h := newHarness(t)
	h.history.AddMessage("C1:U1", conversation.RoleUser, "earlier question")
	h.history.AddMessage("C1:U1", conversation.RoleAssistant, "earlier answer")

	h.orch.Handle(context.Background(), request("artemishelp"))

	require.Len(t, h.llm.intentCalls, 1)
	call := h.llm.intentCalls[0]
	assert.Contains(t, call, "You are an enterprise support assistant for ARTEMIS.")
	assert.Contains(t, call, "  - user_access_issue")
	assert.Contains(t, call, "Conversation so far:\nuser: earlier question\nassistant: earlier answer\n")
	assert.True(t, strings.HasSuffix(call, "User message: I cannot log in"))
}

func TestHandle_LongReplySplit(t *testing.T) {
	h := newHarness(t)
	h.orch.messageLimit = 10
	h.llm.synthReply = "aaaa bbbb cccc dddd"

	h.orch.Handle(context.Background(), request("artemishelp"))

	msgs := h.out.messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "ts-1", m.replyTarget)
	}
	assert.Equal(t, "aaaa bbbb", msgs[0].text)
	assert.Equal(t, "cccc dddd", msgs[1].text)
}

func TestHandle_StageSpans(t *testing.T) {
	h := newHarness(t)
	h.orch.Handle(context.Background(), request("artemishelp"))

	var names []string
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	for _, want := range []string{
		"pipeline.handle", "pipeline.route", "pipeline.intent", "pipeline.cache",
		"pipeline.mapping", "pipeline.fanout", "pipeline.actions", "pipeline.knowledge",
		"pipeline.synthesis", "pipeline.deliver",
	} {
		assert.Contains(t, names, want)
	}
}

type blockingDeliverer struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func (b *blockingDeliverer) Deliver(context.Context, string, string, string) error {
	n := b.active.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-b.release
	b.active.Add(-1)
	return nil
}

func TestSubmit_BoundedConcurrency(t *testing.T) {
	h := newHarness(t)
	bd := &blockingDeliverer{release: make(chan struct{})}
	h.orch.deliverer = bd

	submitted := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			assert.NoError(t, h.orch.Submit(request("random")))
		}
		close(submitted)
	}()

	assert.Eventually(t, func() bool { return bd.active.Load() == 2 }, time.Second, time.Millisecond)
	select {
	case <-submitted:
		t.Fatal("submit did not apply backpressure")
	case <-time.After(20 * time.Millisecond):
	}

	close(bd.release)
	<-submitted
	require.NoError(t, h.orch.Close(context.Background()))
	assert.Equal(t, int32(2), bd.peak.Load())
}

func TestSubmit_AfterClose(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.Close(context.Background()))
	assert.ErrorIs(t, h.orch.Submit(request("artemishelp")), ErrClosed)
}

func TestClose_WaitsForInflight(t *testing.T) {
	h := newHarness(t)
	bd := &blockingDeliverer{release: make(chan struct{})}
	h.orch.deliverer = bd

	require.NoError(t, h.orch.Submit(request("random")))
	assert.Eventually(t, func() bool { return bd.active.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, h.orch.Close(ctx))

	close(bd.release)
	assert.NoError(t, h.orch.Close(context.Background()))
}
