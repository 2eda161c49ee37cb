// ABOUTME: Orchestrator wiring the resolution stages, worker pool and tracing
// ABOUTME: Guarantees one reply per request and releases the processing flag

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/2389/helpdesk-gateway/internal/actions"
	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/conversation"
	"github.com/2389/helpdesk-gateway/internal/knowledge"
	"github.com/2389/helpdesk-gateway/internal/llm"
	"github.com/2389/helpdesk-gateway/internal/routing"
	"github.com/2389/helpdesk-gateway/internal/transport"
)

// DefaultMaxConcurrent caps simultaneous Handle runs started through Submit.
const DefaultMaxConcurrent = 16

const tracerName = "github.com/2389/helpdesk-gateway/internal/pipeline"

// Router resolves channels to products.
type Router interface {
	Resolve(channelName string) (string, error)
	Description(product string) string
}

// Mapper resolves intents to action names.
type Mapper interface {
	Actions(product, intent string) ([]string, error)
	Intents(product string) []string
}

// AnswerCache stores synthesized answers.
type AnswerCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, value string, ttl time.Duration)
}

// History records conversation turns.
type History interface {
	AddMessage(threadKey, role, content string)
	History(threadKey string) []conversation.Turn
}

// Activity receives the end of processing for a thread.
type Activity interface {
	RecordBot(threadKey string)
	RecordBotError(threadKey string)
}

// Request is one settled, possibly coalesced, user message.
type Request struct {
	ThreadKey   string
	SubjectID   string
	ChannelID   string
	ChannelName string
	ReplyTarget string
	Text        string
}

// Deps are the collaborators of an Orchestrator. Router, Mapper, LLM, Actions,
// Knowledge and Deliverer are required.
type Deps struct {
	Router    Router
	Mapper    Mapper
	LLM       llm.Completer
	Actions   actions.Invoker
	Knowledge knowledge.Retriever
	Deliverer transport.Deliverer

	Cache    AnswerCache
	History  History
	Activity Activity
	Tracer   trace.Tracer
}

// Options tunes an Orchestrator.
type Options struct {
	MaxConcurrent int
	MessageLimit  int
	CacheTTL      time.Duration
}

// Orchestrator runs requests through the pipeline.
type Orchestrator struct {
	router    Router
	mapper    Mapper
	llm       llm.Completer
	actions   actions.Invoker
	knowledge knowledge.Retriever
	deliverer transport.Deliverer
	cache     AnswerCache
	history   History
	activity  Activity
	tracer    trace.Tracer

	messageLimit int
	cacheTTL     time.Duration
	logger       *slog.Logger

	sem          *semaphore.Weighted
	acceptCtx    context.Context
	cancelAccept context.CancelFunc
	mu           sync.Mutex
	closed       bool
	inflight     sync.WaitGroup
}

// New validates deps and creates an Orchestrator.
func New(deps Deps, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Router == nil:
		return nil, errors.New("pipeline: router is required")
	case deps.Mapper == nil:
		return nil, errors.New("pipeline: mapper is required")
	case deps.LLM == nil:
		return nil, errors.New("pipeline: llm is required")
	case deps.Actions == nil:
		return nil, errors.New("pipeline: actions invoker is required")
	case deps.Knowledge == nil:
		return nil, errors.New("pipeline: knowledge retriever is required")
	case deps.Deliverer == nil:
		return nil, errors.New("pipeline: deliverer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = transport.DefaultMessageLimit
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	o := &Orchestrator{
		router:       deps.Router,
		mapper:       deps.Mapper,
		llm:          deps.LLM,
		actions:      deps.Actions,
		knowledge:    deps.Knowledge,
		deliverer:    deps.Deliverer,
		cache:        deps.Cache,
		history:      deps.History,
		activity:     deps.Activity,
		tracer:       tracer,
		messageLimit: opts.MessageLimit,
		cacheTTL:     opts.CacheTTL,
		logger:       logger.With("component", "pipeline"),
		sem:          semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
	o.acceptCtx, o.cancelAccept = context.WithCancel(context.Background())
	return o, nil
}

// Submit runs req on the worker pool. It blocks while the pool is full and
// returns ErrClosed once Close has been called. The run itself is detached from
// the caller and always completes.
func (o *Orchestrator) Submit(req Request) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.inflight.Add(1)
	o.mu.Unlock()

	if err := o.sem.Acquire(o.acceptCtx, 1); err != nil {
		o.inflight.Done()
		return ErrClosed
	}
	go func() {
		defer o.inflight.Done()
		defer o.sem.Release(1)
		o.Handle(context.Background(), req)
	}()
	return nil
}

// Close stops accepting submissions and waits for in-flight runs until ctx ends.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancelAccept()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pipeline runs: %w", ctx.Err())
	}
}

// Handle runs req to completion and delivers exactly one reply.
func (o *Orchestrator) Handle(ctx context.Context, req Request) {
	ctx, span := o.tracer.Start(ctx, "pipeline.handle", trace.WithAttributes(
		attribute.String("channel.id", req.ChannelID),
		attribute.String("channel.name", req.ChannelName),
		attribute.String("thread.key", req.ThreadKey),
	))
	defer span.End()

	logger := o.logger.With("thread", req.ThreadKey, "channel", req.ChannelName)
	start := time.Now()
	answered := false

	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic", "panic", r, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			answered = o.deliverSafely(ctx, req, GenericErrorText)
		}
		o.release(req.ThreadKey, answered)
		logger.Info("pipeline finished", "answered", answered, "duration", time.Since(start))
	}()

	var history []conversation.Turn
	if o.history != nil {
		history = o.history.History(req.ThreadKey)
		o.history.AddMessage(req.ThreadKey, conversation.RoleUser, req.Text)
	}

	text, outcome, err := o.resolve(ctx, req, history, logger)
	if err != nil {
		logger.Error("pipeline error", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		answered = o.deliver(ctx, req, GenericErrorText, false)
		return
	}
	span.SetAttributes(attribute.String("pipeline.outcome", outcome))
	answered = o.deliver(ctx, req, text, true)
}

func (o *Orchestrator) release(threadKey string, answered bool) {
	if o.activity == nil {
		return
	}
	if answered {
		o.activity.RecordBot(threadKey)
	} else {
		o.activity.RecordBotError(threadKey)
	}
}

// resolve returns the reply text and a short outcome label. A terminal
// routing or mapping condition is a reply, not an error.
func (o *Orchestrator) resolve(ctx context.Context, req Request, history []conversation.Turn, logger *slog.Logger) (string, string, error) {
	product, err := o.route(ctx, req.ChannelName)
	if err != nil {
		if errors.Is(err, ErrRouteNotFound) {
			logger.Warn("no product for channel")
			return RouteNotFoundText, "route_not_found", nil
		}
		return "", "", err
	}
	logger = logger.With("product", product)

	intent := o.intent(ctx, product, req.Text, history)
	logger.Info("intent detected", "intent", intent.Name, "params", intent.Parameters)

	key := cache.Key(req.SubjectID, product, intent.Name)
	if cached, ok := o.cacheGet(ctx, key); ok {
		logger.Info("cache hit", "key", key)
		return cached, "cache_hit", nil
	}

	names, err := o.mapIntent(ctx, product, intent.Name)
	if err != nil {
		var nf *IntentNotFoundError
		if errors.As(err, &nf) {
			logger.Warn("no action mapping", "intent", intent.Name)
			return IntentNotFoundText(product), "intent_not_found", nil
		}
		return "", "", err
	}

	results, docs := o.fanOut(ctx, product, names, intent, req.Text)
	logger.Info("fan-out joined", "actions", len(results), "docs", len(docs))

	sctx, span := o.tracer.Start(ctx, "pipeline.synthesis")
	answer := o.synthesize(sctx, req.Text, results, docs)
	span.End()

	if o.cache != nil {
		o.cache.Put(ctx, key, answer, o.cacheTTL)
	}
	return answer, "answered", nil
}

func (o *Orchestrator) route(ctx context.Context, channelName string) (string, error) {
	_, span := o.tracer.Start(ctx, "pipeline.route")
	defer span.End()

	product, err := o.router.Resolve(channelName)
	if err != nil {
		if errors.Is(err, routing.ErrUnknownChannel) {
			return "", fmt.Errorf("%w: %w", ErrRouteNotFound, err)
		}
		return "", fmt.Errorf("resolve route: %w", err)
	}
	span.SetAttributes(attribute.String("product", product))
	return product, nil
}

func (o *Orchestrator) intent(ctx context.Context, product, text string, history []conversation.Turn) Intent {
	ictx, span := o.tracer.Start(ctx, "pipeline.intent")
	defer span.End()

	intent := o.detectIntent(ictx, product, text, history)
	span.SetAttributes(attribute.String("intent", intent.Name))
	return intent
}

func (o *Orchestrator) cacheGet(ctx context.Context, key string) (string, bool) {
	if o.cache == nil {
		return "", false
	}
	cctx, span := o.tracer.Start(ctx, "pipeline.cache")
	defer span.End()

	val, ok := o.cache.Get(cctx, key)
	span.SetAttributes(attribute.Bool("cache.hit", ok))
	return val, ok
}

func (o *Orchestrator) mapIntent(ctx context.Context, product, intent string) ([]string, error) {
	_, span := o.tracer.Start(ctx, "pipeline.mapping")
	defer span.End()

	names, err := o.mapper.Actions(product, intent)
	if err != nil {
		if errors.Is(err, routing.ErrNoMapping) {
			return nil, &IntentNotFoundError{Product: product, Intent: intent, Err: err}
		}
		return nil, fmt.Errorf("map intent: %w", err)
	}
	span.SetAttributes(attribute.StringSlice("actions", names))
	return names, nil
}

// fanOut invokes every action and queries knowledge concurrently. A panic in a
// branch degrades that branch: unfinished actions become failures and the
// knowledge result becomes empty.
func (o *Orchestrator) fanOut(ctx context.Context, product string, names []string, intent Intent, query string) ([]actions.Result, []knowledge.Result) {
	ctx, span := o.tracer.Start(ctx, "pipeline.fanout")
	defer span.End()

	results := make([]actions.Result, len(names))
	var docs []knowledge.Result

	var g errgroup.Group
	g.Go(func() error {
		actx, aspan := o.tracer.Start(ctx, "pipeline.actions")
		defer aspan.End()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("action branch panic", "panic", r, "stack", string(debug.Stack()))
				for i := range results {
					if results[i].Name == "" {
						results[i] = actions.Failure(names[i], "internal error")
					}
				}
			}
		}()
		for i, name := range names {
			results[i] = o.actions.Invoke(actx, product, name, intent.Parameters)
		}
		return nil
	})
	g.Go(func() error {
		kctx, kspan := o.tracer.Start(ctx, "pipeline.knowledge")
		defer kspan.End()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("knowledge branch panic", "panic", r, "stack", string(debug.Stack()))
				docs = nil
			}
		}()
		docs = o.knowledge.Query(kctx, product, query)
		return nil
	})
	_ = g.Wait()

	return results, docs
}

// deliverSafely is deliver for the recovery path, where a second panic must
// not escape.
func (o *Orchestrator) deliverSafely(ctx context.Context, req Request, text string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("delivery panic", "panic", r)
			ok = false
		}
	}()
	return o.deliver(ctx, req, text, false)
}

// deliver posts text and reports whether every part reached the transport.
// record adds the reply to the conversation history.
func (o *Orchestrator) deliver(ctx context.Context, req Request, text string, record bool) bool {
	ctx, span := o.tracer.Start(ctx, "pipeline.deliver")
	defer span.End()

	if err := transport.DeliverAll(ctx, o.deliverer, req.ChannelID, text, req.ReplyTarget, o.messageLimit); err != nil {
		o.logger.Error("delivery failed", "channel", req.ChannelID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false
	}
	if record && o.history != nil {
		o.history.AddMessage(req.ThreadKey, conversation.RoleAssistant, text)
	}
	return true
}
