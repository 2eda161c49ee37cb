// ABOUTME: Gateway composition root wiring transports to the conversational core
// ABOUTME: Manages HTTP, queue, Matrix and sweep lifecycles and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/helpdesk-gateway/internal/actions"
	"github.com/2389/helpdesk-gateway/internal/activity"
	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/conversation"
	"github.com/2389/helpdesk-gateway/internal/debounce"
	"github.com/2389/helpdesk-gateway/internal/dedupe"
	"github.com/2389/helpdesk-gateway/internal/knowledge"
	"github.com/2389/helpdesk-gateway/internal/llm"
	"github.com/2389/helpdesk-gateway/internal/pipeline"
	"github.com/2389/helpdesk-gateway/internal/queue"
	"github.com/2389/helpdesk-gateway/internal/routing"
	"github.com/2389/helpdesk-gateway/internal/store"
	"github.com/2389/helpdesk-gateway/internal/tracing"
	"github.com/2389/helpdesk-gateway/internal/transport"
	"github.com/2389/helpdesk-gateway/internal/transport/matrix"
	"github.com/2389/helpdesk-gateway/internal/transport/webhook"
)

// Gateway owns every long-lived component of the helpdesk service.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	backend       *backend
	dedupe        *dedupe.Deduplicator
	debouncer     *debounce.Debouncer
	conversations *conversation.Store
	activity      *activity.Monitor
	pipeline      *pipeline.Orchestrator
	router        *routing.Router
	ledger        store.SessionStore
	tracing       *tracing.Provider

	// optional transports
	queue      *queue.Queue
	matrix     *matrix.Adapter
	httpServer *http.Server

	// ctx scopes background work and settled messages; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes a Gateway.
type Option func(*options)

type options struct {
	deliverer transport.Deliverer
	completer llm.Completer
	ledger    store.SessionStore
}

// WithDeliverer replaces the configured outbound transport.
func WithDeliverer(d transport.Deliverer) Option {
	return func(o *options) { o.deliverer = d }
}

// WithCompleter replaces the configured LLM client.
func WithCompleter(c llm.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithSessionStore replaces the configured session ledger.
func WithSessionStore(s store.SessionStore) Option {
	return func(o *options) { o.ledger = s }
}

// New builds a Gateway from cfg. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gateway{config: cfg, logger: logger}
	g.ctx, g.cancel = context.WithCancel(context.Background())
	if err := g.build(ctx, o); err != nil {
		g.cancel()
		for _, cerr := range g.release() {
			logger.Warn("cleanup after failed start", "error", cerr)
		}
		return nil, err
	}
	return g, nil
}

func (g *Gateway) build(ctx context.Context, o options) error {
	cfg, logger := g.config, g.logger

	var err error
	g.tracing, err = tracing.Setup(ctx, tracing.Options{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		Headers:     cfg.Tracing.Headers,
	}, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	g.backend, err = buildBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var claimer dedupe.Claimer
	if g.backend.shared != nil {
		claimer = g.backend.shared
	}
	g.dedupe = dedupe.New(claimer, dedupe.Options{
		TTL:           cfg.Dedupe.TTL,
		LocalCapacity: cfg.Dedupe.LocalCapacity,
	}, logger)
	answers := cache.New(g.backend.cache, cfg.Cache.TTL, logger)

	g.conversations = conversation.New(conversation.Options{
		MaxTurns:      cfg.Conversation.MaxTurns,
		StaleAfter:    cfg.Conversation.StaleAfter,
		SweepInterval: cfg.Conversation.SweepInterval,
	}, logger)

	products, err := buildProducts(cfg)
	if err != nil {
		return err
	}
	mappings, err := buildMappings(cfg)
	if err != nil {
		return err
	}
	g.router = routing.NewRouter(products, logger)
	mapper := routing.NewMapper(mappings)

	index, err := knowledge.DefaultIndex(logger)
	if err != nil {
		return fmt.Errorf("loading knowledge base: %w", err)
	}

	completer := o.completer
	if completer == nil {
		if completer, err = buildCompleter(ctx, cfg.LLM, logger); err != nil {
			return err
		}
	}

	if g.queue, err = buildQueue(cfg.Queue, g.backend, logger); err != nil {
		return err
	}

	deliverer, err := g.buildDeliverer(o.deliverer)
	if err != nil {
		return err
	}

	g.ledger = o.ledger
	if g.ledger == nil {
		if g.ledger, err = buildLedger(cfg.Store); err != nil {
			return err
		}
	}

	g.activity = activity.New(activity.Options{
		ReminderAfter: cfg.Activity.ReminderAfter,
		CloseAfter:    cfg.Activity.CloseAfter,
		SweepInterval: cfg.Activity.SweepInterval,
	}, &sessionNotifier{
		deliverer: deliverer,
		history:   g.conversations,
		ledger:    g.ledger,
		limit:     cfg.Pipeline.MessageLimit,
		now:       time.Now,
		logger:    logger.With("component", "notifier"),
	}, logger)

	g.pipeline, err = pipeline.New(pipeline.Deps{
		Router:    g.router,
		Mapper:    mapper,
		LLM:       completer,
		Actions:   actions.NewMock(mockDelays(products), logger),
		Knowledge: index,
		Deliverer: deliverer,
		Cache:     answers,
		History:   g.conversations,
		Activity:  g.activity,
		Tracer:    g.tracing.Tracer(),
	}, pipeline.Options{
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
		MessageLimit:  cfg.Pipeline.MessageLimit,
		CacheTTL:      cfg.Cache.TTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	g.debouncer = debounce.New(cfg.Debounce.Delay, logger)

	handler := webhook.New(webhook.PublisherFunc(g.publish), logger, webhook.WithThreadCloser(g))
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// buildDeliverer picks the outbound transport: the override, then Matrix,
// then the log. A positive delivery rate wraps the result in a limiter.
func (g *Gateway) buildDeliverer(override transport.Deliverer) (transport.Deliverer, error) {
	cfg := g.config
	var d transport.Deliverer
	switch {
	case override != nil:
		d = override
	case cfg.Matrix.Enabled:
		var in transport.Ingester = g
		if g.queue != nil {
			in = queueIngester{queue: g.queue, logger: g.logger}
		}
		adapter, err := matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			AccessToken:  cfg.Matrix.AccessToken,
			AllowedRooms: cfg.Matrix.AllowedRooms,
			Channels:     cfg.Matrix.Channels,
		}, in, g.logger)
		if err != nil {
			return nil, fmt.Errorf("creating matrix adapter: %w", err)
		}
		g.matrix = adapter
		d = adapter
	default:
		g.logger.Warn("no chat transport configured, replies are logged only")
		d = logDeliverer{logger: g.logger.With("component", "log-deliverer")}
	}

	if cfg.Pipeline.DeliveryRate > 0 {
		d = transport.NewRateLimited(d, cfg.Pipeline.DeliveryRate, cfg.Pipeline.DeliveryBurst)
	}
	return d, nil
}

// Router exposes channel resolution for diagnostics.
func (g *Gateway) Router() *routing.Router {
	return g.router
}

// setupListeners creates the HTTP listener.
func (g *Gateway) setupListeners() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// startServers starts the HTTP server, the background sweeps and the optional
// queue consumer and Matrix sync, returning their error channel.
func (g *Gateway) startServers(httpLn net.Listener) chan error {
	errCh := make(chan error, 3)

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	g.conversations.Start(g.ctx)
	g.goBackground(func() { g.activity.Run(g.ctx) })

	if g.queue != nil {
		g.goBackground(func() {
			if err := g.queue.Consume(g.ctx, g); err != nil {
				errCh <- fmt.Errorf("queue consumer: %w", err)
			}
		})
	}

	if g.matrix != nil {
		g.goBackground(func() {
			if err := g.matrix.Run(g.ctx); err != nil {
				errCh <- fmt.Errorf("matrix sync: %w", err)
			}
		})
	}

	return errCh
}

func (g *Gateway) goBackground(fn func()) {
	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		fn()
	}()
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway and blocks until ctx is canceled or a server fails.
// Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	httpListener, err := g.setupListeners()
	if err != nil {
		return err
	}

	errCh := g.startServers(httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() because the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops intake, answers what is already buffered and releases
// resources. Later calls return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Stops the queue consumer, Matrix sync and activity sweeps.
	g.cancel()
	if err := g.waitBackground(ctx); err != nil {
		errs = appendCloseError(errs, "background tasks", err)
	}

	// Buffered bursts are settled so they are answered before the pipeline closes.
	g.debouncer.Flush()
	g.debouncer.Stop()
	errs = appendCloseError(errs, "pipeline close", g.pipeline.Close(ctx))

	errs = append(errs, g.release()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (g *Gateway) waitBackground(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release closes components that hold resources. Any of them may be nil when
// construction failed part way.
func (g *Gateway) release() []error {
	var errs []error
	if g.conversations != nil {
		g.conversations.Close()
	}
	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.queue != nil {
		errs = appendCloseError(errs, "queue close", g.queue.Close())
	}
	if g.backend != nil {
		errs = append(errs, g.backend.close()...)
	}
	if g.ledger != nil {
		errs = appendCloseError(errs, "store close", g.ledger.Close())
	}
	if g.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = appendCloseError(errs, "tracing shutdown", g.tracing.Shutdown(ctx))
	}
	return errs
}
