// ABOUTME: Construction of gateway components from configuration
// ABOUTME: Selects the shared backend, LLM client, routing tables, queue and ledger

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/kvstore"
	"github.com/2389/helpdesk-gateway/internal/llm"
	"github.com/2389/helpdesk-gateway/internal/queue"
	"github.com/2389/helpdesk-gateway/internal/routing"
	"github.com/2389/helpdesk-gateway/internal/store"
)

// Retry backoff for LLM calls starts here.
const llmInitialBackoff = 200 * time.Millisecond

// backend holds the shared key-value store and the Redis connection, which the
// queue may use even when the backend kind is not redis.
type backend struct {
	shared kvstore.Store // nil for the memory backend
	redis  *kvstore.Redis
	local  *cache.LocalBackend
	cache  cache.Backend

	// redisShared is set when redis is also the shared store.
	redisShared bool
}

func (b *backend) close() []error {
	var errs []error
	if b.local != nil {
		errs = appendCloseError(errs, "local cache close", b.local.Close())
	}
	if b.shared != nil {
		errs = appendCloseError(errs, "shared store close", b.shared.Close())
	}
	if b.redis != nil && !b.redisShared {
		errs = appendCloseError(errs, "redis close", b.redis.Close())
	}
	return errs
}

func buildBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{local: cache.NewLocalBackend(cfg.Cache.LocalCapacity)}

	needRedis := cfg.Backend.Kind == config.BackendRedis || cfg.Queue.Kind == config.QueueRedis
	if needRedis {
		b.redis = kvstore.NewRedis(kvstore.RedisOptions{
			Addr:     cfg.Backend.Redis.Addr,
			Password: cfg.Backend.Redis.Password,
			DB:       cfg.Backend.Redis.DB,
		})
		if err := b.redis.Ping(ctx); err != nil {
			_ = b.close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Backend.Redis.Addr, err)
		}
	}

	switch cfg.Backend.Kind {
	case config.BackendRedis:
		b.shared = b.redis
		b.redisShared = true
	case config.BackendDynamoDB:
		d, err := kvstore.NewDynamo(ctx, cfg.Backend.DynamoDB.Table, cfg.Backend.DynamoDB.Region)
		if err != nil {
			_ = b.close()
			return nil, fmt.Errorf("creating dynamodb store: %w", err)
		}
		b.shared = d
	}

	if b.shared != nil {
		b.cache = cache.NewFallback(b.shared, b.local, logger)
	} else {
		b.cache = b.local
	}
	logger.Info("backend ready", "kind", cfg.Backend.Kind)
	return b, nil
}

func buildCompleter(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (llm.Completer, error) {
	if !cfg.Enabled {
		logger.Warn("llm disabled, intent detection is unavailable and every message gets the intent-not-found reply")
		return llm.Disabled{}, nil
	}

	var keys llm.KeySource = llm.StaticKey(cfg.APIKey)
	if cfg.APIKeyParam != "" {
		src, err := llm.NewSSMKeySource(ctx, cfg.Region, cfg.APIKeyParam)
		if err != nil {
			return nil, fmt.Errorf("creating ssm key source: %w", err)
		}
		keys = src
	}

	var opts []llm.Option
	if cfg.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, llm.WithTimeout(cfg.Timeout))
	}
	if cfg.Temperature > 0 {
		opts = append(opts, llm.WithTemperature(cfg.Temperature))
	}
	client, err := llm.NewClient(cfg.Model, keys, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	return llm.NewResilient(cfg.Model, client, llm.ResilienceOptions{
		MaxRetries:       cfg.MaxRetries,
		InitialBackoff:   llmInitialBackoff,
		FailureThreshold: cfg.FailureThreshold,
		OpenTimeout:      cfg.OpenTimeout,
	}, logger), nil
}

// buildProducts returns the configured products, or the embedded table when
// none are configured.
func buildProducts(cfg *config.Config) ([]routing.Product, error) {
	if len(cfg.Products) == 0 {
		products, err := routing.DefaultProducts()
		if err != nil {
			return nil, fmt.Errorf("loading default products: %w", err)
		}
		return products, nil
	}

	products := make([]routing.Product, 0, len(cfg.Products))
	for _, p := range cfg.Products {
		products = append(products, routing.Product{
			ID:          p.ID,
			Description: p.Description,
			Channels:    append([]string(nil), p.Channels...),
			MockDelay:   p.MockDelay,
		})
	}
	return products, nil
}

// buildMappings layers configured intents over the embedded table. A configured
// entry replaces the built-in one for the same product and intent.
func buildMappings(cfg *config.Config) ([]routing.Mapping, error) {
	mappings, err := routing.DefaultMappings()
	if err != nil {
		return nil, fmt.Errorf("loading default intents: %w", err)
	}
	for _, in := range cfg.Intents {
		mappings = append(mappings, routing.Mapping{
			AppID:      strings.ToLower(in.Product),
			IntentName: in.Intent,
			APINames:   append([]string(nil), in.Actions...),
		})
	}
	return mappings, nil
}

// BuildRouter returns the channel router cfg describes.
func BuildRouter(cfg *config.Config, logger *slog.Logger) (*routing.Router, error) {
	products, err := buildProducts(cfg)
	if err != nil {
		return nil, err
	}
	return routing.NewRouter(products, logger), nil
}

func mockDelays(products []routing.Product) map[string]time.Duration {
	delays := make(map[string]time.Duration, len(products))
	for _, p := range products {
		if p.MockDelay > 0 {
			delays[p.ID] = p.MockDelay
		}
	}
	return delays
}

// buildQueue returns nil when no queue is configured.
func buildQueue(cfg config.QueueConfig, b *backend, logger *slog.Logger) (*queue.Queue, error) {
	switch cfg.Kind {
	case config.QueueMemory:
		return queue.NewMemory(cfg.Topic, logger), nil
	case config.QueueRedis:
		q, err := queue.NewRedis(queue.RedisOptions{
			Client:        b.redis.Client(),
			Topic:         cfg.Topic,
			ConsumerGroup: cfg.ConsumerGroup,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating redis queue: %w", err)
		}
		return q, nil
	default:
		return nil, nil
	}
}

// buildLedger returns nil when no store path is configured.
func buildLedger(cfg config.StoreConfig) (store.SessionStore, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing session store: %w", err)
	}
	return s, nil
}
