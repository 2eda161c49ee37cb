// ABOUTME: Configuration loading and parsing for helpdesk-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete helpdesk-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Dedupe       DedupeConfig       `yaml:"dedupe" toml:"dedupe"`
	Cache        CacheConfig        `yaml:"cache" toml:"cache"`
	Debounce     DebounceConfig     `yaml:"debounce" toml:"debounce"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Activity     ActivityConfig     `yaml:"activity" toml:"activity"`
	Pipeline     PipelineConfig     `yaml:"pipeline" toml:"pipeline"`
	Backend      BackendConfig      `yaml:"backend" toml:"backend"`
	Queue        QueueConfig        `yaml:"queue" toml:"queue"`
	LLM          LLMConfig          `yaml:"llm" toml:"llm"`
	Products     []ProductConfig    `yaml:"products" toml:"products"`
	Intents      []IntentConfig     `yaml:"intents" toml:"intents"`
	Matrix       MatrixConfig       `yaml:"matrix" toml:"matrix"`
	Store        StoreConfig        `yaml:"store" toml:"store"`
	Tracing      TracingConfig      `yaml:"tracing" toml:"tracing"`
}

// ServerConfig holds the HTTP listener for webhooks and health checks
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DedupeConfig controls how long event ids stay claimed
type DedupeConfig struct {
	TTL           time.Duration `yaml:"-" toml:"-"`
	TTLRaw        string        `yaml:"ttl" toml:"ttl"`
	LocalCapacity int           `yaml:"local_capacity" toml:"local_capacity"`
}

// CacheConfig controls the response cache
type CacheConfig struct {
	TTL           time.Duration `yaml:"-" toml:"-"`
	TTLRaw        string        `yaml:"ttl" toml:"ttl"`
	LocalCapacity int           `yaml:"local_capacity" toml:"local_capacity"`
}

// DebounceConfig holds the quiet period before a burst settles
type DebounceConfig struct {
	Delay    time.Duration `yaml:"-" toml:"-"`
	DelayRaw string        `yaml:"delay" toml:"delay"`
}

// ConversationConfig bounds the per-thread history
type ConversationConfig struct {
	MaxTurns      int           `yaml:"max_turns" toml:"max_turns"`
	StaleAfter    time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	StaleAfterRaw    string `yaml:"stale_after" toml:"stale_after"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// ActivityConfig holds the idle reminder and closure timing
type ActivityConfig struct {
	ReminderAfter time.Duration `yaml:"-" toml:"-"`
	CloseAfter    time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	ReminderAfterRaw string `yaml:"reminder_after" toml:"reminder_after"`
	CloseAfterRaw    string `yaml:"close_after" toml:"close_after"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// PipelineConfig holds worker pool and delivery settings
type PipelineConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" toml:"max_concurrent"`
	MessageLimit  int `yaml:"message_limit" toml:"message_limit"`

	// DeliveryRate is the outbound messages per second. Zero disables limiting.
	DeliveryRate  float64 `yaml:"delivery_rate" toml:"delivery_rate"`
	DeliveryBurst int     `yaml:"delivery_burst" toml:"delivery_burst"`
}

// Backend kinds for the shared dedupe and cache store
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// BackendConfig selects the shared store used across replicas
type BackendConfig struct {
	Kind     string         `yaml:"kind" toml:"kind"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb" toml:"dynamodb"`
}

// RedisConfig holds Redis connection settings, shared by the backend and the queue
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

// DynamoDBConfig names the table holding dedupe claims and cached answers
type DynamoDBConfig struct {
	Table  string `yaml:"table" toml:"table"`
	Region string `yaml:"region" toml:"region"`
}

// Queue kinds for inbound event transport
const (
	QueueNone   = "none"
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// QueueConfig controls the optional inbound event queue
type QueueConfig struct {
	Kind          string `yaml:"kind" toml:"kind"`
	Topic         string `yaml:"topic" toml:"topic"`
	ConsumerGroup string `yaml:"consumer_group" toml:"consumer_group"`
}

// LLMConfig holds the chat completions endpoint and resilience settings
type LLMConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	BaseURL     string  `yaml:"base_url" toml:"base_url"`
	Model       string  `yaml:"model" toml:"model"`
	APIKey      string  `yaml:"api_key" toml:"api_key"`
	APIKeyParam string  `yaml:"api_key_param" toml:"api_key_param"` // SSM parameter name
	Region      string  `yaml:"region" toml:"region"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`

	MaxRetries       uint64 `yaml:"max_retries" toml:"max_retries"`
	FailureThreshold uint32 `yaml:"failure_threshold" toml:"failure_threshold"`

	Timeout     time.Duration `yaml:"-" toml:"-"`
	OpenTimeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw     string `yaml:"timeout" toml:"timeout"`
	OpenTimeoutRaw string `yaml:"open_timeout" toml:"open_timeout"`
}

// ProductConfig overrides the built-in product catalog
type ProductConfig struct {
	ID           string        `yaml:"id" toml:"id"`
	Description  string        `yaml:"description" toml:"description"`
	Channels     []string      `yaml:"channels" toml:"channels"`
	MockDelay    time.Duration `yaml:"-" toml:"-"`
	MockDelayRaw string        `yaml:"mock_delay" toml:"mock_delay"`
}

// IntentConfig overrides one entry of the built-in intent mapping table
type IntentConfig struct {
	Product string   `yaml:"product" toml:"product"`
	Intent  string   `yaml:"intent" toml:"intent"`
	Actions []string `yaml:"actions" toml:"actions"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled"`
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`

	// Channels maps room ids to the channel names products are routed on.
	Channels map[string]string `yaml:"channels" toml:"channels"`
}

// StoreConfig holds the session ledger database
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// TracingConfig holds OTLP export settings. An empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string            `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool              `yaml:"insecure" toml:"insecure"`
	ServiceName string            `yaml:"service_name" toml:"service_name"`
	Headers     map[string]string `yaml:"headers" toml:"headers"`
}

// DefaultPath returns the config file location: $HELPDESK_CONFIG, then
// $XDG_CONFIG_HOME/helpdesk/gateway.yaml, then ~/.config/helpdesk/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("HELPDESK_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "helpdesk", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(home, ".config", "helpdesk", "gateway.yaml")
}

// Default returns a configuration with every default applied and no file read.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset values with the component defaults.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 5 * time.Minute
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Minute
	}
	if c.Debounce.Delay == 0 {
		c.Debounce.Delay = time.Second
	}
	if c.Conversation.MaxTurns == 0 {
		c.Conversation.MaxTurns = 10
	}
	if c.Conversation.StaleAfter == 0 {
		c.Conversation.StaleAfter = 5 * time.Minute
	}
	if c.Activity.ReminderAfter == 0 {
		c.Activity.ReminderAfter = time.Minute
	}
	if c.Activity.CloseAfter == 0 {
		c.Activity.CloseAfter = 2 * time.Minute
	}
	if c.Pipeline.MaxConcurrent == 0 {
		c.Pipeline.MaxConcurrent = 16
	}
	if c.Pipeline.MessageLimit == 0 {
		c.Pipeline.MessageLimit = 3000
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = BackendMemory
	}
	if c.Queue.Kind == "" {
		c.Queue.Kind = QueueNone
	}
	if c.Queue.Topic == "" {
		c.Queue.Topic = "helpdesk.events"
	}
	if c.Queue.ConsumerGroup == "" {
		c.Queue.ConsumerGroup = "helpdesk-gateway"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 2
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "helpdesk-gateway"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	switch c.Backend.Kind {
	case BackendMemory:
	case BackendRedis:
		if c.Backend.Redis.Addr == "" {
			return errors.New("backend.redis.addr is required when backend.kind is redis")
		}
	case BackendDynamoDB:
		if c.Backend.DynamoDB.Table == "" {
			return errors.New("backend.dynamodb.table is required when backend.kind is dynamodb")
		}
	default:
		return fmt.Errorf("backend.kind %q must be one of memory, redis, dynamodb", c.Backend.Kind)
	}

	switch c.Queue.Kind {
	case QueueNone, QueueMemory:
	case QueueRedis:
		if c.Backend.Redis.Addr == "" {
			return errors.New("backend.redis.addr is required when queue.kind is redis")
		}
	default:
		return fmt.Errorf("queue.kind %q must be one of none, memory, redis", c.Queue.Kind)
	}

	// ActivityMonitor checks closure before reminders, so a reminder window
	// at or past the close window would never fire.
	if c.Activity.ReminderAfter >= c.Activity.CloseAfter {
		return fmt.Errorf("activity.reminder_after (%s) must be shorter than activity.close_after (%s)",
			c.Activity.ReminderAfter, c.Activity.CloseAfter)
	}

	if c.LLM.Enabled && c.LLM.APIKey != "" && c.LLM.APIKeyParam != "" {
		return errors.New("llm.api_key and llm.api_key_param are mutually exclusive")
	}

	for i, p := range c.Products {
		if p.ID == "" {
			return fmt.Errorf("products[%d].id is required", i)
		}
		if len(p.Channels) == 0 {
			return fmt.Errorf("products[%d] (%s) needs at least one channel", i, p.ID)
		}
	}
	for i, in := range c.Intents {
		if in.Product == "" || in.Intent == "" {
			return fmt.Errorf("intents[%d] needs product and intent", i)
		}
		if len(in.Actions) == 0 {
			return fmt.Errorf("intents[%d] (%s/%s) needs at least one action", i, in.Product, in.Intent)
		}
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
			return errors.New("matrix.homeserver, matrix.user_id and matrix.access_token are required when matrix is enabled")
		}
	}

	return nil
}

type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []durationField{
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
		{"debounce.delay", cfg.Debounce.DelayRaw, &cfg.Debounce.Delay},
		{"conversation.stale_after", cfg.Conversation.StaleAfterRaw, &cfg.Conversation.StaleAfter},
		{"conversation.sweep_interval", cfg.Conversation.SweepIntervalRaw, &cfg.Conversation.SweepInterval},
		{"activity.reminder_after", cfg.Activity.ReminderAfterRaw, &cfg.Activity.ReminderAfter},
		{"activity.close_after", cfg.Activity.CloseAfterRaw, &cfg.Activity.CloseAfter},
		{"activity.sweep_interval", cfg.Activity.SweepIntervalRaw, &cfg.Activity.SweepInterval},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"llm.open_timeout", cfg.LLM.OpenTimeoutRaw, &cfg.LLM.OpenTimeout},
	}
	for i := range cfg.Products {
		p := &cfg.Products[i]
		fields = append(fields, durationField{fmt.Sprintf("products[%d].mock_delay", i), p.MockDelayRaw, &p.MockDelay})
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
