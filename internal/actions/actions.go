// ABOUTME: Invoker interface, Result type and the simulated product backend
// ABOUTME: Dispatches by lowercase product then lowercase action name

package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultDelay is the simulated latency for products without an explicit delay.
const DefaultDelay = 50 * time.Millisecond

// Result is the outcome of one action invocation.
type Result struct {
	Name    string         `json:"name"`
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Success builds a successful result.
func Success(name string, data map[string]any) Result {
	return Result{Name: name, Success: true, Data: data}
}

// Failure builds a failed result.
func Failure(name, msg string) Result {
	return Result{Name: name, Success: false, Error: msg}
}

// Invoker calls a named action for a product.
type Invoker interface {
	Invoke(ctx context.Context, product, name string, params map[string]string) Result
}

type handler func(m *Mock, params map[string]string) map[string]any

// Mock serves canned data for the built-in products after a simulated delay.
type Mock struct {
	delays map[string]time.Duration
	logger *slog.Logger

	// overridable in tests
	now   func() time.Time
	newID func(n int) string
}

// NewMock creates a Mock. delays maps product id to simulated latency; products
// missing from the map use DefaultDelay. A negative delay disables the wait.
func NewMock(delays map[string]time.Duration, logger *slog.Logger) *Mock {
	if logger == nil {
		logger = slog.Default()
	}
	d := make(map[string]time.Duration, len(delays))
	for k, v := range delays {
		d[strings.ToLower(k)] = v
	}
	return &Mock{
		delays: d,
		logger: logger.With("component", "actions"),
		now:    time.Now,
		newID:  shortID,
	}
}

func shortID(n int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n])
}

// Invoke implements Invoker.
func (m *Mock) Invoke(ctx context.Context, product, name string, params map[string]string) Result {
	if params == nil {
		params = map[string]string{}
	}
	if err := m.wait(ctx, product); err != nil {
		return Failure(name, fmt.Sprintf("request cancelled: %v", err))
	}

	res := m.dispatch(product, name, params)
	if res.Success {
		m.logger.Debug("action succeeded", "product", product, "action", name)
	} else {
		m.logger.Warn("action failed", "product", product, "action", name, "error", res.Error)
	}
	return res
}

func (m *Mock) wait(ctx context.Context, product string) error {
	delay, ok := m.delays[strings.ToLower(product)]
	if !ok {
		delay = DefaultDelay
	}
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mock) dispatch(product, name string, params map[string]string) Result {
	var (
		table map[string]handler
		label string
	)
	switch strings.ToLower(product) {
	case "artemis":
		table, label = artemisHandlers, "Artemis"
	case "b360":
		table, label = b360Handlers, "B360"
	case "velocity":
		table, label = velocityHandlers, "Velocity"
	default:
		return Failure(name, fmt.Sprintf("Unknown product: '%s'", product))
	}

	key := strings.ToLower(name)
	h, ok := table[key]
	if !ok {
		return Failure(name, fmt.Sprintf("Unknown %s API: '%s'", label, name))
	}
	return Success(key, h(m, params))
}

func param(params map[string]string, key, def string) string {
	if v, ok := params[key]; ok && v != "" {
		return v
	}
	return def
}

func (m *Mock) timestamp() string {
	return m.now().UTC().Format(time.RFC3339)
}
