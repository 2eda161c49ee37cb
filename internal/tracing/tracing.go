// ABOUTME: OpenTelemetry tracer provider setup with OTLP/HTTP export
// ABOUTME: Without an endpoint a no-op tracer is returned and nothing is exported

package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/2389/helpdesk-gateway"

// Options configures export.
type Options struct {
	// Endpoint is host:port or a full URL. Empty disables export.
	Endpoint    string
	Insecure    bool
	ServiceName string
	Headers     map[string]string
}

// Provider owns the tracer provider for the process.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Setup builds a Provider and installs it as the global tracer provider when
// export is enabled.
func Setup(ctx context.Context, opts Options, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Endpoint == "" {
		logger.Debug("tracing disabled")
		return &Provider{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}, nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "helpdesk-gateway"
	}

	var exportOpts []otlptracehttp.Option
	if strings.Contains(opts.Endpoint, "://") {
		exportOpts = append(exportOpts, otlptracehttp.WithEndpointURL(opts.Endpoint))
	} else {
		exportOpts = append(exportOpts, otlptracehttp.WithEndpoint(opts.Endpoint))
	}
	if opts.Insecure {
		exportOpts = append(exportOpts, otlptracehttp.WithInsecure())
	}
	if len(opts.Headers) > 0 {
		exportOpts = append(exportOpts, otlptracehttp.WithHeaders(opts.Headers))
	}

	exporter, err := otlptracehttp.New(ctx, exportOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating otlp exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", opts.ServiceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", opts.Endpoint, "service", opts.ServiceName)
	return &Provider{tp: tp, tracer: tp.Tracer(instrumentationName)}, nil
}

// Tracer returns the process tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down tracer provider: %w", err)
	}
	return nil
}
