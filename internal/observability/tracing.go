// Package observability wires OpenTelemetry tracing for the Atlas
// services. Spans ship over OTLP HTTP to a local collector; the
// collector handles authentication and forwarding, so the application
// never carries backend credentials.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for tracing setup.
type Config struct {
	// Endpoint is the collector's OTLP HTTP endpoint.
	Endpoint string
	// Environment tags spans with the deployment environment.
	Environment string
	// ServiceName is the name spans are reported under.
	ServiceName string
}

// DefaultEndpoint is the conventional local OTLP HTTP port.
const DefaultEndpoint = "localhost:4318"

// Setup registers an OTLP exporter with Genkit's TracerProvider, so
// model calls, tool dispatches and application spans share one trace
// pipeline. Returns a shutdown function that flushes pending spans.
//
// An unreachable collector downgrades to disabled tracing rather than
// failing startup.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Genkit's TracerProvider reads service identity from the standard
	// OTEL environment variables.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		slog.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	// Application spans started via the global API land in the same
	// pipeline as Genkit's model and tool spans.
	otel.SetTracerProvider(tracing.TracerProvider())

	slog.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
