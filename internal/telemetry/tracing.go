// Package telemetry wires OpenTelemetry tracing for the api and worker
// processes. Spans are created where jobs and edits are handled; this
// package only owns the provider and its exporter.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const serviceNamespace = "decentgram"

var (
	ErrUnknownExporter = errors.New("telemetry: unknown trace exporter")
	ErrMissingEndpoint = errors.New("telemetry: otlp exporter needs an endpoint")
)

// TraceConfig selects where spans go. Exporter is one of none, stdout or
// otlp. SampleRatio outside (0,1) samples every root span.
type TraceConfig struct {
	ServiceName  string
	Component    string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// Shutdown flushes buffered spans and stops the exporter.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// SetupTracing installs the global tracer provider and the trace-context and
// baggage propagators. The propagators are installed even when export is off
// so inbound trace ids still reach webhook and job logs.
func SetupTracing(ctx context.Context, cfg TraceConfig, logger zerolog.Logger) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	kind := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if kind == "" || kind == "none" {
		logger.Debug().Msg("span export disabled")
		return noopShutdown, nil
	}

	exp, err := newExporter(ctx, kind, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.service()),
		semconv.ServiceNamespace(serviceNamespace),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info().
		Str("exporter", kind).
		Str("service", cfg.service()).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("span export enabled")
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, kind string, cfg TraceConfig) (sdktrace.SpanExporter, error) {
	switch kind {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		return exp, nil
	case "otlp":
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		if endpoint == "" {
			return nil, ErrMissingEndpoint
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, cfg.Exporter)
}

// sampler honours the caller's decision for propagated traces and applies the
// ratio to new roots only.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func (c TraceConfig) service() string {
	name := strings.TrimSpace(c.ServiceName)
	if name == "" {
		name = "mediaflow"
	}
	if component := strings.TrimSpace(c.Component); component != "" {
		name += "-" + component
	}
	return name
}
