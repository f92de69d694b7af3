// Package telemetry installs the process-wide OpenTelemetry tracer provider.
//
// Tracing is off unless TRACE_EXPORTER selects an exporter:
//
//	TRACE_EXPORTER=none      no-op provider (default)
//	TRACE_EXPORTER=stdout    pretty-printed spans on stderr
//	TRACE_EXPORTER=otlp      OTLP/HTTP to OTEL_EXPORTER_OTLP_ENDPOINT
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type Options struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	// Writer receives stdout exporter output; nil means os.Stderr.
	Writer io.Writer
}

// Provider owns the installed tracer provider. Shutdown flushes buffered
// spans.
type Provider struct {
	shutdown func(context.Context) error
}

func Init(ctx context.Context, opts Options) (*Provider, error) {
	exporter, err := buildExporter(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if exporter == nil {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		return &Provider{}, nil
	}

	serviceName := strings.TrimSpace(opts.ServiceName)
	if serviceName == "" {
		serviceName = "concord"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return &Provider{shutdown: tp.Shutdown}, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func buildExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Exporter)) {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		writer := opts.Writer
		if writer == nil {
			writer = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(writer), stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		endpoint := strings.TrimSpace(opts.OTLPEndpoint)
		if endpoint == "" {
			return nil, errors.New("otlp exporter needs OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", opts.Exporter)
	}
}
