// Package telemetry builds the OpenTelemetry providers used during a benchmark
// sweep. The tracer provider always samples and always runs the span
// processors handed to it, so span-derived metrics work even when no exporter
// is configured.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ExporterType selects where spans or metrics are exported.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

const DefaultServiceName = "toolcallbench"

// Config is the telemetry section of an experiment. Empty exporter types mean none.
type Config struct {
	Traces      ExporterType `yaml:"traces"`
	Metrics     ExporterType `yaml:"metrics"`
	Endpoint    string       `yaml:"endpoint"`
	Insecure    bool         `yaml:"insecure"`
	ServiceName string       `yaml:"service-name"`
}

func (c Config) Validate() error {
	for field, t := range map[string]ExporterType{"telemetry.traces": c.Traces, "telemetry.metrics": c.Metrics} {
		switch t {
		case "", ExporterNone, ExporterStdout, ExporterOTLPGRPC, ExporterOTLPHTTP:
		default:
			return fmt.Errorf("%s: unknown exporter %q", field, t)
		}
	}
	return nil
}

type options struct {
	processors []sdktrace.SpanProcessor
	readers    []sdkmetric.Reader
	writer     io.Writer
	version    string
}

type Option func(*options)

// WithSpanProcessor registers a synchronous span processor on the tracer provider.
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, p) }
}

// WithMetricReader adds a reader to the meter provider in addition to any
// configured exporter.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.readers = append(o.readers, r) }
}

// WithWriter sets the destination of the stdout exporters. Defaults to os.Stderr
// so exported data never mixes with report output.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithServiceVersion sets service.version on the resource. Empty leaves it unset.
func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// Telemetry owns the tracer and meter providers for one process.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider

	instruments *instruments
}

// New builds the providers described by cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}

	res, err := newResource(name, o.version)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	for _, p := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
	}
	spanExporter, err := newSpanExporter(ctx, cfg, o.writer)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	if spanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(spanExporter))
	}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range o.readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}
	metricExporter, err := newMetricExporter(ctx, cfg, o.writer)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	if metricExporter != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	}

	t := &Telemetry{
		TracerProvider: sdktrace.NewTracerProvider(tpOpts...),
		MeterProvider:  sdkmetric.NewMeterProvider(mpOpts...),
	}
	t.instruments, err = newInstruments(t.MeterProvider.Meter(name))
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}
	return t, nil
}

// Tracer returns the tracer executions and the runner emit spans on.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.TracerProvider.Tracer(DefaultServiceName)
}

// ForceFlush delivers all ended spans to processors and exporters.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return t.TracerProvider.ForceFlush(ctx)
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.TracerProvider.Shutdown(ctx),
		t.MeterProvider.Shutdown(ctx),
	)
}

func newResource(name, version string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if version != "" {
		attrs = append(attrs, semconv.ServiceVersion(version))
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

func newSpanExporter(ctx context.Context, cfg Config, w io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Traces {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.Traces)
	}
}

func newMetricExporter(ctx context.Context, cfg Config, w io.Writer) (sdkmetric.Exporter, error) {
	switch cfg.Metrics {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		return stdoutmetric.New(stdoutmetric.WithWriter(w))
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.Metrics)
	}
}
