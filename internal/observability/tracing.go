package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "quill"

// TracingConfig selects a span exporter. Tracing is off unless Enabled.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter       string  `mapstructure:"exporter" yaml:"exporter"` // otlp or zipkin
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint" yaml:"zipkin_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version"`
}

type exporterFactory func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error)

var exporters = map[string]exporterFactory{
	"otlp": func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(orDefault(cfg.OTLPEndpoint, "localhost:4318")),
			otlptracehttp.WithInsecure())
	},
	"zipkin": func(_ context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
		return zipkin.New(orDefault(cfg.ZipkinEndpoint, "http://localhost:9411/api/v2/spans"))
	},
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// TracerProvider owns the SDK provider so the exporter can be flushed on
// shutdown. The zero provider hands out no-op tracers.
type TracerProvider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewTracerProvider installs a global tracer provider exporting to the
// configured backend.
func NewTracerProvider(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return NoopTracerProvider(), nil
	}
	factory, ok := exporters[orDefault(cfg.Exporter, "otlp")]
	if !ok {
		return nil, fmt.Errorf("tracing: unsupported exporter %q", cfg.Exporter)
	}
	exporter, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: %s exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(orDefault(cfg.ServiceName, tracerName)),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: resource: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(sdk)
	return &TracerProvider{sdk: sdk, tracer: sdk.Tracer(tracerName)}, nil
}

func NoopTracerProvider() *TracerProvider {
	return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(tracerName)}
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.sdk == nil {
		return nil
	}
	return tp.sdk.Shutdown(ctx)
}

func (tp *TracerProvider) Tracer() trace.Tracer {
	if tp == nil || tp.tracer == nil {
		return noop.NewTracerProvider().Tracer(tracerName)
	}
	return tp.tracer
}

const (
	SpanPipelineRun  = "quill.pipeline.run"
	SpanPipelineTask = "quill.pipeline.task"
	SpanClassify     = "quill.detect.classify"
	SpanHTTPServer   = "quill.http.request"

	AttrRunID     = "quill.run_id"
	AttrTaskIndex = "quill.task_index"
	AttrRole      = "quill.agent_role"
	AttrStage     = "quill.stage"
	AttrBackend   = "quill.backend"
	AttrStatus    = "quill.status"
)

// TaskAttrs are the span attributes recorded for one pipeline task.
func TaskAttrs(runID string, index int, role, stage, backend string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.Int(AttrTaskIndex, index),
		attribute.String(AttrRole, role),
		attribute.String(AttrStage, stage),
		attribute.String(AttrBackend, backend),
	}
}
