// Package tracing provides distributed tracing for the analytical
// runtime: a lightweight trace-ID/span-ID pair threaded through
// context for log and audit correlation, and real OpenTelemetry spans
// around the Analysis Engine, the Investigation Pipeline, and
// individual phase/strategy executions.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// contextKey avoids collisions in context.WithValue.
type contextKey string

const (
	traceIDKey     contextKey = "trace_id"
	spanIDKey      contextKey = "span_id"
	parentSpanIDKey contextKey = "parent_span_id"
)

// TraceInfo is the lightweight identity correlated across logs and
// audit entries for one request.
type TraceInfo struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

const (
	TraceIDHeader      = "X-Trace-ID"
	SpanIDHeader       = "X-Span-ID"
	ParentSpanIDHeader = "X-Parent-Span-ID"
	RequestIDHeader    = "X-Request-ID"
)

var idPool = sync.Pool{New: func() any { return make([]byte, 16) }}

// GenerateID generates a random 32-character hex ID (128 bits).
func GenerateID() string {
	b := idPool.Get().([]byte)
	defer idPool.Put(b)
	if _, err := rand.Read(b); err != nil {
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(b)
}

// GenerateShortID generates a random 16-character hex ID (64 bits).
func GenerateShortID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}

// NewTraceInfo creates a new trace with generated IDs.
func NewTraceInfo() *TraceInfo {
	return &TraceInfo{TraceID: GenerateID(), SpanID: GenerateShortID()}
}

// NewSpan creates a child TraceInfo under the same trace.
func (t *TraceInfo) NewSpan() *TraceInfo {
	return &TraceInfo{TraceID: t.TraceID, SpanID: GenerateShortID(), ParentSpanID: t.SpanID}
}

// WithTraceInfo attaches trace identity to ctx.
func WithTraceInfo(ctx context.Context, info *TraceInfo) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, info.TraceID)
	ctx = context.WithValue(ctx, spanIDKey, info.SpanID)
	if info.ParentSpanID != "" {
		ctx = context.WithValue(ctx, parentSpanIDKey, info.ParentSpanID)
	}
	return ctx
}

// FromContext extracts the lightweight trace identity from ctx.
func FromContext(ctx context.Context) *TraceInfo {
	info := &TraceInfo{}
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		info.TraceID = v
	}
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		info.SpanID = v
	}
	if v, ok := ctx.Value(parentSpanIDKey).(string); ok {
		info.ParentSpanID = v
	}
	return info
}

// EnsureTraceContext guarantees ctx carries a trace identity, minting
// one if absent.
func EnsureTraceContext(ctx context.Context) context.Context {
	if FromContext(ctx).TraceID == "" {
		return WithTraceInfo(ctx, NewTraceInfo())
	}
	return ctx
}

// Headers renders the trace info as propagation headers, for the
// optional command-surface transport.
func (t *TraceInfo) Headers() map[string]string {
	h := map[string]string{TraceIDHeader: t.TraceID, SpanIDHeader: t.SpanID, RequestIDHeader: t.TraceID}
	if t.ParentSpanID != "" {
		h[ParentSpanIDHeader] = t.ParentSpanID
	}
	return h
}

// Config controls OpenTelemetry initialization.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
}

var globalTracer trace.Tracer

// Init sets up an OpenTelemetry tracer provider exporting to stderr
// and returns a shutdown function. When cfg.Enabled is false it
// installs a no-op tracer.
func Init(cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	globalTracer = tp.Tracer(cfg.ServiceName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

func tracer() trace.Tracer {
	if globalTracer == nil {
		return otel.Tracer("noop")
	}
	return globalTracer
}

// AnalysisSpan starts a span around one Engine.Analyze call.
func AnalysisSpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "engine.analyze",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("analysis.kind", kind)))
}

// InvestigationSpan starts a span around one Pipeline.Investigate call.
func InvestigationSpan(ctx context.Context, investigationID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "pipeline.investigate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("investigation.id", investigationID)))
}

// PhaseSpan starts a span around one phase execution.
func PhaseSpan(ctx context.Context, investigationID, phaseName string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "pipeline.phase",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("investigation.id", investigationID),
			attribute.String("phase.name", phaseName)))
}

// RecordError marks span as failed and attaches err.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("error", true))
	}
}

// SetSuccess marks span as having completed successfully.
func SetSuccess(span trace.Span) {
	span.SetAttributes(attribute.Bool("success", true))
}
