// OpenTelemetry tracing helpers for task launches, upstream fetches and
// frame renders.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer opens the spans the controller emits: one per task launch, per
// upstream fetch and per rendered frame. The zero value is not usable; a
// nil *Tracer is, and records nothing.
type Tracer struct {
	tracer trace.Tracer
	debug  bool
}

var (
	defaultMu     sync.RWMutex
	defaultTracer *Tracer
	noopTracer    = &Tracer{tracer: noop.NewTracerProvider().Tracer("inkpanel")}
)

// SetGlobalTracer replaces the tracer returned by GetTracer. nil restores
// the no-op tracer.
func SetGlobalTracer(t *Tracer) {
	defaultMu.Lock()
	defaultTracer = t
	defaultMu.Unlock()
}

// GetTracer returns the process-wide tracer, never nil.
func GetTracer() *Tracer {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultTracer == nil {
		return noopTracer
	}
	return defaultTracer
}

// NewTracerFromProvider returns a Tracer on tp. With debug set, fetch spans
// carry the track title.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		t = noopTracer
	}
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartTaskSpan covers one task switch in the supervisor.
func (t *Tracer) StartTaskSpan(ctx context.Context, kind string, generation uint64) (context.Context, trace.Span) {
	return t.start(ctx, "task."+kind, trace.SpanKindInternal,
		attribute.String("task.kind", kind),
		attribute.Int64("task.generation", int64(generation)),
	)
}

// EndTaskSpan records the run id, if the launch got that far.
func (t *Tracer) EndTaskSpan(span trace.Span, runID string, err error) {
	if runID != "" {
		span.SetAttributes(attribute.String("task.run_id", runID))
	}
	endSpan(span, err)
}

// FetchSpanOptions describes what a now-playing fetch returned.
type FetchSpanOptions struct {
	Playing bool
	Title   string
}

// StartFetchSpan covers one call to an upstream such as "lastfm".
func (t *Tracer) StartFetchSpan(ctx context.Context, upstream string) (context.Context, trace.Span) {
	return t.start(ctx, "fetch."+upstream, trace.SpanKindClient, attribute.String("fetch.upstream", upstream))
}

// EndFetchSpan adds the result. Titles are only attached in debug mode.
func (t *Tracer) EndFetchSpan(span trace.Span, opts FetchSpanOptions, err error) {
	span.SetAttributes(attribute.Bool("track.playing", opts.Playing))
	if t != nil && t.debug && opts.Title != "" {
		span.SetAttributes(attribute.String("track.title", truncate(opts.Title, 200)))
	}
	endSpan(span, err)
}

// StartRenderSpan covers composing a layout and pushing it to the panel.
func (t *Tracer) StartRenderSpan(ctx context.Context, layout string) (context.Context, trace.Span) {
	return t.start(ctx, "render."+layout, trace.SpanKindInternal, attribute.String("render.layout", layout))
}

// EndRenderSpan records how long the frame took.
func (t *Tracer) EndRenderSpan(span trace.Span, elapsed time.Duration, err error) {
	span.SetAttributes(attribute.Int64("render.duration_ms", elapsed.Milliseconds()))
	endSpan(span, err)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
