// Package observability traces pipeline runs with OpenTelemetry.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/ajitpratap0/statline"

// Tracer starts dataset and stage spans. The zero value and a nil *Tracer
// trace nothing.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer using tp; a nil tp disables tracing.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(instrumentationName)}
}

func (t *Tracer) get() trace.Tracer {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return t.tracer
}

// Span represents a tracing span
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// StartDataset starts the root span of one dataset run.
func (t *Tracer) StartDataset(ctx context.Context, datasetID, source string) (context.Context, *Span) {
	ctx, s := t.start(ctx, "dataset")
	s.SetAttribute("dataset.id", datasetID)
	s.SetAttribute("dataset.source", source)
	return ctx, s
}

// StartStage starts a child span for one pipeline stage.
func (t *Tracer) StartStage(ctx context.Context, stage string) (context.Context, *Span) {
	ctx, s := t.start(ctx, "stage."+stage)
	s.SetAttribute("stage", stage)
	return ctx, s
}

// TraceTable runs fn inside a span for one table.
func (t *Tracer) TraceTable(ctx context.Context, table, role string, fn func(context.Context) error) error {
	ctx, s := t.start(ctx, "table")
	s.SetAttribute("table.name", table)
	s.SetAttribute("table.role", role)
	err := fn(ctx)
	s.End(err)
	return err
}

func (t *Tracer) start(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := t.get().Start(ctx, name)
	return ctx, &Span{span: span, startTime: time.Now()}
}

// SetAttribute adds an attribute to the span; attributes are applied on End.
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End ends the span, marking it failed when err is non-nil.
func (s *Span) End(err error) {
	s.attributes = append(s.attributes, attribute.Int64("duration_ms", time.Since(s.startTime).Milliseconds()))
	s.span.SetAttributes(s.attributes...)

	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
