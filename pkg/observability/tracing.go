// Package observability provides tracing for the connector's cycles, page
// fetches and pushes.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/withsecure-connector"

// Global tracer instance, replaced by InitTracing
var tracer trace.Tracer = otel.Tracer(instrumentationName)

// GetTracer returns the global tracer
func GetTracer() trace.Tracer {
	return tracer
}

// Span wraps an otel span and batches its attributes until End.
type Span struct {
	span       trace.Span
	attributes []attribute.KeyValue
}

// NewSpan starts a span on the global tracer
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, operationName)
	return ctx, &Span{span: span}
}

// SetAttribute adds an attribute to the span
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

// RecordError marks the span failed when err is non-nil.
func (s *Span) RecordError(err error) {
	if err == nil {
		s.span.SetStatus(codes.Ok, "")
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End flushes the batched attributes and ends the span
func (s *Span) End() {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	s.span.End()
}

// ConnectorTracer names spans after the connector that emits them.
type ConnectorTracer struct {
	connectorType string
	connectorName string
}

// NewConnectorTracer creates a new connector tracer
func NewConnectorTracer(connectorType, connectorName string) *ConnectorTracer {
	return &ConnectorTracer{
		connectorType: connectorType,
		connectorName: connectorName,
	}
}

// StartSpan starts a connector-specific span
func (ct *ConnectorTracer) StartSpan(ctx context.Context, operation string) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, ct.connectorType+"."+operation)

	span.SetAttribute("connector.type", ct.connectorType)
	span.SetAttribute("connector.name", ct.connectorName)
	span.SetAttribute("connector.operation", operation)

	return ctx, span
}

// TraceBatch runs fn inside a span carrying the batch size.
func (ct *ConnectorTracer) TraceBatch(ctx context.Context, batchSize int, operation string, fn func(context.Context) error) error {
	ctx, span := ct.StartSpan(ctx, operation)
	defer span.End()

	span.SetAttribute("batch.size", batchSize)

	err := fn(ctx)
	span.RecordError(err)
	return err
}
