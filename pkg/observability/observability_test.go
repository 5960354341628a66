package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := tracer
	tracer = tp.Tracer(instrumentationName)
	t.Cleanup(func() {
		tracer = previous
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestConnectorTracer_TraceBatch(t *testing.T) {
	recorder := useRecorder(t)
	ct := NewConnectorTracer("withsecure", "test")

	err := ct.TraceBatch(context.Background(), 3, "push", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	failure := errors.New("intake down")
	err = ct.TraceBatch(context.Background(), 1, "push", func(ctx context.Context) error {
		return failure
	})
	assert.ErrorIs(t, err, failure)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "withsecure.push", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	attrs := make(map[string]string)
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "test", attrs["connector.name"])
	assert.Equal(t, "3", attrs["batch.size"])
}

func TestInitTracing_Disabled(t *testing.T) {
	p, err := InitTracing(DefaultTracingConfig())
	require.NoError(t, err)
	assert.NotNil(t, GetTracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInitTracing_Stdout(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultTracingConfig()
	config.Enabled = true
	config.Writer = &buf

	p, err := InitTracing(config)
	require.NoError(t, err)

	_, span := NewSpan(context.Background(), "cycle")
	span.SetAttribute("events", 2)
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"cycle"`)

	// restore a no-op provider for other tests
	_, err = InitTracing(DefaultTracingConfig())
	require.NoError(t, err)
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	config := DefaultTracingConfig()
	config.Enabled = true
	config.ExporterType = "jaeger"

	_, err := InitTracing(config)
	assert.Error(t, err)
}
