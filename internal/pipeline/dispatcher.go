package pipeline

import (
	"context"
	"fmt"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
	"github.com/ajitpratap0/withsecure-connector/pkg/metrics"
	"github.com/ajitpratap0/withsecure-connector/pkg/observability"
	"github.com/ajitpratap0/withsecure-connector/pkg/pool"
)

// Dispatcher serializes pages of events and hands them to the sink, one
// Push per page.
type Dispatcher struct {
	sink    core.Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  *observability.ConnectorTracer
}

// NewDispatcher creates a dispatcher for sink. m may be nil.
func NewDispatcher(sink core.Sink, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		sink:    sink,
		logger:  logger.With(zap.String("component", "dispatcher"), zap.String("sink", sink.Name())),
		metrics: m,
		tracer:  observability.NewConnectorTracer("dispatcher", sink.Name()),
	}
}

// Dispatch forwards events and returns how many the sink accepted.
//
// Each event is encoded independently as compact JSON; an event that fails
// is logged and skipped. When nothing is left to send the sink is not
// called. A push failure is returned as a DownstreamPushError without retry.
// The push is not interrupted by cancellation of ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, events []core.Event) (int, error) {
	batch := d.serialize(events)
	if len(batch) == 0 {
		d.logger.Info("No events to forward")
		return 0, nil
	}

	timer := metrics.NewTimer("push")
	err := d.tracer.TraceBatch(ctx, len(batch), "push", func(ctx context.Context) error {
		return d.sink.Push(context.WithoutCancel(ctx), batch)
	})
	elapsed := timer.Stop()

	if d.metrics != nil {
		d.metrics.PushDuration.Observe(elapsed.Seconds())
	}
	d.logger.Debug("pushed batch",
		zap.Int("events", len(batch)),
		zap.Duration("duration", elapsed))

	if err != nil {
		if d.metrics != nil {
			d.metrics.PushErrors.Inc()
		}
		return 0, errors.Wrap(&DownstreamPushError{
			Sink:   d.sink.Name(),
			Events: len(batch),
			Err:    err,
		}, errors.ErrorTypePush, "failed to forward events")
	}

	if d.metrics != nil {
		d.metrics.EventsForwarded.Add(float64(len(batch)))
	}
	d.logger.Info(fmt.Sprintf("Forwarded %d events to the intake", len(batch)),
		zap.Int("events", len(batch)))

	return len(batch), nil
}

func (d *Dispatcher) serialize(events []core.Event) []string {
	batch := make([]string, 0, len(events))
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	for i, event := range events {
		buf.Reset()
		if err := gojson.Compact(buf, event.Raw); err != nil {
			serr := &SerializationError{Index: i, Err: err}
			d.logger.Error("dropping event that cannot be serialized",
				zap.Int("index", i),
				zap.Error(errors.Wrap(serr, errors.ErrorTypeSerialization, "invalid event")))
			if d.metrics != nil {
				d.metrics.SerializationErrors.Inc()
			}
			continue
		}
		batch = append(batch, buf.String())
	}

	return batch
}
