// Package pipeline runs the connector: it pulls pages of security events
// from a source, forwards them through the Dispatcher and advances the
// persisted watermark once a cycle has completed.
//
// # Cycle
//
// Every cycle starts from the current watermark:
//
//	pages := source.FetchFrom(ctx, watermark)
//	for events := range assembler.Assemble(pages) {
//	    dispatcher.Dispatch(ctx, events)
//	}
//	store.Save(ctx, assembler.Candidate())  // only on success, only forward
//
// Between cycles the scheduler idles for what remains of the configured
// frequency. Delivery is at-least-once: events forwarded by a cycle that
// later fails are fetched and forwarded again by the next one.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/sources/withsecure"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
	"github.com/ajitpratap0/withsecure-connector/pkg/logger"
	"github.com/ajitpratap0/withsecure-connector/pkg/metrics"
	"github.com/ajitpratap0/withsecure-connector/pkg/observability"
)

// Source yields pages of events starting at a watermark.
type Source interface {
	FetchFrom(ctx context.Context, start time.Time) iter.Seq2[core.Page, error]
}

// SchedulerConfig controls the run loop.
type SchedulerConfig struct {
	// Name identifies the connector in logs
	Name string
	// Frequency is the minimum time between cycle starts
	Frequency time.Duration
}

// Scheduler drives fetch-and-forward cycles until its context is cancelled.
// It is the only writer of the watermark store.
type Scheduler struct {
	config     SchedulerConfig
	source     Source
	dispatcher *Dispatcher
	store      core.WatermarkStore
	logger     *zap.Logger
	metrics    *metrics.Metrics
	tracer     *observability.ConnectorTracer

	now   func() time.Time
	sleep withsecure.SleepFunc

	watermark time.Time
	loaded    bool
	cycles    uint64
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSleep replaces the idle sleep.
func WithSleep(sleep withsecure.SleepFunc) SchedulerOption {
	return func(s *Scheduler) { s.sleep = sleep }
}

// WithMetrics records cycle durations and the watermark.
func WithMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler. Call Start or Run to load the watermark.
func NewScheduler(config SchedulerConfig, source Source, dispatcher *Dispatcher, store core.WatermarkStore, log *zap.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		config:     config,
		source:     source,
		dispatcher: dispatcher,
		store:      store,
		logger:     log.With(zap.String("component", "scheduler")),
		tracer:     observability.NewConnectorTracer("withsecure", config.Name),
		now:        time.Now,
		sleep:      withsecure.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the watermark and applies the first-run and retention policy.
// An unreadable checkpoint is returned as is; the connector must not start.
func (s *Scheduler) Start(ctx context.Context) error {
	stored, found, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	s.watermark = core.ResolveWatermark(s.now(), stored, found)
	s.loaded = true
	s.recordWatermark()

	s.logger.Info("watermark loaded",
		zap.Bool("stored", found),
		zap.Time("watermark", s.watermark))
	return nil
}

// Watermark returns the in-memory watermark.
func (s *Scheduler) Watermark() time.Time {
	return s.watermark
}

// Run cycles until ctx is cancelled. Cycle errors are logged and never end
// the loop; the only error returned is a failure to load the watermark.
func (s *Scheduler) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	if !s.loaded {
		if err := s.Start(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	s.logger.Info("Start fetching WithSecure security events",
		zap.Duration("frequency", s.config.Frequency))
	defer s.logger.Info("Stopping WithSecure Security Events connector")

	for ctx.Err() == nil {
		started := s.now()
		err := s.RunCycle(ctx)
		elapsed := s.now().Sub(started).Truncate(time.Second)

		if err != nil {
			s.logCycleError(err)
		}
		s.logger.Debug(fmt.Sprintf("Fetched and forwarded events in %d seconds", int64(elapsed.Seconds())))

		idle := s.config.Frequency - elapsed
		if idle <= 0 {
			continue
		}
		s.logger.Debug(fmt.Sprintf("Next batch in the future. Waiting %d seconds", int64(idle.Seconds())))
		if err := s.sleep(ctx, idle); err != nil {
			break
		}
	}

	return nil
}

// RunCycle forwards every page available from the current watermark and
// persists the new watermark when the cycle completes. A shutdown during
// the cycle ends the page sequence early; what was already forwarded is
// still checkpointed.
func (s *Scheduler) RunCycle(ctx context.Context) (err error) {
	s.cycles++
	ctx = context.WithValue(ctx, logger.CycleKey, s.cycles)
	log := s.logger.With(zap.Uint64("cycle", s.cycles))

	ctx, span := s.tracer.StartSpan(ctx, "cycle")
	started := s.now()
	defer func() {
		span.RecordError(err)
		span.End()
		s.recordCycle(started, err)
	}()

	span.SetAttribute("watermark", core.FormatWatermark(s.watermark))
	assembler := withsecure.NewAssembler(s.watermark, log)

	forwarded := 0
	for events, fetchErr := range assembler.Assemble(s.source.FetchFrom(ctx, s.watermark)) {
		if fetchErr != nil {
			return fetchErr
		}
		n, pushErr := s.dispatcher.Dispatch(ctx, events)
		if pushErr != nil {
			return pushErr
		}
		forwarded += n
	}

	if assembler.Pages() == 0 {
		if _, err := s.dispatcher.Dispatch(ctx, nil); err != nil {
			return err
		}
	}
	span.SetAttribute("events.forwarded", forwarded)

	candidate := assembler.Candidate()
	if !candidate.After(s.watermark) {
		return nil
	}

	// Saved even when ctx is cancelled: these events were already forwarded.
	if err := s.store.Save(context.WithoutCancel(ctx), candidate); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to persist watermark")
	}
	log.Debug("watermark advanced",
		zap.Time("from", s.watermark),
		zap.Time("to", candidate))
	s.watermark = candidate
	s.recordWatermark()

	return nil
}

func (s *Scheduler) logCycleError(err error) {
	fields := []zap.Field{zap.Error(err)}

	var typed *errors.Error
	if errors.As(err, &typed) {
		fields = append(fields, zap.String("error_type", string(typed.Type)))
	}
	if fe, ok := withsecure.AsFetchEventsError(err); ok {
		fields = append(fields,
			zap.Int("status", fe.Status),
			zap.String("error_code", fe.Code),
			zap.String("error_summary", fe.Summary))
	}

	s.logger.Error("Failed to forward events", fields...)
}

func (s *Scheduler) recordCycle(started time.Time, err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	s.metrics.CycleDuration.WithLabelValues(result).Observe(s.now().Sub(started).Seconds())
}

func (s *Scheduler) recordWatermark() {
	if s.metrics != nil {
		s.metrics.Watermark.Set(float64(s.watermark.Unix()))
	}
}
