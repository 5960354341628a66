// Package withsecure pulls security events from the WithSecure Elements API.
//
// The Fetcher walks the anchor-paginated security-events endpoint as a lazy
// sequence of pages; the Assembler flattens those pages into event batches
// and tracks the watermark candidate of the cycle.
package withsecure

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/clients"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
	"github.com/ajitpratap0/withsecure-connector/pkg/metrics"
	"github.com/ajitpratap0/withsecure-connector/pkg/observability"
)

const (
	// EventsPath is the security-events endpoint relative to the API base URL.
	EventsPath = "/security-events/v1/security-events"

	// DefaultPageSize is the limit sent when none is configured.
	DefaultPageSize = 1000

	// queryTimeLayout is the serverTimestampStart format, always UTC.
	queryTimeLayout = "2006-01-02T15:04:05Z"
)

// Client is the authenticated HTTP client the fetcher issues requests with.
type Client interface {
	Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (*clients.Response, error)
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	BaseURL        string
	OrganizationID string
	PageSize       int
	// EmptyPageWait is the pause after an empty page that still has a cursor
	EmptyPageWait time.Duration
}

// SleepFunc pauses for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher issues one GET per page against the security-events endpoint.
type Fetcher struct {
	client  Client
	config  FetcherConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  *observability.ConnectorTracer
	sleep   SleepFunc
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithMetrics records page and error counts.
func WithMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// WithSleep replaces the empty-page wait.
func WithSleep(sleep SleepFunc) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

// NewFetcher creates a fetcher.
func NewFetcher(client Client, config FetcherConfig, logger *zap.Logger, opts ...FetcherOption) *Fetcher {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}

	f := &Fetcher{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "withsecure_fetcher")),
		tracer: observability.NewConnectorTracer("withsecure", "security_events"),
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// page is the wire shape of a security-events response.
type page struct {
	Items      []gojson.RawMessage `json:"items"`
	NextAnchor *string             `json:"nextAnchor"`
}

// FetchFrom returns the pages of events whose serverTimestampStart is at or
// after start, in ascending order.
//
// The sequence is lazy: a request is issued only when the consumer asks for
// the next page. It ends after a page without nextAnchor, after the first
// error (yielded once), or when ctx is cancelled. Cancellation is checked
// before each request and before each empty-page wait; a request already in
// flight runs to completion.
//
// An empty page that still carries a cursor means the feed has caught up with
// the present: the fetcher waits EmptyPageWait and asks again with that
// cursor. Empty pages are never yielded.
func (f *Fetcher) FetchFrom(ctx context.Context, start time.Time) iter.Seq2[core.Page, error] {
	return func(yield func(core.Page, error) bool) {
		params := f.baseParams(start)

		for {
			if ctx.Err() != nil {
				f.logger.Debug("stopping page fetch, shutdown requested")
				return
			}

			p, err := f.fetchPage(ctx, params)
			if err != nil {
				yield(core.Page{}, err)
				return
			}

			if len(p.Events) == 0 {
				if !p.HasNext() {
					return
				}
				if ctx.Err() != nil {
					f.logger.Debug("stopping page fetch, shutdown requested")
					return
				}

				wait := f.config.EmptyPageWait
				f.logger.Info("The last page of events was empty, caught up with the feed. Waiting before fetching next page",
					zap.Duration("wait", wait))
				if f.metrics != nil {
					f.metrics.EmptyPageWaits.Inc()
				}
				if err := f.sleep(ctx, wait); err != nil {
					return
				}

				params.Set("anchor", p.NextCursor)
				continue
			}

			if !yield(p, nil) {
				return
			}
			if !p.HasNext() {
				return
			}
			params.Set("anchor", p.NextCursor)
		}
	}
}

func (f *Fetcher) baseParams(start time.Time) url.Values {
	params := url.Values{}
	params.Set("serverTimestampStart", start.UTC().Format(queryTimeLayout))
	params.Set("limit", strconv.Itoa(f.config.PageSize))
	params.Set("order", "asc")
	if f.config.OrganizationID != "" {
		params.Set("organizationId", f.config.OrganizationID)
	}
	return params
}

func (f *Fetcher) endpoint() string {
	return strings.TrimRight(f.config.BaseURL, "/") + EventsPath
}

// fetchPage requests one page. The request itself is detached from ctx's
// cancellation so shutdown never aborts it halfway.
func (f *Fetcher) fetchPage(ctx context.Context, params url.Values) (core.Page, error) {
	ctx, span := f.tracer.StartSpan(ctx, "fetch_page")
	defer span.End()
	span.SetAttribute("anchor.present", params.Has("anchor"))

	resp, err := f.client.Get(context.WithoutCancel(ctx), f.endpoint(), params, map[string]string{
		"Accept": "application/json",
	})
	if err != nil {
		f.countError("transport")
		err = errors.Wrap(err, errors.ErrorTypeFetch, "failed to request security events")
		span.RecordError(err)
		return core.Page{}, err
	}

	span.SetAttribute("http.status_code", resp.StatusCode)
	if !resp.OK() {
		f.countError(strconv.Itoa(resp.StatusCode))
		err := newFetchEventsError(resp.StatusCode, resp.Reason, resp.Body)
		span.RecordError(err)
		return core.Page{}, err
	}

	var body page
	if err := gojson.Unmarshal(resp.Body, &body); err != nil {
		f.countError("malformed")
		err = errors.Wrap(err, errors.ErrorTypeFetch, "malformed security events page").
			WithDetail("status", resp.StatusCode)
		span.RecordError(err)
		return core.Page{}, err
	}

	result := core.Page{Events: make([]core.Event, 0, len(body.Items))}
	for _, item := range body.Items {
		result.Events = append(result.Events, core.NewEvent(item))
	}
	if body.NextAnchor != nil {
		result.NextCursor = *body.NextAnchor
	}

	if f.metrics != nil {
		f.metrics.PagesFetched.Inc()
	}
	span.SetAttribute("page.events", len(result.Events))
	span.RecordError(nil)

	f.logger.Debug("fetched page",
		zap.Int("events", len(result.Events)),
		zap.Bool("has_next", result.HasNext()))

	return result, nil
}

func (f *Fetcher) countError(status string) {
	if f.metrics != nil {
		f.metrics.FetchErrors.WithLabelValues(status).Inc()
	}
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
