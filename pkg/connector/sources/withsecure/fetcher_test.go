package withsecure

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/clients"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
	"github.com/ajitpratap0/withsecure-connector/pkg/metrics"
)

type request struct {
	url    string
	params url.Values
	ctxErr error
}

// scriptedClient replays canned responses in order.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*clients.Response
	requests  []request
	onGet     func(n int)
}

func (c *scriptedClient) Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (*clients.Response, error) {
	c.mu.Lock()
	n := len(c.requests)
	copied := url.Values{}
	for k, v := range params {
		copied[k] = append([]string(nil), v...)
	}
	c.requests = append(c.requests, request{url: rawURL, params: copied})
	c.mu.Unlock()

	if c.onGet != nil {
		c.onGet(n)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[n].ctxErr = ctx.Err()
	if n >= len(c.responses) {
		return &clients.Response{StatusCode: http.StatusOK, Body: []byte(`{"items":[]}`)}, nil
	}
	return c.responses[n], nil
}

func ok(body string) *clients.Response {
	return &clients.Response{StatusCode: http.StatusOK, Reason: "OK", Body: []byte(body)}
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func collect(t *testing.T, seq func(func(core.Page, error) bool)) ([]core.Page, error) {
	t.Helper()
	var pages []core.Page
	for page, err := range seq {
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFetcher_Pagination(t *testing.T) {
	client := &scriptedClient{responses: []*clients.Response{
		ok(`{"items":[{"id":1},{"id":2}],"nextAnchor":"a1"}`),
		ok(`{"items":[{"id":3}],"nextAnchor":null}`),
	}}
	fetcher := NewFetcher(client, FetcherConfig{
		BaseURL:        "https://api.example.com/",
		OrganizationID: "org-1",
	}, zap.NewNop())

	pages, err := collect(t, fetcher.FetchFrom(context.Background(), start))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Len(t, pages[0].Events, 2)
	assert.Equal(t, "a1", pages[0].NextCursor)
	assert.JSONEq(t, `{"id":3}`, string(pages[1].Events[0].Raw))
	assert.False(t, pages[1].HasNext())

	require.Len(t, client.requests, 2)
	first := client.requests[0]
	assert.Equal(t, "https://api.example.com/security-events/v1/security-events", first.url)
	assert.Equal(t, "2024-01-01T00:00:00Z", first.params.Get("serverTimestampStart"))
	assert.Equal(t, "1000", first.params.Get("limit"))
	assert.Equal(t, "asc", first.params.Get("order"))
	assert.Equal(t, "org-1", first.params.Get("organizationId"))
	assert.False(t, first.params.Has("anchor"))

	second := client.requests[1]
	assert.Equal(t, "a1", second.params.Get("anchor"))
	assert.Equal(t, "2024-01-01T00:00:00Z", second.params.Get("serverTimestampStart"))
}

func TestFetcher_OrganizationOmitted(t *testing.T) {
	client := &scriptedClient{responses: []*clients.Response{ok(`{"items":[]}`)}}
	fetcher := NewFetcher(client, FetcherConfig{BaseURL: "https://api.example.com", PageSize: 50}, zap.NewNop())

	_, err := collect(t, fetcher.FetchFrom(context.Background(), start))
	require.NoError(t, err)
	require.Len(t, client.requests, 1)
	assert.False(t, client.requests[0].params.Has("organizationId"))
	assert.Equal(t, "50", client.requests[0].params.Get("limit"))
}

func TestFetcher_EmptyPageWithCursorWaits(t *testing.T) {
	client := &scriptedClient{responses: []*clients.Response{
		ok(`{"items":[],"nextAnchor":"a1"}`),
		ok(`{"items":[{"id":1}]}`),
	}}
	sleeper := &sleepRecorder{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	fetcher := NewFetcher(client, FetcherConfig{EmptyPageWait: 7 * time.Second}, zap.NewNop(),
		WithSleep(sleeper.sleep), WithMetrics(m))

	pages, err := collect(t, fetcher.FetchFrom(context.Background(), start))
	require.NoError(t, err)
	require.Len(t, pages, 1)

	assert.Equal(t, []time.Duration{7 * time.Second}, sleeper.waits)
	require.Len(t, client.requests, 2)
	assert.Equal(t, "a1", client.requests[1].params.Get("anchor"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmptyPageWaits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PagesFetched))
}

func TestFetcher_EmptyPageWithoutCursorEnds(t *testing.T) {
	client := &scriptedClient{responses: []*clients.Response{ok(`{"items":[]}`)}}
	sleeper := &sleepRecorder{}
	fetcher := NewFetcher(client, FetcherConfig{EmptyPageWait: time.Second}, zap.NewNop(), WithSleep(sleeper.sleep))

	pages, err := collect(t, fetcher.FetchFrom(context.Background(), start))
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.Empty(t, sleeper.waits)
	assert.Len(t, client.requests, 1)
}

func TestFetcher_CancelledBeforeRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{}
	fetcher := NewFetcher(client, FetcherConfig{}, zap.NewNop())

	pages, err := collect(t, fetcher.FetchFrom(ctx, start))
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.Empty(t, client.requests)
}

func TestFetcher_CancelledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &scriptedClient{responses: []*clients.Response{
		ok(`{"items":[{"id":1}],"nextAnchor":"a1"}`),
		ok(`{"items":[{"id":2}]}`),
	}}
	fetcher := NewFetcher(client, FetcherConfig{}, zap.NewNop())

	var pages []core.Page
	for page, err := range fetcher.FetchFrom(ctx, start) {
		require.NoError(t, err)
		pages = append(pages, page)
		cancel()
	}

	assert.Len(t, pages, 1)
	assert.Len(t, client.requests, 1)
}

func TestFetcher_CancelledBeforeEmptyPageWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeper := &sleepRecorder{}
	client := &scriptedClient{
		responses: []*clients.Response{ok(`{"items":[],"nextAnchor":"a1"}`)},
		onGet:     func(int) { cancel() },
	}
	fetcher := NewFetcher(client, FetcherConfig{EmptyPageWait: time.Second}, zap.NewNop(), WithSleep(sleeper.sleep))

	pages, err := collect(t, fetcher.FetchFrom(ctx, start))
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.Empty(t, sleeper.waits)
	require.Len(t, client.requests, 1)
	// the request that was in flight when shutdown arrived was not aborted
	assert.NoError(t, client.requests[0].ctxErr)
}

func TestFetcher_CancelledDuringEmptyPageWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client := &scriptedClient{responses: []*clients.Response{ok(`{"items":[],"nextAnchor":"a1"}`)}}
	fetcher := NewFetcher(client, FetcherConfig{EmptyPageWait: time.Hour}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := collect(t, fetcher.FetchFrom(ctx, start))
		assert.NoError(t, err)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fetcher did not observe cancellation during the empty-page wait")
	}
	assert.Len(t, client.requests, 1)
}

func TestFetcher_ErrorStatus(t *testing.T) {
	client := &scriptedClient{responses: []*clients.Response{{
		StatusCode: http.StatusUnauthorized,
		Reason:     "Unauthorized",
		Body:       []byte(`{"errorCode":"UNAUTHORIZED","errorSummary":"token expired"}`),
	}}}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	fetcher := NewFetcher(client, FetcherConfig{}, zap.NewNop(), WithMetrics(m))

	pages, err := collect(t, fetcher.FetchFrom(context.Background(), start))
	require.Error(t, err)
	assert.Empty(t, pages)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFetch))

	fe, found := AsFetchEventsError(err)
	require.True(t, found)
	assert.Equal(t, http.StatusUnauthorized, fe.Status)
	assert.Equal(t, "UNAUTHORIZED", fe.Code)
	assert.Equal(t, "token expired", fe.Summary)
	assert.Equal(t,
		"Request on WithSecure API to fetch events failed with status 401 - Unauthorized: UNAUTHORIZED - token expired",
		fe.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchErrors.WithLabelValues("401")))
}

func TestFetcher_ErrorStatusWithoutDetail(t *testing.T) {
	client := &scriptedClient{responses: []*clients.Response{{
		StatusCode: http.StatusBadGateway,
		Reason:     "Bad Gateway",
		Body:       []byte(`<html>upstream</html>`),
	}}}
	fetcher := NewFetcher(client, FetcherConfig{}, zap.NewNop())

	_, err := collect(t, fetcher.FetchFrom(context.Background(), start))
	fe, found := AsFetchEventsError(err)
	require.True(t, found)
	assert.Equal(t, "Request on WithSecure API to fetch events failed with status 502 - Bad Gateway", fe.Error())
}

func TestFetcher_MalformedPage(t *testing.T) {
	client := &scriptedClient{responses: []*clients.Response{ok(`not json`)}}
	fetcher := NewFetcher(client, FetcherConfig{}, zap.NewNop())

	_, err := collect(t, fetcher.FetchFrom(context.Background(), start))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFetch))
	_, found := AsFetchEventsError(err)
	assert.False(t, found)
}

func TestFetcher_StopsWhenConsumerStops(t *testing.T) {
	client := &scriptedClient{responses: []*clients.Response{
		ok(`{"items":[{"id":1}],"nextAnchor":"a1"}`),
		ok(`{"items":[{"id":2}]}`),
	}}
	fetcher := NewFetcher(client, FetcherConfig{}, zap.NewNop())

	for range fetcher.FetchFrom(context.Background(), start) {
		break
	}
	assert.Len(t, client.requests, 1)
}

func TestFetcher_OverHTTP(t *testing.T) {
	var calls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, EventsPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("anchor") == "" {
			_, _ = io.WriteString(w, `{"items":[{"serverTimestampStart":"2024-01-01T00:00:03Z"}],"nextAnchor":"next"}`)
			return
		}
		_, _ = io.WriteString(w, `{"items":[{"serverTimestampStart":"2024-01-01T00:00:05.5Z"}]}`)
	}))
	defer api.Close()

	client, err := clients.NewHTTPClient(clients.DefaultHTTPConfig(), zap.NewNop())
	require.NoError(t, err)

	fetcher := NewFetcher(client, FetcherConfig{BaseURL: api.URL}, zap.NewNop())
	pages, err := collect(t, fetcher.FetchFrom(context.Background(), start))
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
