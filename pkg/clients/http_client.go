// Package clients provides the HTTP client shared by the WithSecure source
// and the intake sink.
package clients

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
	"github.com/ajitpratap0/withsecure-connector/pkg/metrics"
)

// HTTPClient wraps net/http with optional OAuth2 authentication, client-side
// rate limiting and request metrics.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport

	rateLimiter RateLimiter
	metrics     *metrics.Metrics
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`

	// HTTP/2 settings
	EnableHTTP2 bool `json:"enable_http2"`

	// Timeouts
	DialTimeout         time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout"`
	// RequestTimeout bounds a whole request; 0 means no timeout
	RequestTimeout time.Duration `json:"request_timeout"`
	KeepAlive      time.Duration `json:"keep_alive"`

	TLSMinVersion uint16 `json:"tls_min_version"`

	// Rate limiting; RateLimit <= 0 disables it
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	UserAgent string `json:"user_agent"`

	// OAuth2 enables client-credentials authentication when set
	OAuth2 *OAuth2Config `json:"oauth2,omitempty"`
}

// DefaultHTTPConfig returns the default configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		EnableHTTP2:         true,
		DialTimeout:         30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSMinVersion:       tls.VersionTLS12,
		RateBurst:           1,
		UserAgent:           "withsecure-connector",
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	// Reason is the status text without the code, e.g. "Not Found"
	Reason string
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithMetrics records request counts and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *HTTPClient) {
		c.metrics = m
	}
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger, opts ...Option) (*HTTPClient, error) {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &HTTPClient{
		config:      config,
		logger:      logger.With(zap.String("component", "http_client")),
		rateLimiter: NewRateLimiter(config.RateLimit, config.RateBurst),
	}
	for _, opt := range opts {
		opt(client)
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: config.TLSMinVersion,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	var rt http.RoundTripper = client.transport
	if config.OAuth2 != nil {
		authenticated, err := newOAuth2Transport(config.OAuth2, client.transport, config.RequestTimeout)
		if err != nil {
			return nil, err
		}
		rt = authenticated
	}

	client.httpClient = &http.Client{
		Transport: rt,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return client, nil
}

// Get performs an HTTP GET request with the given query parameters.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (*Response, error) {
	if len(params) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid request url")
		}
		query := u.Query()
		for key, values := range params {
			query[key] = values
		}
		u.RawQuery = query.Encode()
		rawURL = u.String()
	}

	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil, headers)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST request
func (c *HTTPClient) Post(ctx context.Context, rawURL string, body io.Reader, headers map[string]string) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, rawURL, body, headers)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do sends req and reads the whole response body. Non-2xx statuses are not
// errors; callers classify them from the returned Response.
func (c *HTTPClient) Do(req *http.Request) (*Response, error) {
	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "rate limiter wait aborted")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.observe(req, "error", duration)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
			WithDetail("method", req.Method).
			WithDetail("host", req.URL.Host)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.observe(req, strconv.Itoa(resp.StatusCode), duration)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body").
			WithDetail("status", resp.StatusCode)
	}

	c.logger.Debug("request completed",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration))

	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     reason(resp),
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *HTTPClient) observe(req *http.Request, code string, duration time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.HTTPRequests.WithLabelValues(req.URL.Host, code).Inc()
	c.metrics.HTTPRequestDuration.WithLabelValues(req.URL.Host).Observe(duration.Seconds())
}

func (c *HTTPClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to build request")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	return req, nil
}

// Close releases idle connections
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func reason(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if text := strings.TrimPrefix(resp.Status, prefix); text != resp.Status && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
