package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/internal/pipeline"
	"github.com/ajitpratap0/withsecure-connector/pkg/clients"
	"github.com/ajitpratap0/withsecure-connector/pkg/config"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/registry"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/sources/withsecure"
	"github.com/ajitpratap0/withsecure-connector/pkg/logger"
	"github.com/ajitpratap0/withsecure-connector/pkg/metrics"
	"github.com/ajitpratap0/withsecure-connector/pkg/observability"
)

const shutdownTimeout = 5 * time.Second

// runConnector wires the fetcher, sink, checkpoint store and scheduler and
// blocks until ctx is cancelled.
func runConnector(ctx context.Context, cfg *config.Config) error {
	ctx = context.WithValue(ctx, logger.ConnectorKey, cfg.Connector.Name)
	log := logger.WithContext(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	tracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "withsecure-connector",
		ServiceVersion: version,
		ExporterType:   cfg.Tracing.Exporter,
		SamplingRate:   1.0,
	})
	if err != nil {
		return err
	}
	defer shutdown(log, "tracing", tracing.Shutdown)

	store, err := openCheckpointStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	apiClient, err := newAPIClient(cfg, log, m)
	if err != nil {
		return err
	}
	defer apiClient.Close()

	sink, err := registry.CreateSink(cfg.Sink.Type, cfg.Sink, registry.Dependencies{Logger: log, Metrics: m})
	if err != nil {
		return err
	}
	defer shutdown(log, "sink", sink.Close)

	fetcher := withsecure.NewFetcher(apiClient, withsecure.FetcherConfig{
		BaseURL:        cfg.API.BaseURL,
		OrganizationID: cfg.Connector.OrganizationID,
		PageSize:       cfg.Connector.PageSize,
		EmptyPageWait:  cfg.Connector.EmptyPageWaitDuration(),
	}, log, withsecure.WithMetrics(m))

	scheduler := pipeline.NewScheduler(pipeline.SchedulerConfig{
		Name:      cfg.Connector.Name,
		Frequency: cfg.Connector.FrequencyDuration(),
	}, fetcher, pipeline.NewDispatcher(sink, log, m), store, log, pipeline.WithMetrics(m))

	// a checkpoint that cannot be read must stop the connector before any fetch
	if err := scheduler.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("shutdown requested before the checkpoint was loaded")
			return nil
		}
		log.Error("failed to load the checkpoint", zap.Error(err))
		return err
	}

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics.Address, reg, log)
		defer shutdown(log, "metrics server", srv.Shutdown)
	}

	return scheduler.Run(ctx)
}

func newAPIClient(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*clients.HTTPClient, error) {
	httpConfig := clients.DefaultHTTPConfig()
	httpConfig.RequestTimeout = cfg.API.RequestTimeout
	httpConfig.RateLimit = cfg.API.RateLimit
	httpConfig.RateBurst = cfg.API.RateBurst
	httpConfig.EnableHTTP2 = cfg.API.EnableHTTP2
	httpConfig.OAuth2 = &clients.OAuth2Config{
		ClientID:     cfg.API.ClientID,
		ClientSecret: cfg.API.Secret,
		TokenURL:     cfg.API.TokenURL,
		Scopes:       cfg.API.Scopes,
	}
	return clients.NewHTTPClient(httpConfig, log, clients.WithMetrics(m))
}

func startMetricsServer(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics server listening", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdown(log *zap.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn("failed to close "+what, zap.Error(err))
	}
}
