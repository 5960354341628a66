// Package config provides the configuration system for the WithSecure
// security-events connector.
//
// The configuration is organized into logical sections:
//   - Connector: polling cadence, page size, organization scope
//   - API: WithSecure endpoints, OAuth2 credentials, rate limiting
//   - Checkpoint: where the watermark is persisted
//   - Sink: where forwarded events go
//   - Log, Metrics, Tracing: observability
//
// Example usage:
//
//	cfg, err := config.Load("connector.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Connector.FrequencyDuration())
package config

import (
	"time"

	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

// Config is the root configuration of the connector.
type Config struct {
	Connector  ConnectorConfig  `mapstructure:"connector" yaml:"connector"`
	API        APIConfig        `mapstructure:"api" yaml:"api"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Sink       SinkConfig       `mapstructure:"sink" yaml:"sink"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
}

// ConnectorConfig controls the fetch-and-forward loop.
type ConnectorConfig struct {
	// Name identifies the connector instance in logs and checkpoints
	Name string `mapstructure:"name" yaml:"name"`
	// OrganizationID scopes the query; empty means the default organization
	OrganizationID string `mapstructure:"organization_id" yaml:"organization_id"`
	// Frequency is the cycle period in seconds
	Frequency int `mapstructure:"frequency" yaml:"frequency"`
	// EmptyPageWait is the pause in seconds after an empty page that still
	// carries a cursor. Zero means Frequency.
	EmptyPageWait int `mapstructure:"empty_page_wait" yaml:"empty_page_wait"`
	// PageSize is the limit query parameter
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

// FrequencyDuration returns the cycle period.
func (c ConnectorConfig) FrequencyDuration() time.Duration {
	return time.Duration(c.Frequency) * time.Second
}

// MinEmptyPageWait bounds the empty-page pause from below.
const MinEmptyPageWait = time.Second

// EmptyPageWaitDuration returns the empty-page pause, falling back to the
// frequency and never shorter than MinEmptyPageWait.
func (c ConnectorConfig) EmptyPageWaitDuration() time.Duration {
	wait := c.FrequencyDuration()
	if c.EmptyPageWait > 0 {
		wait = time.Duration(c.EmptyPageWait) * time.Second
	}
	return max(wait, MinEmptyPageWait)
}

// APIConfig describes the WithSecure Elements API.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	TokenURL       string        `mapstructure:"token_url" yaml:"token_url"`
	ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
	Secret         string        `mapstructure:"secret" yaml:"secret"`
	Scopes         []string      `mapstructure:"scopes" yaml:"scopes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// RateLimit caps requests per second; 0 disables limiting
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
	// EnableHTTP2 configures the transport for HTTP/2
	EnableHTTP2 bool `mapstructure:"enable_http2" yaml:"enable_http2"`
}

// CheckpointConfig selects and configures the watermark store.
type CheckpointConfig struct {
	// Backend is "file" or "postgres"
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path of the JSON document for the file backend
	Path string `mapstructure:"path" yaml:"path"`
	// DSN for the postgres backend
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// Key identifies this connector's row for the postgres backend
	Key string `mapstructure:"key" yaml:"key"`
}

// SinkConfig selects and configures the downstream sink.
type SinkConfig struct {
	// Type is one of intake, file, kafka, s3
	Type string `mapstructure:"type" yaml:"type"`
	// Compression applies to the intake, file and s3 sinks
	Compression string           `mapstructure:"compression" yaml:"compression"`
	Intake      IntakeSinkConfig `mapstructure:"intake" yaml:"intake"`
	File        FileSinkConfig   `mapstructure:"file" yaml:"file"`
	Kafka       KafkaSinkConfig  `mapstructure:"kafka" yaml:"kafka"`
	S3          S3SinkConfig     `mapstructure:"s3" yaml:"s3"`
}

// IntakeSinkConfig configures the HTTP intake.
type IntakeSinkConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	IntakeKey string        `mapstructure:"intake_key" yaml:"intake_key"`
	ChunkSize int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// FileSinkConfig configures the local file sink.
type FileSinkConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// KafkaSinkConfig configures the Kafka sink.
type KafkaSinkConfig struct {
	Brokers     []string `mapstructure:"brokers" yaml:"brokers"`
	Topic       string   `mapstructure:"topic" yaml:"topic"`
	Acks        string   `mapstructure:"acks" yaml:"acks"`
	Compression string   `mapstructure:"compression" yaml:"compression"`
	ClientID    string   `mapstructure:"client_id" yaml:"client_id"`
}

// S3SinkConfig configures the S3 sink.
type S3SinkConfig struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	Region string `mapstructure:"region" yaml:"region"`
	// Endpoint overrides the S3 endpoint (MinIO, localstack)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Exporter string `mapstructure:"exporter" yaml:"exporter"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Connector: ConnectorConfig{
			Name:      "withsecure-security-events",
			Frequency: 5,
			PageSize:  1000,
		},
		API: APIConfig{
			BaseURL:     "https://api.connect.withsecure.com",
			TokenURL:    "https://api.connect.withsecure.com/as/token.oauth2",
			Scopes:      []string{"connect.api.read"},
			RateBurst:   1,
			EnableHTTP2: true,
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Path:    "./data/context.json",
		},
		Sink: SinkConfig{
			Type:        "intake",
			Compression: "gzip",
			Intake: IntakeSinkConfig{
				URL:       "https://intake.sekoia.io",
				ChunkSize: 1000,
				Timeout:   30 * time.Second,
			},
			File: FileSinkConfig{
				Directory: "./data/events",
			},
			Kafka: KafkaSinkConfig{
				Acks:     "all",
				ClientID: "withsecure-connector",
			},
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
		},
	}
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.Connector.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "connector.name is required")
	}
	if c.Connector.Frequency < 0 {
		return errors.New(errors.ErrorTypeConfig, "connector.frequency must not be negative")
	}
	if c.Connector.EmptyPageWait < 0 {
		return errors.New(errors.ErrorTypeConfig, "connector.empty_page_wait must not be negative")
	}
	if c.Connector.PageSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "connector.page_size must be positive")
	}

	if c.API.BaseURL == "" {
		return errors.New(errors.ErrorTypeConfig, "api.base_url is required")
	}
	if c.API.RateLimit < 0 {
		return errors.New(errors.ErrorTypeConfig, "api.rate_limit must not be negative")
	}

	switch c.Checkpoint.Backend {
	case "file":
		if c.Checkpoint.Path == "" {
			return errors.New(errors.ErrorTypeConfig, "checkpoint.path is required for the file backend")
		}
	case "postgres":
		if c.Checkpoint.DSN == "" {
			return errors.New(errors.ErrorTypeConfig, "checkpoint.dsn is required for the postgres backend")
		}
	default:
		return errors.New(errors.ErrorTypeConfig, "unknown checkpoint.backend").
			WithDetail("backend", c.Checkpoint.Backend)
	}

	switch c.Sink.Type {
	case "intake":
		if c.Sink.Intake.URL == "" || c.Sink.Intake.IntakeKey == "" {
			return errors.New(errors.ErrorTypeConfig, "sink.intake.url and sink.intake.intake_key are required")
		}
		if c.Sink.Intake.ChunkSize <= 0 {
			return errors.New(errors.ErrorTypeConfig, "sink.intake.chunk_size must be positive")
		}
	case "file":
		if c.Sink.File.Directory == "" {
			return errors.New(errors.ErrorTypeConfig, "sink.file.directory is required")
		}
	case "kafka":
		if len(c.Sink.Kafka.Brokers) == 0 || c.Sink.Kafka.Topic == "" {
			return errors.New(errors.ErrorTypeConfig, "sink.kafka.brokers and sink.kafka.topic are required")
		}
	case "s3":
		if c.Sink.S3.Bucket == "" {
			return errors.New(errors.ErrorTypeConfig, "sink.s3.bucket is required")
		}
	default:
		return errors.New(errors.ErrorTypeConfig, "unknown sink.type").
			WithDetail("type", c.Sink.Type)
	}

	return nil
}

// CheckpointKey returns the key under which the watermark is stored.
func (c *Config) CheckpointKey() string {
	if c.Checkpoint.Key != "" {
		return c.Checkpoint.Key
	}
	return c.Connector.Name
}
