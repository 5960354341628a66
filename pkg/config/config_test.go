package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "connector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "withsecure-security-events", cfg.Connector.Name)
	assert.Equal(t, 5, cfg.Connector.Frequency)
	assert.Equal(t, 1000, cfg.Connector.PageSize)
	assert.Equal(t, "https://api.connect.withsecure.com", cfg.API.BaseURL)
	assert.Equal(t, []string{"connect.api.read"}, cfg.API.Scopes)
	assert.Equal(t, "file", cfg.Checkpoint.Backend)
	assert.Equal(t, "intake", cfg.Sink.Type)
	assert.Equal(t, 30*time.Second, cfg.Sink.Intake.Timeout)
	assert.Equal(t, time.Duration(0), cfg.API.RequestTimeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
connector:
  organization_id: org-1
  frequency: 30
api:
  client_id: client
  request_timeout: 45s
sink:
  type: kafka
  kafka:
    brokers: [broker-1:9092]
    topic: events
`)

	t.Setenv("WITHSECURE_API_SECRET", "s3cr3t")
	t.Setenv("WITHSECURE_CONNECTOR_PAGE_SIZE", "200")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "org-1", cfg.Connector.OrganizationID)
	assert.Equal(t, 30, cfg.Connector.Frequency)
	assert.Equal(t, 200, cfg.Connector.PageSize)
	assert.Equal(t, "client", cfg.API.ClientID)
	assert.Equal(t, "s3cr3t", cfg.API.Secret)
	assert.Equal(t, 45*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, []string{"broker-1:9092"}, cfg.Sink.Kafka.Brokers)
	assert.Equal(t, "events", cfg.Sink.Kafka.Topic)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Sink.Intake.IntakeKey = "key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing name", mutate: func(c *Config) { c.Connector.Name = "" }, wantErr: true},
		{name: "negative frequency", mutate: func(c *Config) { c.Connector.Frequency = -1 }, wantErr: true},
		{name: "zero page size", mutate: func(c *Config) { c.Connector.PageSize = 0 }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Checkpoint.Backend = "postgres" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Checkpoint.Backend = "etcd" }, wantErr: true},
		{name: "intake without key", mutate: func(c *Config) { c.Sink.Intake.IntakeKey = "" }, wantErr: true},
		{name: "file sink", mutate: func(c *Config) { c.Sink.Type = "file" }},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Sink.Type = "s3" }, wantErr: true},
		{name: "unknown sink", mutate: func(c *Config) { c.Sink.Type = "syslog" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConnectorConfig_Durations(t *testing.T) {
	c := ConnectorConfig{Frequency: 5}
	assert.Equal(t, 5*time.Second, c.FrequencyDuration())
	assert.Equal(t, 5*time.Second, c.EmptyPageWaitDuration())

	c.EmptyPageWait = 2
	assert.Equal(t, 2*time.Second, c.EmptyPageWaitDuration())
}

func TestConnectorConfig_EmptyPageWaitHasFloor(t *testing.T) {
	cfg := Default()
	cfg.Sink.Intake.IntakeKey = "key"
	cfg.Connector.Frequency = 0
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Duration(0), cfg.Connector.FrequencyDuration())
	assert.Equal(t, MinEmptyPageWait, cfg.Connector.EmptyPageWaitDuration())
}

func TestConfig_YAMLRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.API.Secret = "super-secret"
	cfg.Sink.Intake.IntakeKey = "intake-key"

	out, err := cfg.YAML()
	require.NoError(t, err)

	assert.NotContains(t, string(out), "super-secret")
	assert.NotContains(t, string(out), "intake-key")
	assert.Contains(t, string(out), redacted)
	assert.Equal(t, "super-secret", cfg.API.Secret)
}

func TestConfig_CheckpointKey(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Connector.Name, cfg.CheckpointKey())

	cfg.Checkpoint.Key = "custom"
	assert.Equal(t, "custom", cfg.CheckpointKey())
}
