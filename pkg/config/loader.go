package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

// EnvPrefix is the prefix of environment variables overriding configuration keys.
// WITHSECURE_API_CLIENT_ID overrides api.client_id.
const EnvPrefix = "WITHSECURE"

const redacted = "********"

// Load reads the configuration from an optional YAML file, applies
// environment overrides and fills the remaining keys with defaults.
// The result is not validated.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", filePath)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode configuration")
	}

	return cfg, nil
}

// setDefaults registers every key of defaults so that environment
// variables can override keys absent from the file.
func setDefaults(v *viper.Viper, defaults *Config) error {
	raw, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}

	tree := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("failed to unmarshal defaults: %w", err)
	}

	for key, value := range flatten("", tree) {
		v.SetDefault(key, value)
	}
	return nil
}

func flatten(prefix string, tree map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]interface{}); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// Redacted returns a copy of the configuration with credentials masked.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.API.Secret != "" {
		cp.API.Secret = redacted
	}
	if cp.Sink.Intake.IntakeKey != "" {
		cp.Sink.Intake.IntakeKey = redacted
	}
	if cp.Checkpoint.DSN != "" {
		cp.Checkpoint.DSN = redacted
	}
	cp.API.Scopes = append([]string(nil), c.API.Scopes...)
	cp.Sink.Kafka.Brokers = append([]string(nil), c.Sink.Kafka.Brokers...)
	return &cp
}

// YAML renders the configuration with credentials masked.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return out, nil
}
