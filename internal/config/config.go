// Package config loads hub configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "2m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the hub service configuration.
type Config struct {
	// ListenAddr is the HTTP/WebSocket bind address.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// StorePath is the audit store directory. Empty disables auditing.
	StorePath string `yaml:"store_path"`

	// RequestTTL bounds unanswered chat request lifetime. Zero disables
	// expiry.
	RequestTTL Duration `yaml:"request_ttl"`

	// AuditQueue is the audit write queue depth.
	AuditQueue int `yaml:"audit_queue"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr: ":3000",
		LogLevel:   "info",
		StorePath:  "./llmhub-audit",
		RequestTTL: Duration(2 * time.Minute),
		AuditQueue: 256,
	}
}

// Load reads the config file at path (optional), applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LLMHUB_ADDR"); v != "" {
		cfg.ListenAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := os.Getenv("LLMHUB_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("LLMHUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LLMHUB_REQUEST_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.RequestTTL = Duration(parsed)
		}
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.RequestTTL < 0 {
		return fmt.Errorf("request_ttl must not be negative")
	}
	if c.AuditQueue < 0 {
		return fmt.Errorf("audit_queue must not be negative")
	}
	return nil
}
