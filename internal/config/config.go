// Package config provides configuration loading for vectord.
package config

import (
	"fmt"
	"time"
)

// Config is the full vectord configuration.
type Config struct {
	Tenants   []string        `koanf:"tenants"`
	NATS      NATSConfig      `koanf:"nats"`
	Providers ProvidersConfig `koanf:"providers"`
	Cache     CacheConfig     `koanf:"cache"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Retry     RetryConfig     `koanf:"retry"`
	Recovery  RecoveryConfig  `koanf:"recovery"`
	Mirror    MirrorConfig    `koanf:"mirror"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// NATSConfig configures the NATS connection. With Embedded set, an
// in-process JetStream server is started and URL is ignored.
type NATSConfig struct {
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
	StoreDir string `koanf:"store_dir"`
	Bucket   string `koanf:"bucket"`
}

// ProvidersConfig configures the embedding provider chain. The primary
// is a remote HTTP provider; the fallback is the local projection
// embedder and is always present.
type ProvidersConfig struct {
	Primary   HTTPProviderConfig `koanf:"primary"`
	Dimension int                `koanf:"dimension"`
}

// HTTPProviderConfig configures the remote embedding provider.
type HTTPProviderConfig struct {
	Name    string        `koanf:"name"`
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// CacheConfig configures the semantic cache.
type CacheConfig struct {
	TTL                 time.Duration `koanf:"ttl"`
	SimilarityThreshold float64       `koanf:"similarity_threshold"`
}

// DispatchConfig configures the event consumer.
type DispatchConfig struct {
	Queue        string `koanf:"queue"`
	MaxInFlight  int64  `koanf:"max_in_flight"`
	StreamPrefix string `koanf:"stream_prefix"`
}

// RetryConfig configures the retry scheduler.
type RetryConfig struct {
	BaseDelay           time.Duration `koanf:"base_delay"`
	MaxDelay            time.Duration `koanf:"max_delay"`
	MaxRetries          int           `koanf:"max_retries"`
	DeadLetterRetention time.Duration `koanf:"dead_letter_retention"`
	SweepInterval       time.Duration `koanf:"sweep_interval"`
}

// RecoveryConfig configures the recovery sweeper.
type RecoveryConfig struct {
	Interval    time.Duration `koanf:"interval"`
	BatchSize   int           `koanf:"batch_size"`
	MaxAttempts int           `koanf:"max_attempts"`
}

// MirrorConfig configures the optional external vector database
// mirror. Disabled unless a host is set.
type MirrorConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OTLP metric export. Disabled unless an
// endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

// applyDefaults fills unset fields with defaults.
func applyDefaults(cfg *Config) {
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.Bucket == "" {
		cfg.NATS.Bucket = "vectord"
	}
	if cfg.Providers.Primary.Name == "" {
		cfg.Providers.Primary.Name = "remote"
	}
	if cfg.Providers.Primary.Timeout == 0 {
		cfg.Providers.Primary.Timeout = 10 * time.Second
	}
	if cfg.Providers.Dimension == 0 {
		cfg.Providers.Dimension = 1536
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Hour
	}
	if cfg.Cache.SimilarityThreshold == 0 {
		cfg.Cache.SimilarityThreshold = 0.85
	}
	if cfg.Dispatch.Queue == "" {
		cfg.Dispatch.Queue = "vectord"
	}
	if cfg.Dispatch.MaxInFlight == 0 {
		cfg.Dispatch.MaxInFlight = 10
	}
	if cfg.Dispatch.StreamPrefix == "" {
		cfg.Dispatch.StreamPrefix = "EVENTS"
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 60 * time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 300 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.DeadLetterRetention == 0 {
		cfg.Retry.DeadLetterRetention = 7 * 24 * time.Hour
	}
	if cfg.Retry.SweepInterval == 0 {
		cfg.Retry.SweepInterval = 30 * time.Second
	}
	if cfg.Recovery.Interval == 0 {
		cfg.Recovery.Interval = 5 * time.Minute
	}
	if cfg.Recovery.BatchSize == 0 {
		cfg.Recovery.BatchSize = 50
	}
	if cfg.Recovery.MaxAttempts == 0 {
		cfg.Recovery.MaxAttempts = 10
	}
	if cfg.Mirror.Port == 0 {
		cfg.Mirror.Port = 6334
	}
	if cfg.Mirror.Collection == "" {
		cfg.Mirror.Collection = "vectord"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "vectord"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Tenants) == 0 {
		return fmt.Errorf("at least one tenant must be configured")
	}
	if c.Providers.Dimension <= 0 {
		return fmt.Errorf("providers.dimension must be positive")
	}
	if c.Providers.Primary.BaseURL == "" {
		return fmt.Errorf("providers.primary.base_url is required")
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be in [0, 1]")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.base_delay")
	}
	if c.Logging.Level != "debug" && c.Logging.Level != "info" &&
		c.Logging.Level != "warn" && c.Logging.Level != "error" {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
