// Package config loads service configuration from TASKSTREAM_-prefixed
// environment variables. Parsing stays here; defaulting for zero values
// belongs to the consuming layer.
package config

import (
	"fmt"
	"time"

	"github.com/rezkam/taskstream/internal/env"
)

// Config holds the full application configuration. Each binary reads the
// sections it needs.
type Config struct {
	// Env selects the runtime profile: dev or prod.
	Env string `env:"TASKSTREAM_ENV"`

	Server        ServerConfig
	Storage       StorageConfig
	Bus           BusConfig
	Auth          AuthConfig
	Scheduler     SchedulerConfig
	Notification  NotificationConfig
	Archive       ArchiveConfig
	Broadcast     BroadcastConfig
	Observability ObservabilityConfig
}

// ServerConfig configures the task API server.
type ServerConfig struct {
	Host         string        `env:"TASKSTREAM_HTTP_HOST"`
	Port         string        `env:"TASKSTREAM_HTTP_PORT"`
	ReadTimeout  time.Duration `env:"TASKSTREAM_HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"TASKSTREAM_HTTP_WRITE_TIMEOUT"`
	MaxBodyBytes int64         `env:"TASKSTREAM_HTTP_MAX_BODY_BYTES"`
}

// StorageConfig configures the PostgreSQL store.
type StorageConfig struct {
	DSN             string        `env:"TASKSTREAM_POSTGRES_DSN"`
	MaxOpenConns    int           `env:"TASKSTREAM_POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `env:"TASKSTREAM_POSTGRES_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `env:"TASKSTREAM_POSTGRES_CONN_MAX_LIFETIME"`
}

// Validate checks the storage section.
func (c *StorageConfig) Validate() error {
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("postgres pool sizes must not be negative")
	}
	return nil
}

// BusConfig configures the Kafka event bus.
type BusConfig struct {
	// Brokers is the comma-separated Kafka bootstrap list. Empty selects
	// the in-process bus, which only makes sense for a single binary in dev.
	Brokers []string `env:"TASKSTREAM_KAFKA_BROKERS"`

	// OutboxSweepInterval and OutboxBatchSize tune the redelivery sweeper.
	OutboxSweepInterval time.Duration `env:"TASKSTREAM_OUTBOX_SWEEP_INTERVAL"`
	OutboxBatchSize     int           `env:"TASKSTREAM_OUTBOX_BATCH_SIZE"`
}

// AuthConfig configures token verification.
type AuthConfig struct {
	// JWTSecret signs and verifies the HMAC bearer tokens.
	JWTSecret string `env:"TASKSTREAM_JWT_SECRET"`
}

// SchedulerConfig configures the durable job runner.
type SchedulerConfig struct {
	Concurrency  int           `env:"TASKSTREAM_SCHEDULER_CONCURRENCY"`
	PollInterval time.Duration `env:"TASKSTREAM_SCHEDULER_POLL_INTERVAL"`
	Lease        time.Duration `env:"TASKSTREAM_SCHEDULER_LEASE"`
}

// Validate checks the scheduler section.
func (c *SchedulerConfig) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("scheduler concurrency must not be negative")
	}
	return nil
}

// NotificationConfig configures reminder delivery.
type NotificationConfig struct {
	// WebhookURL receives reminder payloads. Required for the worker.
	WebhookURL string        `env:"TASKSTREAM_WEBHOOK_URL"`
	Timeout    time.Duration `env:"TASKSTREAM_WEBHOOK_TIMEOUT"`
}

// ArchiveConfig configures the audit archiver.
type ArchiveConfig struct {
	// StorageType selects the archive sink: fs or gcs. Empty leaves the
	// archiver off entirely.
	StorageType string `env:"TASKSTREAM_ARCHIVE_STORAGE_TYPE"`
	GCSBucket   string `env:"TASKSTREAM_ARCHIVE_GCS_BUCKET"`
	FSDir       string `env:"TASKSTREAM_ARCHIVE_FS_DIR"`

	Retention time.Duration `env:"TASKSTREAM_ARCHIVE_RETENTION"`
	Interval  time.Duration `env:"TASKSTREAM_ARCHIVE_INTERVAL"`
}

// Enabled reports whether an archive sink is configured. The archiver never
// runs implicitly: audit rows are only exported and trimmed once an operator
// has chosen where the exports go.
func (c *ArchiveConfig) Enabled() bool {
	return c.StorageType != ""
}

// Validate checks the archive section.
func (c *ArchiveConfig) Validate() error {
	switch c.StorageType {
	case "", "fs":
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("TASKSTREAM_ARCHIVE_GCS_BUCKET is required when archive storage type is gcs")
		}
	default:
		return fmt.Errorf("unknown archive storage type: %s", c.StorageType)
	}
	return nil
}

// BroadcastConfig configures the live stream endpoint.
type BroadcastConfig struct {
	Host string `env:"TASKSTREAM_WS_HOST"`
	Port string `env:"TASKSTREAM_WS_PORT"`
}

// ObservabilityConfig configures the OpenTelemetry pipeline.
type ObservabilityConfig struct {
	Enabled   bool   `env:"TASKSTREAM_OTEL_ENABLED"`
	Collector string `env:"TASKSTREAM_OTEL_COLLECTOR"`
}

// Load parses environment variables into a Config and validates each section.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("unknown TASKSTREAM_ENV: %s", cfg.Env)
	}
	return cfg, nil
}
