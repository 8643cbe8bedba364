package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsToDev(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
}

func TestLoadReadsAllSections(t *testing.T) {
	t.Setenv("TASKSTREAM_ENV", "prod")
	t.Setenv("TASKSTREAM_HTTP_PORT", "9000")
	t.Setenv("TASKSTREAM_POSTGRES_DSN", "postgres://app@db/taskstream")
	t.Setenv("TASKSTREAM_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("TASKSTREAM_OUTBOX_SWEEP_INTERVAL", "10s")
	t.Setenv("TASKSTREAM_JWT_SECRET", "sekrit")
	t.Setenv("TASKSTREAM_SCHEDULER_CONCURRENCY", "8")
	t.Setenv("TASKSTREAM_WEBHOOK_URL", "https://hooks.example.com/reminders")
	t.Setenv("TASKSTREAM_ARCHIVE_STORAGE_TYPE", "gcs")
	t.Setenv("TASKSTREAM_ARCHIVE_GCS_BUCKET", "taskstream-audit")
	t.Setenv("TASKSTREAM_OTEL_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "postgres://app@db/taskstream", cfg.Storage.DSN)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Bus.Brokers)
	assert.Equal(t, 10*time.Second, cfg.Bus.OutboxSweepInterval)
	assert.Equal(t, "sekrit", cfg.Auth.JWTSecret)
	assert.Equal(t, 8, cfg.Scheduler.Concurrency)
	assert.Equal(t, "https://hooks.example.com/reminders", cfg.Notification.WebhookURL)
	assert.Equal(t, "taskstream-audit", cfg.Archive.GCSBucket)
	assert.True(t, cfg.Observability.Enabled)
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	t.Setenv("TASKSTREAM_ENV", "staging")
	_, err := Load()
	assert.ErrorContains(t, err, "unknown TASKSTREAM_ENV")
}

func TestArchiveDisabledUnlessSinkConfigured(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Archive.Enabled(), "archiver must stay off without an explicit sink")

	t.Setenv("TASKSTREAM_ARCHIVE_STORAGE_TYPE", "fs")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.Archive.Enabled())
}

func TestLoadRejectsUnknownArchiveStorageType(t *testing.T) {
	t.Setenv("TASKSTREAM_ARCHIVE_STORAGE_TYPE", "s3")
	_, err := Load()
	assert.ErrorContains(t, err, "unknown archive storage type")
}

func TestLoadRejectsGCSWithoutBucket(t *testing.T) {
	t.Setenv("TASKSTREAM_ARCHIVE_STORAGE_TYPE", "gcs")
	_, err := Load()
	assert.ErrorContains(t, err, "TASKSTREAM_ARCHIVE_GCS_BUCKET")
}

func TestLoadRejectsNegativeConcurrency(t *testing.T) {
	t.Setenv("TASKSTREAM_SCHEDULER_CONCURRENCY", "-1")
	_, err := Load()
	assert.ErrorContains(t, err, "concurrency")
}
