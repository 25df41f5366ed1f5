package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, defaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, defaultAdminAddress, cfg.AdminAddress)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
	assert.Equal(t, defaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
	assert.Equal(t, defaultUpstreamTimeout, cfg.Upstream.Timeout)
	assert.Equal(t, BackendMemory, cfg.Dedup.Backend)
	assert.Equal(t, defaultDedupTTL, cfg.Dedup.TTL)
	assert.Equal(t, defaultBroadcastWindow, cfg.Broadcast.Window)
	assert.True(t, cfg.Poll.Enabled)
	assert.Equal(t, defaultPollInterval, cfg.Poll.Interval)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Empty(t, cfg.Webhooks)
	assert.False(t, cfg.Fanout.Enabled)
	assert.Equal(t, defaultUploadTTL, cfg.Uploads.TTL)

	assert.Error(t, cfg.Validate(), "password and upstream url are required")
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
listen_address: "127.0.0.1:8080"
password: "hunter2"
shutdown_grace_period: "5s"
upstream:
  url: "http://127.0.0.1:5000/"
  timeout: "3s"
dedup:
  backend: "Redis"
  redis_addr: "localhost:6379"
poll:
  enabled: false
webhooks:
  - "http://hooks.local/a"
`), 0o644))

	t.Setenv("MSGBRIDGE_LISTEN_ADDRESS", ":6000")
	t.Setenv("MSGBRIDGE_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.ListenAddress)
	assert.Equal(t, "hunter2", cfg.Password)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGracePeriod)
	assert.Equal(t, "http://127.0.0.1:5000", cfg.Upstream.URL)
	assert.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, BackendRedis, cfg.Dedup.Backend)
	assert.False(t, cfg.Poll.Enabled)
	assert.Equal(t, []string{"http://hooks.local/a"}, cfg.Webhooks)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, cfg.Kafka.Brokers, cfg.Fanout.Brokers, "fanout reuses the event brokers")
	assert.Equal(t, defaultFanoutTopic, cfg.Fanout.Topic)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("MSGBRIDGE_POLL_INTERVAL", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll.interval")
}

func TestValidate(t *testing.T) {
	base := Config{
		Password: "pw",
		Upstream: UpstreamConfig{URL: "http://daemon"},
		Dedup:    DedupConfig{Backend: BackendMemory, TTL: time.Minute},
		Poll:     PollConfig{Enabled: true, Interval: time.Second},
		Uploads:  UploadsConfig{TTL: time.Hour},
	}
	require.NoError(t, base.Validate())

	cfg := base
	cfg.Upstream.URL = "daemon:5000"
	assert.Error(t, cfg.Validate())

	cfg = base
	cfg.Dedup.Backend = BackendRedis
	assert.ErrorContains(t, cfg.Validate(), "redis_addr")

	cfg = base
	cfg.Dedup.Backend = "memcached"
	assert.Error(t, cfg.Validate())

	cfg = base
	cfg.Poll.Interval = 0
	assert.Error(t, cfg.Validate())

	cfg = base
	cfg.Uploads.TTL = 0
	assert.ErrorContains(t, cfg.Validate(), "uploads.ttl")

	cfg = base
	cfg.Fanout.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "fanout.brokers")
}
