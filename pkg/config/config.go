package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the bridge runtime parameters.
type Config struct {
	ListenAddress       string          `mapstructure:"listen_address"`
	AdminAddress        string          `mapstructure:"admin_address"`
	LogLevel            string          `mapstructure:"log_level"`
	LogFormat           string          `mapstructure:"log_format"`
	Password            string          `mapstructure:"password"`
	ShutdownGracePeriod time.Duration   `mapstructure:"shutdown_grace_period"`
	Upstream            UpstreamConfig  `mapstructure:"upstream"`
	Dedup               DedupConfig     `mapstructure:"dedup"`
	Broadcast           BroadcastConfig `mapstructure:"broadcast"`
	Poll                PollConfig      `mapstructure:"poll"`
	CORS                CORSConfig      `mapstructure:"cors"`
	Uploads             UploadsConfig   `mapstructure:"uploads"`
	Webhooks            []string        `mapstructure:"webhooks"`
	WebhookTimeout      time.Duration   `mapstructure:"webhook_timeout"`
	Kafka               KafkaConfig     `mapstructure:"kafka"`
	Fanout              FanoutConfig    `mapstructure:"fanout"`
}

type UpstreamConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DedupConfig selects the send-dedup backend. Backend is "memory" or "redis".
type DedupConfig struct {
	Backend   string        `mapstructure:"backend"`
	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// BroadcastConfig bounds how long a message id is remembered so the push
// and poll paths deliver it once.
type BroadcastConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type PollConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// UploadsConfig locates staged attachments. Files and unfinished chunked
// uploads older than TTL are removed.
type UploadsConfig struct {
	Dir string        `mapstructure:"dir"`
	TTL time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// FanoutConfig shares realtime broadcasts between replicas over Kafka.
// Brokers falls back to kafka.brokers when empty.
type FanoutConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const (
	defaultListenAddress       = ":1234"
	defaultAdminAddress        = ":9102"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultUpstreamTimeout     = 30 * time.Second
	defaultDedupTTL            = 2 * time.Minute
	defaultDedupKeyPrefix      = "msgbridge:send:"
	defaultBroadcastWindow     = 10 * time.Minute
	defaultPollInterval        = 5 * time.Second
	defaultWebhookTimeout      = 5 * time.Second
	defaultUploadTTL           = time.Hour
	defaultKafkaTopic          = "msgbridge-events"
	defaultFanoutTopic         = "msgbridge-fanout"
)

// durationKeys are the settings viper hands back as strings.
var durationKeys = map[string]time.Duration{
	"shutdown_grace_period": defaultShutdownGracePeriod,
	"upstream.timeout":      defaultUpstreamTimeout,
	"dedup.ttl":             defaultDedupTTL,
	"broadcast.window":      defaultBroadcastWindow,
	"poll.interval":         defaultPollInterval,
	"webhook_timeout":       defaultWebhookTimeout,
	"uploads.ttl":           defaultUploadTTL,
}

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with MSGBRIDGE_ and override file values,
// e.g. MSGBRIDGE_UPSTREAM_URL.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MSGBRIDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("admin_address", defaultAdminAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", defaultLogFormat)
	v.SetDefault("password", "")
	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.token", "")
	v.SetDefault("dedup.backend", BackendMemory)
	v.SetDefault("dedup.redis_addr", "")
	v.SetDefault("dedup.key_prefix", defaultDedupKeyPrefix)
	v.SetDefault("poll.enabled", true)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("uploads.dir", filepath.Join(os.TempDir(), "msgbridge"))
	v.SetDefault("webhooks", []string{})
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", defaultKafkaTopic)
	v.SetDefault("fanout.enabled", false)
	v.SetDefault("fanout.brokers", []string{})
	v.SetDefault("fanout.topic", defaultFanoutTopic)
	for key, def := range durationKeys {
		v.SetDefault(key, def.String())
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	for key, def := range durationKeys {
		dur := def
		if raw := strings.TrimSpace(v.GetString(key)); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", key, err)
			}
			dur = parsed
		}
		cfg.setDuration(key, dur)
	}

	// Lists from the environment arrive comma separated.
	cfg.CORS.AllowedOrigins = splitList(v.GetStringSlice("cors.allowed_origins"))
	cfg.Webhooks = splitList(v.GetStringSlice("webhooks"))
	cfg.Kafka.Brokers = splitList(v.GetStringSlice("kafka.brokers"))
	cfg.Fanout.Brokers = splitList(v.GetStringSlice("fanout.brokers"))
	if len(cfg.Fanout.Brokers) == 0 {
		cfg.Fanout.Brokers = cfg.Kafka.Brokers
	}

	cfg.Dedup.Backend = strings.ToLower(strings.TrimSpace(cfg.Dedup.Backend))
	cfg.Upstream.URL = strings.TrimRight(strings.TrimSpace(cfg.Upstream.URL), "/")

	return cfg, nil
}

func (c *Config) setDuration(key string, d time.Duration) {
	switch key {
	case "shutdown_grace_period":
		c.ShutdownGracePeriod = d
	case "upstream.timeout":
		c.Upstream.Timeout = d
	case "dedup.ttl":
		c.Dedup.TTL = d
	case "broadcast.window":
		c.Broadcast.Window = d
	case "poll.interval":
		c.Poll.Interval = d
	case "webhook_timeout":
		c.WebhookTimeout = d
	case "uploads.ttl":
		c.Uploads.TTL = d
	}
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports settings the bridge cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}
	if c.Upstream.URL == "" {
		errs = append(errs, errors.New("upstream.url is required"))
	} else if !strings.HasPrefix(c.Upstream.URL, "http://") && !strings.HasPrefix(c.Upstream.URL, "https://") {
		errs = append(errs, fmt.Errorf("upstream.url %q must be http or https", c.Upstream.URL))
	}
	switch c.Dedup.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Dedup.RedisAddr == "" {
			errs = append(errs, errors.New("dedup.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dedup.backend %q", c.Dedup.Backend))
	}
	if c.Poll.Enabled && c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Dedup.TTL <= 0 {
		errs = append(errs, errors.New("dedup.ttl must be positive"))
	}
	if c.Uploads.TTL <= 0 {
		errs = append(errs, errors.New("uploads.ttl must be positive"))
	}
	if c.Fanout.Enabled && len(c.Fanout.Brokers) == 0 {
		errs = append(errs, errors.New("fanout.brokers is required when fanout is enabled"))
	}
	return errors.Join(errs...)
}
