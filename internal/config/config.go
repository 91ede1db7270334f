// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/heraldlabs/herald/internal/modules/settings"
)

// Config holds application configuration. Values come from defaults, an
// optional YAML file, and HERALD_* environment overrides, in that order.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	DevMode    bool             `mapstructure:"dev_mode"`
	Server     ServerConfig     `mapstructure:"server"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Queues     QueueConfig      `mapstructure:"queues"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// IngestConfig controls webhook intake.
type IngestConfig struct {
	// WebhookSecret enables HMAC signature verification when non-empty.
	WebhookSecret string        `mapstructure:"webhook_secret"`
	DedupTTL      time.Duration `mapstructure:"dedup_ttl"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
}

// QueueConfig sizes the in-process pipeline queues and worker pools.
type QueueConfig struct {
	Capacity        int           `mapstructure:"capacity"`
	EnqueueTimeout  time.Duration `mapstructure:"enqueue_timeout"`
	MatchWorkers    int           `mapstructure:"match_workers"`
	DispatchWorkers int           `mapstructure:"dispatch_workers"`
}

// SchedulerConfig controls the user-alert evaluation loop.
type SchedulerConfig struct {
	Tick        time.Duration `mapstructure:"tick"`
	Workers     int           `mapstructure:"workers"`
	MaxBatch    int           `mapstructure:"max_batch"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	LeaseTTL    time.Duration `mapstructure:"lease_ttl"`
}

// DispatchConfig controls notification delivery retries.
type DispatchConfig struct {
	RetryBase   time.Duration `mapstructure:"retry_base"`
	RetryMax    time.Duration `mapstructure:"retry_max"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// MarketDataConfig points the evaluator at a quote source.
type MarketDataConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	QuoteTTL     time.Duration `mapstructure:"quote_ttl"`
	IndicatorTTL time.Duration `mapstructure:"indicator_ttl"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

// NotifyConfig selects the notification sink. Mode "log" writes structured
// log lines; mode "http" POSTs to SinkURL.
type NotifyConfig struct {
	Mode    string        `mapstructure:"mode"`
	SinkURL string        `mapstructure:"sink_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BackupConfig controls scheduled database backups to S3-compatible storage.
type BackupConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	Schedule  string `mapstructure:"schedule"`
	Keep      int    `mapstructure:"keep"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration. A .env file is applied first if present, then
// the optional YAML file at path, then HERALD_* environment variables
// (HERALD_SERVER_PORT overrides server.port, and so on).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("HERALD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Sensitive values always honor the environment, even when the YAML
	// file carries placeholders.
	if s := os.Getenv("HERALD_WEBHOOK_SECRET"); s != "" {
		cfg.Ingest.WebhookSecret = s
	}
	if s := os.Getenv("HERALD_BACKUP_ACCESS_KEY"); s != "" {
		cfg.Backup.AccessKey = s
	}
	if s := os.Getenv("HERALD_BACKUP_SECRET_KEY"); s != "" {
		cfg.Backup.SecretKey = s
	}
	if s := os.Getenv("HERALD_MARKET_DATA_API_KEY"); s != "" {
		cfg.MarketData.APIKey = s
	}

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("dev_mode", false)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("ingest.webhook_secret", "")
	v.SetDefault("ingest.dedup_ttl", 60*time.Second)
	v.SetDefault("ingest.max_body_bytes", 64*1024)

	v.SetDefault("queues.capacity", 1024)
	v.SetDefault("queues.enqueue_timeout", 2*time.Second)
	v.SetDefault("queues.match_workers", 4)
	v.SetDefault("queues.dispatch_workers", 4)

	v.SetDefault("scheduler.tick", 5*time.Second)
	v.SetDefault("scheduler.workers", 5)
	v.SetDefault("scheduler.max_batch", 100)
	v.SetDefault("scheduler.backoff_base", 30*time.Second)
	v.SetDefault("scheduler.backoff_max", time.Hour)
	v.SetDefault("scheduler.lease_ttl", 30*time.Second)

	v.SetDefault("dispatch.retry_base", time.Second)
	v.SetDefault("dispatch.retry_max", 30*time.Second)
	v.SetDefault("dispatch.max_attempts", 5)

	v.SetDefault("market_data.base_url", "http://localhost:9100")
	v.SetDefault("market_data.timeout", 10*time.Second)
	v.SetDefault("market_data.quote_ttl", 5*time.Second)
	v.SetDefault("market_data.indicator_ttl", time.Minute)
	v.SetDefault("market_data.history_limit", 250)

	v.SetDefault("notify.mode", "log")
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.region", "auto")
	v.SetDefault("backup.prefix", "herald-backups")
	v.SetDefault("backup.schedule", "0 3 * * *")
	v.SetDefault("backup.keep", 7)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

// UpdateFromSettings applies runtime overrides from the settings table.
// Called after the registry database is initialized; non-empty settings
// take precedence over file and environment values.
func (c *Config) UpdateFromSettings(repo *settings.Repository) error {
	secret, err := repo.Get("webhook_secret")
	if err != nil {
		return fmt.Errorf("failed to get webhook_secret from settings: %w", err)
	}
	if secret != nil && *secret != "" {
		c.Ingest.WebhookSecret = *secret
	}

	ttl, err := repo.Get("dedup_ttl")
	if err != nil {
		return fmt.Errorf("failed to get dedup_ttl from settings: %w", err)
	}
	if ttl != nil && *ttl != "" {
		d, err := time.ParseDuration(*ttl)
		if err != nil {
			return fmt.Errorf("invalid dedup_ttl setting %q: %w", *ttl, err)
		}
		c.Ingest.DedupTTL = d
	}

	return nil
}

// Validate checks that the configuration can actually run the pipeline.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Ingest.DedupTTL <= 0 {
		return fmt.Errorf("ingest.dedup_ttl must be positive")
	}
	if c.Ingest.MaxBodyBytes < 1024 {
		return fmt.Errorf("ingest.max_body_bytes must be at least 1024")
	}
	if c.Queues.Capacity < 1 {
		return fmt.Errorf("queues.capacity must be positive")
	}
	if c.Queues.EnqueueTimeout <= 0 {
		return fmt.Errorf("queues.enqueue_timeout must be positive")
	}
	if c.Queues.MatchWorkers < 1 || c.Queues.DispatchWorkers < 1 {
		return fmt.Errorf("queue worker counts must be positive")
	}
	if c.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be positive")
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be positive")
	}
	if c.Scheduler.MaxBatch < 1 {
		return fmt.Errorf("scheduler.max_batch must be positive")
	}
	if c.Scheduler.BackoffBase <= 0 || c.Scheduler.BackoffMax < c.Scheduler.BackoffBase {
		return fmt.Errorf("scheduler backoff bounds invalid")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.RetryBase <= 0 || c.Dispatch.RetryMax < c.Dispatch.RetryBase {
		return fmt.Errorf("dispatch retry bounds invalid")
	}
	switch c.Notify.Mode {
	case "log":
	case "http":
		if c.Notify.SinkURL == "" {
			return fmt.Errorf("notify.sink_url is required when notify.mode is http")
		}
	default:
		return fmt.Errorf("notify.mode must be log or http, got %q", c.Notify.Mode)
	}
	if c.Backup.Enabled {
		if c.Backup.Bucket == "" {
			return fmt.Errorf("backup.bucket is required when backups are enabled")
		}
		if c.Backup.Keep < 1 {
			return fmt.Errorf("backup.keep must be at least 1")
		}
	}
	return nil
}
