package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tickflow TickflowConfig `yaml:"tickflow"`
	Channels ChannelsConfig `yaml:"channels"`
	Session  SessionConfig  `yaml:"session"`
	Engine   EngineConfig   `yaml:"engine"`
	Detector DetectorConfig `yaml:"detector"`
	Feed     FeedConfig     `yaml:"feed"`
	Backfill BackfillConfig `yaml:"backfill"`
	Query    QueryConfig    `yaml:"query"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Writer   WriterConfig   `yaml:"writer"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type TickflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	TickBuffer     int `yaml:"tick_buffer"`
	AlertBuffer    int `yaml:"alert_buffer"`
	SnapshotBuffer int `yaml:"snapshot_buffer"`
}

// SessionConfig sets the exchange-local trading phase boundaries. Times are
// "HH:MM" wall-clock values in Timezone; each phase runs half-open from its
// start to the next phase's start.
type SessionConfig struct {
	Timezone          string `yaml:"timezone"`
	PreMarketStart    string `yaml:"pre_market_start"`
	RegularHoursStart string `yaml:"regular_hours_start"`
	PostMarketStart   string `yaml:"post_market_start"`
	OvernightStart    string `yaml:"overnight_start"`
}

type EngineConfig struct {
	Shards        int `yaml:"shards"`
	StaleAfterSec int `yaml:"stale_after_sec"`
}

// ThresholdTier maps a price bucket to its alert threshold. Tiers are matched
// in order; MaxPrice 0 means no upper bound.
type ThresholdTier struct {
	MaxPrice float64 `yaml:"max_price"`
	PctMove  float64 `yaml:"pct_move"`
}

type DetectorConfig struct {
	Tiers         []ThresholdTier `yaml:"tiers"`
	RetreatFactor float64         `yaml:"retreat_factor"`
}

type FeedConfig struct {
	URL                   string `yaml:"url"`
	ReconnectDelayMs      int    `yaml:"reconnect_delay_ms"`
	PingIntervalSec       int    `yaml:"ping_interval_sec"`
	OutOfOrderToleranceMs int    `yaml:"out_of_order_tolerance_ms"`
}

type BackfillConfig struct {
	Enabled           bool   `yaml:"enabled"`
	URL               string `yaml:"url"`
	APIKeyEnv         string `yaml:"api_key_env"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
	BurstSize         int    `yaml:"burst_size"`
	TimeoutSec        int    `yaml:"timeout_sec"`
}

type QueryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Address    string           `yaml:"address"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type WriterConfig struct {
	Alerts    AlertWriterConfig    `yaml:"alerts"`
	Snapshots SnapshotWriterConfig `yaml:"snapshots"`
}

type AlertWriterConfig struct {
	BatchSize       int         `yaml:"batch_size"`
	FlushIntervalMs int         `yaml:"flush_interval_ms"`
	Retry           RetryConfig `yaml:"retry"`
}

type SnapshotWriterConfig struct {
	Enabled     bool   `yaml:"enabled"`
	IntervalSec int    `yaml:"interval_sec"`
	Compression string `yaml:"compression"`
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

type StorageConfig struct {
	S3        S3Config `yaml:"s3"`
	Directory string   `yaml:"directory"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Session.Timezone == "" {
		cfg.Session.Timezone = "America/Chicago"
	}
	if cfg.Session.PreMarketStart == "" {
		cfg.Session.PreMarketStart = "03:00"
	}
	if cfg.Session.RegularHoursStart == "" {
		cfg.Session.RegularHoursStart = "08:30"
	}
	if cfg.Session.PostMarketStart == "" {
		cfg.Session.PostMarketStart = "15:00"
	}
	if cfg.Session.OvernightStart == "" {
		cfg.Session.OvernightStart = "19:00"
	}
	if cfg.Engine.Shards <= 0 {
		cfg.Engine.Shards = 8
	}
	if cfg.Engine.StaleAfterSec <= 0 {
		cfg.Engine.StaleAfterSec = 60
	}
	if len(cfg.Detector.Tiers) == 0 {
		cfg.Detector.Tiers = []ThresholdTier{
			{MaxPrice: 5, PctMove: 5.0},
			{MaxPrice: 0, PctMove: 10.0},
		}
	}
	if cfg.Detector.RetreatFactor <= 0 {
		cfg.Detector.RetreatFactor = 0.8
	}
	if cfg.Feed.ReconnectDelayMs <= 0 {
		cfg.Feed.ReconnectDelayMs = 5000
	}
	if cfg.Feed.PingIntervalSec <= 0 {
		cfg.Feed.PingIntervalSec = 20
	}
	if cfg.Writer.Alerts.BatchSize <= 0 {
		cfg.Writer.Alerts.BatchSize = 100
	}
	if cfg.Writer.Alerts.FlushIntervalMs <= 0 {
		cfg.Writer.Alerts.FlushIntervalMs = 2000
	}
	if cfg.Writer.Alerts.Retry.MaxAttempts <= 0 {
		cfg.Writer.Alerts.Retry.MaxAttempts = 5
	}
	if cfg.Writer.Alerts.Retry.BaseDelayMs <= 0 {
		cfg.Writer.Alerts.Retry.BaseDelayMs = 200
	}
	if cfg.Writer.Alerts.Retry.MaxDelayMs <= 0 {
		cfg.Writer.Alerts.Retry.MaxDelayMs = 10000
	}
	if cfg.Writer.Snapshots.IntervalSec <= 0 {
		cfg.Writer.Snapshots.IntervalSec = 60
	}
	if cfg.Backfill.RequestsPerSecond <= 0 {
		cfg.Backfill.RequestsPerSecond = 5
	}
	if cfg.Backfill.BurstSize <= 0 {
		cfg.Backfill.BurstSize = 10
	}
	if cfg.Backfill.TimeoutSec <= 0 {
		cfg.Backfill.TimeoutSec = 10
	}
	if cfg.Query.Address == "" {
		cfg.Query.Address = "0.0.0.0:8080"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "0.0.0.0:2112"
	}
	if cfg.Storage.Directory == "" {
		cfg.Storage.Directory = "data"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Tickflow.Name == "" {
		return fmt.Errorf("tickflow.name is required")
	}

	if cfg.Tickflow.Version == "" {
		return fmt.Errorf("tickflow.version is required")
	}

	if cfg.Channels.TickBuffer <= 0 {
		return fmt.Errorf("channels.tick_buffer must be greater than 0")
	}
	if cfg.Channels.AlertBuffer <= 0 {
		return fmt.Errorf("channels.alert_buffer must be greater than 0")
	}

	if _, err := time.LoadLocation(cfg.Session.Timezone); err != nil {
		return fmt.Errorf("session.timezone '%s' is invalid: %w", cfg.Session.Timezone, err)
	}
	for _, boundary := range []struct {
		name  string
		value string
	}{
		{"session.pre_market_start", cfg.Session.PreMarketStart},
		{"session.regular_hours_start", cfg.Session.RegularHoursStart},
		{"session.post_market_start", cfg.Session.PostMarketStart},
		{"session.overnight_start", cfg.Session.OvernightStart},
	} {
		if _, err := ParseClockTime(boundary.value); err != nil {
			return fmt.Errorf("%s '%s' is invalid: %w", boundary.name, boundary.value, err)
		}
	}

	if cfg.Detector.RetreatFactor <= 0 || cfg.Detector.RetreatFactor >= 1 {
		return fmt.Errorf("detector.retreat_factor must be between 0 and 1 exclusive")
	}
	for i, tier := range cfg.Detector.Tiers {
		if tier.PctMove <= 0 {
			return fmt.Errorf("detector.tiers[%d].pct_move must be greater than 0", i)
		}
		if i < len(cfg.Detector.Tiers)-1 && tier.MaxPrice <= 0 {
			return fmt.Errorf("detector.tiers[%d].max_price must be greater than 0 for all but the last tier", i)
		}
	}

	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}

	if cfg.Backfill.Enabled && cfg.Backfill.URL == "" {
		return fmt.Errorf("backfill.url is required when backfill is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}

	return nil
}

// ParseClockTime parses an "HH:MM" wall-clock string into minutes after
// midnight.
func ParseClockTime(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM")
	}
	var h, m int
	if _, err := fmt.Sscanf(parts[0], "%d", &h); err != nil {
		return 0, fmt.Errorf("invalid hour: %w", err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &m); err != nil {
		return 0, fmt.Errorf("invalid minute: %w", err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range")
	}
	return h*60 + m, nil
}
