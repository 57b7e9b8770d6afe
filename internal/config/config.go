// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	History HistoryConfig `mapstructure:"history"`
	DB      DBConfig      `mapstructure:"db"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	MaxDomainsPerRequest  int `mapstructure:"max_domains_per_request"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs discovery, expansion and fan-out.
type CrawlerConfig struct {
	Concurrency           int      `mapstructure:"concurrency"`
	MaxDepth              int      `mapstructure:"max_depth"`
	UserAgent             string   `mapstructure:"user_agent"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	MaxAttempts           int      `mapstructure:"max_attempts"`
	BackoffUnitMs         int      `mapstructure:"backoff_unit_ms"`
	InsecureFallback      bool     `mapstructure:"insecure_fallback"`
	MaxBodyBytes          int      `mapstructure:"max_body_bytes"`
	WellKnownPaths        []string `mapstructure:"well_known_paths"`
	BlockedDomains        []string `mapstructure:"blocked_domains"`
	RequestsPerSecond     float64  `mapstructure:"requests_per_second"`
	Burst                 int      `mapstructure:"burst"`
}

// HistoryConfig selects the session store and its query limits.
type HistoryConfig struct {
	Provider      string `mapstructure:"provider"`
	MaxSampleURLs int    `mapstructure:"max_sample_urls"`
	DefaultLimit  int    `mapstructure:"default_limit"`
	MaxLimit      int    `mapstructure:"max_limit"`
	CompareLimit  int    `mapstructure:"compare_limit"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// ArchiveConfig selects where crawled URL lists are archived.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry span sampling.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.max_domains_per_request", 100)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawler.concurrency", 10)
	v.SetDefault("crawler.max_depth", crawler.DefaultMaxDepth)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.request_timeout_seconds", 10)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.backoff_unit_ms", 1500)
	v.SetDefault("crawler.insecure_fallback", true)
	v.SetDefault("crawler.max_body_bytes", 50<<20)
	v.SetDefault("crawler.well_known_paths", crawler.DefaultWellKnownPaths)
	v.SetDefault("crawler.blocked_domains", []string{})
	v.SetDefault("crawler.requests_per_second", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("history.provider", "memory")
	v.SetDefault("history.max_sample_urls", crawler.DefaultSampleURLs)
	v.SetDefault("history.default_limit", crawler.DefaultHistoryLimit)
	v.SetDefault("history.max_limit", 100)
	v.SetDefault("history.compare_limit", crawler.DefaultCompareLimit)
	v.SetDefault("db.table", "crawl_sessions")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("archive.prefix", "urls")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "sitemap-crawler")
	v.SetDefault("tracing.service_version", "dev")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxDepth <= 0 {
		return fmt.Errorf("crawler.max_depth must be > 0")
	}
	if c.Crawler.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.request_timeout_seconds must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.History.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when history.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown history.provider %q", c.History.Provider)
	}
	if c.History.MaxLimit <= 0 || c.History.DefaultLimit <= 0 || c.History.DefaultLimit > c.History.MaxLimit {
		return fmt.Errorf("history limits must satisfy 0 < default_limit <= max_limit")
	}
	switch c.Archive.Provider {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required when archive.provider is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout is the per-fetch timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.RequestTimeoutSeconds) * time.Second
}

// BackoffUnit is the linear retry backoff step.
func (c Config) BackoffUnit() time.Duration {
	return time.Duration(c.Crawler.BackoffUnitMs) * time.Millisecond
}
