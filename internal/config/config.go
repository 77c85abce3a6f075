// Package config provides configuration management for the ingestion
// service. It loads values from a YAML file and environment variable
// overrides via viper, applies defaults, and validates fail-fast.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dealpipe/dealpipe/internal/logger"
)

// Source type values recognized in source configuration.
const (
	SourceTypeDeal   = "deal"
	SourceTypeCoupon = "coupon"
)

// Config is the root application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   logger.Config   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Sources   []SourceConfig  `mapstructure:"sources"`
}

// AppConfig holds application identity settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server settings for the health surface.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds Redis connection settings for the enrichment cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// IngestionConfig groups the tunables of the ingestion core.
type IngestionConfig struct {
	Retry      RetryConfig      `mapstructure:"retry"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Breaker    BreakerConfig    `mapstructure:"circuit_breaker"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Validation ValidationConfig `mapstructure:"validation"`
	DailyCap   DailyCapConfig   `mapstructure:"daily_cap"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Queue      QueueConfig      `mapstructure:"queue"`
}

// RetryConfig controls the retry handler.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// RateLimitConfig controls the two-tier token bucket limiter.
type RateLimitConfig struct {
	GlobalRequests int           `mapstructure:"global_requests"`
	GlobalWindow   time.Duration `mapstructure:"global_window"`
	SourceRequests int           `mapstructure:"source_requests"`
	SourceWindow   time.Duration `mapstructure:"source_window"`
}

// BreakerConfig controls the per-source circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	MonitorWindow    time.Duration `mapstructure:"monitor_window"`
}

// DedupConfig controls the deduplication engine thresholds.
type DedupConfig struct {
	TitleSimilarityThreshold float64 `mapstructure:"title_similarity_threshold"`
	PriceVarianceThreshold   float64 `mapstructure:"price_variance_threshold"`
	LookbackDays             int     `mapstructure:"lookback_days"`
	MaxCandidates            int     `mapstructure:"max_candidates"`
}

// ValidationConfig controls item validation bounds.
type ValidationConfig struct {
	TitleMinLength     int     `mapstructure:"title_min_length"`
	TitleMaxLength     int     `mapstructure:"title_max_length"`
	PriceMin           float64 `mapstructure:"price_min"`
	PriceMax           float64 `mapstructure:"price_max"`
	DiscountMaxPercent float64 `mapstructure:"discount_max_percent"`
}

// DailyCapConfig controls per-source daily creation ceilings.
type DailyCapConfig struct {
	Default   int            `mapstructure:"default"`
	PerSource map[string]int `mapstructure:"per_source"`
}

// ApprovalConfig controls the (currently disabled) auto-approval policy.
type ApprovalConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	TrustedSources  []string `mapstructure:"trusted_sources"`
	MinQualityScore float64  `mapstructure:"min_quality_score"`
}

// QueueConfig controls the job dispatch layer.
type QueueConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	JobsPerSecond int           `mapstructure:"jobs_per_second"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
	RunOnStartup  bool          `mapstructure:"run_on_startup"`
}

// SourceRateLimit is a per-source rate limit override.
type SourceRateLimit struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// SourceConfig describes one external feed.
type SourceConfig struct {
	Key       string           `mapstructure:"key"`
	Name      string           `mapstructure:"name"`
	FeedURL   string           `mapstructure:"feed_url"`
	Type      string           `mapstructure:"type"`
	Schedule  string           `mapstructure:"schedule"`
	Enabled   bool             `mapstructure:"enabled"`
	Trusted   bool             `mapstructure:"trusted"`
	RateLimit *SourceRateLimit `mapstructure:"rate_limit"`
	DailyCap  *int             `mapstructure:"daily_cap"`
}

// ItemType returns the explicit item type for the source, falling back
// to inference from the source key when the type is not configured.
func (s *SourceConfig) ItemType() string {
	if s.Type != "" {
		return s.Type
	}
	if strings.Contains(s.Key, "coupon") {
		return SourceTypeCoupon
	}
	return SourceTypeDeal
}

// Load reads configuration from the given path (or the default search
// locations when empty), applies env overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DEALPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults applies default values for anything unset.
func setDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "dealpipe"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "0.1.0"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	setIngestionDefaults(&cfg.Ingestion)
}

func setIngestionDefaults(ing *IngestionConfig) {
	if ing.Retry.MaxAttempts <= 0 {
		ing.Retry.MaxAttempts = 3
	}
	if ing.Retry.InitialDelay <= 0 {
		ing.Retry.InitialDelay = 500 * time.Millisecond
	}
	if ing.Retry.MaxDelay <= 0 {
		ing.Retry.MaxDelay = 30 * time.Second
	}
	if ing.Retry.Multiplier <= 0 {
		ing.Retry.Multiplier = 2.0
	}
	if ing.Retry.AttemptTimeout <= 0 {
		ing.Retry.AttemptTimeout = 60 * time.Second
	}

	if ing.RateLimit.GlobalRequests <= 0 {
		ing.RateLimit.GlobalRequests = 30
	}
	if ing.RateLimit.GlobalWindow <= 0 {
		ing.RateLimit.GlobalWindow = time.Second
	}
	if ing.RateLimit.SourceRequests <= 0 {
		ing.RateLimit.SourceRequests = 5
	}
	if ing.RateLimit.SourceWindow <= 0 {
		ing.RateLimit.SourceWindow = time.Second
	}

	if ing.Breaker.FailureThreshold <= 0 {
		ing.Breaker.FailureThreshold = 5
	}
	if ing.Breaker.SuccessThreshold <= 0 {
		ing.Breaker.SuccessThreshold = 2
	}
	if ing.Breaker.ResetTimeout <= 0 {
		ing.Breaker.ResetTimeout = 60 * time.Second
	}
	if ing.Breaker.MonitorWindow <= 0 {
		ing.Breaker.MonitorWindow = 5 * time.Minute
	}

	if ing.Dedup.TitleSimilarityThreshold <= 0 {
		ing.Dedup.TitleSimilarityThreshold = 0.85
	}
	if ing.Dedup.PriceVarianceThreshold <= 0 {
		ing.Dedup.PriceVarianceThreshold = 0.05
	}
	if ing.Dedup.LookbackDays <= 0 {
		ing.Dedup.LookbackDays = 7
	}
	if ing.Dedup.MaxCandidates <= 0 {
		ing.Dedup.MaxCandidates = 100
	}

	if ing.Validation.TitleMinLength <= 0 {
		ing.Validation.TitleMinLength = 10
	}
	if ing.Validation.TitleMaxLength <= 0 {
		ing.Validation.TitleMaxLength = 300
	}
	if ing.Validation.PriceMax <= 0 {
		ing.Validation.PriceMax = 100000
	}
	if ing.Validation.DiscountMaxPercent <= 0 {
		ing.Validation.DiscountMaxPercent = 95
	}

	if ing.DailyCap.Default <= 0 {
		ing.DailyCap.Default = 100
	}

	if ing.Queue.Concurrency <= 0 {
		ing.Queue.Concurrency = 3
	}
	if ing.Queue.JobsPerSecond <= 0 {
		ing.Queue.JobsPerSecond = 2
	}
	if ing.Queue.DrainTimeout <= 0 {
		ing.Queue.DrainTimeout = 30 * time.Second
	}
}

// Validate checks the configuration for fatal misconfiguration.
func (c *Config) Validate() error {
	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("invalid environment: %s", c.App.Environment)
	}

	if c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database user and dbname must be specified")
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Key == "" {
			return fmt.Errorf("source %d: key must be specified", i)
		}
		if _, dup := seen[src.Key]; dup {
			return fmt.Errorf("source %q: duplicate key", src.Key)
		}
		seen[src.Key] = struct{}{}

		if src.FeedURL == "" {
			return fmt.Errorf("source %q: feed_url must be specified", src.Key)
		}
		if src.Enabled && src.Schedule == "" {
			return fmt.Errorf("source %q: enabled sources need a schedule", src.Key)
		}
		switch src.Type {
		case "", SourceTypeDeal, SourceTypeCoupon:
		default:
			return fmt.Errorf("source %q: invalid type %q", src.Key, src.Type)
		}
	}

	return nil
}
