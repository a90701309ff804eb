package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Sync       SyncConfig       `yaml:"sync"`
	Feed       FeedConfig       `yaml:"feed"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	Valuation  ValuationConfig  `yaml:"valuation"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// SyncConfig holds the notification sync configuration.
type SyncConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
	Workers         int           `yaml:"workers"`
}

// FeedConfig defines how to reach the upstream notification/structure feed.
type FeedConfig struct {
	BaseURL        string            `yaml:"base_url"`
	Headers        map[string]string `yaml:"headers"`
	HTTPProxy      string            `yaml:"http_proxy"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// ValuationConfig holds the parameters of the value estimate math.
type ValuationConfig struct {
	// ReprocessingYield is the assumed average refining efficiency, (0,1].
	ReprocessingYield float64 `yaml:"reprocessing_yield"`
	// MonthlyVolume is the expected ore volume per moon and month in m³,
	// used to scale fractional survey shares into absolute volumes.
	MonthlyVolume        float64 `yaml:"monthly_volume"`
	PriceCacheTTLSeconds int     `yaml:"price_cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Sync.IntervalSeconds <= 0 {
		cfg.Sync.IntervalSeconds = 600
	}
	cfg.Sync.Interval = time.Duration(cfg.Sync.IntervalSeconds) * time.Second

	if cfg.Sync.Workers <= 0 {
		cfg.Sync.Workers = 4
	}

	if cfg.Feed.TimeoutSeconds <= 0 {
		cfg.Feed.TimeoutSeconds = 30
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Valuation.ReprocessingYield <= 0 || cfg.Valuation.ReprocessingYield > 1 {
		cfg.Valuation.ReprocessingYield = 0.85
	}
	if cfg.Valuation.MonthlyVolume <= 0 {
		cfg.Valuation.MonthlyVolume = 14_557_923
	}
	if cfg.Valuation.PriceCacheTTLSeconds <= 0 {
		cfg.Valuation.PriceCacheTTLSeconds = 300
	}

	return &cfg, nil
}
