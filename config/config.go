// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chronovista/internal/logger"
	"chronovista/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. CHRONOVISTA_WAYBACK_REQUESTS_PER_SECOND.
const EnvPrefix = "CHRONOVISTA"

// MaxSnapshotsLimit is the hard ceiling on snapshots examined per video.
const MaxSnapshotsLimit = 20

// Store backends.
const (
	StorePostgres = "postgres"
	StoreJSON     = "json"
)

// Cache backends.
const (
	CacheNone  = "none"
	CacheFile  = "file"
	CacheRedis = "redis"
)

// Config holds all application configuration for video recovery.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Store    StoreConfig    `mapstructure:"store"`
	Wayback  WaybackConfig  `mapstructure:"wayback"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Log      logger.Config  `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StoreConfig selects where videos, channels and tags live.
type StoreConfig struct {
	// Backend is "postgres" or "json"
	Backend string `mapstructure:"backend"`
	// JSONPath is the data file for the json backend
	JSONPath string `mapstructure:"json_path"`
}

// WaybackConfig configures access to the Internet Archive.
type WaybackConfig struct {
	CDXURL            string        `mapstructure:"cdx_url"`
	ArchiveURL        string        `mapstructure:"archive_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	CDXTimeout        time.Duration `mapstructure:"cdx_timeout"`
	PageTimeout       time.Duration `mapstructure:"page_timeout"`
	MaxSnapshots      int           `mapstructure:"max_snapshots"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// CacheConfig configures the CDX snapshot cache.
type CacheConfig struct {
	Backend   string        `mapstructure:"backend"`
	Dir       string        `mapstructure:"dir"`
	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
}

// RetryConfig mirrors retry.Config in configuration form.
type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// BatchConfig configures `recover all`.
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// Limit caps how many unavailable videos are processed (0 = all)
	Limit int `mapstructure:"limit"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	rc := retry.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{
			DSN:             "postgres://localhost:5432/chronovista?sslmode=disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Store: StoreConfig{
			Backend:  StorePostgres,
			JSONPath: filepath.Join(home, ".local", "share", "chronovista", "chronovista.json"),
		},
		Wayback: WaybackConfig{
			CDXURL:            "https://web.archive.org/cdx/search/cdx",
			ArchiveURL:        "https://web.archive.org/web",
			RequestsPerSecond: 1.0,
			CDXTimeout:        30 * time.Second,
			PageTimeout:       20 * time.Second,
			MaxSnapshots:      MaxSnapshotsLimit,
			UserAgent:         "chronovista/1.0 (video metadata recovery)",
		},
		Cache: CacheConfig{
			Backend:   CacheNone,
			Dir:       filepath.Join(home, ".cache", "chronovista", "cdx"),
			TTL:       24 * time.Hour,
			RedisAddr: "localhost:6379",
		},
		Retry: RetryConfig{
			MaxRetries:        rc.MaxRetries,
			InitialBackoff:    rc.InitialBackoff,
			MaxBackoff:        rc.MaxBackoff,
			BackoffMultiplier: rc.Multiplier,
		},
		Batch: BatchConfig{
			Concurrency: 2,
		},
		Log: logger.Config{
			Level: "info",
		},
	}
}

// Load builds a Config from defaults, an optional config file and the
// environment. Priority: env vars > config file > defaults.
// When path is empty, chronovista.yaml is searched in the working directory
// and in ~/.config/chronovista.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chronovista")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "chronovista"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional unless named explicitly
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.json_path", d.Store.JSONPath)

	v.SetDefault("wayback.cdx_url", d.Wayback.CDXURL)
	v.SetDefault("wayback.archive_url", d.Wayback.ArchiveURL)
	v.SetDefault("wayback.requests_per_second", d.Wayback.RequestsPerSecond)
	v.SetDefault("wayback.cdx_timeout", d.Wayback.CDXTimeout)
	v.SetDefault("wayback.page_timeout", d.Wayback.PageTimeout)
	v.SetDefault("wayback.max_snapshots", d.Wayback.MaxSnapshots)
	v.SetDefault("wayback.user_agent", d.Wayback.UserAgent)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)

	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.initial_backoff", d.Retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("retry.backoff_multiplier", d.Retry.BackoffMultiplier)

	v.SetDefault("batch.concurrency", d.Batch.Concurrency)
	v.SetDefault("batch.limit", d.Batch.Limit)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StorePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres store")
		}
	case StoreJSON:
		if c.Store.JSONPath == "" {
			return fmt.Errorf("store.json_path is required for the json store")
		}
	default:
		return fmt.Errorf("store.backend %q must be %q or %q", c.Store.Backend, StorePostgres, StoreJSON)
	}

	if c.Wayback.RequestsPerSecond <= 0 {
		return fmt.Errorf("wayback.requests_per_second must be positive")
	}
	if c.Wayback.CDXTimeout <= 0 {
		return fmt.Errorf("wayback.cdx_timeout must be positive")
	}
	if c.Wayback.PageTimeout <= 0 {
		return fmt.Errorf("wayback.page_timeout must be positive")
	}
	if c.Wayback.MaxSnapshots < 1 || c.Wayback.MaxSnapshots > MaxSnapshotsLimit {
		return fmt.Errorf("wayback.max_snapshots must be between 1 and %d", MaxSnapshotsLimit)
	}

	switch c.Cache.Backend {
	case CacheNone, "":
	case CacheFile:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required for the file cache")
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("cache.backend %q must be none, file or redis", c.Cache.Backend)
	}
	if c.Cache.Backend != CacheNone && c.Cache.Backend != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be non-negative")
	}
	if c.Retry.InitialBackoff <= 0 {
		return fmt.Errorf("retry.initial_backoff must be positive")
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("retry.max_backoff must be >= retry.initial_backoff")
	}
	if c.Retry.BackoffMultiplier <= 1 {
		return fmt.Errorf("retry.backoff_multiplier must be > 1")
	}

	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be at least 1")
	}
	if c.Batch.Limit < 0 {
		return fmt.Errorf("batch.limit must be non-negative")
	}
	return nil
}

// Policy converts the retry section into a retry.Config.
func (r RetryConfig) Policy() retry.Config {
	p := retry.DefaultConfig()
	p.MaxRetries = r.MaxRetries
	p.InitialBackoff = r.InitialBackoff
	p.MaxBackoff = r.MaxBackoff
	p.Multiplier = r.BackoffMultiplier
	return p
}
