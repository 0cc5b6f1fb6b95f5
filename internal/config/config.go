// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"` // apply goose migrations on start
}

type RedisConfig struct {
	URL      string `yaml:"url"` // empty disables redis (rate limiting off)
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type APIConfig struct {
	Port int    `yaml:"port"`
	Key  string `yaml:"key"` // bearer key for mutating/admin routes

	// Enqueue rate limit per user within the window. Zero disables it.
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

type QueueConfig struct {
	// Staleness window for running items, applied by every lease call
	// and by the default of the reset-stale endpoint.
	StaleAfter time.Duration `yaml:"stale_after"`
}

type SitesConfig struct {
	// Default lease TTL when a lease request omits lockSeconds.
	DefaultLockTTL time.Duration `yaml:"default_lock_ttl"`
}

type ReaperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	API      APIConfig      `yaml:"api"`
	Queue    QueueConfig    `yaml:"queue"`
	Sites    SitesConfig    `yaml:"sites"`
	Reaper   ReaperConfig   `yaml:"reaper"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.API.Key == "" && !dev {
		return nil, errors.New("api.key is required outside dev mode")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.RateLimitWindow <= 0 {
		cfg.API.RateLimitWindow = time.Minute
	}
	if cfg.Queue.StaleAfter <= 0 {
		cfg.Queue.StaleAfter = 5 * time.Minute
	}
	if cfg.Sites.DefaultLockTTL <= 0 {
		cfg.Sites.DefaultLockTTL = 5 * time.Minute
	}
	if cfg.Reaper.Interval <= 0 {
		cfg.Reaper.Interval = 2 * time.Minute
	}
}
