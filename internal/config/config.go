// Package config loads the graphrun configuration file.
//
// The file is HCL:
//
//	log_level       = "debug"
//	log_format      = "json"
//	metrics_addr    = ":9090"
//	max_concurrency = 4
//	timeout         = "30s"
//
//	store {
//	  kind = "sqlite"
//	  path = "graphengine.db"
//	}
//
//	cache {
//	  kind       = "redis"
//	  redis_addr = "localhost:6379"
//	}
//
// Every attribute is optional.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds everything graphrun needs to build its engine.
type Config struct {
	LogLevel    string `hcl:"log_level,optional"`
	LogFormat   string `hcl:"log_format,optional"`
	MetricsAddr string `hcl:"metrics_addr,optional"`

	MaxConcurrency int    `hcl:"max_concurrency,optional"`
	MaxIterations  int    `hcl:"max_iterations,optional"`
	MaxExecutions  int    `hcl:"max_executions,optional"`
	Timeout        string `hcl:"timeout,optional"`

	Store *Store `hcl:"store,block"`
	Cache *Cache `hcl:"cache,block"`
}

// Store selects where checkpoints are saved.
type Store struct {
	Kind      string `hcl:"kind,optional"`
	Path      string `hcl:"path,optional"`
	RedisAddr string `hcl:"redis_addr,optional"`
}

// Cache selects the node result cache.
type Cache struct {
	Kind      string `hcl:"kind,optional"`
	RedisAddr string `hcl:"redis_addr,optional"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return finish(&cfg)
}

// Parse decodes src as the contents of a file named filename. The name must
// end in .hcl.
func Parse(filename string, src []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, src, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filename, err)
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.Timeout == "" {
		c.Timeout = "5m"
	}
	if c.Store == nil {
		c.Store = &Store{}
	}
	if c.Store.Kind == "" {
		c.Store.Kind = StoreMemory
	}
	if c.Store.Kind == StoreSQLite && c.Store.Path == "" {
		c.Store.Path = "graphengine.db"
	}
	if c.Cache == nil {
		c.Cache = &Cache{}
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = CacheNone
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	if c.MaxConcurrency < 0 || c.MaxIterations < 0 || c.MaxExecutions < 0 {
		return fmt.Errorf("bounds must not be negative")
	}
	if d, err := time.ParseDuration(c.Timeout); err != nil || d < 0 {
		return fmt.Errorf("invalid timeout %q", c.Timeout)
	}

	switch c.Store.Kind {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store: redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("store: unknown kind %q", c.Store.Kind)
	}

	switch c.Cache.Kind {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache: redis_addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("cache: unknown kind %q", c.Cache.Kind)
	}
	return nil
}

// TimeoutDuration returns the parsed run timeout.
func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Logger builds the slog logger the file asks for, writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
