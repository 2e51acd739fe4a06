// Package config loads pipimi configuration from a TOML file.
//
// The default location is ~/.config/pipimi/config.toml (honoring
// XDG_CONFIG_HOME). A missing file is not an error; defaults apply.
//
// Example:
//
//	[registry]
//	base_url = "https://pypi.org/pypi"
//
//	[cache]
//	backend = "file"        # file | redis | mongo | none
//	ttl = "24h"             # redis/mongo only; file entries never expire
//
//	[cache.redis]
//	addr = "localhost:6379"
//
//	[resolver]
//	workers = 8
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const appName = "pipimi"

// Config is the full pipimi configuration.
type Config struct {
	Registry RegistryConfig `toml:"registry"`
	Cache    CacheConfig    `toml:"cache"`
	Resolver ResolverConfig `toml:"resolver"`
}

// RegistryConfig configures the package registry endpoint.
type RegistryConfig struct {
	BaseURL string `toml:"base_url"`
}

// CacheConfig selects and configures the metadata cache backend.
type CacheConfig struct {
	Backend string      `toml:"backend"` // file | redis | mongo | none
	Dir     string      `toml:"dir"`     // file backend directory
	TTL     duration    `toml:"ttl"`     // redis/mongo expiry, 0 = never
	Redis   RedisConfig `toml:"redis"`
	Mongo   MongoConfig `toml:"mongo"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// MongoConfig configures the mongo cache backend.
type MongoConfig struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

// ResolverConfig tunes the constraint propagation engine.
type ResolverConfig struct {
	Workers int `toml:"workers"` // per-round fetch parallelism
}

// duration wraps time.Duration so TOML values like "24h" decode.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// Duration returns the cache TTL as a time.Duration.
func (c CacheConfig) Duration() time.Duration { return time.Duration(c.TTL) }

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Registry: RegistryConfig{BaseURL: "https://pypi.org/pypi"},
		Cache: CacheConfig{
			Backend: "file",
			Redis:   RedisConfig{Addr: "localhost:6379"},
			Mongo:   MongoConfig{URI: "mongodb://localhost:27017"},
		},
		Resolver: ResolverConfig{Workers: 8},
	}
}

// Load reads the configuration from path. If path is empty, the default
// location is used. A missing file yields Default() without error; a file
// that exists but fails to parse is an error.
func Load(path string) (Config, error) {
	explicit := path != ""
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Default(), nil
		}
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) && !explicit {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Cache.Backend {
	case "file", "redis", "mongo", "none", "":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Resolver.Workers < 0 {
		return fmt.Errorf("resolver workers must be >= 0")
	}
	return nil
}

// DefaultPath returns the default config file path, honoring XDG_CONFIG_HOME.
func DefaultPath() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// DefaultCacheDir returns the cache directory using the XDG standard
// (~/.cache/pipimi/).
func DefaultCacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
