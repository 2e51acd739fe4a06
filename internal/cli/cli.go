// Package cli implements the pipimi command-line interface.
//
// Commands:
//   - resolve: compute a consistent version assignment for a set of
//     requirements
//   - cache: manage the metadata cache
//   - serve: expose the resolver as an HTTP JSON API
//
// All commands support --verbose (-v) for debug-level logging and --config
// for an alternate configuration file.
package cli

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/akx/pipimi/pkg/buildinfo"
	"github.com/akx/pipimi/pkg/cache"
	"github.com/akx/pipimi/pkg/config"
	"github.com/akx/pipimi/pkg/registry/pypi"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	cfg        config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
		}),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "pipimi",
		Short:        "pipimi resolves Python package version constraints",
		Long:         `pipimi computes a consistent version assignment for a set of Python package requirements by iterating best-version selection and constraint propagation against a PyPI-compatible registry until the selection stabilizes.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.config/pipimi/config.toml)")

	root.AddCommand(c.resolveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// newBackend opens the configured cache backend. noCache forces the null
// backend regardless of configuration.
func (c *CLI) newBackend(ctx context.Context, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	switch c.cfg.Cache.Backend {
	case "none":
		return cache.NewNullCache(), nil
	case "redis":
		return cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     c.cfg.Cache.Redis.Addr,
			Password: c.cfg.Cache.Redis.Password,
			DB:       c.cfg.Cache.Redis.DB,
		})
	case "mongo":
		return cache.NewMongoCache(ctx, cache.MongoConfig{
			URI:        c.cfg.Cache.Mongo.URI,
			Database:   c.cfg.Cache.Mongo.Database,
			Collection: c.cfg.Cache.Mongo.Collection,
		})
	default: // "file" or unset
		dir, err := c.cacheDir()
		if err != nil {
			return cache.NewNullCache(), nil
		}
		return cache.NewFileCache(dir)
	}
}

// newRegistry opens the cache backend and wraps it in a registry client.
func (c *CLI) newRegistry(ctx context.Context, noCache bool) (*pypi.Client, error) {
	backend, err := c.newBackend(ctx, noCache)
	if err != nil {
		return nil, err
	}
	return pypi.New(backend, c.cfg.Registry.BaseURL, c.cfg.Cache.Duration()), nil
}

// cacheDir returns the metadata cache directory: the configured one, or the
// XDG default (~/.cache/pipimi/).
func (c *CLI) cacheDir() (string, error) {
	if c.cfg.Cache.Dir != "" {
		return c.cfg.Cache.Dir, nil
	}
	return config.DefaultCacheDir()
}
