// Package timers parses timers command flags and composes the service entrypoint.
package timers

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/platform/cmd"
	server "github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/app"
)

// Config holds timers command configuration.
type Config struct {
	HTTPAddr    string `env:"DUNGEN_DRAGONS_TIMERS_HTTP_ADDR" envDefault:":8087"`
	StoragePath string `env:"DUNGEN_DRAGONS_TIMERS_DB_PATH"   envDefault:"timers.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "timers HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "db-path", cfg.StoragePath, "share link SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the timers app and serves the transparency surface.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTimers, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:    cfg.HTTPAddr,
			StoragePath: cfg.StoragePath,
		}); err != nil {
			return fmt.Errorf("serve timers: %w", err)
		}
		return nil
	})
}
