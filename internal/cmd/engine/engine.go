// Package engine parses engine command flags and launches the engine runtime.
package engine

import (
	"context"
	"flag"
	"time"

	"github.com/openguild/turnengine/internal/app"
	entrypoint "github.com/openguild/turnengine/internal/platform/cmd"
)

// Config holds engine command configuration.
type Config struct {
	Port                  int           `env:"TURNENGINE_PORT" envDefault:"8095"`
	DBPath                string        `env:"TURNENGINE_DB_PATH" envDefault:"data/engine.db"`
	RulesPath             string        `env:"TURNENGINE_RULES_PATH" envDefault:"rules.yaml"`
	ManualEscalationAfter time.Duration `env:"TURNENGINE_MANUAL_ESCALATION_AFTER"`
	EscalationInterval    time.Duration `env:"TURNENGINE_ESCALATION_INTERVAL" envDefault:"1m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The engine health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The engine SQLite database path")
	fs.StringVar(&cfg.RulesPath, "rules-path", cfg.RulesPath, "The rule catalog YAML path")
	fs.DurationVar(&cfg.ManualEscalationAfter, "manual-escalation-after", cfg.ManualEscalationAfter, "Re-notify suspended conflicts older than this (0 disables)")
	fs.DurationVar(&cfg.EscalationInterval, "escalation-interval", cfg.EscalationInterval, "Suspended conflict scan interval")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the engine runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEngine, func(context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			Port:                  cfg.Port,
			DBPath:                cfg.DBPath,
			RulesPath:             cfg.RulesPath,
			ManualEscalationAfter: cfg.ManualEscalationAfter,
			EscalationInterval:    cfg.EscalationInterval,
		})
	})
}
