// Package main implements the entry point for the opstrack server, which
// serves the plan task API and runs the reminder scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/opstrack/opstrack/internal/config"
	"github.com/opstrack/opstrack/internal/platform/logger"
)

func main() {
	migrateCmd := flag.String("migrate", "",
		"run a database migration command and exit (up, down, status, version, reset)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if err := run(context.Background(), *migrateCmd, *verbose); err != nil {
		slog.Error("opstrack server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run loads configuration, then either executes a migration command or
// starts the application and blocks until shutdown.
func run(ctx context.Context, migrateCmd string, verbose bool) error {
	cfg, err := loadAppConfig(verbose)
	if err != nil {
		return err
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Bool("reminder_enabled", cfg.Reminder.Enabled),
		slog.Int("robots", len(cfg.Notify.Robots)))

	if migrateCmd != "" {
		return handleMigrations(ctx, cfg, migrateCmd, log)
	}

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

// loadAppConfig loads the configuration; -verbose forces debug logging.
func loadAppConfig(verbose bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose {
		cfg.Server.LogLevel = "debug"
	}
	return cfg, nil
}
