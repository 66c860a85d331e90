package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opstrack/opstrack/internal/config"
	"github.com/opstrack/opstrack/internal/platform/postgres"
	"github.com/opstrack/opstrack/internal/platform/sqlite"
	"github.com/pressly/goose/v3"
)

// Supported -migrate commands
const (
	migrateUp      = "up"
	migrateDown    = "down"
	migrateStatus  = "status"
	migrateVersion = "version"
	migrateReset   = "reset"
)

// errUnknownMigrateCommand is returned for a -migrate value outside the supported set.
var errUnknownMigrateCommand = errors.New("unknown migration command")

// slogGooseLogger adapts the goose logger interface to use slog
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf implements the goose.Logger Printf method by forwarding messages to slog.Info
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements the goose.Logger Fatalf method by forwarding error messages to slog.Error.
// It does not exit; the error is returned to main.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// handleMigrations runs one -migrate command against the configured backend.
func handleMigrations(ctx context.Context, cfg *config.Config, command string, logger *slog.Logger) error {
	if cfg.Database.Driver == config.DriverSQLite {
		if command != migrateUp {
			return fmt.Errorf("%w: %q is only supported for postgres", errUnknownMigrateCommand, command)
		}
		db, err := sqlite.Open(cfg.Database.Path, logger)
		if err != nil {
			return err
		}
		logger.Info("sqlite schema migrated", slog.String("path", cfg.Database.Path))
		return sqlite.Close(db)
	}

	db, err := setupAppDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database connection", slog.String("error", err.Error()))
		}
	}()
	return runMigrations(ctx, db, command, logger)
}

// runMigrations executes a goose command using the embedded SQL migrations.
func runMigrations(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	switch command {
	case migrateUp, migrateDown, migrateReset, migrateStatus, migrateVersion:
	default:
		return fmt.Errorf("%w: %s (expected up, down, reset, status, or version)", errUnknownMigrateCommand, command)
	}

	migrationLogger := logger.With(
		slog.String("correlation_id", uuid.NewString()),
		slog.String("component", "migrations"),
		slog.String("command", command),
	)

	goose.SetBaseFS(postgres.Migrations)
	goose.SetLogger(&slogGooseLogger{logger: migrationLogger})
	goose.SetTableName(postgres.MigrationTableName)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	before, _ := goose.GetDBVersionContext(ctx, db)
	start := time.Now()

	var err error
	switch command {
	case migrateUp:
		err = goose.UpContext(ctx, db, postgres.MigrationsDir)
	case migrateDown:
		err = goose.DownContext(ctx, db, postgres.MigrationsDir)
	case migrateReset:
		err = goose.ResetContext(ctx, db, postgres.MigrationsDir)
	case migrateStatus:
		err = goose.StatusContext(ctx, db, postgres.MigrationsDir)
	case migrateVersion:
		err = goose.VersionContext(ctx, db, postgres.MigrationsDir)
	}

	if err != nil {
		migrationLogger.Error("migration command failed",
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		return fmt.Errorf("migration command '%s' failed: %w", command, err)
	}

	after, _ := goose.GetDBVersionContext(ctx, db)
	migrationLogger.Info("migration command executed successfully",
		slog.Int64("previous_version", before),
		slog.Int64("version", after),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}
