package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opstrack/opstrack/internal/config"
	"github.com/opstrack/opstrack/internal/notify"
	"github.com/opstrack/opstrack/internal/platform/postgres"
	"github.com/opstrack/opstrack/internal/platform/sqlite"
	"github.com/opstrack/opstrack/internal/reminder"
	"github.com/opstrack/opstrack/internal/service"
	"github.com/opstrack/opstrack/internal/store"
)

// application holds the wired components of a running server.
type application struct {
	config   *config.Config
	logger   *slog.Logger
	location *time.Location

	tasks      store.PlanTaskStore
	reminders  store.ReminderStore
	audits     store.AuditStore
	dispatcher *notify.WebhookDispatcher
	scheduler  *reminder.Scheduler
	service    service.PlanTaskService

	closeDB func() error
}

// newApplication opens the configured storage backend and wires the
// dispatcher, scheduler, and service on top of it.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	loc, err := cfg.Reminder.Location()
	if err != nil {
		return nil, err
	}

	app := &application{
		config:   cfg,
		logger:   logger,
		location: loc,
	}

	if err := app.openStores(ctx); err != nil {
		return nil, err
	}

	app.dispatcher = notify.NewWebhookDispatcher(cfg.Notify.RequestTimeout(), logger)

	app.scheduler = reminder.NewScheduler(
		app.reminders,
		app.audits,
		app.dispatcher,
		reminder.Config{
			PollInterval:    cfg.Reminder.PollInterval(),
			GracePeriod:     cfg.Reminder.GracePeriod(),
			Concurrency:     cfg.Reminder.Concurrency,
			Location:        loc,
			DefaultTemplate: cfg.Notify.DefaultTemplate,
		},
		logger,
	)

	app.service, err = service.NewPlanTaskService(
		app.tasks,
		app.audits,
		app.dispatcher,
		cfg.Notify,
		logger,
		service.WithLocation(loc),
	)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create plan task service: %w", err)
	}

	return app, nil
}

// openStores connects to the configured backend and builds its stores.
// Postgres schemas are migrated to the latest version on startup.
func (app *application) openStores(ctx context.Context) error {
	switch app.config.Database.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(app.config.Database.Path, app.logger)
		if err != nil {
			return err
		}
		tasks := sqlite.NewPlanTaskStore(db, app.logger)
		app.tasks = tasks
		app.reminders = tasks
		app.audits = sqlite.NewAuditStore(db, app.logger)
		app.closeDB = func() error { return sqlite.Close(db) }
		return nil

	case config.DriverPostgres:
		db, err := setupAppDatabase(ctx, app.config.Database, app.logger)
		if err != nil {
			return err
		}
		if err := runMigrations(ctx, db, migrateUp, app.logger); err != nil {
			_ = db.Close()
			return err
		}
		tasks := postgres.NewPostgresPlanTaskStore(db, app.logger)
		app.tasks = tasks
		app.reminders = tasks
		app.audits = postgres.NewPostgresAuditStore(db, app.logger)
		app.closeDB = db.Close
		return nil

	default:
		return fmt.Errorf("unsupported database driver %q", app.config.Database.Driver)
	}
}

// startScheduler launches the reminder loop when enabled.
func (app *application) startScheduler() error {
	if !app.config.Reminder.Enabled {
		app.logger.Info("reminder scheduler disabled by configuration")
		return nil
	}
	if err := app.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start reminder scheduler: %w", err)
	}
	app.logger.Info("reminder scheduler started",
		slog.Duration("poll_interval", app.config.Reminder.PollInterval()),
		slog.Duration("grace_period", app.config.Reminder.GracePeriod()),
		slog.Int("concurrency", app.config.Reminder.Concurrency),
		slog.String("timezone", app.location.String()))
	return nil
}

// Run starts the scheduler and serves HTTP until a shutdown signal.
func (app *application) Run(ctx context.Context) error {
	if err := app.startScheduler(); err != nil {
		app.cleanup()
		return err
	}
	return startHTTPServer(ctx, app)
}

// cleanup stops the scheduler, waiting for in-flight dispatches, then
// closes the database.
func (app *application) cleanup() {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.closeDB != nil {
		if err := app.closeDB(); err != nil {
			app.logger.Error("error closing database connection", slog.String("error", err.Error()))
		}
		app.closeDB = nil
	}
}
