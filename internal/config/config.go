package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Reminder ReminderConfig `mapstructure:"reminder" validate:"required"`
	Notify   NotifyConfig   `mapstructure:"notify" validate:"required"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects the storage backend and its pool settings.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	// URL is the postgres connection string.
	URL string `mapstructure:"url" validate:"required_if=Driver postgres"`
	// Path is the sqlite database file.
	Path                   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" validate:"gte=0"`
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// ReminderConfig controls the background reminder scheduler.
type ReminderConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds" validate:"gt=0"`
	GracePeriodMinutes  int    `mapstructure:"grace_period_minutes" validate:"gte=0"`
	Concurrency         int    `mapstructure:"concurrency" validate:"gte=1,lte=32"`
	Timezone            string `mapstructure:"timezone" validate:"required"`
}

// PollInterval returns the scheduler tick period.
func (c ReminderConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// GracePeriod returns how long after plan time a reminder may still fire.
func (c ReminderConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMinutes) * time.Minute
}

// Location resolves Timezone. "Local" and "" mean the process zone.
func (c ReminderConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid reminder timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// AlertRobot is a named chat-robot webhook tasks can reference by name.
type AlertRobot struct {
	Name    string `mapstructure:"name" validate:"required"`
	Webhook string `mapstructure:"webhook" validate:"required,url"`
}

// NotifyConfig contains webhook delivery settings.
type NotifyConfig struct {
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" validate:"gt=0"`
	// DefaultTemplate replaces the built-in reminder template when set.
	DefaultTemplate string       `mapstructure:"default_template"`
	Robots          []AlertRobot `mapstructure:"robots" validate:"dive"`
}

// RequestTimeout returns the per-request webhook timeout.
func (c NotifyConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Robot looks up a configured robot by name.
func (c NotifyConfig) Robot(name string) (AlertRobot, bool) {
	for _, r := range c.Robots {
		if r.Name == name {
			return r, true
		}
	}
	return AlertRobot{}, false
}
