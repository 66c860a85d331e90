package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// OPSTRACK_DATABASE_URL for database.url.
const EnvPrefix = "OPSTRACK"

// ConfigFileEnv names an explicit config file, bypassing the search path.
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.path", "opstrack.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_minutes", 5)

	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.poll_interval_seconds", 60)
	v.SetDefault("reminder.grace_period_minutes", 60)
	v.SetDefault("reminder.concurrency", 1)
	v.SetDefault("reminder.timezone", "Local")

	v.SetDefault("notify.request_timeout_seconds", 10)
	v.SetDefault("notify.default_template", "")
}

// Load reads configuration from defaults, an optional config.yaml, a .env
// file and OPSTRACK_* environment variables, in increasing precedence.
// The result is validated before it is returned.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if file := os.Getenv(ConfigFileEnv); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := cfg.Reminder.Location(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	seen := make(map[string]struct{}, len(cfg.Notify.Robots))
	for _, r := range cfg.Notify.Robots {
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("config validation failed: duplicate alert robot %q", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}
