// Package config loads and validates application settings from defaults, an
// optional YAML file, a .env file and OPSTRACK_* environment variables.
package config
