// Package sqlite implements the store interfaces with gorm on a pure-Go
// SQLite driver, for single-node deployments and fast store tests.
package sqlite
