// Package store defines the persistence contracts of the reminder engine
// and the CRUD edit path, along with shared store errors and transaction
// helpers. Implementations live under internal/platform.
package store
