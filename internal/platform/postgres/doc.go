// Package postgres implements the store interfaces on PostgreSQL through the
// pgx database/sql driver, and embeds the goose schema migrations.
//
// Stores accept a store.DBTX so the same code runs on the pool or inside a
// transaction. Driver errors are translated to store sentinel errors by
// MapError before they leave the package.
package postgres
