// Package postgres persists the station catalog and run history in Postgres
// through a pgx connection pool.
package postgres
