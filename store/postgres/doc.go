// Package postgres provides a PostgreSQL store implementation backed
// by pgx/v5, using row locks for atomic claims and embedded SQL
// migrations.
package postgres
