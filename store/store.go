// Package store defines the aggregate persistence interface for job
// records. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/ricmsdev/eventcad-sub001/job"
)

// Store is the aggregate persistence interface. A single backend
// (postgres, redis, memory) implements job.Store plus lifecycle
// management.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
