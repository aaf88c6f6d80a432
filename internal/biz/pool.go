package biz

import (
	"context"

	"SurgeGate/internal/model"
)

// PoolGovernor manages the database connection pool on behalf of the
// admission layer. Implemented by the data layer.
type PoolGovernor interface {
	// Status returns a point-in-time snapshot of the pool. It must never
	// block on pool activity.
	Status(ctx context.Context) (model.PoolStatus, error)

	// EnsureCapacity grows the pool ceiling if free capacity is below
	// minFree, up to the configured maximum. Growth is monotonic within a
	// process and rate limited by a cooldown. It reports whether capacity
	// is now sufficient.
	EnsureCapacity(ctx context.Context, minFree int) (bool, error)

	// ForceCleanup disposes idle connections and resets the pool ceiling to
	// its configured baseline. Concurrent callers share a single in-flight
	// cleanup and receive its result.
	ForceCleanup(ctx context.Context) (model.CleanupResult, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error
}
