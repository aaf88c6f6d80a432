package data

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// pingTimeout bounds the verification round-trip inside a cleanup pass.
const pingTimeout = 3 * time.Second

// sqlPool is the slice of *sql.DB the governor drives.
type sqlPool interface {
	Stats() sql.DBStats
	SetMaxOpenConns(int)
	SetMaxIdleConns(int)
	PingContext(ctx context.Context) error
}

// journalSink is the slice of EventJournal the governor records to.
type journalSink interface {
	Record(ctx context.Context, eventType, resource string, details map[string]interface{})
}

// PoolGovernor implements biz.PoolGovernor over the database/sql pool that
// backs the GORM client.
//
// The governor owns the pool ceiling: it starts at the configured base size,
// grows monotonically up to base+overflow when EnsureCapacity finds the pool
// short (rate limited by a growth cooldown), and snaps back to base on
// ForceCleanup. When an external pooler fronts the database the governor
// leaves sizing alone entirely and only reports state.
type PoolGovernor struct {
	pool    sqlPool
	journal journalSink
	logger  *log.Helper

	baseSize int
	maxSize  int
	maxIdle  int
	external bool
	cooldown time.Duration

	mu       sync.Mutex
	ceiling  int
	lastGrow time.Time

	// cleanups serializes ForceCleanup process-wide; concurrent callers
	// share the in-flight run's result.
	cleanups singleflight.Group

	now func() time.Time
}

// NewPoolGovernor creates the governor for the pool behind the GORM client.
func NewPoolGovernor(db *gorm.DB, c *conf.Data, journal *EventJournal, logger log.Logger) (*PoolGovernor, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB for pool governor: %w", err)
	}
	return newGovernor(sqlDB, c.Database, journal, logger), nil
}

func newGovernor(pool sqlPool, c *conf.Data_Database, journal journalSink, logger log.Logger) *PoolGovernor {
	p := c.Pool
	g := &PoolGovernor{
		pool:     pool,
		journal:  journal,
		logger:   log.NewHelper(logger),
		baseSize: int(p.Size),
		maxSize:  int(p.Size + p.MaxOverflow),
		maxIdle:  int(p.MaxIdle),
		external: ExternalPoolerDetected(c),
		cooldown: p.GrowthCooldown.AsDuration(),
		now:      time.Now,
	}
	g.ceiling = g.baseSize
	if g.external {
		g.ceiling = 0
	}
	return g
}

// Status returns a point-in-time snapshot of the pool. Reads only in-memory
// driver counters; never blocks on pool activity.
func (g *PoolGovernor) Status(_ context.Context) (model.PoolStatus, error) {
	stats := g.pool.Stats()

	g.mu.Lock()
	ceiling := g.ceiling
	g.mu.Unlock()

	st := model.PoolStatus{
		PoolSize:               ceiling,
		MaxOverflow:            g.maxSize - g.baseSize,
		CheckedOut:             stats.InUse,
		CheckedIn:              stats.Idle,
		WaitCount:              stats.WaitCount,
		ExternalPoolerDetected: g.external,
	}
	if g.external {
		// Sizing belongs to the proxy; only connection counts are known.
		st.MaxOverflow = 0
		return st, nil
	}
	if ceiling > 0 {
		st.UtilizationPercentage = float64(stats.InUse) / float64(ceiling) * 100
	}
	return st, nil
}

// EnsureCapacity grows the pool ceiling when fewer than minFree connections
// are free, by exactly the missing amount, up to base+overflow. It reports
// whether capacity is sufficient afterward.
func (g *PoolGovernor) EnsureCapacity(ctx context.Context, minFree int) (bool, error) {
	if g.external {
		// The proxy multiplexes connections; local growth is meaningless.
		return true, nil
	}

	stats := g.pool.Stats()

	g.mu.Lock()
	defer g.mu.Unlock()

	free := g.ceiling - stats.InUse
	if free >= minFree {
		return true, nil
	}

	now := g.now()
	if !g.lastGrow.IsZero() && now.Sub(g.lastGrow) < g.cooldown {
		g.logger.Debugw("pool growth blocked by cooldown",
			"free", free, "min_free", minFree)
		return false, nil
	}
	if g.ceiling >= g.maxSize {
		g.logger.Warnw("pool at maximum size, cannot grow",
			"ceiling", g.ceiling, "min_free", minFree, "checked_out", stats.InUse)
		return false, nil
	}

	target := g.ceiling + (minFree - free)
	if target > g.maxSize {
		target = g.maxSize
	}
	from := g.ceiling
	g.pool.SetMaxOpenConns(target)
	g.ceiling = target
	g.lastGrow = now

	g.logger.Infow("pool ceiling grown", "from", from, "to", target, "min_free", minFree)
	g.journal.Record(ctx, model.EventPoolGrown, "pool", map[string]interface{}{
		"from": from, "to": target, "min_free": minFree,
	})

	return target-stats.InUse >= minFree, nil
}

// ForceCleanup disposes idle connections, resets the ceiling to the base
// size, and verifies the database still answers. At most one cleanup runs at
// a time; callers that arrive during an in-flight run wait for it and
// receive its result. Failures are collected into the result, never raised.
func (g *PoolGovernor) ForceCleanup(ctx context.Context) (model.CleanupResult, error) {
	v, err, shared := g.cleanups.Do("pool-cleanup", func() (interface{}, error) {
		return g.runCleanup(ctx), nil
	})
	if err != nil {
		// The cleanup func never returns an error; this is unreachable.
		return model.CleanupResult{}, err
	}
	res := v.(model.CleanupResult)
	if shared {
		g.logger.Debugw("joined in-flight pool cleanup", "disposed", res.Disposed)
	}
	return res, nil
}

func (g *PoolGovernor) runCleanup(ctx context.Context) model.CleanupResult {
	stats := g.pool.Stats()
	res := model.CleanupResult{Disposed: stats.Idle}

	if !g.external {
		// Bounce the idle ceiling to zero: the driver closes every idle
		// connection immediately. In-use connections are untouched and
		// return to a pool capped back at the base size.
		g.pool.SetMaxIdleConns(0)
		g.pool.SetMaxOpenConns(g.baseSize)

		g.mu.Lock()
		g.ceiling = g.baseSize
		g.mu.Unlock()

		g.pool.SetMaxIdleConns(g.maxIdle)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := g.pool.PingContext(pingCtx); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("post-cleanup ping: %v", err))
	}

	if len(res.Errors) > 0 {
		g.logger.Warnw("pool cleanup finished with errors",
			"disposed", res.Disposed, "errors", len(res.Errors))
	} else {
		g.logger.Infow("pool cleanup finished", "disposed", res.Disposed)
	}
	g.journal.Record(ctx, model.EventPoolCleanup, "pool", map[string]interface{}{
		"disposed": res.Disposed, "errors": len(res.Errors),
	})
	return res
}

// Ping verifies database connectivity.
func (g *PoolGovernor) Ping(ctx context.Context) error {
	return g.pool.PingContext(ctx)
}
