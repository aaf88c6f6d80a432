package main

import (
	"context"
	"time"

	"SurgeGate/internal/biz"
	"SurgeGate/internal/metrics"
	"SurgeGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// Retention for the admission event journal.
const journalRetention = 7 * 24 * time.Hour

// maintenance owns the background upkeep loops: throttle adaptation,
// breaker threshold tuning, health probes, cache and limiter sweeps,
// journal pruning, and gauge sampling. It starts with the application and
// drains with it.
type maintenance struct {
	cron   *cron.Cron
	helper *log.Helper
}

// newMaintenance registers all periodic jobs. Jobs run with their own
// timeouts; a slow backend never blocks the scheduler thread past its
// deadline.
func newMaintenance(
	throttle *biz.ThrottleUseCase,
	breaker *biz.BreakerUseCase,
	rateLimit *biz.RateLimitUseCase,
	cache *biz.CacheUseCase,
	health *biz.HealthUseCase,
	governor biz.PoolGovernor,
	journal biz.EventJournal,
	m *metrics.Metrics,
	logger log.Logger,
) (*maintenance, error) {
	helper := log.NewHelper(logger)
	c := cron.New(cron.WithSeconds())

	// Re-derive the global admission rate from pool utilization. The use
	// case debounces internally, so a tight cadence is safe.
	if _, err := c.AddFunc("*/2 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		throttle.AdjustFromPool(ctx)
	}); err != nil {
		return nil, err
	}

	// Pool health probe.
	if _, err := c.AddFunc("*/30 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		rec := health.RunCheck(ctx)
		if rec.Status != model.HealthStatusHealthy {
			helper.Warnw("pool health check flagged issues",
				"status", rec.Status,
				"health_score", rec.HealthScore,
				"issues_found", rec.IssuesFound)
		}
	}); err != nil {
		return nil, err
	}

	// Breaker threshold adaptation from the recent success ratio.
	if _, err := c.AddFunc("*/30 * * * * *", func() {
		breaker.AdaptThresholds()
	}); err != nil {
		return nil, err
	}

	// Heavier validation pass over the pool.
	if _, err := c.AddFunc("0 */5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		rec := health.DeepValidate(ctx)
		helper.Infow("deep pool validation finished",
			"status", rec.Status,
			"health_score", rec.HealthScore,
			"issues_found", rec.IssuesFound)
	}); err != nil {
		return nil, err
	}

	// Drop dead cache entries, idle rate-limit windows, and idle
	// throttle buckets.
	if _, err := c.AddFunc("0 * * * * *", func() {
		entries := cache.Sweep()
		windows := rateLimit.Sweep()
		buckets := throttle.Sweep(10 * time.Minute)
		if entries+windows+buckets > 0 {
			helper.Debugw("maintenance sweep finished",
				"cache_entries", entries,
				"rate_windows", windows,
				"throttle_buckets", buckets)
		}
	}); err != nil {
		return nil, err
	}

	// Prune the event journal nightly.
	if _, err := c.AddFunc("0 30 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		pruned, err := journal.Prune(ctx, time.Now().Add(-journalRetention))
		if err != nil {
			helper.Errorw("journal prune failed", "error", err)
			return
		}
		helper.Infow("journal pruned", "events_removed", pruned)
	}); err != nil {
		return nil, err
	}

	// Sample gauges for the dashboards.
	if _, err := c.AddFunc("*/15 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if status, err := governor.Status(ctx); err == nil {
			m.SetPoolStatus(status.UtilizationPercentage, status.CheckedOut, status.CheckedIn)
		}
		for _, s := range breaker.States() {
			m.SetBreakerState(s.ResourceID, s.State)
		}
		m.SetHealthStatus(health.Current().Status)
	}); err != nil {
		return nil, err
	}

	return &maintenance{cron: c, helper: helper}, nil
}

// Start launches the scheduler.
func (mt *maintenance) Start() {
	mt.cron.Start()
	mt.helper.Info("maintenance scheduler started")
}

// Stop halts the scheduler and waits for running jobs to finish.
func (mt *maintenance) Stop() {
	<-mt.cron.Stop().Done()
	mt.helper.Info("maintenance scheduler stopped")
}
