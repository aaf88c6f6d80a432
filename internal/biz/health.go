package biz

import (
	"context"
	"sync"
	"time"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// minFreeConnections is the free headroom the monitor asks the governor to
// maintain when the pool degrades.
const minFreeConnections = 2

// HealthUseCase polls the pool governor, classifies utilization into
// HEALTHY, DEGRADED or ERROR, and drives bounded self-repair.
//
// A DEGRADED probe asks the governor for preventive capacity growth. An
// ERROR probe triggers an emergency cleanup, but at most maxAttempts times
// inside one cooldown window; once that budget is spent the monitor stops
// repairing, reports ERROR, and waits for an administrative counter reset.
// Every probe outcome lands in a bounded history ring.
type HealthUseCase struct {
	// runMu serializes whole probes so repairs never overlap.
	runMu sync.Mutex

	// mu guards the snapshot fields below.
	mu          sync.Mutex
	current     string
	lastCheckAt time.Time
	lastPool    model.PoolStatus
	lastWait    int64

	// attempts holds the start times of recent emergency repairs; entries
	// older than the cooldown window are pruned before each decision.
	attempts  []time.Time
	exhausted bool

	history     []model.HealthRecord
	historySize int

	degradedAt  float64
	errorAt     float64
	maxAttempts int
	cooldown    time.Duration

	governor PoolGovernor
	journal  EventJournal
	logger   *log.Helper
	now      func() time.Time
}

// NewHealthUseCase creates a health monitor over the given pool governor.
func NewHealthUseCase(c *conf.Health, governor PoolGovernor, journal EventJournal, logger log.Logger) *HealthUseCase {
	return &HealthUseCase{
		current:     model.HealthStatusHealthy,
		historySize: int(c.HistorySize),
		degradedAt:  c.DegradedUtilization,
		errorAt:     c.ErrorUtilization,
		maxAttempts: int(c.MaxRecoveryAttempts),
		cooldown:    c.RecoveryCooldown.AsDuration(),
		governor:    governor,
		journal:     journal,
		logger:      log.NewHelper(logger),
		now:         time.Now,
	}
}

// RunCheck performs one lightweight probe: read pool status, classify it,
// and run any repair the classification calls for. It returns the recorded
// probe outcome.
func (uc *HealthUseCase) RunCheck(ctx context.Context) model.HealthRecord {
	return uc.probe(ctx, false)
}

// DeepValidate is the heavier periodic pass: it additionally round-trips
// the database before the regular status probe.
func (uc *HealthUseCase) DeepValidate(ctx context.Context) model.HealthRecord {
	return uc.probe(ctx, true)
}

func (uc *HealthUseCase) probe(ctx context.Context, deep bool) model.HealthRecord {
	uc.runMu.Lock()
	defer uc.runMu.Unlock()

	now := uc.now()
	pingIssues := 0
	if deep {
		if err := uc.governor.Ping(ctx); err != nil {
			uc.logger.Errorw("database validation ping failed", "error", err)
			pingIssues = 1
		}
	}

	pool, err := uc.governor.Status(ctx)
	if err != nil {
		uc.logger.Errorw("pool status probe failed", "error", err)
		uc.mu.Lock()
		last := uc.lastPool
		uc.mu.Unlock()
		return uc.finish(ctx, now, last, model.HealthStatusError, 0, pingIssues+1, "")
	}

	status, score, issues := uc.classify(pool)
	issues += pingIssues
	if pingIssues > 0 {
		// An unreachable database outranks any utilization reading.
		status = model.HealthStatusError
	}

	action := uc.decide(ctx, now, status)
	rec := uc.finish(ctx, now, pool, status, score, issues, action)

	switch action {
	case "preventive":
		sufficient, err := uc.governor.EnsureCapacity(ctx, minFreeConnections)
		if err != nil {
			uc.logger.Warnw("preventive pool growth failed", "error", err)
		} else if !sufficient {
			uc.logger.Warnw("pool capacity still short after preventive growth",
				"min_free", minFreeConnections, "utilization", pool.UtilizationPercentage)
		}
	case "emergency":
		uc.repair(ctx, "utilization", pool.UtilizationPercentage)
	}
	return rec
}

// classify maps a pool snapshot to a status, a 0-100 health score and an
// issue count.
func (uc *HealthUseCase) classify(pool model.PoolStatus) (string, float64, int) {
	util := pool.UtilizationPercentage
	score := 100 - util
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}

	status := model.HealthStatusHealthy
	issues := 0
	switch {
	case util >= uc.errorAt:
		status = model.HealthStatusError
		issues += 2
	case util >= uc.degradedAt:
		status = model.HealthStatusDegraded
		issues++
	}

	uc.mu.Lock()
	if pool.WaitCount > uc.lastWait {
		issues++
	}
	uc.mu.Unlock()
	return status, score, issues
}

// decide picks the repair action for a classified probe. Emergency repairs
// fire on the transition into ERROR, or when ERROR persists with no attempt
// left inside the cooldown window; consecutive ERROR probes in between do
// not re-trigger. Spending the attempt budget latches the exhausted flag.
func (uc *HealthUseCase) decide(ctx context.Context, now time.Time, status string) string {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if status == model.HealthStatusDegraded && !uc.exhausted {
		return "preventive"
	}
	if status != model.HealthStatusError {
		return ""
	}

	uc.pruneAttemptsLocked(now)
	switch {
	case uc.exhausted:
		return ""
	case len(uc.attempts) >= uc.maxAttempts:
		uc.exhausted = true
		uc.logger.Warnw("self repair budget exhausted",
			"attempts", len(uc.attempts), "cooldown", uc.cooldown)
		uc.journal.Record(ctx, model.EventRecoveryExhausted, "pool",
			map[string]interface{}{"attempts": len(uc.attempts), "cooldown_seconds": uc.cooldown.Seconds()})
		return ""
	case uc.current != model.HealthStatusError || len(uc.attempts) == 0:
		uc.attempts = append(uc.attempts, now)
		return "emergency"
	default:
		return ""
	}
}

// finish records the probe outcome: journal a status transition, append the
// history record and refresh the snapshot. When the repair budget is
// exhausted the reported status stays pinned to ERROR.
func (uc *HealthUseCase) finish(ctx context.Context, now time.Time, pool model.PoolStatus, status string, score float64, issues int, action string) model.HealthRecord {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.exhausted {
		status = model.HealthStatusError
	}
	if status != uc.current {
		uc.journal.Record(ctx, model.EventHealthTransition, "pool", map[string]interface{}{
			"from":        uc.current,
			"to":          status,
			"utilization": pool.UtilizationPercentage,
			"score":       score,
		})
		if status == model.HealthStatusError {
			uc.logger.Warnw("pool health degraded", "from", uc.current, "to", status,
				"utilization", pool.UtilizationPercentage, "action", action)
		} else {
			uc.logger.Infow("pool health changed", "from", uc.current, "to", status,
				"utilization", pool.UtilizationPercentage)
		}
	}

	rec := model.HealthRecord{
		Timestamp:   now,
		Status:      status,
		HealthScore: score,
		IssuesFound: issues,
	}
	uc.history = append(uc.history, rec)
	if len(uc.history) > uc.historySize {
		uc.history = uc.history[len(uc.history)-uc.historySize:]
	}

	uc.current = status
	uc.lastCheckAt = now
	uc.lastPool = pool
	uc.lastWait = pool.WaitCount
	return rec
}

// repair runs one emergency cleanup and journals its outcome.
func (uc *HealthUseCase) repair(ctx context.Context, trigger string, utilization float64) (model.CleanupResult, error) {
	uc.logger.Warnw("emergency pool cleanup", "trigger", trigger, "utilization", utilization)
	res, err := uc.governor.ForceCleanup(ctx)
	if err != nil {
		uc.logger.Errorw("emergency pool cleanup failed", "error", err)
		uc.journal.Record(ctx, model.EventRecoveryAttempt, "pool", map[string]interface{}{
			"trigger": trigger, "outcome": "failed", "error": err.Error(),
		})
		return res, err
	}
	uc.journal.Record(ctx, model.EventRecoveryAttempt, "pool", map[string]interface{}{
		"trigger": trigger, "outcome": "completed", "disposed": res.Disposed, "errors": len(res.Errors),
	})
	return res, nil
}

// ForceRepair runs an emergency cleanup on administrative request. It
// bypasses the exhaustion latch and does not consume the self-repair
// budget; the operator asked for it explicitly.
func (uc *HealthUseCase) ForceRepair(ctx context.Context) (model.CleanupResult, error) {
	uc.runMu.Lock()
	defer uc.runMu.Unlock()

	uc.mu.Lock()
	util := uc.lastPool.UtilizationPercentage
	uc.mu.Unlock()
	return uc.repair(ctx, "manual", util)
}

// ResetRecoveryCounters clears the attempt window and the exhaustion latch.
// The next probe classifies the pool from scratch.
func (uc *HealthUseCase) ResetRecoveryCounters(ctx context.Context) {
	uc.mu.Lock()
	cleared := len(uc.attempts)
	wasExhausted := uc.exhausted
	uc.attempts = nil
	uc.exhausted = false
	uc.mu.Unlock()

	uc.journal.Record(ctx, model.EventRecoveryReset, "pool", map[string]interface{}{
		"cleared_attempts": cleared, "was_exhausted": wasExhausted,
	})
	uc.logger.Infow("recovery counters reset", "cleared_attempts", cleared, "was_exhausted", wasExhausted)
}

// Current returns a snapshot of the monitor state.
func (uc *HealthUseCase) Current() model.MonitorStatus {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.pruneAttemptsLocked(uc.now())
	remaining := uc.maxAttempts - len(uc.attempts)
	if remaining < 0 || uc.exhausted {
		remaining = 0
	}
	return model.MonitorStatus{
		Status:            uc.current,
		LastCheckAt:       uc.lastCheckAt,
		Pool:              uc.lastPool,
		RecoveryAttempts:  len(uc.attempts),
		AttemptsRemaining: remaining,
		RepairExhausted:   uc.exhausted,
	}
}

// History returns the probe records oldest first.
func (uc *HealthUseCase) History() []model.HealthRecord {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	out := make([]model.HealthRecord, len(uc.history))
	copy(out, uc.history)
	return out
}

// pruneAttemptsLocked drops attempts older than the cooldown window.
// Caller must hold mu.
func (uc *HealthUseCase) pruneAttemptsLocked(now time.Time) {
	cutoff := now.Add(-uc.cooldown)
	kept := uc.attempts[:0]
	for _, t := range uc.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	uc.attempts = kept
}
