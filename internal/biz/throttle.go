package biz

import (
	"context"
	"sync"
	"time"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"
	sgerrors "SurgeGate/pkg/errors"
	"SurgeGate/pkg/limiter"

	"github.com/go-kratos/kratos/v2/log"
)

// Throttle tiers selected from pool utilization. Each tier scales the
// configured global rate and burst by its factor: with the default 150/300
// configuration the elevated tier admits 90/s with burst 180 and the
// critical tier 60/s with burst 120.
const (
	tierNormal   = "normal"
	tierElevated = "elevated"
	tierCritical = "critical"

	elevatedUtilization = 70.0
	criticalUtilization = 85.0

	elevatedFactor = 0.6
	criticalFactor = 0.4
)

// keyedBucket pairs a token bucket with its last-seen time so idle entries
// can be swept.
type keyedBucket struct {
	bucket   *limiter.TokenBucket
	lastSeen time.Time
}

// ThrottleUseCase is the adaptive admission throttle. Every request must
// pass three token bucket gates in order: the global gate, the per-client-IP
// gate, and the per-path gate. Rejections carry a retry hint.
//
// The global gate adapts to database pool pressure: utilization at or above
// 85% drops admission to the critical tier, 70% to the elevated tier, and
// anything below restores the configured rate. Reconfigurations are
// debounced so the gate never flaps faster than the adjust interval.
type ThrottleUseCase struct {
	mu          sync.Mutex
	global      *limiter.TokenBucket
	ipBuckets   map[string]*keyedBucket
	pathBuckets map[string]*keyedBucket

	baseRate  float64
	baseBurst int
	ipRate    float64
	ipBurst   int
	pathRate  float64
	pathBurst int

	adjustInterval time.Duration
	lastAdjust     time.Time
	currentTier    string

	governor PoolGovernor
	journal  EventJournal
	logger   *log.Helper
	now      func() time.Time
}

// NewThrottleUseCase creates the adaptive throttle from configuration.
func NewThrottleUseCase(c *conf.Admission_Throttle, governor PoolGovernor, journal EventJournal, logger log.Logger) *ThrottleUseCase {
	return &ThrottleUseCase{
		global:         limiter.NewTokenBucket(c.GlobalRate, int(c.GlobalBurst)),
		ipBuckets:      make(map[string]*keyedBucket),
		pathBuckets:    make(map[string]*keyedBucket),
		baseRate:       c.GlobalRate,
		baseBurst:      int(c.GlobalBurst),
		ipRate:         c.IPRate,
		ipBurst:        int(c.IPBurst),
		pathRate:       c.PathRate,
		pathBurst:      int(c.PathBurst),
		adjustInterval: c.AdjustInterval.AsDuration(),
		currentTier:    tierNormal,
		governor:       governor,
		journal:        journal,
		logger:         log.NewHelper(logger),
		now:            time.Now,
	}
}

// AllowRequest runs a request through the global, per-IP, and per-path
// gates. It returns nil when all three admit and a 429 admission error
// naming the rejecting gate otherwise.
func (uc *ThrottleUseCase) AllowRequest(ctx context.Context, clientIP, path string) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	now := uc.now()

	if !uc.global.AllowAt(now) {
		uc.logger.Debugw("throttle rejected request",
			"gate", "global",
			"client_ip", clientIP,
			"path", path)
		return sgerrors.NewAdmissionRejected("global", "global admission rate exceeded", uc.retryAfterLocked(uc.global))
	}

	if b := uc.bucketForLocked(uc.ipBuckets, clientIP, uc.ipRate, uc.ipBurst, now); !b.AllowAt(now) {
		uc.logger.Debugw("throttle rejected request",
			"gate", "ip",
			"client_ip", clientIP,
			"path", path)
		return sgerrors.NewAdmissionRejected("ip", "per-client admission rate exceeded", uc.retryAfterLocked(b))
	}

	if b := uc.bucketForLocked(uc.pathBuckets, path, uc.pathRate, uc.pathBurst, now); !b.AllowAt(now) {
		uc.logger.Debugw("throttle rejected request",
			"gate", "path",
			"client_ip", clientIP,
			"path", path)
		return sgerrors.NewAdmissionRejected("path", "per-path admission rate exceeded", uc.retryAfterLocked(b))
	}

	return nil
}

// bucketForLocked returns the keyed bucket, creating it full on first use
// and refreshing its last-seen time. Caller must hold mu.
func (uc *ThrottleUseCase) bucketForLocked(buckets map[string]*keyedBucket, key string, rate float64, burst int, now time.Time) *limiter.TokenBucket {
	kb, ok := buckets[key]
	if !ok {
		kb = &keyedBucket{bucket: limiter.NewTokenBucket(rate, burst)}
		buckets[key] = kb
	}
	kb.lastSeen = now
	return kb.bucket
}

// retryAfterLocked estimates how long until the bucket refills one token.
// Caller must hold mu.
func (uc *ThrottleUseCase) retryAfterLocked(b *limiter.TokenBucket) time.Duration {
	rate := b.Rate()
	if rate <= 0 {
		return time.Second
	}
	wait := time.Duration(float64(time.Second) / rate)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// AdjustFromPool reads the pool snapshot from the governor and retunes the
// global gate if the utilization tier changed. Called periodically.
func (uc *ThrottleUseCase) AdjustFromPool(ctx context.Context) {
	status, err := uc.governor.Status(ctx)
	if err != nil {
		uc.logger.Warnf("pool status unavailable, keeping current throttle tier: %v", err)
		return
	}
	uc.AdjustForUtilization(ctx, status.UtilizationPercentage)
}

// AdjustForUtilization applies the tier for the given utilization
// percentage. Reconfigurations are debounced by the adjust interval.
func (uc *ThrottleUseCase) AdjustForUtilization(ctx context.Context, utilization float64) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	tier, factor := tierForUtilization(utilization)
	if tier == uc.currentTier {
		return
	}

	now := uc.now()
	if !uc.lastAdjust.IsZero() && now.Sub(uc.lastAdjust) < uc.adjustInterval {
		return
	}

	rate := uc.baseRate * factor
	burst := int(float64(uc.baseBurst) * factor)
	uc.global.Reconfigure(rate, burst)
	uc.lastAdjust = now
	previous := uc.currentTier
	uc.currentTier = tier

	uc.logger.Infow("throttle tier changed",
		"utilization", utilization,
		"previous_tier", previous,
		"tier", tier,
		"rate", rate,
		"burst", burst)
	uc.journal.Record(ctx, model.EventThrottleAdjusted, "throttle", map[string]interface{}{
		"utilization": utilization,
		"tier":        tier,
		"rate":        rate,
		"burst":       burst,
	})
}

// tierForUtilization maps a pool utilization percentage to a throttle tier.
func tierForUtilization(utilization float64) (string, float64) {
	switch {
	case utilization >= criticalUtilization:
		return tierCritical, criticalFactor
	case utilization >= elevatedUtilization:
		return tierElevated, elevatedFactor
	default:
		return tierNormal, 1.0
	}
}

// ReconfigureGlobal replaces the configured base rate and burst and applies
// them immediately. Used by the ops API.
func (uc *ThrottleUseCase) ReconfigureGlobal(ctx context.Context, rate float64, burst int) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.baseRate = rate
	uc.baseBurst = burst
	uc.global.Reconfigure(rate, burst)
	uc.currentTier = tierNormal
	uc.lastAdjust = uc.now()

	uc.logger.Infow("global throttle reconfigured", "rate", rate, "burst", burst)
	uc.journal.Record(ctx, model.EventThrottleAdjusted, "throttle", map[string]interface{}{
		"tier":  tierNormal,
		"rate":  rate,
		"burst": burst,
	})
}

// Status returns a read-only view of the throttle.
func (uc *ThrottleUseCase) Status() model.ThrottleStatus {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	return model.ThrottleStatus{
		GlobalRate:     uc.global.Rate(),
		GlobalCapacity: uc.global.Capacity(),
		GlobalTokens:   uc.global.Tokens(),
		IPBuckets:      len(uc.ipBuckets),
		PathBuckets:    len(uc.pathBuckets),
	}
}

// Sweep removes IP and path buckets that have been idle for at least
// maxIdle and returns how many were dropped. Called periodically so the
// keyed maps do not grow without bound.
func (uc *ThrottleUseCase) Sweep(maxIdle time.Duration) int {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	cutoff := uc.now().Add(-maxIdle)
	removed := 0
	for key, kb := range uc.ipBuckets {
		if kb.lastSeen.Before(cutoff) {
			delete(uc.ipBuckets, key)
			removed++
		}
	}
	for key, kb := range uc.pathBuckets {
		if kb.lastSeen.Before(cutoff) {
			delete(uc.pathBuckets, key)
			removed++
		}
	}
	return removed
}
