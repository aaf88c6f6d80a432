package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"
	sgerrors "SurgeGate/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// Well-known breaker resource identifiers.
const (
	ResourceDatabase = "database"
	ResourceRedis    = "redis"
)

// minAdaptSamples is the minimum number of observed calls in an adaptation
// window before the failure threshold is adjusted.
const minAdaptSamples = 10

// resourceBreaker holds the breaker state for a single resource.
// All fields are guarded by BreakerUseCase.mu.
type resourceBreaker struct {
	state     string
	threshold int

	// failures is the rolling window of failure timestamps, oldest first.
	// Only maintained while CLOSED.
	failures    []time.Time
	lastFailure time.Time
	openedAt    time.Time

	// probing marks the single in-flight trial call while HALF_OPEN.
	probing    bool
	probeStart time.Time

	// attempts/successes accumulate over one adaptation window.
	attempts  int
	successes int
}

// BreakerUseCase guards named backend resources with per-resource circuit
// breakers.
//
// Each resource moves through CLOSED -> OPEN -> HALF_OPEN independently.
// While CLOSED, failures are counted over a rolling window; reaching the
// threshold opens the circuit. While OPEN, calls are rejected until the
// recovery timeout elapses, after which exactly one caller is admitted as a
// trial probe. The probe outcome decides the next state: success closes the
// circuit, failure re-opens it with a fresh recovery timer.
//
// The failure threshold adapts to observed traffic: a sustained success
// ratio of at least 0.9 loosens it by one, a ratio below 0.5 tightens it by
// one, always clamped to the configured [min, max] range.
type BreakerUseCase struct {
	mu        sync.Mutex
	resources map[string]*resourceBreaker

	baseThreshold   int
	minThreshold    int
	maxThreshold    int
	failureWindow   time.Duration
	recoveryTimeout time.Duration

	journal EventJournal
	logger  *log.Helper
	now     func() time.Time
}

// NewBreakerUseCase creates a breaker registry from configuration.
func NewBreakerUseCase(c *conf.Admission_Breaker, journal EventJournal, logger log.Logger) *BreakerUseCase {
	return &BreakerUseCase{
		resources:       make(map[string]*resourceBreaker),
		baseThreshold:   int(c.FailureThreshold),
		minThreshold:    int(c.MinThreshold),
		maxThreshold:    int(c.MaxThreshold),
		failureWindow:   c.FailureWindow.AsDuration(),
		recoveryTimeout: c.RecoveryTimeout.AsDuration(),
		journal:         journal,
		logger:          log.NewHelper(logger),
		now:             time.Now,
	}
}

// breakerFor returns the breaker for a resource, creating it CLOSED with the
// configured base threshold on first use. Caller must hold mu.
func (uc *BreakerUseCase) breakerFor(resourceID string) *resourceBreaker {
	rb, ok := uc.resources[resourceID]
	if !ok {
		rb = &resourceBreaker{
			state:     model.CircuitClosed,
			threshold: uc.baseThreshold,
		}
		uc.resources[resourceID] = rb
	}
	return rb
}

// Allow reports whether a call to the resource may proceed. It returns nil
// when the call is admitted and a circuit-open error otherwise.
//
// While OPEN, the first caller after the recovery timeout is admitted as the
// single HALF_OPEN probe; concurrent callers keep being rejected until the
// probe reports its outcome.
func (uc *BreakerUseCase) Allow(ctx context.Context, resourceID string) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	rb := uc.breakerFor(resourceID)
	now := uc.now()

	switch rb.state {
	case model.CircuitClosed:
		rb.attempts++
		return nil

	case model.CircuitOpen:
		if now.Sub(rb.openedAt) >= uc.recoveryTimeout {
			// Recovery timer elapsed: this caller becomes the probe.
			rb.state = model.CircuitHalfOpen
			rb.probing = true
			rb.probeStart = now
			rb.attempts++
			uc.logger.Infow("circuit half-open, admitting probe",
				"resource_id", resourceID,
				"open_for", now.Sub(rb.openedAt))
			uc.journal.Record(ctx, model.EventCircuitHalfOpen, resourceID, map[string]interface{}{
				"open_for_seconds": now.Sub(rb.openedAt).Seconds(),
			})
			return nil
		}
		return sgerrors.NewCircuitOpen(resourceID, uc.retryAfterLocked(rb, now))

	case model.CircuitHalfOpen:
		if rb.probing && now.Sub(rb.probeStart) >= uc.recoveryTimeout {
			// The previous probe never reported; hand the trial to this caller.
			rb.probeStart = now
			rb.attempts++
			uc.logger.Warnw("probe abandoned, admitting replacement probe",
				"resource_id", resourceID)
			return nil
		}
		if !rb.probing {
			rb.probing = true
			rb.probeStart = now
			rb.attempts++
			return nil
		}
		return sgerrors.NewCircuitOpen(resourceID, uc.retryAfterLocked(rb, now))
	}

	// Unknown state, fail closed.
	return sgerrors.NewCircuitOpen(resourceID, uc.recoveryTimeout)
}

// retryAfterLocked computes the suggested wait before the next admission
// attempt. Caller must hold mu.
func (uc *BreakerUseCase) retryAfterLocked(rb *resourceBreaker, now time.Time) time.Duration {
	var remaining time.Duration
	switch rb.state {
	case model.CircuitOpen:
		remaining = uc.recoveryTimeout - now.Sub(rb.openedAt)
	case model.CircuitHalfOpen:
		remaining = uc.recoveryTimeout - now.Sub(rb.probeStart)
	}
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining
}

// RecordSuccess reports a successful call against the resource. A success
// from the HALF_OPEN probe closes the circuit and clears the failure window.
func (uc *BreakerUseCase) RecordSuccess(ctx context.Context, resourceID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	rb := uc.breakerFor(resourceID)
	rb.successes++

	if rb.state == model.CircuitHalfOpen {
		rb.state = model.CircuitClosed
		rb.failures = nil
		rb.probing = false
		uc.logger.Infow("circuit closed after successful probe",
			"resource_id", resourceID)
		uc.journal.Record(ctx, model.EventCircuitClosed, resourceID, nil)
	}
}

// RecordFailure reports a failed call against the resource. While CLOSED it
// accumulates toward the threshold; while HALF_OPEN it re-opens the circuit
// with a refreshed recovery timer.
func (uc *BreakerUseCase) RecordFailure(ctx context.Context, resourceID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	rb := uc.breakerFor(resourceID)
	now := uc.now()
	rb.lastFailure = now

	switch rb.state {
	case model.CircuitClosed:
		rb.failures = append(rb.failures, now)
		uc.evictFailuresLocked(rb, now)
		if len(rb.failures) >= rb.threshold {
			uc.openLocked(ctx, resourceID, rb, now, "threshold_reached")
		}

	case model.CircuitHalfOpen:
		uc.openLocked(ctx, resourceID, rb, now, "probe_failed")

	case model.CircuitOpen:
		// Late failure from a call admitted before opening; nothing to do.
	}
}

// openLocked transitions the breaker to OPEN. Caller must hold mu.
func (uc *BreakerUseCase) openLocked(ctx context.Context, resourceID string, rb *resourceBreaker, now time.Time, reason string) {
	rb.state = model.CircuitOpen
	rb.openedAt = now
	rb.probing = false
	failureCount := len(rb.failures)
	rb.failures = nil

	uc.logger.Warnw("circuit opened",
		"resource_id", resourceID,
		"reason", reason,
		"failure_count", failureCount,
		"threshold", rb.threshold,
		"recovery_timeout", uc.recoveryTimeout)
	uc.journal.Record(ctx, model.EventCircuitOpened, resourceID, map[string]interface{}{
		"reason":        reason,
		"failure_count": failureCount,
		"threshold":     rb.threshold,
	})
}

// evictFailuresLocked drops failures that fell out of the rolling window.
// Timestamps are appended in order, so only a prefix can be stale.
// Caller must hold mu.
func (uc *BreakerUseCase) evictFailuresLocked(rb *resourceBreaker, now time.Time) {
	cutoff := now.Add(-uc.failureWindow)
	i := 0
	for i < len(rb.failures) && !rb.failures[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rb.failures = append(rb.failures[:0], rb.failures[i:]...)
	}
}

// AdaptThresholds recomputes each resource's failure threshold from the
// success ratio observed since the previous adaptation pass. Windows with
// too few samples are skipped but still reset, so quiet resources do not
// drift on stale data.
func (uc *BreakerUseCase) AdaptThresholds() {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	for resourceID, rb := range uc.resources {
		attempts, successes := rb.attempts, rb.successes
		rb.attempts, rb.successes = 0, 0

		if attempts < minAdaptSamples {
			continue
		}

		ratio := float64(successes) / float64(attempts)
		old := rb.threshold
		switch {
		case ratio >= 0.9 && rb.threshold < uc.maxThreshold:
			rb.threshold++
		case ratio < 0.5 && rb.threshold > uc.minThreshold:
			rb.threshold--
		}

		if rb.threshold != old {
			uc.logger.Infow("breaker threshold adapted",
				"resource_id", resourceID,
				"success_ratio", ratio,
				"old_threshold", old,
				"new_threshold", rb.threshold)
		}
	}
}

// Reset forces the resource's breaker back to CLOSED and clears its
// counters. Used by the ops API after manual intervention.
func (uc *BreakerUseCase) Reset(ctx context.Context, resourceID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	rb := uc.breakerFor(resourceID)
	rb.state = model.CircuitClosed
	rb.failures = nil
	rb.probing = false
	rb.attempts = 0
	rb.successes = 0
	rb.threshold = uc.baseThreshold

	uc.logger.Infow("circuit manually reset", "resource_id", resourceID)
	uc.journal.Record(ctx, model.EventCircuitClosed, resourceID, map[string]interface{}{
		"reason": "manual_reset",
	})
}

// State returns a read-only view of one resource's breaker.
func (uc *BreakerUseCase) State(resourceID string) model.CircuitState {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.stateLocked(resourceID, uc.breakerFor(resourceID))
}

// States returns views of every known breaker, sorted by resource for
// stable output.
func (uc *BreakerUseCase) States() []model.CircuitState {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	states := make([]model.CircuitState, 0, len(uc.resources))
	for resourceID, rb := range uc.resources {
		states = append(states, uc.stateLocked(resourceID, rb))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ResourceID < states[j].ResourceID })
	return states
}

// stateLocked builds the snapshot for one breaker. Caller must hold mu.
func (uc *BreakerUseCase) stateLocked(resourceID string, rb *resourceBreaker) model.CircuitState {
	state := model.CircuitState{
		ResourceID:       resourceID,
		State:            rb.state,
		FailureCount:     len(rb.failures),
		FailureThreshold: rb.threshold,
	}
	if !rb.lastFailure.IsZero() {
		t := rb.lastFailure
		state.LastFailureAt = &t
	}
	if rb.state != model.CircuitClosed && !rb.openedAt.IsZero() {
		t := rb.openedAt
		state.OpenedAt = &t
	}
	return state
}
