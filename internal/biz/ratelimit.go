package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"
	sgerrors "SurgeGate/pkg/errors"
	"SurgeGate/pkg/limiter"

	"github.com/go-kratos/kratos/v2/log"
)

// RateLimitVerdict is the outcome of one rate limit check, carrying the
// values the transport layer exposes as X-RateLimit-* headers.
type RateLimitVerdict struct {
	Allowed    bool
	Limit      int
	Window     time.Duration
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// limitRule is one per-prefix sliding window limit.
type limitRule struct {
	prefix  string
	counter *limiter.SlidingWindowCounter
}

// endpointCircuit tracks server errors for one endpoint. Guarded by
// RateLimitUseCase.mu.
type endpointCircuit struct {
	failures       []time.Time
	suspendedUntil time.Time
}

// RateLimitUseCase enforces per-client sliding window rate limits and
// suspends endpoints that keep failing.
//
// Every (client IP, path) pair gets its own window under the longest
// matching prefix rule; unmatched paths use the default limit. Separately,
// each endpoint accumulates 5xx responses over a rolling window: reaching
// the failure threshold suspends the endpoint for a fixed period, during
// which requests are rejected with 503 without touching the backend.
type RateLimitUseCase struct {
	rules          []limitRule // sorted by prefix length, longest first
	defaultCounter *limiter.SlidingWindowCounter

	mu               sync.Mutex
	endpoints        map[string]*endpointCircuit
	failureThreshold int
	failureWindow    time.Duration
	openFor          time.Duration

	journal EventJournal
	logger  *log.Helper
	now     func() time.Time
}

// NewRateLimitUseCase creates the rate limiter from configuration.
func NewRateLimitUseCase(c *conf.Admission_RateLimit, journal EventJournal, logger log.Logger) *RateLimitUseCase {
	rules := make([]limitRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		rules = append(rules, limitRule{
			prefix:  r.Prefix,
			counter: limiter.NewSlidingWindowCounter(int(r.Limit), r.Window.AsDuration()),
		})
	}
	sort.Slice(rules, func(i, j int) bool { return len(rules[i].prefix) > len(rules[j].prefix) })

	return &RateLimitUseCase{
		rules:            rules,
		defaultCounter:   limiter.NewSlidingWindowCounter(int(c.DefaultLimit), c.DefaultWindow.AsDuration()),
		endpoints:        make(map[string]*endpointCircuit),
		failureThreshold: int(c.EndpointFailureThreshold),
		failureWindow:    c.EndpointFailureWindow.AsDuration(),
		openFor:          c.EndpointOpenFor.AsDuration(),
		journal:          journal,
		logger:           log.NewHelper(logger),
		now:              time.Now,
	}
}

// counterFor returns the sliding window counter whose prefix is the longest
// match for the path, or the default counter.
func (uc *RateLimitUseCase) counterFor(path string) *limiter.SlidingWindowCounter {
	for _, r := range uc.rules {
		if len(path) >= len(r.prefix) && path[:len(r.prefix)] == r.prefix {
			return r.counter
		}
	}
	return uc.defaultCounter
}

// Check runs the (client IP, path) pair through its sliding window. The
// verdict always carries the header values; err is non-nil only on
// rejection.
func (uc *RateLimitUseCase) Check(ctx context.Context, clientIP, path string) (RateLimitVerdict, error) {
	counter := uc.counterFor(path)
	key := clientIP + "|" + path

	allowed := counter.Allow(key)
	used := counter.Len(key)
	limit := counter.Limit()

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	reset := uc.now().Add(counter.Window())
	if oldest, ok := counter.Oldest(key); ok {
		reset = oldest.Add(counter.Window())
	}

	verdict := RateLimitVerdict{
		Allowed:   allowed,
		Limit:     limit,
		Window:    counter.Window(),
		Remaining: remaining,
		Reset:     reset,
	}

	if !allowed {
		retryAfter := reset.Sub(uc.now())
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		verdict.RetryAfter = retryAfter

		uc.logger.Debugw("rate limit exceeded",
			"client_ip", clientIP,
			"path", path,
			"limit", limit,
			"window", counter.Window())
		return verdict, sgerrors.NewAdmissionRejected("rate",
			fmt.Sprintf("%d requests per %s", limit, counter.Window()), retryAfter)
	}

	return verdict, nil
}

// CheckEndpoint rejects requests to an endpoint whose request circuit is
// open. A suspension that has run out is lifted on the next check.
func (uc *RateLimitUseCase) CheckEndpoint(ctx context.Context, path string) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	ec, ok := uc.endpoints[path]
	if !ok || ec.suspendedUntil.IsZero() {
		return nil
	}

	now := uc.now()
	if !now.Before(ec.suspendedUntil) {
		// Suspension expired; start over with a clean window.
		delete(uc.endpoints, path)
		uc.logger.Infow("endpoint suspension lifted", "path", path)
		return nil
	}

	return sgerrors.NewCircuitOpen("endpoint "+path, ec.suspendedUntil.Sub(now))
}

// ObserveStatus feeds one response status into the endpoint's failure
// window. Reaching the failure threshold suspends the endpoint.
func (uc *RateLimitUseCase) ObserveStatus(ctx context.Context, path string, status int) {
	if status < 500 {
		return
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	now := uc.now()
	ec, ok := uc.endpoints[path]
	if !ok {
		ec = &endpointCircuit{}
		uc.endpoints[path] = ec
	}
	if !ec.suspendedUntil.IsZero() {
		if now.Before(ec.suspendedUntil) {
			// Late failures from requests admitted before the suspension
			// are expected and ignored.
			return
		}
		// Suspension ran out without a CheckEndpoint lifting it.
		ec.suspendedUntil = time.Time{}
		ec.failures = nil
	}

	ec.failures = append(ec.failures, now)

	// Evict failures outside the rolling window; oldest first.
	cutoff := now.Add(-uc.failureWindow)
	i := 0
	for i < len(ec.failures) && !ec.failures[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ec.failures = append(ec.failures[:0], ec.failures[i:]...)
	}

	if len(ec.failures) >= uc.failureThreshold {
		ec.suspendedUntil = now.Add(uc.openFor)
		failureCount := len(ec.failures)
		ec.failures = nil

		uc.logger.Warnw("endpoint suspended after repeated server errors",
			"path", path,
			"failure_count", failureCount,
			"threshold", uc.failureThreshold,
			"until", ec.suspendedUntil)
		uc.journal.Record(ctx, model.EventEndpointSuspended, path, map[string]interface{}{
			"failure_count": failureCount,
			"open_for":      uc.openFor.String(),
		})
	}
}

// SuspendedEndpoints lists endpoints whose request circuit is currently
// open, sorted by path.
func (uc *RateLimitUseCase) SuspendedEndpoints() []model.EndpointSuspension {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	now := uc.now()
	suspensions := make([]model.EndpointSuspension, 0)
	for path, ec := range uc.endpoints {
		if !ec.suspendedUntil.IsZero() && now.Before(ec.suspendedUntil) {
			suspensions = append(suspensions, model.EndpointSuspension{Path: path, Until: ec.suspendedUntil})
		}
	}
	sort.Slice(suspensions, func(i, j int) bool { return suspensions[i].Path < suspensions[j].Path })
	return suspensions
}

// Sweep drops idle windows and expired endpoint circuits. Called
// periodically.
func (uc *RateLimitUseCase) Sweep() int {
	removed := uc.defaultCounter.Sweep()
	for _, r := range uc.rules {
		removed += r.counter.Sweep()
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	now := uc.now()
	for path, ec := range uc.endpoints {
		expired := !ec.suspendedUntil.IsZero() && !now.Before(ec.suspendedUntil)
		idle := ec.suspendedUntil.IsZero() && len(ec.failures) > 0 && ec.failures[len(ec.failures)-1].Before(now.Add(-uc.failureWindow))
		if expired || idle {
			delete(uc.endpoints, path)
			removed++
		}
	}
	return removed
}
