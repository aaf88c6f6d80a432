package biz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"SurgeGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// CollapseUseCase is the single-flight registry for concurrent identical
// idempotent reads.
//
// The first caller for a key becomes the originator and executes the
// pipeline; concurrent callers for the same key wait for its completion
// signal and then re-enter the pipeline themselves, where the now-warm
// cache usually answers. Followers never share the originator's response
// object, only the timing. A follower waits at most the configured timeout
// before proceeding on its own.
type CollapseUseCase struct {
	mu       sync.Mutex
	inflight map[string]chan struct{}

	followerTimeout time.Duration

	leaders   atomic.Int64
	followers atomic.Int64

	logger *log.Helper
}

// NewCollapseUseCase creates the collapser from configuration.
func NewCollapseUseCase(c *conf.Admission_Collapse, logger log.Logger) *CollapseUseCase {
	return &CollapseUseCase{
		inflight:        make(map[string]chan struct{}),
		followerTimeout: c.FollowerTimeout.AsDuration(),
		logger:          log.NewHelper(logger),
	}
}

// Begin registers the caller for key.
//
// The originator receives a non-nil done function and a nil signal; it must
// call done exactly when its response path completes (done is idempotent,
// extra calls are ignored). Followers receive a nil done and the
// originator's completion signal to pass to WaitForLeader.
func (uc *CollapseUseCase) Begin(key string) (done func(), signal <-chan struct{}) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if ch, inFlight := uc.inflight[key]; inFlight {
		uc.followers.Add(1)
		return nil, ch
	}

	ch := make(chan struct{})
	uc.inflight[key] = ch
	uc.leaders.Add(1)

	var once sync.Once
	done = func() {
		once.Do(func() {
			uc.mu.Lock()
			// Remove only our own entry; a later flight for the same key
			// owns a different channel.
			if current, ok := uc.inflight[key]; ok && current == ch {
				delete(uc.inflight, key)
			}
			uc.mu.Unlock()
			close(ch)
		})
	}
	return done, nil
}

// WaitForLeader blocks until the originator signals completion, the
// follower timeout elapses, or ctx is canceled. It reports whether the
// leader completed in time; either way the caller re-enters the pipeline.
func (uc *CollapseUseCase) WaitForLeader(ctx context.Context, signal <-chan struct{}) bool {
	timer := time.NewTimer(uc.followerTimeout)
	defer timer.Stop()

	select {
	case <-signal:
		return true
	case <-timer.C:
		uc.logger.Warnw("collapsed request timed out waiting for originator",
			"timeout", uc.followerTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}

// InFlight reports how many keys currently have an originator executing.
func (uc *CollapseUseCase) InFlight() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return len(uc.inflight)
}

// Counters returns the number of originator and collapsed follower
// requests seen so far.
func (uc *CollapseUseCase) Counters() (leaders, followers int64) {
	return uc.leaders.Load(), uc.followers.Load()
}
