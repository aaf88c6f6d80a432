package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"
	sgerrors "SurgeGate/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/semaphore"
)

// endpointSlots is one prefix's semaphore plus bookkeeping for status
// reporting.
type endpointSlots struct {
	prefix   string
	limit    int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// ConcurrencyUseCase caps how many requests may execute concurrently per
// endpoint group. Paths are matched to the longest configured prefix;
// unmatched paths share the default group.
//
// Acquire waits up to the configured timeout for a slot and rejects with
// 429 when none frees up. The returned release function is idempotent, so
// deferred and explicit releases cannot double-free a slot.
type ConcurrencyUseCase struct {
	groups       []*endpointSlots // sorted by prefix length, longest first
	defaultGroup *endpointSlots

	acquireTimeout time.Duration
	logger         *log.Helper
}

// NewConcurrencyUseCase creates the per-endpoint concurrency limiter from
// configuration.
func NewConcurrencyUseCase(c *conf.Admission_Concurrency, logger log.Logger) *ConcurrencyUseCase {
	groups := make([]*endpointSlots, 0, len(c.Ceilings))
	for _, ceiling := range c.Ceilings {
		groups = append(groups, &endpointSlots{
			prefix: ceiling.Prefix,
			limit:  int64(ceiling.Limit),
			sem:    semaphore.NewWeighted(int64(ceiling.Limit)),
		})
	}
	// Longest prefix first so the most specific group wins.
	sort.Slice(groups, func(i, j int) bool { return len(groups[i].prefix) > len(groups[j].prefix) })

	return &ConcurrencyUseCase{
		groups: groups,
		defaultGroup: &endpointSlots{
			prefix: "",
			limit:  int64(c.DefaultLimit),
			sem:    semaphore.NewWeighted(int64(c.DefaultLimit)),
		},
		acquireTimeout: c.AcquireTimeout.AsDuration(),
		logger:         log.NewHelper(logger),
	}
}

// groupFor returns the slot group whose prefix is the longest match for the
// path, or the default group.
func (uc *ConcurrencyUseCase) groupFor(path string) *endpointSlots {
	for _, g := range uc.groups {
		if len(path) >= len(g.prefix) && path[:len(g.prefix)] == g.prefix {
			return g
		}
	}
	return uc.defaultGroup
}

// Acquire claims a concurrency slot for the path, waiting up to the acquire
// timeout. On success it returns an idempotent release function; calling it
// more than once frees the slot exactly once.
func (uc *ConcurrencyUseCase) Acquire(ctx context.Context, path string) (func(), error) {
	group := uc.groupFor(path)

	acquireCtx, cancel := context.WithTimeout(ctx, uc.acquireTimeout)
	defer cancel()

	if err := group.sem.Acquire(acquireCtx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			uc.logger.Warnw("concurrency slot acquisition timed out",
				"path", path,
				"prefix", groupName(group),
				"limit", group.limit,
				"timeout", uc.acquireTimeout)
			return nil, sgerrors.NewAdmissionRejected("concurrency",
				fmt.Sprintf("endpoint group %s at capacity", groupName(group)), time.Second)
		}
		// Caller went away while waiting; surface the context error as is.
		return nil, err
	}

	group.inFlight.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			group.inFlight.Add(-1)
			group.sem.Release(1)
		})
	}
	return release, nil
}

// Status returns a read-only view of every slot group, most specific first,
// with the default group last.
func (uc *ConcurrencyUseCase) Status() []model.ConcurrencyStatus {
	statuses := make([]model.ConcurrencyStatus, 0, len(uc.groups)+1)
	for _, g := range uc.groups {
		statuses = append(statuses, model.ConcurrencyStatus{
			Prefix:   g.prefix,
			Limit:    g.limit,
			InFlight: g.inFlight.Load(),
		})
	}
	statuses = append(statuses, model.ConcurrencyStatus{
		Prefix:   "default",
		Limit:    uc.defaultGroup.limit,
		InFlight: uc.defaultGroup.inFlight.Load(),
	})
	return statuses
}

func groupName(g *endpointSlots) string {
	if g.prefix == "" {
		return "default"
	}
	return g.prefix
}
