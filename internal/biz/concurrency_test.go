package biz

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"SurgeGate/internal/conf"
	sgerrors "SurgeGate/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func testConcurrencyConf() *conf.Admission_Concurrency {
	return &conf.Admission_Concurrency{
		DefaultLimit:   80,
		AcquireTimeout: durationpb.New(50 * time.Millisecond),
		Ceilings: []*conf.Admission_Ceiling{
			{Prefix: "/api/v1/reports", Limit: 2},
			{Prefix: "/api/v1/reports/summary", Limit: 1},
			{Prefix: "/api/v1/search", Limit: 3},
		},
	}
}

func newTestConcurrency(t *testing.T) *ConcurrencyUseCase {
	t.Helper()
	return NewConcurrencyUseCase(testConcurrencyConf(), log.NewStdLogger(os.Stdout))
}

// Slots free up when released and can be re-acquired.
func TestConcurrency_AcquireRelease(t *testing.T) {
	uc := newTestConcurrency(t)
	ctx := context.Background()

	release1, err := uc.Acquire(ctx, "/api/v1/reports/weekly")
	require.NoError(t, err)
	release2, err := uc.Acquire(ctx, "/api/v1/reports/monthly")
	require.NoError(t, err)

	// Group /api/v1/reports is now full.
	_, err = uc.Acquire(ctx, "/api/v1/reports/daily")
	require.Error(t, err)
	assert.True(t, sgerrors.IsAdmissionRejected(err))
	assert.Contains(t, err.Error(), "/api/v1/reports")

	release1()
	release3, err := uc.Acquire(ctx, "/api/v1/reports/daily")
	assert.NoError(t, err)

	release2()
	release3()
}

// The most specific prefix wins: /api/v1/reports/summary has its own
// ceiling of one, independent of /api/v1/reports.
func TestConcurrency_LongestPrefixWins(t *testing.T) {
	uc := newTestConcurrency(t)
	ctx := context.Background()

	release, err := uc.Acquire(ctx, "/api/v1/reports/summary")
	require.NoError(t, err)
	defer release()

	// The summary group is full even though the reports group has room.
	_, err = uc.Acquire(ctx, "/api/v1/reports/summary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/api/v1/reports/summary")

	// The broader reports group is unaffected.
	other, err := uc.Acquire(ctx, "/api/v1/reports/weekly")
	assert.NoError(t, err)
	other()
}

// Unmatched paths share the default group.
func TestConcurrency_DefaultGroup(t *testing.T) {
	uc := newTestConcurrency(t)
	ctx := context.Background()

	release, err := uc.Acquire(ctx, "/api/v1/catalog/items")
	require.NoError(t, err)
	defer release()

	statuses := uc.Status()
	last := statuses[len(statuses)-1]
	assert.Equal(t, "default", last.Prefix)
	assert.Equal(t, int64(1), last.InFlight)
}

// Releasing twice must free the slot exactly once.
func TestConcurrency_ReleaseIsIdempotent(t *testing.T) {
	uc := newTestConcurrency(t)
	ctx := context.Background()

	release1, err := uc.Acquire(ctx, "/api/v1/reports/summary")
	require.NoError(t, err)

	release1()
	release1()
	release1()

	// Capacity is one: if the double release inflated it, two acquires
	// would now succeed.
	release2, err := uc.Acquire(ctx, "/api/v1/reports/summary")
	require.NoError(t, err)
	defer release2()

	_, err = uc.Acquire(ctx, "/api/v1/reports/summary")
	assert.Error(t, err)
}

// A waiter gets the slot when a holder releases before the timeout.
func TestConcurrency_WaiterSucceedsOnRelease(t *testing.T) {
	uc := newTestConcurrency(t)
	ctx := context.Background()

	release, err := uc.Acquire(ctx, "/api/v1/reports/summary")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var waiterErr error
	go func() {
		defer wg.Done()
		r, err := uc.Acquire(ctx, "/api/v1/reports/summary")
		waiterErr = err
		if err == nil {
			r()
		}
	}()

	// Free the slot while the waiter is still inside its acquire window.
	time.Sleep(10 * time.Millisecond)
	release()
	wg.Wait()

	assert.NoError(t, waiterErr)
}

// A canceled caller context surfaces as a context error, not a 429.
func TestConcurrency_CallerCancellation(t *testing.T) {
	uc := newTestConcurrency(t)

	release, err := uc.Acquire(context.Background(), "/api/v1/reports/summary")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = uc.Acquire(ctx, "/api/v1/reports/summary")
	require.Error(t, err)
	assert.False(t, sgerrors.IsAdmissionRejected(err))
	assert.ErrorIs(t, err, context.Canceled)
}

// Status reports in-flight counts per group.
func TestConcurrency_Status(t *testing.T) {
	uc := newTestConcurrency(t)
	ctx := context.Background()

	release, err := uc.Acquire(ctx, "/api/v1/search")
	require.NoError(t, err)
	defer release()

	var searchStatus *int64
	for _, s := range uc.Status() {
		if s.Prefix == "/api/v1/search" {
			inFlight := s.InFlight
			searchStatus = &inFlight
		}
	}
	require.NotNil(t, searchStatus)
	assert.Equal(t, int64(1), *searchStatus)
}
