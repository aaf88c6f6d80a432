package biz

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"
	sgerrors "SurgeGate/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// memJournal is an in-memory EventJournal used across biz tests.
type memJournal struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	EventType string
	Resource  string
	Details   map[string]interface{}
}

func (j *memJournal) Record(_ context.Context, eventType, resource string, details map[string]interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, recordedEvent{EventType: eventType, Resource: resource, Details: details})
}

func (j *memJournal) Recent(_ context.Context, limit int) ([]model.JournalEvent, error) {
	return nil, nil
}

func (j *memJournal) Prune(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (j *memJournal) eventTypes() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	types := make([]string, 0, len(j.events))
	for _, e := range j.events {
		types = append(types, e.EventType)
	}
	return types
}

// fakeClock provides a controllable time source for biz tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testBreakerConf() *conf.Admission_Breaker {
	return &conf.Admission_Breaker{
		FailureThreshold: 5,
		MinThreshold:     2,
		MaxThreshold:     10,
		FailureWindow:    durationpb.New(time.Minute),
		RecoveryTimeout:  durationpb.New(30 * time.Second),
		AdaptInterval:    durationpb.New(30 * time.Second),
	}
}

// Helper to create a breaker with a controlled clock.
func newTestBreaker(t *testing.T) (*BreakerUseCase, *fakeClock, *memJournal) {
	t.Helper()
	journal := &memJournal{}
	clk := newFakeClock()
	uc := NewBreakerUseCase(testBreakerConf(), journal, log.NewStdLogger(os.Stdout))
	uc.now = clk.Now
	return uc, clk, journal
}

// Five failures inside the window must open the circuit.
func TestBreaker_OpensAtThreshold(t *testing.T) {
	uc, _, journal := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		uc.RecordFailure(ctx, ResourceDatabase)
	}
	assert.NoError(t, uc.Allow(ctx, ResourceDatabase), "four failures must not open the circuit")

	uc.RecordFailure(ctx, ResourceDatabase)

	err := uc.Allow(ctx, ResourceDatabase)
	require.Error(t, err)
	assert.True(t, sgerrors.IsCircuitOpen(err))

	state := uc.State(ResourceDatabase)
	assert.Equal(t, model.CircuitOpen, state.State)
	assert.NotNil(t, state.OpenedAt)
	assert.Contains(t, journal.eventTypes(), model.EventCircuitOpened)
}

// Failures that fall out of the rolling window must not count toward the
// threshold.
func TestBreaker_RollingWindowEvictsOldFailures(t *testing.T) {
	uc, clk, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		uc.RecordFailure(ctx, ResourceDatabase)
	}

	// Push the four failures out of the window, then fail once more.
	clk.Advance(2 * time.Minute)
	uc.RecordFailure(ctx, ResourceDatabase)

	assert.NoError(t, uc.Allow(ctx, ResourceDatabase))
	assert.Equal(t, model.CircuitClosed, uc.State(ResourceDatabase).State)
	assert.Equal(t, 1, uc.State(ResourceDatabase).FailureCount)
}

// While OPEN, calls are rejected until the recovery timeout elapses.
func TestBreaker_RejectsWhileOpen(t *testing.T) {
	uc, clk, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		uc.RecordFailure(ctx, ResourceDatabase)
	}

	err := uc.Allow(ctx, ResourceDatabase)
	require.Error(t, err)

	admErr, ok := sgerrors.AsAdmission(err)
	require.True(t, ok)
	assert.Equal(t, 503, admErr.Status)
	assert.Greater(t, admErr.RetryAfter, time.Duration(0))

	// Still rejected before the timeout.
	clk.Advance(29 * time.Second)
	assert.Error(t, uc.Allow(ctx, ResourceDatabase))
}

// After the recovery timeout elapses, exactly one caller is admitted as the
// probe; concurrent callers keep being rejected until the probe reports.
func TestBreaker_SingleProbeAfterRecovery(t *testing.T) {
	uc, clk, journal := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		uc.RecordFailure(ctx, ResourceDatabase)
	}
	clk.Advance(30 * time.Second)

	// First caller becomes the probe.
	assert.NoError(t, uc.Allow(ctx, ResourceDatabase))
	assert.Equal(t, model.CircuitHalfOpen, uc.State(ResourceDatabase).State)

	// Concurrent callers are rejected while the probe is in flight.
	assert.Error(t, uc.Allow(ctx, ResourceDatabase))
	assert.Error(t, uc.Allow(ctx, ResourceDatabase))

	// Probe success closes the circuit.
	uc.RecordSuccess(ctx, ResourceDatabase)
	assert.Equal(t, model.CircuitClosed, uc.State(ResourceDatabase).State)
	assert.NoError(t, uc.Allow(ctx, ResourceDatabase))
	assert.Contains(t, journal.eventTypes(), model.EventCircuitClosed)
}

// A failed probe re-opens the circuit with a fresh recovery timer.
func TestBreaker_ProbeFailureReopens(t *testing.T) {
	uc, clk, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		uc.RecordFailure(ctx, ResourceDatabase)
	}
	clk.Advance(30 * time.Second)

	require.NoError(t, uc.Allow(ctx, ResourceDatabase))
	uc.RecordFailure(ctx, ResourceDatabase)

	assert.Equal(t, model.CircuitOpen, uc.State(ResourceDatabase).State)

	// The recovery timer restarted at the probe failure.
	clk.Advance(29 * time.Second)
	assert.Error(t, uc.Allow(ctx, ResourceDatabase))
	clk.Advance(time.Second)
	assert.NoError(t, uc.Allow(ctx, ResourceDatabase))
}

// A probe that never reports must not wedge the breaker forever.
func TestBreaker_AbandonedProbeHandsOff(t *testing.T) {
	uc, clk, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		uc.RecordFailure(ctx, ResourceDatabase)
	}
	clk.Advance(30 * time.Second)
	require.NoError(t, uc.Allow(ctx, ResourceDatabase))

	// The probe went silent; after a full recovery timeout another caller
	// takes over the trial.
	clk.Advance(30 * time.Second)
	assert.NoError(t, uc.Allow(ctx, ResourceDatabase))
}

// Resources fail independently.
func TestBreaker_ResourcesIndependent(t *testing.T) {
	uc, _, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		uc.RecordFailure(ctx, ResourceDatabase)
	}

	assert.Error(t, uc.Allow(ctx, ResourceDatabase))
	assert.NoError(t, uc.Allow(ctx, ResourceRedis))
	assert.Equal(t, model.CircuitClosed, uc.State(ResourceRedis).State)
}

// A high success ratio loosens the threshold by one per pass, up to the max.
func TestBreaker_AdaptLoosensThreshold(t *testing.T) {
	uc, _, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, uc.Allow(ctx, ResourceDatabase))
		uc.RecordSuccess(ctx, ResourceDatabase)
	}

	uc.AdaptThresholds()
	assert.Equal(t, 6, uc.State(ResourceDatabase).FailureThreshold)
}

// A low success ratio tightens the threshold by one per pass, down to the min.
func TestBreaker_AdaptTightensAndClamps(t *testing.T) {
	uc, _, _ := newTestBreaker(t)
	ctx := context.Background()

	// Run several adaptation passes with a 0% success ratio. The threshold
	// must walk down one step per pass and stop at the minimum.
	for pass := 0; pass < 6; pass++ {
		for i := 0; i < 10; i++ {
			_ = uc.Allow(ctx, ResourceDatabase)
			// No RecordSuccess: ratio stays 0.
		}
		uc.AdaptThresholds()
	}

	assert.Equal(t, 2, uc.State(ResourceDatabase).FailureThreshold)
}

// Too few samples must leave the threshold untouched.
func TestBreaker_AdaptSkipsSparseWindows(t *testing.T) {
	uc, _, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, uc.Allow(ctx, ResourceDatabase))
		uc.RecordSuccess(ctx, ResourceDatabase)
	}

	uc.AdaptThresholds()
	assert.Equal(t, 5, uc.State(ResourceDatabase).FailureThreshold)
}

// Reset returns the breaker to CLOSED with the base threshold.
func TestBreaker_ResetClearsState(t *testing.T) {
	uc, _, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		uc.RecordFailure(ctx, ResourceDatabase)
	}
	require.Error(t, uc.Allow(ctx, ResourceDatabase))

	uc.Reset(ctx, ResourceDatabase)

	state := uc.State(ResourceDatabase)
	assert.Equal(t, model.CircuitClosed, state.State)
	assert.Equal(t, 0, state.FailureCount)
	assert.Equal(t, 5, state.FailureThreshold)
	assert.NoError(t, uc.Allow(ctx, ResourceDatabase))
}

// States lists every known resource sorted by name.
func TestBreaker_StatesSorted(t *testing.T) {
	uc, _, _ := newTestBreaker(t)
	ctx := context.Background()

	_ = uc.Allow(ctx, ResourceRedis)
	_ = uc.Allow(ctx, ResourceDatabase)

	states := uc.States()
	require.Len(t, states, 2)
	assert.Equal(t, ResourceDatabase, states[0].ResourceID)
	assert.Equal(t, ResourceRedis, states[1].ResourceID)
}
