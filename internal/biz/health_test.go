package biz

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func testHealthConf() *conf.Health {
	return &conf.Health{
		CheckInterval:       durationpb.New(30 * time.Second),
		ValidationInterval:  durationpb.New(300 * time.Second),
		DegradedUtilization: 80.0,
		ErrorUtilization:    95.0,
		MaxRecoveryAttempts: 3,
		RecoveryCooldown:    durationpb.New(300 * time.Second),
		HistorySize:         100,
	}
}

func newTestHealth(t *testing.T, c *conf.Health, gov *fakeGovernor) (*HealthUseCase, *fakeClock, *memJournal) {
	t.Helper()
	if gov == nil {
		gov = &fakeGovernor{}
	}
	journal := &memJournal{}
	clk := newFakeClock()
	uc := NewHealthUseCase(c, gov, journal, log.NewStdLogger(os.Stdout))
	uc.now = clk.Now
	return uc, clk, journal
}

func poolAt(utilization float64) model.PoolStatus {
	return model.PoolStatus{
		PoolSize:              10,
		MaxOverflow:           10,
		CheckedOut:            int(utilization / 5),
		UtilizationPercentage: utilization,
	}
}

func TestHealth_HealthyProbe(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(40)}
	uc, clk, _ := newTestHealth(t, testHealthConf(), gov)
	ctx := context.Background()

	rec := uc.RunCheck(ctx)

	assert.Equal(t, model.HealthStatusHealthy, rec.Status)
	assert.Equal(t, 60.0, rec.HealthScore)
	assert.Equal(t, 0, rec.IssuesFound)
	assert.Equal(t, 0, gov.ensureCalls)
	assert.Equal(t, 0, gov.cleanupCalls)

	cur := uc.Current()
	assert.Equal(t, model.HealthStatusHealthy, cur.Status)
	assert.True(t, cur.LastCheckAt.Equal(clk.Now()))
	assert.Equal(t, 40.0, cur.Pool.UtilizationPercentage)
	assert.Equal(t, 3, cur.AttemptsRemaining)
}

func TestHealth_DegradedTriggersPreventiveGrowth(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(85), grown: true}
	uc, _, journal := newTestHealth(t, testHealthConf(), gov)

	rec := uc.RunCheck(context.Background())

	assert.Equal(t, model.HealthStatusDegraded, rec.Status)
	assert.Equal(t, 1, rec.IssuesFound)
	assert.Equal(t, 1, gov.ensureCalls)
	assert.Equal(t, 0, gov.cleanupCalls)
	assert.Contains(t, journal.eventTypes(), model.EventHealthTransition)
}

func TestHealth_ErrorTriggersEmergencyCleanup(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(96), cleanup: model.CleanupResult{Disposed: 4}}
	uc, _, journal := newTestHealth(t, testHealthConf(), gov)

	rec := uc.RunCheck(context.Background())

	assert.Equal(t, model.HealthStatusError, rec.Status)
	assert.Equal(t, 1, gov.cleanupCalls)
	assert.Equal(t, 0, gov.ensureCalls)
	assert.Contains(t, journal.eventTypes(), model.EventHealthTransition)
	assert.Contains(t, journal.eventTypes(), model.EventRecoveryAttempt)

	cur := uc.Current()
	assert.Equal(t, 1, cur.RecoveryAttempts)
	assert.Equal(t, 2, cur.AttemptsRemaining)
	assert.False(t, cur.RepairExhausted)
}

func TestHealth_RepeatedErrorDoesNotRepeatCleanup(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(96)}
	uc, clk, _ := newTestHealth(t, testHealthConf(), gov)
	ctx := context.Background()

	uc.RunCheck(ctx)
	clk.Advance(30 * time.Second)
	rec := uc.RunCheck(ctx)

	assert.Equal(t, model.HealthStatusError, rec.Status)
	assert.Equal(t, 1, gov.cleanupCalls, "consecutive ERROR probes must not re-trigger cleanup")
}

func TestHealth_BoundedRepairExhaustsAndPins(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(96)}
	uc, clk, journal := newTestHealth(t, testHealthConf(), gov)
	ctx := context.Background()

	// Three separate incidents inside one cooldown window.
	for i := 0; i < 3; i++ {
		gov.status = poolAt(96)
		uc.RunCheck(ctx)
		clk.Advance(30 * time.Second)
		gov.status = poolAt(50)
		uc.RunCheck(ctx)
		clk.Advance(30 * time.Second)
	}
	require.Equal(t, 3, gov.cleanupCalls)

	// Fourth incident: the budget is spent, no repair runs.
	gov.status = poolAt(96)
	rec := uc.RunCheck(ctx)
	assert.Equal(t, 3, gov.cleanupCalls)
	assert.Equal(t, model.HealthStatusError, rec.Status)
	assert.True(t, uc.Current().RepairExhausted)
	assert.Contains(t, journal.eventTypes(), model.EventRecoveryExhausted)

	// Even a recovered pool reads ERROR while the latch holds.
	clk.Advance(30 * time.Second)
	gov.status = poolAt(20)
	rec = uc.RunCheck(ctx)
	assert.Equal(t, model.HealthStatusError, rec.Status)

	// An administrative reset clears the latch and the budget.
	uc.ResetRecoveryCounters(ctx)
	assert.Contains(t, journal.eventTypes(), model.EventRecoveryReset)

	clk.Advance(30 * time.Second)
	rec = uc.RunCheck(ctx)
	assert.Equal(t, model.HealthStatusHealthy, rec.Status)
	assert.False(t, uc.Current().RepairExhausted)

	// Self-repair works again after the reset.
	clk.Advance(30 * time.Second)
	gov.status = poolAt(96)
	uc.RunCheck(ctx)
	assert.Equal(t, 4, gov.cleanupCalls)
}

func TestHealth_AttemptWindowSlides(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(96)}
	uc, clk, _ := newTestHealth(t, testHealthConf(), gov)
	ctx := context.Background()

	uc.RunCheck(ctx)
	require.Equal(t, 1, gov.cleanupCalls)

	clk.Advance(30 * time.Second)
	gov.status = poolAt(50)
	uc.RunCheck(ctx)

	// The first attempt has aged out of the cooldown window by now.
	clk.Advance(301 * time.Second)
	gov.status = poolAt(96)
	uc.RunCheck(ctx)

	assert.Equal(t, 2, gov.cleanupCalls)
	cur := uc.Current()
	assert.Equal(t, 1, cur.RecoveryAttempts)
	assert.False(t, cur.RepairExhausted)
}

func TestHealth_PersistentErrorRetriesAfterCooldown(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(97)}
	uc, clk, _ := newTestHealth(t, testHealthConf(), gov)
	ctx := context.Background()

	uc.RunCheck(ctx)
	require.Equal(t, 1, gov.cleanupCalls)

	// ERROR persists; probes inside the window stay quiet.
	for i := 0; i < 9; i++ {
		clk.Advance(30 * time.Second)
		uc.RunCheck(ctx)
	}
	assert.Equal(t, 1, gov.cleanupCalls)

	// Once the only attempt ages out, a persistent ERROR earns a retry.
	clk.Advance(31 * time.Second)
	uc.RunCheck(ctx)
	assert.Equal(t, 2, gov.cleanupCalls)
}

func TestHealth_StatusProbeFailureKeepsLastPool(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(40)}
	uc, clk, _ := newTestHealth(t, testHealthConf(), gov)
	ctx := context.Background()

	uc.RunCheck(ctx)
	clk.Advance(30 * time.Second)

	gov.statusErr = errors.New("driver: bad connection")
	rec := uc.RunCheck(ctx)

	assert.Equal(t, model.HealthStatusError, rec.Status)
	assert.Equal(t, 0.0, rec.HealthScore)
	assert.Equal(t, 1, rec.IssuesFound)
	assert.Equal(t, 0, gov.cleanupCalls, "an unreachable governor is not repaired blindly")
	assert.Equal(t, 40.0, uc.Current().Pool.UtilizationPercentage)
}

func TestHealth_DeepValidatePingFailure(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(40), pingErr: errors.New("dial tcp: connection refused")}
	uc, _, _ := newTestHealth(t, testHealthConf(), gov)

	rec := uc.DeepValidate(context.Background())

	assert.Equal(t, model.HealthStatusError, rec.Status)
	assert.Equal(t, 1, rec.IssuesFound)
	assert.Equal(t, 1, gov.cleanupCalls, "a failed round-trip triggers an emergency cleanup")
}

func TestHealth_DeepValidateHealthy(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(30)}
	uc, _, _ := newTestHealth(t, testHealthConf(), gov)

	rec := uc.DeepValidate(context.Background())

	assert.Equal(t, model.HealthStatusHealthy, rec.Status)
	assert.Equal(t, 0, rec.IssuesFound)
	assert.Equal(t, 0, gov.cleanupCalls)
}

func TestHealth_WaitGrowthCountsAsIssue(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(40)}
	uc, clk, _ := newTestHealth(t, testHealthConf(), gov)
	ctx := context.Background()

	rec := uc.RunCheck(ctx)
	assert.Equal(t, 0, rec.IssuesFound)

	clk.Advance(30 * time.Second)
	st := poolAt(40)
	st.WaitCount = 5
	gov.status = st
	rec = uc.RunCheck(ctx)

	assert.Equal(t, model.HealthStatusHealthy, rec.Status)
	assert.Equal(t, 1, rec.IssuesFound)
}

func TestHealth_HistoryRingBounded(t *testing.T) {
	c := testHealthConf()
	c.HistorySize = 5
	gov := &fakeGovernor{status: poolAt(40)}
	uc, clk, _ := newTestHealth(t, c, gov)
	ctx := context.Background()

	start := clk.Now()
	for i := 0; i < 8; i++ {
		uc.RunCheck(ctx)
		clk.Advance(30 * time.Second)
	}

	hist := uc.History()
	require.Len(t, hist, 5)
	// Records 4 through 8 survive, oldest first.
	assert.True(t, hist[0].Timestamp.Equal(start.Add(3*30*time.Second)))
	assert.True(t, hist[4].Timestamp.Equal(start.Add(7*30*time.Second)))
}

func TestHealth_ForceRepairBypassesExhaustion(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(96), cleanup: model.CleanupResult{Disposed: 7}}
	uc, clk, _ := newTestHealth(t, testHealthConf(), gov)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		gov.status = poolAt(96)
		uc.RunCheck(ctx)
		clk.Advance(30 * time.Second)
		gov.status = poolAt(50)
		uc.RunCheck(ctx)
		clk.Advance(30 * time.Second)
	}
	gov.status = poolAt(96)
	uc.RunCheck(ctx)
	require.True(t, uc.Current().RepairExhausted)
	require.Equal(t, 3, gov.cleanupCalls)

	res, err := uc.ForceRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Disposed)
	assert.Equal(t, 4, gov.cleanupCalls)

	// A manual repair neither clears the latch nor spends the budget.
	cur := uc.Current()
	assert.True(t, cur.RepairExhausted)
	assert.Equal(t, 3, cur.RecoveryAttempts)
}

func TestHealth_ForceRepairSurfacesError(t *testing.T) {
	gov := &fakeGovernor{status: poolAt(40), cleanupErr: errors.New("cleanup in progress")}
	uc, _, journal := newTestHealth(t, testHealthConf(), gov)

	_, err := uc.ForceRepair(context.Background())

	require.Error(t, err)
	assert.Contains(t, journal.eventTypes(), model.EventRecoveryAttempt)
}
