package momo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-scheduler/momo/internal/testutil"
)

func newTestPing(
	t *testing.T,
	executions *testutil.InMemoryExecutionsRepo,
	scheduleID string,
	onActive func(ctx context.Context),
) *SchedulePing {
	t.Helper()

	ping := NewSchedulePing(SchedulePingOptions{
		ScheduleID:   scheduleID,
		Name:         "test-schedule",
		Executions:   executions,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		PingInterval: 20 * time.Millisecond,
		OnActive:     onActive,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ping.Stop(ctx)
	})
	return ping
}

func TestSchedulePingLoneInstanceBecomesActive(t *testing.T) {
	executions := testutil.NewInMemoryExecutionsRepo()
	var takeovers atomic.Int64
	ping := newTestPing(t, executions, "solo", func(context.Context) {
		takeovers.Add(1)
	})

	ping.Start(context.Background())

	require.Eventually(t, ping.Active, 2*time.Second, 5*time.Millisecond)
	// The transition callback fires once, not on every tick.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), takeovers.Load())
}

func TestSchedulePingRefreshesHeartbeat(t *testing.T) {
	executions := testutil.NewInMemoryExecutionsRepo()
	ping := newTestPing(t, executions, "beater", nil)

	ping.Start(context.Background())
	require.Eventually(t, func() bool {
		_, ok := executions.Entry("beater")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	stale := time.Now().Add(-time.Hour)
	executions.SetLastAlive("beater", stale)

	require.Eventually(t, func() bool {
		entry, ok := executions.Entry("beater")
		return ok && entry.LastAlive.After(stale)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulePingStandbyTakesOverFromDeadPeer(t *testing.T) {
	executions := testutil.NewInMemoryExecutionsRepo()
	ctx := context.Background()

	// The primary registered first and is still alive.
	require.NoError(t, executions.AddSchedule(ctx, "primary", "test-schedule"))

	var takeovers atomic.Int64
	standby := newTestPing(t, executions, "standby", func(context.Context) {
		takeovers.Add(1)
	})
	standby.Start(ctx)

	// While the primary heartbeats, the standby stays passive.
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		executions.SetLastAlive("primary", time.Now())
		assert.False(t, standby.Active())
		time.Sleep(5 * time.Millisecond)
	}
	assert.Zero(t, takeovers.Load())

	// The primary dies: its heartbeat ages past the liveness window.
	executions.SetLastAlive("primary", time.Now().Add(-time.Hour))

	require.Eventually(t, standby.Active, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), takeovers.Load())

	// The dead entry is swept so its stale counters stop polluting reads.
	require.Eventually(t, func() bool {
		_, ok := executions.Entry("primary")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulePingSurvivesLedgerErrors(t *testing.T) {
	executions := testutil.NewInMemoryExecutionsRepo()
	ping := newTestPing(t, executions, "resilient", nil)

	executions.FailNext = errors.New("ledger down")
	ping.Start(context.Background())

	// The failed tick is absorbed and the loop keeps running.
	require.Eventually(t, ping.Active, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulePingStopRemovesOwnEntry(t *testing.T) {
	executions := testutil.NewInMemoryExecutionsRepo()
	ping := newTestPing(t, executions, "leaver", nil)
	ctx := context.Background()

	ping.Start(ctx)
	require.Eventually(t, func() bool {
		_, ok := executions.Entry("leaver")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ping.Stop(ctx))

	_, ok := executions.Entry("leaver")
	assert.False(t, ok)
	assert.False(t, ping.Active())
}
