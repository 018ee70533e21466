package momo

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-scheduler/momo/config"
	"github.com/momo-scheduler/momo/domain/model"
	"github.com/momo-scheduler/momo/internal/testutil"
)

func connectTestInstance(
	t *testing.T,
	jobs *testutil.InMemoryJobRepo,
	executions *testutil.InMemoryExecutionsRepo,
) *Connection {
	t.Helper()

	cfg := config.AppConfig{
		Schedule: config.ScheduleConfig{
			Name:         "momo-test",
			PingInterval: 20 * time.Millisecond,
		},
	}
	conn, err := Connect(context.Background(), Options{
		Config:     &cfg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Jobs:       jobs,
		Executions: executions,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Disconnect(ctx)
	})
	return conn
}

func TestConnectRegistersAndBecomesActive(t *testing.T) {
	jobs := testutil.NewInMemoryJobRepo()
	executions := testutil.NewInMemoryExecutionsRepo()

	conn := connectTestInstance(t, jobs, executions)

	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, "momo-test", conn.Name())
	assert.Equal(t, 1, executions.EntryCount())

	// A lone instance wins the election on the first ping.
	require.Eventually(t, conn.Ping().Active, 2*time.Second, 5*time.Millisecond)

	// Connecting persists nothing in the job store.
	list, err := jobs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConnectedInstanceRunsDefinedJobsAfterTakeover(t *testing.T) {
	jobs := testutil.NewInMemoryJobRepo()
	executions := testutil.NewInMemoryExecutionsRepo()
	ctx := context.Background()

	// Another instance already holds the schedule name.
	require.NoError(t, executions.AddSchedule(ctx, "primary", "momo-test"))

	conn := connectTestInstance(t, jobs, executions)

	var runs atomic.Int64
	job := model.Job{
		Name:        "heartbeat-started",
		Interval:    "0.02 seconds",
		Concurrency: 1,
		Immediate:   true,
	}
	require.NoError(t, conn.DefineJob(ctx, job, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	// The job is never started explicitly. The primary stops heartbeating,
	// this instance takes over, and the takeover callback starts the job.
	require.Eventually(t, func() bool { return runs.Load() >= 1 },
		2*time.Second, 5*time.Millisecond)
	assert.True(t, conn.Ping().Active())
}

func TestDisconnectStopsEverything(t *testing.T) {
	jobs := testutil.NewInMemoryJobRepo()
	executions := testutil.NewInMemoryExecutionsRepo()

	conn := connectTestInstance(t, jobs, executions)
	ctx := context.Background()

	var runs atomic.Int64
	job := model.Job{
		Name:        "short-lived",
		Interval:    "0.02 seconds",
		Concurrency: 1,
		Immediate:   true,
	}
	require.NoError(t, conn.DefineJob(ctx, job, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, conn.Start(ctx, "short-lived"))
	require.Eventually(t, func() bool { return runs.Load() >= 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Disconnect(ctx))

	// The ledger entry is gone and no further executions happen.
	assert.Zero(t, executions.EntryCount())
	settled := runs.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, runs.Load())
}
