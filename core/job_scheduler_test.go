package core

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

	"github.com/momo-scheduler/momo/domain/model"
	"github.com/momo-scheduler/momo/internal/testutil"
	"github.com/momo-scheduler/momo/momoerrors"
)

type schedulerFixture struct {
	scheduler  *JobScheduler
	jobs       *testutil.InMemoryJobRepo
	executions *testutil.InMemoryExecutionsRepo
}

func newSchedulerFixture(t *testing.T, job model.Job, handler model.Handler) *schedulerFixture {
	t.Helper()

	jobs := testutil.NewInMemoryJobRepo()
	executions := testutil.NewInMemoryExecutionsRepo()
	ctx := context.Background()

	require.NoError(t, jobs.Save(ctx, &job))
	require.NoError(t, executions.AddSchedule(ctx, testScheduleID, "test-schedule"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	executor := NewExecutor(ExecutorOptions{
		ScheduleID: testScheduleID,
		Jobs:       jobs,
		Executions: executions,
		Logger:     logger,
	})
	scheduler := NewJobScheduler(JobSchedulerOptions{
		JobName:  job.Name,
		Jobs:     jobs,
		Executor: executor,
		Handler:  handler,
		Logger:   logger,
	})

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = scheduler.Stop(stopCtx)
	})

	return &schedulerFixture{scheduler: scheduler, jobs: jobs, executions: executions}
}

func fastJob(name string) model.Job {
	return model.Job{
		Name:        name,
		Interval:    "0.02 seconds",
		Concurrency: 1,
		Immediate:   true,
	}
}

func TestJobSchedulerRunsJobPeriodically(t *testing.T) {
	var runs atomic.Int64
	f := newSchedulerFixture(t, fastJob("ticker"), func(context.Context) error {
		runs.Add(1)
		return nil
	})

	require.NoError(t, f.scheduler.Start(context.Background()))
	assert.True(t, f.scheduler.Started())
	assert.Equal(t, 20*time.Millisecond, f.scheduler.Interval())

	require.Eventually(t, func() bool { return runs.Load() >= 3 },
		2*time.Second, 5*time.Millisecond)
}

func TestJobSchedulerImmediateJobFiresWithoutDelay(t *testing.T) {
	fired := make(chan struct{}, 1)
	job := model.Job{
		Name:        "eager",
		Interval:    "one hour",
		Concurrency: 1,
		Immediate:   true,
	}
	f := newSchedulerFixture(t, job, func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	})

	require.NoError(t, f.scheduler.Start(context.Background()))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("immediate job did not fire on start")
	}
}

func TestJobSchedulerStartOnMissingJobIsLoggedNotReturned(t *testing.T) {
	f := newSchedulerFixture(t, fastJob("present"), nil)
	require.NoError(t, f.jobs.Delete(context.Background(), "present"))

	require.NoError(t, f.scheduler.Start(context.Background()))
	assert.False(t, f.scheduler.Started())
}

func TestJobSchedulerStartRejectsMalformedInterval(t *testing.T) {
	f := newSchedulerFixture(t, fastJob("mangled"), nil)

	// Corrupt the stored definition behind the validator's back.
	broken := fastJob("mangled")
	broken.Interval = "every blue moon"
	require.NoError(t, f.jobs.Save(context.Background(), &broken))

	err := f.scheduler.Start(context.Background())
	require.Error(t, err)
	assert.True(t, momoerrors.IsNonParsableInterval(err))
	assert.False(t, f.scheduler.Started())
}

func TestJobSchedulerDoubleStartKeepsSingleTimer(t *testing.T) {
	var runs atomic.Int64
	f := newSchedulerFixture(t, fastJob("single"), func(context.Context) error {
		runs.Add(1)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, f.scheduler.Start(ctx))
	require.NoError(t, f.scheduler.Start(ctx))

	// With one 20ms timer, 100ms yields roughly five runs; a leaked second
	// timer would roughly double that.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, f.scheduler.Stop(ctx))
	assert.LessOrEqual(t, runs.Load(), int64(8))
}

func TestJobSchedulerStopDrainsPendingExecutions(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var finished atomic.Bool

	f := newSchedulerFixture(t, fastJob("slow"), func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		finished.Store(true)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, f.scheduler.Start(ctx))
	<-started

	stopDone := make(chan error, 1)
	go func() { stopDone <- f.scheduler.Stop(ctx) }()

	select {
	case <-stopDone:
		t.Fatal("Stop returned before the pending execution settled")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopDone)
	assert.True(t, finished.Load())
	assert.Zero(t, f.jobs.Running("slow"))
}

func TestJobSchedulerStopWaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f := newSchedulerFixture(t, fastJob("stuck"), func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	defer close(release)

	require.NoError(t, f.scheduler.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.scheduler.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJobSchedulerRespectsMaxRunningAcrossTicks(t *testing.T) {
	job := fastJob("capped")
	job.Concurrency = 3
	job.MaxRunning = 3

	release := make(chan struct{})
	var inFlight, peak atomic.Int64
	f := newSchedulerFixture(t, job, func(context.Context) error {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, f.scheduler.Start(ctx))

	// Let several ticks pass while every execution is blocked; the cap keeps
	// the cluster-wide count at three.
	require.Eventually(t, func() bool { return inFlight.Load() == 3 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(3), peak.Load())
	assert.Equal(t, 3, f.jobs.Running("capped"))

	close(release)
	require.NoError(t, f.scheduler.Stop(ctx))
	assert.Zero(t, f.jobs.Running("capped"))
}

func TestJobSchedulerTickSkipsWhenCapConsumedByPeers(t *testing.T) {
	job := fastJob("shared")
	job.MaxRunning = 2

	var runs atomic.Int64
	f := newSchedulerFixture(t, job, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	// A crashed peer left the counter above the cap.
	f.jobs.SetRunning("shared", 3)

	require.NoError(t, f.scheduler.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestJobSchedulerExecuteOnce(t *testing.T) {
	t.Run("runs the job and returns its result", func(t *testing.T) {
		var runs atomic.Int64
		f := newSchedulerFixture(t, fastJob("adhoc"), func(context.Context) error {
			runs.Add(1)
			return nil
		})

		result, err := f.scheduler.ExecuteOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionFinished, result.Status)
		assert.Equal(t, int64(1), runs.Load())
	})

	t.Run("missing job yields notFound", func(t *testing.T) {
		f := newSchedulerFixture(t, fastJob("ghost"), nil)
		require.NoError(t, f.jobs.Delete(context.Background(), "ghost"))

		result, err := f.scheduler.ExecuteOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionNotFound, result.Status)
	})
}

func TestJobSchedulerCountsUnexpectedErrors(t *testing.T) {
	var runs atomic.Int64
	f := newSchedulerFixture(t, fastJob("brittle"), func(context.Context) error {
		runs.Add(1)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, f.scheduler.Start(ctx))
	f.jobs.FailNext = errors.New("store offline")

	require.Eventually(t, func() bool { return f.scheduler.UnexpectedErrorCount() >= 1 },
		2*time.Second, 5*time.Millisecond)

	// The loop keeps scheduling after the failure.
	require.Eventually(t, func() bool { return runs.Load() >= 1 },
		2*time.Second, 5*time.Millisecond)
}
