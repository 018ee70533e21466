package data

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-scheduler/momo/domain/model"
	"github.com/momo-scheduler/momo/internal/testutil"
	"github.com/momo-scheduler/momo/momoerrors"
)

func TestJobRepo(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewJobRepo(db)
	ctx := context.Background()

	job := &model.Job{
		Name:        "cleanup",
		Interval:    "one minute",
		Concurrency: 2,
		MaxRunning:  4,
		Immediate:   true,
	}
	require.NoError(t, repo.Save(ctx, job))

	t.Run("FindOne returns the stored definition", func(t *testing.T) {
		found, err := repo.FindOne(ctx, "cleanup")
		require.NoError(t, err)
		assert.Equal(t, "one minute", found.Interval)
		assert.Equal(t, 2, found.Concurrency)
		assert.Equal(t, 4, found.MaxRunning)
		assert.True(t, found.Immediate)
		assert.Zero(t, found.Running)
		assert.Nil(t, found.ExecutionInfo)
	})

	t.Run("FindOne of a missing job is jobNotFound", func(t *testing.T) {
		_, err := repo.FindOne(ctx, "missing")
		assert.True(t, momoerrors.IsJobNotFound(err))
	})

	t.Run("Save preserves counters and execution info on redefinition", func(t *testing.T) {
		ok, err := repo.IncrementRunning(ctx, "cleanup", 0)
		require.NoError(t, err)
		require.True(t, ok)

		info := model.ExecutionInfo{
			LastStarted:  time.Now().Add(-time.Second),
			LastFinished: time.Now(),
			LastResult:   model.JobResult{Status: model.ExecutionFinished},
		}
		require.NoError(t, repo.UpdateExecutionInfo(ctx, "cleanup", info))

		redefined := *job
		redefined.Interval = "two minutes"
		require.NoError(t, repo.Save(ctx, &redefined))

		found, err := repo.FindOne(ctx, "cleanup")
		require.NoError(t, err)
		assert.Equal(t, "two minutes", found.Interval)
		assert.Equal(t, 1, found.Running)
		require.NotNil(t, found.ExecutionInfo)
		assert.Equal(t, model.ExecutionFinished, found.ExecutionInfo.LastResult.Status)

		require.NoError(t, repo.DecrementRunning(ctx, "cleanup"))
	})

	t.Run("IncrementRunning stops at the cap", func(t *testing.T) {
		capped := &model.Job{Name: "capped", Interval: "one minute", Concurrency: 1, MaxRunning: 1}
		require.NoError(t, repo.Save(ctx, capped))

		ok, err := repo.IncrementRunning(ctx, "capped", 1)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.IncrementRunning(ctx, "capped", 1)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = repo.IncrementRunning(ctx, "missing", 1)
		assert.True(t, momoerrors.IsJobNotFound(err))
	})

	t.Run("concurrent increments never exceed the cap", func(t *testing.T) {
		shared := &model.Job{Name: "shared", Interval: "one minute", Concurrency: 5, MaxRunning: 5}
		require.NoError(t, repo.Save(ctx, shared))

		var wg sync.WaitGroup
		granted := make(chan struct{}, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.IncrementRunning(ctx, "shared", 5)
				assert.NoError(t, err)
				if ok {
					granted <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(granted)

		assert.Len(t, granted, 5)
		found, err := repo.FindOne(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, 5, found.Running)
	})

	t.Run("DecrementRunning floors at zero", func(t *testing.T) {
		floored := &model.Job{Name: "floored", Interval: "one minute", Concurrency: 1}
		require.NoError(t, repo.Save(ctx, floored))

		require.NoError(t, repo.DecrementRunning(ctx, "floored"))
		found, err := repo.FindOne(ctx, "floored")
		require.NoError(t, err)
		assert.Zero(t, found.Running)
	})

	t.Run("UpdateExecutionInfo records failures with a bounded message", func(t *testing.T) {
		require.NoError(t, repo.UpdateExecutionInfo(ctx, "cleanup", model.ExecutionInfo{
			LastStarted:  time.Now(),
			LastFinished: time.Now(),
			LastResult:   model.JobResult{Status: model.ExecutionFailed, Error: "boom"},
		}))

		found, err := repo.FindOne(ctx, "cleanup")
		require.NoError(t, err)
		require.NotNil(t, found.ExecutionInfo)
		assert.Equal(t, model.ExecutionFailed, found.ExecutionInfo.LastResult.Status)
		assert.Equal(t, "boom", found.ExecutionInfo.LastResult.Error)
	})

	t.Run("List returns jobs ordered by name", func(t *testing.T) {
		jobs, err := repo.List(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, jobs)
		for i := 1; i < len(jobs); i++ {
			assert.Less(t, jobs[i-1].Name, jobs[i].Name)
		}
	})

	t.Run("Delete removes the definition", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "cleanup"))
		_, err := repo.FindOne(ctx, "cleanup")
		assert.True(t, momoerrors.IsJobNotFound(err))

		err = repo.Delete(ctx, "cleanup")
		assert.True(t, momoerrors.IsJobNotFound(err))
	})
}
