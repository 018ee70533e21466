package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/momo-scheduler/momo/domain/model"
	"github.com/momo-scheduler/momo/momoerrors"
	"github.com/momo-scheduler/momo/observability/metrics"
	"github.com/momo-scheduler/momo/observability/statsd"
)

// maxErrorLength bounds the failure message recorded in execution info.
const maxErrorLength = 1000

// Executor runs a single invocation of a job handler and accounts for it in
// the job store and the executions ledger. Counter releases happen on every
// exit path, including handler panics and context cancellation.
type Executor struct {
	scheduleID string
	jobs       JobRepository
	executions ExecutionsRepository
	logger     *slog.Logger
	time       TimeProvider
	metrics    statsd.Sink
}

// ExecutorOptions holds the dependencies for creating an Executor.
type ExecutorOptions struct {
	ScheduleID string
	Jobs       JobRepository
	Executions ExecutionsRepository
	Logger     *slog.Logger
	Time       TimeProvider
	Metrics    statsd.Sink
}

// NewExecutor creates an Executor with the given options.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Time == nil {
		opts.Time = systemTime{}
	}
	return &Executor{
		scheduleID: opts.ScheduleID,
		jobs:       opts.Jobs,
		executions: opts.Executions,
		logger:     opts.Logger,
		time:       opts.Time,
		metrics:    opts.Metrics,
	}
}

// Execute runs one invocation of the job's handler.
//
// Protocol: atomically increment the running counters (aborting with
// maxRunningReached when the cluster cap is hit), invoke the handler, then
// decrement the counters and record the outcome. Bookkeeping errors after a
// successful increment are joined into the returned error but never prevent
// the release of counters; the JobResult is valid either way.
func (e *Executor) Execute(ctx context.Context, job *model.Job, handler model.Handler) (model.JobResult, error) {
	ok, err := e.jobs.IncrementRunning(ctx, job.Name, job.MaxRunning)
	if err != nil {
		return model.JobResult{}, momoerrors.Wrapf(err, momoerrors.CodeInternal,
			"increment running count of job %q", job.Name)
	}
	if !ok {
		return model.JobResult{Status: model.ExecutionMaxRunningReached}, nil
	}

	ledgerTracked := true
	if incErr := e.executions.IncrementExecution(ctx, e.scheduleID, job.Name); incErr != nil {
		// The job-store counter is authoritative; a missed ledger increment
		// only skews this instance's contribution until the next execution.
		ledgerTracked = false
		e.logger.WarnContext(ctx, "increment ledger execution count failed",
			"job", job.Name, "schedule_id", e.scheduleID, "error", incErr)
	}

	started := e.time.Now()
	result := e.invoke(ctx, job.Name, handler)
	finished := e.time.Now()

	releaseErr := e.release(ctx, job.Name, ledgerTracked, model.ExecutionInfo{
		LastStarted:  started,
		LastFinished: finished,
		LastResult:   result,
	})

	metrics.EmitExecution(e.metrics, metrics.ExecutionMetric{
		JobName:  job.Name,
		Status:   string(result.Status),
		Duration: finished.Sub(started),
	})

	if releaseErr != nil {
		return result, momoerrors.Wrapf(releaseErr, momoerrors.CodeInternal,
			"release running count of job %q", job.Name)
	}
	return result, nil
}

// invoke calls the handler, converting errors and panics into a failed result.
func (e *Executor) invoke(ctx context.Context, jobName string, handler model.Handler) (result model.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "job handler panicked", "job", jobName, "panic", r)
			result = failedResult(fmt.Sprintf("handler panic: %v", r))
		}
	}()

	if handler == nil {
		return failedResult("no handler registered")
	}
	if err := handler(ctx); err != nil {
		return failedResult(err.Error())
	}
	return model.JobResult{Status: model.ExecutionFinished}
}

// release decrements the running counters and records the execution outcome.
// It runs detached from the caller's cancellation so a canceled context
// cannot leak a counter increment.
func (e *Executor) release(ctx context.Context, jobName string, ledgerTracked bool, info model.ExecutionInfo) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	if err := e.jobs.DecrementRunning(ctx, jobName); err != nil {
		errs = append(errs, fmt.Errorf("decrement running: %w", err))
	}
	if ledgerTracked {
		if err := e.executions.DecrementExecution(ctx, e.scheduleID, jobName); err != nil {
			errs = append(errs, fmt.Errorf("decrement ledger execution: %w", err))
		}
	}
	if err := e.jobs.UpdateExecutionInfo(ctx, jobName, info); err != nil {
		errs = append(errs, fmt.Errorf("update execution info: %w", err))
	}
	return errors.Join(errs...)
}

func failedResult(message string) model.JobResult {
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}
	return model.JobResult{
		Status: model.ExecutionFailed,
		Error:  message,
	}
}
