// Package model contains the domain entities shared by the scheduler core,
// the store adapters, and the public API.
package model

import (
	"context"
	"fmt"
	"time"

	"github.com/momo-scheduler/momo/domain/interval"
	"github.com/momo-scheduler/momo/momoerrors"
)

// Handler is the callable a job invokes on every execution. A non-nil error
// marks the execution as failed; the error text is recorded (length-bounded)
// in the job's execution info.
type Handler func(ctx context.Context) error

// ExecutionStatus classifies the outcome of a single job execution.
type ExecutionStatus string

const (
	// ExecutionFinished indicates the handler returned normally.
	ExecutionFinished ExecutionStatus = "finished"
	// ExecutionFailed indicates the handler returned an error or panicked.
	ExecutionFailed ExecutionStatus = "failed"
	// ExecutionNotFound indicates the job definition disappeared before execution.
	ExecutionNotFound ExecutionStatus = "notFound"
	// ExecutionMaxRunningReached indicates the cluster-wide running cap was hit.
	ExecutionMaxRunningReached ExecutionStatus = "maxRunningReached"
)

// JobResult is the outcome of one execution attempt.
type JobResult struct {
	Status ExecutionStatus `json:"status"`
	// Error carries the failure message for failed executions, empty otherwise.
	Error string `json:"error,omitempty"`
}

// ExecutionInfo records the most recent execution of a job.
type ExecutionInfo struct {
	LastStarted  time.Time `json:"lastStarted"`
	LastFinished time.Time `json:"lastFinished"`
	LastResult   JobResult `json:"lastResult"`
}

// Job is a persisted job definition. Jobs are keyed by Name, unique within a
// job store. The Running counter is maintained by executors and reflects the
// cluster-wide count of in-flight executions.
type Job struct {
	Name string `json:"name"`
	// Interval is the human-readable cadence, e.g. "one minute" or "30 seconds".
	Interval string `json:"interval"`
	// Concurrency is how many executions a single tick may launch on one
	// schedule instance.
	Concurrency int `json:"concurrency"`
	// MaxRunning caps cluster-wide in-flight executions; 0 means unbounded.
	MaxRunning int `json:"maxRunning"`
	Running    int `json:"running"`
	// Immediate makes the first tick fire as soon as scheduling starts.
	Immediate     bool           `json:"immediate"`
	ExecutionInfo *ExecutionInfo `json:"executionInfo,omitempty"`
}

// Validate checks a job definition against the scheduling constraints:
// parseable interval, positive concurrency, non-negative maxRunning, and
// concurrency not exceeding maxRunning when a cap is set.
func (j *Job) Validate() error {
	if j.Name == "" {
		return momoerrors.ValidationField("name", "job name is required")
	}
	if _, err := interval.Parse(j.Interval); err != nil {
		return err
	}
	if j.Concurrency < 1 {
		return momoerrors.InvalidConcurrency(j.Concurrency)
	}
	if j.MaxRunning < 0 {
		return momoerrors.InvalidMaxRunning(fmt.Sprintf("maxRunning must be non-negative, got %d", j.MaxRunning))
	}
	if j.MaxRunning > 0 && j.Concurrency > j.MaxRunning {
		return momoerrors.InvalidMaxRunning(fmt.Sprintf(
			"concurrency (%d) must not exceed maxRunning (%d)", j.Concurrency, j.MaxRunning))
	}
	return nil
}

// ParsedInterval returns the job's interval as a duration.
func (j *Job) ParsedInterval() (time.Duration, error) {
	return interval.Parse(j.Interval)
}

// LastFinished returns the timestamp of the last finished execution, or the
// zero time when the job has never run.
func (j *Job) LastFinished() time.Time {
	if j.ExecutionInfo == nil {
		return time.Time{}
	}
	return j.ExecutionInfo.LastFinished
}

// ScheduleStatus describes the live scheduling state of a started job.
type ScheduleStatus struct {
	// Interval is the parsed cadence the active timer runs on.
	Interval time.Duration `json:"interval"`
	// Running is the cluster-wide count of in-flight executions.
	Running int `json:"running"`
}

// JobDescription is the external view of a job: its definition plus, when
// the job is started on this instance, its schedule status.
type JobDescription struct {
	Job
	Schedule *ScheduleStatus `json:"schedule,omitempty"`
}

// CountFilter narrows Schedule.Count. A nil Started counts every job known
// locally; otherwise only jobs whose started state matches.
type CountFilter struct {
	Started *bool
}
