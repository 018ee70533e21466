// Package core provides the scheduling engine of momo: the interval timer,
// the job executor, and the per-job scheduler, together with the repository
// ports they depend on. All cross-instance coordination flows through the
// two repositories; the engine holds no shared state beyond its own timers
// and pending sets.
package core

import (
	"context"
	"time"

	"github.com/momo-scheduler/momo/domain/model"
)

// JobRepository is the shared job store. Implementations must be safe for
// concurrent use across schedule instances; counter updates must be atomic.
type JobRepository interface {
	// FindOne returns the job definition for name, or a job_not_found error.
	FindOne(ctx context.Context, name string) (*model.Job, error)

	// Save upserts a job definition keyed by name. On redefinition the
	// running counter and execution info of the existing row are preserved.
	Save(ctx context.Context, job *model.Job) error

	// Delete removes a job definition. Deleting an absent job is a
	// job_not_found error.
	Delete(ctx context.Context, name string) error

	// List returns all job definitions.
	List(ctx context.Context) ([]model.Job, error)

	// IncrementRunning atomically increments the running counter unless the
	// pre-increment value already meets maxRunning (0 means unbounded).
	// Returns false without error when the cap is reached.
	IncrementRunning(ctx context.Context, name string, maxRunning int) (bool, error)

	// DecrementRunning decrements the running counter, flooring at zero.
	DecrementRunning(ctx context.Context, name string) error

	// UpdateExecutionInfo records the outcome of the latest execution.
	UpdateExecutionInfo(ctx context.Context, name string, info model.ExecutionInfo) error
}

// ExecutionsRepository is the shared executions ledger: live schedule
// instances, their heartbeats, and per-job running counts.
type ExecutionsRepository interface {
	// AddSchedule registers a schedule instance under the given logical name
	// with a fresh heartbeat.
	AddSchedule(ctx context.Context, scheduleID, name string) error

	// IsActiveSchedule reports whether scheduleID is the active holder of
	// name. Among entries whose heartbeat is within deadAfter, the winner is
	// the earliest registration, ties broken by lexicographic scheduleID.
	// When no live entry exists the caller claims ownership as a side effect.
	IsActiveSchedule(ctx context.Context, scheduleID, name string, deadAfter time.Duration) (bool, error)

	// Ping refreshes the heartbeat of scheduleID to now.
	Ping(ctx context.Context, scheduleID string) error

	// Remove deletes the ledger entry of scheduleID.
	Remove(ctx context.Context, scheduleID string) error

	// RemoveDead deletes entries under name whose heartbeat is older than
	// olderThan, returning how many were deleted.
	RemoveDead(ctx context.Context, name string, olderThan time.Time) (int, error)

	// IncrementExecution adds one to the running count scheduleID contributes
	// for jobName.
	IncrementExecution(ctx context.Context, scheduleID, jobName string) error

	// DecrementExecution removes one from the running count scheduleID
	// contributes for jobName, flooring at zero.
	DecrementExecution(ctx context.Context, scheduleID, jobName string) error

	// CountRunning sums the running counts for jobName across entries whose
	// heartbeat is within deadAfter.
	CountRunning(ctx context.Context, jobName string, deadAfter time.Duration) (int, error)
}

// TimeProvider supplies the current time; it exists so tests can control the
// clock the delay calculation and executor see.
type TimeProvider interface {
	Now() time.Time
}

// systemTime is the default TimeProvider.
type systemTime struct{}

func (systemTime) Now() time.Time { return time.Now() }
