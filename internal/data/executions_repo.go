package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/momo-scheduler/momo/momoerrors"
)

// ExecutionsRepo provides PostgreSQL-backed operations on the shared
// executions ledger. Per-job running counts live in a JSONB column keyed by
// job name; counter updates run as single statements.
type ExecutionsRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewExecutionsRepo creates a new ExecutionsRepo instance with the given
// database connection.
func NewExecutionsRepo(db *sql.DB) *ExecutionsRepo {
	return &ExecutionsRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewExecutionsRepoWithTimeProvider creates an ExecutionsRepo with a custom
// TimeProvider (useful for testing liveness windows).
func NewExecutionsRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ExecutionsRepo {
	return &ExecutionsRepo{DB: db, timeProvider: tp}
}

// AddSchedule registers a schedule instance under the given logical name.
// Re-registering an existing scheduleID is a no-op.
func (r *ExecutionsRepo) AddSchedule(ctx context.Context, scheduleID, name string) error {
	now := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO momo_executions (schedule_id, schedule_name, registered_at, last_alive)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (schedule_id) DO NOTHING`,
		scheduleID, name, now)
	return momoerrors.MapDBError(err)
}

// IsActiveSchedule reports whether scheduleID is the active holder of name.
// Among entries with a heartbeat within deadAfter, the earliest registration
// wins, ties broken by lexicographic scheduleID. The caller's entry is
// re-registered when absent; when no live entry exists at all, the caller
// claims ownership by refreshing its own heartbeat.
//
// The read and the claim are not one atomic step; two instances racing for a
// vacant name may both see themselves active for one ping interval. That is
// acceptable because starting jobs is idempotent and the next election
// converges on a single winner.
func (r *ExecutionsRepo) IsActiveSchedule(
	ctx context.Context,
	scheduleID, name string,
	deadAfter time.Duration,
) (bool, error) {
	if err := r.AddSchedule(ctx, scheduleID, name); err != nil {
		return false, err
	}

	cutoff := r.timeProvider.Now().Add(-deadAfter).UTC()
	var winner string
	err := r.DB.QueryRowContext(ctx, `
		SELECT schedule_id
		FROM momo_executions
		WHERE schedule_name = $1 AND last_alive > $2
		ORDER BY registered_at ASC, schedule_id ASC
		LIMIT 1`, name, cutoff).Scan(&winner)
	if errors.Is(err, sql.ErrNoRows) {
		// Everyone is stale, ourselves included; claim the name.
		if pingErr := r.Ping(ctx, scheduleID); pingErr != nil {
			return false, pingErr
		}
		return true, nil
	}
	if err != nil {
		return false, momoerrors.MapDBError(err)
	}
	return winner == scheduleID, nil
}

// Ping refreshes the heartbeat of scheduleID.
func (r *ExecutionsRepo) Ping(ctx context.Context, scheduleID string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE momo_executions
		SET last_alive = $2
		WHERE schedule_id = $1`,
		scheduleID, r.timeProvider.Now().UTC())
	return momoerrors.MapDBError(err)
}

// Remove deletes the ledger entry of scheduleID.
func (r *ExecutionsRepo) Remove(ctx context.Context, scheduleID string) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM momo_executions WHERE schedule_id = $1`, scheduleID)
	return momoerrors.MapDBError(err)
}

// RemoveDead deletes entries under name whose heartbeat is older than
// olderThan, returning how many were deleted.
func (r *ExecutionsRepo) RemoveDead(ctx context.Context, name string, olderThan time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM momo_executions
		WHERE schedule_name = $1 AND last_alive < $2`,
		name, olderThan.UTC())
	if err != nil {
		return 0, momoerrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, momoerrors.MapDBError(err)
	}
	return int(affected), nil
}

// IncrementExecution adds one to the running count scheduleID contributes
// for jobName.
func (r *ExecutionsRepo) IncrementExecution(ctx context.Context, scheduleID, jobName string) error {
	return r.bumpExecution(ctx, scheduleID, jobName, `
		UPDATE momo_executions
		SET executions = jsonb_set(
			executions,
			ARRAY[$2],
			(COALESCE((executions ->> $2)::int, 0) + 1)::text::jsonb
		)
		WHERE schedule_id = $1`)
}

// DecrementExecution removes one from the running count scheduleID
// contributes for jobName, flooring at zero.
func (r *ExecutionsRepo) DecrementExecution(ctx context.Context, scheduleID, jobName string) error {
	return r.bumpExecution(ctx, scheduleID, jobName, `
		UPDATE momo_executions
		SET executions = jsonb_set(
			executions,
			ARRAY[$2],
			GREATEST(COALESCE((executions ->> $2)::int, 0) - 1, 0)::text::jsonb
		)
		WHERE schedule_id = $1`)
}

func (r *ExecutionsRepo) bumpExecution(ctx context.Context, scheduleID, jobName, query string) error {
	res, err := r.DB.ExecContext(ctx, query, scheduleID, jobName)
	if err != nil {
		return momoerrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return momoerrors.MapDBError(err)
	}
	if affected == 0 {
		return momoerrors.Internalf("schedule %q not registered", scheduleID)
	}
	return nil
}

// CountRunning sums the running counts for jobName across entries whose
// heartbeat is within deadAfter.
func (r *ExecutionsRepo) CountRunning(ctx context.Context, jobName string, deadAfter time.Duration) (int, error) {
	cutoff := r.timeProvider.Now().Add(-deadAfter).UTC()
	var total int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM((executions ->> $1)::int), 0)
		FROM momo_executions
		WHERE jsonb_exists(executions, $1) AND last_alive > $2`,
		jobName, cutoff).Scan(&total)
	if err != nil {
		return 0, momoerrors.MapDBError(err)
	}
	return total, nil
}
