package data

import (
	"context"
	"database/sql"
	"errors"

	"github.com/momo-scheduler/momo/domain/model"
	"github.com/momo-scheduler/momo/momoerrors"
)

// JobRepo provides PostgreSQL-backed operations on the shared job store.
// Counter updates run as single conditional statements so that concurrent
// schedule instances never observe a torn increment.
type JobRepo struct {
	DB *sql.DB
}

// NewJobRepo creates a new JobRepo instance with the given database connection.
func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{DB: db}
}

const jobColumns = `
  name,
  interval,
  concurrency,
  max_running,
  running,
  immediate,
  last_started,
  last_finished,
  last_status,
  last_error
`

// FindOne returns the job definition for name, or a job_not_found error.
func (r *JobRepo) FindOne(ctx context.Context, name string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM momo_jobs
		WHERE name = $1`, name)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, momoerrors.JobNotFound(name)
		}
		return nil, momoerrors.MapDBError(err)
	}
	return job, nil
}

// Save upserts a job definition keyed by name. The running counter and the
// execution info of an existing row are preserved.
func (r *JobRepo) Save(ctx context.Context, job *model.Job) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO momo_jobs (name, interval, concurrency, max_running, immediate)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			interval = EXCLUDED.interval,
			concurrency = EXCLUDED.concurrency,
			max_running = EXCLUDED.max_running,
			immediate = EXCLUDED.immediate,
			updated_at = now()`,
		job.Name, job.Interval, job.Concurrency, job.MaxRunning, job.Immediate)
	return momoerrors.MapDBError(err)
}

// Delete removes a job definition.
func (r *JobRepo) Delete(ctx context.Context, name string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM momo_jobs WHERE name = $1`, name)
	if err != nil {
		return momoerrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return momoerrors.MapDBError(err)
	}
	if affected == 0 {
		return momoerrors.JobNotFound(name)
	}
	return nil
}

// List returns all job definitions ordered by name.
func (r *JobRepo) List(ctx context.Context) ([]model.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM momo_jobs
		ORDER BY name`)
	if err != nil {
		return nil, momoerrors.MapDBError(err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, momoerrors.MapDBError(scanErr)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, momoerrors.MapDBError(err)
	}
	return jobs, nil
}

// IncrementRunning atomically increments the running counter unless the
// pre-increment value already meets maxRunning (0 means unbounded). Returns
// false without error when the cap is reached.
func (r *JobRepo) IncrementRunning(ctx context.Context, name string, maxRunning int) (bool, error) {
	var running int
	err := r.DB.QueryRowContext(ctx, `
		UPDATE momo_jobs
		SET running = running + 1, updated_at = now()
		WHERE name = $1 AND ($2 <= 0 OR running < $2)
		RETURNING running`, name, maxRunning).Scan(&running)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, momoerrors.MapDBError(err)
	}

	// No row updated: either the cap is reached or the job is gone.
	var exists bool
	if checkErr := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM momo_jobs WHERE name = $1)`, name,
	).Scan(&exists); checkErr != nil {
		return false, momoerrors.MapDBError(checkErr)
	}
	if !exists {
		return false, momoerrors.JobNotFound(name)
	}
	return false, nil
}

// DecrementRunning decrements the running counter, flooring at zero.
func (r *JobRepo) DecrementRunning(ctx context.Context, name string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE momo_jobs
		SET running = GREATEST(running - 1, 0), updated_at = now()
		WHERE name = $1`, name)
	if err != nil {
		return momoerrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return momoerrors.MapDBError(err)
	}
	if affected == 0 {
		return momoerrors.JobNotFound(name)
	}
	return nil
}

// UpdateExecutionInfo records the outcome of the latest execution.
func (r *JobRepo) UpdateExecutionInfo(ctx context.Context, name string, info model.ExecutionInfo) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE momo_jobs
		SET last_started = $2,
			last_finished = $3,
			last_status = $4,
			last_error = NULLIF($5, ''),
			updated_at = now()
		WHERE name = $1`,
		name,
		info.LastStarted.UTC(),
		info.LastFinished.UTC(),
		string(info.LastResult.Status),
		info.LastResult.Error)
	if err != nil {
		return momoerrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return momoerrors.MapDBError(err)
	}
	if affected == 0 {
		return momoerrors.JobNotFound(name)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job          model.Job
		lastStarted  sql.NullTime
		lastFinished sql.NullTime
		lastStatus   sql.NullString
		lastError    sql.NullString
	)
	err := row.Scan(
		&job.Name,
		&job.Interval,
		&job.Concurrency,
		&job.MaxRunning,
		&job.Running,
		&job.Immediate,
		&lastStarted,
		&lastFinished,
		&lastStatus,
		&lastError,
	)
	if err != nil {
		return nil, err
	}

	if lastStatus.Valid {
		job.ExecutionInfo = &model.ExecutionInfo{
			LastStarted:  lastStarted.Time,
			LastFinished: lastFinished.Time,
			LastResult: model.JobResult{
				Status: model.ExecutionStatus(lastStatus.String),
				Error:  lastError.String,
			},
		}
	}
	return &job, nil
}
