package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

const jobColumns = `
	id, type, payload, state, user_id, max_attempts, attempts_made,
	backoff, progress, result, last_error, worker_id,
	run_at, started_at, finished_at, heartbeat_at, timeout,
	created_at, updated_at`

// EnqueueJob persists a new job in waiting state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	bo, err := json.Marshal(j.Backoff)
	if err != nil {
		return fmt.Errorf("herald/postgres: encode backoff: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO herald_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19
		)`,
		j.ID.String(), j.Type, j.Payload, string(j.State), j.UserID, j.MaxAttempts, j.AttemptsMade,
		bo, j.Progress, j.Result, j.LastError, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.FinishedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return herald.ErrJobAlreadyExists
		}
		return fmt.Errorf("herald/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit waiting jobs of the given
// types, marks them active and returns them. Uses SELECT FOR UPDATE
// SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueJobs(ctx context.Context, types []string, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE herald_jobs
			SET state = 'active',
			    attempts_made = attempts_made + 1,
			    worker_id = $3,
			    started_at = NOW(),
			    heartbeat_at = NOW(),
			    updated_at = NOW()
			WHERE id IN (
				SELECT id FROM herald_jobs
				WHERE state = 'waiting'
				  AND type = ANY($1)
				  AND run_at <= NOW()
				ORDER BY run_at ASC, created_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY run_at ASC, created_at ASC, id ASC`,
		types, limit, workerID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM herald_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrJobNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	bo, err := json.Marshal(j.Backoff)
	if err != nil {
		return fmt.Errorf("herald/postgres: encode backoff: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE herald_jobs SET
			state = $2, max_attempts = $3, attempts_made = $4, backoff = $5,
			progress = GREATEST(progress, $6), result = $7, last_error = $8,
			worker_id = $9, run_at = $10, started_at = $11, finished_at = $12,
			heartbeat_at = $13, timeout = $14, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), string(j.State), j.MaxAttempts, j.AttemptsMade, bo,
		j.Progress, j.Result, j.LastError,
		j.WorkerID.String(), j.RunAt, j.StartedAt, j.FinishedAt,
		j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrJobNotFound
	}
	return nil
}

// UpdateProgress raises the progress of an active job.
func (s *Store) UpdateProgress(ctx context.Context, jobID id.JobID, pct int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE herald_jobs SET progress = $2, updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND progress < $2`,
		jobID.String(), pct,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: update progress: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM herald_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("herald/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM herald_jobs WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_jobs SET heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM herald_jobs
		WHERE state = 'active'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// PurgeJobs deletes terminal jobs that finished before the cutoff.
func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM herald_jobs
		WHERE state IN ('completed', 'failed') AND finished_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM herald_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		workerStr string
		bo        []byte
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &stateStr, &j.UserID, &j.MaxAttempts, &j.AttemptsMade,
		&bo, &j.Progress, &j.Result, &j.LastError, &workerStr,
		&j.RunAt, &j.StartedAt, &j.FinishedAt, &j.HeartbeatAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	if len(bo) > 0 {
		if err := json.Unmarshal(bo, &j.Backoff); err != nil {
			return nil, fmt.Errorf("herald/postgres: decode backoff: %w", err)
		}
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("herald/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("herald/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
