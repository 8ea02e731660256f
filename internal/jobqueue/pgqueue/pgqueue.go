// Package pgqueue is the Postgres-backed jobqueue.Queue, implementing
// claim as a single `UPDATE ... RETURNING` with `SKIP LOCKED` per
// spec.md §4.5, grounded in the teacher's pgx transaction/query style
// (storage/storage.go).
package pgqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/jobqueue"
)

// Queue is the pgx-backed jobqueue.Queue implementation.
type Queue struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. cmd/server and cmd/worker pass it the pool
// opened for migrations; pgstore.New opens a second pool of its own, so
// the store and the queue do not share one pool.
func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

var _ jobqueue.Queue = (*Queue)(nil)

func (q *Queue) Enqueue(ctx context.Context, in jobqueue.EnqueueInput) (jobqueue.EnqueueResult, error) {
	runAt := in.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	if in.Dedupe {
		var existingID string
		var existingRunAt time.Time
		err := q.pool.QueryRow(ctx, `
			SELECT job_id, run_at FROM jobs
			WHERE kind = $1 AND scope_key = $2 AND status IN ('PENDING', 'IN_PROGRESS')
			LIMIT 1`, in.Kind, in.ScopeKey).Scan(&existingID, &existingRunAt)
		if err == nil {
			if runAt.Before(existingRunAt) {
				if _, err := q.pool.Exec(ctx, `UPDATE jobs SET run_at = $2, updated_at = now() WHERE job_id = $1`, existingID, runAt); err != nil {
					return jobqueue.EnqueueResult{}, apperr.Internal(err)
				}
			}
			return jobqueue.EnqueueResult{JobID: existingID, Enqueued: false}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return jobqueue.EnqueueResult{}, apperr.Internal(err)
		}
	}

	jobID := uuid.New().String()
	_, err := q.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, kind, scope_key, run_at, status, attempts, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'PENDING', 0, $5, now(), now())`,
		jobID, in.Kind, in.ScopeKey, runAt, in.Payload)
	if err != nil {
		// A unique_violation on the outstanding-job partial index means a
		// concurrent enqueue raced us; treat it like a dedupe hit.
		var existingID string
		lookupErr := q.pool.QueryRow(ctx, `
			SELECT job_id FROM jobs WHERE kind = $1 AND scope_key = $2 AND status IN ('PENDING', 'IN_PROGRESS') LIMIT 1`,
			in.Kind, in.ScopeKey).Scan(&existingID)
		if lookupErr == nil {
			return jobqueue.EnqueueResult{JobID: existingID, Enqueued: false}, nil
		}
		return jobqueue.EnqueueResult{}, apperr.Internal(err)
	}
	return jobqueue.EnqueueResult{JobID: jobID, Enqueued: true}, nil
}

func (q *Queue) Claim(ctx context.Context, kind jobqueue.Kind, workerID string, visibilityTimeout time.Duration, batchSize int) ([]jobqueue.Job, error) {
	now := time.Now().UTC()
	rows, err := q.pool.Query(ctx, `
		UPDATE jobs SET status = 'IN_PROGRESS', locked_by = $1, locked_at = $2, visibility_timeout_seconds = $3, updated_at = $2
		WHERE job_id IN (
			SELECT job_id FROM jobs
			WHERE kind = $4 AND status = 'PENDING' AND run_at <= $2
			ORDER BY run_at, job_id
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id, kind, scope_key, run_at, status, attempts, COALESCE(locked_by, ''), locked_at, visibility_timeout_seconds, payload, COALESCE(last_error, ''), created_at, updated_at`,
		workerID, now, int(visibilityTimeout.Seconds()), string(kind), batchSize)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()

	var out []jobqueue.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (jobqueue.Job, error) {
	var j jobqueue.Job
	var kind, status string
	var visibilitySeconds int
	err := row.Scan(&j.JobID, &kind, &j.ScopeKey, &j.RunAt, &status, &j.Attempts,
		&j.LockedBy, &j.LockedAt, &visibilitySeconds, &j.Payload, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return jobqueue.Job{}, err
	}
	j.Kind = jobqueue.Kind(kind)
	j.Status = jobqueue.Status(status)
	j.VisibilityTimeout = time.Duration(visibilitySeconds) * time.Second
	return j, nil
}

func (q *Queue) Complete(ctx context.Context, in jobqueue.CompleteInput) error {
	var lockedBy *string
	err := q.pool.QueryRow(ctx, `SELECT locked_by FROM jobs WHERE job_id = $1`, in.JobID).Scan(&lockedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, "job not found")
		}
		return apperr.Internal(err)
	}
	if lockedBy == nil || *lockedBy != in.WorkerID {
		return apperr.New(apperr.KindConflict, "job is not locked by this worker")
	}

	if in.Success {
		if _, err := q.pool.Exec(ctx, `UPDATE jobs SET status = 'COMPLETED', locked_by = NULL, locked_at = NULL, updated_at = now() WHERE job_id = $1`, in.JobID); err != nil {
			return apperr.Internal(err)
		}
		return nil
	}
	if in.RescheduleAt != nil {
		_, err := q.pool.Exec(ctx, `
			UPDATE jobs SET status = 'PENDING', run_at = $2, attempts = attempts + 1, last_error = $3,
				locked_by = NULL, locked_at = NULL, updated_at = now()
			WHERE job_id = $1`, in.JobID, *in.RescheduleAt, in.Error)
		if err != nil {
			return apperr.Internal(err)
		}
		return nil
	}
	_, err = q.pool.Exec(ctx, `
		UPDATE jobs SET status = 'FAILED', attempts = attempts + 1, last_error = $2, locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE job_id = $1`, in.JobID, in.Error)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (q *Queue) SweepExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = 'PENDING', locked_by = NULL, locked_at = NULL, updated_at = $1
		WHERE status = 'IN_PROGRESS' AND locked_at + (visibility_timeout_seconds || ' seconds')::interval < $1`, now)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return int(tag.RowsAffected()), nil
}
