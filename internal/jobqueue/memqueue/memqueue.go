// Package memqueue is the in-memory Queue implementation used by tests,
// following the same sync.Mutex-guarded-map style as the teacher's
// Matchmaker (matchmaking/matchmaker.go) rather than pgqueue's SQL.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/jobqueue"
)

// Queue is the in-memory job queue.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]jobqueue.Job
	// scope indexes an outstanding (kind, scope_key) pair to its job id,
	// for dedupe lookups; entries are removed once the job leaves
	// PENDING/IN_PROGRESS.
	scope map[scopeKey]string
}

type scopeKey struct {
	kind     jobqueue.Kind
	scopeKey string
}

// New returns an empty in-memory queue.
func New() *Queue {
	return &Queue{
		jobs:  make(map[string]jobqueue.Job),
		scope: make(map[scopeKey]string),
	}
}

var _ jobqueue.Queue = (*Queue)(nil)

func (q *Queue) Enqueue(_ context.Context, in jobqueue.EnqueueInput) (jobqueue.EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := scopeKey{kind: in.Kind, scopeKey: in.ScopeKey}
	if in.Dedupe {
		if existingID, ok := q.scope[key]; ok {
			existing := q.jobs[existingID]
			if in.RunAt.Before(existing.RunAt) {
				existing.RunAt = in.RunAt
				existing.UpdatedAt = time.Now().UTC()
				q.jobs[existingID] = existing
			}
			return jobqueue.EnqueueResult{JobID: existingID, Enqueued: false}, nil
		}
	}

	now := time.Now().UTC()
	job := jobqueue.Job{
		JobID:     uuid.New().String(),
		Kind:      in.Kind,
		ScopeKey:  in.ScopeKey,
		RunAt:     in.RunAt,
		Status:    jobqueue.StatusPending,
		Payload:   in.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.jobs[job.JobID] = job
	q.scope[key] = job.JobID
	return jobqueue.EnqueueResult{JobID: job.JobID, Enqueued: true}, nil
}

func (q *Queue) Claim(_ context.Context, kind jobqueue.Kind, workerID string, visibilityTimeout time.Duration, batchSize int) ([]jobqueue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	var claimed []jobqueue.Job
	for id, j := range q.jobs {
		if len(claimed) >= batchSize {
			break
		}
		if j.Kind != kind || j.Status != jobqueue.StatusPending {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		lockedAt := now
		j.Status = jobqueue.StatusInProgress
		j.LockedBy = workerID
		j.LockedAt = &lockedAt
		j.VisibilityTimeout = visibilityTimeout
		j.UpdatedAt = now
		q.jobs[id] = j
		claimed = append(claimed, j)
	}
	return claimed, nil
}

func (q *Queue) Complete(_ context.Context, in jobqueue.CompleteInput) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[in.JobID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "job not found")
	}
	if j.LockedBy != in.WorkerID {
		return apperr.New(apperr.KindConflict, "job is not locked by this worker")
	}

	now := time.Now().UTC()
	key := scopeKey{kind: j.Kind, scopeKey: j.ScopeKey}
	if in.Success {
		j.Status = jobqueue.StatusCompleted
		delete(q.scope, key)
	} else if in.RescheduleAt != nil {
		j.Status = jobqueue.StatusPending
		j.RunAt = *in.RescheduleAt
		j.Attempts++
		j.LastError = in.Error
		j.LockedBy = ""
		j.LockedAt = nil
	} else {
		j.Status = jobqueue.StatusFailed
		j.LastError = in.Error
		delete(q.scope, key)
	}
	j.UpdatedAt = now
	q.jobs[in.JobID] = j
	return nil
}

func (q *Queue) SweepExpiredLeases(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	recovered := 0
	for id, j := range q.jobs {
		if j.Status != jobqueue.StatusInProgress || j.LockedAt == nil {
			continue
		}
		if j.LockedAt.Add(j.VisibilityTimeout).Before(now) {
			j.Status = jobqueue.StatusPending
			j.LockedBy = ""
			j.LockedAt = nil
			j.UpdatedAt = time.Now().UTC()
			q.jobs[id] = j
			recovered++
		}
	}
	return recovered, nil
}
