// Package jobqueue defines the at-least-once background work queue (C7)
// that backs replay scheduling and insight-snapshot refresh. Two
// implementations exist, mirroring internal/store: memqueue (tests) and
// pgqueue (production, via pgx, using `UPDATE ... RETURNING` with
// `SKIP LOCKED`).
package jobqueue

import (
	"context"
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFailed     Status = "FAILED"
	StatusCompleted  Status = "COMPLETED"
)

// Kind identifies which worker handles a job.
type Kind string

const (
	KindReplay         Kind = "replay"
	KindInsightRefresh Kind = "insight_refresh"
)

// Job is one unit of background work.
type Job struct {
	JobID     string
	Kind      Kind
	ScopeKey  string
	RunAt     time.Time
	Status    Status
	Attempts  int
	LockedBy  string
	LockedAt  *time.Time
	// VisibilityTimeout is the lease duration stamped at claim time; the
	// sweeper promotes a job back to PENDING once LockedAt+VisibilityTimeout
	// has passed.
	VisibilityTimeout time.Duration
	Payload   []byte
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EnqueueInput is the request to Queue.Enqueue.
type EnqueueInput struct {
	Kind     Kind
	ScopeKey string
	RunAt    time.Time
	Payload  []byte
	// Dedupe, when true (the default use in this repo), reuses an
	// outstanding PENDING/IN_PROGRESS job with the same (kind, scope_key)
	// instead of inserting a second one, per §4.5.
	Dedupe bool
}

// EnqueueResult reports whether a new job was created or an existing one
// reused.
type EnqueueResult struct {
	JobID    string
	Enqueued bool
}

// CompleteInput is the request to Queue.Complete.
type CompleteInput struct {
	JobID        string
	WorkerID     string
	Success      bool
	Error        string
	RescheduleAt *time.Time
}

// Queue is the C7 capability interface.
type Queue interface {
	// Enqueue inserts a job, or reuses an outstanding one for the same
	// (kind, scope_key) when Dedupe is set — optionally pulling its run_at
	// earlier if the new request wants it sooner.
	Enqueue(ctx context.Context, in EnqueueInput) (EnqueueResult, error)

	// Claim atomically transitions up to batchSize PENDING jobs of the
	// given kind with run_at <= now into IN_PROGRESS, stamping
	// (locked_by, locked_at).
	Claim(ctx context.Context, kind Kind, workerID string, visibilityTimeout time.Duration, batchSize int) ([]Job, error)

	// Complete finalizes a claimed job: COMPLETED on success; PENDING with
	// a bumped run_at and attempts+1 on failure-with-reschedule; FAILED on
	// failure-without-reschedule.
	Complete(ctx context.Context, in CompleteInput) error

	// SweepExpiredLeases promotes IN_PROGRESS jobs whose
	// locked_at+visibility_timeout has passed back to PENDING. Returns the
	// number of jobs recovered.
	SweepExpiredLeases(ctx context.Context, now time.Time) (int, error)
}

