package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/openrating/core/internal/jobqueue"
)

func TestEnqueue_DedupeReusesOutstandingJob(t *testing.T) {
	q := New()
	ctx := context.Background()
	now := time.Now()

	r1, err := q.Enqueue(ctx, jobqueue.EnqueueInput{Kind: jobqueue.KindReplay, ScopeKey: "ladder-1", RunAt: now, Dedupe: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r1.Enqueued {
		t.Fatal("first enqueue should create a new job")
	}

	r2, err := q.Enqueue(ctx, jobqueue.EnqueueInput{Kind: jobqueue.KindReplay, ScopeKey: "ladder-1", RunAt: now.Add(time.Hour), Dedupe: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r2.Enqueued {
		t.Fatal("second enqueue with same scope should reuse the existing job")
	}
	if r2.JobID != r1.JobID {
		t.Fatalf("expected same job id, got %s vs %s", r1.JobID, r2.JobID)
	}
}

func TestClaim_OnlyReturnsDueJobs(t *testing.T) {
	q := New()
	ctx := context.Background()
	now := time.Now()

	q.Enqueue(ctx, jobqueue.EnqueueInput{Kind: jobqueue.KindReplay, ScopeKey: "due", RunAt: now.Add(-time.Minute)})
	q.Enqueue(ctx, jobqueue.EnqueueInput{Kind: jobqueue.KindReplay, ScopeKey: "future", RunAt: now.Add(time.Hour)})

	claimed, err := q.Claim(ctx, jobqueue.KindReplay, "worker-1", time.Minute, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ScopeKey != "due" {
		t.Fatalf("expected exactly the due job to be claimed, got %+v", claimed)
	}
	if claimed[0].Status != jobqueue.StatusInProgress {
		t.Errorf("claimed job should be IN_PROGRESS, got %s", claimed[0].Status)
	}
}

func TestComplete_RescheduleReturnsToQueue(t *testing.T) {
	q := New()
	ctx := context.Background()
	now := time.Now()

	q.Enqueue(ctx, jobqueue.EnqueueInput{Kind: jobqueue.KindReplay, ScopeKey: "scope", RunAt: now.Add(-time.Minute)})
	claimed, _ := q.Claim(ctx, jobqueue.KindReplay, "worker-1", time.Minute, 10)
	job := claimed[0]

	reschedule := now.Add(5 * time.Minute)
	if err := q.Complete(ctx, jobqueue.CompleteInput{JobID: job.JobID, WorkerID: "worker-1", Success: false, Error: "transient", RescheduleAt: &reschedule}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claimedAgain, _ := q.Claim(ctx, jobqueue.KindReplay, "worker-2", time.Minute, 10)
	if len(claimedAgain) != 0 {
		t.Fatalf("rescheduled job should not be due yet, got %+v", claimedAgain)
	}
}

func TestSweepExpiredLeases_RecoversStaleJob(t *testing.T) {
	q := New()
	ctx := context.Background()
	now := time.Now()

	q.Enqueue(ctx, jobqueue.EnqueueInput{Kind: jobqueue.KindInsightRefresh, ScopeKey: "p1", RunAt: now.Add(-time.Minute)})
	claimed, _ := q.Claim(ctx, jobqueue.KindInsightRefresh, "worker-1", time.Second, 10)
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed job, got %d", len(claimed))
	}

	recovered, err := q.SweepExpiredLeases(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered job, got %d", recovered)
	}

	again, _ := q.Claim(ctx, jobqueue.KindInsightRefresh, "worker-2", time.Minute, 10)
	if len(again) != 1 {
		t.Fatalf("swept job should be claimable again, got %d", len(again))
	}
}
