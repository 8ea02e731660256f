// Command worker is the background job processor (C7): it polls the job
// queue for replay and insight-refresh work enqueued by cmd/server's
// ingest.Coordinator and runs C6/C8 against it. A separate binary from
// cmd/server because spec.md's worker is a distinct long-lived process,
// unlike the teacher's matchmaker which runs as a goroutine inside its one
// main.go.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/openrating/core/internal/config"
	"github.com/openrating/core/internal/insights"
	"github.com/openrating/core/internal/jobqueue"
	"github.com/openrating/core/internal/jobqueue/memqueue"
	"github.com/openrating/core/internal/jobqueue/pgqueue"
	"github.com/openrating/core/internal/migrate"
	"github.com/openrating/core/internal/normalize"
	"github.com/openrating/core/internal/obslog"
	"github.com/openrating/core/internal/ratingparams"
	"github.com/openrating/core/internal/replay"
	"github.com/openrating/core/internal/store"
	"github.com/openrating/core/internal/store/memstore"
	"github.com/openrating/core/internal/store/pgstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Print("No .env file found; using environment variables")
	}

	cfg := config.Load()
	logger := slog.New(obslog.New(os.Stdout, slog.LevelInfo))

	var ratingStore store.RatingStore
	var insightStore store.InsightStore
	var queue jobqueue.Queue

	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		pool, err := migrate.ConnectWithRetry(connectCtx, cfg.DatabaseURL, 10, 250*time.Millisecond, 5*time.Second, logger)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		if err := migrate.Apply(context.Background(), pool, logger); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		pg, err := pgstore.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open pgstore: %v", err)
		}
		ratingStore = pg
		insightStore = pg
		queue = pgqueue.New(pool)
	} else {
		logger.Warn("DATABASE_URL not set, running with an in-memory store", obslog.Tag("worker"))
		ms := memstore.New()
		ratingStore = ms
		insightStore = ms
		queue = memqueue.New()
	}

	reg := normalize.NewRegistry()
	normalize.RegisterDefaults(reg)
	params := ratingparams.FromConfig(cfg)

	replayEngine := &replay.Engine{Store: ratingStore, Normalizer: reg, Params: params}
	insightBuilder := &insights.Builder{Store: ratingStore}

	workerID := uuid.NewString()
	visibility := time.Duration(cfg.WorkerVisibilityTimeoutSec) * time.Second
	pollInterval := time.Duration(cfg.WorkerPollIntervalMS) * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutting down", obslog.Tag("worker"))
		cancel()
	}()

	go sweepLoop(ctx, queue, logger)

	logger.Info("worker started", obslog.Tag("worker"), slog.String("worker_id", workerID))
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped", obslog.Tag("worker"))
			return
		case <-ticker.C:
			processBatch(ctx, queue, ratingStore, insightStore, replayEngine, insightBuilder, workerID, visibility, cfg.WorkerBatchSize, cfg.ReplayBackoffMinMS, cfg.ReplayBackoffMaxMS, logger)
		}
	}
}

func sweepLoop(ctx context.Context, queue jobqueue.Queue, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queue.SweepExpiredLeases(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn("lease sweep failed", obslog.Tag("worker"), slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("recovered expired leases", obslog.Tag("worker"), slog.Int("count", n))
			}
		}
	}
}

func processBatch(ctx context.Context, queue jobqueue.Queue, ratingStore store.RatingStore, insightStore store.InsightStore, replayEngine *replay.Engine, insightBuilder *insights.Builder, workerID string, visibility time.Duration, batchSize, backoffMinMS, backoffMaxMS int, logger *slog.Logger) {
	for _, kind := range []jobqueue.Kind{jobqueue.KindReplay, jobqueue.KindInsightRefresh} {
		jobs, err := queue.Claim(ctx, kind, workerID, visibility, batchSize)
		if err != nil {
			logger.Warn("claim failed", obslog.Tag("worker"), slog.String("kind", string(kind)), slog.String("error", err.Error()))
			continue
		}
		for _, job := range jobs {
			runJob(ctx, job, queue, ratingStore, insightStore, replayEngine, insightBuilder, workerID, backoffMinMS, backoffMaxMS, logger)
		}
	}
}

func runJob(ctx context.Context, job jobqueue.Job, queue jobqueue.Queue, ratingStore store.RatingStore, insightStore store.InsightStore, replayEngine *replay.Engine, insightBuilder *insights.Builder, workerID string, backoffMinMS, backoffMaxMS int, logger *slog.Logger) {
	var runErr error
	switch job.Kind {
	case jobqueue.KindReplay:
		report, err := replayEngine.Replay(ctx, replay.Input{LadderID: job.ScopeKey})
		runErr = err
		if err == nil {
			logger.Info("replay complete", obslog.Tag("worker"),
				slog.String("ladder_id", job.ScopeKey),
				slog.Int("matches_processed", report.MatchesProcessed),
				slog.Int("players_touched", report.PlayersTouched))
		}
	case jobqueue.KindInsightRefresh:
		runErr = runInsightRefresh(ctx, job.ScopeKey, insightBuilder, insightStore)
	default:
		runErr = nil
	}

	if runErr == nil {
		if err := queue.Complete(ctx, jobqueue.CompleteInput{JobID: job.JobID, WorkerID: workerID, Success: true}); err != nil {
			logger.Error("failed to mark job complete", obslog.Tag("worker"), slog.String("job_id", job.JobID), slog.String("error", err.Error()))
		}
		return
	}

	logger.Warn("job failed", obslog.Tag("worker"), slog.String("job_id", job.JobID), slog.String("kind", string(job.Kind)), slog.String("error", runErr.Error()))
	backoff := backoffFor(job.Attempts, backoffMinMS, backoffMaxMS)
	rescheduleAt := time.Now().UTC().Add(backoff)
	if err := queue.Complete(ctx, jobqueue.CompleteInput{
		JobID: job.JobID, WorkerID: workerID, Success: false,
		Error: runErr.Error(), RescheduleAt: &rescheduleAt,
	}); err != nil {
		logger.Error("failed to reschedule job", obslog.Tag("worker"), slog.String("job_id", job.JobID), slog.String("error", err.Error()))
	}
}

func runInsightRefresh(ctx context.Context, scopeKey string, builder *insights.Builder, insightStore store.InsightStore) error {
	organizationID, playerID, ok := strings.Cut(scopeKey, "|")
	if !ok {
		return nil
	}
	snap, err := builder.Build(ctx, organizationID, playerID, "", "", time.Now().UTC())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return insightStore.UpsertInsightSnapshot(ctx, store.InsightSnapshot{
		OrganizationID: organizationID,
		PlayerID:       playerID,
		Snapshot:       payload,
		Digest:         snap.CacheKeys.Digest,
		ComputedAt:     time.Now().UTC(),
	})
}

// backoffFor implements the exponential backoff the teacher applies to
// matchmaking retries, bounded between the configured min and max.
func backoffFor(attempts, minMS, maxMS int) time.Duration {
	ms := minMS
	for i := 0; i < attempts && ms < maxMS; i++ {
		ms *= 2
	}
	if ms > maxMS {
		ms = maxMS
	}
	if ms < minMS {
		ms = minMS
	}
	return time.Duration(ms) * time.Millisecond
}
