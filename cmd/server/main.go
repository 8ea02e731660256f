// Command server is the HTTP edge binary: it wires config, the rating
// store, auth, the job queue, and the live-feed hub into the gin router
// from internal/httpapi and serves spec.md §6's API. Mirrors the
// teacher's main.go bring-up order (load env, load config, construct
// dependencies, start background goroutines, serve) split into its own
// binary since the worker loop now lives in cmd/worker instead of an
// in-process goroutine.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/openrating/core/internal/auth"
	"github.com/openrating/core/internal/authz"
	"github.com/openrating/core/internal/config"
	"github.com/openrating/core/internal/httpapi"
	"github.com/openrating/core/internal/idempotency"
	"github.com/openrating/core/internal/ingest"
	"github.com/openrating/core/internal/jobqueue"
	"github.com/openrating/core/internal/jobqueue/memqueue"
	"github.com/openrating/core/internal/jobqueue/pgqueue"
	"github.com/openrating/core/internal/livefeed"
	"github.com/openrating/core/internal/migrate"
	"github.com/openrating/core/internal/normalize"
	"github.com/openrating/core/internal/obslog"
	"github.com/openrating/core/internal/ratingparams"
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
		logger.Warn("DATABASE_URL not set, running with an in-memory store", obslog.Tag("server"))
		ms := memstore.New()
		ratingStore = ms
		insightStore = ms
		queue = memqueue.New()
	}

	var validator auth.Validator
	var authorizer authz.Authorizer = authz.GrantAuthorizer{}
	switch {
	case cfg.AuthDisable:
		logger.Warn("AUTH_DISABLE=1, all requests are treated as fully authorized", obslog.Tag("server"))
		authorizer = authz.AllowAll{}
	case cfg.Auth0Domain != "":
		v, err := auth.NewJWKSValidator(cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			log.Fatalf("failed to initialize JWKS validator: %v", err)
		}
		validator = v
	case cfg.AuthDevSharedSecret != "":
		validator = auth.NewDevSharedSecretValidator(cfg.AuthDevSharedSecret)
	default:
		logger.Warn("no auth configured (AUTH0_DOMAIN/AUTH_DEV_SHARED_SECRET unset); every /v1 request will be rejected", obslog.Tag("server"))
	}

	reg := normalize.NewRegistry()
	normalize.RegisterDefaults(reg)
	params := ratingparams.FromConfig(cfg)

	coord := &ingest.Coordinator{
		Store: ratingStore, Normalizer: reg, Params: params,
		Authorizer: authorizer, Queue: queue,
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := livefeed.New(logger)
	go hub.Run(ctx)

	srv := &httpapi.Server{
		Store: ratingStore, Insights: insightStore, Coord: coord, Queue: queue,
		Validator: validator, Idempotent: idempotency.New(10 * time.Minute),
		LiveFeed: hub, Log: logger,
		DefaultPageLimit: cfg.DefaultPageLimit, MaxPageLimit: cfg.MaxPageLimit,
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: srv.NewRouter(),
	}

	go func() {
		logger.Info("server listening", obslog.Tag("server"), slog.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down", obslog.Tag("server"))
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
