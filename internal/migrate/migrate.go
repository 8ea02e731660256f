// Package migrate applies the forward-only SQL migrations embedded in
// migrations/*.sql, tracked in __openrating_migrations(name, applied_at).
// The teacher's storage.go runs a single inline CREATE TABLE IF NOT EXISTS
// bootstrap; SPEC_FULL.md calls this out as its own component, so the
// runner here generalizes that same idempotent-DDL idea into a proper
// forward-only migration ledger plus retrying connect.
package migrate

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openrating/core/internal/obslog"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const trackingTableDDL = `
CREATE TABLE IF NOT EXISTS __openrating_migrations (
	name TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// ConnectWithRetry opens a pool, retrying with exponential backoff (capped
// at maxBackoff) up to maxAttempts times before giving up.
func ConnectWithRetry(ctx context.Context, databaseURL string, maxAttempts int, minBackoff, maxBackoff time.Duration, log *slog.Logger) (*pgxpool.Pool, error) {
	if log == nil {
		log = slog.New(obslog.New(os.Stdout, slog.LevelInfo))
	}
	backoff := minBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pool, err := pgxpool.New(ctx, databaseURL)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				return pool, nil
			} else {
				pool.Close()
				err = pingErr
			}
		}
		lastErr = err
		log.Warn("database connect failed, retrying", obslog.Tag("migrate"), slog.Int("attempt", attempt), slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, errors.Join(errors.New("exhausted connect attempts"), lastErr)
}

// Apply runs every migrations/*.sql file not yet recorded in
// __openrating_migrations, in lexical filename order, each inside its own
// transaction.
func Apply(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	if log == nil {
		log = slog.New(obslog.New(os.Stdout, slog.LevelInfo))
	}
	if _, err := pool.Exec(ctx, trackingTableDDL); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	applied := make(map[string]bool)
	rows, err := pool.Query(ctx, `SELECT name FROM __openrating_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			continue
		}
		sql, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			tx.Rollback(ctx)
			return errors.Join(err, errors.New("applying migration "+name))
		}
		if _, err := tx.Exec(ctx, `INSERT INTO __openrating_migrations (name) VALUES ($1)`, name); err != nil {
			tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Info("applied migration", obslog.Tag("migrate"), slog.String("name", name))
	}
	return nil
}
