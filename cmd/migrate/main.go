// Command migrate applies pending SQL migrations to DATABASE_URL and exits.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/openrating/core/internal/migrate"
)

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := migrate.ConnectWithRetry(ctx, databaseURL, 10, 250*time.Millisecond, 5*time.Second, nil)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	if err := migrate.Apply(ctx, pool, nil); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrations applied")
}
