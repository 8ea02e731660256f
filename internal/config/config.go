// Package config loads tunable server configuration the way the teacher's
// config package does: hardcoded defaults, an optional config.json overlay,
// then environment variable overrides applied field by field.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
)

// RatingParams mirrors ratingparams.Params but lives here too so config.json
// can override tunables without internal/config importing internal/ratingparams
// (kept as plain fields; ratingparams.Params is built from these at startup).
type RatingParams struct {
	BaseMu            float64 `json:"base_mu"`
	BaseSigma         float64 `json:"base_sigma"`
	Beta              float64 `json:"beta"`
	Tau               float64 `json:"tau"`
	SigmaMin          float64 `json:"sigma_min"`
	MovMin            float64 `json:"mov_min"`
	MovMax            float64 `json:"mov_max"`
	SynergyActivation int     `json:"synergy_activation"`
	SynergyK          float64 `json:"synergy_k"`
}

// Config holds all configurable server parameters.
type Config struct {
	DatabaseURL string `json:"-"`

	HTTPPort int `json:"http_port"`

	// Auth
	Auth0Domain         string `json:"-"`
	Auth0Audience       string `json:"-"`
	AuthDevSharedSecret string `json:"-"`
	AuthDisable         bool   `json:"-"`

	// Worker tunables
	WorkerPollIntervalMS       int `json:"worker_poll_interval_ms"`
	WorkerBatchSize            int `json:"worker_batch_size"`
	WorkerVisibilityTimeoutSec int `json:"worker_visibility_timeout_sec"`
	ReplayBackoffMinMS         int `json:"replay_backoff_min_ms"`
	ReplayBackoffMaxMS         int `json:"replay_backoff_max_ms"`

	// Pagination
	DefaultPageLimit int `json:"default_page_limit"`
	MaxPageLimit     int `json:"max_page_limit"`

	Rating RatingParams `json:"rating"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		HTTPPort:                   8080,
		WorkerPollIntervalMS:       500,
		WorkerBatchSize:            10,
		WorkerVisibilityTimeoutSec: 30,
		ReplayBackoffMinMS:         250,
		ReplayBackoffMaxMS:         5000,
		DefaultPageLimit:           50,
		MaxPageLimit:               200,
		Rating: RatingParams{
			BaseMu:            1500,
			BaseSigma:         350,
			Beta:              200,
			Tau:               4,
			SigmaMin:          40,
			MovMin:            0.5,
			MovMax:            1.8,
			SynergyActivation: 3,
			SynergyK:          16,
		},
	}
}

// Load reads configuration from an optional config.json file, then applies
// environment variable overrides. Fields not set in either source retain
// their default values.
func Load() *Config {
	cfg := Defaults()

	if f, err := os.Open("config.json"); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			log.Printf("Warning: failed to parse config.json: %v", err)
		}
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.AuthDevSharedSecret = os.Getenv("AUTH_DEV_SHARED_SECRET")
	cfg.AuthDisable = os.Getenv("AUTH_DISABLE") == "1"

	overrideInt(&cfg.HTTPPort, "HTTP_PORT")
	overrideInt(&cfg.WorkerPollIntervalMS, "WORKER_POLL_INTERVAL_MS")
	overrideInt(&cfg.WorkerBatchSize, "WORKER_BATCH_SIZE")
	overrideInt(&cfg.WorkerVisibilityTimeoutSec, "WORKER_VISIBILITY_TIMEOUT_SEC")
	overrideInt(&cfg.ReplayBackoffMinMS, "REPLAY_BACKOFF_MIN_MS")
	overrideInt(&cfg.ReplayBackoffMaxMS, "REPLAY_BACKOFF_MAX_MS")
	overrideInt(&cfg.DefaultPageLimit, "DEFAULT_PAGE_LIMIT")
	overrideInt(&cfg.MaxPageLimit, "MAX_PAGE_LIMIT")

	overrideFloat(&cfg.Rating.BaseMu, "RATING_BASE_MU")
	overrideFloat(&cfg.Rating.BaseSigma, "RATING_BASE_SIGMA")
	overrideFloat(&cfg.Rating.Beta, "RATING_BETA")
	overrideFloat(&cfg.Rating.Tau, "RATING_TAU")
	overrideFloat(&cfg.Rating.SigmaMin, "RATING_SIGMA_MIN")
	overrideFloat(&cfg.Rating.MovMin, "RATING_MOV_MIN")
	overrideFloat(&cfg.Rating.MovMax, "RATING_MOV_MAX")
	overrideInt(&cfg.Rating.SynergyActivation, "RATING_SYNERGY_ACTIVATION")
	overrideFloat(&cfg.Rating.SynergyK, "RATING_SYNERGY_K")

	return cfg
}

func overrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*field = n
		} else {
			log.Printf("Warning: invalid value for %s: %q", envKey, val)
		}
	}
}

func overrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			*field = n
		} else {
			log.Printf("Warning: invalid value for %s: %q", envKey, val)
		}
	}
}
