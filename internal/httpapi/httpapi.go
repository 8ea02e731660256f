// Package httpapi wires the rating engine's HTTP edge (§6 of spec.md)
// using gin — the teacher's own api.Handler is a bare net/http mux with no
// param routing, insufficient for paths like /v1/matches/:id; gin is the
// pack's router of choice. Handlers translate between JSON and the
// internal ingest/replay/store/insights types and map apperr.Kind to
// status codes in exactly one place (mapError).
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/auth"
	"github.com/openrating/core/internal/idempotency"
	"github.com/openrating/core/internal/ingest"
	"github.com/openrating/core/internal/jobqueue"
	"github.com/openrating/core/internal/livefeed"
	"github.com/openrating/core/internal/obslog"
	"github.com/openrating/core/internal/store"
)

// Version is surfaced by /health; set at build time in a real release
// pipeline, hardcoded here like the teacher hardcodes its own constants.
const Version = "0.1.0"

// Server bundles every collaborator a handler needs. One Server backs the
// whole router; there is no per-request state beyond *gin.Context.
type Server struct {
	Store      store.RatingStore
	Insights   store.InsightStore
	Coord      *ingest.Coordinator
	Queue      jobqueue.Queue
	Validator  auth.Validator
	Idempotent *idempotency.Cache
	LiveFeed   *livefeed.Hub
	Log        *slog.Logger

	DefaultPageLimit int
	MaxPageLimit     int
}

// NewRouter builds the gin engine with every route from spec.md §6 plus
// the admin telemetry endpoint supplemented in SPEC_FULL.md.
func (s *Server) NewRouter() *gin.Engine {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/ws/ratings", s.handleLiveFeed)

	v1 := r.Group("/v1")
	v1.Use(s.authenticate())

	v1.POST("/organizations", s.handleCreateOrganization)
	v1.GET("/organizations", s.handleListOrganizations)
	v1.GET("/organizations/:org", s.handleGetOrganization)
	v1.PATCH("/organizations/:org", s.handleUpdateOrganization)
	v1.GET("/organizations/:org/telemetry", s.handleTelemetry)

	v1.POST("/players", s.handleCreatePlayer)

	v1.POST("/matches", s.handleCreateMatch)
	v1.GET("/matches", s.handleListMatches)
	v1.GET("/matches/:id", s.handleGetMatch)
	v1.PATCH("/matches/:id", s.handleUpdateMatch)

	v1.GET("/organizations/:org/players/:p/rating-events", s.handleListRatingEvents)
	v1.GET("/organizations/:org/players/:p/rating-events/:event_id", s.handleGetRatingEvent)
	v1.GET("/organizations/:org/players/:p/rating-snapshot", s.handleRatingSnapshot)
	v1.GET("/organizations/:org/players/:p/insights", s.handleInsights)

	v1.GET("/leaderboards", s.handleLeaderboard)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Log.Info("request",
			obslog.Tag("httpapi"),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// mapError writes the JSON error body spec.md §7 requires and picks the
// HTTP status from apperr.Kind in the one place this repo does that
// mapping.
func mapError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		c.JSON(500, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	status := 500
	switch e.Kind {
	case apperr.KindValidation, apperr.KindUnsupportedFormat, apperr.KindInvalidPlayers, apperr.KindInvalidOrganization:
		status = 400
	case apperr.KindMissingToken, apperr.KindInvalidToken:
		status = 401
	case apperr.KindInsufficientScope, apperr.KindInsufficientGrants:
		status = 403
	case apperr.KindNotFound:
		status = 404
	case apperr.KindConflict:
		status = 409
	case apperr.KindInternal:
		status = 500
	}
	body := gin.H{"error": string(e.Kind), "message": e.Message}
	if e.Details != nil {
		body["details"] = e.Details
	}
	c.JSON(status, body)
}

func (s *Server) pageLimit(c *gin.Context) int {
	limit := s.DefaultPageLimit
	if limit == 0 {
		limit = 50
	}
	max := s.MaxPageLimit
	if max == 0 {
		max = 200
	}
	if q := c.Query("limit"); q != "" {
		if n, err := parseInt(q); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func parseInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, apperr.New(apperr.KindValidation, "not a number")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
