package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/ingest"
	"github.com/openrating/core/internal/jobqueue"
	"github.com/openrating/core/internal/livefeed"
	"github.com/openrating/core/internal/normalize"
	"github.com/openrating/core/internal/store"
)

type matchSideRequest struct {
	Players []string `json:"players"`
}

type matchGameRequest struct {
	GameNo int `json:"game_no"`
	A      int `json:"a"`
	B      int `json:"b"`
}

type matchRequest struct {
	ProviderID     string                      `json:"provider_id"`
	ExternalRef    string                      `json:"external_ref"`
	OrganizationID string                      `json:"organization_id"`
	Sport          string                      `json:"sport"`
	Discipline     string                      `json:"discipline"`
	Format         string                      `json:"format"`
	Tier           string                      `json:"tier"`
	RegionID       string                      `json:"region_id"`
	StartTime      time.Time                   `json:"start_time"`
	Sides          map[string]matchSideRequest `json:"sides"`
	Games          []matchGameRequest          `json:"games"`
	EventID        string                      `json:"event_id"`
	CompetitionID  string                      `json:"competition_id"`
	VenueID        string                      `json:"venue_id"`
}

type ratingResultResponse struct {
	PlayerID         string  `json:"player_id"`
	RatingEventID    string  `json:"rating_event_id"`
	MuBefore         float64 `json:"mu_before"`
	MuAfter          float64 `json:"mu_after"`
	Delta            float64 `json:"delta"`
	SigmaAfter       float64 `json:"sigma_after"`
	WinProbabilityPre float64 `json:"win_probability_pre"`
}

type matchResponse struct {
	MatchID        string                 `json:"match_id"`
	OrganizationID string                 `json:"organization_id"`
	EventID        string                 `json:"event_id,omitempty"`
	RatingStatus   string                 `json:"rating_status"`
	SkipReason     string                 `json:"rating_skip_reason,omitempty"`
	Ratings        []ratingResultResponse `json:"ratings"`
}

func toMatchResponse(orgID string, res ingest.Result) matchResponse {
	out := matchResponse{
		MatchID: res.MatchID, OrganizationID: orgID, RatingStatus: string(res.RatingStatus),
		Ratings: make([]ratingResultResponse, len(res.RatingEvents)),
	}
	for i, e := range res.RatingEvents {
		out.Ratings[i] = ratingResultResponse{
			PlayerID: e.PlayerID, RatingEventID: e.RatingEventID,
			MuBefore: e.MuBefore, MuAfter: e.MuAfter, Delta: e.Delta,
			SigmaAfter: e.SigmaAfter, WinProbabilityPre: e.WinProbPre,
		}
	}
	return out
}

func (s *Server) handleCreateMatch(c *gin.Context) {
	idempotencyKey := c.GetHeader("Idempotency-Key")

	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		mapError(c, apperr.Wrap(apperr.KindValidation, "failed to read request body", err))
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var req matchRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		mapError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}

	if idempotencyKey != "" && s.Idempotent != nil {
		if entry, ok := s.Idempotent.Get(req.OrganizationID, idempotencyKey); ok {
			c.Data(entry.StatusCode, "application/json", entry.Body)
			return
		}
	}

	games := make([]normalize.RawGame, len(req.Games))
	for i, g := range req.Games {
		games[i] = normalize.RawGame{GameNo: g.GameNo, A: g.A, B: g.B}
	}

	res, err := s.Coord.RecordMatch(c.Request.Context(), subjectFrom(c), ingest.Submission{
		ProviderID: req.ProviderID, ExternalRef: req.ExternalRef, OrganizationID: req.OrganizationID,
		Sport: req.Sport, Discipline: req.Discipline, Format: req.Format,
		Tier: req.Tier, RegionID: req.RegionID, StartTime: req.StartTime,
		SideA: req.Sides["A"].Players, SideB: req.Sides["B"].Players, Games: games,
		RawPayload: bodyBytes, EventID: req.EventID, CompetitionID: req.CompetitionID, VenueID: req.VenueID,
	})
	if err != nil {
		mapError(c, err)
		return
	}

	resp := toMatchResponse(req.OrganizationID, res)
	respBytes, _ := json.Marshal(resp)
	if idempotencyKey != "" && s.Idempotent != nil {
		s.Idempotent.Put(req.OrganizationID, idempotencyKey, 201, respBytes)
	}

	if s.LiveFeed != nil {
		for _, e := range res.RatingEvents {
			s.LiveFeed.Broadcast(livefeed.RatingEventMessage{
				OrganizationID: e.OrganizationID, LadderID: e.LadderID, PlayerID: e.PlayerID,
				MatchID: e.MatchID, MuBefore: e.MuBefore, MuAfter: e.MuAfter,
				SigmaBefore: e.SigmaBefore, SigmaAfter: e.SigmaAfter, Delta: e.Delta,
				AppliedAt: e.AppliedAt.Format(time.RFC3339),
			})
		}
	}

	c.Data(201, "application/json", respBytes)
}

func toMatchDetailResponse(m store.Match, events []store.RatingEvent, includeEvents bool) gin.H {
	h := gin.H{
		"match_id": m.MatchID, "organization_id": m.OrganizationID, "sport": m.Sport,
		"discipline": m.Discipline, "format": m.Format, "tier": m.Tier, "region_id": m.RegionID,
		"start_time": m.StartTime.Format(time.RFC3339),
		"sides":      gin.H{"A": gin.H{"players": m.Sides.A}, "B": gin.H{"players": m.Sides.B}},
		"rating_status": string(m.RatingStatus),
		"event_id": m.EventID, "competition_id": m.CompetitionID, "venue_id": m.VenueID,
	}
	if m.RatingSkipReason != "" {
		h["rating_skip_reason"] = m.RatingSkipReason
	}
	if includeEvents {
		out := make([]ratingResultResponse, len(events))
		for i, e := range events {
			out[i] = ratingResultResponse{
				PlayerID: e.PlayerID, RatingEventID: e.RatingEventID,
				MuBefore: e.MuBefore, MuAfter: e.MuAfter, Delta: e.Delta,
				SigmaAfter: e.SigmaAfter, WinProbabilityPre: e.WinProbPre,
			}
		}
		h["rating_events"] = out
	}
	return h
}

func (s *Server) handleGetMatch(c *gin.Context) {
	m, err := s.Store.GetMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}
	var events []store.RatingEvent
	includeEvents := c.Query("include") == "rating_events"
	if includeEvents {
		events = s.ratingEventsForMatch(c, m)
	}
	c.JSON(200, toMatchDetailResponse(m, events, includeEvents))
}

func (s *Server) ratingEventsForMatch(c *gin.Context, m store.Match) []store.RatingEvent {
	var out []store.RatingEvent
	for _, id := range append(append([]string{}, m.Sides.A...), m.Sides.B...) {
		page, err := s.Store.ListRatingEvents(c.Request.Context(), m.OrganizationID, id, "", 0)
		if err != nil {
			continue
		}
		for _, e := range page.Items {
			if e.MatchID == m.MatchID {
				out = append(out, e)
			}
		}
	}
	return out
}

func (s *Server) handleListMatches(c *gin.Context) {
	filter := store.MatchFilter{
		OrganizationID: c.Query("organization_id"),
		Sport:          c.Query("sport"),
		PlayerID:       c.Query("player_id"),
		EventID:        c.Query("event_id"),
		Cursor:         c.Query("cursor"),
		Limit:          s.pageLimit(c),
	}
	if orgSlug := c.Query("organization_slug"); orgSlug != "" && filter.OrganizationID == "" {
		if org, err := s.Store.GetOrganizationBySlug(c.Request.Context(), orgSlug); err == nil {
			filter.OrganizationID = org.OrganizationID
		}
	}
	if v := c.Query("start_after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartAfter = &t
		}
	}
	if v := c.Query("start_before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartBefore = &t
		}
	}

	page, err := s.Store.ListMatches(c.Request.Context(), filter)
	if err != nil {
		mapError(c, err)
		return
	}
	includeEvents := c.Query("include") == "rating_events"
	items := make([]gin.H, len(page.Items))
	for i, m := range page.Items {
		var events []store.RatingEvent
		if includeEvents {
			events = s.ratingEventsForMatch(c, m)
		}
		items[i] = toMatchDetailResponse(m, events, includeEvents)
	}
	c.JSON(200, gin.H{"matches": items, "next_cursor": page.NextCursor})
}

type matchUpdateRequest struct {
	StartTime *time.Time `json:"start_time"`
	VenueID   *string    `json:"venue_id"`
	RegionID  *string    `json:"region_id"`
	EventID   *string    `json:"event_id"`
}

func (s *Server) handleUpdateMatch(c *gin.Context) {
	var req matchUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}

	existing, err := s.Store.GetMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}

	m, err := s.Store.UpdateMatchSchedule(c.Request.Context(), c.Param("id"), req.StartTime, req.VenueID, req.RegionID, req.EventID)
	if err != nil {
		mapError(c, err)
		return
	}

	// A start_time change perturbs chronological order on this ladder;
	// enqueue replay the same way out-of-order ingestion does in C5.
	if req.StartTime != nil && !req.StartTime.Equal(existing.StartTime) {
		if err := s.Store.UpsertReplayQueueEntry(c.Request.Context(), m.LadderID, earlier(*req.StartTime, existing.StartTime)); err != nil {
			mapError(c, apperr.Internal(err))
			return
		}
		if s.Queue != nil {
			if _, err := s.Queue.Enqueue(c.Request.Context(), jobqueue.EnqueueInput{
				Kind: jobqueue.KindReplay, ScopeKey: m.LadderID, RunAt: time.Now(), Dedupe: true,
			}); err != nil {
				mapError(c, apperr.Internal(err))
				return
			}
		}
	}

	c.JSON(200, toMatchDetailResponse(m, nil, false))
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
