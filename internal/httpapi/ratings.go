package httpapi

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/insights"
	"github.com/openrating/core/internal/store"
)

func ratingEventResponse(e store.RatingEvent) gin.H {
	return gin.H{
		"rating_event_id": e.RatingEventID, "organization_id": e.OrganizationID,
		"player_id": e.PlayerID, "ladder_id": e.LadderID, "match_id": e.MatchID,
		"applied_at": e.AppliedAt.Format(time.RFC3339),
		"mu_before": e.MuBefore, "mu_after": e.MuAfter, "delta": e.Delta,
		"sigma_before": e.SigmaBefore, "sigma_after": e.SigmaAfter,
		"win_probability_pre": e.WinProbPre, "mov_weight": e.MovWeight,
	}
}

func (s *Server) handleListRatingEvents(c *gin.Context) {
	org := c.Param("org")
	playerID := c.Param("p")
	page, err := s.Store.ListRatingEvents(c.Request.Context(), org, playerID, c.Query("cursor"), s.pageLimit(c))
	if err != nil {
		mapError(c, err)
		return
	}
	items := make([]gin.H, len(page.Items))
	for i, e := range page.Items {
		items[i] = ratingEventResponse(e)
	}
	c.JSON(200, gin.H{"rating_events": items, "next_cursor": page.NextCursor})
}

func (s *Server) handleGetRatingEvent(c *gin.Context) {
	e, err := s.Store.GetRatingEvent(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(200, ratingEventResponse(e))
}

// handleRatingSnapshot returns (mu, sigma) as of a timestamp, per §4.7's
// rating_snapshot operation. The ladder is resolved from the sport,
// discipline, format, tier and region_id query params, since a player may
// carry a rating on more than one ladder.
func (s *Server) handleRatingSnapshot(c *gin.Context) {
	org := c.Param("org")
	playerID := c.Param("p")

	key := store.LadderKey{
		OrganizationID: org, Sport: c.Query("sport"), Discipline: c.Query("discipline"),
		Format: c.Query("format"), Tier: c.Query("tier"), RegionID: c.Query("region_id"),
	}.Normalize()
	ladder, ok, err := s.Store.GetLadderByKey(c.Request.Context(), key)
	if err != nil {
		mapError(c, apperr.Internal(err))
		return
	}
	if !ok {
		mapError(c, apperr.New(apperr.KindNotFound, "no ladder for the given sport/discipline/format"))
		return
	}

	if asOf := c.Query("as_of"); asOf != "" {
		t, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			mapError(c, apperr.Wrap(apperr.KindValidation, "invalid as_of timestamp", err))
			return
		}
		event, ok, err := s.Store.LatestRatingEventBefore(c.Request.Context(), ladder.LadderID, playerID, t.Add(time.Nanosecond))
		if err != nil {
			mapError(c, apperr.Internal(err))
			return
		}
		if !ok {
			mapError(c, apperr.New(apperr.KindNotFound, "no rating state as of that timestamp"))
			return
		}
		c.JSON(200, gin.H{"player_id": playerID, "ladder_id": ladder.LadderID, "mu": event.MuAfter, "sigma": event.SigmaAfter, "as_of": asOf})
		return
	}

	ratings, err := s.Store.GetPlayerRatings(c.Request.Context(), ladder.LadderID, []string{playerID})
	if err != nil {
		mapError(c, apperr.Internal(err))
		return
	}
	r, ok := ratings[playerID]
	if !ok {
		mapError(c, apperr.New(apperr.KindNotFound, "player has no rating on this ladder"))
		return
	}
	c.JSON(200, gin.H{"player_id": playerID, "ladder_id": ladder.LadderID, "mu": r.Mu, "sigma": r.Sigma, "matches": r.Matches})
}

// handleInsights is a read-only lookup of the C8 read model built by the
// worker's insight-refresh jobs; it never triggers a rebuild inline.
func (s *Server) handleInsights(c *gin.Context) {
	if s.Insights == nil {
		mapError(c, apperr.New(apperr.KindNotFound, "insights are not enabled"))
		return
	}
	snap, ok, err := s.Insights.GetInsightSnapshot(c.Request.Context(), c.Param("org"), c.Param("p"), c.Query("sport"), c.Query("discipline"))
	if err != nil {
		mapError(c, apperr.Internal(err))
		return
	}
	if !ok {
		mapError(c, apperr.New(apperr.KindNotFound, "no insight snapshot yet for this player"))
		return
	}
	var body insights.Snapshot
	if err := json.Unmarshal(snap.Snapshot, &body); err != nil {
		mapError(c, apperr.Internal(err))
		return
	}
	c.Header("ETag", body.CacheKeys.ETag)
	c.JSON(200, body)
}
