package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/store"
)

func (s *Server) handleLeaderboard(c *gin.Context) {
	orgID := c.Query("organization_id")
	if orgID == "" {
		if slug := c.Query("organization_slug"); slug != "" {
			org, err := s.Store.GetOrganizationBySlug(c.Request.Context(), slug)
			if err != nil {
				mapError(c, err)
				return
			}
			orgID = org.OrganizationID
		}
	}
	if orgID == "" {
		mapError(c, apperr.New(apperr.KindValidation, "organization_id or organization_slug is required"))
		return
	}

	filter := store.LeaderboardFilter{
		LadderKey: store.LadderKey{
			OrganizationID: orgID, Sport: c.Query("sport"), Discipline: c.Query("discipline"),
			Format: c.Query("format"), Tier: c.Query("tier"), RegionID: c.Query("region_id"),
		}.Normalize(),
		AgeGroup: c.Query("age_group"),
		Cursor:   c.Query("cursor"),
		Limit:    s.pageLimit(c),
	}
	if v := c.Query("age_from"); v != "" {
		if n, err := parseInt(v); err == nil {
			filter.AgeFrom = &n
		}
	}
	if v := c.Query("age_to"); v != "" {
		if n, err := parseInt(v); err == nil {
			filter.AgeTo = &n
		}
	}
	if v := c.Query("age_cutoff"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.AgeCutoff = &t
		}
	}

	page, err := s.Store.ListLeaderboard(c.Request.Context(), filter)
	if err != nil {
		mapError(c, err)
		return
	}
	items := make([]gin.H, len(page.Items))
	for i, row := range page.Items {
		items[i] = gin.H{"player_id": row.PlayerID, "rank": row.Rank, "mu": row.Mu, "sigma": row.Sigma, "matches": row.Matches}
	}
	c.JSON(200, gin.H{"entries": items, "next_cursor": page.NextCursor})
}
