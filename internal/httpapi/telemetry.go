package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openrating/core/internal/store"
)

// handleTelemetry is the admin telemetry endpoint supplemented in
// SPEC_FULL.md, in the style of the teacher's storage.GetTelemetryMetrics:
// aggregate counts rather than per-row detail. Job-queue counts are
// deliberately left out — jobqueue.Queue exposes no introspection beyond
// enqueue/claim/complete/sweep, matching the interface's minimalism.
func (s *Server) handleTelemetry(c *gin.Context) {
	org, err := s.resolveOrganization(c, c.Param("org"))
	if err != nil {
		mapError(c, err)
		return
	}

	now := time.Now().UTC()
	since7 := now.Add(-7 * 24 * time.Hour)
	since30 := now.Add(-30 * 24 * time.Hour)

	rated7, unrated7, err7 := s.countMatchesSince(c, org.OrganizationID, since7)
	rated30, unrated30, err30 := s.countMatchesSince(c, org.OrganizationID, since30)
	if err7 != nil {
		mapError(c, err7)
		return
	}
	if err30 != nil {
		mapError(c, err30)
		return
	}

	replayQueue, err := s.Store.ListReplayQueueEntries(c.Request.Context())
	if err != nil {
		mapError(c, err)
		return
	}
	pendingReplays := 0
	for _, e := range replayQueue {
		if e.LadderID != "" {
			pendingReplays++
		}
	}

	c.JSON(200, gin.H{
		"organization_id": org.OrganizationID,
		"matches": gin.H{
			"rated_last_7d":    rated7,
			"unrated_last_7d":  unrated7,
			"rated_last_30d":   rated30,
			"unrated_last_30d": unrated30,
		},
		"replay_queue_depth": pendingReplays,
	})
}

func (s *Server) countMatchesSince(c *gin.Context, organizationID string, since time.Time) (rated, unrated int, err error) {
	cursor := ""
	for {
		page, pErr := s.Store.ListMatches(c.Request.Context(), store.MatchFilter{
			OrganizationID: organizationID, StartAfter: &since, Cursor: cursor, Limit: 200,
		})
		if pErr != nil {
			return 0, 0, pErr
		}
		for _, m := range page.Items {
			if m.RatingStatus == store.RatingStatusRated {
				rated++
			} else {
				unrated++
			}
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}
	return rated, unrated, nil
}
