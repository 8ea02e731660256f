package memstore

import (
	"context"
	"testing"

	"github.com/openrating/core/internal/store"
)

func seedLeaderboardRating(t *testing.T, s *Store, ladderID, playerID string, mu float64) {
	t.Helper()
	if err := s.CommitMatch(context.Background(), store.MatchWrite{
		Match: store.Match{MatchID: "seed-" + playerID, LadderID: ladderID},
		Ratings: []store.PlayerRating{
			{PlayerID: playerID, LadderID: ladderID, Mu: mu, Sigma: 350},
		},
	}); err != nil {
		t.Fatalf("seed rating for %s: %v", playerID, err)
	}
}

func TestListLeaderboard_TiedMuBrokenByPlayerID(t *testing.T) {
	s := New()
	ctx := context.Background()
	ladder, err := s.EnsureLadder(ctx, store.LadderKey{OrganizationID: "org1", Sport: "squash", Discipline: "singles", Format: "best-of-5"})
	if err != nil {
		t.Fatalf("EnsureLadder: %v", err)
	}

	seedLeaderboardRating(t, s, ladder.LadderID, "zoe", 1500)
	seedLeaderboardRating(t, s, ladder.LadderID, "amy", 1500)
	seedLeaderboardRating(t, s, ladder.LadderID, "mid", 1550)

	page, err := s.ListLeaderboard(ctx, store.LeaderboardFilter{LadderKey: ladder.LadderKey, Limit: 50})
	if err != nil {
		t.Fatalf("ListLeaderboard: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(page.Items))
	}
	if page.Items[0].PlayerID != "mid" {
		t.Errorf("expected highest mu first, got %s", page.Items[0].PlayerID)
	}
	// Tied mu (1500) must break ties by player_id ascending.
	if page.Items[1].PlayerID != "amy" || page.Items[2].PlayerID != "zoe" {
		t.Errorf("expected tied rows ordered amy,zoe, got %s,%s", page.Items[1].PlayerID, page.Items[2].PlayerID)
	}
}

func TestListLeaderboard_KeysetCursorDoesNotSkipOrDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	ladder, err := s.EnsureLadder(ctx, store.LadderKey{OrganizationID: "org1", Sport: "squash", Discipline: "singles", Format: "best-of-5"})
	if err != nil {
		t.Fatalf("EnsureLadder: %v", err)
	}

	seedLeaderboardRating(t, s, ladder.LadderID, "p1", 1600)
	seedLeaderboardRating(t, s, ladder.LadderID, "p2", 1500)
	seedLeaderboardRating(t, s, ladder.LadderID, "p3", 1500)
	seedLeaderboardRating(t, s, ladder.LadderID, "p4", 1400)

	first, err := s.ListLeaderboard(ctx, store.LeaderboardFilter{LadderKey: ladder.LadderKey, Limit: 2})
	if err != nil {
		t.Fatalf("ListLeaderboard page 1: %v", err)
	}
	if len(first.Items) != 2 || first.NextCursor == "" {
		t.Fatalf("expected a 2-row page with a next cursor, got %+v", first)
	}

	second, err := s.ListLeaderboard(ctx, store.LeaderboardFilter{LadderKey: ladder.LadderKey, Limit: 2, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("ListLeaderboard page 2: %v", err)
	}

	seen := map[string]bool{}
	for _, row := range append(append([]store.LeaderboardRow{}, first.Items...), second.Items...) {
		if seen[row.PlayerID] {
			t.Errorf("player %s appeared on more than one page", row.PlayerID)
		}
		seen[row.PlayerID] = true
	}
	if len(seen) != 4 {
		t.Errorf("expected all 4 players across both pages, got %d", len(seen))
	}
}
