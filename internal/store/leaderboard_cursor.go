package store

import (
	"encoding/base64"
	"encoding/json"
)

// LeaderboardCursor is the keyset cursor spec.md §4.7 documents: a
// base64url-encoded {mu, player_id, rank}. Pages scan with
// (mu, player_id) < cursor in (mu DESC, player_id ASC) ordering sense,
// so tied-mu rows stay stably ordered across pages instead of relying on
// a row count that shifts as the ladder changes underneath a paging client.
type LeaderboardCursor struct {
	Mu       float64 `json:"mu"`
	PlayerID string  `json:"player_id"`
	Rank     int     `json:"rank"`
}

// EncodeLeaderboardCursor builds the opaque cursor for the row that should
// be the last item on the current page.
func EncodeLeaderboardCursor(row LeaderboardRow) string {
	b, err := json.Marshal(LeaderboardCursor{Mu: row.Mu, PlayerID: row.PlayerID, Rank: row.Rank})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(b)
}

// DecodeLeaderboardCursor parses a cursor produced by EncodeLeaderboardCursor.
// An empty or malformed cursor is treated as "start from the top".
func DecodeLeaderboardCursor(cursor string) (LeaderboardCursor, bool) {
	if cursor == "" {
		return LeaderboardCursor{}, false
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return LeaderboardCursor{}, false
	}
	var c LeaderboardCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return LeaderboardCursor{}, false
	}
	return c, true
}
