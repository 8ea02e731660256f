package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/store"
)

func (s *Store) MaxStartTime(ctx context.Context, ladderID string) (time.Time, bool, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT max(start_time) FROM matches WHERE ladder_id = $1`, ladderID).Scan(&t)
	if err != nil {
		return time.Time{}, false, apperr.Internal(err)
	}
	if t == nil {
		return time.Time{}, false, nil
	}
	return *t, true, nil
}

func scanMatch(row pgx.Row) (store.Match, error) {
	var m store.Match
	var sideA, sideB []string
	var gamesJSON []byte
	err := row.Scan(
		&m.MatchID, &m.LadderID, &m.ProviderID, &m.OrganizationID, &m.Sport, &m.Discipline, &m.Format,
		&m.Tier, &m.RegionID, &m.StartTime, &sideA, &sideB, &gamesJSON, &m.RawPayload,
		&m.RatingStatus, &m.RatingSkipReason, &m.EventID, &m.CompetitionID, &m.ExternalRef, &m.VenueID,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return store.Match{}, err
	}
	m.Sides = store.MatchSides{A: sideA, B: sideB}
	if len(gamesJSON) > 0 {
		if err := json.Unmarshal(gamesJSON, &m.Games); err != nil {
			return store.Match{}, err
		}
	}
	return m, nil
}

const matchColumns = `match_id, ladder_id, provider_id, organization_id, sport, discipline, format,
	tier, region_id, start_time, side_a, side_b, games, raw_payload,
	rating_status, COALESCE(rating_skip_reason, ''), COALESCE(event_id, ''), COALESCE(competition_id, ''), COALESCE(external_ref, ''), COALESCE(venue_id, ''),
	created_at, updated_at`

func (s *Store) GetMatch(ctx context.Context, matchID string) (store.Match, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE match_id = $1`, matchID)
	m, err := scanMatch(row)
	if err != nil {
		return store.Match{}, mapNoRows(err, "match not found")
	}
	return m, nil
}

func (s *Store) FindMatchByExternalRef(ctx context.Context, providerID, externalRef string) (store.Match, bool, error) {
	if externalRef == "" {
		return store.Match{}, false, nil
	}
	row := s.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE provider_id = $1 AND external_ref = $2`, providerID, externalRef)
	m, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Match{}, false, nil
		}
		return store.Match{}, false, apperr.Internal(err)
	}
	return m, true, nil
}

func (s *Store) ListMatches(ctx context.Context, filter store.MatchFilter) (store.Page[store.Match], error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := decodeOffsetCursor(filter.Cursor)

	where := `organization_id = $1`
	args := []any{filter.OrganizationID}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Sport != "" {
		where += ` AND sport = ` + arg(filter.Sport)
	}
	if filter.EventID != "" {
		where += ` AND event_id = ` + arg(filter.EventID)
	}
	if filter.PlayerID != "" {
		where += ` AND ` + arg(filter.PlayerID) + ` = ANY(side_a || side_b)`
	}
	if filter.StartAfter != nil {
		where += ` AND start_time >= ` + arg(*filter.StartAfter)
	}
	if filter.StartBefore != nil {
		where += ` AND start_time <= ` + arg(*filter.StartBefore)
	}
	query := `SELECT ` + matchColumns + ` FROM matches WHERE ` + where + ` ORDER BY start_time DESC, match_id DESC LIMIT ` + arg(limit+1) + ` OFFSET ` + arg(offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return store.Page[store.Match]{}, apperr.Internal(err)
	}
	defer rows.Close()

	var items []store.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return store.Page[store.Match]{}, apperr.Internal(err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return store.Page[store.Match]{}, apperr.Internal(err)
	}

	next := ""
	if len(items) > limit {
		items = items[:limit]
		next = encodeOffsetCursor(offset + limit)
	}
	return store.Page[store.Match]{Items: items, NextCursor: next}, nil
}

func (s *Store) ListMatchesFromLadder(ctx context.Context, ladderID string, from time.Time) ([]store.Match, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+matchColumns+` FROM matches WHERE ladder_id = $1 AND start_time >= $2 ORDER BY start_time, match_id`, ladderID, from)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []store.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateMatchSchedule(ctx context.Context, matchID string, startTime *time.Time, venueID, regionID, eventID *string) (store.Match, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE matches SET
			start_time = COALESCE($2, start_time),
			venue_id = COALESCE($3, venue_id),
			region_id = COALESCE($4, region_id),
			event_id = COALESCE($5, event_id),
			updated_at = now()
		WHERE match_id = $1
		RETURNING `+matchColumns, matchID, startTime, venueID, regionID, eventID)
	m, err := scanMatch(row)
	if err != nil {
		return store.Match{}, mapNoRows(err, "match not found")
	}
	return m, nil
}

// CommitMatch persists one match atomically: the match row plus resulting
// player ratings, rating events, pair synergies and pair history, mirroring
// the teacher's tx.Begin/defer tx.Rollback/tx.Commit transaction shape.
func (s *Store) CommitMatch(ctx context.Context, write store.MatchWrite) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Internal(err)
	}
	defer tx.Rollback(ctx)

	if err := insertMatch(ctx, tx, write.Match); err != nil {
		return apperr.Internal(err)
	}
	if err := applyWrite(ctx, tx, write); err != nil {
		return apperr.Internal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func insertMatch(ctx context.Context, tx pgx.Tx, m store.Match) error {
	gamesJSON, err := json.Marshal(m.Games)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO matches (
			match_id, ladder_id, provider_id, organization_id, sport, discipline, format,
			tier, region_id, start_time, side_a, side_b, games, raw_payload,
			rating_status, rating_skip_reason, event_id, competition_id, external_ref, venue_id,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULLIF($16,''),NULLIF($17,''),NULLIF($18,''),NULLIF($19,''),NULLIF($20,''),now(),now())`,
		m.MatchID, m.LadderID, m.ProviderID, m.OrganizationID, m.Sport, m.Discipline, m.Format,
		m.Tier, m.RegionID, m.StartTime, m.Sides.A, m.Sides.B, gamesJSON, m.RawPayload,
		string(m.RatingStatus), m.RatingSkipReason, m.EventID, m.CompetitionID, m.ExternalRef, m.VenueID)
	return err
}

// applyWrite upserts player_ratings/pair_synergies and appends the
// corresponding audit rows, within an already-open transaction.
func applyWrite(ctx context.Context, tx pgx.Tx, write store.MatchWrite) error {
	for _, r := range write.Ratings {
		if _, err := tx.Exec(ctx, `
			INSERT INTO player_ratings (player_id, ladder_id, mu, sigma, matches_count, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (player_id, ladder_id) DO UPDATE SET mu = $3, sigma = $4, matches_count = $5, updated_at = $6`,
			r.PlayerID, r.LadderID, r.Mu, r.Sigma, r.Matches, r.UpdatedAt); err != nil {
			return err
		}
	}
	for _, e := range write.RatingEvents {
		if _, err := tx.Exec(ctx, `
			INSERT INTO player_rating_history (
				rating_event_id, organization_id, player_id, ladder_id, match_id, applied_at,
				mu_before, mu_after, delta, sigma_before, sigma_after, win_prob_pre, mov_weight
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			e.RatingEventID, e.OrganizationID, e.PlayerID, e.LadderID, e.MatchID, e.AppliedAt,
			e.MuBefore, e.MuAfter, e.Delta, e.SigmaBefore, e.SigmaAfter, e.WinProbPre, e.MovWeight); err != nil {
			return err
		}
	}
	for _, p := range write.Pairs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pair_synergies (ladder_id, pair_key, gamma, matches_count, updated_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (ladder_id, pair_key) DO UPDATE SET gamma = $3, matches_count = $4, updated_at = $5`,
			p.LadderID, p.PairKey, p.Gamma, p.Matches, p.UpdatedAt); err != nil {
			return err
		}
	}
	for _, h := range write.PairHistory {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pair_synergy_history (
				history_id, organization_id, ladder_id, pair_key, match_id, applied_at,
				gamma_before, gamma_after, delta, matches_before, matches_after, activated
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			h.HistoryID, h.OrganizationID, h.LadderID, h.PairKey, h.MatchID, h.AppliedAt,
			h.GammaBefore, h.GammaAfter, h.Delta, h.MatchesBefore, h.MatchesAfter, h.Activated); err != nil {
			return err
		}
	}
	return nil
}

// ReplayCommit deletes the perturbed audit trail, rewrites the snapshot
// tables to the reverted baseline, then replays every write — all within
// one transaction so a crash mid-replay can never leave a ladder half-done.
func (s *Store) ReplayCommit(ctx context.Context, ladderID string, t0 time.Time, reverted store.RevertedState, writes []store.MatchWrite) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Internal(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM player_rating_history h USING matches m WHERE h.match_id = m.match_id AND h.ladder_id = $1 AND m.start_time >= $2`, ladderID, t0); err != nil {
		return apperr.Internal(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pair_synergy_history h USING matches m WHERE h.match_id = m.match_id AND h.ladder_id = $1 AND m.start_time >= $2`, ladderID, t0); err != nil {
		return apperr.Internal(err)
	}

	for _, r := range reverted.Ratings {
		if _, err := tx.Exec(ctx, `
			INSERT INTO player_ratings (player_id, ladder_id, mu, sigma, matches_count, updated_at)
			VALUES ($1,$2,$3,$4,0,now())
			ON CONFLICT (player_id, ladder_id) DO UPDATE SET mu = $3, sigma = $4, matches_count = 0, updated_at = now()`,
			r.PlayerID, ladderID, r.Mu, r.Sigma); err != nil {
			return apperr.Internal(err)
		}
	}
	for _, p := range reverted.Pairs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pair_synergies (ladder_id, pair_key, gamma, matches_count, updated_at)
			VALUES ($1,$2,$3,0,now())
			ON CONFLICT (ladder_id, pair_key) DO UPDATE SET gamma = $3, matches_count = 0, updated_at = now()`,
			ladderID, p.PairKey, p.Gamma); err != nil {
			return apperr.Internal(err)
		}
	}

	for _, w := range writes {
		if err := applyWrite(ctx, tx, w); err != nil {
			return apperr.Internal(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) GetRatingEvent(ctx context.Context, ratingEventID string) (store.RatingEvent, error) {
	var e store.RatingEvent
	err := s.pool.QueryRow(ctx, `
		SELECT rating_event_id, organization_id, player_id, ladder_id, match_id, applied_at,
			mu_before, mu_after, delta, sigma_before, sigma_after, win_prob_pre, mov_weight
		FROM player_rating_history WHERE rating_event_id = $1`, ratingEventID).
		Scan(&e.RatingEventID, &e.OrganizationID, &e.PlayerID, &e.LadderID, &e.MatchID, &e.AppliedAt,
			&e.MuBefore, &e.MuAfter, &e.Delta, &e.SigmaBefore, &e.SigmaAfter, &e.WinProbPre, &e.MovWeight)
	if err != nil {
		return store.RatingEvent{}, mapNoRows(err, "rating event not found")
	}
	return e, nil
}

func (s *Store) ListRatingEvents(ctx context.Context, organizationID, playerID string, cursor string, limit int) (store.Page[store.RatingEvent], error) {
	if limit <= 0 {
		limit = 50
	}
	offset := decodeOffsetCursor(cursor)
	rows, err := s.pool.Query(ctx, `
		SELECT rating_event_id, organization_id, player_id, ladder_id, match_id, applied_at,
			mu_before, mu_after, delta, sigma_before, sigma_after, win_prob_pre, mov_weight
		FROM player_rating_history
		WHERE organization_id = $1 AND player_id = $2
		ORDER BY applied_at DESC, rating_event_id DESC
		LIMIT $3 OFFSET $4`, organizationID, playerID, limit+1, offset)
	if err != nil {
		return store.Page[store.RatingEvent]{}, apperr.Internal(err)
	}
	defer rows.Close()
	var items []store.RatingEvent
	for rows.Next() {
		var e store.RatingEvent
		if err := rows.Scan(&e.RatingEventID, &e.OrganizationID, &e.PlayerID, &e.LadderID, &e.MatchID, &e.AppliedAt,
			&e.MuBefore, &e.MuAfter, &e.Delta, &e.SigmaBefore, &e.SigmaAfter, &e.WinProbPre, &e.MovWeight); err != nil {
			return store.Page[store.RatingEvent]{}, apperr.Internal(err)
		}
		items = append(items, e)
	}
	next := ""
	if len(items) > limit {
		items = items[:limit]
		next = encodeOffsetCursor(offset + limit)
	}
	return store.Page[store.RatingEvent]{Items: items, NextCursor: next}, nil
}

func (s *Store) LatestRatingEventBefore(ctx context.Context, ladderID, playerID string, asOf time.Time) (store.RatingEvent, bool, error) {
	var e store.RatingEvent
	err := s.pool.QueryRow(ctx, `
		SELECT rating_event_id, organization_id, player_id, ladder_id, match_id, applied_at,
			mu_before, mu_after, delta, sigma_before, sigma_after, win_prob_pre, mov_weight
		FROM player_rating_history
		WHERE ladder_id = $1 AND player_id = $2 AND applied_at < $3
		ORDER BY applied_at DESC, rating_event_id DESC LIMIT 1`, ladderID, playerID, asOf).
		Scan(&e.RatingEventID, &e.OrganizationID, &e.PlayerID, &e.LadderID, &e.MatchID, &e.AppliedAt,
			&e.MuBefore, &e.MuAfter, &e.Delta, &e.SigmaBefore, &e.SigmaAfter, &e.WinProbPre, &e.MovWeight)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RatingEvent{}, false, nil
		}
		return store.RatingEvent{}, false, apperr.Internal(err)
	}
	return e, true, nil
}

func (s *Store) LatestPairHistoryBefore(ctx context.Context, ladderID, pairKey string, asOf time.Time) (store.PairSynergyHistory, bool, error) {
	var h store.PairSynergyHistory
	err := s.pool.QueryRow(ctx, `
		SELECT history_id, organization_id, ladder_id, pair_key, match_id, applied_at,
			gamma_before, gamma_after, delta, matches_before, matches_after, activated
		FROM pair_synergy_history
		WHERE ladder_id = $1 AND pair_key = $2 AND applied_at < $3
		ORDER BY applied_at DESC, history_id DESC LIMIT 1`, ladderID, pairKey, asOf).
		Scan(&h.HistoryID, &h.OrganizationID, &h.LadderID, &h.PairKey, &h.MatchID, &h.AppliedAt,
			&h.GammaBefore, &h.GammaAfter, &h.Delta, &h.MatchesBefore, &h.MatchesAfter, &h.Activated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.PairSynergyHistory{}, false, nil
		}
		return store.PairSynergyHistory{}, false, apperr.Internal(err)
	}
	return h, true, nil
}

func (s *Store) RatingEventsOnOrAfter(ctx context.Context, ladderID string, t0 time.Time) ([]store.RatingEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rating_event_id, organization_id, player_id, ladder_id, match_id, applied_at,
			mu_before, mu_after, delta, sigma_before, sigma_after, win_prob_pre, mov_weight
		FROM player_rating_history WHERE ladder_id = $1 AND applied_at >= $2 ORDER BY applied_at, rating_event_id`, ladderID, t0)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []store.RatingEvent
	for rows.Next() {
		var e store.RatingEvent
		if err := rows.Scan(&e.RatingEventID, &e.OrganizationID, &e.PlayerID, &e.LadderID, &e.MatchID, &e.AppliedAt,
			&e.MuBefore, &e.MuAfter, &e.Delta, &e.SigmaBefore, &e.SigmaAfter, &e.WinProbPre, &e.MovWeight); err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ParticipantsSince(ctx context.Context, ladderID string, t0 time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT unnest(side_a || side_b) AS player_id
		FROM matches WHERE ladder_id = $1 AND start_time >= $2`, ladderID, t0)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ListLeaderboard(ctx context.Context, filter store.LeaderboardFilter) (store.Page[store.LeaderboardRow], error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	key := filter.LadderKey.Normalize()

	where := `l.organization_id = $1 AND l.sport = $2 AND l.discipline = $3 AND l.format = $4 AND l.tier = $5 AND l.region_id = $6`
	args := []any{key.OrganizationID, key.Sport, key.Discipline, key.Format, key.Tier, key.RegionID}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.AgeFrom != nil && filter.AgeCutoff != nil {
		where += ` AND extract(year from ` + arg(*filter.AgeCutoff) + `::date) - COALESCE(p.birth_year, extract(year from p.birth_date)) >= ` + arg(*filter.AgeFrom)
	}
	if filter.AgeTo != nil && filter.AgeCutoff != nil {
		where += ` AND extract(year from ` + arg(*filter.AgeCutoff) + `::date) - COALESCE(p.birth_year, extract(year from p.birth_date)) <= ` + arg(*filter.AgeTo)
	}

	// rank() must be computed over every row the ladder/age filter matches,
	// before the keyset cursor narrows down to "what's left on this page" —
	// otherwise a later page's ranks would restart relative to the
	// remainder instead of reflecting true leaderboard position. The CTE
	// ranks first; the outer query applies the cursor per spec.md §4.7:
	// (mu, player_id) < cursor in the same (mu DESC, player_id ASC) sense
	// as the ORDER BY, so tied-mu rows stay stably ordered across pages
	// instead of a plain OFFSET that can skip or duplicate rows as the
	// ladder changes underneath a paging client.
	cursorWhere := ""
	if cur, ok := store.DecodeLeaderboardCursor(filter.Cursor); ok {
		muArg := arg(cur.Mu)
		muArg2 := arg(cur.Mu)
		playerArg := arg(cur.PlayerID)
		cursorWhere = `WHERE ranked.mu < ` + muArg + ` OR (ranked.mu = ` + muArg2 + ` AND ranked.player_id > ` + playerArg + `)`
	}

	query := `
		WITH ranked AS (
			SELECT r.player_id, r.mu, r.sigma, r.matches_count,
				rank() OVER (ORDER BY r.mu DESC, r.player_id ASC) AS rank
			FROM player_ratings r
			JOIN rating_ladders l ON l.ladder_id = r.ladder_id
			JOIN players p ON p.player_id = r.player_id
			WHERE ` + where + `
		)
		SELECT ranked.player_id, ranked.mu, ranked.sigma, ranked.matches_count, ranked.rank
		FROM ranked
		` + cursorWhere + `
		ORDER BY ranked.mu DESC, ranked.player_id ASC
		LIMIT ` + arg(limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return store.Page[store.LeaderboardRow]{}, apperr.Internal(err)
	}
	defer rows.Close()
	var items []store.LeaderboardRow
	for rows.Next() {
		var row store.LeaderboardRow
		if err := rows.Scan(&row.PlayerID, &row.Mu, &row.Sigma, &row.Matches, &row.Rank); err != nil {
			return store.Page[store.LeaderboardRow]{}, apperr.Internal(err)
		}
		items = append(items, row)
	}
	next := ""
	if len(items) > limit {
		items = items[:limit]
		next = store.EncodeLeaderboardCursor(items[len(items)-1])
	}
	return store.Page[store.LeaderboardRow]{Items: items, NextCursor: next}, nil
}
