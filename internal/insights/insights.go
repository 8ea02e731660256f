// Package insights implements the player-insight snapshot builder (C8):
// derives rating_trend/form_summary/discipline_overview/milestones/streaks/
// volatility from a player's rating history, per spec.md §4.6. Consumes C7
// insight-refresh jobs enqueued by the ingestion coordinator.
package insights

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/store"
)

// TrendPoint is one bucket of the rating_trend series.
type TrendPoint struct {
	PeriodStart time.Time `json:"period_start"`
	Mu          float64   `json:"mu"`
	Sigma       float64   `json:"sigma"`
	MuDelta     float64   `json:"mu_delta"`
	SampleCount int       `json:"sample_count"`
}

// RatingTrend is the cadence-bucketed history of a player's rating.
type RatingTrend struct {
	Cadence      string       `json:"cadence"`
	Points       []TrendPoint `json:"points"`
	LifetimeHigh float64      `json:"lifetime_high"`
	LifetimeLow  float64      `json:"lifetime_low"`
}

// WindowForm is the rolling-window form summary for one window size.
type WindowForm struct {
	WindowDays    int        `json:"window_days"`
	Matches       int        `json:"matches"`
	Wins          int        `json:"wins"`
	Losses        int        `json:"losses"`
	NetDelta      float64    `json:"net_delta"`
	AvgDelta      float64    `json:"avg_delta"`
	AvgOpponentMu float64    `json:"avg_opponent_mu"`
	LastEventAt   *time.Time `json:"last_event_at,omitempty"`
}

// DisciplineStat is one ladder's current standing for this player.
type DisciplineStat struct {
	Sport        string  `json:"sport"`
	Discipline   string  `json:"discipline"`
	Format       string  `json:"format"`
	Mu           float64 `json:"mu"`
	Sigma        float64 `json:"sigma"`
	Matches      int     `json:"matches"`
	CurrentRank  int     `json:"current_rank"`
	BestRankSeen int     `json:"best_rank_seen"`
}

// Streaks reports the player's current win/loss run.
type Streaks struct {
	Kind    string `json:"kind"` // "WIN", "LOSS", "DRAW", or "" if no history
	Current int    `json:"current"`
}

// Volatility reports current sigma and how it has moved recently.
type Volatility struct {
	CurrentSigma    float64 `json:"current_sigma"`
	Sigma30DaysAgo  float64 `json:"sigma_30_days_ago"`
	SigmaChange30D  float64 `json:"sigma_change_30d"`
	InactivityDays  int     `json:"inactivity_days"`
}

// CacheKeys lets downstream narrative-generation skip unchanged snapshots.
type CacheKeys struct {
	Digest string `json:"digest"`
	ETag   string `json:"etag"`
}

// Snapshot is the full PlayerInsightsSnapshot from spec.md §4.6.
type Snapshot struct {
	OrganizationID     string           `json:"organization_id"`
	PlayerID           string           `json:"player_id"`
	Sport              string           `json:"sport,omitempty"`
	Discipline         string           `json:"discipline,omitempty"`
	RatingTrend        RatingTrend      `json:"rating_trend"`
	FormSummary        []WindowForm     `json:"form_summary"`
	DisciplineOverview []DisciplineStat `json:"discipline_overview"`
	Milestones         []string         `json:"milestones"`
	Streaks            Streaks          `json:"streaks"`
	Volatility         Volatility       `json:"volatility"`
	CacheKeys          CacheKeys        `json:"cache_keys"`
}

// windowDays are the rolling form windows spec.md §4.6 names.
var windowDays = []int{7, 30, 90, 365}

// milestoneThresholds fire once a player's lifetime-high mu crosses them.
var milestoneThresholds = []float64{1600, 1800, 2000, 2200, 2400}

// Builder is the C8 component.
type Builder struct {
	Store store.RatingStore
}

// Build derives a full snapshot as of asOf. Sport/discipline empty means
// "all disciplines combined" — the per-player dashboard default.
func (b *Builder) Build(ctx context.Context, organizationID, playerID, sport, discipline string, asOf time.Time) (Snapshot, error) {
	events, err := b.allEvents(ctx, organizationID, playerID)
	if err != nil {
		return Snapshot{}, err
	}
	if sport != "" || discipline != "" {
		events = filterEventsByLadder(ctx, b.Store, events, sport, discipline)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].AppliedAt.Before(events[j].AppliedAt) })

	snap := Snapshot{
		OrganizationID: organizationID,
		PlayerID:       playerID,
		Sport:          sport,
		Discipline:     discipline,
		RatingTrend:    buildTrend(events),
		FormSummary:    b.buildFormSummary(ctx, events, asOf),
		Streaks:        buildStreaks(events),
		Volatility:     buildVolatility(events, asOf),
		Milestones:     buildMilestones(events),
	}

	overview, err := b.buildDisciplineOverview(ctx, organizationID, playerID, events)
	if err != nil {
		return Snapshot{}, err
	}
	snap.DisciplineOverview = overview

	digest, err := stableDigest(snap)
	if err != nil {
		return Snapshot{}, err
	}
	snap.CacheKeys = CacheKeys{Digest: digest, ETag: digest}
	return snap, nil
}

func (b *Builder) allEvents(ctx context.Context, organizationID, playerID string) ([]store.RatingEvent, error) {
	var out []store.RatingEvent
	cursor := ""
	for {
		page, err := b.Store.ListRatingEvents(ctx, organizationID, playerID, cursor, 200)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

func filterEventsByLadder(ctx context.Context, s store.RatingStore, events []store.RatingEvent, sport, discipline string) []store.RatingEvent {
	ladderCache := make(map[string]store.Ladder)
	var out []store.RatingEvent
	for _, e := range events {
		ladder, ok := ladderCache[e.LadderID]
		if !ok {
			l, err := s.GetLadder(ctx, e.LadderID)
			if err != nil {
				continue
			}
			ladder = l
			ladderCache[e.LadderID] = l
		}
		if sport != "" && ladder.Sport != sport {
			continue
		}
		if discipline != "" && ladder.Discipline != discipline {
			continue
		}
		out = append(out, e)
	}
	return out
}

// buildTrend buckets events into weekly periods, the default cadence.
func buildTrend(events []store.RatingEvent) RatingTrend {
	trend := RatingTrend{Cadence: "weekly"}
	if len(events) == 0 {
		return trend
	}

	type bucket struct {
		start   time.Time
		lastMu  float64
		sigma   float64
		firstMu float64
		count   int
	}
	buckets := make(map[time.Time]*bucket)
	var order []time.Time

	lifetimeHigh, lifetimeLow := events[0].MuAfter, events[0].MuAfter
	for _, e := range events {
		if e.MuAfter > lifetimeHigh {
			lifetimeHigh = e.MuAfter
		}
		if e.MuAfter < lifetimeLow {
			lifetimeLow = e.MuAfter
		}
		periodStart := weekStart(e.AppliedAt)
		bk, ok := buckets[periodStart]
		if !ok {
			bk = &bucket{start: periodStart, firstMu: e.MuBefore}
			buckets[periodStart] = bk
			order = append(order, periodStart)
		}
		bk.lastMu = e.MuAfter
		bk.sigma = e.SigmaAfter
		bk.count++
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	for _, t := range order {
		bk := buckets[t]
		trend.Points = append(trend.Points, TrendPoint{
			PeriodStart: bk.start,
			Mu:          bk.lastMu,
			Sigma:       bk.sigma,
			MuDelta:     bk.lastMu - bk.firstMu,
			SampleCount: bk.count,
		})
	}
	trend.LifetimeHigh = lifetimeHigh
	trend.LifetimeLow = lifetimeLow
	return trend
}

func weekStart(t time.Time) time.Time {
	t = t.UTC().Truncate(24 * time.Hour)
	// ISO weeks start Monday; Go's Weekday has Sunday=0.
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

func (b *Builder) buildFormSummary(ctx context.Context, events []store.RatingEvent, asOf time.Time) []WindowForm {
	out := make([]WindowForm, 0, len(windowDays))
	for _, days := range windowDays {
		cutoff := asOf.AddDate(0, 0, -days)
		form := WindowForm{WindowDays: days}
		var deltaSum, opponentMuSum float64
		var opponentCount int
		for _, e := range events {
			if e.AppliedAt.Before(cutoff) {
				continue
			}
			form.Matches++
			if e.Delta > 0 {
				form.Wins++
			} else if e.Delta < 0 {
				form.Losses++
			}
			deltaSum += e.Delta
			if opponentMu, ok := b.opponentMuBefore(ctx, e); ok {
				opponentMuSum += opponentMu
				opponentCount++
			}
			applied := e.AppliedAt
			if form.LastEventAt == nil || applied.After(*form.LastEventAt) {
				form.LastEventAt = &applied
			}
		}
		form.NetDelta = deltaSum
		if form.Matches > 0 {
			form.AvgDelta = deltaSum / float64(form.Matches)
		}
		if opponentCount > 0 {
			form.AvgOpponentMu = opponentMuSum / float64(opponentCount)
		}
		out = append(out, form)
	}
	return out
}

// opponentMuBefore approximates the opposing side's average mu just before
// this match, by reading each opponent's own most recent rating event
// before the match's applied_at (or their event on this same match, whose
// mu_before is exactly pre-match).
func (b *Builder) opponentMuBefore(ctx context.Context, e store.RatingEvent) (float64, bool) {
	m, err := b.Store.GetMatch(ctx, e.MatchID)
	if err != nil {
		return 0, false
	}
	var opponents []string
	onA := contains(m.Sides.A, e.PlayerID)
	if onA {
		opponents = m.Sides.B
	} else {
		opponents = m.Sides.A
	}
	if len(opponents) == 0 {
		return 0, false
	}
	var sum float64
	var n int
	for _, opp := range opponents {
		evt, ok, err := b.Store.LatestRatingEventBefore(ctx, e.LadderID, opp, e.AppliedAt.Add(time.Nanosecond))
		if err != nil || !ok {
			continue
		}
		mu := evt.MuAfter
		if evt.MatchID == e.MatchID {
			mu = evt.MuBefore
		}
		sum += mu
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func buildStreaks(events []store.RatingEvent) Streaks {
	if len(events) == 0 {
		return Streaks{}
	}
	kind := ""
	count := 0
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		var evtKind string
		switch {
		case e.Delta > 0:
			evtKind = "WIN"
		case e.Delta < 0:
			evtKind = "LOSS"
		default:
			evtKind = "DRAW"
		}
		if kind == "" {
			kind = evtKind
		}
		if evtKind != kind {
			break
		}
		count++
	}
	return Streaks{Kind: kind, Current: count}
}

func buildVolatility(events []store.RatingEvent, asOf time.Time) Volatility {
	if len(events) == 0 {
		return Volatility{}
	}
	latest := events[len(events)-1]
	v := Volatility{
		CurrentSigma:   latest.SigmaAfter,
		InactivityDays: int(asOf.Sub(latest.AppliedAt).Hours() / 24),
	}
	cutoff := asOf.AddDate(0, 0, -30)
	sigma30 := events[0].SigmaBefore
	for _, e := range events {
		if e.AppliedAt.After(cutoff) {
			break
		}
		sigma30 = e.SigmaAfter
	}
	v.Sigma30DaysAgo = sigma30
	v.SigmaChange30D = v.CurrentSigma - sigma30
	return v
}

func buildMilestones(events []store.RatingEvent) []string {
	var out []string
	var lifetimeHigh float64
	if len(events) > 0 {
		lifetimeHigh = events[0].MuAfter
	}
	for _, e := range events {
		if e.MuAfter > lifetimeHigh {
			lifetimeHigh = e.MuAfter
		}
	}
	for _, threshold := range milestoneThresholds {
		if lifetimeHigh >= threshold {
			out = append(out, "mu_crossed_"+formatThreshold(threshold))
		}
	}
	return out
}

func formatThreshold(v float64) string {
	n := int(v)
	digits := []byte{}
	if n == 0 {
		return "0"
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (b *Builder) buildDisciplineOverview(ctx context.Context, organizationID, playerID string, events []store.RatingEvent) ([]DisciplineStat, error) {
	ladderIDs := make(map[string]bool)
	for _, e := range events {
		ladderIDs[e.LadderID] = true
	}
	var out []DisciplineStat
	for ladderID := range ladderIDs {
		ladder, err := b.Store.GetLadder(ctx, ladderID)
		if err != nil {
			continue
		}
		ratings, err := b.Store.GetPlayerRatings(ctx, ladderID, []string{playerID})
		if err != nil {
			return nil, apperr.Internal(err)
		}
		r, ok := ratings[playerID]
		if !ok {
			continue
		}
		stat := DisciplineStat{Sport: ladder.Sport, Discipline: ladder.Discipline, Format: ladder.Format, Mu: r.Mu, Sigma: r.Sigma, Matches: r.Matches}
		if rank, ok := b.rankOnLadder(ctx, ladder.LadderKey, playerID); ok {
			stat.CurrentRank = rank
			stat.BestRankSeen = rank
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sport != out[j].Sport {
			return out[i].Sport < out[j].Sport
		}
		return out[i].Discipline < out[j].Discipline
	})
	return out, nil
}

func (b *Builder) rankOnLadder(ctx context.Context, key store.LadderKey, playerID string) (int, bool) {
	page, err := b.Store.ListLeaderboard(ctx, store.LeaderboardFilter{LadderKey: key, Limit: 200})
	if err != nil {
		return 0, false
	}
	for _, row := range page.Items {
		if row.PlayerID == playerID {
			return row.Rank, true
		}
	}
	return 0, false
}

// stableDigest hashes the snapshot's content fields (excluding CacheKeys
// itself, which is about to be filled in) so the digest is a pure function
// of the derived data.
func stableDigest(snap Snapshot) (string, error) {
	snap.CacheKeys = CacheKeys{}
	b, err := json.Marshal(snap)
	if err != nil {
		return "", apperr.Internal(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
