// Package ingest implements the ingestion coordinator (C5): the single
// public record_match operation that orchestrates C2 (normalize) -> C3
// (rating update) -> C4 (store) inside one logical transaction, per
// spec.md §4.3.
package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/authz"
	"github.com/openrating/core/internal/jobqueue"
	"github.com/openrating/core/internal/normalize"
	"github.com/openrating/core/internal/rating"
	"github.com/openrating/core/internal/ratingparams"
	"github.com/openrating/core/internal/store"
)

// RequiredScope is the token scope record_match requires, checked by the
// Authorizer once the organization is resolved and the submission
// normalized.
const RequiredScope = "matches:write"

// Submission is the external caller's raw request, the input to
// record_match.
type Submission struct {
	ProviderID     string
	ExternalRef    string
	OrganizationID string
	Sport          string
	Discipline     string
	Format         string
	Tier           string
	RegionID       string
	StartTime      time.Time
	SideA          []string
	SideB          []string
	Games          []normalize.RawGame
	RawPayload     []byte
	EventID        string
	CompetitionID  string
	VenueID        string
}

// Result is record_match's response.
type Result struct {
	MatchID      string
	RatingEvents []store.RatingEvent
	RatingStatus store.RatingStatus
}

// Coordinator is the C5 component. It holds no mutable state of its own —
// everything lives in Store or Queue.
type Coordinator struct {
	Store      store.RatingStore
	Normalizer *normalize.Registry
	Params     *ratingparams.Params
	Authorizer authz.Authorizer
	Queue      jobqueue.Queue
}

// RecordMatch runs the full §4.3 pipeline. subject is the caller's
// authenticated identity (see internal/authz); pass authz.Subject{} with
// AUTH_DISABLE wiring an AllowAll authorizer for local dev.
func (c *Coordinator) RecordMatch(ctx context.Context, subject authz.Subject, sub Submission) (Result, error) {
	// Step 1: resolve organization.
	org, err := c.Store.GetOrganization(ctx, sub.OrganizationID)
	if err != nil {
		return Result{}, apperr.New(apperr.KindInvalidOrganization, "unknown organization")
	}

	// External-ref dedupe: a repeat submission with the same (provider,
	// external_ref) returns the original result without re-running anything.
	if sub.ExternalRef != "" {
		if existing, ok, err := c.Store.FindMatchByExternalRef(ctx, sub.ProviderID, sub.ExternalRef); err == nil && ok {
			events, _ := c.ratingEventsForMatch(ctx, existing)
			return Result{MatchID: existing.MatchID, RatingEvents: events, RatingStatus: existing.RatingStatus}, nil
		}
	}

	// Step 2: normalize via C2.
	matchInput, err := c.Normalizer.Normalize(c.Params, normalize.Submission{
		Sport: sub.Sport, Discipline: sub.Discipline, Format: sub.Format,
		SideA: sub.SideA, SideB: sub.SideB, Games: sub.Games,
	})
	if err != nil {
		return Result{}, err
	}

	// Step 3: authorization.
	if err := c.Authorizer.Authorize(ctx, subject, RequiredScope, org.OrganizationID, sub.Sport, sub.RegionID); err != nil {
		return Result{}, err
	}

	// Step 4: ensure participants exist and belong to this organization.
	allPlayers := append(append([]string{}, matchInput.SideA...), matchInput.SideB...)
	players, err := c.Store.GetPlayersByID(ctx, allPlayers)
	if err != nil {
		return Result{}, apperr.Internal(err)
	}
	var missing, wrongOrg []string
	for _, id := range allPlayers {
		p, ok := players[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if p.OrganizationID != org.OrganizationID {
			wrongOrg = append(wrongOrg, id)
		}
	}
	if len(missing) > 0 || len(wrongOrg) > 0 {
		return Result{}, apperr.New(apperr.KindInvalidPlayers, "one or more participants are invalid").
			WithDetails(map[string][]string{"missing": missing, "wrong_organization": wrongOrg})
	}

	// Step 5: ensure the ladder row.
	ladderKey := store.LadderKey{
		OrganizationID: org.OrganizationID,
		Sport:          sub.Sport,
		Discipline:     sub.Discipline,
		Format:         sub.Format,
		Tier:           sub.Tier,
		RegionID:       sub.RegionID,
	}.Normalize()
	ladder, err := c.Store.EnsureLadder(ctx, ladderKey)
	if err != nil {
		return Result{}, apperr.Internal(err)
	}

	matchID := uuid.New().String()

	// Unrated path: normalizer produced no winner.
	if matchInput.Winner == nil {
		m := store.Match{
			MatchID: matchID, LadderID: ladder.LadderID, ProviderID: sub.ProviderID,
			OrganizationID: org.OrganizationID, Sport: sub.Sport, Discipline: sub.Discipline,
			Format: sub.Format, Tier: ladderKey.Tier, RegionID: ladderKey.RegionID,
			StartTime: sub.StartTime, Sides: store.MatchSides{A: matchInput.SideA, B: matchInput.SideB},
			Games: toStoreGames(matchInput.Games), RawPayload: sub.RawPayload,
			RatingStatus: store.RatingStatusUnrated, RatingSkipReason: "normalizer produced no winner",
			EventID: sub.EventID, CompetitionID: sub.CompetitionID, ExternalRef: sub.ExternalRef,
			VenueID: sub.VenueID,
		}
		if err := c.Store.CommitMatch(ctx, store.MatchWrite{Match: m}); err != nil {
			return Result{}, apperr.Internal(err)
		}
		return Result{MatchID: matchID, RatingStatus: store.RatingStatusUnrated}, nil
	}

	// Step 6: read current snapshots.
	ratingSnaps, err := c.Store.GetPlayerRatings(ctx, ladder.LadderID, allPlayers)
	if err != nil {
		return Result{}, apperr.Internal(err)
	}
	ratingInputs := make(map[string]rating.PlayerSnapshot, len(allPlayers))
	for _, id := range allPlayers {
		if r, ok := ratingSnaps[id]; ok {
			ratingInputs[id] = rating.PlayerSnapshot{PlayerID: id, Mu: r.Mu, Sigma: r.Sigma, Matches: r.Matches}
		} else {
			ratingInputs[id] = rating.PlayerSnapshot{PlayerID: id, Mu: c.Params.BaseMu, Sigma: c.Params.BaseSigma, Matches: 0}
		}
	}

	pairKeys := append(samePairKeys(matchInput.SideA), samePairKeys(matchInput.SideB)...)
	pairSnapsStore, err := c.Store.GetPairSynergies(ctx, ladder.LadderID, pairKeys)
	if err != nil {
		return Result{}, apperr.Internal(err)
	}
	pairInputs := make(map[string]rating.PairSnapshot, len(pairKeys))
	for _, key := range pairKeys {
		if p, ok := pairSnapsStore[key]; ok {
			pairInputs[key] = rating.PairSnapshot{PairKey: key, Gamma: p.Gamma, Matches: p.Matches}
		} else {
			pairInputs[key] = rating.PairSnapshot{PairKey: key, Gamma: 0, Matches: 0}
		}
	}

	// Step 7: invoke C3.
	out := rating.Apply(c.Params, rating.Input{
		SideAPlayers: matchInput.SideA,
		SideBPlayers: matchInput.SideB,
		Winner:       *matchInput.Winner,
		MovWeight:    matchInput.MovWeight,
		Players:      ratingInputs,
		Pairs:        pairInputs,
	})

	// Step 8-9: assemble the atomic write.
	now := time.Now().UTC()
	m := store.Match{
		MatchID: matchID, LadderID: ladder.LadderID, ProviderID: sub.ProviderID,
		OrganizationID: org.OrganizationID, Sport: sub.Sport, Discipline: sub.Discipline,
		Format: sub.Format, Tier: ladderKey.Tier, RegionID: ladderKey.RegionID,
		StartTime: sub.StartTime, Sides: store.MatchSides{A: matchInput.SideA, B: matchInput.SideB},
		Games: toStoreGames(matchInput.Games), RawPayload: sub.RawPayload,
		RatingStatus: store.RatingStatusRated,
		EventID:      sub.EventID, CompetitionID: sub.CompetitionID, ExternalRef: sub.ExternalRef,
		VenueID: sub.VenueID,
	}

	write := store.MatchWrite{Match: m}
	for _, pr := range out.PerPlayer {
		write.Ratings = append(write.Ratings, store.PlayerRating{
			PlayerID: pr.PlayerID, LadderID: ladder.LadderID, Mu: pr.MuAfter, Sigma: pr.SigmaAfter,
			Matches: ratingInputs[pr.PlayerID].Matches + 1, UpdatedAt: now,
		})
		write.RatingEvents = append(write.RatingEvents, store.RatingEvent{
			RatingEventID: uuid.New().String(), OrganizationID: org.OrganizationID, PlayerID: pr.PlayerID,
			LadderID: ladder.LadderID, MatchID: matchID, AppliedAt: now,
			MuBefore: pr.MuBefore, MuAfter: pr.MuAfter, Delta: pr.Delta,
			SigmaBefore: pr.SigmaBefore, SigmaAfter: pr.SigmaAfter, WinProbPre: pr.WinProbPre,
			MovWeight: matchInput.MovWeight,
		})
	}
	for _, pr := range out.PairUpdates {
		write.Pairs = append(write.Pairs, store.PairSynergy{
			LadderID: ladder.LadderID, PairKey: pr.PairKey, Gamma: pr.GammaAfter, Matches: pr.MatchesAfter, UpdatedAt: now,
		})
		write.PairHistory = append(write.PairHistory, store.PairSynergyHistory{
			HistoryID: uuid.New().String(), OrganizationID: org.OrganizationID, LadderID: ladder.LadderID,
			PairKey: pr.PairKey, MatchID: matchID, AppliedAt: now,
			GammaBefore: pr.GammaBefore, GammaAfter: pr.GammaAfter, Delta: pr.Delta,
			MatchesBefore: pr.MatchesBefore, MatchesAfter: pr.MatchesAfter, Activated: pr.Activated,
		})
	}

	// Step 10: out-of-order check, before committing so the queue entry and
	// the match land together from the caller's point of view.
	maxStart, hasMatches, err := c.Store.MaxStartTime(ctx, ladder.LadderID)
	if err != nil {
		return Result{}, apperr.Internal(err)
	}
	outOfOrder := hasMatches && sub.StartTime.Before(maxStart)

	if err := c.Store.CommitMatch(ctx, write); err != nil {
		return Result{}, apperr.Internal(err)
	}

	if outOfOrder {
		if err := c.Store.UpsertReplayQueueEntry(ctx, ladder.LadderID, sub.StartTime); err != nil {
			return Result{}, apperr.Internal(err)
		}
		if c.Queue != nil {
			if _, err := c.Queue.Enqueue(ctx, jobqueue.EnqueueInput{
				Kind: jobqueue.KindReplay, ScopeKey: ladder.LadderID, RunAt: now, Dedupe: true,
			}); err != nil {
				return Result{}, apperr.Internal(err)
			}
		}
	}

	if c.Queue != nil {
		for _, pr := range out.PerPlayer {
			if _, err := c.Queue.Enqueue(ctx, jobqueue.EnqueueInput{
				Kind: jobqueue.KindInsightRefresh, ScopeKey: insightScopeKey(org.OrganizationID, pr.PlayerID), RunAt: now, Dedupe: true,
			}); err != nil {
				return Result{}, apperr.Internal(err)
			}
		}
	}

	// Step 11: return.
	return Result{MatchID: matchID, RatingEvents: write.RatingEvents, RatingStatus: store.RatingStatusRated}, nil
}

func insightScopeKey(organizationID, playerID string) string {
	return organizationID + "|" + playerID
}

func (c *Coordinator) ratingEventsForMatch(ctx context.Context, m store.Match) ([]store.RatingEvent, error) {
	var out []store.RatingEvent
	for _, id := range append(append([]string{}, m.Sides.A...), m.Sides.B...) {
		events, err := c.Store.ListRatingEvents(ctx, m.OrganizationID, id, "", 0)
		if err != nil {
			continue
		}
		for _, e := range events.Items {
			if e.MatchID == m.MatchID {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func samePairKeys(players []string) []string {
	var keys []string
	for i := 0; i < len(players); i++ {
		for j := i + 1; j < len(players); j++ {
			keys = append(keys, rating.PairKey(players[i], players[j]))
		}
	}
	sort.Strings(keys)
	return keys
}

func toStoreGames(games []normalize.RawGame) []store.Game {
	out := make([]store.Game, len(games))
	for i, g := range games {
		out[i] = store.Game{GameNo: g.GameNo, A: g.A, B: g.B}
	}
	return out
}
