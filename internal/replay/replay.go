// Package replay implements the chronological replay engine (C6): when an
// out-of-order match perturbs a ladder's history, this rebuilds every
// affected player's (mu, sigma) and every affected pair's gamma by
// re-running every match on the ladder from the earliest perturbed point
// forward, in chronological order, per spec.md §4.4.
package replay

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/normalize"
	"github.com/openrating/core/internal/rating"
	"github.com/openrating/core/internal/ratingparams"
	"github.com/openrating/core/internal/store"
)

// Engine is the C6 component.
type Engine struct {
	Store      store.RatingStore
	Normalizer *normalize.Registry
	Params     *ratingparams.Params
}

// Input selects which ladder to replay and from when. From is optional:
// when zero, the engine reads the ladder's ReplayQueueEntry to find t0.
type Input struct {
	LadderID string
	From     *time.Time
	DryRun   bool
}

// Report is what Replay returns, whether or not DryRun is set.
type Report struct {
	ReplayFrom      time.Time
	ReplayTo        time.Time
	MatchesProcessed int
	PlayersTouched   int
	PairUpdates      int
}

// Replay runs the full §4.4 algorithm for one ladder.
func (e *Engine) Replay(ctx context.Context, in Input) (Report, error) {
	t0, err := e.resolveT0(ctx, in)
	if err != nil {
		return Report{}, err
	}

	// Step 5: load every match on this ladder from t0 forward, chronological.
	matches, err := e.Store.ListMatchesFromLadder(ctx, in.LadderID, t0)
	if err != nil {
		return Report{}, apperr.Internal(err)
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].StartTime.Equal(matches[j].StartTime) {
			return matches[i].StartTime.Before(matches[j].StartTime)
		}
		return matches[i].MatchID < matches[j].MatchID
	})

	// Step 2-3: the set of players/pairs touched, and their pre-t0 baseline.
	participants, err := e.Store.ParticipantsSince(ctx, in.LadderID, t0)
	if err != nil {
		return Report{}, apperr.Internal(err)
	}
	baseline, err := e.baselineState(ctx, in.LadderID, participants, matches, t0)
	if err != nil {
		return Report{}, err
	}

	// In-memory working copies the replay walk mutates as it goes; these
	// seed from the reverted baseline exactly like a fresh ladder would
	// seed from BaseMu/BaseSigma for a never-before-seen player.
	working := make(map[string]rating.PlayerSnapshot, len(baseline.Ratings))
	for _, r := range baseline.Ratings {
		working[r.PlayerID] = rating.PlayerSnapshot{PlayerID: r.PlayerID, Mu: r.Mu, Sigma: r.Sigma, Matches: r.Matches}
	}
	workingPairs := make(map[string]rating.PairSnapshot, len(baseline.Pairs))
	for _, p := range baseline.Pairs {
		workingPairs[p.PairKey] = rating.PairSnapshot{PairKey: p.PairKey, Gamma: p.Gamma, Matches: p.Matches}
	}

	report := Report{ReplayFrom: t0}
	touched := make(map[string]bool)
	pairUpdateCount := 0
	var writes []store.MatchWrite
	var replayTo time.Time

	for _, m := range matches {
		if m.RatingStatus != store.RatingStatusRated {
			continue
		}
		replayTo = m.StartTime

		for _, id := range append(append([]string{}, m.Sides.A...), m.Sides.B...) {
			if _, ok := working[id]; !ok {
				working[id] = rating.PlayerSnapshot{PlayerID: id, Mu: e.Params.BaseMu, Sigma: e.Params.BaseSigma, Matches: 0}
			}
		}
		for _, key := range append(samePairKeys(m.Sides.A), samePairKeys(m.Sides.B)...) {
			if _, ok := workingPairs[key]; !ok {
				workingPairs[key] = rating.PairSnapshot{PairKey: key, Gamma: 0, Matches: 0}
			}
		}

		// Re-derive winner and mov_weight the same way ingestion originally
		// did: run the stored games back through C2. Formats are pure
		// functions of (sides, games), so this reproduces the original
		// verdict exactly rather than inferring it from rating-event signs.
		matchInput, err := e.Normalizer.Normalize(e.Params, normalize.Submission{
			Sport: m.Sport, Discipline: m.Discipline, Format: m.Format,
			SideA: m.Sides.A, SideB: m.Sides.B, Games: fromStoreGames(m.Games),
		})
		if err != nil || matchInput.Winner == nil {
			// A match that was RATED at ingestion time must still normalize
			// to a winner; treat a normalizer regression as a skip rather
			// than aborting the whole replay.
			continue
		}
		winner := *matchInput.Winner
		movWeight := matchInput.MovWeight

		out := rating.Apply(e.Params, rating.Input{
			SideAPlayers: m.Sides.A, SideBPlayers: m.Sides.B, Winner: winner, MovWeight: movWeight,
			Players: working, Pairs: workingPairs,
		})

		now := time.Now().UTC()
		write := store.MatchWrite{Match: m}
		for _, pr := range out.PerPlayer {
			touched[pr.PlayerID] = true
			working[pr.PlayerID] = rating.PlayerSnapshot{PlayerID: pr.PlayerID, Mu: pr.MuAfter, Sigma: pr.SigmaAfter, Matches: working[pr.PlayerID].Matches + 1}
			write.Ratings = append(write.Ratings, store.PlayerRating{
				PlayerID: pr.PlayerID, LadderID: in.LadderID, Mu: pr.MuAfter, Sigma: pr.SigmaAfter,
				Matches: working[pr.PlayerID].Matches, UpdatedAt: now,
			})
			write.RatingEvents = append(write.RatingEvents, store.RatingEvent{
				RatingEventID: uuid.New().String(), OrganizationID: m.OrganizationID, PlayerID: pr.PlayerID,
				LadderID: in.LadderID, MatchID: m.MatchID, AppliedAt: m.StartTime,
				MuBefore: pr.MuBefore, MuAfter: pr.MuAfter, Delta: pr.Delta,
				SigmaBefore: pr.SigmaBefore, SigmaAfter: pr.SigmaAfter, WinProbPre: pr.WinProbPre,
				MovWeight: movWeight,
			})
		}
		for _, pr := range out.PairUpdates {
			pairUpdateCount++
			workingPairs[pr.PairKey] = rating.PairSnapshot{PairKey: pr.PairKey, Gamma: pr.GammaAfter, Matches: pr.MatchesAfter}
			write.Pairs = append(write.Pairs, store.PairSynergy{
				LadderID: in.LadderID, PairKey: pr.PairKey, Gamma: pr.GammaAfter, Matches: pr.MatchesAfter, UpdatedAt: now,
			})
			write.PairHistory = append(write.PairHistory, store.PairSynergyHistory{
				HistoryID: uuid.New().String(), OrganizationID: m.OrganizationID, LadderID: in.LadderID,
				PairKey: pr.PairKey, MatchID: m.MatchID, AppliedAt: m.StartTime,
				GammaBefore: pr.GammaBefore, GammaAfter: pr.GammaAfter, Delta: pr.Delta,
				MatchesBefore: pr.MatchesBefore, MatchesAfter: pr.MatchesAfter, Activated: pr.Activated,
			})
		}
		writes = append(writes, write)
		report.MatchesProcessed++
	}
	report.ReplayTo = replayTo
	report.PlayersTouched = len(touched)
	report.PairUpdates = pairUpdateCount

	if in.DryRun {
		return report, nil
	}

	if err := e.Store.ReplayCommit(ctx, in.LadderID, t0, baseline, writes); err != nil {
		return Report{}, apperr.Internal(err)
	}
	if err := e.Store.DeleteReplayQueueEntry(ctx, in.LadderID); err != nil {
		return Report{}, apperr.Internal(err)
	}
	return report, nil
}

func (e *Engine) resolveT0(ctx context.Context, in Input) (time.Time, error) {
	if in.From != nil {
		return *in.From, nil
	}
	entry, ok, err := e.Store.GetReplayQueueEntry(ctx, in.LadderID)
	if err != nil {
		return time.Time{}, apperr.Internal(err)
	}
	if !ok {
		return time.Time{}, apperr.New(apperr.KindNotFound, "no replay queue entry for this ladder")
	}
	return entry.EarliestStartTime, nil
}

// baselineState computes the pre-t0 (μ,σ)/(γ) for every touched player/pair,
// per §4.4 step 3: the most recent RatingEvent/PairSynergyHistory strictly
// before t0, or the prior-never-touched default.
func (e *Engine) baselineState(ctx context.Context, ladderID string, participants []string, matches []store.Match, t0 time.Time) (store.RevertedState, error) {
	var out store.RevertedState
	for _, playerID := range participants {
		evt, ok, err := e.Store.LatestRatingEventBefore(ctx, ladderID, playerID, t0)
		if err != nil {
			return store.RevertedState{}, apperr.Internal(err)
		}
		if ok {
			out.Ratings = append(out.Ratings, store.PlayerRating{PlayerID: playerID, LadderID: ladderID, Mu: evt.MuAfter, Sigma: evt.SigmaAfter})
		}
		// If !ok, the player has no pre-t0 history on this ladder; the
		// replay walk below seeds them at BaseMu/BaseSigma the first time
		// they appear, matching a fresh ladder's behavior exactly.
	}

	pairKeys := make(map[string]bool)
	for _, m := range matches {
		for _, key := range append(samePairKeys(m.Sides.A), samePairKeys(m.Sides.B)...) {
			pairKeys[key] = true
		}
	}
	for key := range pairKeys {
		h, ok, err := e.Store.LatestPairHistoryBefore(ctx, ladderID, key, t0)
		if err != nil {
			return store.RevertedState{}, apperr.Internal(err)
		}
		if ok {
			out.Pairs = append(out.Pairs, store.PairSynergy{LadderID: ladderID, PairKey: key, Gamma: h.GammaAfter, Matches: h.MatchesAfter})
		}
	}
	return out, nil
}

func fromStoreGames(games []store.Game) []normalize.RawGame {
	out := make([]normalize.RawGame, len(games))
	for i, g := range games {
		out[i] = normalize.RawGame{GameNo: g.GameNo, A: g.A, B: g.B}
	}
	return out
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
