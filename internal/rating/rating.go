// Package rating implements the TrueSkill-style Bayesian rating update
// (C3 in the spec): a pure, deterministic function from a match plus
// per-player and per-pair snapshots to rating deltas. It never touches a
// database, a clock, or a random source — determinism (P5) falls out of
// that by construction.
package rating

import (
	"fmt"
	"math"
	"sort"

	"github.com/openrating/core/internal/ratingparams"
)

// Side identifies one of the two sides of a match.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// PlayerSnapshot is the state of one player on a ladder immediately before
// a match, handed to the updater by the ingestion coordinator or replay
// engine.
type PlayerSnapshot struct {
	PlayerID string
	Mu       float64
	Sigma    float64
	Matches  int
}

// PairSnapshot is the synergy state of a same-side pair immediately before
// a match.
type PairSnapshot struct {
	PairKey string
	Gamma   float64
	Matches int
}

// Input is the normalized match plus every snapshot the updater needs.
// Constructing this correctly (i.e. never missing a participant's
// snapshot) is the coordinator's job — per §4.1, a missing snapshot here
// is a programmer error and Apply panics rather than silently mis-rating.
type Input struct {
	SideAPlayers []string
	SideBPlayers []string
	Winner       Side
	MovWeight    float64 // already clamped into [mov_min, mov_max] by the normalizer

	Players map[string]PlayerSnapshot
	// Pairs maps a sorted pair key (see PairKey) to its synergy snapshot.
	// Only present for doubles; nil/absent entries are allowed when a pair
	// has never played together (treated as zero-state).
	Pairs map[string]PairSnapshot

	// BaseK is the format-specific base step from §4.1 step 4.
	BaseK float64
}

// PlayerResult is the per-player outcome of one rating update.
type PlayerResult struct {
	PlayerID   string
	MuBefore   float64
	MuAfter    float64
	Delta      float64
	SigmaBefore float64
	SigmaAfter float64
	WinProbPre float64
}

// PairResult is the per-pair synergy outcome of one rating update.
type PairResult struct {
	PairKey       string
	GammaBefore   float64
	GammaAfter    float64
	Delta         float64
	MatchesBefore int
	MatchesAfter  int
	Activated     bool
}

// Output is everything Apply produces for one match.
type Output struct {
	PerPlayer      []PlayerResult
	PairUpdates    []PairResult
	TeamDelta      float64
	WinProbability float64
}

// PairKey returns the canonical sorted join of two player ids, the key
// used for PairSnapshot/PairResult lookups throughout the engine.
func PairKey(a, b string) string {
	if a <= b {
		return a + "|" + b
	}
	return b + "|" + a
}

// samePairsOf returns the canonical pair keys for every 2-combination of
// players on one side (doubles has exactly one pair; larger formats would
// have more, though the normalizer only ever emits singles/doubles today).
func samePairsOf(players []string) []string {
	var keys []string
	for i := 0; i < len(players); i++ {
		for j := i + 1; j < len(players); j++ {
			keys = append(keys, PairKey(players[i], players[j]))
		}
	}
	sort.Strings(keys)
	return keys
}

// phi is the standard normal CDF, computed via math.Erf as is conventional
// for TrueSkill-style implementations (no external stats library needed
// for a single CDF evaluation).
func phi(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// Apply runs the full per-match update described in spec.md §4.1. It
// panics if in.Players is missing a snapshot for any participant — that is
// a coordinator bug, not a recoverable runtime condition (§4.1: "the
// updater never fails; missing snapshots are a programmer error the
// coordinator must prevent").
func Apply(p *ratingparams.Params, in Input) Output {
	allPlayers := append(append([]string{}, in.SideAPlayers...), in.SideBPlayers...)
	for _, id := range allPlayers {
		if _, ok := in.Players[id]; !ok {
			panic(fmt.Sprintf("rating.Apply: missing snapshot for participant %q", id))
		}
	}

	k := in.BaseK
	if k == 0 {
		k = p.BaseK
	}

	muA, sigmaSqSumA := teamMeanAndSigmaSq(p, in.Players, in.SideAPlayers, in.Pairs, samePairsOf(in.SideAPlayers))
	muB, sigmaSqSumB := teamMeanAndSigmaSq(p, in.Players, in.SideBPlayers, in.Pairs, samePairsOf(in.SideBPlayers))

	n := len(allPlayers)
	sigmaSqTotal := sigmaSqSumA + sigmaSqSumB + float64(n)*p.Beta*p.Beta
	sigmaTotal := math.Sqrt(sigmaSqTotal)

	var winProb float64
	var muWinner, muLoser float64
	if in.Winner == SideA {
		muWinner, muLoser = muA, muB
	} else {
		muWinner, muLoser = muB, muA
	}
	winProb = phi((muWinner - muLoser) / sigmaTotal)

	movWeight := in.MovWeight
	if movWeight < p.MovMin {
		movWeight = p.MovMin
	}
	if movWeight > p.MovMax {
		movWeight = p.MovMax
	}

	teamDelta := k * movWeight * (1 - winProb)

	out := Output{
		TeamDelta:      teamDelta,
		WinProbability: winProb,
	}

	// winProb is the winning side's pre-match probability of winning, which
	// can be below 0.5 on an upset; the loser's pre-match probability is
	// always its complement. Assign by which side actually won, not by the
	// A/B label, since the side that won varies per match.
	preWinProbA, preWinProbB := 1-winProb, winProb
	if in.Winner == SideA {
		preWinProbA, preWinProbB = winProb, 1-winProb
	}

	out.PerPlayer = append(out.PerPlayer, splitSide(p, in.Players, in.SideAPlayers, teamDelta, in.Winner == SideA, preWinProbA, sigmaSqTotal)...)
	out.PerPlayer = append(out.PerPlayer, splitSide(p, in.Players, in.SideBPlayers, teamDelta, in.Winner == SideB, preWinProbB, sigmaSqTotal)...)

	// pairUpdates takes the same winProb magnitude for both sides — only
	// the sign (via isWinningSide) differs between the winning and losing
	// side's synergy delta, per §4.1 step 7.
	out.PairUpdates = append(out.PairUpdates, pairUpdates(p, in.Pairs, in.SideAPlayers, in.Winner == SideA, movWeight, winProb)...)
	out.PairUpdates = append(out.PairUpdates, pairUpdates(p, in.Pairs, in.SideBPlayers, in.Winner == SideB, movWeight, winProb)...)

	return out
}

// teamMeanAndSigmaSq computes a side's combined mean (including activated
// synergy) and the sum of its players' sigma^2, per §4.1 steps 1-2.
func teamMeanAndSigmaSq(p *ratingparams.Params, snaps map[string]PlayerSnapshot, players []string, pairs map[string]PairSnapshot, sidePairs []string) (mu float64, sigmaSqSum float64) {
	for _, id := range players {
		s := snaps[id]
		mu += s.Mu
		sigmaSqSum += s.Sigma * s.Sigma
	}
	if len(players) > 0 {
		mu /= float64(len(players))
	}
	for _, key := range sidePairs {
		if pair, ok := pairs[key]; ok && pair.Matches >= p.SynergyActivation {
			mu += pair.Gamma
		}
	}
	return mu, sigmaSqSum
}

// splitSide distributes a team's delta across its players weighted by
// individual uncertainty (§4.1 step 5) and updates each player's sigma
// against the match's total variance Sigma^2 (§4.1 step 6). isWinningSide
// controls the sign; preWinProb is that side's pre-match win probability
// (winProb or 1-winProb); sigmaSqTotal is Sigma^2 from step 2.
func splitSide(p *ratingparams.Params, snaps map[string]PlayerSnapshot, players []string, teamDelta float64, isWinningSide bool, preWinProb float64, sigmaSqTotal float64) []PlayerResult {
	var sigmaSqSum float64
	for _, id := range players {
		s := snaps[id]
		sigmaSqSum += s.Sigma * s.Sigma
	}

	results := make([]PlayerResult, 0, len(players))
	sign := 1.0
	if !isWinningSide {
		sign = -1.0
	}
	for _, id := range players {
		s := snaps[id]
		weight := 1.0 / float64(len(players))
		if sigmaSqSum > 0 {
			weight = (s.Sigma * s.Sigma) / sigmaSqSum
		}
		delta := sign * teamDelta * weight

		sigmaSq := s.Sigma * s.Sigma
		sigmaAfter := math.Sqrt(math.Max(0, sigmaSq*(1-sigmaSq/sigmaSqTotal)+p.Tau*p.Tau))
		if sigmaAfter < p.SigmaMin {
			sigmaAfter = p.SigmaMin
		}

		results = append(results, PlayerResult{
			PlayerID:    id,
			MuBefore:    s.Mu,
			MuAfter:     s.Mu + delta,
			Delta:       delta,
			SigmaBefore: s.Sigma,
			SigmaAfter:  sigmaAfter,
			WinProbPre:  preWinProb,
		})
	}
	return results
}

// pairUpdates computes the synergy delta for every same-side pair on one
// side, per §4.1 step 7. winProb is the winning side's pre-match win
// probability — the same value for both sides' calls, since step 7 uses a
// single (1-p) magnitude and only flips sign by isWinningSide.
func pairUpdates(p *ratingparams.Params, pairs map[string]PairSnapshot, players []string, isWinningSide bool, movWeight, winProb float64) []PairResult {
	keys := samePairsOf(players)
	results := make([]PairResult, 0, len(keys))
	sign := 1.0
	if !isWinningSide {
		sign = -1.0
	}
	for _, key := range keys {
		snap, ok := pairs[key]
		if !ok {
			snap = PairSnapshot{PairKey: key, Gamma: 0, Matches: 0}
		}
		activated := snap.Matches >= p.SynergyActivation
		var delta float64
		gammaAfter := snap.Gamma
		if activated {
			delta = sign * p.SynergyK * movWeight * (1 - winProb)
			gammaAfter = snap.Gamma + delta
		}
		results = append(results, PairResult{
			PairKey:       key,
			GammaBefore:   snap.Gamma,
			GammaAfter:    gammaAfter,
			Delta:         delta,
			MatchesBefore: snap.Matches,
			MatchesAfter:  snap.Matches + 1,
			Activated:     activated,
		})
	}
	return results
}
