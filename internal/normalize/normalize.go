// Package normalize implements the format normalizer (C2): a registry of
// per-(sport, discipline, format) rules that validate a raw submission and
// derive a winner plus margin-of-victory weight before the ingestion
// coordinator ever touches the rating updater. It is pure CPU — no
// suspension points, per spec.md §5 — mirroring the teacher's
// computeEloUpdates in that it never reaches for a clock or the store.
package normalize

import (
	"sort"

	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/rating"
	"github.com/openrating/core/internal/ratingparams"
)

// RawGame is one caller-submitted game score before validation.
type RawGame struct {
	GameNo int
	A      int
	B      int
}

// Submission is the raw, untrusted match payload handed to C2.
type Submission struct {
	Sport      string
	Discipline string
	Format     string
	SideA      []string
	SideB      []string
	Games      []RawGame
}

// MatchInput is what C2 hands to the ingestion coordinator: a validated
// submission with a derived winner and mov_weight, ready for C3. A nil
// Winner means the submission is a valid but scoreless/archival record —
// the coordinator writes it UNRATED per §4.3.
type MatchInput struct {
	Sport      string
	Discipline string
	Format     string
	SideA      []string
	SideB      []string
	Games      []RawGame
	Winner     *rating.Side
	MovWeight  float64
}

// Rule is one registered (sport, discipline, format) handler.
type Rule interface {
	// Normalize validates the submission and derives winner + mov_weight.
	// It must not mutate s.
	Normalize(p *ratingparams.Params, s Submission) (MatchInput, error)
}

// Key identifies one registry entry.
type Key struct {
	Sport      string
	Discipline string
	Format     string
}

// Registry maps (sport, discipline, format) to its Rule.
type Registry struct {
	rules map[Key]Rule
}

// NewRegistry returns an empty registry. Use RegisterDefaults to populate it
// with the rules this repo ships.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[Key]Rule)}
}

// Register adds or replaces the rule for a (sport, discipline, format) triple.
func (r *Registry) Register(key Key, rule Rule) {
	r.rules[key] = rule
}

// Normalize looks up the registered rule and runs it. Returns an
// unsupported_format apperr.Error if none is registered.
func (r *Registry) Normalize(p *ratingparams.Params, s Submission) (MatchInput, error) {
	key := Key{Sport: s.Sport, Discipline: s.Discipline, Format: s.Format}
	rule, ok := r.rules[key]
	if !ok {
		return MatchInput{}, apperr.Newf(apperr.KindUnsupportedFormat, "no normalizer registered for %s/%s/%s", s.Sport, s.Discipline, s.Format)
	}
	return rule.Normalize(p, s)
}

// sideShape validates side cardinality for a fixed singles/doubles team
// size. Shared by every racquet-sport rule in this package.
func sideShape(sideA, sideB []string, playersPerSide int) error {
	if len(sideA) != playersPerSide || len(sideB) != playersPerSide {
		return apperr.Newf(apperr.KindValidation, "each side must have exactly %d player(s)", playersPerSide)
	}
	seen := make(map[string]bool, playersPerSide*2)
	for _, id := range sideA {
		if seen[id] {
			return apperr.New(apperr.KindValidation, "duplicate player within a side")
		}
		seen[id] = true
	}
	for _, id := range sideB {
		if seen[id] {
			return apperr.New(apperr.KindValidation, "player appears on both sides")
		}
		seen[id] = true
	}
	return nil
}

// sortedUniqueGames sorts games by game_no and verifies strict ascending
// uniqueness, per §4.2.
func sortedUniqueGames(games []RawGame) ([]RawGame, error) {
	out := make([]RawGame, len(games))
	copy(out, games)
	sort.Slice(out, func(i, j int) bool { return out[i].GameNo < out[j].GameNo })
	for i := 1; i < len(out); i++ {
		if out[i].GameNo == out[i-1].GameNo {
			return nil, apperr.Newf(apperr.KindValidation, "duplicate game_no %d", out[i].GameNo)
		}
	}
	return out, nil
}

// movWeightFromMargins scales the total per-game margin (winner points minus
// loser points, summed across games) into [mov_min, mov_max] via a capped
// linear function, per §4.2 "compute mov_weight via a capped function of
// per-game margin sums". marginCap is the margin sum beyond which mov_weight
// saturates at mov_max.
func movWeightFromMargins(p *ratingparams.Params, marginSum, marginCap float64) float64 {
	if marginCap <= 0 {
		return p.MovMin
	}
	frac := marginSum / marginCap
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return p.MovMin + frac*(p.MovMax-p.MovMin)
}

func sideRef(a rating.Side) *rating.Side {
	v := a
	return &v
}
