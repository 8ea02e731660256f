package normalize

import (
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/rating"
	"github.com/openrating/core/internal/ratingparams"
)

// BadmintonRallyRule implements the 21-point rally-scoring format for
// singles and doubles. MarginCap is a per-game allowance: the margin sum
// is divided by MarginCap times the number of games to scale mov_weight.
// A rally-21 game's margin is at most 21, so a cap of 30 is never reached
// (e.g. 21-10/9-21/21-12 sums to 32 of 90).
type BadmintonRallyRule struct {
	PlayersPerSide int
	MarginCap      float64
}

// NewBadmintonSingles returns the singles rally-scoring rule.
func NewBadmintonSingles() *BadmintonRallyRule {
	return &BadmintonRallyRule{PlayersPerSide: 1, MarginCap: 30}
}

// NewBadmintonDoubles returns the doubles rally-scoring rule.
func NewBadmintonDoubles() *BadmintonRallyRule {
	return &BadmintonRallyRule{PlayersPerSide: 2, MarginCap: 30}
}

func (r *BadmintonRallyRule) Normalize(p *ratingparams.Params, s Submission) (MatchInput, error) {
	if err := sideShape(s.SideA, s.SideB, r.PlayersPerSide); err != nil {
		return MatchInput{}, err
	}
	games, err := sortedUniqueGames(s.Games)
	if err != nil {
		return MatchInput{}, err
	}
	if len(games) == 0 {
		// A scoreless submission is valid but unrated (§4.3).
		return MatchInput{
			Sport: s.Sport, Discipline: s.Discipline, Format: s.Format,
			SideA: s.SideA, SideB: s.SideB, Games: games,
		}, nil
	}

	aWins, bWins := 0, 0
	var marginSum float64
	for _, g := range games {
		if err := validateRallyGame(g); err != nil {
			return MatchInput{}, err
		}
		if g.A > g.B {
			aWins++
			marginSum += float64(g.A - g.B)
		} else {
			bWins++
			marginSum += float64(g.B - g.A)
		}
	}
	if aWins == bWins {
		return MatchInput{}, apperr.New(apperr.KindValidation, "badminton match cannot end tied on games")
	}

	winner := rating.SideA
	if bWins > aWins {
		winner = rating.SideB
	}

	return MatchInput{
		Sport: s.Sport, Discipline: s.Discipline, Format: s.Format,
		SideA: s.SideA, SideB: s.SideB, Games: games,
		Winner:    sideRef(winner),
		MovWeight: movWeightFromMargins(p, marginSum, r.MarginCap*float64(len(games))),
	}, nil
}

// validateRallyGame enforces 21-point rally scoring: the winning score is in
// [21,30]; if it is 21-29 the winner must lead by at least 2 at deuce
// (i.e. both scores >= 20 requires a 2-point margin); a game capped at 30
// can win 30-29.
func validateRallyGame(g RawGame) error {
	if g.A < 0 || g.B < 0 {
		return apperr.Newf(apperr.KindValidation, "game %d: scores must be non-negative", g.GameNo)
	}
	if g.A == g.B {
		return apperr.Newf(apperr.KindValidation, "game %d: cannot tie", g.GameNo)
	}
	high, low := g.A, g.B
	if low > high {
		high, low = low, high
	}
	if high < 21 || high > 30 {
		return apperr.Newf(apperr.KindValidation, "game %d: winning score %d out of range [21,30]", g.GameNo, high)
	}
	if high == 30 {
		if low < 28 {
			return apperr.Newf(apperr.KindValidation, "game %d: 30-point game requires opponent score >= 28", g.GameNo)
		}
		return nil
	}
	if high == 21 {
		if low <= 19 {
			return nil
		}
		return apperr.Newf(apperr.KindValidation, "game %d: at deuce the winner needs a 2-point lead", g.GameNo)
	}
	// 22-29: deuce territory, must win by exactly 2.
	if high-low != 2 {
		return apperr.Newf(apperr.KindValidation, "game %d: deuce game must be won by exactly 2 points", g.GameNo)
	}
	return nil
}
