package normalize

import (
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/rating"
	"github.com/openrating/core/internal/ratingparams"
)

// SquashParsRule implements 11-point point-a-rally squash singles: best of
// five, each game to 11 with a 2-point win-by margin and no hard cap. The
// number of games is not checked against best of five; the side with more
// game wins is the winner.
type SquashParsRule struct {
	MarginCap float64
}

// NewSquashSingles returns the singles PARS-11 rule.
func NewSquashSingles() *SquashParsRule {
	return &SquashParsRule{MarginCap: 20}
}

func (r *SquashParsRule) Normalize(p *ratingparams.Params, s Submission) (MatchInput, error) {
	if err := sideShape(s.SideA, s.SideB, 1); err != nil {
		return MatchInput{}, err
	}
	games, err := sortedUniqueGames(s.Games)
	if err != nil {
		return MatchInput{}, err
	}
	if len(games) == 0 {
		return MatchInput{
			Sport: s.Sport, Discipline: s.Discipline, Format: s.Format,
			SideA: s.SideA, SideB: s.SideB, Games: games,
		}, nil
	}

	aWins, bWins := 0, 0
	var marginSum float64
	for _, g := range games {
		if err := validatePars11Game(g); err != nil {
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
		return MatchInput{}, apperr.New(apperr.KindValidation, "squash match cannot end tied on games")
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

func validatePars11Game(g RawGame) error {
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
	if high < 11 {
		return apperr.Newf(apperr.KindValidation, "game %d: winning score must be at least 11", g.GameNo)
	}
	if high-low < 2 {
		return apperr.Newf(apperr.KindValidation, "game %d: winner must lead by at least 2 points", g.GameNo)
	}
	if high > 11 && high-low != 2 {
		return apperr.Newf(apperr.KindValidation, "game %d: beyond 11 the winner must lead by exactly 2", g.GameNo)
	}
	return nil
}
