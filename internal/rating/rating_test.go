package rating

import (
	"math"
	"testing"

	"github.com/openrating/core/internal/ratingparams"
)

func baseSnapshot(id string) PlayerSnapshot {
	return PlayerSnapshot{PlayerID: id, Mu: 1500, Sigma: 350, Matches: 0}
}

func singlesInput(winner Side, movWeight float64) Input {
	return Input{
		SideAPlayers: []string{"p1"},
		SideBPlayers: []string{"p2"},
		Winner:       winner,
		MovWeight:    movWeight,
		Players: map[string]PlayerSnapshot{
			"p1": baseSnapshot("p1"),
			"p2": baseSnapshot("p2"),
		},
	}
}

func TestApply_WinnerGainsLoserLoses(t *testing.T) {
	p := ratingparams.Default()
	out := Apply(p, singlesInput(SideA, 1.0))

	var p1, p2 PlayerResult
	for _, r := range out.PerPlayer {
		if r.PlayerID == "p1" {
			p1 = r
		} else {
			p2 = r
		}
	}
	if p1.Delta <= 0 {
		t.Errorf("winner should gain mu, got delta=%v", p1.Delta)
	}
	if p2.Delta >= 0 {
		t.Errorf("loser should lose mu, got delta=%v", p2.Delta)
	}
	if math.Abs(p1.Delta+p2.Delta) > 1e-9 {
		t.Errorf("equal-sigma singles deltas should be equal and opposite, got %v and %v", p1.Delta, p2.Delta)
	}
}

func TestApply_WinProbabilitySymmetry(t *testing.T) {
	p := ratingparams.Default()
	outA := Apply(p, singlesInput(SideA, 1.0))
	outB := Apply(p, singlesInput(SideB, 1.0))

	if math.Abs(outA.WinProbability-(1-outB.WinProbability)) > 1e-9 {
		t.Errorf("win probability should be symmetric under side swap: A=%v B=%v", outA.WinProbability, outB.WinProbability)
	}
	// Equal-strength sides facing off should give a 50/50 pre-match read.
	if math.Abs(outA.WinProbability-0.5) > 1e-9 {
		t.Errorf("equal-strength singles should give winProb ~0.5, got %v", outA.WinProbability)
	}
}

func TestApply_Determinism(t *testing.T) {
	p := ratingparams.Default()
	in := singlesInput(SideA, 1.3)
	out1 := Apply(p, in)
	out2 := Apply(p, in)
	if out1.TeamDelta != out2.TeamDelta || out1.WinProbability != out2.WinProbability {
		t.Fatalf("Apply is not deterministic: %+v vs %+v", out1, out2)
	}
	for i := range out1.PerPlayer {
		if out1.PerPlayer[i] != out2.PerPlayer[i] {
			t.Fatalf("Apply per-player results differ across identical calls: %+v vs %+v", out1.PerPlayer[i], out2.PerPlayer[i])
		}
	}
}

func TestApply_SigmaMonotoneBounds(t *testing.T) {
	p := ratingparams.Default()
	out := Apply(p, singlesInput(SideA, 1.0))
	for _, r := range out.PerPlayer {
		if r.SigmaAfter < p.SigmaMin {
			t.Errorf("sigma after should never drop below sigma_min: got %v", r.SigmaAfter)
		}
		if r.SigmaAfter > r.SigmaBefore+p.Tau {
			t.Errorf("sigma after should never exceed sigma_before+tau: before=%v after=%v tau=%v", r.SigmaBefore, r.SigmaAfter, p.Tau)
		}
	}
}

func TestApply_MovWeightClampedToRange(t *testing.T) {
	p := ratingparams.Default()
	outLow := Apply(p, singlesInput(SideA, 0.0))
	outHigh := Apply(p, singlesInput(SideA, 10.0))
	outMin := Apply(p, singlesInput(SideA, p.MovMin))
	outMax := Apply(p, singlesInput(SideA, p.MovMax))

	if outLow.TeamDelta != outMin.TeamDelta {
		t.Errorf("mov_weight below mov_min should clamp to mov_min: %v vs %v", outLow.TeamDelta, outMin.TeamDelta)
	}
	if outHigh.TeamDelta != outMax.TeamDelta {
		t.Errorf("mov_weight above mov_max should clamp to mov_max: %v vs %v", outHigh.TeamDelta, outMax.TeamDelta)
	}
}

func TestApply_PairSynergyGatedByActivation(t *testing.T) {
	p := ratingparams.Default()
	in := Input{
		SideAPlayers: []string{"p1", "p2"},
		SideBPlayers: []string{"p3", "p4"},
		Winner:       SideA,
		MovWeight:    1.0,
		Players: map[string]PlayerSnapshot{
			"p1": baseSnapshot("p1"),
			"p2": baseSnapshot("p2"),
			"p3": baseSnapshot("p3"),
			"p4": baseSnapshot("p4"),
		},
		Pairs: map[string]PairSnapshot{
			PairKey("p1", "p2"): {PairKey: PairKey("p1", "p2"), Gamma: 20, Matches: p.SynergyActivation - 1},
			PairKey("p3", "p4"): {PairKey: PairKey("p3", "p4"), Gamma: -10, Matches: p.SynergyActivation},
		},
	}
	out := Apply(p, in)

	for _, pr := range out.PairUpdates {
		switch pr.PairKey {
		case PairKey("p1", "p2"):
			if pr.Activated {
				t.Errorf("pair below activation threshold should not be activated")
			}
			if pr.GammaAfter != pr.GammaBefore {
				t.Errorf("unactivated pair's gamma should not move: before=%v after=%v", pr.GammaBefore, pr.GammaAfter)
			}
		case PairKey("p3", "p4"):
			if !pr.Activated {
				t.Errorf("pair at activation threshold should be activated")
			}
		}
		if pr.MatchesAfter != pr.MatchesBefore+1 {
			t.Errorf("pair matches counter should increment regardless of activation")
		}
	}
}

func TestApply_MissingSnapshotPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Apply should panic when a participant's snapshot is missing")
		}
	}()
	p := ratingparams.Default()
	Apply(p, Input{
		SideAPlayers: []string{"p1"},
		SideBPlayers: []string{"p2"},
		Winner:       SideA,
		MovWeight:    1.0,
		Players:      map[string]PlayerSnapshot{"p1": baseSnapshot("p1")},
	})
}

func TestApply_WinProbPreFollowsActualWinnerNotSideLabel(t *testing.T) {
	p := ratingparams.Default()
	in := Input{
		SideAPlayers: []string{"p1"},
		SideBPlayers: []string{"p2"},
		Winner:       SideB,
		MovWeight:    1.0,
		Players: map[string]PlayerSnapshot{
			"p1": {PlayerID: "p1", Mu: 1600, Sigma: 350},
			"p2": {PlayerID: "p2", Mu: 1400, Sigma: 350},
		},
	}
	out := Apply(p, in)

	var p1, p2 PlayerResult
	for _, r := range out.PerPlayer {
		if r.PlayerID == "p1" {
			p1 = r
		} else {
			p2 = r
		}
	}

	// p1 (side A) is the favorite that lost the upset; its pre-match win
	// probability must still reflect it being favored, not the complement.
	if p1.WinProbPre <= 0.5 {
		t.Errorf("favorite's WinProbPre should be > 0.5 even when it lost, got %v", p1.WinProbPre)
	}
	if p2.WinProbPre >= 0.5 {
		t.Errorf("underdog's WinProbPre should be < 0.5 even when it won, got %v", p2.WinProbPre)
	}
	if math.Abs(p1.WinProbPre+p2.WinProbPre-1) > 1e-9 {
		t.Errorf("WinProbPre across sides should sum to 1, got %v and %v", p1.WinProbPre, p2.WinProbPre)
	}
	// The upset winner should still gain mu and the favorite should still lose it.
	if p2.Delta <= 0 {
		t.Errorf("actual winner should gain mu even as the underdog, got delta=%v", p2.Delta)
	}
	if p1.Delta >= 0 {
		t.Errorf("actual loser should lose mu even as the favorite, got delta=%v", p1.Delta)
	}
}

func TestApply_PairUpdatesUseSameMagnitudeBothSides(t *testing.T) {
	p := ratingparams.Default()
	in := Input{
		SideAPlayers: []string{"p1", "p2"},
		SideBPlayers: []string{"p3", "p4"},
		Winner:       SideB,
		MovWeight:    1.0,
		Players: map[string]PlayerSnapshot{
			"p1": {PlayerID: "p1", Mu: 1600, Sigma: 350},
			"p2": {PlayerID: "p2", Mu: 1600, Sigma: 350},
			"p3": {PlayerID: "p3", Mu: 1400, Sigma: 350},
			"p4": {PlayerID: "p4", Mu: 1400, Sigma: 350},
		},
		Pairs: map[string]PairSnapshot{
			PairKey("p1", "p2"): {PairKey: PairKey("p1", "p2"), Gamma: 0, Matches: p.SynergyActivation},
			PairKey("p3", "p4"): {PairKey: PairKey("p3", "p4"), Gamma: 0, Matches: p.SynergyActivation},
		},
	}
	out := Apply(p, in)

	var losingPair, winningPair PairResult
	for _, pr := range out.PairUpdates {
		switch pr.PairKey {
		case PairKey("p1", "p2"):
			losingPair = pr
		case PairKey("p3", "p4"):
			winningPair = pr
		}
	}

	if math.Abs(losingPair.Delta+winningPair.Delta) > 1e-9 {
		t.Errorf("winning and losing pair synergy deltas should be equal in magnitude and opposite in sign, got %v and %v", losingPair.Delta, winningPair.Delta)
	}
}

func TestPairKey_OrderIndependent(t *testing.T) {
	if PairKey("a", "b") != PairKey("b", "a") {
		t.Errorf("PairKey should be order-independent")
	}
}
