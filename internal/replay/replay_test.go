package replay

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/openrating/core/internal/authz"
	"github.com/openrating/core/internal/ingest"
	"github.com/openrating/core/internal/jobqueue/memqueue"
	"github.com/openrating/core/internal/normalize"
	"github.com/openrating/core/internal/ratingparams"
	"github.com/openrating/core/internal/store"
	"github.com/openrating/core/internal/store/memstore"
)

func newHarness(t *testing.T) (*ingest.Coordinator, *memstore.Store, *normalize.Registry, store.Organization, map[string]store.Player) {
	t.Helper()
	ms := memstore.New()
	ctx := context.Background()
	org, err := ms.CreateOrganization(ctx, store.Organization{Slug: "acme", Name: "Acme"})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	players := make(map[string]store.Player)
	for _, name := range []string{"alice", "bob", "carol"} {
		p, err := ms.CreatePlayer(ctx, store.Player{OrganizationID: org.OrganizationID, DisplayName: name})
		if err != nil {
			t.Fatalf("CreatePlayer: %v", err)
		}
		players[name] = p
	}
	reg := normalize.NewRegistry()
	normalize.RegisterDefaults(reg)
	coord := &ingest.Coordinator{
		Store: ms, Normalizer: reg, Params: ratingparams.Default(),
		Authorizer: authz.AllowAll{}, Queue: memqueue.New(),
	}
	return coord, ms, reg, org, players
}

func sub(org store.Organization, players map[string]store.Player, a, b string, start time.Time, ref string, aGames, bGames [2]int) ingest.Submission {
	return ingest.Submission{
		ProviderID: "prov-1", ExternalRef: ref, OrganizationID: org.OrganizationID,
		Sport: "badminton", Discipline: "singles", Format: "rally21",
		Tier: "UNSPECIFIED", RegionID: "GLOBAL", StartTime: start,
		SideA: []string{players[a].PlayerID}, SideB: []string{players[b].PlayerID},
		Games: []normalize.RawGame{
			{GameNo: 1, A: aGames[0], B: bGames[0]},
			{GameNo: 2, A: aGames[1], B: bGames[1]},
		},
	}
}

// TestReplay_ChronologicalEquivalence asserts the correctness property from
// spec.md §4.4: after replay, final state for every player equals what a
// fresh ladder would produce from the same matches ingested in
// chronological order to begin with.
func TestReplay_ChronologicalEquivalence(t *testing.T) {
	ctx := context.Background()

	// Ladder A: ingest out of order (t3 then t1 then t2), forcing a replay.
	coordA, msA, regA, orgA, playersA := newHarness(t)
	t1 := time.Now().Add(-3 * time.Hour)
	t2 := time.Now().Add(-2 * time.Hour)
	t3 := time.Now().Add(-1 * time.Hour)

	if _, err := coordA.RecordMatch(ctx, authz.Subject{}, sub(orgA, playersA, "alice", "bob", t3, "m3", [2]int{21, 21}, [2]int{15, 18})); err != nil {
		t.Fatalf("RecordMatch m3: %v", err)
	}
	if _, err := coordA.RecordMatch(ctx, authz.Subject{}, sub(orgA, playersA, "alice", "carol", t1, "m1", [2]int{21, 21}, [2]int{10, 12})); err != nil {
		t.Fatalf("RecordMatch m1: %v", err)
	}
	if _, err := coordA.RecordMatch(ctx, authz.Subject{}, sub(orgA, playersA, "bob", "carol", t2, "m2", [2]int{21, 19}, [2]int{18, 21})); err != nil {
		t.Fatalf("RecordMatch m2: %v", err)
	}

	ladderA, ok, err := msA.GetLadderByKey(ctx, store.LadderKey{
		OrganizationID: orgA.OrganizationID, Sport: "badminton", Discipline: "singles", Format: "rally21",
	}.Normalize())
	if err != nil || !ok {
		t.Fatalf("expected ladder: ok=%v err=%v", ok, err)
	}

	engineA := &Engine{Store: msA, Normalizer: regA, Params: ratingparams.Default()}
	if _, err := engineA.Replay(ctx, Input{LadderID: ladderA.LadderID}); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	// Ladder B: ingest the same three matches in chronological order from
	// the start — no replay ever needed.
	coordB, msB, _, orgB, playersB := newHarness(t)
	if _, err := coordB.RecordMatch(ctx, authz.Subject{}, sub(orgB, playersB, "alice", "carol", t1, "m1", [2]int{21, 21}, [2]int{10, 12})); err != nil {
		t.Fatalf("RecordMatch m1: %v", err)
	}
	if _, err := coordB.RecordMatch(ctx, authz.Subject{}, sub(orgB, playersB, "bob", "carol", t2, "m2", [2]int{21, 19}, [2]int{18, 21})); err != nil {
		t.Fatalf("RecordMatch m2: %v", err)
	}
	if _, err := coordB.RecordMatch(ctx, authz.Subject{}, sub(orgB, playersB, "alice", "bob", t3, "m3", [2]int{21, 21}, [2]int{15, 18})); err != nil {
		t.Fatalf("RecordMatch m3: %v", err)
	}

	ladderB, ok, err := msB.GetLadderByKey(ctx, store.LadderKey{
		OrganizationID: orgB.OrganizationID, Sport: "badminton", Discipline: "singles", Format: "rally21",
	}.Normalize())
	if err != nil || !ok {
		t.Fatalf("expected ladder: ok=%v err=%v", ok, err)
	}

	for _, name := range []string{"alice", "bob", "carol"} {
		idA := playersA[name].PlayerID
		idB := playersB[name].PlayerID
		ratingsA, err := msA.GetPlayerRatings(ctx, ladderA.LadderID, []string{idA})
		if err != nil {
			t.Fatalf("GetPlayerRatings A: %v", err)
		}
		ratingsB, err := msB.GetPlayerRatings(ctx, ladderB.LadderID, []string{idB})
		if err != nil {
			t.Fatalf("GetPlayerRatings B: %v", err)
		}
		rA, rB := ratingsA[idA], ratingsB[idB]
		if math.Abs(rA.Mu-rB.Mu) > 1e-9 {
			t.Errorf("%s: mu mismatch after replay: replayed=%v chronological=%v", name, rA.Mu, rB.Mu)
		}
		if math.Abs(rA.Sigma-rB.Sigma) > 1e-9 {
			t.Errorf("%s: sigma mismatch after replay: replayed=%v chronological=%v", name, rA.Sigma, rB.Sigma)
		}
		if rA.Matches != rB.Matches {
			t.Errorf("%s: matches count mismatch: replayed=%v chronological=%v", name, rA.Matches, rB.Matches)
		}
	}
}

func TestReplay_DryRunDoesNotMutateState(t *testing.T) {
	ctx := context.Background()
	coord, ms, reg, org, players := newHarness(t)
	t1 := time.Now().Add(-2 * time.Hour)
	t2 := time.Now().Add(-1 * time.Hour)

	if _, err := coord.RecordMatch(ctx, authz.Subject{}, sub(org, players, "alice", "bob", t2, "m2", [2]int{21, 21}, [2]int{15, 18})); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}
	if _, err := coord.RecordMatch(ctx, authz.Subject{}, sub(org, players, "alice", "bob", t1, "m1", [2]int{21, 21}, [2]int{10, 12})); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}

	ladder, _, _ := ms.GetLadderByKey(ctx, store.LadderKey{
		OrganizationID: org.OrganizationID, Sport: "badminton", Discipline: "singles", Format: "rally21",
	}.Normalize())

	before, err := ms.GetPlayerRatings(ctx, ladder.LadderID, []string{players["alice"].PlayerID})
	if err != nil {
		t.Fatalf("GetPlayerRatings: %v", err)
	}

	engine := &Engine{Store: ms, Normalizer: reg, Params: ratingparams.Default()}
	report, err := engine.Replay(ctx, Input{LadderID: ladder.LadderID, DryRun: true})
	if err != nil {
		t.Fatalf("Replay dry-run: %v", err)
	}
	if report.MatchesProcessed != 2 {
		t.Errorf("expected 2 matches processed in dry run, got %d", report.MatchesProcessed)
	}

	after, err := ms.GetPlayerRatings(ctx, ladder.LadderID, []string{players["alice"].PlayerID})
	if err != nil {
		t.Fatalf("GetPlayerRatings: %v", err)
	}
	if before[players["alice"].PlayerID] != after[players["alice"].PlayerID] {
		t.Errorf("dry run must not mutate state: before=%+v after=%+v", before, after)
	}

	if _, ok, err := ms.GetReplayQueueEntry(ctx, ladder.LadderID); err != nil || !ok {
		t.Errorf("dry run must not delete the replay queue entry: ok=%v err=%v", ok, err)
	}
}

func TestReplay_IdempotentSecondRunIsNoOp(t *testing.T) {
	ctx := context.Background()
	coord, ms, reg, org, players := newHarness(t)
	t1 := time.Now().Add(-2 * time.Hour)
	t2 := time.Now().Add(-1 * time.Hour)

	if _, err := coord.RecordMatch(ctx, authz.Subject{}, sub(org, players, "alice", "bob", t2, "m2", [2]int{21, 21}, [2]int{15, 18})); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}
	if _, err := coord.RecordMatch(ctx, authz.Subject{}, sub(org, players, "alice", "bob", t1, "m1", [2]int{21, 21}, [2]int{10, 12})); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}

	ladder, _, _ := ms.GetLadderByKey(ctx, store.LadderKey{
		OrganizationID: org.OrganizationID, Sport: "badminton", Discipline: "singles", Format: "rally21",
	}.Normalize())

	engine := &Engine{Store: ms, Normalizer: reg, Params: ratingparams.Default()}
	if _, err := engine.Replay(ctx, Input{LadderID: ladder.LadderID}); err != nil {
		t.Fatalf("first replay: %v", err)
	}
	afterFirst, _ := ms.GetPlayerRatings(ctx, ladder.LadderID, []string{players["alice"].PlayerID})

	if _, err := engine.Replay(ctx, Input{LadderID: ladder.LadderID, From: &t1}); err != nil {
		t.Fatalf("second replay: %v", err)
	}
	afterSecond, _ := ms.GetPlayerRatings(ctx, ladder.LadderID, []string{players["alice"].PlayerID})

	if afterFirst[players["alice"].PlayerID] != afterSecond[players["alice"].PlayerID] {
		t.Errorf("replaying an already-consistent ladder should be a no-op: %+v vs %+v", afterFirst, afterSecond)
	}
}
