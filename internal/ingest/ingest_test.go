package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/openrating/core/internal/authz"
	"github.com/openrating/core/internal/jobqueue/memqueue"
	"github.com/openrating/core/internal/normalize"
	"github.com/openrating/core/internal/ratingparams"
	"github.com/openrating/core/internal/store"
	"github.com/openrating/core/internal/store/memstore"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *memstore.Store, store.Organization, map[string]store.Player) {
	t.Helper()
	ms := memstore.New()
	ctx := context.Background()

	org, err := ms.CreateOrganization(ctx, store.Organization{Slug: "acme", Name: "Acme Racquets"})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	players := make(map[string]store.Player)
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		p, err := ms.CreatePlayer(ctx, store.Player{OrganizationID: org.OrganizationID, DisplayName: name})
		if err != nil {
			t.Fatalf("CreatePlayer: %v", err)
		}
		players[name] = p
	}

	reg := normalize.NewRegistry()
	normalize.RegisterDefaults(reg)

	coord := &Coordinator{
		Store:      ms,
		Normalizer: reg,
		Params:     ratingparams.Default(),
		Authorizer: authz.AllowAll{},
		Queue:      memqueue.New(),
	}
	return coord, ms, org, players
}

func singlesSubmission(org store.Organization, players map[string]store.Player, start time.Time, externalRef string) Submission {
	return Submission{
		ProviderID: "prov-1", ExternalRef: externalRef, OrganizationID: org.OrganizationID,
		Sport: "badminton", Discipline: "singles", Format: "rally21",
		Tier: "UNSPECIFIED", RegionID: "GLOBAL", StartTime: start,
		SideA: []string{players["alice"].PlayerID}, SideB: []string{players["bob"].PlayerID},
		Games: []normalize.RawGame{{GameNo: 1, A: 21, B: 15}, {GameNo: 2, A: 21, B: 10}},
	}
}

func TestRecordMatch_RatesAndPersistsEvents(t *testing.T) {
	coord, ms, org, players := newTestCoordinator(t)
	ctx := context.Background()

	res, err := coord.RecordMatch(ctx, authz.Subject{}, singlesSubmission(org, players, time.Now(), "ext-1"))
	if err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}
	if res.RatingStatus != store.RatingStatusRated {
		t.Fatalf("expected RATED, got %s", res.RatingStatus)
	}
	if len(res.RatingEvents) != 2 {
		t.Fatalf("expected 2 rating events, got %d", len(res.RatingEvents))
	}

	ladder, ok, err := ms.GetLadderByKey(ctx, store.LadderKey{
		OrganizationID: org.OrganizationID, Sport: "badminton", Discipline: "singles", Format: "rally21",
	}.Normalize())
	if err != nil || !ok {
		t.Fatalf("expected ladder to exist: ok=%v err=%v", ok, err)
	}

	ratings, err := ms.GetPlayerRatings(ctx, ladder.LadderID, []string{players["alice"].PlayerID, players["bob"].PlayerID})
	if err != nil {
		t.Fatalf("GetPlayerRatings: %v", err)
	}
	if ratings[players["alice"].PlayerID].Mu <= ratingparams.Default().BaseMu {
		t.Errorf("winner's mu should have increased")
	}
	if ratings[players["bob"].PlayerID].Mu >= ratingparams.Default().BaseMu {
		t.Errorf("loser's mu should have decreased")
	}
}

func TestRecordMatch_DuplicateExternalRefReturnsCachedMatch(t *testing.T) {
	coord, _, org, players := newTestCoordinator(t)
	ctx := context.Background()
	sub := singlesSubmission(org, players, time.Now(), "ext-dup")

	res1, err := coord.RecordMatch(ctx, authz.Subject{}, sub)
	if err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}
	res2, err := coord.RecordMatch(ctx, authz.Subject{}, sub)
	if err != nil {
		t.Fatalf("RecordMatch (duplicate): %v", err)
	}
	if res1.MatchID != res2.MatchID {
		t.Fatalf("expected idempotent match id, got %s vs %s", res1.MatchID, res2.MatchID)
	}
}

func TestRecordMatch_UnknownPlayerRejected(t *testing.T) {
	coord, _, org, players := newTestCoordinator(t)
	ctx := context.Background()
	sub := singlesSubmission(org, players, time.Now(), "ext-2")
	sub.SideB = []string{"does-not-exist"}

	_, err := coord.RecordMatch(ctx, authz.Subject{}, sub)
	if err == nil {
		t.Fatal("expected invalid_players error")
	}
}

func TestRecordMatch_OutOfOrderEnqueuesReplay(t *testing.T) {
	coord, ms, org, players := newTestCoordinator(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := coord.RecordMatch(ctx, authz.Subject{}, singlesSubmission(org, players, now, "ext-first")); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}

	earlier := now.Add(-24 * time.Hour)
	if _, err := coord.RecordMatch(ctx, authz.Subject{}, singlesSubmission(org, players, earlier, "ext-earlier")); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}

	ladder, _, _ := ms.GetLadderByKey(ctx, store.LadderKey{
		OrganizationID: org.OrganizationID, Sport: "badminton", Discipline: "singles", Format: "rally21",
	}.Normalize())
	entry, ok, err := ms.GetReplayQueueEntry(ctx, ladder.LadderID)
	if err != nil || !ok {
		t.Fatalf("expected a replay queue entry: ok=%v err=%v", ok, err)
	}
	if !entry.EarliestStartTime.Equal(earlier) {
		t.Errorf("expected earliest_start_time=%v, got %v", earlier, entry.EarliestStartTime)
	}
}

func TestRecordMatch_UnsupportedFormatRejected(t *testing.T) {
	coord, _, org, players := newTestCoordinator(t)
	ctx := context.Background()
	sub := singlesSubmission(org, players, time.Now(), "ext-3")
	sub.Sport = "tennis"

	_, err := coord.RecordMatch(ctx, authz.Subject{}, sub)
	if err == nil {
		t.Fatal("expected unsupported_format error")
	}
}
