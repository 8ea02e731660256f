package insights

import (
	"context"
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

func newFixture(t *testing.T) (*memstore.Store, store.Organization, map[string]store.Player) {
	t.Helper()
	ms := memstore.New()
	ctx := context.Background()
	org, err := ms.CreateOrganization(ctx, store.Organization{Slug: "acme", Name: "Acme"})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	players := make(map[string]store.Player)
	for _, name := range []string{"alice", "bob"} {
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

	base := time.Now().Add(-10 * 24 * time.Hour)
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * 24 * time.Hour)
		_, err := coord.RecordMatch(ctx, authz.Subject{}, ingest.Submission{
			ProviderID: "prov-1", ExternalRef: "m" + string(rune('1'+i)), OrganizationID: org.OrganizationID,
			Sport: "badminton", Discipline: "singles", Format: "rally21",
			Tier: "UNSPECIFIED", RegionID: "GLOBAL", StartTime: start,
			SideA: []string{players["alice"].PlayerID}, SideB: []string{players["bob"].PlayerID},
			Games: []normalize.RawGame{{GameNo: 1, A: 21, B: 15}, {GameNo: 2, A: 21, B: 10}},
		})
		if err != nil {
			t.Fatalf("RecordMatch %d: %v", i, err)
		}
	}
	return ms, org, players
}

func TestBuild_TrendAndFormSummary(t *testing.T) {
	ms, org, players := newFixture(t)
	b := &Builder{Store: ms}

	snap, err := b.Build(context.Background(), org.OrganizationID, players["alice"].PlayerID, "", "", time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.RatingTrend.Points) == 0 {
		t.Fatal("expected non-empty rating trend")
	}
	if snap.RatingTrend.LifetimeHigh < snap.RatingTrend.LifetimeLow {
		t.Errorf("lifetime high %v should be >= lifetime low %v", snap.RatingTrend.LifetimeHigh, snap.RatingTrend.LifetimeLow)
	}

	var window30 *WindowForm
	for i := range snap.FormSummary {
		if snap.FormSummary[i].WindowDays == 30 {
			window30 = &snap.FormSummary[i]
		}
	}
	if window30 == nil {
		t.Fatal("expected a 30-day window in form summary")
	}
	if window30.Matches != 3 {
		t.Errorf("expected 3 matches in 30-day window, got %d", window30.Matches)
	}
	if window30.Wins != 3 || window30.Losses != 0 {
		t.Errorf("alice won every match, expected wins=3 losses=0, got wins=%d losses=%d", window30.Wins, window30.Losses)
	}
}

func TestBuild_StreaksReflectWinner(t *testing.T) {
	ms, org, players := newFixture(t)
	b := &Builder{Store: ms}

	aliceSnap, err := b.Build(context.Background(), org.OrganizationID, players["alice"].PlayerID, "", "", time.Now())
	if err != nil {
		t.Fatalf("Build alice: %v", err)
	}
	if aliceSnap.Streaks.Kind != "WIN" || aliceSnap.Streaks.Current != 3 {
		t.Errorf("expected alice on a 3-match win streak, got %+v", aliceSnap.Streaks)
	}

	bobSnap, err := b.Build(context.Background(), org.OrganizationID, players["bob"].PlayerID, "", "", time.Now())
	if err != nil {
		t.Fatalf("Build bob: %v", err)
	}
	if bobSnap.Streaks.Kind != "LOSS" || bobSnap.Streaks.Current != 3 {
		t.Errorf("expected bob on a 3-match loss streak, got %+v", bobSnap.Streaks)
	}
}

func TestBuild_DigestStableAcrossRebuilds(t *testing.T) {
	ms, org, players := newFixture(t)
	b := &Builder{Store: ms}
	asOf := time.Now()

	snap1, err := b.Build(context.Background(), org.OrganizationID, players["alice"].PlayerID, "", "", asOf)
	if err != nil {
		t.Fatalf("Build 1: %v", err)
	}
	snap2, err := b.Build(context.Background(), org.OrganizationID, players["alice"].PlayerID, "", "", asOf)
	if err != nil {
		t.Fatalf("Build 2: %v", err)
	}
	if snap1.CacheKeys.Digest != snap2.CacheKeys.Digest {
		t.Errorf("digest should be stable for identical inputs: %s vs %s", snap1.CacheKeys.Digest, snap2.CacheKeys.Digest)
	}
}

func TestBuild_DisciplineOverviewIncludesLadder(t *testing.T) {
	ms, org, players := newFixture(t)
	b := &Builder{Store: ms}

	snap, err := b.Build(context.Background(), org.OrganizationID, players["alice"].PlayerID, "", "", time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.DisciplineOverview) != 1 {
		t.Fatalf("expected exactly one discipline touched, got %d", len(snap.DisciplineOverview))
	}
	if snap.DisciplineOverview[0].Sport != "badminton" || snap.DisciplineOverview[0].Discipline != "singles" {
		t.Errorf("unexpected discipline overview entry: %+v", snap.DisciplineOverview[0])
	}
	if snap.DisciplineOverview[0].Matches != 3 {
		t.Errorf("expected 3 matches recorded, got %d", snap.DisciplineOverview[0].Matches)
	}
}
