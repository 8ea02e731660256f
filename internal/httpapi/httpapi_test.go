package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openrating/core/internal/authz"
	"github.com/openrating/core/internal/idempotency"
	"github.com/openrating/core/internal/ingest"
	"github.com/openrating/core/internal/jobqueue/memqueue"
	"github.com/openrating/core/internal/normalize"
	"github.com/openrating/core/internal/ratingparams"
	"github.com/openrating/core/internal/store"
	"github.com/openrating/core/internal/store/memstore"
)

func newTestServer() (*Server, *memstore.Store) {
	gin.SetMode(gin.TestMode)
	ms := memstore.New()
	reg := normalize.NewRegistry()
	normalize.RegisterDefaults(reg)
	coord := &ingest.Coordinator{
		Store: ms, Normalizer: reg, Params: ratingparams.Default(),
		Authorizer: authz.AllowAll{}, Queue: memqueue.New(),
	}
	return &Server{
		Store: ms, Coord: coord, Queue: memqueue.New(),
		Idempotent: idempotency.New(0),
	}, ms
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer()
	r := s.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateOrganizationAndMatch(t *testing.T) {
	s, ms := newTestServer()
	r := s.NewRouter()

	orgBody, _ := json.Marshal(organizationRequest{Slug: "acme", Name: "Acme"})
	req := httptest.NewRequest(http.MethodPost, "/v1/organizations", bytes.NewReader(orgBody))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 201 {
		t.Fatalf("create organization: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var org organizationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &org); err != nil {
		t.Fatalf("decode organization: %v", err)
	}

	alice, err := ms.CreatePlayer(req.Context(), store.Player{OrganizationID: org.OrganizationID, DisplayName: "alice"})
	if err != nil {
		t.Fatalf("CreatePlayer alice: %v", err)
	}
	bob, err := ms.CreatePlayer(req.Context(), store.Player{OrganizationID: org.OrganizationID, DisplayName: "bob"})
	if err != nil {
		t.Fatalf("CreatePlayer bob: %v", err)
	}

	matchBody, _ := json.Marshal(matchRequest{
		ProviderID: "prov-1", OrganizationID: org.OrganizationID,
		Sport: "badminton", Discipline: "singles", Format: "rally21",
		StartTime: mustParseTime(t, "2025-09-21T08:00:00Z"),
		Sides: map[string]matchSideRequest{
			"A": {Players: []string{alice.PlayerID}},
			"B": {Players: []string{bob.PlayerID}},
		},
		Games: []matchGameRequest{{GameNo: 1, A: 21, B: 15}, {GameNo: 2, A: 21, B: 18}},
	})
	req = httptest.NewRequest(http.MethodPost, "/v1/matches", bytes.NewReader(matchBody))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 201 {
		t.Fatalf("create match: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp matchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode match response: %v", err)
	}
	if len(resp.Ratings) != 2 {
		t.Fatalf("expected 2 rating results, got %d", len(resp.Ratings))
	}
	if resp.RatingStatus != string(store.RatingStatusRated) {
		t.Errorf("expected RATED, got %s", resp.RatingStatus)
	}
}

func mustParseTime(t *testing.T, s string) time.Time {
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return parsed
}
