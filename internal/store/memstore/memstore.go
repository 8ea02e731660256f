// Package memstore is the in-memory RatingStore implementation used by
// tests (and available for local dev without Postgres). It follows the
// teacher's Model pattern in beatlesfan007-squash-ladder/server/model.go:
// a single sync.RWMutex guarding plain Go maps/slices, snapshot copies
// handed out to callers so mutation never races with readers.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/store"
)

// Store is the in-memory backend. Zero value is not usable; use New().
type Store struct {
	mu sync.RWMutex

	organizations map[string]store.Organization
	orgSlugs      map[string]string // slug -> organizationID

	players          map[string]store.Player
	playerExternal   map[string]string // provider|organizationID|externalRef -> playerID

	ladders    map[string]store.Ladder
	ladderKeys map[store.LadderKey]string // normalized key -> ladderID

	ratings map[string]map[string]store.PlayerRating // ladderID -> playerID -> rating
	pairs   map[string]map[string]store.PairSynergy   // ladderID -> pairKey -> synergy

	matches       map[string]store.Match
	matchExternal map[string]string // providerID|externalRef -> matchID

	ratingEvents map[string]store.RatingEvent   // eventID -> event
	pairHistory  map[string]store.PairSynergyHistory

	replayQueue map[string]store.ReplayQueueEntry

	insightSnapshots map[string]store.InsightSnapshot // insightKey -> snapshot
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		organizations:  make(map[string]store.Organization),
		orgSlugs:       make(map[string]string),
		players:        make(map[string]store.Player),
		playerExternal: make(map[string]string),
		ladders:        make(map[string]store.Ladder),
		ladderKeys:     make(map[store.LadderKey]string),
		ratings:        make(map[string]map[string]store.PlayerRating),
		pairs:          make(map[string]map[string]store.PairSynergy),
		matches:        make(map[string]store.Match),
		matchExternal:  make(map[string]string),
		ratingEvents:   make(map[string]store.RatingEvent),
		pairHistory:    make(map[string]store.PairSynergyHistory),
		replayQueue:    make(map[string]store.ReplayQueueEntry),
		insightSnapshots: make(map[string]store.InsightSnapshot),
	}
}

var _ store.RatingStore = (*Store)(nil)
var _ store.InsightStore = (*Store)(nil)

func externalKey(providerID, externalRef string) string { return providerID + "|" + externalRef }
func playerExternalKey(organizationID, providerID, externalRef string) string {
	return providerID + "|" + organizationID + "|" + externalRef
}
func insightKey(organizationID, playerID, sport, discipline string) string {
	return organizationID + "|" + playerID + "|" + sport + "|" + discipline
}

// ---- Insight snapshots (C8 read model) ----

func (s *Store) UpsertInsightSnapshot(_ context.Context, snap store.InsightSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insightSnapshots[insightKey(snap.OrganizationID, snap.PlayerID, snap.Sport, snap.Discipline)] = snap
	return nil
}

func (s *Store) GetInsightSnapshot(_ context.Context, organizationID, playerID, sport, discipline string) (store.InsightSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.insightSnapshots[insightKey(organizationID, playerID, sport, discipline)]
	return snap, ok, nil
}

// ---- Organizations ----

func (s *Store) CreateOrganization(_ context.Context, org store.Organization) (store.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slug := strings.ToLower(org.Slug)
	if _, exists := s.orgSlugs[slug]; exists {
		return store.Organization{}, apperr.New(apperr.KindConflict, "organization slug already exists")
	}
	if org.OrganizationID == "" {
		org.OrganizationID = uuid.New().String()
	}
	org.Slug = slug
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	s.organizations[org.OrganizationID] = org
	s.orgSlugs[slug] = org.OrganizationID
	return org, nil
}

func (s *Store) GetOrganization(_ context.Context, organizationID string) (store.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.organizations[organizationID]
	if !ok {
		return store.Organization{}, apperr.New(apperr.KindNotFound, "organization not found")
	}
	return org, nil
}

func (s *Store) GetOrganizationBySlug(_ context.Context, slug string) (store.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.orgSlugs[strings.ToLower(slug)]
	if !ok {
		return store.Organization{}, apperr.New(apperr.KindNotFound, "organization not found")
	}
	return s.organizations[id], nil
}

func (s *Store) ListOrganizations(_ context.Context) ([]store.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Organization, 0, len(s.organizations))
	for _, o := range s.organizations {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrganizationID < out[j].OrganizationID })
	return out, nil
}

func (s *Store) UpdateOrganization(_ context.Context, org store.Organization) (store.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.organizations[org.OrganizationID]
	if !ok {
		return store.Organization{}, apperr.New(apperr.KindNotFound, "organization not found")
	}
	if org.Name != "" {
		existing.Name = org.Name
	}
	existing.UpdatedAt = time.Now().UTC()
	s.organizations[org.OrganizationID] = existing
	return existing, nil
}

// ---- Players ----

func (s *Store) CreatePlayer(_ context.Context, p store.Player) (store.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.organizations[p.OrganizationID]; !ok {
		return store.Player{}, apperr.New(apperr.KindInvalidOrganization, "unknown organization")
	}
	if p.PlayerID == "" {
		p.PlayerID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.players[p.PlayerID] = p
	return p, nil
}

func (s *Store) GetPlayer(_ context.Context, playerID string) (store.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[playerID]
	if !ok {
		return store.Player{}, apperr.New(apperr.KindNotFound, "player not found")
	}
	return p, nil
}

func (s *Store) GetPlayersByID(_ context.Context, playerIDs []string) (map[string]store.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]store.Player, len(playerIDs))
	for _, id := range playerIDs {
		if p, ok := s.players[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) FindPlayerByExternalRef(_ context.Context, organizationID, providerID, externalRef string) (store.Player, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if externalRef == "" {
		return store.Player{}, false, nil
	}
	id, ok := s.playerExternal[playerExternalKey(organizationID, providerID, externalRef)]
	if !ok {
		return store.Player{}, false, nil
	}
	return s.players[id], true, nil
}

// ---- Ladders ----

func (s *Store) EnsureLadder(_ context.Context, key store.LadderKey) (store.Ladder, error) {
	key = key.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ladderKeys[key]; ok {
		return s.ladders[id], nil
	}
	l := store.Ladder{
		LadderID:  uuid.New().String(),
		LadderKey: key,
		CreatedAt: time.Now().UTC(),
	}
	s.ladders[l.LadderID] = l
	s.ladderKeys[key] = l.LadderID
	s.ratings[l.LadderID] = make(map[string]store.PlayerRating)
	s.pairs[l.LadderID] = make(map[string]store.PairSynergy)
	return l, nil
}

func (s *Store) GetLadder(_ context.Context, ladderID string) (store.Ladder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ladders[ladderID]
	if !ok {
		return store.Ladder{}, apperr.New(apperr.KindNotFound, "ladder not found")
	}
	return l, nil
}

func (s *Store) GetLadderByKey(_ context.Context, key store.LadderKey) (store.Ladder, bool, error) {
	key = key.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ladderKeys[key]
	if !ok {
		return store.Ladder{}, false, nil
	}
	return s.ladders[id], true, nil
}

// ---- Rating/synergy snapshots ----

func (s *Store) GetPlayerRatings(_ context.Context, ladderID string, playerIDs []string) (map[string]store.PlayerRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]store.PlayerRating, len(playerIDs))
	ladderRatings := s.ratings[ladderID]
	for _, id := range playerIDs {
		if r, ok := ladderRatings[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (s *Store) GetPairSynergies(_ context.Context, ladderID string, pairKeys []string) (map[string]store.PairSynergy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]store.PairSynergy, len(pairKeys))
	ladderPairs := s.pairs[ladderID]
	for _, key := range pairKeys {
		if p, ok := ladderPairs[key]; ok {
			out[key] = p
		}
	}
	return out, nil
}

// ---- Matches ----

func (s *Store) MaxStartTime(_ context.Context, ladderID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max time.Time
	found := false
	for _, m := range s.matches {
		if m.LadderID != ladderID {
			continue
		}
		if !found || m.StartTime.After(max) {
			max = m.StartTime
			found = true
		}
	}
	return max, found, nil
}

func (s *Store) GetMatch(_ context.Context, matchID string) (store.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[matchID]
	if !ok {
		return store.Match{}, apperr.New(apperr.KindNotFound, "match not found")
	}
	return m, nil
}

func (s *Store) FindMatchByExternalRef(_ context.Context, providerID, externalRef string) (store.Match, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if externalRef == "" {
		return store.Match{}, false, nil
	}
	id, ok := s.matchExternal[externalKey(providerID, externalRef)]
	if !ok {
		return store.Match{}, false, nil
	}
	return s.matches[id], true, nil
}

func (s *Store) ListMatches(_ context.Context, filter store.MatchFilter) (store.Page[store.Match], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []store.Match
	for _, m := range s.matches {
		if filter.OrganizationID != "" && m.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Sport != "" && m.Sport != filter.Sport {
			continue
		}
		if filter.EventID != "" && m.EventID != filter.EventID {
			continue
		}
		if filter.PlayerID != "" && !containsPlayer(m, filter.PlayerID) {
			continue
		}
		if filter.StartAfter != nil && m.StartTime.Before(*filter.StartAfter) {
			continue
		}
		if filter.StartBefore != nil && m.StartTime.After(*filter.StartBefore) {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartTime.Equal(all[j].StartTime) {
			return all[i].StartTime.After(all[j].StartTime)
		}
		return all[i].MatchID < all[j].MatchID
	})

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := 0
	if filter.Cursor != "" {
		offset = decodeOffsetCursor(filter.Cursor)
	}
	end := offset + limit
	if offset > len(all) {
		offset = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	page := store.Page[store.Match]{Items: all[offset:end]}
	if end < len(all) {
		page.NextCursor = encodeOffsetCursor(end)
	}
	return page, nil
}

func containsPlayer(m store.Match, playerID string) bool {
	for _, id := range m.Sides.A {
		if id == playerID {
			return true
		}
	}
	for _, id := range m.Sides.B {
		if id == playerID {
			return true
		}
	}
	return false
}

func (s *Store) ListMatchesFromLadder(_ context.Context, ladderID string, from time.Time) ([]store.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Match
	for _, m := range s.matches {
		if m.LadderID != ladderID {
			continue
		}
		if m.StartTime.Before(from) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].MatchID < out[j].MatchID
	})
	return out, nil
}

func (s *Store) UpdateMatchSchedule(_ context.Context, matchID string, startTime *time.Time, venueID, regionID, eventID *string) (store.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return store.Match{}, apperr.New(apperr.KindNotFound, "match not found")
	}
	if startTime != nil {
		m.StartTime = *startTime
	}
	if venueID != nil {
		m.VenueID = *venueID
	}
	if regionID != nil {
		m.RegionID = *regionID
	}
	if eventID != nil {
		m.EventID = *eventID
	}
	m.UpdatedAt = time.Now().UTC()
	s.matches[matchID] = m
	return m, nil
}

// CommitMatch writes everything for one match atomically. Because the
// in-memory store holds a single process-wide lock for its whole
// duration, this is trivially atomic with respect to other store calls.
func (s *Store) CommitMatch(_ context.Context, w store.MatchWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitMatchLocked(w)
	return nil
}

func (s *Store) commitMatchLocked(w store.MatchWrite) {
	s.matches[w.Match.MatchID] = w.Match
	if w.Match.ExternalRef != "" {
		s.matchExternal[externalKey(w.Match.ProviderID, w.Match.ExternalRef)] = w.Match.MatchID
	}
	ladderID := w.Match.LadderID
	if s.ratings[ladderID] == nil {
		s.ratings[ladderID] = make(map[string]store.PlayerRating)
	}
	if s.pairs[ladderID] == nil {
		s.pairs[ladderID] = make(map[string]store.PairSynergy)
	}
	for _, r := range w.Ratings {
		s.ratings[ladderID][r.PlayerID] = r
	}
	for _, e := range w.RatingEvents {
		s.ratingEvents[e.RatingEventID] = e
	}
	for _, p := range w.Pairs {
		s.pairs[ladderID][p.PairKey] = p
	}
	for _, h := range w.PairHistory {
		s.pairHistory[h.HistoryID] = h
	}
}

// ReplayCommit applies the reverted baseline then replays each match write
// in order, all under one lock.
func (s *Store) ReplayCommit(_ context.Context, ladderID string, t0 time.Time, reverted store.RevertedState, writes []store.MatchWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Delete rating/pair history rows with start_time >= t0 on this ladder.
	for id, e := range s.ratingEvents {
		if e.LadderID != ladderID {
			continue
		}
		m, ok := s.matches[e.MatchID]
		if !ok || m.StartTime.Before(t0) {
			continue
		}
		delete(s.ratingEvents, id)
	}
	for id, h := range s.pairHistory {
		if h.LadderID != ladderID {
			continue
		}
		m, ok := s.matches[h.MatchID]
		if !ok || m.StartTime.Before(t0) {
			continue
		}
		delete(s.pairHistory, id)
	}

	if s.ratings[ladderID] == nil {
		s.ratings[ladderID] = make(map[string]store.PlayerRating)
	}
	if s.pairs[ladderID] == nil {
		s.pairs[ladderID] = make(map[string]store.PairSynergy)
	}
	for _, r := range reverted.Ratings {
		s.ratings[ladderID][r.PlayerID] = r
	}
	for _, p := range reverted.Pairs {
		s.pairs[ladderID][p.PairKey] = p
	}

	for _, w := range writes {
		s.commitMatchLocked(w)
	}
	return nil
}

// ---- Rating events / history ----

func (s *Store) GetRatingEvent(_ context.Context, ratingEventID string) (store.RatingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ratingEvents[ratingEventID]
	if !ok {
		return store.RatingEvent{}, apperr.New(apperr.KindNotFound, "rating event not found")
	}
	return e, nil
}

func (s *Store) ListRatingEvents(_ context.Context, organizationID, playerID string, cursor string, limit int) (store.Page[store.RatingEvent], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []store.RatingEvent
	for _, e := range s.ratingEvents {
		if e.OrganizationID != organizationID || e.PlayerID != playerID {
			continue
		}
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].AppliedAt.Equal(all[j].AppliedAt) {
			return all[i].AppliedAt.After(all[j].AppliedAt)
		}
		return all[i].RatingEventID < all[j].RatingEventID
	})
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := 0
	if cursor != "" {
		offset = decodeOffsetCursor(cursor)
	}
	end := offset + limit
	if offset > len(all) {
		offset = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	page := store.Page[store.RatingEvent]{Items: all[offset:end]}
	if end < len(all) {
		page.NextCursor = encodeOffsetCursor(end)
	}
	return page, nil
}

func (s *Store) LatestRatingEventBefore(_ context.Context, ladderID, playerID string, asOf time.Time) (store.RatingEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best store.RatingEvent
	found := false
	for _, e := range s.ratingEvents {
		if e.LadderID != ladderID || e.PlayerID != playerID {
			continue
		}
		if !e.AppliedAt.Before(asOf) {
			continue
		}
		if !found || e.AppliedAt.After(best.AppliedAt) || (e.AppliedAt.Equal(best.AppliedAt) && e.RatingEventID > best.RatingEventID) {
			best = e
			found = true
		}
	}
	return best, found, nil
}

func (s *Store) LatestPairHistoryBefore(_ context.Context, ladderID, pairKey string, asOf time.Time) (store.PairSynergyHistory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best store.PairSynergyHistory
	found := false
	for _, h := range s.pairHistory {
		if h.LadderID != ladderID || h.PairKey != pairKey {
			continue
		}
		if !h.AppliedAt.Before(asOf) {
			continue
		}
		if !found || h.AppliedAt.After(best.AppliedAt) || (h.AppliedAt.Equal(best.AppliedAt) && h.HistoryID > best.HistoryID) {
			best = h
			found = true
		}
	}
	return best, found, nil
}

func (s *Store) RatingEventsOnOrAfter(_ context.Context, ladderID string, t0 time.Time) ([]store.RatingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.RatingEvent
	for _, e := range s.ratingEvents {
		if e.LadderID != ladderID {
			continue
		}
		m, ok := s.matches[e.MatchID]
		if !ok || m.StartTime.Before(t0) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.Before(out[j].AppliedAt) })
	return out, nil
}

func (s *Store) ParticipantsSince(_ context.Context, ladderID string, t0 time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, m := range s.matches {
		if m.LadderID != ladderID || m.StartTime.Before(t0) {
			continue
		}
		for _, id := range m.Sides.A {
			seen[id] = true
		}
		for _, id := range m.Sides.B {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ---- Replay queue ----

func (s *Store) UpsertReplayQueueEntry(_ context.Context, ladderID string, earliestStartTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := s.replayQueue[ladderID]
	if !ok {
		s.replayQueue[ladderID] = store.ReplayQueueEntry{
			LadderID:          ladderID,
			EarliestStartTime: earliestStartTime,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return nil
	}
	if earliestStartTime.Before(existing.EarliestStartTime) {
		existing.EarliestStartTime = earliestStartTime
	}
	existing.UpdatedAt = now
	s.replayQueue[ladderID] = existing
	return nil
}

func (s *Store) GetReplayQueueEntry(_ context.Context, ladderID string) (store.ReplayQueueEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.replayQueue[ladderID]
	return e, ok, nil
}

func (s *Store) DeleteReplayQueueEntry(_ context.Context, ladderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.replayQueue, ladderID)
	return nil
}

func (s *Store) ListReplayQueueEntries(_ context.Context) ([]store.ReplayQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ReplayQueueEntry, 0, len(s.replayQueue))
	for _, e := range s.replayQueue {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LadderID < out[j].LadderID })
	return out, nil
}

// ---- Leaderboard ----

func (s *Store) ListLeaderboard(_ context.Context, filter store.LeaderboardFilter) (store.Page[store.LeaderboardRow], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := filter.LadderKey.Normalize()
	ladderID, ok := s.ladderKeys[key]
	if !ok {
		return store.Page[store.LeaderboardRow]{}, nil
	}
	var rows []store.LeaderboardRow
	for playerID, r := range s.ratings[ladderID] {
		if filter.AgeFrom != nil || filter.AgeTo != nil {
			p, ok := s.players[playerID]
			if !ok {
				continue
			}
			by := p.DerivedBirthYear()
			if by == nil {
				continue
			}
			cutoff := time.Now()
			if filter.AgeCutoff != nil {
				cutoff = *filter.AgeCutoff
			}
			age := cutoff.Year() - *by
			if filter.AgeFrom != nil && age < *filter.AgeFrom {
				continue
			}
			if filter.AgeTo != nil && age > *filter.AgeTo {
				continue
			}
		}
		rows = append(rows, store.LeaderboardRow{PlayerID: playerID, Mu: r.Mu, Sigma: r.Sigma, Matches: r.Matches})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Mu != rows[j].Mu {
			return rows[i].Mu > rows[j].Mu
		}
		return rows[i].PlayerID < rows[j].PlayerID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	// Keyset pagination per spec.md §4.7, matching pgstore: start is the
	// first row strictly after the cursor in (mu DESC, player_id ASC)
	// order, rather than a row-count offset that a concurrent rating
	// change could shift out from under a paging client.
	start := 0
	if cur, ok := store.DecodeLeaderboardCursor(filter.Cursor); ok {
		start = sort.Search(len(rows), func(i int) bool {
			if rows[i].Mu != cur.Mu {
				return rows[i].Mu < cur.Mu
			}
			return rows[i].PlayerID > cur.PlayerID
		})
	}
	end := start + limit
	if start > len(rows) {
		start = len(rows)
	}
	if end > len(rows) {
		end = len(rows)
	}
	page := store.Page[store.LeaderboardRow]{Items: rows[start:end]}
	if end < len(rows) {
		page.NextCursor = store.EncodeLeaderboardCursor(rows[end-1])
	}
	return page, nil
}
