// Package pgstore is the Postgres-backed RatingStore implementation (C4),
// following the teacher's pgxpool connection/transaction style
// (storage/storage.go) generalized from a single ELO table to the full
// ladder/player/pair/match/event schema in spec.md §6.
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/store"
)

// Store is the pgx-backed implementation of store.RatingStore.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres. Schema creation is NOT this constructor's job
// — see internal/migrate, which applies migrations/*.sql forward-only
// before the server or worker ever calls New.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

var _ store.RatingStore = (*Store)(nil)

func mapNoRows(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, notFoundMsg)
	}
	return apperr.Internal(err)
}

// ---- Organizations ----

func (s *Store) CreateOrganization(ctx context.Context, org store.Organization) (store.Organization, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO organizations (organization_id, slug, name, created_at, updated_at)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), lower($2), $3, now(), now())
		ON CONFLICT (slug) DO NOTHING
		RETURNING organization_id, slug, name, created_at, updated_at`,
		org.OrganizationID, org.Slug, org.Name)
	var out store.Organization
	if err := row.Scan(&out.OrganizationID, &out.Slug, &out.Name, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Organization{}, apperr.New(apperr.KindConflict, "organization slug already exists")
		}
		return store.Organization{}, apperr.Internal(err)
	}
	return out, nil
}

func (s *Store) GetOrganization(ctx context.Context, organizationID string) (store.Organization, error) {
	var out store.Organization
	err := s.pool.QueryRow(ctx, `SELECT organization_id, slug, name, created_at, updated_at FROM organizations WHERE organization_id = $1`, organizationID).
		Scan(&out.OrganizationID, &out.Slug, &out.Name, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return store.Organization{}, mapNoRows(err, "organization not found")
	}
	return out, nil
}

func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (store.Organization, error) {
	var out store.Organization
	err := s.pool.QueryRow(ctx, `SELECT organization_id, slug, name, created_at, updated_at FROM organizations WHERE slug = lower($1)`, slug).
		Scan(&out.OrganizationID, &out.Slug, &out.Name, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return store.Organization{}, mapNoRows(err, "organization not found")
	}
	return out, nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]store.Organization, error) {
	rows, err := s.pool.Query(ctx, `SELECT organization_id, slug, name, created_at, updated_at FROM organizations ORDER BY organization_id`)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []store.Organization
	for rows.Next() {
		var o store.Organization
		if err := rows.Scan(&o.OrganizationID, &o.Slug, &o.Name, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) UpdateOrganization(ctx context.Context, org store.Organization) (store.Organization, error) {
	var out store.Organization
	err := s.pool.QueryRow(ctx, `
		UPDATE organizations SET name = COALESCE(NULLIF($2, ''), name), updated_at = now()
		WHERE organization_id = $1
		RETURNING organization_id, slug, name, created_at, updated_at`,
		org.OrganizationID, org.Name).
		Scan(&out.OrganizationID, &out.Slug, &out.Name, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return store.Organization{}, mapNoRows(err, "organization not found")
	}
	return out, nil
}

// ---- Players ----

func (s *Store) CreatePlayer(ctx context.Context, p store.Player) (store.Player, error) {
	var birthYear *int
	if p.BirthDate != nil {
		y := p.BirthDate.Year()
		birthYear = &y
	} else {
		birthYear = p.BirthYear
	}
	var out store.Player
	err := s.pool.QueryRow(ctx, `
		INSERT INTO players (player_id, organization_id, display_name, given_name, family_name, sex, birth_date, birth_year, country_code, region_id, external_ref, created_at, updated_at)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), now(), now())
		RETURNING player_id, organization_id, display_name, given_name, family_name, sex, birth_date, birth_year, country_code, region_id, COALESCE(external_ref, ''), created_at, updated_at`,
		p.PlayerID, p.OrganizationID, p.DisplayName, p.GivenName, p.FamilyName, string(p.Sex), p.BirthDate, birthYear, p.CountryCode, p.RegionID, p.ExternalRef).
		Scan(&out.PlayerID, &out.OrganizationID, &out.DisplayName, &out.GivenName, &out.FamilyName, (*string)(&out.Sex), &out.BirthDate, &out.BirthYear, &out.CountryCode, &out.RegionID, &out.ExternalRef, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		var pgErr interface{ ConstraintName() string }
		if errors.As(err, &pgErr) {
			return store.Player{}, apperr.New(apperr.KindConflict, "external_ref already used for this provider/organization")
		}
		return store.Player{}, apperr.Internal(err)
	}
	return out, nil
}

func (s *Store) GetPlayer(ctx context.Context, playerID string) (store.Player, error) {
	var out store.Player
	err := s.pool.QueryRow(ctx, `
		SELECT player_id, organization_id, display_name, given_name, family_name, sex, birth_date, birth_year, country_code, region_id, COALESCE(external_ref, ''), created_at, updated_at
		FROM players WHERE player_id = $1`, playerID).
		Scan(&out.PlayerID, &out.OrganizationID, &out.DisplayName, &out.GivenName, &out.FamilyName, (*string)(&out.Sex), &out.BirthDate, &out.BirthYear, &out.CountryCode, &out.RegionID, &out.ExternalRef, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return store.Player{}, mapNoRows(err, "player not found")
	}
	return out, nil
}

func (s *Store) GetPlayersByID(ctx context.Context, playerIDs []string) (map[string]store.Player, error) {
	if len(playerIDs) == 0 {
		return map[string]store.Player{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT player_id, organization_id, display_name, given_name, family_name, sex, birth_date, birth_year, country_code, region_id, COALESCE(external_ref, ''), created_at, updated_at
		FROM players WHERE player_id = ANY($1)`, playerIDs)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	out := make(map[string]store.Player, len(playerIDs))
	for rows.Next() {
		var p store.Player
		if err := rows.Scan(&p.PlayerID, &p.OrganizationID, &p.DisplayName, &p.GivenName, &p.FamilyName, (*string)(&p.Sex), &p.BirthDate, &p.BirthYear, &p.CountryCode, &p.RegionID, &p.ExternalRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperr.Internal(err)
		}
		out[p.PlayerID] = p
	}
	return out, rows.Err()
}

func (s *Store) FindPlayerByExternalRef(ctx context.Context, organizationID, providerID, externalRef string) (store.Player, bool, error) {
	if externalRef == "" {
		return store.Player{}, false, nil
	}
	var out store.Player
	err := s.pool.QueryRow(ctx, `
		SELECT player_id, organization_id, display_name, given_name, family_name, sex, birth_date, birth_year, country_code, region_id, COALESCE(external_ref, ''), created_at, updated_at
		FROM players WHERE organization_id = $1 AND external_ref = $2`, organizationID, externalRef).
		Scan(&out.PlayerID, &out.OrganizationID, &out.DisplayName, &out.GivenName, &out.FamilyName, (*string)(&out.Sex), &out.BirthDate, &out.BirthYear, &out.CountryCode, &out.RegionID, &out.ExternalRef, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Player{}, false, nil
		}
		return store.Player{}, false, apperr.Internal(err)
	}
	return out, true, nil
}

// ---- Ladders ----

func (s *Store) EnsureLadder(ctx context.Context, key store.LadderKey) (store.Ladder, error) {
	key = key.Normalize()
	var out store.Ladder
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rating_ladders (ladder_id, organization_id, sport, discipline, format, tier, region_id, created_at)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (organization_id, sport, discipline, format, tier, region_id) DO UPDATE SET organization_id = EXCLUDED.organization_id
		RETURNING ladder_id, organization_id, sport, discipline, format, tier, region_id, created_at`,
		key.OrganizationID, key.Sport, key.Discipline, key.Format, key.Tier, key.RegionID).
		Scan(&out.LadderID, &out.OrganizationID, &out.Sport, &out.Discipline, &out.Format, &out.Tier, &out.RegionID, &out.CreatedAt)
	if err != nil {
		return store.Ladder{}, apperr.Internal(err)
	}
	return out, nil
}

func (s *Store) GetLadder(ctx context.Context, ladderID string) (store.Ladder, error) {
	var out store.Ladder
	err := s.pool.QueryRow(ctx, `SELECT ladder_id, organization_id, sport, discipline, format, tier, region_id, created_at FROM rating_ladders WHERE ladder_id = $1`, ladderID).
		Scan(&out.LadderID, &out.OrganizationID, &out.Sport, &out.Discipline, &out.Format, &out.Tier, &out.RegionID, &out.CreatedAt)
	if err != nil {
		return store.Ladder{}, mapNoRows(err, "ladder not found")
	}
	return out, nil
}

func (s *Store) GetLadderByKey(ctx context.Context, key store.LadderKey) (store.Ladder, bool, error) {
	key = key.Normalize()
	var out store.Ladder
	err := s.pool.QueryRow(ctx, `
		SELECT ladder_id, organization_id, sport, discipline, format, tier, region_id, created_at
		FROM rating_ladders WHERE organization_id = $1 AND sport = $2 AND discipline = $3 AND format = $4 AND tier = $5 AND region_id = $6`,
		key.OrganizationID, key.Sport, key.Discipline, key.Format, key.Tier, key.RegionID).
		Scan(&out.LadderID, &out.OrganizationID, &out.Sport, &out.Discipline, &out.Format, &out.Tier, &out.RegionID, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Ladder{}, false, nil
		}
		return store.Ladder{}, false, apperr.Internal(err)
	}
	return out, true, nil
}

// ---- Rating/synergy snapshots ----

func (s *Store) GetPlayerRatings(ctx context.Context, ladderID string, playerIDs []string) (map[string]store.PlayerRating, error) {
	if len(playerIDs) == 0 {
		return map[string]store.PlayerRating{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT player_id, ladder_id, mu, sigma, matches_count, updated_at
		FROM player_ratings WHERE ladder_id = $1 AND player_id = ANY($2)`, ladderID, playerIDs)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	out := make(map[string]store.PlayerRating, len(playerIDs))
	for rows.Next() {
		var r store.PlayerRating
		if err := rows.Scan(&r.PlayerID, &r.LadderID, &r.Mu, &r.Sigma, &r.Matches, &r.UpdatedAt); err != nil {
			return nil, apperr.Internal(err)
		}
		out[r.PlayerID] = r
	}
	return out, rows.Err()
}

func (s *Store) GetPairSynergies(ctx context.Context, ladderID string, pairKeys []string) (map[string]store.PairSynergy, error) {
	if len(pairKeys) == 0 {
		return map[string]store.PairSynergy{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ladder_id, pair_key, gamma, matches_count, updated_at
		FROM pair_synergies WHERE ladder_id = $1 AND pair_key = ANY($2)`, ladderID, pairKeys)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	out := make(map[string]store.PairSynergy, len(pairKeys))
	for rows.Next() {
		var p store.PairSynergy
		if err := rows.Scan(&p.LadderID, &p.PairKey, &p.Gamma, &p.Matches, &p.UpdatedAt); err != nil {
			return nil, apperr.Internal(err)
		}
		out[p.PairKey] = p
	}
	return out, rows.Err()
}

// ---- Replay queue ----

func (s *Store) UpsertReplayQueueEntry(ctx context.Context, ladderID string, earliestStartTime time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rating_replay_queue (ladder_id, earliest_start_time, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (ladder_id) DO UPDATE SET
			earliest_start_time = LEAST(rating_replay_queue.earliest_start_time, EXCLUDED.earliest_start_time),
			updated_at = now()`,
		ladderID, earliestStartTime)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) GetReplayQueueEntry(ctx context.Context, ladderID string) (store.ReplayQueueEntry, bool, error) {
	var out store.ReplayQueueEntry
	err := s.pool.QueryRow(ctx, `SELECT ladder_id, earliest_start_time, created_at, updated_at FROM rating_replay_queue WHERE ladder_id = $1`, ladderID).
		Scan(&out.LadderID, &out.EarliestStartTime, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ReplayQueueEntry{}, false, nil
		}
		return store.ReplayQueueEntry{}, false, apperr.Internal(err)
	}
	return out, true, nil
}

func (s *Store) DeleteReplayQueueEntry(ctx context.Context, ladderID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rating_replay_queue WHERE ladder_id = $1`, ladderID)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) ListReplayQueueEntries(ctx context.Context) ([]store.ReplayQueueEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT ladder_id, earliest_start_time, created_at, updated_at FROM rating_replay_queue ORDER BY ladder_id`)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []store.ReplayQueueEntry
	for rows.Next() {
		var e store.ReplayQueueEntry
		if err := rows.Scan(&e.LadderID, &e.EarliestStartTime, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
