package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/store"
)

var _ store.InsightStore = (*Store)(nil)

func (s *Store) UpsertInsightSnapshot(ctx context.Context, snap store.InsightSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO insight_snapshots (organization_id, player_id, sport, discipline, snapshot, digest, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (organization_id, player_id, sport, discipline) DO UPDATE SET
			snapshot = $5, digest = $6, computed_at = now()`,
		snap.OrganizationID, snap.PlayerID, snap.Sport, snap.Discipline, snap.Snapshot, snap.Digest)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) GetInsightSnapshot(ctx context.Context, organizationID, playerID, sport, discipline string) (store.InsightSnapshot, bool, error) {
	var snap store.InsightSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT organization_id, player_id, sport, discipline, snapshot, digest, computed_at
		FROM insight_snapshots WHERE organization_id = $1 AND player_id = $2 AND sport = $3 AND discipline = $4`,
		organizationID, playerID, sport, discipline).
		Scan(&snap.OrganizationID, &snap.PlayerID, &snap.Sport, &snap.Discipline, &snap.Snapshot, &snap.Digest, &snap.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.InsightSnapshot{}, false, nil
		}
		return store.InsightSnapshot{}, false, apperr.Internal(err)
	}
	return snap, true, nil
}
