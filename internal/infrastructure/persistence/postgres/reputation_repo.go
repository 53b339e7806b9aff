package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPUTATION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ReputationRepository implements reputation.Repository for PostgreSQL.
type ReputationRepository struct {
	q Querier
}

const snapshotColumns = `id, identity_id, trust, satisfaction, engagement, loyalty, composite, event_count, computed_at`

// RecordEvent inserts a behavioral event. Event IDs come from the source
// system, so a replay hits the primary key.
func (r *ReputationRepository) RecordEvent(ctx context.Context, e *reputation.Event) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO behavioral_events (id, organization_id, profile_id, kind, value, occurred_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		e.ID,
		e.Profile.OrganizationID,
		e.Profile.ProfileID,
		string(e.Kind),
		e.Value,
		e.OccurredAt,
		e.RecordedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrEventAlreadyStored
		}
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListEventsByIdentity returns events of every profile actively linked to the
// identity, oldest first.
func (r *ReputationRepository) ListEventsByIdentity(ctx context.Context, identityID string) ([]*reputation.Event, error) {
	if !shared.IsUUID(identityID) {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT e.id, e.organization_id, e.profile_id, e.kind, e.value, e.occurred_at, e.recorded_at
		FROM behavioral_events e
		JOIN identity_links l
		  ON l.organization_id = e.organization_id
		 AND l.profile_id = e.profile_id
		 AND l.active
		WHERE l.identity_id = $1
		ORDER BY e.occurred_at, e.id
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []*reputation.Event
	for rows.Next() {
		var (
			e    reputation.Event
			kind string
		)
		if err := rows.Scan(
			&e.ID,
			&e.Profile.OrganizationID,
			&e.Profile.ProfileID,
			&kind,
			&e.Value,
			&e.OccurredAt,
			&e.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = reputation.EventKind(kind)
		e.OccurredAt = e.OccurredAt.UTC()
		e.RecordedAt = e.RecordedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SaveSnapshot appends a snapshot.
func (r *ReputationRepository) SaveSnapshot(ctx context.Context, s *reputation.Snapshot) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO reputation_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		s.ID,
		s.IdentityID,
		s.Trust.Float64(),
		s.Satisfaction.Float64(),
		s.Engagement.Float64(),
		s.Loyalty.Float64(),
		s.Composite.Float64(),
		s.EventCount,
		s.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot of the identity.
func (r *ReputationRepository) LatestSnapshot(ctx context.Context, identityID string) (*reputation.Snapshot, error) {
	if err := uuidOrMiss(identityID, shared.ErrSnapshotNotFound); err != nil {
		return nil, err
	}
	row := r.q.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM reputation_snapshots
		WHERE identity_id = $1
		ORDER BY computed_at DESC, id DESC
		LIMIT 1
	`, identityID)
	return scanSnapshot(row)
}

// SnapshotAt returns the latest snapshot computed at or before at.
func (r *ReputationRepository) SnapshotAt(ctx context.Context, identityID string, at time.Time) (*reputation.Snapshot, error) {
	if err := uuidOrMiss(identityID, shared.ErrSnapshotNotFound); err != nil {
		return nil, err
	}
	row := r.q.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM reputation_snapshots
		WHERE identity_id = $1 AND computed_at <= $2
		ORDER BY computed_at DESC, id DESC
		LIMIT 1
	`, identityID, at)
	return scanSnapshot(row)
}

// History returns snapshots newest first.
func (r *ReputationRepository) History(ctx context.Context, identityID string, limit int) ([]*reputation.Snapshot, error) {
	if !shared.IsUUID(identityID) {
		return nil, nil
	}
	query := `
		SELECT ` + snapshotColumns + `
		FROM reputation_snapshots
		WHERE identity_id = $1
		ORDER BY computed_at DESC, id DESC`
	args := []any{identityID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*reputation.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// listCandidatesSQL selects active identities that need a new snapshot:
// no snapshot yet but events exist, events recorded after the snapshot,
// identity or link changes after the snapshot, or a stale non-zero snapshot.
const listCandidatesSQL = `
WITH latest AS (
	SELECT DISTINCT ON (identity_id) identity_id, composite, computed_at
	FROM reputation_snapshots
	ORDER BY identity_id, computed_at DESC, id DESC
)
SELECT ci.id
FROM canonical_identities ci
LEFT JOIN latest s ON s.identity_id = ci.id
WHERE ci.state = 'active'
  AND ci.id > $1
  AND (
	EXISTS (
		SELECT 1
		FROM identity_links l
		JOIN behavioral_events e
		  ON e.organization_id = l.organization_id
		 AND e.profile_id = l.profile_id
		WHERE l.identity_id = ci.id
		  AND l.active
		  AND (s.computed_at IS NULL OR e.recorded_at > s.computed_at)
	)
	OR (s.computed_at IS NOT NULL AND ci.updated_at > s.computed_at)
	OR (s.computed_at IS NOT NULL AND EXISTS (
		SELECT 1
		FROM identity_links l
		WHERE l.identity_id = ci.id
		  AND l.active
		  AND l.updated_at > s.computed_at
	))
	OR (s.computed_at < $2 AND s.composite > 0)
  )
ORDER BY ci.id
LIMIT $3
`

// ListCandidates returns IDs of identities due for rescoring, ordered by ID.
func (r *ReputationRepository) ListCandidates(ctx context.Context, f reputation.CandidateFilter) ([]string, error) {
	after := uuid.Nil
	if f.AfterID != "" {
		parsed, err := uuid.Parse(f.AfterID)
		if err != nil {
			return nil, shared.NewDomainError("reputation", "ListCandidates", shared.ErrInvalidID, "cursor must be a uuid")
		}
		after = parsed
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.q.Query(ctx, listCandidatesSQL, after.String(), f.StaleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan candidates: %w", err)
	}
	return ids, nil
}

func scanSnapshot(row pgx.Row) (*reputation.Snapshot, error) {
	var (
		s                                        reputation.Snapshot
		trust, satisfaction, engagement, loyalty float64
		composite                                float64
	)
	err := row.Scan(
		&s.ID,
		&s.IdentityID,
		&trust,
		&satisfaction,
		&engagement,
		&loyalty,
		&composite,
		&s.EventCount,
		&s.ComputedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	s.Trust = shared.Score(trust)
	s.Satisfaction = shared.Score(satisfaction)
	s.Engagement = shared.Score(engagement)
	s.Loyalty = shared.Score(loyalty)
	s.Composite = shared.Score(composite)
	s.ComputedAt = s.ComputedAt.UTC()
	return &s, nil
}
