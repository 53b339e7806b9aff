package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// MergeAuditRepository implements identity.MergeAuditRepository for PostgreSQL.
// The table rejects UPDATE and DELETE through a trigger.
type MergeAuditRepository struct {
	q Querier
}

const mergeAuditColumns = `id, kind, survivor_id, loser_id, moved_links, reverses_audit_id, actor, reason, created_at`

// Append inserts a merge or unmerge record.
func (r *MergeAuditRepository) Append(ctx context.Context, m *identity.MergeAudit) error {
	moved := m.MovedLinks
	if moved == nil {
		moved = []identity.MovedLink{}
	}
	payload, err := json.Marshal(moved)
	if err != nil {
		return fmt.Errorf("failed to encode moved links: %w", err)
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO merge_audits (`+mergeAuditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		m.ID,
		string(m.Kind),
		m.SurvivorID,
		m.LoserID,
		payload,
		nullable(m.ReversesAuditID),
		m.Actor,
		m.Reason,
		m.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) && ViolatedConstraint(err) == "uq_merge_audits_reversal" {
			return shared.ErrAlreadyUnmerged
		}
		return fmt.Errorf("failed to append merge audit: %w", err)
	}
	return nil
}

// GetByID returns a merge audit record.
func (r *MergeAuditRepository) GetByID(ctx context.Context, id string) (*identity.MergeAudit, error) {
	if err := uuidOrMiss(id, shared.ErrMergeAuditNotFound); err != nil {
		return nil, err
	}
	row := r.q.QueryRow(ctx, `
		SELECT `+mergeAuditColumns+`
		FROM merge_audits
		WHERE id = $1
	`, id)
	return scanMergeAudit(row)
}

// FindReversal returns the unmerge record of a merge.
func (r *MergeAuditRepository) FindReversal(ctx context.Context, mergeAuditID string) (*identity.MergeAudit, error) {
	if err := uuidOrMiss(mergeAuditID, shared.ErrMergeAuditNotFound); err != nil {
		return nil, err
	}
	row := r.q.QueryRow(ctx, `
		SELECT `+mergeAuditColumns+`
		FROM merge_audits
		WHERE reverses_audit_id = $1
	`, mergeAuditID)
	return scanMergeAudit(row)
}

// ListByIdentity returns records involving the identity, newest first.
func (r *MergeAuditRepository) ListByIdentity(ctx context.Context, identityID string) ([]*identity.MergeAudit, error) {
	if !shared.IsUUID(identityID) {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+mergeAuditColumns+`
		FROM merge_audits
		WHERE survivor_id = $1 OR loser_id = $1
		ORDER BY created_at DESC, id
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge audits: %w", err)
	}
	defer rows.Close()

	var out []*identity.MergeAudit
	for rows.Next() {
		m, err := scanMergeAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMergeAudit(row pgx.Row) (*identity.MergeAudit, error) {
	var (
		m        identity.MergeAudit
		kind     string
		moved    []byte
		reverses *string
	)
	err := row.Scan(
		&m.ID,
		&kind,
		&m.SurvivorID,
		&m.LoserID,
		&moved,
		&reverses,
		&m.Actor,
		&m.Reason,
		&m.CreatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrMergeAuditNotFound
		}
		return nil, fmt.Errorf("failed to scan merge audit: %w", err)
	}
	if err := json.Unmarshal(moved, &m.MovedLinks); err != nil {
		return nil, fmt.Errorf("failed to decode moved links: %w", err)
	}
	m.Kind = identity.MergeKind(kind)
	m.ReversesAuditID = str(reverses)
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}
