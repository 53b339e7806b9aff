package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// AuditRepository implements audit.Repository for PostgreSQL.
// Rows are ordered by the identity column seq, not by created_at, so entries
// written in one transaction keep their insertion order.
type AuditRepository struct {
	q Querier
}

const auditColumns = `id, action, identity_id, related_identity_id, organization_id, profile_id,
	conflict_id, merge_audit_id, actor, detail, created_at`

// Append inserts an entry.
func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	var detail []byte
	if len(e.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
	}
	var org, profile any
	if e.Profile != nil {
		org, profile = e.Profile.OrganizationID, e.Profile.ProfileID
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		e.ID,
		string(e.Action),
		nullable(e.IdentityID),
		nullable(e.RelatedIdentityID),
		org,
		profile,
		nullable(e.ConflictID),
		nullable(e.MergeAuditID),
		nullable(e.Actor),
		detail,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListByIdentity returns entries where the identity is either side, newest first.
func (r *AuditRepository) ListByIdentity(ctx context.Context, identityID string, limit int) ([]*audit.Entry, error) {
	if !shared.IsUUID(identityID) {
		return nil, nil
	}
	query := `
		SELECT ` + auditColumns + `
		FROM audit_log
		WHERE identity_id = $1 OR related_identity_id = $1
		ORDER BY seq DESC`
	args := []any{identityID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAuditEntry(row pgx.Row) (*audit.Entry, error) {
	var (
		e                                 audit.Entry
		action                            string
		identityID, related, org, profile *string
		conflictID, mergeID, actor        *string
		detail                            []byte
	)
	err := row.Scan(
		&e.ID,
		&action,
		&identityID,
		&related,
		&org,
		&profile,
		&conflictID,
		&mergeID,
		&actor,
		&detail,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	e.Action = audit.Action(action)
	e.IdentityID = str(identityID)
	e.RelatedIdentityID = str(related)
	if org != nil && profile != nil {
		e.Profile = &shared.ProfileRef{OrganizationID: *org, ProfileID: *profile}
	}
	e.ConflictID = str(conflictID)
	e.MergeAuditID = str(mergeID)
	e.Actor = str(actor)
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode audit detail: %w", err)
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
