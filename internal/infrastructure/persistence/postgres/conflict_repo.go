package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ConflictRepository implements conflict.Repository for PostgreSQL.
type ConflictRepository struct {
	q Querier
}

const conflictColumns = `id, identity_a, identity_b, field, organization_id, profile_id,
	status, created_at, resolved_at, resolved_by, merge_audit_id`

// Create inserts an open conflict.
func (r *ConflictRepository) Create(ctx context.Context, c *conflict.ConflictRecord) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO conflicts (`+conflictColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		c.ID,
		c.IdentityA,
		nullable(c.IdentityB),
		string(c.Field),
		c.Profile.OrganizationID,
		c.Profile.ProfileID,
		string(c.Status),
		c.CreatedAt,
		c.ResolvedAt,
		nullable(c.ResolvedBy),
		nullable(c.MergeAuditID),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrConcurrentCreationConflict
		}
		return fmt.Errorf("failed to create conflict: %w", err)
	}
	return nil
}

// GetByID returns a conflict, optionally locking the row.
func (r *ConflictRepository) GetByID(ctx context.Context, id string, forUpdate bool) (*conflict.ConflictRecord, error) {
	if err := uuidOrMiss(id, shared.ErrConflictNotFound); err != nil {
		return nil, err
	}
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanConflict(r.q.QueryRow(ctx, query, id))
}

// List returns conflicts matching the filter, oldest first.
func (r *ConflictRepository) List(ctx context.Context, f conflict.ListFilter) ([]*conflict.ConflictRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.IdentityID != "" {
		if !shared.IsUUID(f.IdentityID) {
			return nil, nil
		}
		args = append(args, f.IdentityID)
		where = append(where, fmt.Sprintf("(identity_a = $%d OR identity_b = $%d)", len(args), len(args)))
	}

	query := `SELECT ` + conflictColumns + ` FROM conflicts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.list(ctx, query, args...)
}

// FindOpen returns the open conflict about field between a and b and locks it.
func (r *ConflictRepository) FindOpen(ctx context.Context, field conflict.Field, a, b string) (*conflict.ConflictRecord, error) {
	return scanConflict(r.q.QueryRow(ctx, `
		SELECT `+conflictColumns+`
		FROM conflicts
		WHERE status = 'open'
		  AND field = $1
		  AND ((identity_a = $2 AND identity_b IS NOT DISTINCT FROM $3::uuid)
		    OR (identity_a = $3::uuid AND identity_b = $2))
		LIMIT 1
		FOR UPDATE
	`, string(field), a, nullable(b)))
}

// ListOpenBetween returns open conflicts between exactly a and b.
func (r *ConflictRepository) ListOpenBetween(ctx context.Context, a, b string) ([]*conflict.ConflictRecord, error) {
	return r.list(ctx, `
		SELECT `+conflictColumns+`
		FROM conflicts
		WHERE status = 'open'
		  AND ((identity_a = $1 AND identity_b = $2) OR (identity_a = $2 AND identity_b = $1))
		ORDER BY created_at, id
		FOR UPDATE
	`, a, b)
}

// Update persists status and resolution fields.
func (r *ConflictRepository) Update(ctx context.Context, c *conflict.ConflictRecord) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE conflicts SET
			status = $1,
			resolved_at = $2,
			resolved_by = $3,
			merge_audit_id = $4
		WHERE id = $5
	`,
		string(c.Status),
		c.ResolvedAt,
		nullable(c.ResolvedBy),
		nullable(c.MergeAuditID),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConflictNotFound
	}
	return nil
}

func (r *ConflictRepository) list(ctx context.Context, query string, args ...any) ([]*conflict.ConflictRecord, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*conflict.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConflict(row pgx.Row) (*conflict.ConflictRecord, error) {
	var (
		c                              conflict.ConflictRecord
		identityB, resolvedBy, mergeID *string
		field, status                  string
		resolvedAt                     *time.Time
	)
	err := row.Scan(
		&c.ID,
		&c.IdentityA,
		&identityB,
		&field,
		&c.Profile.OrganizationID,
		&c.Profile.ProfileID,
		&status,
		&c.CreatedAt,
		&resolvedAt,
		&resolvedBy,
		&mergeID,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}
	c.IdentityB = str(identityB)
	c.Field = conflict.Field(field)
	c.Status = conflict.Status(status)
	c.CreatedAt = c.CreatedAt.UTC()
	if resolvedAt != nil {
		t := resolvedAt.UTC()
		c.ResolvedAt = &t
	}
	c.ResolvedBy = str(resolvedBy)
	c.MergeAuditID = str(mergeID)
	return &c, nil
}
