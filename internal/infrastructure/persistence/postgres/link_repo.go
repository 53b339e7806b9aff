package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// LinkRepository implements identity.LinkRepository for PostgreSQL.
type LinkRepository struct {
	q Querier
}

const linkColumns = `id, organization_id, profile_id, identity_id, confidence, context_hash, active, created_at, updated_at`

// Create inserts an active link. uq_links_active_profile rejects a second
// active link for the same profile.
func (r *LinkRepository) Create(ctx context.Context, l *identity.IdentityLink) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO identity_links (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		l.ID,
		l.Profile.OrganizationID,
		l.Profile.ProfileID,
		l.IdentityID,
		string(l.Confidence),
		nullable(l.ContextHash),
		l.Active,
		l.CreatedAt,
		l.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrConcurrentCreationConflict
		}
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// GetActiveByProfile returns the active link of a profile.
func (r *LinkRepository) GetActiveByProfile(ctx context.Context, ref shared.ProfileRef) (*identity.IdentityLink, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+linkColumns+`
		FROM identity_links
		WHERE organization_id = $1 AND profile_id = $2 AND active
	`, ref.OrganizationID, ref.ProfileID)
	return scanLink(row)
}

// ListActiveByIdentity returns active links ordered by ID.
func (r *LinkRepository) ListActiveByIdentity(ctx context.Context, identityID string) ([]*identity.IdentityLink, error) {
	if !shared.IsUUID(identityID) {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+linkColumns+`
		FROM identity_links
		WHERE identity_id = $1 AND active
		ORDER BY id
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var out []*identity.IdentityLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Move re-points the listed links from one identity to another. Links that
// are no longer active on from are skipped and not counted.
func (r *LinkRepository) Move(ctx context.Context, moves []identity.LinkMove, from, to string, now time.Time) (int, error) {
	if len(moves) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, m := range moves {
		batch.Queue(`
			UPDATE identity_links
			SET identity_id = $1, confidence = $2, updated_at = $3
			WHERE id = $4 AND identity_id = $5 AND active
		`, to, string(m.Confidence), now, m.LinkID, from)
	}

	results := r.q.SendBatch(ctx, batch)
	defer results.Close()

	moved := 0
	for range moves {
		tag, err := results.Exec()
		if err != nil {
			return 0, fmt.Errorf("failed to move link: %w", err)
		}
		moved += int(tag.RowsAffected())
	}
	return moved, nil
}

func scanLink(row pgx.Row) (*identity.IdentityLink, error) {
	var (
		l           identity.IdentityLink
		confidence  string
		contextHash *string
	)
	err := row.Scan(
		&l.ID,
		&l.Profile.OrganizationID,
		&l.Profile.ProfileID,
		&l.IdentityID,
		&confidence,
		&contextHash,
		&l.Active,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to scan link: %w", err)
	}
	l.Confidence = identity.Confidence(confidence)
	l.ContextHash = shared.Hash(str(contextHash))
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}
