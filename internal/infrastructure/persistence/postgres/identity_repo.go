package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// IdentityRepository implements identity.Repository for PostgreSQL.
type IdentityRepository struct {
	q Querier
}

const identityColumns = `id, phone_hash, email_hash, state, merged_into, created_at, updated_at`

// Create inserts a new identity. A taken hash surfaces as
// ErrConcurrentCreationConflict.
func (r *IdentityRepository) Create(ctx context.Context, ci *identity.CanonicalIdentity) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO canonical_identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		ci.ID,
		nullable(ci.PhoneHash),
		nullable(ci.EmailHash),
		string(ci.State),
		nullable(ci.MergedInto),
		ci.CreatedAt,
		ci.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrConcurrentCreationConflict
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

// GetByID returns an identity by ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id string, lock identity.LockMode) (*identity.CanonicalIdentity, error) {
	if err := uuidOrMiss(id, shared.ErrIdentityNotFound); err != nil {
		return nil, err
	}
	row := r.q.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM canonical_identities
		WHERE id = $1`+lockClause(lock), id)
	return scanIdentity(row)
}

// FindByPhoneHash returns the non-archived identity owning the phone hash.
func (r *IdentityRepository) FindByPhoneHash(ctx context.Context, h shared.Hash, lock identity.LockMode) (*identity.CanonicalIdentity, error) {
	return r.findByHash(ctx, "phone_hash", h, lock)
}

// FindByEmailHash returns the non-archived identity owning the email hash.
func (r *IdentityRepository) FindByEmailHash(ctx context.Context, h shared.Hash, lock identity.LockMode) (*identity.CanonicalIdentity, error) {
	return r.findByHash(ctx, "email_hash", h, lock)
}

func (r *IdentityRepository) findByHash(ctx context.Context, column string, h shared.Hash, lock identity.LockMode) (*identity.CanonicalIdentity, error) {
	if h == "" {
		return nil, shared.ErrIdentityNotFound
	}
	// column is one of two constants, never user input
	row := r.q.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM canonical_identities
		WHERE `+column+` = $1 AND state <> 'archived'`+lockClause(lock), string(h))
	return scanIdentity(row)
}

// ListMergedInto returns identities merged directly into survivorID.
func (r *IdentityRepository) ListMergedInto(ctx context.Context, survivorID string) ([]*identity.CanonicalIdentity, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+identityColumns+`
		FROM canonical_identities
		WHERE merged_into = $1 AND state = 'merged'
		ORDER BY id
		FOR UPDATE`, survivorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merged identities: %w", err)
	}
	defer rows.Close()

	var out []*identity.CanonicalIdentity
	for rows.Next() {
		ci, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

// Update persists state, hashes and timestamps of an identity.
func (r *IdentityRepository) Update(ctx context.Context, ci *identity.CanonicalIdentity) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE canonical_identities SET
			phone_hash = $1,
			email_hash = $2,
			state = $3,
			merged_into = $4,
			updated_at = $5
		WHERE id = $6
	`,
		nullable(ci.PhoneHash),
		nullable(ci.EmailHash),
		string(ci.State),
		nullable(ci.MergedInto),
		ci.UpdatedAt,
		ci.ID,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrConcurrentCreationConflict
		}
		return fmt.Errorf("failed to update identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrIdentityNotFound
	}
	return nil
}

func scanIdentity(row pgx.Row) (*identity.CanonicalIdentity, error) {
	var (
		ci                     identity.CanonicalIdentity
		phone, email, mergedTo *string
		state                  string
	)
	err := row.Scan(&ci.ID, &phone, &email, &state, &mergedTo, &ci.CreatedAt, &ci.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}
	ci.PhoneHash = shared.Hash(str(phone))
	ci.EmailHash = shared.Hash(str(email))
	ci.State = identity.State(state)
	ci.MergedInto = str(mergedTo)
	ci.CreatedAt = ci.CreatedAt.UTC()
	ci.UpdatedAt = ci.UpdatedAt.UTC()
	return &ci, nil
}
