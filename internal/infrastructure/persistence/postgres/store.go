package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/academy-identity/pkg/retry"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// Store implements port.UnitOfWork over one pgx transaction per call.
// Transactions aborted by a deadlock or serialization failure are rerun
// from the start; fn must not keep state across attempts.
type Store struct {
	conn    *Connection
	retrier *retry.Retrier
}

var _ port.UnitOfWork = (*Store)(nil)

// NewStore creates a new Store.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn, retrier: retry.DatabaseRetrier()}
}

// Do implements port.UnitOfWork.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos port.Repositories) error) error {
	return s.run(ctx, DefaultTxOptions(), fn)
}

// Read implements port.UnitOfWork.
func (s *Store) Read(ctx context.Context, fn func(ctx context.Context, repos port.Repositories) error) error {
	return s.run(ctx, SnapshotTxOptions(), fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, repos port.Repositories) error) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		err := s.conn.WithTx(ctx, opts, func(tx pgx.Tx) error {
			return fn(ctx, txRepos{q: tx})
		})
		if IsSerializationFailure(err) {
			return retry.Retryable(err)
		}
		return err
	})
}

type txRepos struct {
	q Querier
}

func (r txRepos) Identities() identity.Repository       { return &IdentityRepository{q: r.q} }
func (r txRepos) Links() identity.LinkRepository        { return &LinkRepository{q: r.q} }
func (r txRepos) Merges() identity.MergeAuditRepository { return &MergeAuditRepository{q: r.q} }
func (r txRepos) Conflicts() conflict.Repository        { return &ConflictRepository{q: r.q} }
func (r txRepos) Audit() audit.Repository               { return &AuditRepository{q: r.q} }
func (r txRepos) Reputation() reputation.Repository     { return &ReputationRepository{q: r.q} }

// ─────────────────────────────────────────────────────────────────────────────
// Column helpers
// ─────────────────────────────────────────────────────────────────────────────

// nullable maps the empty string to SQL NULL.
func nullable[T ~string](v T) any {
	if v == "" {
		return nil
	}
	return string(v)
}

// str dereferences a scanned nullable column.
func str(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func lockClause(mode identity.LockMode) string {
	switch mode {
	case identity.LockShare:
		return " FOR SHARE"
	case identity.LockUpdate:
		return " FOR UPDATE"
	default:
		return ""
	}
}

// uuidOrMiss guards lookups by externally supplied ids against the uuid cast.
func uuidOrMiss(id string, miss error) error {
	if !shared.IsUUID(id) {
		return miss
	}
	return nil
}
