package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one versioned schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations and tracks them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[version] = appliedAt
	}
	return out, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
// Returns the number of migrations applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		count++
	}
	return count, nil
}

// Rollback reverts the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_identities", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_conflicts_and_audit", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_reputation", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: IDENTITIES, LINKS, MERGE AUDITS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS canonical_identities (
    id UUID PRIMARY KEY,
    phone_hash CHAR(64),
    email_hash CHAR(64),
    state VARCHAR(16) NOT NULL DEFAULT 'active',
    merged_into UUID REFERENCES canonical_identities(id),
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,

    CONSTRAINT valid_state CHECK (state IN ('active', 'merged', 'archived')),
    CONSTRAINT merged_has_target CHECK (state <> 'merged' OR merged_into IS NOT NULL),
    CONSTRAINT not_merged_into_self CHECK (merged_into IS NULL OR merged_into <> id),
    CONSTRAINT has_identifier CHECK (phone_hash IS NOT NULL OR email_hash IS NOT NULL)
);

-- A hash belongs to at most one non-archived identity.
CREATE UNIQUE INDEX IF NOT EXISTS uq_identities_phone_hash
    ON canonical_identities(phone_hash) WHERE state <> 'archived' AND phone_hash IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_identities_email_hash
    ON canonical_identities(email_hash) WHERE state <> 'archived' AND email_hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_identities_merged_into
    ON canonical_identities(merged_into) WHERE merged_into IS NOT NULL;

CREATE TABLE IF NOT EXISTS identity_links (
    id UUID PRIMARY KEY,
    organization_id VARCHAR(128) NOT NULL,
    profile_id VARCHAR(128) NOT NULL,
    identity_id UUID NOT NULL REFERENCES canonical_identities(id),
    confidence VARCHAR(16) NOT NULL,
    context_hash CHAR(64),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,

    CONSTRAINT valid_confidence CHECK (confidence IN ('exact-phone', 'exact-email', 'manual'))
);

-- One active link per organization profile.
CREATE UNIQUE INDEX IF NOT EXISTS uq_links_active_profile
    ON identity_links(organization_id, profile_id) WHERE active;
CREATE INDEX IF NOT EXISTS idx_links_identity
    ON identity_links(identity_id) WHERE active;

CREATE TABLE IF NOT EXISTS merge_audits (
    id UUID PRIMARY KEY,
    kind VARCHAR(16) NOT NULL,
    survivor_id UUID NOT NULL REFERENCES canonical_identities(id),
    loser_id UUID NOT NULL REFERENCES canonical_identities(id),
    moved_links JSONB NOT NULL DEFAULT '[]'::jsonb,
    reverses_audit_id UUID REFERENCES merge_audits(id),
    actor VARCHAR(128) NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,

    CONSTRAINT valid_kind CHECK (kind IN ('merge', 'unmerge')),
    CONSTRAINT unmerge_has_target CHECK ((kind = 'unmerge') = (reverses_audit_id IS NOT NULL))
);

-- At most one reversal per merge.
CREATE UNIQUE INDEX IF NOT EXISTS uq_merge_audits_reversal
    ON merge_audits(reverses_audit_id) WHERE reverses_audit_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_merge_audits_survivor ON merge_audits(survivor_id);
CREATE INDEX IF NOT EXISTS idx_merge_audits_loser ON merge_audits(loser_id);

CREATE OR REPLACE FUNCTION reject_mutation()
RETURNS TRIGGER AS $$
BEGIN
    RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS merge_audits_append_only ON merge_audits;
CREATE TRIGGER merge_audits_append_only
    BEFORE UPDATE OR DELETE ON merge_audits
    FOR EACH ROW
    EXECUTE FUNCTION reject_mutation();
`

const migration001Down = `
DROP TRIGGER IF EXISTS merge_audits_append_only ON merge_audits;
DROP TABLE IF EXISTS merge_audits;
DROP TABLE IF EXISTS identity_links;
DROP TABLE IF EXISTS canonical_identities;
DROP FUNCTION IF EXISTS reject_mutation();
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CONFLICTS, AUDIT LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS conflicts (
    id UUID PRIMARY KEY,
    identity_a UUID NOT NULL REFERENCES canonical_identities(id),
    identity_b UUID REFERENCES canonical_identities(id),
    field VARCHAR(32) NOT NULL,
    organization_id VARCHAR(128) NOT NULL,
    profile_id VARCHAR(128) NOT NULL,
    status VARCHAR(32) NOT NULL DEFAULT 'open',
    created_at TIMESTAMPTZ NOT NULL,
    resolved_at TIMESTAMPTZ,
    resolved_by VARCHAR(128),
    merge_audit_id UUID REFERENCES merge_audits(id),

    CONSTRAINT valid_field CHECK (field IN ('email', 'declared_context')),
    CONSTRAINT valid_status CHECK (status IN ('open', 'resolved-merge', 'resolved-separate')),
    CONSTRAINT resolved_has_time CHECK (status = 'open' OR resolved_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_conflicts_open ON conflicts(created_at) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_conflicts_identity_a ON conflicts(identity_a);
CREATE INDEX IF NOT EXISTS idx_conflicts_identity_b ON conflicts(identity_b) WHERE identity_b IS NOT NULL;

-- one open conflict per unordered pair and field; a missing B pairs A with itself
CREATE UNIQUE INDEX IF NOT EXISTS uq_conflicts_open_pair ON conflicts (
    LEAST(identity_a, COALESCE(identity_b, identity_a)),
    GREATEST(identity_a, COALESCE(identity_b, identity_a)),
    field
) WHERE status = 'open';

CREATE TABLE IF NOT EXISTS audit_log (
    seq BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    id UUID NOT NULL UNIQUE,
    action VARCHAR(48) NOT NULL,
    identity_id UUID,
    related_identity_id UUID,
    organization_id VARCHAR(128),
    profile_id VARCHAR(128),
    conflict_id UUID,
    merge_audit_id UUID,
    actor VARCHAR(128),
    detail JSONB,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_identity ON audit_log(identity_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_audit_log_related ON audit_log(related_identity_id, seq DESC)
    WHERE related_identity_id IS NOT NULL;

DROP TRIGGER IF EXISTS audit_log_append_only ON audit_log;
CREATE TRIGGER audit_log_append_only
    BEFORE UPDATE OR DELETE ON audit_log
    FOR EACH ROW
    EXECUTE FUNCTION reject_mutation();
`

const migration002Down = `
DROP TRIGGER IF EXISTS audit_log_append_only ON audit_log;
DROP TABLE IF EXISTS audit_log;
DROP TABLE IF EXISTS conflicts;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: BEHAVIORAL EVENTS, REPUTATION SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS behavioral_events (
    id VARCHAR(128) PRIMARY KEY,
    organization_id VARCHAR(128) NOT NULL,
    profile_id VARCHAR(128) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,

    CONSTRAINT valid_value CHECK (value >= 0 AND value <= 1)
);

CREATE INDEX IF NOT EXISTS idx_events_profile
    ON behavioral_events(organization_id, profile_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON behavioral_events(recorded_at);

CREATE TABLE IF NOT EXISTS reputation_snapshots (
    id UUID PRIMARY KEY,
    identity_id UUID NOT NULL REFERENCES canonical_identities(id),
    trust DOUBLE PRECISION NOT NULL,
    satisfaction DOUBLE PRECISION NOT NULL,
    engagement DOUBLE PRECISION NOT NULL,
    loyalty DOUBLE PRECISION NOT NULL,
    composite DOUBLE PRECISION NOT NULL,
    event_count INTEGER NOT NULL DEFAULT 0,
    computed_at TIMESTAMPTZ NOT NULL,

    CONSTRAINT valid_composite CHECK (composite >= 0 AND composite <= 1)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_identity_at
    ON reputation_snapshots(identity_id, computed_at DESC);

DROP TRIGGER IF EXISTS reputation_snapshots_append_only ON reputation_snapshots;
CREATE TRIGGER reputation_snapshots_append_only
    BEFORE UPDATE OR DELETE ON reputation_snapshots
    FOR EACH ROW
    EXECUTE FUNCTION reject_mutation();
`

const migration003Down = `
DROP TRIGGER IF EXISTS reputation_snapshots_append_only ON reputation_snapshots;
DROP TABLE IF EXISTS reputation_snapshots;
DROP TABLE IF EXISTS behavioral_events;
`
