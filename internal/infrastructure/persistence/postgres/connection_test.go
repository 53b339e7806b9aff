package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert link: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_merge_audits_reversal"})
	serialization := &pgconn.PgError{Code: "40001"}
	deadlock := fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"})
	other := errors.New("network down")

	assert.True(t, IsUniqueViolation(unique))
	assert.Equal(t, "uq_merge_audits_reversal", ViolatedConstraint(unique))
	assert.False(t, IsUniqueViolation(serialization))

	assert.True(t, IsSerializationFailure(serialization))
	assert.True(t, IsSerializationFailure(deadlock))
	assert.False(t, IsSerializationFailure(unique))
	assert.False(t, IsSerializationFailure(other))

	assert.Empty(t, ViolatedConstraint(other))
	assert.True(t, IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)))
}

func TestNewConnection_RequiresURL(t *testing.T) {
	_, err := NewConnection(context.Background(), DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestClosedConnection(t *testing.T) {
	c := &Connection{closed: true}

	assert.ErrorIs(t, c.Ping(context.Background()), ErrConnectionClosed)
	assert.ErrorIs(t, c.WithTx(context.Background(), DefaultTxOptions(), func(pgx.Tx) error { return nil }), ErrConnectionClosed)
	c.Close()
}

func TestMigrations_AreOrderedAndReversible(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL, m.Name)
		assert.NotEmpty(t, m.DownSQL, m.Name)
	}
}
