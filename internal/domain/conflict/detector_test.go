package conflict

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

var hasher, _ = identity.NewHasher([]byte("detector-test"))

func ident(t *testing.T, phone, email string) *identity.CanonicalIdentity {
	t.Helper()
	p := identity.NewIdentityParams{ID: uuid.NewString(), Now: time.Now().UTC()}
	if phone != "" {
		p.PhoneHash = hasher.Phone(phone)
	}
	if email != "" {
		p.EmailHash = hasher.Email(email)
	}
	ci, err := identity.NewCanonicalIdentity(p)
	require.NoError(t, err)
	return ci
}

func TestDetector_OnPhoneMatch(t *testing.T) {
	d := NewDetector(true)

	t.Run("same email is clean", func(t *testing.T) {
		m := ident(t, "01012345678", "kim@example.com")
		out := d.OnPhoneMatch(PhoneMatch{Matched: m, EmailHash: hasher.Email("kim@example.com"), EmailOwner: m})
		assert.False(t, out.BackfillEmail)
		assert.Empty(t, out.Findings)
	})

	t.Run("missing email is backfilled", func(t *testing.T) {
		m := ident(t, "01012345678", "")
		out := d.OnPhoneMatch(PhoneMatch{Matched: m, EmailHash: hasher.Email("kim@example.com")})
		assert.True(t, out.BackfillEmail)
		assert.Empty(t, out.Findings)
	})

	t.Run("different email opens conflict", func(t *testing.T) {
		m := ident(t, "01012345678", "kim@example.com")
		out := d.OnPhoneMatch(PhoneMatch{Matched: m, EmailHash: hasher.Email("other@example.com")})
		assert.False(t, out.BackfillEmail)
		require.Len(t, out.Findings, 1)
		assert.Equal(t, FieldEmail, out.Findings[0].Field)
		assert.Equal(t, m.ID, out.Findings[0].IdentityA)
		assert.Empty(t, out.Findings[0].IdentityB)
	})

	t.Run("email owned elsewhere blocks backfill", func(t *testing.T) {
		m := ident(t, "01012345678", "")
		owner := ident(t, "01099998888", "shared@example.com")
		out := d.OnPhoneMatch(PhoneMatch{Matched: m, EmailHash: owner.EmailHash, EmailOwner: owner})
		assert.False(t, out.BackfillEmail)
		require.Len(t, out.Findings, 1)
		assert.Equal(t, owner.ID, out.Findings[0].IdentityB)
	})

	t.Run("declared context mismatch", func(t *testing.T) {
		m := ident(t, "01012345678", "")
		out := d.OnPhoneMatch(PhoneMatch{
			Matched:        m,
			ContextHash:    hasher.Name("lee ji woo"),
			LinkedContexts: []shared.Hash{hasher.Name("lee min ho"), ""},
		})
		require.Len(t, out.Findings, 1)
		assert.Equal(t, FieldDeclaredContext, out.Findings[0].Field)

		out = d.OnPhoneMatch(PhoneMatch{
			Matched:        m,
			ContextHash:    hasher.Name("lee ji woo"),
			LinkedContexts: []shared.Hash{hasher.Name("lee min ho"), hasher.Name("lee ji woo")},
		})
		assert.Empty(t, out.Findings)

		out = NewDetector(false).OnPhoneMatch(PhoneMatch{
			Matched:        m,
			ContextHash:    hasher.Name("lee ji woo"),
			LinkedContexts: []shared.Hash{hasher.Name("lee min ho")},
		})
		assert.Empty(t, out.Findings)
	})
}

func TestDetector_OnEmailMatch(t *testing.T) {
	d := NewDetector(true)
	m := ident(t, "01012345678", "kim@example.com")

	separate, f := d.OnEmailMatch(m, hasher.Phone("01099998888"))
	assert.True(t, separate)
	require.NotNil(t, f)
	assert.Equal(t, FieldEmail, f.Field)
	assert.Equal(t, m.ID, f.IdentityB)

	separate, f = d.OnEmailMatch(m, hasher.Phone("01012345678"))
	assert.False(t, separate)
	assert.Nil(t, f)

	noPhone := ident(t, "", "kim2@example.com")
	separate, _ = d.OnEmailMatch(noPhone, hasher.Phone("01012345678"))
	assert.False(t, separate)
}

func TestConflictRecord_Resolve(t *testing.T) {
	now := time.Now().UTC()
	c := NewConflictRecord(uuid.NewString(), "a", "b", FieldEmail, shared.ProfileRef{OrganizationID: "o", ProfileID: "p"}, now)
	assert.True(t, c.Involves("b", "a"))
	require.NoError(t, c.ResolveSeparate("reviewer", now))
	assert.Equal(t, StatusResolvedSeparate, c.Status)
	assert.ErrorIs(t, c.ResolveMerged("m", "reviewer", now), shared.ErrConflictAlreadyResolved)
}
