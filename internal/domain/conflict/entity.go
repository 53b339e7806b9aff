// Package conflict models ambiguous matches that are queued for human review
// instead of being merged or overwritten automatically.
package conflict

import (
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// Field is the identifying signal that disagreed.
type Field string

const (
	// FieldEmail - phone matched and the email points elsewhere, or email
	// matched an identity carrying a different phone.
	FieldEmail Field = "email"
	// FieldDeclaredContext - same phone, different declared name.
	FieldDeclaredContext Field = "declared_context"
)

// IsValid checks the field value.
func (f Field) IsValid() bool {
	switch f {
	case FieldEmail, FieldDeclaredContext:
		return true
	default:
		return false
	}
}

// Status is the review state of a conflict.
type Status string

const (
	StatusOpen             Status = "open"
	StatusResolvedMerge    Status = "resolved-merge"
	StatusResolvedSeparate Status = "resolved-separate"
)

// IsValid checks the status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusResolvedMerge, StatusResolvedSeparate:
		return true
	default:
		return false
	}
}

// ConflictRecord holds two candidate identities and the disagreeing field.
// IdentityB is empty when the disagreement has no second owner (for example a
// different email that nobody else has claimed yet).
type ConflictRecord struct {
	ID           string
	IdentityA    string
	IdentityB    string
	Field        Field
	Profile      shared.ProfileRef
	Status       Status
	CreatedAt    time.Time
	ResolvedAt   *time.Time
	ResolvedBy   string
	MergeAuditID string
}

// NewConflictRecord creates an open conflict.
func NewConflictRecord(id, identityA, identityB string, field Field, ref shared.ProfileRef, now time.Time) *ConflictRecord {
	return &ConflictRecord{
		ID:        id,
		IdentityA: identityA,
		IdentityB: identityB,
		Field:     field,
		Profile:   ref,
		Status:    StatusOpen,
		CreatedAt: now,
	}
}

// IsOpen reports whether the conflict still awaits review.
func (c *ConflictRecord) IsOpen() bool {
	return c.Status == StatusOpen
}

// Involves reports whether both identities are the candidates of this conflict.
func (c *ConflictRecord) Involves(a, b string) bool {
	return (c.IdentityA == a && c.IdentityB == b) || (c.IdentityA == b && c.IdentityB == a)
}

// Covers reports whether the conflict is about field between a and b, in
// either order. At most one open conflict covers a given key.
func (c *ConflictRecord) Covers(field Field, a, b string) bool {
	return c.Field == field && c.Involves(a, b)
}

// ResolveMerged closes the conflict after the pair was merged.
func (c *ConflictRecord) ResolveMerged(mergeAuditID, actor string, now time.Time) error {
	if !c.IsOpen() {
		return shared.ErrConflictAlreadyResolved
	}
	c.Status = StatusResolvedMerge
	c.MergeAuditID = mergeAuditID
	c.ResolvedBy = actor
	c.ResolvedAt = &now
	return nil
}

// ResolveSeparate closes the conflict keeping the identities apart.
func (c *ConflictRecord) ResolveSeparate(actor string, now time.Time) error {
	if !c.IsOpen() {
		return shared.ErrConflictAlreadyResolved
	}
	c.Status = StatusResolvedSeparate
	c.ResolvedBy = actor
	c.ResolvedAt = &now
	return nil
}

// Clone returns an independent copy.
func (c *ConflictRecord) Clone() *ConflictRecord {
	cp := *c
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
