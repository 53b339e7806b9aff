// Package query contains read operations (CQRS - Queries).
package query

import (
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
)

// ══════════════════════════════════════════════════════════════════════════════
// DTO
// Представления для внешних потребителей: только ID и флаги, без хэшей.
// ══════════════════════════════════════════════════════════════════════════════

// LinkDTO - активная связь профиля.
type LinkDTO struct {
	LinkID         string    `json:"link_id"`
	OrganizationID string    `json:"organization_id"`
	ProfileID      string    `json:"profile_id"`
	Confidence     string    `json:"confidence"`
	LinkedAt       time.Time `json:"linked_at"`
}

// IdentityDTO - каноническая личность.
type IdentityDTO struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	MergedInto string    `json:"merged_into,omitempty"`
	SurvivorID string    `json:"survivor_id"`
	HasPhone   bool      `json:"has_phone"`
	HasEmail   bool      `json:"has_email"`
	Links      []LinkDTO `json:"links"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SnapshotDTO - снимок V-Index.
type SnapshotDTO struct {
	SnapshotID   string    `json:"snapshot_id"`
	IdentityID   string    `json:"identity_id"`
	Trust        float64   `json:"trust"`
	Satisfaction float64   `json:"satisfaction"`
	Engagement   float64   `json:"engagement"`
	Loyalty      float64   `json:"loyalty"`
	Composite    float64   `json:"composite"`
	EventCount   int       `json:"event_count"`
	ComputedAt   time.Time `json:"computed_at"`
}

// NewSnapshotDTO конвертирует снимок.
func NewSnapshotDTO(s *reputation.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		SnapshotID:   s.ID,
		IdentityID:   s.IdentityID,
		Trust:        s.Trust.Float64(),
		Satisfaction: s.Satisfaction.Float64(),
		Engagement:   s.Engagement.Float64(),
		Loyalty:      s.Loyalty.Float64(),
		Composite:    s.Composite.Float64(),
		EventCount:   s.EventCount,
		ComputedAt:   s.ComputedAt,
	}
}

// ConflictDTO - конфликт на ручную проверку.
type ConflictDTO struct {
	ID             string     `json:"id"`
	IdentityA      string     `json:"identity_a"`
	IdentityB      string     `json:"identity_b,omitempty"`
	Field          string     `json:"field"`
	OrganizationID string     `json:"organization_id"`
	ProfileID      string     `json:"profile_id"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	MergeAuditID   string     `json:"merge_audit_id,omitempty"`
}

// NewConflictDTO конвертирует конфликт.
func NewConflictDTO(c *conflict.ConflictRecord) ConflictDTO {
	return ConflictDTO{
		ID:             c.ID,
		IdentityA:      c.IdentityA,
		IdentityB:      c.IdentityB,
		Field:          string(c.Field),
		OrganizationID: c.Profile.OrganizationID,
		ProfileID:      c.Profile.ProfileID,
		Status:         string(c.Status),
		CreatedAt:      c.CreatedAt,
		ResolvedAt:     c.ResolvedAt,
		ResolvedBy:     c.ResolvedBy,
		MergeAuditID:   c.MergeAuditID,
	}
}

// AuditEntryDTO - запись журнала.
type AuditEntryDTO struct {
	ID                string         `json:"id"`
	Action            string         `json:"action"`
	IdentityID        string         `json:"identity_id,omitempty"`
	RelatedIdentityID string         `json:"related_identity_id,omitempty"`
	OrganizationID    string         `json:"organization_id,omitempty"`
	ProfileID         string         `json:"profile_id,omitempty"`
	ConflictID        string         `json:"conflict_id,omitempty"`
	MergeAuditID      string         `json:"merge_audit_id,omitempty"`
	Actor             string         `json:"actor,omitempty"`
	Detail            map[string]any `json:"detail,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// NewAuditEntryDTO конвертирует запись журнала.
func NewAuditEntryDTO(e *audit.Entry) AuditEntryDTO {
	dto := AuditEntryDTO{
		ID:                e.ID,
		Action:            string(e.Action),
		IdentityID:        e.IdentityID,
		RelatedIdentityID: e.RelatedIdentityID,
		ConflictID:        e.ConflictID,
		MergeAuditID:      e.MergeAuditID,
		Actor:             e.Actor,
		Detail:            e.Detail,
		CreatedAt:         e.CreatedAt,
	}
	if e.Profile != nil {
		dto.OrganizationID = e.Profile.OrganizationID
		dto.ProfileID = e.Profile.ProfileID
	}
	return dto
}

// MergeAuditDTO - запись о слиянии или откате.
type MergeAuditDTO struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	SurvivorID      string    `json:"survivor_id"`
	LoserID         string    `json:"loser_id"`
	MovedLinkIDs    []string  `json:"moved_link_ids"`
	ReversesAuditID string    `json:"reverses_audit_id,omitempty"`
	Actor           string    `json:"actor"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewMergeAuditDTO конвертирует запись о слиянии.
func NewMergeAuditDTO(m *identity.MergeAudit) MergeAuditDTO {
	return MergeAuditDTO{
		ID:              m.ID,
		Kind:            string(m.Kind),
		SurvivorID:      m.SurvivorID,
		LoserID:         m.LoserID,
		MovedLinkIDs:    m.LinkIDs(),
		ReversesAuditID: m.ReversesAuditID,
		Actor:           m.Actor,
		Reason:          m.Reason,
		CreatedAt:       m.CreatedAt,
	}
}
