package identity

import (
	"time"
)

// MergeKind различает прямую операцию и откат.
type MergeKind string

const (
	MergeKindMerge   MergeKind = "merge"
	MergeKindUnmerge MergeKind = "unmerge"
)

// MovedLink фиксирует перенесённую связь и её уверенность до переноса,
// чтобы откат восстановил связь в точности.
type MovedLink struct {
	LinkID             string     `json:"link_id"`
	PreviousConfidence Confidence `json:"previous_confidence"`
}

// MergeAudit - неизменяемая запись о слиянии или его откате.
// Не более одного unmerge на каждый merge (ReversesAuditID уникален).
type MergeAudit struct {
	ID              string
	Kind            MergeKind
	SurvivorID      string
	LoserID         string
	MovedLinks      []MovedLink
	ReversesAuditID string // только для MergeKindUnmerge
	Actor           string
	Reason          string
	CreatedAt       time.Time
}

// LinkIDs возвращает ID перенесённых связей.
func (m *MergeAudit) LinkIDs() []string {
	ids := make([]string, len(m.MovedLinks))
	for i, l := range m.MovedLinks {
		ids[i] = l.LinkID
	}
	return ids
}

// Clone возвращает независимую копию.
func (m *MergeAudit) Clone() *MergeAudit {
	cp := *m
	cp.MovedLinks = append([]MovedLink(nil), m.MovedLinks...)
	return &cp
}
