// Package audit is the append-only record of every resolution decision,
// conflict, merge and unmerge. Entries carry ids and hashes only.
package audit

import (
	"context"
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// Action names what happened.
type Action string

const (
	ActionIdentityCreated    Action = "identity.created"
	ActionIdentityLinked     Action = "identity.linked"
	ActionIdentityBackfilled Action = "identity.backfilled"
	ActionIdentityArchived   Action = "identity.archived"
	ActionIdentityMerged     Action = "identity.merged"
	ActionIdentityUnmerged   Action = "identity.unmerged"
	ActionConflictOpened     Action = "conflict.opened"
	ActionConflictResolved   Action = "conflict.resolved"
	ActionReputationSnapshot Action = "reputation.snapshot"
)

// Entry is one immutable audit record.
type Entry struct {
	ID                string
	Action            Action
	IdentityID        string
	RelatedIdentityID string
	Profile           *shared.ProfileRef
	ConflictID        string
	MergeAuditID      string
	Actor             string
	Detail            map[string]any
	CreatedAt         time.Time
}

// Clone returns an independent copy.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.Profile != nil {
		p := *e.Profile
		cp.Profile = &p
	}
	if e.Detail != nil {
		cp.Detail = make(map[string]any, len(e.Detail))
		for k, v := range e.Detail {
			cp.Detail[k] = v
		}
	}
	return &cp
}

// Repository appends and reads audit entries. There is no update or delete.
type Repository interface {
	// Append stores the entry in the caller's transaction.
	Append(ctx context.Context, e *Entry) error

	// ListByIdentity returns entries where the identity is either side,
	// newest first.
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]*Entry, error)
}
