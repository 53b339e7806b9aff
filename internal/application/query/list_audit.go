package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ListAuditQuery запрашивает журнал по личности.
type ListAuditQuery struct {
	IdentityID string
	Limit      int
}

// AuditTrailDTO - журнал решений и записи о слияниях личности.
type AuditTrailDTO struct {
	Entries []AuditEntryDTO `json:"entries"`
	Merges  []MergeAuditDTO `json:"merges"`
}

// ListAuditHandler обрабатывает ListAuditQuery.
type ListAuditHandler struct {
	uow port.UnitOfWork
}

// NewListAuditHandler создаёт обработчик.
func NewListAuditHandler(uow port.UnitOfWork) *ListAuditHandler {
	return &ListAuditHandler{uow: uow}
}

// Handle выполняет запрос.
func (h *ListAuditHandler) Handle(ctx context.Context, q ListAuditQuery) (*AuditTrailDTO, error) {
	if !shared.IsUUID(q.IdentityID) {
		return nil, shared.NewDomainError("audit", "List", shared.ErrInvalidID, "identity id must be a uuid")
	}
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 200
	}

	out := &AuditTrailDTO{}
	err := h.uow.Read(ctx, func(ctx context.Context, repos port.Repositories) error {
		if _, err := repos.Identities().GetByID(ctx, q.IdentityID, identity.LockNone); err != nil {
			return err
		}
		entries, err := repos.Audit().ListByIdentity(ctx, q.IdentityID, q.Limit)
		if err != nil {
			return err
		}
		merges, err := repos.Merges().ListByIdentity(ctx, q.IdentityID)
		if err != nil {
			return err
		}
		out.Entries = make([]AuditEntryDTO, 0, len(entries))
		for _, e := range entries {
			out.Entries = append(out.Entries, NewAuditEntryDTO(e))
		}
		out.Merges = make([]MergeAuditDTO, 0, len(merges))
		for _, m := range merges {
			out.Merges = append(out.Merges, NewMergeAuditDTO(m))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list_audit: %w", err)
	}
	return out, nil
}
