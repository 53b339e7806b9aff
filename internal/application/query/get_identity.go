package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET IDENTITY QUERY
// Возвращает личность, её активные связи и ID выжившей личности, если
// запрошенная была поглощена.
// ══════════════════════════════════════════════════════════════════════════════

// maxMergeHops ограничивает переходы по цепочке слияний.
const maxMergeHops = 16

// GetIdentityQuery содержит параметры запроса.
type GetIdentityQuery struct {
	IdentityID string
}

// GetIdentityHandler обрабатывает GetIdentityQuery.
type GetIdentityHandler struct {
	uow port.UnitOfWork
}

// NewGetIdentityHandler создаёт обработчик.
func NewGetIdentityHandler(uow port.UnitOfWork) *GetIdentityHandler {
	return &GetIdentityHandler{uow: uow}
}

// Handle выполняет запрос.
func (h *GetIdentityHandler) Handle(ctx context.Context, q GetIdentityQuery) (*IdentityDTO, error) {
	if !shared.IsUUID(q.IdentityID) {
		return nil, shared.NewDomainError("identity", "Get", shared.ErrInvalidID, "identity id must be a uuid")
	}

	var dto *IdentityDTO
	err := h.uow.Read(ctx, func(ctx context.Context, repos port.Repositories) error {
		ci, err := repos.Identities().GetByID(ctx, q.IdentityID, identity.LockNone)
		if err != nil {
			return err
		}
		survivor, err := resolveSurvivor(ctx, repos.Identities(), ci)
		if err != nil {
			return err
		}
		links, err := repos.Links().ListActiveByIdentity(ctx, ci.ID)
		if err != nil {
			return err
		}

		dto = &IdentityDTO{
			ID:         ci.ID,
			State:      string(ci.State),
			MergedInto: ci.MergedInto,
			SurvivorID: survivor.ID,
			HasPhone:   ci.HasPhone(),
			HasEmail:   ci.HasEmail(),
			Links:      make([]LinkDTO, 0, len(links)),
			CreatedAt:  ci.CreatedAt,
			UpdatedAt:  ci.UpdatedAt,
		}
		for _, l := range links {
			dto.Links = append(dto.Links, LinkDTO{
				LinkID:         l.ID,
				OrganizationID: l.Profile.OrganizationID,
				ProfileID:      l.Profile.ProfileID,
				Confidence:     string(l.Confidence),
				LinkedAt:       l.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_identity: %w", err)
	}
	return dto, nil
}

// resolveSurvivor следует по MergedInto до личности, которая не поглощена.
func resolveSurvivor(ctx context.Context, repo identity.Repository, ci *identity.CanonicalIdentity) (*identity.CanonicalIdentity, error) {
	for hops := 0; ci.State == identity.StateMerged; hops++ {
		if hops == maxMergeHops {
			return nil, shared.NewDomainError("identity", "Follow", shared.ErrInvalidState, "merge chain too long")
		}
		next, err := repo.GetByID(ctx, ci.MergedInto, identity.LockNone)
		if err != nil {
			return nil, err
		}
		ci = next
	}
	return ci, nil
}
