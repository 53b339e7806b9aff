package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET REPUTATION QUERY
// Последний снимок V-Index или снимок на момент времени.
// Для поглощённой личности последний снимок берётся у выжившей.
// ══════════════════════════════════════════════════════════════════════════════

// GetReputationQuery содержит параметры запроса.
type GetReputationQuery struct {
	IdentityID string

	// At - вернуть снимок, действовавший в этот момент (опционально).
	// Исторические снимки берутся у запрошенной личности как есть.
	At *time.Time
}

// GetReputationHandler обрабатывает GetReputationQuery.
type GetReputationHandler struct {
	uow    port.UnitOfWork
	cache  port.SnapshotCache
	logger *slog.Logger
}

// NewGetReputationHandler создаёт обработчик. cache может быть nil.
func NewGetReputationHandler(uow port.UnitOfWork, cache port.SnapshotCache, logger *slog.Logger) *GetReputationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetReputationHandler{uow: uow, cache: cache, logger: logger}
}

// Handle выполняет запрос.
func (h *GetReputationHandler) Handle(ctx context.Context, q GetReputationQuery) (*SnapshotDTO, error) {
	if !shared.IsUUID(q.IdentityID) {
		return nil, shared.NewDomainError("reputation", "Get", shared.ErrInvalidID, "identity id must be a uuid")
	}

	var snap *reputation.Snapshot
	err := h.uow.Read(ctx, func(ctx context.Context, repos port.Repositories) error {
		ci, err := repos.Identities().GetByID(ctx, q.IdentityID, identity.LockNone)
		if err != nil {
			return err
		}
		if q.At != nil {
			snap, err = repos.Reputation().SnapshotAt(ctx, ci.ID, *q.At)
			return err
		}

		survivor, err := resolveSurvivor(ctx, repos.Identities(), ci)
		if err != nil {
			return err
		}
		if snap = h.fromCache(ctx, survivor.ID); snap != nil {
			return nil
		}
		snap, err = repos.Reputation().LatestSnapshot(ctx, survivor.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get_reputation: %w", err)
	}

	if q.At == nil && h.cache != nil {
		if err := h.cache.SetLatest(ctx, snap); err != nil {
			h.logger.Warn("failed to cache reputation snapshot", "identity_id", snap.IdentityID, "error", err)
		}
	}
	dto := NewSnapshotDTO(snap)
	return &dto, nil
}

func (h *GetReputationHandler) fromCache(ctx context.Context, identityID string) *reputation.Snapshot {
	if h.cache == nil {
		return nil
	}
	snap, err := h.cache.GetLatest(ctx, identityID)
	if err != nil {
		return nil
	}
	return snap
}

// ══════════════════════════════════════════════════════════════════════════════
// REPUTATION HISTORY QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetReputationHistoryQuery содержит параметры запроса тренда.
type GetReputationHistoryQuery struct {
	IdentityID string
	Limit      int
}

// GetReputationHistoryHandler обрабатывает GetReputationHistoryQuery.
type GetReputationHistoryHandler struct {
	uow port.UnitOfWork
}

// NewGetReputationHistoryHandler создаёт обработчик.
func NewGetReputationHistoryHandler(uow port.UnitOfWork) *GetReputationHistoryHandler {
	return &GetReputationHistoryHandler{uow: uow}
}

// Handle возвращает снимки от новых к старым.
func (h *GetReputationHistoryHandler) Handle(ctx context.Context, q GetReputationHistoryQuery) ([]SnapshotDTO, error) {
	if !shared.IsUUID(q.IdentityID) {
		return nil, shared.NewDomainError("reputation", "History", shared.ErrInvalidID, "identity id must be a uuid")
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}

	var out []SnapshotDTO
	err := h.uow.Read(ctx, func(ctx context.Context, repos port.Repositories) error {
		if _, err := repos.Identities().GetByID(ctx, q.IdentityID, identity.LockNone); err != nil {
			return err
		}
		snaps, err := repos.Reputation().History(ctx, q.IdentityID, q.Limit)
		if err != nil {
			return err
		}
		out = make([]SnapshotDTO, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, NewSnapshotDTO(s))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_reputation_history: %w", err)
	}
	return out, nil
}
