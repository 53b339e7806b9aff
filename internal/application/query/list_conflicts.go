package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ListConflictsQuery содержит фильтр очереди конфликтов.
type ListConflictsQuery struct {
	Status     string // пусто - любые
	IdentityID string
	Limit      int
	Offset     int
}

// Validate проверяет параметры и подставляет значения по умолчанию.
func (q *ListConflictsQuery) Validate() error {
	if q.Status != "" && !conflict.Status(q.Status).IsValid() {
		return shared.NewDomainError("conflict", "List", shared.ErrInvalidInput, "unknown conflict status")
	}
	if q.Offset < 0 {
		return shared.NewDomainError("conflict", "List", shared.ErrValueOutOfRange, "offset cannot be negative")
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	return nil
}

// ListConflictsHandler обрабатывает ListConflictsQuery.
type ListConflictsHandler struct {
	uow port.UnitOfWork
}

// NewListConflictsHandler создаёт обработчик.
func NewListConflictsHandler(uow port.UnitOfWork) *ListConflictsHandler {
	return &ListConflictsHandler{uow: uow}
}

// Handle возвращает конфликты от старых к новым.
func (h *ListConflictsHandler) Handle(ctx context.Context, q ListConflictsQuery) ([]ConflictDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("list_conflicts: %w", err)
	}

	var out []ConflictDTO
	err := h.uow.Read(ctx, func(ctx context.Context, repos port.Repositories) error {
		records, err := repos.Conflicts().List(ctx, conflict.ListFilter{
			Status:     conflict.Status(q.Status),
			IdentityID: q.IdentityID,
			Limit:      q.Limit,
			Offset:     q.Offset,
		})
		if err != nil {
			return err
		}
		out = make([]ConflictDTO, 0, len(records))
		for _, c := range records {
			out = append(out, NewConflictDTO(c))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list_conflicts: %w", err)
	}
	return out, nil
}
