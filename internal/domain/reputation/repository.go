package reputation

import (
	"context"
	"time"
)

// CandidateFilter выбирает личности для очередного прогона агрегатора.
type CandidateFilter struct {
	// StaleBefore - личности, чей последний снимок старше, пересчитываются
	// ради затухания, если R ещё не ноль.
	StaleBefore time.Time
	// AfterID - курсор для постраничного обхода.
	AfterID string
	Limit   int
}

// Repository определяет хранение событий и снимков.
type Repository interface {
	// RecordEvent сохраняет событие. Возвращает ErrEventAlreadyStored для повтора ID.
	RecordEvent(ctx context.Context, e *Event) error

	// ListEventsByIdentity возвращает события всех профилей, активно связанных с личностью.
	ListEventsByIdentity(ctx context.Context, identityID string) ([]*Event, error)

	// SaveSnapshot добавляет новый снимок. Существующие не изменяются.
	SaveSnapshot(ctx context.Context, s *Snapshot) error

	// LatestSnapshot возвращает последний снимок. Возвращает ErrSnapshotNotFound.
	LatestSnapshot(ctx context.Context, identityID string) (*Snapshot, error)

	// SnapshotAt возвращает последний снимок, вычисленный не позже at.
	SnapshotAt(ctx context.Context, identityID string, at time.Time) (*Snapshot, error)

	// History возвращает снимки от новых к старым.
	History(ctx context.Context, identityID string, limit int) ([]*Snapshot, error)

	// ListCandidates возвращает ID активных личностей, у которых есть события
	// новее последнего снимка, изменились связи после него, или снимок устарел.
	// Результат упорядочен по ID.
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]string, error)
}
