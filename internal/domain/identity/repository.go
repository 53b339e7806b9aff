package identity

import (
	"context"
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Все методы выполняются в рамках транзакции, открытой UnitOfWork.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// LockMode задаёт блокировку строки личности при чтении.
type LockMode int

const (
	// LockNone - обычное чтение.
	LockNone LockMode = iota
	// LockShare - FOR SHARE: прикрепление связи, не пересекается со слиянием.
	LockShare
	// LockUpdate - FOR UPDATE: слияние и откат.
	LockUpdate
)

// Repository определяет операции с каноническими личностями.
type Repository interface {
	// Create сохраняет новую личность.
	// Возвращает ErrConcurrentCreationConflict при нарушении уникальности хэша.
	Create(ctx context.Context, identity *CanonicalIdentity) error

	// GetByID возвращает личность по ID.
	// Возвращает ErrIdentityNotFound, если личность не найдена.
	GetByID(ctx context.Context, id string, lock LockMode) (*CanonicalIdentity, error)

	// FindByPhoneHash ищет неархивную личность по телефонному хэшу.
	// Возвращает ErrIdentityNotFound, если совпадений нет.
	FindByPhoneHash(ctx context.Context, hash shared.Hash, lock LockMode) (*CanonicalIdentity, error)

	// FindByEmailHash ищет неархивную личность по email-хэшу.
	FindByEmailHash(ctx context.Context, hash shared.Hash, lock LockMode) (*CanonicalIdentity, error)

	// ListMergedInto возвращает личности в состоянии merged, указывающие на survivorID.
	ListMergedInto(ctx context.Context, survivorID string) ([]*CanonicalIdentity, error)

	// Update сохраняет хэши, состояние и MergedInto.
	// Возвращает ErrConcurrentCreationConflict при нарушении уникальности хэша.
	Update(ctx context.Context, identity *CanonicalIdentity) error
}

// LinkRepository определяет операции со связями профилей.
type LinkRepository interface {
	// Create сохраняет активную связь.
	// Возвращает ErrConcurrentCreationConflict, если у профиля уже есть активная связь.
	Create(ctx context.Context, link *IdentityLink) error

	// GetActiveByProfile возвращает активную связь профиля.
	// Возвращает ErrLinkNotFound, если связи нет.
	GetActiveByProfile(ctx context.Context, ref shared.ProfileRef) (*IdentityLink, error)

	// ListActiveByIdentity возвращает активные связи личности, упорядоченные по ID.
	ListActiveByIdentity(ctx context.Context, identityID string) ([]*IdentityLink, error)

	// Move переносит перечисленные связи с from на to.
	// Переносятся только активные связи, принадлежащие from;
	// возвращается число фактически перенесённых.
	Move(ctx context.Context, moves []LinkMove, from, to string, now time.Time) (int, error)
}

// MergeAuditRepository хранит журнал слияний. Только добавление.
type MergeAuditRepository interface {
	// Append сохраняет запись. Для unmerge возвращает ErrAlreadyUnmerged,
	// если откат этого слияния уже записан.
	Append(ctx context.Context, audit *MergeAudit) error

	// GetByID возвращает запись. Возвращает ErrMergeAuditNotFound.
	GetByID(ctx context.Context, id string) (*MergeAudit, error)

	// FindReversal возвращает unmerge-запись для слияния.
	// Возвращает ErrMergeAuditNotFound, если отката нет.
	FindReversal(ctx context.Context, mergeAuditID string) (*MergeAudit, error)

	// ListByIdentity возвращает записи, где личность выжившая или поглощённая.
	ListByIdentity(ctx context.Context, identityID string) ([]*MergeAudit, error)
}
