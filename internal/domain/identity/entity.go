package identity

import (
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// State определяет состояние канонической личности.
type State string

const (
	// StateActive - личность участвует в поиске и принимает новые связи.
	StateActive State = "active"
	// StateMerged - личность поглощена другой (см. MergedInto).
	StateMerged State = "merged"
	// StateArchived - личность выведена из оборота, хэши освобождены.
	StateArchived State = "archived"
)

// IsValid проверяет, что состояние корректно.
func (s State) IsValid() bool {
	switch s {
	case StateActive, StateMerged, StateArchived:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: CANONICAL IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// CanonicalIdentity - "реальный человек" поверх профилей разных организаций.
// Инвариант: PhoneHash и EmailHash каждый принадлежат не более чем одной
// неархивной личности.
type CanonicalIdentity struct {
	ID         string
	PhoneHash  shared.Hash // пустая строка, если неизвестен
	EmailHash  shared.Hash // пустая строка, если неизвестен
	State      State
	MergedInto string // ID выжившей личности, только для StateMerged
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewIdentityParams содержит параметры для создания личности.
type NewIdentityParams struct {
	ID        string
	PhoneHash shared.Hash
	EmailHash shared.Hash
	Now       time.Time
}

// NewCanonicalIdentity создаёт активную личность с известными хэшами.
func NewCanonicalIdentity(p NewIdentityParams) (*CanonicalIdentity, error) {
	if !shared.IsUUID(p.ID) {
		return nil, shared.NewDomainError("identity", "New", shared.ErrInvalidID, "identity id must be a uuid")
	}
	if p.PhoneHash == "" && p.EmailHash == "" {
		return nil, shared.NewDomainError("identity", "New", shared.ErrEmptyValue, "identity needs a phone or email hash")
	}
	for _, h := range []shared.Hash{p.PhoneHash, p.EmailHash} {
		if h != "" && !h.IsValid() {
			return nil, shared.NewDomainError("identity", "New", shared.ErrInvalidFormat, "malformed hash")
		}
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &CanonicalIdentity{
		ID:        p.ID,
		PhoneHash: p.PhoneHash,
		EmailHash: p.EmailHash,
		State:     StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsActive возвращает true для активной личности.
func (c *CanonicalIdentity) IsActive() bool {
	return c.State == StateActive
}

// HasPhone возвращает true, если телефонный хэш известен.
func (c *CanonicalIdentity) HasPhone() bool {
	return c.PhoneHash != ""
}

// HasEmail возвращает true, если email-хэш известен.
func (c *CanonicalIdentity) HasEmail() bool {
	return c.EmailHash != ""
}

// BackfillEmail заполняет отсутствующий email-хэш. Существующий не перезаписывается.
func (c *CanonicalIdentity) BackfillEmail(h shared.Hash, now time.Time) bool {
	if c.HasEmail() || h == "" {
		return false
	}
	c.EmailHash = h
	c.UpdatedAt = now
	return true
}

// BackfillPhone заполняет отсутствующий телефонный хэш.
func (c *CanonicalIdentity) BackfillPhone(h shared.Hash, now time.Time) bool {
	if c.HasPhone() || h == "" {
		return false
	}
	c.PhoneHash = h
	c.UpdatedAt = now
	return true
}

// MarkMerged переводит личность в merged с обратной ссылкой на выжившую.
func (c *CanonicalIdentity) MarkMerged(survivorID string, now time.Time) error {
	if c.State != StateActive {
		return shared.ErrIdentityNotActive
	}
	if survivorID == "" || survivorID == c.ID {
		return shared.ErrSelfMerge
	}
	c.State = StateMerged
	c.MergedInto = survivorID
	c.UpdatedAt = now
	return nil
}

// Restore возвращает поглощённую личность в active (только через unmerge).
func (c *CanonicalIdentity) Restore(survivorID string, now time.Time) error {
	if c.State != StateMerged || c.MergedInto != survivorID {
		return shared.ErrMergeSuperseded
	}
	c.State = StateActive
	c.MergedInto = ""
	c.UpdatedAt = now
	return nil
}

// Archive выводит личность из оборота. Поглощённые личности архивируются
// вместе с выжившей, поэтому допустимы оба состояния.
func (c *CanonicalIdentity) Archive(now time.Time) error {
	if c.State == StateArchived {
		return shared.ErrIdentityNotActive
	}
	c.State = StateArchived
	c.UpdatedAt = now
	return nil
}

// Touch обновляет UpdatedAt. Агрегатор репутации пересчитывает личности,
// изменённые после последнего снимка.
func (c *CanonicalIdentity) Touch(now time.Time) {
	c.UpdatedAt = now
}

// Clone возвращает независимую копию.
func (c *CanonicalIdentity) Clone() *CanonicalIdentity {
	cp := *c
	return &cp
}

// ChooseSurvivor детерминированно выбирает выжившую личность при слиянии:
// более старая по CreatedAt, при равенстве - с меньшим ID.
func ChooseSurvivor(a, b *CanonicalIdentity) (survivor, loser *CanonicalIdentity) {
	switch {
	case a.CreatedAt.Before(b.CreatedAt):
		return a, b
	case b.CreatedAt.Before(a.CreatedAt):
		return b, a
	case a.ID < b.ID:
		return a, b
	default:
		return b, a
	}
}
