package identity

import (
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// Confidence описывает, на каком основании профиль привязан к личности.
type Confidence string

const (
	// ConfidenceExactPhone - совпадение по телефонному хэшу.
	ConfidenceExactPhone Confidence = "exact-phone"
	// ConfidenceExactEmail - совпадение по email-хэшу.
	ConfidenceExactEmail Confidence = "exact-email"
	// ConfidenceManual - связь перенесена решением оператора (слияние).
	ConfidenceManual Confidence = "manual"
)

// IsValid проверяет значение.
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceExactPhone, ConfidenceExactEmail, ConfidenceManual:
		return true
	default:
		return false
	}
}

// IdentityLink связывает профиль организации с канонической личностью.
// Инвариант: у каждого ProfileRef ровно одна активная связь.
type IdentityLink struct {
	ID          string
	Profile     shared.ProfileRef
	IdentityID  string
	Confidence  Confidence
	ContextHash shared.Hash // хэш заявленного имени, только для детектора конфликтов
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewIdentityLink создаёт активную связь.
func NewIdentityLink(id string, ref shared.ProfileRef, identityID string, conf Confidence, contextHash shared.Hash, now time.Time) (*IdentityLink, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if !conf.IsValid() {
		return nil, shared.NewDomainError("identity", "NewLink", shared.ErrInvalidInput, "invalid link confidence")
	}
	return &IdentityLink{
		ID:          id,
		Profile:     ref,
		IdentityID:  identityID,
		Confidence:  conf,
		ContextHash: contextHash,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Clone возвращает независимую копию.
func (l *IdentityLink) Clone() *IdentityLink {
	cp := *l
	return &cp
}

// LinkMove описывает перенос одной связи между личностями.
type LinkMove struct {
	LinkID     string     `json:"link_id"`
	Confidence Confidence `json:"confidence"` // уверенность после переноса
}
