// Package reputation содержит модель V-Index: поведенческие события
// связанных профилей и неизменяемые снимки репутации личности.
package reputation

import (
	"strings"
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BEHAVIORAL EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// EventKind - тип поведенческого события профиля.
type EventKind string

const (
	// Доверие (T)
	KindRenewalIntent  EventKind = "renewal_intent"
	KindReferralIntent EventKind = "referral_intent"
	// Удовлетворённость (S)
	KindSatisfaction EventKind = "satisfaction"
	// Вовлечённость (E)
	KindAttendance            EventKind = "attendance"
	KindActivityParticipation EventKind = "activity_participation"
	// Лояльность (L)
	KindRenewal          EventKind = "renewal"
	KindPaymentCompleted EventKind = "payment_completed"
	KindPaymentFailed    EventKind = "payment_failed"
)

// Signal - составляющая, в которую попадает событие.
type Signal int

const (
	SignalTrust Signal = iota
	SignalSatisfaction
	SignalAttendance
	SignalParticipation
	SignalLoyalty
	signalCount
)

// Signal возвращает составляющую для типа события.
func (k EventKind) Signal() (Signal, bool) {
	switch k {
	case KindRenewalIntent, KindReferralIntent:
		return SignalTrust, true
	case KindSatisfaction:
		return SignalSatisfaction, true
	case KindAttendance:
		return SignalAttendance, true
	case KindActivityParticipation:
		return SignalParticipation, true
	case KindRenewal, KindPaymentCompleted, KindPaymentFailed:
		return SignalLoyalty, true
	default:
		return 0, false
	}
}

// IsValid проверяет тип события.
func (k EventKind) IsValid() bool {
	_, ok := k.Signal()
	return ok
}

// Event - поведенческое событие профиля организации.
// Значение нормировано в [0, 1]. Идемпотентно по ID.
type Event struct {
	ID         string
	Profile    shared.ProfileRef
	Kind       EventKind
	Value      float64
	OccurredAt time.Time
	RecordedAt time.Time
}

// NewEventParams содержит параметры события.
type NewEventParams struct {
	ID         string
	Profile    shared.ProfileRef
	Kind       EventKind
	Value      float64
	OccurredAt time.Time
	Now        time.Time
}

// maxClockSkew допускает небольшое опережение часов источника.
const maxClockSkew = 5 * time.Minute

// NewEvent проверяет и создаёт событие. Для платежей значение
// определяется типом: завершённый платёж - 1, неудачный - 0.
func NewEvent(p NewEventParams) (*Event, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, shared.NewDomainError("reputation", "NewEvent", shared.ErrEmptyValue, "event id is required")
	}
	if err := p.Profile.Validate(); err != nil {
		return nil, err
	}
	if !p.Kind.IsValid() {
		return nil, shared.ErrInvalidEventKind
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	occurred := p.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	if occurred.After(now.Add(maxClockSkew)) {
		return nil, shared.NewDomainError("reputation", "NewEvent", shared.ErrFutureTimestamp, "event occurred in the future")
	}

	value := p.Value
	switch p.Kind {
	case KindPaymentCompleted:
		value = 1
	case KindPaymentFailed:
		value = 0
	}
	if value < 0 || value > 1 {
		return nil, shared.ErrInvalidEventValue
	}

	return &Event{
		ID:         p.ID,
		Profile:    p.Profile,
		Kind:       p.Kind,
		Value:      value,
		OccurredAt: occurred.UTC(),
		RecordedAt: now,
	}, nil
}

// Clone возвращает независимую копию.
func (e *Event) Clone() *Event {
	cp := *e
	return &cp
}
