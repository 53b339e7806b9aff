package reputation

import (
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// Веса составляющих V-Index.
const (
	WeightTrust        = 0.25
	WeightSatisfaction = 0.30
	WeightEngagement   = 0.25
	WeightLoyalty      = 0.20
)

// Components - четыре составляющие репутации.
type Components struct {
	Trust        shared.Score `json:"trust"`
	Satisfaction shared.Score `json:"satisfaction"`
	Engagement   shared.Score `json:"engagement"`
	Loyalty      shared.Score `json:"loyalty"`
}

// Composite вычисляет R = 0.25·T + 0.30·S + 0.25·E + 0.20·L.
func (c Components) Composite() shared.Score {
	return shared.ClampScore(
		WeightTrust*c.Trust.Float64() +
			WeightSatisfaction*c.Satisfaction.Float64() +
			WeightEngagement*c.Engagement.Float64() +
			WeightLoyalty*c.Loyalty.Float64(),
	)
}

// Snapshot - неизменяемый снимок репутации личности.
// Новый снимок заменяет предыдущий для чтения, старые хранятся для трендов.
type Snapshot struct {
	ID         string
	IdentityID string
	Components
	Composite  shared.Score
	EventCount int
	ComputedAt time.Time
}

// snapshotPrecision - число знаков после запятой в сохранённых оценках.
// Затухающие оценки со временем округляются до точного нуля.
const snapshotPrecision = 6

// NewSnapshot создаёт снимок с вычисленным R.
func NewSnapshot(id, identityID string, c Components, eventCount int, computedAt time.Time) *Snapshot {
	c = Components{
		Trust:        c.Trust.Round(snapshotPrecision),
		Satisfaction: c.Satisfaction.Round(snapshotPrecision),
		Engagement:   c.Engagement.Round(snapshotPrecision),
		Loyalty:      c.Loyalty.Round(snapshotPrecision),
	}
	return &Snapshot{
		ID:         id,
		IdentityID: identityID,
		Components: c,
		Composite:  c.Composite().Round(snapshotPrecision),
		EventCount: eventCount,
		ComputedAt: computedAt,
	}
}

// Clone возвращает независимую копию.
func (s *Snapshot) Clone() *Snapshot {
	cp := *s
	return &cp
}
