package reputation

import (
	"math"
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORER
// ══════════════════════════════════════════════════════════════════════════════

// ScoringConfig задаёт затухание и сглаживание.
type ScoringConfig struct {
	// Horizon - события моложе горизонта имеют полный вес.
	Horizon time.Duration
	// HalfLife - период полураспада веса за пределами горизонта.
	HalfLife time.Duration
	// PriorWeight - псевдо-число нулевых наблюдений в знаменателе.
	PriorWeight float64
	// TenureCap - стаж, при котором нормированный стаж достигает 1.
	TenureCap time.Duration
}

// DefaultScoringConfig возвращает конфигурацию по умолчанию.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Horizon:     90 * 24 * time.Hour,
		HalfLife:    30 * 24 * time.Hour,
		PriorWeight: 1,
		TenureCap:   365 * 24 * time.Hour,
	}
}

// Scorer вычисляет составляющие V-Index.
//
// Каждая ставка равна Σ w·v / (n + prior), где w - вес затухания, n - число
// событий. Без новых событий каждое слагаемое числителя не растёт, поэтому
// составляющие монотонно стремятся к нулю.
type Scorer struct {
	cfg ScoringConfig
}

// NewScorer создаёт Scorer, подставляя значения по умолчанию для нулевых полей.
func NewScorer(cfg ScoringConfig) *Scorer {
	def := DefaultScoringConfig()
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.PriorWeight < 0 {
		cfg.PriorWeight = def.PriorWeight
	}
	if cfg.TenureCap <= 0 {
		cfg.TenureCap = def.TenureCap
	}
	return &Scorer{cfg: cfg}
}

// Weight возвращает вес события возраста age.
func (s *Scorer) Weight(age time.Duration) float64 {
	if age <= s.cfg.Horizon {
		return 1
	}
	over := float64(age-s.cfg.Horizon) / float64(s.cfg.HalfLife)
	return math.Exp2(-over)
}

type accumulator struct {
	weighted float64
	count    int
}

func (a accumulator) rate(prior float64) float64 {
	if a.count == 0 {
		return 0
	}
	return a.weighted / (float64(a.count) + prior)
}

// Score вычисляет составляющие по событиям на момент now.
func (s *Scorer) Score(events []*Event, now time.Time) Components {
	var acc [signalCount]accumulator
	var first, last time.Time

	for _, e := range events {
		sig, ok := e.Kind.Signal()
		if !ok {
			continue
		}
		w := s.Weight(now.Sub(e.OccurredAt))
		acc[sig].weighted += w * e.Value
		acc[sig].count++

		if first.IsZero() || e.OccurredAt.Before(first) {
			first = e.OccurredAt
		}
		if e.OccurredAt.After(last) {
			last = e.OccurredAt
		}
	}

	prior := s.cfg.PriorWeight
	c := Components{
		Trust:        shared.ClampScore(acc[SignalTrust].rate(prior)),
		Satisfaction: shared.ClampScore(acc[SignalSatisfaction].rate(prior)),
		Engagement:   shared.ClampScore(acc[SignalAttendance].rate(prior) * acc[SignalParticipation].rate(prior)),
		Loyalty:      shared.ClampScore(acc[SignalLoyalty].rate(prior) * s.Tenure(first, last)),
	}
	return c
}

// Tenure нормирует стаж между первым и последним событием.
// Стаж не зависит от текущего времени, чтобы без новых событий L не росла.
func (s *Scorer) Tenure(first, last time.Time) float64 {
	if first.IsZero() || !last.After(first) {
		return 0
	}
	return math.Min(1, float64(last.Sub(first))/float64(s.cfg.TenureCap))
}
