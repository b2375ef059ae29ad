// Package scoring computes landing-priority scores for vehicles competing
// for a vertiport queue.
//
// The score is a sum of independent terms, each clamped to its own cap:
//
//	emergency bonus (500) + battery term (<=350) + distance term (<=150)
//
// for a documented maximum of 1000. Separable capped terms keep the ranking
// auditable, and the emergency bonus acts as a hard override: together with
// the battery term it guarantees any emergency vehicle outranks any
// non-emergency vehicle regardless of distance.
package scoring

import (
	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/uam"
)

// Scorer maps a telemetry snapshot to a landing-priority score. Higher means
// sooner. Scorer is stateless and safe for concurrent use.
type Scorer struct {
	cfg config.ScoringConfig
}

// NewScorer creates a scorer with the given weights.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the priority score for one telemetry snapshot. The result
// lies in [0, Max()].
func (s *Scorer) Score(t uam.Telemetry) float64 {
	score := s.emergencyTerm(t.BatteryPercent) +
		s.batteryTerm(t.BatteryPercent) +
		s.distanceTerm(t.DistanceToTargetKm)
	if s.cfg.AltitudeTermOn {
		score += s.altitudeTerm(t.Altitude)
	}
	return score
}

// Max returns the documented maximum score: the sum of all term caps.
func (s *Scorer) Max() float64 {
	max := s.cfg.EmergencyBonus + s.cfg.BatteryCap + s.cfg.DistanceCap
	if s.cfg.AltitudeTermOn {
		max += s.cfg.AltitudeCap
	}
	return max
}

// IsEmergency reports whether a battery level is below the emergency
// threshold.
func (s *Scorer) IsEmergency(batteryPercent float64) bool {
	return batteryPercent < s.cfg.EmergencyBatteryPct
}

// emergencyTerm is the fixed bonus applied below the emergency threshold.
func (s *Scorer) emergencyTerm(batteryPercent float64) float64 {
	if batteryPercent < s.cfg.EmergencyBatteryPct {
		return s.cfg.EmergencyBonus
	}
	return 0
}

// batteryTerm is zero at or above the safe threshold and rises linearly to
// its cap as battery falls to the floor.
func (s *Scorer) batteryTerm(batteryPercent float64) float64 {
	cfg := s.cfg
	switch {
	case batteryPercent <= cfg.BatteryFloorPct:
		return cfg.BatteryCap
	case batteryPercent < cfg.BatterySafePct:
		return (cfg.BatterySafePct - batteryPercent) / (cfg.BatterySafePct - cfg.BatteryFloorPct) * cfg.BatteryCap
	default:
		return 0
	}
}

// distanceTerm decreases linearly from its cap at distance zero to zero at
// the normalization distance. Farther distances clamp to zero, never
// negative.
func (s *Scorer) distanceTerm(distanceKm float64) float64 {
	if distanceKm < 0 {
		distanceKm = 0
	}
	if distanceKm >= s.cfg.MaxDistanceKm {
		return 0
	}
	return (1 - distanceKm/s.cfg.MaxDistanceKm) * s.cfg.DistanceCap
}

// altitudeTerm decreases linearly from its cap at ground level to zero at
// the cruise ceiling. Only consulted when the altitude term is enabled.
func (s *Scorer) altitudeTerm(altitudeM float64) float64 {
	if altitudeM < 0 {
		altitudeM = 0
	}
	if altitudeM >= s.cfg.MaxCruiseAltM {
		return 0
	}
	return (1 - altitudeM/s.cfg.MaxCruiseAltM) * s.cfg.AltitudeCap
}
