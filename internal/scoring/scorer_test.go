package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/uam"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		EmergencyBonus:      500,
		BatteryCap:          350,
		BatterySafePct:      20,
		BatteryFloorPct:     10,
		DistanceCap:         150,
		MaxDistanceKm:       20,
		EmergencyBatteryPct: 15,
	}
}

func telemetry(battery, distanceKm float64) uam.Telemetry {
	return uam.Telemetry{
		UAMID:              "UAM-001",
		BatteryPercent:     battery,
		DistanceToTargetKm: distanceKm,
	}
}

func TestScoreHealthyVehicleFarAway(t *testing.T) {
	s := NewScorer(testScoringConfig())

	// Full battery beyond the normalization distance scores zero.
	assert.Equal(t, 0.0, s.Score(telemetry(100, 25)))
}

func TestScoreDistanceTerm(t *testing.T) {
	s := NewScorer(testScoringConfig())

	assert.InDelta(t, 150.0, s.Score(telemetry(100, 0)), 1e-9)
	assert.InDelta(t, 75.0, s.Score(telemetry(100, 10)), 1e-9)
	assert.Equal(t, 0.0, s.Score(telemetry(100, 20)))
	// Distances beyond the normalization distance clamp to zero, never
	// negative.
	assert.Equal(t, 0.0, s.Score(telemetry(100, 500)))
}

func TestScoreBatteryTerm(t *testing.T) {
	s := NewScorer(testScoringConfig())

	// Zero at or above the safe threshold.
	assert.Equal(t, 0.0, s.Score(telemetry(20, 20)))
	assert.Equal(t, 0.0, s.Score(telemetry(60, 20)))

	// Linear between safe threshold and floor: 17% is 30% of the way down.
	assert.InDelta(t, 105.0, s.Score(telemetry(17, 20)), 1e-9)

	// Capped at or below the floor; 10% also crosses the emergency threshold.
	assert.InDelta(t, 500+350, s.Score(telemetry(10, 20)), 1e-9)
	assert.InDelta(t, 500+350, s.Score(telemetry(2, 20)), 1e-9)
}

func TestScoreEmergencyBonus(t *testing.T) {
	s := NewScorer(testScoringConfig())

	// Just below the threshold: bonus plus the partial battery term.
	score := s.Score(telemetry(14.9, 20))
	assert.Greater(t, score, 500.0)

	// At the threshold: no bonus.
	assert.Less(t, s.Score(telemetry(15, 20)), 500.0)
}

func TestScoreMaximum(t *testing.T) {
	s := NewScorer(testScoringConfig())

	require.Equal(t, 1000.0, s.Max())
	assert.InDelta(t, 1000.0, s.Score(telemetry(0, 0)), 1e-9)
}

func TestEmergencyOutranksAnyNonEmergency(t *testing.T) {
	s := NewScorer(testScoringConfig())

	// A nearly drained vehicle far from the pad still outranks a healthy
	// vehicle hovering on top of it.
	drained := s.Score(telemetry(12, 0.5))
	healthy := s.Score(telemetry(40, 0.05))
	assert.Greater(t, drained, healthy)

	// Strongest possible non-emergency vs weakest possible emergency.
	weakestEmergency := s.Score(telemetry(14.999, s.cfg.MaxDistanceKm))
	strongestHealthy := s.Score(telemetry(15, 0))
	assert.Greater(t, weakestEmergency, strongestHealthy)
}

func TestIsEmergency(t *testing.T) {
	s := NewScorer(testScoringConfig())

	assert.True(t, s.IsEmergency(14.9))
	assert.False(t, s.IsEmergency(15))
	assert.False(t, s.IsEmergency(80))
}

func TestAltitudeTermDisabledByDefault(t *testing.T) {
	cfg := testScoringConfig()
	s := NewScorer(cfg)

	low := telemetry(100, 10)
	low.Altitude = 0
	high := telemetry(100, 10)
	high.Altitude = 300

	assert.Equal(t, s.Score(low), s.Score(high))
}

func TestAltitudeTermEnabled(t *testing.T) {
	cfg := testScoringConfig()
	cfg.AltitudeTermOn = true
	cfg.AltitudeCap = 50
	cfg.MaxCruiseAltM = 300
	s := NewScorer(cfg)

	low := telemetry(100, 10)
	low.Altitude = 0
	high := telemetry(100, 10)
	high.Altitude = 300

	assert.InDelta(t, 50.0, s.Score(low)-s.Score(high), 1e-9)
	assert.Equal(t, 1050.0, s.Max())
}
