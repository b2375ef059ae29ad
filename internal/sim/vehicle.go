package sim

import (
	"sync/atomic"
	"time"

	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/physics"
	"github.com/skysched/vertiport/internal/uam"
)

// Phase is a vehicle's position in the landing sequence. Transitions only
// move forward; LANDED is terminal.
type Phase string

const (
	PhaseCruise     Phase = "CRUISE"
	PhaseApproach   Phase = "APPROACH"
	PhaseHover      Phase = "HOVER"
	PhaseDescending Phase = "DESCENDING"
	PhaseLanded     Phase = "LANDED"
)

// Vehicle is one simulated aircraft. All mutable state except the approval
// flag is owned by the vehicle's tick goroutine; SendLandingClearance flips
// the flag from the admission side.
type Vehicle struct {
	ID          string
	Destination uam.Destination

	cfg         config.FleetConfig
	lat         float64
	lng         float64
	altitude    float64
	heading     float64
	speedKmh    float64
	batteryPct  float64
	phase       Phase
	declination float64

	landingApproved atomic.Bool
}

// ApproveLanding flags the vehicle as cleared to land. Safe to call from any
// goroutine; the tick loop acts on it at the next tick.
func (v *Vehicle) ApproveLanding() {
	v.landingApproved.Store(true)
}

// Tick advances the vehicle by one simulation step and returns the resulting
// telemetry snapshot. landed is true exactly once, on the tick the vehicle
// reaches the ground.
func (v *Vehicle) Tick(now time.Time, tickSeconds float64) (t uam.Telemetry, landed bool) {
	v.drainBattery(tickSeconds)

	distanceKm := physics.HaversineKm(v.lat, v.lng, v.Destination.Lat, v.Destination.Lng)

	switch v.phase {
	case PhaseCruise:
		v.flyToward(distanceKm, tickSeconds)
		v.altitude = physics.StepAltitude(v.altitude, v.cfg.CruiseAltitudeM, v.cfg.ClimbStepM)
		if distanceKm <= v.cfg.ApproachRadiusKm {
			v.phase = PhaseApproach
		}

	case PhaseApproach:
		v.flyToward(distanceKm, tickSeconds)
		v.altitude = physics.StepAltitude(v.altitude, v.cfg.ApproachAltitudeM, v.cfg.DescentStepM)
		if distanceKm <= v.cfg.LDPRadiusKm {
			// Landing decision point: hold position and heading here until
			// cleared to descend.
			v.phase = PhaseHover
		}

	case PhaseHover:
		v.altitude = physics.StepAltitude(v.altitude, v.cfg.HoverAltitudeM, v.cfg.DescentStepM)
		if v.landingApproved.Load() || !v.Destination.RequiresApproval {
			v.phase = PhaseDescending
		}

	case PhaseDescending:
		v.altitude = physics.StepAltitude(v.altitude, 0, v.cfg.DescentStepM)
		if v.altitude <= 0 {
			v.phase = PhaseLanded
			landed = true
		}

	case PhaseLanded:
		// Terminal; the fleet retires the vehicle on the landed tick.
	}

	distanceKm = physics.HaversineKm(v.lat, v.lng, v.Destination.Lat, v.Destination.Lng)
	return v.snapshot(now, distanceKm), landed
}

// flyToward moves the vehicle laterally toward its destination for one tick,
// updating the heading to the current bearing.
func (v *Vehicle) flyToward(distanceKm, tickSeconds float64) {
	if distanceKm <= 0 {
		return
	}
	v.heading = physics.BearingDegrees(v.lat, v.lng, v.Destination.Lat, v.Destination.Lng)
	stepKm := v.speedKmh * tickSeconds / 3600
	v.lat, v.lng = physics.MoveToward(v.lat, v.lng, v.Destination.Lat, v.Destination.Lng, stepKm)
}

// drainBattery applies the per-tick battery drain: a base draw plus a
// speed-proportional term while the vehicle is moving laterally.
func (v *Vehicle) drainBattery(tickSeconds float64) {
	drain := v.cfg.BatteryDrainBasePct
	if v.phase == PhaseCruise || v.phase == PhaseApproach {
		drain += v.cfg.BatteryDrainPerKmhPct * v.speedKmh
	}
	v.batteryPct -= drain * tickSeconds
	if v.batteryPct < 0 {
		v.batteryPct = 0
	}
}

// snapshot builds the telemetry for the vehicle's current state.
func (v *Vehicle) snapshot(now time.Time, distanceKm float64) uam.Telemetry {
	speed := v.speedKmh
	etaSeconds := 0.0
	switch v.phase {
	case PhaseCruise, PhaseApproach:
		etaSeconds = distanceKm / v.speedKmh * 3600
	default:
		// Lateral movement has stopped; ground speed is zero and the remaining
		// time is the descent allowance from the current altitude.
		speed = 0
		if v.cfg.DescentStepM > 0 {
			etaSeconds = v.altitude / v.cfg.DescentStepM
		}
	}

	waiting := v.phase == PhaseHover && !v.landingApproved.Load()

	return uam.Telemetry{
		UAMID:              v.ID,
		Latitude:           v.lat,
		Longitude:          v.lng,
		Altitude:           v.altitude,
		HeadingDegrees:     v.heading,
		MagHeadingDegrees:  physics.TrueToMagnetic(v.heading, v.declination),
		BatteryPercent:     v.batteryPct,
		DestinationKey:     v.Destination.Key,
		DistanceToTargetKm: distanceKm,
		SpeedKmh:           speed,
		EtaSeconds:         etaSeconds,
		WaitingForLanding:  waiting,
		Emergency:          v.batteryPct < v.cfg.EmergencyBatteryPct,
		Timestamp:          now.UnixMilli(),
	}
}
