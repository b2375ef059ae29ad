package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/physics"
	"github.com/skysched/vertiport/internal/uam"
)

func testFleetConfig() config.FleetConfig {
	return config.FleetConfig{
		Size:                  1,
		TickMs:                1000,
		RespawnDelaySecs:      1,
		SpawnCenterLat:        37.5133,
		SpawnCenterLng:        127.1028,
		SpawnRadiusKm:         15,
		SpeedMinKmh:           120,
		SpeedMaxKmh:           180,
		InitialBatteryMinPct:  30,
		InitialBatteryMaxPct:  90,
		CruiseAltitudeM:       300,
		ApproachAltitudeM:     150,
		HoverAltitudeM:        50,
		ClimbStepM:            20,
		DescentStepM:          15,
		ApproachRadiusKm:      3,
		LDPRadiusKm:           0.2,
		BatteryDrainBasePct:   0.05,
		BatteryDrainPerKmhPct: 0.0005,
		EmergencyBatteryPct:   15,
	}
}

var testDest = uam.Destination{
	Key:              "jamsil",
	Name:             "Jamsil Vertiport",
	Lat:              37.5133,
	Lng:              127.1028,
	Scored:           true,
	RequiresApproval: true,
}

// testVehicle builds a vehicle a given distance due south of the pad.
func testVehicle(dest uam.Destination, distanceKm float64) *Vehicle {
	lat := dest.Lat - distanceKm/physics.KmPerDegreeLat
	return &Vehicle{
		ID:          "UAM-001",
		Destination: dest,
		cfg:         testFleetConfig(),
		lat:         lat,
		lng:         dest.Lng,
		altitude:    300,
		heading:     physics.BearingDegrees(lat, dest.Lng, dest.Lat, dest.Lng),
		speedKmh:    144, // 40 m/s: convenient per-second step
		batteryPct:  80,
		phase:       PhaseCruise,
	}
}

func tickOnce(v *Vehicle) (uam.Telemetry, bool) {
	return v.Tick(time.Now(), 1.0)
}

func TestCruiseMovesTowardDestination(t *testing.T) {
	v := testVehicle(testDest, 10)

	before := physics.HaversineKm(v.lat, v.lng, testDest.Lat, testDest.Lng)
	snap, landed := tickOnce(v)
	after := physics.HaversineKm(v.lat, v.lng, testDest.Lat, testDest.Lng)

	assert.False(t, landed)
	assert.Equal(t, PhaseCruise, v.phase)
	assert.Less(t, after, before)
	assert.InDelta(t, 0.04, before-after, 0.005) // 144 km/h for one second
	assert.Equal(t, 144.0, snap.SpeedKmh)
	assert.Greater(t, snap.EtaSeconds, 0.0)
}

func TestCruiseEntersApproachInsideRadius(t *testing.T) {
	v := testVehicle(testDest, 2.5)

	tickOnce(v)
	assert.Equal(t, PhaseApproach, v.phase)
}

func TestApproachDescendsTowardApproachAltitude(t *testing.T) {
	v := testVehicle(testDest, 2.5)
	v.phase = PhaseApproach

	tickOnce(v)
	assert.Equal(t, 285.0, v.altitude) // one descent step from 300
}

func TestApproachEntersHoverAtDecisionPoint(t *testing.T) {
	v := testVehicle(testDest, 0.15)
	v.phase = PhaseApproach
	v.altitude = 150

	snap, _ := tickOnce(v)
	assert.Equal(t, PhaseHover, v.phase)
	assert.True(t, snap.WaitingForLanding)
}

func TestHoverHoldsPositionAndHeading(t *testing.T) {
	v := testVehicle(testDest, 0.1)
	v.phase = PhaseHover
	v.altitude = 50

	lat, lng, heading := v.lat, v.lng, v.heading
	snap, _ := tickOnce(v)

	assert.Equal(t, lat, v.lat)
	assert.Equal(t, lng, v.lng)
	assert.Equal(t, heading, v.heading)
	assert.Equal(t, 0.0, snap.SpeedKmh)
	// Gated destination: still hovering without a clearance.
	assert.Equal(t, PhaseHover, v.phase)
}

func TestHoverReportsDescentAllowanceAsEta(t *testing.T) {
	v := testVehicle(testDest, 0.1)
	v.phase = PhaseHover
	v.altitude = 50

	snap, _ := tickOnce(v)
	// 50 m remaining at 15 m per second of descent.
	assert.InDelta(t, 50.0/15.0, snap.EtaSeconds, 1e-9)
}

func TestDescentEtaShrinksWithAltitude(t *testing.T) {
	v := testVehicle(testDest, 0.1)
	v.phase = PhaseDescending
	v.altitude = 50

	first, _ := tickOnce(v)  // altitude 35
	second, _ := tickOnce(v) // altitude 20

	assert.InDelta(t, 35.0/15.0, first.EtaSeconds, 1e-9)
	assert.InDelta(t, 20.0/15.0, second.EtaSeconds, 1e-9)
	assert.Greater(t, first.EtaSeconds, second.EtaSeconds)
}

func TestClearanceReleasesHover(t *testing.T) {
	v := testVehicle(testDest, 0.1)
	v.phase = PhaseHover
	v.altitude = 50

	v.ApproveLanding()
	snap, _ := tickOnce(v)

	assert.Equal(t, PhaseDescending, v.phase)
	assert.False(t, snap.WaitingForLanding)
}

func TestNonGatedDestinationDescendsWithoutClearance(t *testing.T) {
	dest := testDest
	dest.Key = "gimpo"
	dest.RequiresApproval = false

	v := testVehicle(dest, 0.1)
	v.phase = PhaseHover
	v.altitude = 50

	tickOnce(v)
	assert.Equal(t, PhaseDescending, v.phase)
}

func TestDescentLandsExactlyOnce(t *testing.T) {
	v := testVehicle(testDest, 0.1)
	v.phase = PhaseDescending
	v.altitude = 50

	landings := 0
	for i := 0; i < 10; i++ {
		_, landed := tickOnce(v)
		if landed {
			landings++
		}
	}

	assert.Equal(t, 1, landings)
	assert.Equal(t, PhaseLanded, v.phase)
	assert.Equal(t, 0.0, v.altitude)
}

func TestBatteryDrainAndEmergencyFlag(t *testing.T) {
	v := testVehicle(testDest, 10)
	v.batteryPct = 15.05

	snap, _ := tickOnce(v)
	assert.Less(t, snap.BatteryPercent, 15.05)
	assert.True(t, snap.Emergency)
	assert.False(t, testVehicleEmergencyAt(16.0))
}

func testVehicleEmergencyAt(battery float64) bool {
	v := testVehicle(testDest, 10)
	v.batteryPct = battery
	v.cfg.BatteryDrainBasePct = 0
	v.cfg.BatteryDrainPerKmhPct = 0
	snap, _ := tickOnce(v)
	return snap.Emergency
}

func TestBatteryNeverNegative(t *testing.T) {
	v := testVehicle(testDest, 10)
	v.batteryPct = 0.01

	for i := 0; i < 5; i++ {
		tickOnce(v)
	}
	assert.Equal(t, 0.0, v.batteryPct)
}

func TestSnapshotCarriesIdentity(t *testing.T) {
	v := testVehicle(testDest, 5)

	snap, _ := tickOnce(v)
	require.Equal(t, "UAM-001", snap.UAMID)
	assert.Equal(t, uam.DestinationKey("jamsil"), snap.DestinationKey)
	assert.InDelta(t, 5, snap.DistanceToTargetKm, 0.1)
	assert.NotZero(t, snap.Timestamp)
}
