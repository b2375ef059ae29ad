// Package sim runs the simulated vehicle fleet that feeds telemetry into the
// admission pipeline.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/physics"
	"github.com/skysched/vertiport/internal/uam"
	"github.com/skysched/vertiport/pkg/logger"
)

// Controller receives the telemetry stream and touchdown notifications.
type Controller interface {
	Ingest(t uam.Telemetry) error
	HandleTouchdown(uamID string)
}

// Fleet manages the simulated vehicles. Each vehicle runs its own tick loop;
// when one lands it is retired and, after a delay, replaced by a fresh spawn
// so the fleet size stays constant.
type Fleet struct {
	cfg          config.FleetConfig
	destinations []uam.Destination
	controller   Controller
	logger       *logger.Logger

	mu       sync.RWMutex
	vehicles map[string]*Vehicle
	respawns map[*time.Timer]struct{}
	nextID   int
	stopped  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFleet creates a fleet service. Vehicles are assigned a random
// destination from the given set at spawn.
func NewFleet(cfg config.FleetConfig, destinations uam.DestinationSet, controller Controller, log *logger.Logger) (*Fleet, error) {
	if len(destinations) == 0 {
		return nil, fmt.Errorf("fleet requires at least one destination")
	}
	dests := make([]uam.Destination, 0, len(destinations))
	for _, d := range destinations {
		dests = append(dests, d)
	}
	return &Fleet{
		cfg:          cfg,
		destinations: dests,
		controller:   controller,
		logger:       log.Named("sim"),
		vehicles:     make(map[string]*Vehicle),
		respawns:     make(map[*time.Timer]struct{}),
	}, nil
}

// Start spawns the initial fleet and launches the per-vehicle tick loops.
func (f *Fleet) Start(ctx context.Context) {
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.logger.Info("Starting fleet",
		logger.Int("size", f.cfg.Size),
		logger.Int("tick_ms", f.cfg.TickMs))

	f.mu.Lock()
	for i := 0; i < f.cfg.Size; i++ {
		f.spawnLocked()
	}
	f.mu.Unlock()
}

// Stop halts every vehicle loop and cancels pending respawns.
func (f *Fleet) Stop() {
	f.mu.Lock()
	f.stopped = true
	for timer := range f.respawns {
		timer.Stop()
	}
	f.respawns = make(map[*time.Timer]struct{})
	f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	f.logger.Info("Fleet stopped")
}

// HasVehicle reports whether a vehicle with the given id is currently flying.
func (f *Fleet) HasVehicle(uamID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.vehicles[uamID]
	return ok
}

// SendLandingClearance delivers a LAND command to a flying vehicle.
func (f *Fleet) SendLandingClearance(cmd uam.LandingCommand) error {
	f.mu.RLock()
	v, ok := f.vehicles[cmd.UAMID]
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no flying vehicle with id %s", cmd.UAMID)
	}
	v.ApproveLanding()
	f.logger.Debug("Landing clearance delivered", logger.String("uam_id", cmd.UAMID))
	return nil
}

// spawnLocked creates one vehicle and starts its tick loop. Caller must hold
// f.mu.
func (f *Fleet) spawnLocked() {
	f.nextID++
	id := fmt.Sprintf("UAM-%03d", f.nextID)

	dest := f.destinations[rand.Intn(len(f.destinations))]
	lat, lng := f.randomSpawnPoint()

	v := &Vehicle{
		ID:          id,
		Destination: dest,
		cfg:         f.cfg,
		lat:         lat,
		lng:         lng,
		altitude:    f.cfg.CruiseAltitudeM,
		heading:     physics.BearingDegrees(lat, lng, dest.Lat, dest.Lng),
		speedKmh:    randomInRange(f.cfg.SpeedMinKmh, f.cfg.SpeedMaxKmh),
		batteryPct:  randomInRange(f.cfg.InitialBatteryMinPct, f.cfg.InitialBatteryMaxPct),
		phase:       PhaseCruise,
		declination: physics.MagneticDeclination(lat, lng, f.cfg.CruiseAltitudeM, time.Now()),
	}

	f.vehicles[id] = v
	f.wg.Add(1)
	go f.runVehicle(v)

	f.logger.Info("Spawned vehicle",
		logger.String("uam_id", id),
		logger.String("destination", string(dest.Key)),
		logger.Float64("battery_pct", v.batteryPct),
		logger.Float64("speed_kmh", v.speedKmh))
}

// runVehicle drives one vehicle's tick loop until it lands or the fleet
// stops.
func (f *Fleet) runVehicle(v *Vehicle) {
	defer f.wg.Done()

	tick := time.Duration(f.cfg.TickMs) * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if f.tickVehicle(v, now, tick.Seconds()) {
				return
			}
		case <-f.ctx.Done():
			return
		}
	}
}

// tickVehicle advances one vehicle by one step and reports whether the
// vehicle has landed and its loop should exit. A panicking tick is logged
// and skipped rather than taking the whole fleet down.
func (f *Fleet) tickVehicle(v *Vehicle, now time.Time, tickSeconds float64) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Vehicle tick panicked",
				logger.String("uam_id", v.ID),
				logger.Any("panic", r))
		}
	}()

	t, landed := v.Tick(now, tickSeconds)

	if err := f.controller.Ingest(t); err != nil {
		f.logger.Error("Failed to ingest telemetry",
			logger.String("uam_id", v.ID),
			logger.Error(err))
	}

	if landed {
		f.retire(v)
		return true
	}
	return false
}

// retire removes a landed vehicle and schedules its replacement.
func (f *Fleet) retire(v *Vehicle) {
	f.mu.Lock()
	delete(f.vehicles, v.ID)
	stopped := f.stopped
	f.mu.Unlock()

	f.controller.HandleTouchdown(v.ID)
	f.logger.Info("Vehicle landed",
		logger.String("uam_id", v.ID),
		logger.String("destination", string(v.Destination.Key)))

	if stopped {
		return
	}

	delay := time.Duration(f.cfg.RespawnDelaySecs) * time.Second
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.respawns, timer)
		if f.stopped {
			return
		}
		f.spawnLocked()
	})

	f.mu.Lock()
	if f.stopped {
		timer.Stop()
	} else {
		f.respawns[timer] = struct{}{}
	}
	f.mu.Unlock()
}

// randomSpawnPoint draws a point uniformly from the spawn disc.
func (f *Fleet) randomSpawnPoint() (lat, lng float64) {
	// sqrt keeps the distribution uniform over the disc area.
	radiusKm := f.cfg.SpawnRadiusKm * math.Sqrt(rand.Float64())
	angle := rand.Float64() * 2 * math.Pi

	lat = f.cfg.SpawnCenterLat + radiusKm*math.Sin(angle)/physics.KmPerDegreeLat
	lng = f.cfg.SpawnCenterLng + radiusKm*math.Cos(angle)/
		(physics.KmPerDegreeLat*math.Cos(f.cfg.SpawnCenterLat*math.Pi/180))
	return lat, lng
}

func randomInRange(min, max float64) float64 {
	return min + rand.Float64()*(max-min)
}
