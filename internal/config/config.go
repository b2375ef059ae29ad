package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server       ServerConfig        `toml:"server"`       // HTTP server settings
	Logging      LoggingConfig       `toml:"logging"`      // Application logging settings
	Storage      StorageConfig       `toml:"storage"`      // Ranked store / ledger persistence settings
	Fleet        FleetConfig         `toml:"fleet"`        // Simulated vehicle fleet settings
	Scoring      ScoringConfig       `toml:"scoring"`      // Landing priority score weights
	Broadcast    BroadcastConfig     `toml:"broadcast"`    // Observer feed cadences and limits
	Escalation   EscalationConfig    `toml:"escalation"`   // Priority-zone auto-escalation settings
	Destinations []DestinationConfig `toml:"destinations"` // Declared vertiports and their policies
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // Primary HTTP port for the server
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts  []int  `toml:"additional_ports"`      // Additional HTTP ports to listen on (useful for multiple interfaces)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains ranked-store persistence configuration
type StorageConfig struct {
	SQLitePath    string `toml:"sqlite_path"`        // Path to the SQLite database file for the landing queue and ledger
	DetailTTLSecs int    `toml:"detail_ttl_seconds"` // Time-to-live for telemetry detail entries in the ranked store (default: 60)
}

// FleetConfig contains settings for the simulated vehicle fleet
type FleetConfig struct {
	Size             int `toml:"size"`                  // Number of vehicles kept in flight (respawn holds this constant)
	TickMs           int `toml:"tick_ms"`               // Simulation tick interval in milliseconds
	RespawnDelaySecs int `toml:"respawn_delay_seconds"` // Delay before a landed vehicle is replaced by a fresh spawn

	SpawnCenterLat float64 `toml:"spawn_center_lat"` // Center of the random spawn region
	SpawnCenterLng float64 `toml:"spawn_center_lng"` // Center of the random spawn region
	SpawnRadiusKm  float64 `toml:"spawn_radius_km"`  // Radius of the random spawn region

	SpeedMinKmh float64 `toml:"speed_min_kmh"` // Lower bound for the per-vehicle cruise speed drawn at spawn
	SpeedMaxKmh float64 `toml:"speed_max_kmh"` // Upper bound for the per-vehicle cruise speed drawn at spawn

	InitialBatteryMinPct float64 `toml:"initial_battery_min_pct"` // Lower bound for battery level at spawn
	InitialBatteryMaxPct float64 `toml:"initial_battery_max_pct"` // Upper bound for battery level at spawn

	CruiseAltitudeM   float64 `toml:"cruise_altitude_m"`   // Altitude target while cruising
	ApproachAltitudeM float64 `toml:"approach_altitude_m"` // Altitude target during approach
	HoverAltitudeM    float64 `toml:"hover_altitude_m"`    // Altitude held at the landing decision point
	ClimbStepM        float64 `toml:"climb_step_m"`        // Altitude change per tick toward the phase target
	DescentStepM      float64 `toml:"descent_step_m"`      // Altitude lost per tick once cleared to land

	ApproachRadiusKm float64 `toml:"approach_radius_km"` // Distance at which a vehicle leaves cruise for approach
	LDPRadiusKm      float64 `toml:"ldp_radius_km"`      // Landing decision point: lateral movement stops inside this radius

	BatteryDrainBasePct   float64 `toml:"battery_drain_base_pct"`    // Battery percent consumed per tick regardless of speed
	BatteryDrainPerKmhPct float64 `toml:"battery_drain_per_kmh_pct"` // Additional battery percent per tick per km/h of speed
	EmergencyBatteryPct   float64 `toml:"emergency_battery_pct"`     // Below this level the vehicle is flagged emergency
}

// ScoringConfig contains the landing-priority score weights. Each term is
// clamped to its own cap; the caps sum to the documented maximum score.
type ScoringConfig struct {
	EmergencyBonus      float64 `toml:"emergency_bonus"`       // Fixed bonus when battery is below the emergency threshold
	BatteryCap          float64 `toml:"battery_cap"`           // Maximum contribution of the battery term
	BatterySafePct      float64 `toml:"battery_safe_pct"`      // Battery term is zero at or above this level
	BatteryFloorPct     float64 `toml:"battery_floor_pct"`     // Battery term reaches its cap at or below this level
	DistanceCap         float64 `toml:"distance_cap"`          // Maximum contribution of the distance term
	MaxDistanceKm       float64 `toml:"max_distance_km"`       // Distances at or beyond this normalize to zero
	AltitudeTermOn      bool    `toml:"altitude_term_enabled"` // Treat low altitude as an independent landing-readiness signal
	AltitudeCap         float64 `toml:"altitude_cap"`          // Maximum contribution of the altitude term (if enabled)
	MaxCruiseAltM       float64 `toml:"max_cruise_altitude_m"` // Altitudes at or above this contribute zero (if enabled)
	EmergencyBatteryPct float64 `toml:"emergency_battery_pct"` // Threshold below which the emergency bonus applies
}

// BroadcastConfig contains observer feed configuration
type BroadcastConfig struct {
	FleetIntervalMs  int `toml:"fleet_interval_ms"`  // Cadence of full-fleet snapshots (default: 500)
	RankedIntervalMs int `toml:"ranked_interval_ms"` // Cadence of ranked-queue snapshots (default: 1000)
	TopK             int `toml:"top_k"`              // Number of queue slots published to observers (default: 10)
	RecencyCapacity  int `toml:"recency_capacity"`   // Capacity of the fleet recency buffer (default: 50)
}

// EscalationConfig contains settings for the priority-zone auto-escalation
// protocol run against published ranked snapshots.
type EscalationConfig struct {
	Enabled             bool    `toml:"enabled"`               // Run the escalation monitor in this process
	ZoneSize            int     `toml:"zone_size"`             // Number of top slots forming the priority zone (default: 3)
	CountdownSecs       int     `toml:"countdown_seconds"`     // Dwell time before automatic approval (default: 60)
	EmergencyBatteryPct float64 `toml:"emergency_battery_pct"` // Battery level triggering immediate escalation
}

// DestinationConfig declares one vertiport
type DestinationConfig struct {
	Key              string  `toml:"key"`               // Stable destination identifier (closed set, validated at ingestion)
	Name             string  `toml:"name"`              // Human-readable vertiport name
	Lat              float64 `toml:"lat"`               // Vertiport latitude
	Lng              float64 `toml:"lng"`               // Vertiport longitude
	Scored           bool    `toml:"scored"`            // Maintain a priority-ranked landing queue for this destination
	RequiresApproval bool    `toml:"requires_approval"` // Gate descent on an external approval command
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads configuration from the preferred path if given,
// otherwise falls back to the standard search locations.
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and applies defaults for optional
// fields left unset.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	portsSeen := make(map[int]bool)
	portsSeen[c.Server.Port] = true
	for _, p := range c.Server.AdditionalPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid additional server port: %d", p)
		}
		if portsSeen[p] {
			return fmt.Errorf("duplicate port configured: %d (primary or additional)", p)
		}
		portsSeen[p] = true
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}

	// Validate logging config
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	// Validate storage config
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/vertiport.db"
	}
	if c.Storage.DetailTTLSecs <= 0 {
		c.Storage.DetailTTLSecs = 60
	}

	if err := c.validateFleet(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateBroadcast(); err != nil {
		return err
	}
	if err := c.validateEscalation(); err != nil {
		return err
	}
	return c.validateDestinations()
}

func (c *Config) validateFleet() error {
	f := &c.Fleet
	if f.Size <= 0 {
		return fmt.Errorf("fleet size must be positive, got %d", f.Size)
	}
	if f.TickMs <= 0 {
		f.TickMs = 1000
	}
	if f.RespawnDelaySecs <= 0 {
		f.RespawnDelaySecs = 5
	}
	if f.SpawnRadiusKm <= 0 {
		return fmt.Errorf("spawn radius must be positive, got %f", f.SpawnRadiusKm)
	}
	if f.SpeedMinKmh <= 0 || f.SpeedMaxKmh < f.SpeedMinKmh {
		return fmt.Errorf("invalid speed range: [%f, %f]", f.SpeedMinKmh, f.SpeedMaxKmh)
	}
	if f.InitialBatteryMinPct <= 0 || f.InitialBatteryMaxPct > 100 || f.InitialBatteryMaxPct < f.InitialBatteryMinPct {
		return fmt.Errorf("invalid initial battery range: [%f, %f]", f.InitialBatteryMinPct, f.InitialBatteryMaxPct)
	}
	if f.LDPRadiusKm <= 0 || f.ApproachRadiusKm <= f.LDPRadiusKm {
		return fmt.Errorf("approach radius (%f km) must exceed LDP radius (%f km)", f.ApproachRadiusKm, f.LDPRadiusKm)
	}
	if f.CruiseAltitudeM <= f.ApproachAltitudeM || f.ApproachAltitudeM <= f.HoverAltitudeM || f.HoverAltitudeM <= 0 {
		return fmt.Errorf("altitude targets must satisfy cruise > approach > hover > 0")
	}
	if f.ClimbStepM <= 0 {
		f.ClimbStepM = 20
	}
	if f.DescentStepM <= 0 {
		f.DescentStepM = 15
	}
	if f.EmergencyBatteryPct <= 0 {
		f.EmergencyBatteryPct = 15
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := &c.Scoring
	if s.EmergencyBonus <= 0 {
		s.EmergencyBonus = 500
	}
	if s.BatteryCap <= 0 {
		s.BatteryCap = 350
	}
	if s.BatterySafePct <= 0 {
		s.BatterySafePct = 20
	}
	if s.BatteryFloorPct <= 0 {
		s.BatteryFloorPct = 10
	}
	if s.BatteryFloorPct >= s.BatterySafePct {
		return fmt.Errorf("battery floor (%f) must be below the safe threshold (%f)", s.BatteryFloorPct, s.BatterySafePct)
	}
	if s.DistanceCap <= 0 {
		s.DistanceCap = 150
	}
	if s.MaxDistanceKm <= 0 {
		s.MaxDistanceKm = 20
	}
	if s.EmergencyBatteryPct <= 0 {
		s.EmergencyBatteryPct = 15
	}
	if s.AltitudeTermOn {
		if s.AltitudeCap <= 0 {
			return fmt.Errorf("altitude term enabled but altitude_cap is not positive")
		}
		if s.MaxCruiseAltM <= 0 {
			return fmt.Errorf("altitude term enabled but max_cruise_altitude_m is not positive")
		}
	}
	// The emergency bonus must act as a hard override: an emergency vehicle
	// outranks any combination of the remaining terms.
	others := s.BatteryCap + s.DistanceCap
	if s.AltitudeTermOn {
		others += s.AltitudeCap
	}
	if s.EmergencyBonus+s.batteryTermAtEmergency() <= others {
		return fmt.Errorf("emergency bonus %f too small to dominate remaining caps %f", s.EmergencyBonus, others)
	}
	return nil
}

// batteryTermAtEmergency returns the guaranteed battery-term contribution for
// any vehicle at or below the emergency threshold.
func (s *ScoringConfig) batteryTermAtEmergency() float64 {
	if s.EmergencyBatteryPct <= s.BatteryFloorPct {
		return s.BatteryCap
	}
	if s.EmergencyBatteryPct >= s.BatterySafePct {
		return 0
	}
	return (s.BatterySafePct - s.EmergencyBatteryPct) / (s.BatterySafePct - s.BatteryFloorPct) * s.BatteryCap
}

func (c *Config) validateBroadcast() error {
	b := &c.Broadcast
	if b.FleetIntervalMs <= 0 {
		b.FleetIntervalMs = 500
	}
	if b.RankedIntervalMs <= 0 {
		b.RankedIntervalMs = 1000
	}
	if b.TopK <= 0 {
		b.TopK = 10
	}
	if b.RecencyCapacity <= 0 {
		b.RecencyCapacity = 50
	}
	return nil
}

func (c *Config) validateEscalation() error {
	e := &c.Escalation
	if e.ZoneSize <= 0 {
		e.ZoneSize = 3
	}
	if e.CountdownSecs <= 0 {
		e.CountdownSecs = 60
	}
	if e.EmergencyBatteryPct <= 0 {
		e.EmergencyBatteryPct = 15
	}
	return nil
}

func (c *Config) validateDestinations() error {
	if len(c.Destinations) == 0 {
		return fmt.Errorf("at least one destination must be configured")
	}
	seen := make(map[string]bool)
	scored := 0
	for _, d := range c.Destinations {
		if d.Key == "" {
			return fmt.Errorf("destination with empty key")
		}
		if seen[d.Key] {
			return fmt.Errorf("duplicate destination key: %s", d.Key)
		}
		seen[d.Key] = true
		if d.Scored {
			scored++
		}
	}
	if scored == 0 {
		return fmt.Errorf("at least one destination must maintain a scored landing queue")
	}
	return nil
}
