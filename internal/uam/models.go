package uam

import (
	"fmt"
	"time"
)

// DestinationKey identifies a vertiport. Keys form a closed set declared in
// configuration; telemetry referencing an undeclared key is rejected at
// ingestion.
type DestinationKey string

// Destination describes a vertiport and its admission policy.
type Destination struct {
	Key  DestinationKey `json:"key"`
	Name string         `json:"name"`
	Lat  float64        `json:"lat"`
	Lng  float64        `json:"lng"`

	// Scored destinations maintain a priority-ranked landing queue.
	Scored bool `json:"scored"`
	// RequiresApproval gates the hover-to-descent transition on an external
	// clearance. Non-gated destinations clear vehicles as soon as they reach
	// the landing decision point.
	RequiresApproval bool `json:"requires_approval"`
}

// DestinationSet is the validated registry of vertiports keyed by destination key.
type DestinationSet map[DestinationKey]Destination

// NewDestinationSet builds a registry from the configured destinations.
func NewDestinationSet(dests []Destination) (DestinationSet, error) {
	set := make(DestinationSet, len(dests))
	for _, d := range dests {
		if d.Key == "" {
			return nil, fmt.Errorf("destination with empty key")
		}
		if _, dup := set[d.Key]; dup {
			return nil, fmt.Errorf("duplicate destination key: %s", d.Key)
		}
		set[d.Key] = d
	}
	return set, nil
}

// Lookup returns the destination for a key, if declared.
func (s DestinationSet) Lookup(key DestinationKey) (Destination, bool) {
	d, ok := s[key]
	return d, ok
}

// Telemetry is a single immutable vehicle status snapshot. One is produced per
// simulation tick per vehicle; a newer snapshot supersedes, never mutates, an
// older one. Timestamp is epoch milliseconds on the wire.
type Telemetry struct {
	UAMID              string         `json:"uamId"`
	Latitude           float64        `json:"latitude"`
	Longitude          float64        `json:"longitude"`
	Altitude           float64        `json:"altitude"` // meters
	HeadingDegrees     float64        `json:"headingDegrees"`
	MagHeadingDegrees  float64        `json:"magHeadingDegrees"`
	BatteryPercent     float64        `json:"batteryPercent"`
	DestinationKey     DestinationKey `json:"destinationKey"`
	DistanceToTargetKm float64        `json:"distanceToTargetKm"`
	SpeedKmh           float64        `json:"speedKmh"`
	EtaSeconds         float64        `json:"etaSeconds"`
	WaitingForLanding  bool           `json:"waitingForLanding"`
	Emergency          bool           `json:"isEmergency"`
	Timestamp          int64          `json:"timestamp"`
}

// Time returns the snapshot timestamp as a time.Time.
func (t Telemetry) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// LandingCommand is the clearance sent to the simulator when a vehicle is
// approved to land. Sent exactly once per vehicle.
type LandingCommand struct {
	UAMID     string `json:"uamId"`
	Command   string `json:"command"` // always "LAND"
	Timestamp int64  `json:"timestamp"`
}

// NewLandingCommand builds a LAND clearance for the given vehicle.
func NewLandingCommand(uamID string, now time.Time) LandingCommand {
	return LandingCommand{
		UAMID:     uamID,
		Command:   "LAND",
		Timestamp: now.UnixMilli(),
	}
}

// LandedRecord is one entry of the landed-vehicle ledger. The ledger is
// append-only, ordered newest first, and retained for the life of the process.
type LandedRecord struct {
	UAMID    string    `json:"uamId"`
	LandedAt time.Time `json:"landedAt"`
}
