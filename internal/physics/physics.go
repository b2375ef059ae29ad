package physics

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	EarthRadiusKm = 6371.0

	// Kilometers per degree of latitude; longitude scales with cos(lat).
	KmPerDegreeLat = 111.32
)

// HaversineKm returns the great-circle distance in kilometers between two
// lat/lng points.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BearingDegrees returns the initial compass bearing from point 1 to point 2.
// Result is normalized to [0, 360).
func BearingDegrees(lat1, lng1, lat2, lng2 float64) float64 {
	dLng := toRad(lng2 - lng1)
	y := math.Sin(dLng) * math.Cos(toRad(lat2))
	x := math.Cos(toRad(lat1))*math.Sin(toRad(lat2)) -
		math.Sin(toRad(lat1))*math.Cos(toRad(lat2))*math.Cos(dLng)

	return NormalizeHeading(math.Atan2(y, x) * 180 / math.Pi)
}

// MoveToward advances a position toward a target by distKm along the direct
// bearing, using a local flat-earth step. The step never overshoots the
// target. Returns the new position.
func MoveToward(lat, lng, targetLat, targetLng, distKm float64) (float64, float64) {
	remaining := HaversineKm(lat, lng, targetLat, targetLng)
	if remaining <= 0 || distKm <= 0 {
		return lat, lng
	}
	if distKm >= remaining {
		return targetLat, targetLng
	}

	heading := BearingDegrees(lat, lng, targetLat, targetLng)
	rad := (90 - heading) * math.Pi / 180 // compass heading to math angle

	latChange := distKm * math.Sin(rad) / KmPerDegreeLat
	lngChange := distKm * math.Cos(rad) / (KmPerDegreeLat * math.Cos(toRad(lat)))

	return lat + latChange, lng + lngChange
}

// StepAltitude moves an altitude toward a target by at most stepM, clamped so
// it never overshoots and never goes below zero.
func StepAltitude(current, target, stepM float64) float64 {
	if stepM <= 0 {
		return current
	}
	switch {
	case current < target:
		current += stepM
		if current > target {
			current = target
		}
	case current > target:
		current -= stepM
		if current < target {
			current = target
		}
	}
	if current < 0 {
		current = 0
	}
	return current
}

// NormalizeHeading wraps a heading into [0, 360).
func NormalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// MagneticDeclination returns the magnetic declination in degrees
// (+East, -West) for a position and time.
func MagneticDeclination(lat, lng, altM float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(lat, lng, altM)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// Return 0 for safety if calculation fails
		return 0.0
	}

	return mag.D()
}

// TrueToMagnetic converts a true heading to a magnetic heading given the
// local declination.
func TrueToMagnetic(trueHeading, declination float64) float64 {
	return NormalizeHeading(trueHeading - declination)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
