// Package projection dead-reckons an aircraft's current position from its
// last fix, heading, ground speed and fix age.
//
// The model is a flat equirectangular approximation. Projections cover at
// most a few tens of kilometres, where the error against a geodesic solution
// stays well below marker size.
package projection

import (
	"math"
	"time"

	geo "github.com/kellydunn/golang-geo"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

const (
	// MinSpeedKph is the ground speed below which an aircraft is treated as
	// stationary.
	MinSpeedKph = 5.0

	// MinAGLFt is the height below which aircraft are not projected; ground
	// maneuvering is not ballistic.
	MinAGLFt = 1000.0

	// MaxFixAge is the oldest fix that is still extrapolated.
	MaxFixAge = 2400.0 // seconds

	// MaxExtrapolation caps the elapsed time used for the distance.
	MaxExtrapolation = 1200.0 // seconds

	// KmPerDegree is the length of one degree of latitude.
	KmPerDegree = 111.32

	// msThreshold is the raw |now - timestamp| (in seconds) beyond which a
	// timestamp with no declared unit is taken to be in milliseconds.
	msThreshold = 1e6
)

// Position is a [lat, lon] pair in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Elapsed returns the age of the fix in seconds at now.
//
// When the fix declares its timestamp unit that unit is used. Otherwise the
// timestamp is assumed to be in seconds unless the difference to now exceeds
// one million in magnitude, in which case it is re-read as milliseconds.
func Elapsed(fix models.AircraftFix, now time.Time) (float64, bool) {
	ts, ok := fix.Timestamp.Get()
	if !ok {
		return 0, false
	}

	nowMs := float64(now.UnixMilli())
	nowS := nowMs / 1000

	var elapsed float64
	switch fix.TimestampUnit {
	case models.UnitMilliseconds:
		elapsed = (nowMs - ts) / 1000
	case models.UnitSeconds:
		elapsed = nowS - ts
	default:
		elapsed = nowS - ts
		if math.Abs(elapsed) > msThreshold {
			elapsed = (nowMs - ts) / 1000
		}
	}

	if math.IsNaN(elapsed) || math.IsInf(elapsed, 0) {
		return 0, false
	}
	return elapsed, true
}

// Project returns the extrapolated position of fix at now. The boolean is
// false when the fix should be drawn unprojected: missing data, a slow or
// near-ground aircraft, a fix from the future, or one too old to trust.
func Project(fix models.AircraftFix, now time.Time) (Position, bool) {
	lat, okLat := fix.Latitude.Get()
	lon, okLon := fix.Longitude.Get()
	if !okLat || !okLon {
		return Position{}, false
	}
	heading, ok := fix.Heading.Get()
	if !ok {
		return Position{}, false
	}
	speed, ok := fix.SpeedKph.Get()
	if !ok || speed < MinSpeedKph {
		return Position{}, false
	}
	agl, ok := fix.AGLAltitudeFt.Get()
	if !ok || agl < MinAGLFt {
		return Position{}, false
	}

	elapsed, ok := Elapsed(fix, now)
	if !ok || elapsed <= 0 || elapsed > MaxFixAge {
		return Position{}, false
	}
	elapsed = math.Min(elapsed, MaxExtrapolation)

	return advance(lat, lon, heading, speed, elapsed)
}

func advance(lat, lon, headingDeg, speedKph, seconds float64) (Position, bool) {
	distanceKm := speedKph * seconds / 3600
	h := headingDeg * math.Pi / 180
	latRad := lat * math.Pi / 180

	latDelta := distanceKm * math.Cos(h) / KmPerDegree
	lonDelta := distanceKm * math.Sin(h) / (KmPerDegree * math.Cos(latRad))

	p := Position{Lat: lat + latDelta, Lon: wrapLon(lon + lonDelta)}
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return Position{}, false
	}
	if p.Lat > 90 || p.Lat < -90 {
		return Position{}, false
	}
	return p, true
}

func wrapLon(lon float64) float64 {
	if math.IsNaN(lon) || math.IsInf(lon, 0) || (lon >= -180 && lon <= 180) {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// Displacement returns the great-circle distance in kilometres between a fix
// and its projected position.
func Displacement(fix models.AircraftFix, p Position) float64 {
	if !fix.HasPosition() {
		return 0
	}
	from := geo.NewPoint(fix.Latitude.Value, fix.Longitude.Value)
	return from.GreatCircleDistance(geo.NewPoint(p.Lat, p.Lon))
}
