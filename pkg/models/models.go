package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Optional numbers
// ---------------------------------------------------------------------------

// Float is a JSON number that may be absent, null or not a number at all.
// Anything that does not decode as a finite number is treated as missing so
// a single bad field never rejects the whole record.
type Float struct {
	Value float64
	Valid bool
}

// Some returns a present Float.
func Some(v float64) Float {
	return Float{Value: v, Valid: true}
}

// None is the missing Float.
var None = Float{}

// Get returns the value and whether it is present.
func (f Float) Get() (float64, bool) {
	return f.Value, f.Valid
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(b []byte) error {
	*f = Float{}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*f = Float{Value: v, Valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// ---------------------------------------------------------------------------
// Aircraft
// ---------------------------------------------------------------------------

// TimestampUnit tags the unit a telemetry source used for fix timestamps.
type TimestampUnit string

const (
	UnitUnknown      TimestampUnit = ""
	UnitSeconds      TimestampUnit = "s"
	UnitMilliseconds TimestampUnit = "ms"
)

// AircraftFix is the last known state of one tracked aircraft as returned by
// the aircraft snapshot source. It is replaced wholesale on every poll.
type AircraftFix struct {
	ICAO24       string `json:"icao24"`
	Registration string `json:"registration,omitempty"`
	Model        string `json:"model,omitempty"`
	Type         string `json:"type,omitempty"` // icon selector: airplane, helicopter
	Owner        string `json:"owner,omitempty"`
	Country      string `json:"country,omitempty"`

	Latitude       Float `json:"last_lat"`
	Longitude      Float `json:"last_lon"`
	Heading        Float `json:"true_track"`
	SpeedKph       Float `json:"speed_kph"`
	BaroAltitudeFt Float `json:"last_baro_alt_ft"`
	AGLAltitudeFt  Float `json:"last_agl_alt_ft"`

	AtAirfield   bool   `json:"at_airfield"`
	AirfieldName string `json:"airfield_name,omitempty"`
	IsFull       bool   `json:"is_full"`
	IsEmpty      bool   `json:"is_empty"`

	Timestamp     Float         `json:"last_timestamp"`
	TimestampUnit TimestampUnit `json:"timestamp_unit,omitempty"`
}

// HasPosition reports whether both coordinates of the last fix are known.
func (a *AircraftFix) HasPosition() bool {
	return a.Latitude.Valid && a.Longitude.Valid
}

// NormalizeICAO lower-cases and trims an ICAO24 address.
func NormalizeICAO(icao string) string {
	return strings.ToLower(strings.TrimSpace(icao))
}

// ---------------------------------------------------------------------------
// Telemetry history
// ---------------------------------------------------------------------------

// HistoryPoint is one telemetry sample of an aircraft track.
type HistoryPoint struct {
	Latitude      Float `json:"lat"`
	Longitude     Float `json:"lon"`
	AGLAltitudeFt Float `json:"agl_altitude_ft"`
	Timestamp     int64 `json:"timestamp"`
}

// HasPosition reports whether both coordinates are numeric.
func (p *HistoryPoint) HasPosition() bool {
	return p.Latitude.Valid && p.Longitude.Valid
}

// ---------------------------------------------------------------------------
// Regions of interest
// ---------------------------------------------------------------------------

// ActiveRegionLevel is the only nesting level shown on the map.
const ActiveRegionLevel = 2

// RegionOfInterest is a named polygonal overlay. Geometry is either a ring of
// [lat, lon] pairs or a JSON string encoding one.
type RegionOfInterest struct {
	ID             RegionID        `json:"id"`
	Name           string          `json:"name"`
	Classification string          `json:"classification"`
	Level          int             `json:"level"`
	Geometry       json.RawMessage `json:"geometry"`
}

// RegionID accepts both string and numeric identifiers.
type RegionID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *RegionID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = RegionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = RegionID(n.String())
	return nil
}

// ---------------------------------------------------------------------------
// Time window
// ---------------------------------------------------------------------------

// Window is a closed [Start, Stop] interval used for active-aircraft
// selection and history fetches.
type Window struct {
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
}

// TrailingWindow returns the window of length d ending at now.
func TrailingWindow(now time.Time, d time.Duration) Window {
	return Window{Start: now.Add(-d), Stop: now}
}

// ---------------------------------------------------------------------------
// Aircraft selection
// ---------------------------------------------------------------------------

// Selection chooses which aircraft the snapshot source returns.
type Selection string

const (
	// SelectionActive returns aircraft with telemetry inside the window.
	SelectionActive Selection = "active"
	// SelectionAll returns every known aircraft.
	SelectionAll Selection = "all"
)

// ParseSelection maps "all" to SelectionAll and anything else to
// SelectionActive.
func ParseSelection(s string) Selection {
	if strings.EqualFold(strings.TrimSpace(s), string(SelectionAll)) {
		return SelectionAll
	}
	return SelectionActive
}
