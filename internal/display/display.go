// Package display builds the per-render presentation model from a
// reconciled state: where to draw each aircraft, in what color, with which
// track segments and region overlays.
package display

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/altitude"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/metrics"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/projection"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/reconcile"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/region"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/track"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

// maxFixAge bounds the fix ages rendered as text, in seconds.
const maxFixAge = 10 * 365 * 24 * 3600

// Status selects the marker color of an aircraft.
type Status string

const (
	StatusGround   Status = "ground"
	StatusAirborne Status = "airborne"
	StatusFull     Status = "full"
	StatusEmpty    Status = "empty"
)

type statusColors struct {
	Marker string
	Track  string
}

var colors = map[Status]statusColors{
	StatusGround:   {Marker: "#94a3b8", Track: "#475569"},
	StatusAirborne: {Marker: "#22c55e", Track: "#15803d"},
	StatusFull:     {Marker: "#60a5fa", Track: "#1d4ed8"},
	StatusEmpty:    {Marker: "#f97316", Track: "#c2410c"},
}

// StatusOf derives the marker status. Being at an airfield wins over the
// load flags; a loaded aircraft is full before it is empty.
func StatusOf(fix models.AircraftFix) Status {
	switch {
	case fix.AtAirfield:
		return StatusGround
	case fix.IsFull:
		return StatusFull
	case fix.IsEmpty:
		return StatusEmpty
	default:
		return StatusAirborne
	}
}

// Position is where a marker is drawn.
type Position struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Projected bool    `json:"projected"`
}

// AircraftView is one aircraft as the map draws it.
type AircraftView struct {
	ICAO24       string `json:"icao24"`
	Registration string `json:"registration,omitempty"`
	Model        string `json:"model,omitempty"`
	Type         string `json:"type,omitempty"`
	Owner        string `json:"owner,omitempty"`
	AirfieldName string `json:"airfield_name,omitempty"`

	// Position is nil when the aircraft has no usable fix.
	Position       *Position    `json:"position,omitempty"`
	Heading        models.Float `json:"heading"`
	SpeedKph       models.Float `json:"speed_kph"`
	BaroAltitudeFt models.Float `json:"baro_altitude_ft"`
	AGLAltitudeFt  models.Float `json:"agl_altitude_ft"`

	Band          altitude.Band `json:"band"`
	AltitudeColor string        `json:"altitude_color"`
	Status        Status        `json:"status"`
	MarkerColor   string        `json:"marker_color"`
	TrackColor    string        `json:"track_color"`

	FixAge       string  `json:"fix_age,omitempty"`
	ProjectionKm float64 `json:"projection_km,omitempty"`

	Regions  []models.RegionID `json:"regions,omitempty"`
	Segments []track.Segment   `json:"segments,omitempty"`
}

// Frame is everything needed for one render pass.
type Frame struct {
	Seq         uint64    `json:"seq"`
	FetchedAt   time.Time `json:"fetched_at"`
	GeneratedAt time.Time `json:"generated_at"`
	Mode        string    `json:"mode"`
	Selection   string    `json:"selection"`
	Window      string    `json:"window"`
	Stale       bool      `json:"stale"`
	Projected   int       `json:"projected"`

	Aircraft []AircraftView `json:"aircraft"`
	Regions  []region.Shape `json:"regions"`
}

// Build renders st at now. Segments and projections are recomputed on every
// call; nothing is cached between frames.
func Build(st *reconcile.State, regions *region.Set, now time.Time, mode altitude.Mode) Frame {
	if st == nil {
		st = reconcile.Empty()
	}

	f := Frame{
		Seq:         st.Seq,
		FetchedAt:   st.FetchedAt,
		GeneratedAt: now,
		Mode:        string(mode),
		Selection:   string(st.View.Selection),
		Window:      st.View.Window.String(),
		Stale:       st.AircraftStale || st.RegionsStale,
		Aircraft:    make([]AircraftView, 0, len(st.Order)),
		Regions:     regions.Shapes(st.Regions),
	}

	for _, fix := range st.Fixes() {
		v := View(fix, now, mode)
		if v.Position != nil {
			if v.Position.Projected {
				f.Projected++
			}
			for _, sh := range f.Regions {
				if sh.Contains(v.Position.Lat, v.Position.Lon) {
					v.Regions = append(v.Regions, sh.ID)
				}
			}
		}
		v.Segments = track.Segments(st.History[fix.ICAO24], mode)
		f.Aircraft = append(f.Aircraft, v)
	}
	return f
}

// View renders a single fix without history or regions.
func View(fix models.AircraftFix, now time.Time, mode altitude.Mode) AircraftView {
	status := StatusOf(fix)
	tok := altitude.Classify(fix.AGLAltitudeFt, mode)

	v := AircraftView{
		ICAO24:         fix.ICAO24,
		Registration:   fix.Registration,
		Model:          fix.Model,
		Type:           fix.Type,
		Owner:          fix.Owner,
		AirfieldName:   fix.AirfieldName,
		Heading:        fix.Heading,
		SpeedKph:       fix.SpeedKph,
		BaroAltitudeFt: fix.BaroAltitudeFt,
		AGLAltitudeFt:  fix.AGLAltitudeFt,
		Band:           tok.Band,
		AltitudeColor:  tok.Color,
		Status:         status,
		MarkerColor:    colors[status].Marker,
		TrackColor:     colors[status].Track,
	}

	if fix.HasPosition() {
		if p, ok := projection.Project(fix, now); ok {
			v.Position = &Position{Lat: p.Lat, Lon: p.Lon, Projected: true}
			v.ProjectionKm = projection.Displacement(fix, p)
		} else {
			v.Position = &Position{Lat: fix.Latitude.Value, Lon: fix.Longitude.Value}
		}
	}

	if elapsed, ok := projection.Elapsed(fix, now); ok && math.Abs(elapsed) < maxFixAge {
		fixTime := now.Add(-time.Duration(elapsed * float64(time.Second)))
		v.FixAge = humanize.RelTime(fixTime, now, "ago", "from now")
	}
	return v
}

// Lookup returns the view of one aircraft.
func (f *Frame) Lookup(icao24 string) (AircraftView, bool) {
	icao24 = models.NormalizeICAO(icao24)
	for _, v := range f.Aircraft {
		if v.ICAO24 == icao24 {
			return v, true
		}
	}
	return AircraftView{}, false
}

// WithoutSegments returns a copy of the aircraft list with segments dropped.
func (f *Frame) WithoutSegments() []AircraftView {
	out := make([]AircraftView, len(f.Aircraft))
	for i, v := range f.Aircraft {
		v.Segments = nil
		out[i] = v
	}
	return out
}

var lastRecorded atomic.Uint64

// Record exports frame gauges. Displacements are observed once per state
// sequence so repeated renders of the same state are not double counted.
func Record(f *Frame) {
	metrics.ProjectedAircraft.Set(float64(f.Projected))
	metrics.ActiveRegions.Set(float64(len(f.Regions)))

	prev := lastRecorded.Load()
	if f.Seq <= prev || !lastRecorded.CompareAndSwap(prev, f.Seq) {
		return
	}
	for _, v := range f.Aircraft {
		if v.Position != nil && v.Position.Projected {
			metrics.ProjectionKm.Observe(v.ProjectionKm)
		}
	}
}
