// Package altitude maps AGL altitudes to the color bands used for track and
// marker display.
package altitude

import (
	"math"
	"strings"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

// Mode selects the palette.
type Mode string

const (
	Light Mode = "light"
	Dark  Mode = "dark"
)

// ParseMode returns Light for "light" and Dark for anything else.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(Light)) {
		return Light
	}
	return Dark
}

// Band is an altitude band. Bands are ordered from lowest to highest.
type Band int

const (
	Unknown Band = iota
	Ground
	Taxi
	Low
	Mid
	High
	Cruise
)

var bandNames = [...]string{
	Unknown: "unknown",
	Ground:  "ground",
	Taxi:    "taxi",
	Low:     "low",
	Mid:     "mid",
	High:    "high",
	Cruise:  "cruise",
}

func (b Band) String() string {
	if b < Unknown || b > Cruise {
		return "unknown"
	}
	return bandNames[b]
}

// MarshalText implements encoding.TextMarshaler.
func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Upper bounds (exclusive, feet AGL) of each band after Unknown.
const (
	minKnownFt  = 1
	groundMaxFt = 100
	taxiMaxFt   = 950
	lowMaxFt    = 5000
	midMaxFt    = 13000
	highMaxFt   = 200000
)

// BandOf returns the band for an AGL altitude in feet.
func BandOf(ft float64) Band {
	switch {
	case math.IsNaN(ft) || ft < minKnownFt:
		return Unknown
	case ft < groundMaxFt:
		return Ground
	case ft < taxiMaxFt:
		return Taxi
	case ft < lowMaxFt:
		return Low
	case ft < midMaxFt:
		return Mid
	case ft < highMaxFt:
		return High
	default:
		return Cruise
	}
}

// Token is a classified altitude: its band and the palette color for it.
type Token struct {
	Band  Band   `json:"band"`
	Color string `json:"color"`
}

var palettes = map[Mode][7]string{
	Light: {
		Unknown: "#94a3b8",
		Ground:  "#ff0000",
		Taxi:    "#f97316",
		Low:     "#fbce00",
		Mid:     "#22c55e",
		High:    "#3b82f6",
		Cruise:  "#a855f7",
	},
	Dark: {
		Unknown: "#64748b",
		Ground:  "#b60d0d",
		Taxi:    "#a04819",
		Low:     "#a06f06",
		Mid:     "#107736",
		High:    "#1d4db4",
		Cruise:  "#6c26ad",
	},
}

// Color returns the hex color of a band in the given mode. Unrecognized
// modes use the dark palette.
func Color(b Band, mode Mode) string {
	p, ok := palettes[mode]
	if !ok {
		p = palettes[Dark]
	}
	if b < Unknown || b > Cruise {
		b = Unknown
	}
	return p[b]
}

// Classify maps an optional AGL altitude in feet to its band and color.
// A missing altitude is Unknown.
func Classify(alt models.Float, mode Mode) Token {
	b := Unknown
	if v, ok := alt.Get(); ok {
		b = BandOf(v)
	}
	return Token{Band: b, Color: Color(b, mode)}
}
