// Package track turns an aircraft's telemetry history into colored line
// segments for trend display.
package track

import (
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/altitude"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

// Segment joins two consecutive history points. Its color is taken from the
// later point, so a color change shows up one sample after the altitude
// change that caused it.
type Segment struct {
	From  models.HistoryPoint `json:"from"`
	To    models.HistoryPoint `json:"to"`
	Band  altitude.Band       `json:"band"`
	Color string              `json:"color"`
}

// Segments walks points oldest to newest and emits one segment per adjacent
// pair. Pairs where either point lacks a numeric latitude or longitude are
// skipped.
func Segments(points []models.HistoryPoint, mode altitude.Mode) []Segment {
	if len(points) < 2 {
		return []Segment{}
	}

	out := make([]Segment, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1], points[i]
		if !prev.HasPosition() || !curr.HasPosition() {
			continue
		}
		tok := altitude.Classify(curr.AGLAltitudeFt, mode)
		out = append(out, Segment{
			From:  prev,
			To:    curr,
			Band:  tok.Band,
			Color: tok.Color,
		})
	}
	return out
}
