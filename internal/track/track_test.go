package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/altitude"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

func pt(lat, lon, alt float64, ts int64) models.HistoryPoint {
	return models.HistoryPoint{
		Latitude:      models.Some(lat),
		Longitude:     models.Some(lon),
		AGLAltitudeFt: models.Some(alt),
		Timestamp:     ts,
	}
}

func TestSegmentsShortInput(t *testing.T) {
	assert.Empty(t, Segments(nil, altitude.Dark))
	assert.NotNil(t, Segments(nil, altitude.Dark))
	assert.Empty(t, Segments([]models.HistoryPoint{pt(1, 2, 3000, 1)}, altitude.Dark))
}

func TestSegmentsSinglePair(t *testing.T) {
	p1 := pt(43.0, 4.0, 50, 1)
	p2 := pt(43.1, 4.1, 6000, 2)

	segs := Segments([]models.HistoryPoint{p1, p2}, altitude.Light)
	require.Len(t, segs, 1)
	assert.Equal(t, p1, segs[0].From)
	assert.Equal(t, p2, segs[0].To)
	assert.Equal(t, altitude.Classify(p2.AGLAltitudeFt, altitude.Light).Color, segs[0].Color)
	assert.Equal(t, altitude.Mid, segs[0].Band)
}

func TestSegmentsColorFollowsLaterPoint(t *testing.T) {
	points := []models.HistoryPoint{
		pt(43.00, 4.00, 50, 1),    // ground
		pt(43.01, 4.01, 500, 2),   // taxi
		pt(43.02, 4.02, 3000, 3),  // low
		pt(43.03, 4.03, 15000, 4), // high
	}

	segs := Segments(points, altitude.Dark)
	require.Len(t, segs, 3)
	assert.Equal(t, altitude.Taxi, segs[0].Band)
	assert.Equal(t, altitude.Low, segs[1].Band)
	assert.Equal(t, altitude.High, segs[2].Band)
	for i, s := range segs {
		assert.Equal(t, points[i], s.From)
		assert.Equal(t, points[i+1], s.To)
	}
}

func TestSegmentsSkipsPairsWithoutCoordinates(t *testing.T) {
	bad := models.HistoryPoint{Latitude: models.Some(43.0), Longitude: models.None, AGLAltitudeFt: models.Some(2000)}
	points := []models.HistoryPoint{
		pt(43.00, 4.00, 1000, 1),
		bad,
		pt(43.02, 4.02, 2000, 3),
		pt(43.03, 4.03, 2500, 4),
	}

	segs := Segments(points, altitude.Dark)
	require.Len(t, segs, 1)
	assert.Equal(t, int64(3), segs[0].From.Timestamp)
	assert.Equal(t, int64(4), segs[0].To.Timestamp)
}

func TestSegmentsMissingAltitudeIsUnknown(t *testing.T) {
	p2 := pt(43.1, 4.1, 0, 2)
	p2.AGLAltitudeFt = models.None

	segs := Segments([]models.HistoryPoint{pt(43, 4, 1000, 1), p2}, altitude.Dark)
	require.Len(t, segs, 1)
	assert.Equal(t, altitude.Unknown, segs[0].Band)
	assert.Equal(t, altitude.Color(altitude.Unknown, altitude.Dark), segs[0].Color)
}
