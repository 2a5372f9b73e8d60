package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

// ---------------------------------------------------------------------------
// Rate Limiter Tests
// ---------------------------------------------------------------------------

func TestRateLimiterFirstCallImmediate(t *testing.T) {
	rl := NewRateLimiter(100 * time.Millisecond)
	start := time.Now()
	err := rl.Wait(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimiterEnforcesInterval(t *testing.T) {
	rl := NewRateLimiter(100 * time.Millisecond)

	err := rl.Wait(context.Background())
	require.NoError(t, err)

	start := time.Now()
	err = rl.Wait(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRateLimiterContextCancel(t *testing.T) {
	rl := NewRateLimiter(1 * time.Second)
	rl.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// ---------------------------------------------------------------------------
// Filter Tests
// ---------------------------------------------------------------------------

func fixAt(icao, reg string, lat, lon float64) models.AircraftFix {
	return models.AircraftFix{
		ICAO24:       icao,
		Registration: reg,
		Latitude:     models.Some(lat),
		Longitude:    models.Some(lon),
	}
}

func TestEmptyFilterMatchesAll(t *testing.T) {
	var f Filter
	fix := models.AircraftFix{ICAO24: "abc123"}
	assert.True(t, f.Empty())
	assert.True(t, f.Matches(&fix))

	var nilFilter *Filter
	assert.True(t, nilFilter.Matches(&fix))
}

func TestFilterICAOOnly(t *testing.T) {
	f := Filter{ICAO24: []string{"3B7B70"}}

	in := fixAt("3b7b70", "", 0, 0)
	out := fixAt("3b7b71", "", 0, 0)
	assert.True(t, f.Matches(&in))
	assert.False(t, f.Matches(&out))
}

func TestFilterRegistrationPrefix(t *testing.T) {
	f := Filter{RegistrationPrefixes: []string{"f-zb"}}

	bomber := fixAt("a", "F-ZBMF", 0, 0)
	other := fixAt("b", "F-GKXA", 0, 0)
	assert.True(t, f.Matches(&bomber))
	assert.False(t, f.Matches(&other))
}

func TestFilterBoundingBoxOnly(t *testing.T) {
	f := Filter{BoundingBox: &[4]float64{42.0, 45.0, 3.0, 8.0}}

	inside := fixAt("a", "", 43.5, 5.2)
	outside := fixAt("b", "", 48.8, 2.3)
	noPos := models.AircraftFix{ICAO24: "c"}
	assert.True(t, f.Matches(&inside))
	assert.False(t, f.Matches(&outside))
	assert.False(t, f.Matches(&noPos))
}

func TestFilterCriteriaUseOR(t *testing.T) {
	f := Filter{
		ICAO24:      []string{"3b7b70"},
		BoundingBox: &[4]float64{42.0, 45.0, 3.0, 8.0},
	}

	fleetFarAway := fixAt("3b7b70", "", 48.8, 2.3)
	strangerInBox := fixAt("ffffff", "", 43.5, 5.2)
	strangerOutside := fixAt("ffffff", "", 48.8, 2.3)
	assert.True(t, f.Matches(&fleetFarAway))
	assert.True(t, f.Matches(&strangerInBox))
	assert.False(t, f.Matches(&strangerOutside))
}

func TestFilterApply(t *testing.T) {
	fixes := []models.AircraftFix{
		fixAt("a", "F-ZBAA", 0, 0),
		fixAt("b", "N123", 0, 0),
		fixAt("c", "F-ZBCC", 0, 0),
	}

	f := Filter{RegistrationPrefixes: []string{"F-ZB"}}
	got := f.Apply(fixes)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ICAO24)
	assert.Equal(t, "c", got[1].ICAO24)

	var empty Filter
	assert.Len(t, empty.Apply(fixes), 3)
}

// ---------------------------------------------------------------------------
// Metrics Tests
// ---------------------------------------------------------------------------

func TestMetricsRecordLatency(t *testing.T) {
	m := &Metrics{}

	m.RecordLatency(100 * time.Millisecond)
	assert.Equal(t, int64(100_000_000), m.LastLatencyNs.Load())
	assert.Equal(t, int64(100_000_000), m.AvgLatencyNs.Load())

	m.RecordLatency(200 * time.Millisecond)
	assert.Equal(t, int64(200_000_000), m.LastLatencyNs.Load())
	assert.Equal(t, int64(150_000_000), m.AvgLatencyNs.Load())
}

func TestMetricsSnapshot(t *testing.T) {
	m := &Metrics{}
	m.TotalRequests.Store(10)
	m.SuccessRequests.Store(8)
	m.FailedRequests.Store(2)
	m.TotalAircraft.Store(40)
	m.TotalPoints.Store(1200)
	m.LastLatencyNs.Store(50_000_000)
	m.AvgLatencyNs.Store(45_000_000)

	snap := m.Snapshot()
	assert.Equal(t, int64(10), snap.TotalRequests)
	assert.Equal(t, int64(8), snap.SuccessRequests)
	assert.Equal(t, int64(2), snap.FailedRequests)
	assert.Equal(t, int64(40), snap.TotalAircraft)
	assert.Equal(t, int64(1200), snap.TotalPoints)
	assert.InDelta(t, 50.0, snap.LastLatencyMs, 0.1)
	assert.InDelta(t, 45.0, snap.AvgLatencyMs, 0.1)
}
