package benchmarks

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/reconcile"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

var benchNow = time.Unix(1700000000, 0)

// ---------------------------------------------------------------------------
// Fleet Generator
// ---------------------------------------------------------------------------

func generateFix(i int) models.AircraftFix {
	return models.AircraftFix{
		ICAO24:        fmt.Sprintf("%06x", 0x3b0000+i),
		Registration:  fmt.Sprintf("F-Z%03d", i%1000),
		Latitude:      models.Some(42.0 + float64(i%300)*0.01),
		Longitude:     models.Some(3.0 + float64(i%500)*0.01),
		Heading:       models.Some(float64(i % 360)),
		SpeedKph:      models.Some(float64(150 + i%250)),
		AGLAltitudeFt: models.Some(float64(i%60) * 100),
		AtAirfield:    i%11 == 0,
		IsFull:        i%3 == 0,
		Timestamp:     models.Some(float64(benchNow.Unix() - int64(i%600))),
	}
}

func generateHistory(n int) []models.HistoryPoint {
	out := make([]models.HistoryPoint, n)
	for i := range out {
		out[i] = models.HistoryPoint{
			Latitude:      models.Some(43.0 + float64(i)*0.001),
			Longitude:     models.Some(5.0 + float64(i)*0.001),
			AGLAltitudeFt: models.Some(float64((i * 37) % 6000)),
			Timestamp:     benchNow.Unix() - int64(n-i)*5,
		}
	}
	return out
}

func generateRegions(n int) []models.RegionOfInterest {
	out := make([]models.RegionOfInterest, n)
	for i := range out {
		lat, lon := 42.0+float64(i%10)*0.3, 3.0+float64(i/10)*0.4
		geom, _ := json.Marshal(fmt.Sprintf("[[%f,%f],[%f,%f],[%f,%f],[%f,%f]]",
			lat, lon, lat+0.2, lon, lat+0.2, lon+0.3, lat, lon+0.3))
		out[i] = models.RegionOfInterest{
			ID:             models.RegionID(fmt.Sprintf("roi-%d", i)),
			Name:           fmt.Sprintf("Zone %d", i),
			Classification: []string{"fire", "training", "other"}[i%3],
			Level:          2,
			Geometry:       geom,
		}
	}
	return out
}

// generateCycle builds one cycle with aircraft fixes, points of history per
// aircraft and regions.
func generateCycle(seq uint64, aircraft, points, regions int) reconcile.Cycle {
	c := reconcile.Cycle{
		Seq:       seq,
		View:      reconcile.DefaultView(),
		StartedAt: benchNow,
		Aircraft:  make([]models.AircraftFix, aircraft),
		History:   make(map[string][]models.HistoryPoint, aircraft),
		Regions:   generateRegions(regions),
	}
	for i := range c.Aircraft {
		c.Aircraft[i] = generateFix(i)
		c.History[c.Aircraft[i].ICAO24] = generateHistory(points)
	}
	return c
}

// ---------------------------------------------------------------------------
// Latency Stats
// ---------------------------------------------------------------------------

// LatencyStats summarizes repeated timings.
type LatencyStats struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

func summarize(latencies []time.Duration) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(p float64) time.Duration {
		return sorted[int(float64(len(sorted)-1)*p)]
	}
	return LatencyStats{
		Count: len(sorted),
		P50:   at(0.50),
		P95:   at(0.95),
		P99:   at(0.99),
		Max:   sorted[len(sorted)-1],
	}
}

// ---------------------------------------------------------------------------
// Memory Profile
// ---------------------------------------------------------------------------

// MemoryProfile captures memory usage at a point in time.
type MemoryProfile struct {
	HeapAlloc   uint64
	Sys         uint64
	HeapObjects uint64
	NumGC       uint32
}

// CaptureMemoryProfile returns current memory statistics.
func CaptureMemoryProfile() MemoryProfile {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryProfile{
		HeapAlloc:   m.HeapAlloc,
		Sys:         m.Sys,
		HeapObjects: m.HeapObjects,
		NumGC:       m.NumGC,
	}
}

// HeapMB returns heap memory in megabytes.
func (mp MemoryProfile) HeapMB() float64 {
	return float64(mp.HeapAlloc) / 1024 / 1024
}
