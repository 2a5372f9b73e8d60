// Package ingestion talks to the telemetry API: aircraft snapshots,
// per-aircraft history and regions of interest.
package ingestion

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics collects request counters for the stats endpoint.
type Metrics struct {
	TotalRequests   atomic.Int64
	SuccessRequests atomic.Int64
	FailedRequests  atomic.Int64
	TotalAircraft   atomic.Int64
	TotalPoints     atomic.Int64
	LastLatencyNs   atomic.Int64
	AvgLatencyNs    atomic.Int64

	mu           sync.Mutex
	latencySum   int64
	latencyCount int64
}

// RecordLatency updates latency metrics.
func (m *Metrics) RecordLatency(d time.Duration) {
	ns := d.Nanoseconds()
	m.LastLatencyNs.Store(ns)

	m.mu.Lock()
	m.latencySum += ns
	m.latencyCount++
	m.AvgLatencyNs.Store(m.latencySum / m.latencyCount)
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   m.TotalRequests.Load(),
		SuccessRequests: m.SuccessRequests.Load(),
		FailedRequests:  m.FailedRequests.Load(),
		TotalAircraft:   m.TotalAircraft.Load(),
		TotalPoints:     m.TotalPoints.Load(),
		LastLatencyMs:   float64(m.LastLatencyNs.Load()) / 1e6,
		AvgLatencyMs:    float64(m.AvgLatencyNs.Load()) / 1e6,
	}
}

// MetricsSnapshot is a point-in-time copy of metrics.
type MetricsSnapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	SuccessRequests int64   `json:"success_requests"`
	FailedRequests  int64   `json:"failed_requests"`
	TotalAircraft   int64   `json:"total_aircraft"`
	TotalPoints     int64   `json:"total_points"`
	LastLatencyMs   float64 `json:"last_latency_ms"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
}

// ---------------------------------------------------------------------------
// Rate Limiter
// ---------------------------------------------------------------------------

// RateLimiter enforces a minimum interval between calls to Wait.
type RateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	lastCall time.Time
}

// NewRateLimiter creates a rate limiter with the given interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Wait blocks until the next call is allowed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastCall.IsZero() {
		r.lastCall = time.Now()
		return nil
	}

	elapsed := time.Since(r.lastCall)
	if elapsed < r.interval {
		wait := r.interval - elapsed
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.lastCall = time.Now()
	return nil
}

// ---------------------------------------------------------------------------
// Filter Configuration
// ---------------------------------------------------------------------------

// Filter narrows an aircraft snapshot to a fleet or an area.
type Filter struct {
	// ICAO24 lists the transponder addresses of the fleet.
	ICAO24 []string

	// RegistrationPrefixes matches tail numbers, e.g. "F-ZB" for the
	// French water bomber fleet.
	RegistrationPrefixes []string

	// BoundingBox filters by last fix [minLat, maxLat, minLon, maxLon].
	BoundingBox *[4]float64
}

// Empty reports whether no criterion is set.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.ICAO24) == 0 && len(f.RegistrationPrefixes) == 0 && f.BoundingBox == nil)
}

// Matches checks if an aircraft passes the filter. Set criteria are combined
// with OR logic; an empty filter matches everything.
func (f *Filter) Matches(fix *models.AircraftFix) bool {
	if f.Empty() {
		return true
	}

	if len(f.ICAO24) > 0 {
		icao := models.NormalizeICAO(fix.ICAO24)
		for _, want := range f.ICAO24 {
			if models.NormalizeICAO(want) == icao {
				return true
			}
		}
	}

	if len(f.RegistrationPrefixes) > 0 {
		reg := strings.ToUpper(strings.TrimSpace(fix.Registration))
		for _, prefix := range f.RegistrationPrefixes {
			if prefix != "" && strings.HasPrefix(reg, strings.ToUpper(prefix)) {
				return true
			}
		}
	}

	if f.BoundingBox != nil && fix.HasPosition() {
		lat, lon := fix.Latitude.Value, fix.Longitude.Value
		bb := f.BoundingBox
		if lat >= bb[0] && lat <= bb[1] && lon >= bb[2] && lon <= bb[3] {
			return true
		}
	}

	return false
}

// Apply returns the aircraft that match the filter.
func (f *Filter) Apply(fixes []models.AircraftFix) []models.AircraftFix {
	if f.Empty() {
		return fixes
	}
	out := make([]models.AircraftFix, 0, len(fixes))
	for i := range fixes {
		if f.Matches(&fixes[i]) {
			out = append(out, fixes[i])
		}
	}
	return out
}
