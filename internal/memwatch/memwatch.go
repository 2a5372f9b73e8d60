// Package memwatch samples heap usage against configured limits and notifies
// listeners when the pressure level changes.
package memwatch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/logging"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/metrics"
)

const DefaultInterval = 5 * time.Second

// ---------------------------------------------------------------------------
// Pressure levels
// ---------------------------------------------------------------------------

// State is the memory pressure level.
type State int

const (
	// StateNormal - below 80% of the soft limit
	StateNormal State = iota

	// StateWarning - approaching the soft limit
	StateWarning

	// StateCritical - at or above the soft limit
	StateCritical

	// StateEmergency - within 5% of the hard limit
	StateEmergency
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateWarning:
		return "warning"
	case StateCritical:
		return "critical"
	case StateEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Limits configures the monitor. A zero SoftMB disables classification and
// the monitor always reports StateNormal.
type Limits struct {
	SoftMB   int
	HardMB   int
	Interval time.Duration
}

// Classify maps a heap size to a pressure level.
func Classify(heapBytes uint64, l Limits) State {
	if l.SoftMB <= 0 {
		return StateNormal
	}
	heap := float64(heapBytes)
	soft := float64(l.SoftMB) * 1024 * 1024
	hard := float64(l.HardMB) * 1024 * 1024

	switch {
	case l.HardMB > 0 && heap >= hard*0.95:
		return StateEmergency
	case heap >= soft:
		return StateCritical
	case heap >= soft*0.8:
		return StateWarning
	default:
		return StateNormal
	}
}

// ---------------------------------------------------------------------------
// Monitor
// ---------------------------------------------------------------------------

// Stats is the latest sample.
type Stats struct {
	Heap       string    `json:"heap"`
	Sys        string    `json:"sys"`
	HeapBytes  uint64    `json:"heap_bytes"`
	NumGC      uint32    `json:"num_gc"`
	State      State     `json:"state"`
	UsageRatio float64   `json:"usage_ratio"` // of the soft limit
	SampledAt  time.Time `json:"sampled_at"`
}

// Listener is called when the pressure level changes.
type Listener func(from, to State, stats Stats)

// Monitor samples runtime memory statistics on an interval.
type Monitor struct {
	limits Limits
	log    *logging.Logger

	mu        sync.RWMutex
	state     State
	stats     Stats
	listeners []Listener

	// Fast path checks
	critical atomic.Bool

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	// read is swapped in tests.
	read func() runtime.MemStats
}

// New creates a monitor. It does not sample until Start or Check is called.
func New(l Limits, log *logging.Logger) *Monitor {
	if l.Interval <= 0 {
		l.Interval = DefaultInterval
	}
	return &Monitor{
		limits: l,
		log:    log,
		read: func() runtime.MemStats {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms
		},
	}
}

// AddListener registers a callback for level changes.
func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start samples once and then on every interval until ctx is done or Stop
// is called.
func (m *Monitor) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.Check()
	go m.loop(ctx, m.done)
}

// Stop halts sampling and waits for the loop to exit.
func (m *Monitor) Stop() {
	if !m.running.Swap(false) {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsCritical reports whether the last sample was critical or worse.
func (m *Monitor) IsCritical() bool {
	return m.critical.Load()
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.limits.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check takes one sample, updates the level and notifies listeners if it
// changed. It returns the new sample.
func (m *Monitor) Check() Stats {
	ms := m.read()
	state := Classify(ms.HeapAlloc, m.limits)

	var ratio float64
	if m.limits.SoftMB > 0 {
		ratio = float64(ms.HeapAlloc) / (float64(m.limits.SoftMB) * 1024 * 1024)
	}
	stats := Stats{
		Heap:       humanize.IBytes(ms.HeapAlloc),
		Sys:        humanize.IBytes(ms.Sys),
		HeapBytes:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		State:      state,
		UsageRatio: ratio,
		SampledAt:  time.Now(),
	}

	m.mu.Lock()
	old := m.state
	m.state = state
	m.stats = stats
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.critical.Store(state >= StateCritical)
	metrics.MemoryState.Set(float64(state))

	if old != state {
		metrics.MemoryTransitions.Inc()
		m.log.Warn("memory state changed", "from", old.String(), "to", state.String(), "heap", stats.Heap, "ratio", ratio)
		for _, l := range listeners {
			l(old, state, stats)
		}
		if state == StateEmergency {
			runtime.GC()
		}
	}
	return stats
}
