// Package reconcile merges polled aircraft, history and region snapshots into
// an immutable, renderable State.
package reconcile

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

// DefaultWindow is the trailing lookback used when a view does not set one.
const DefaultWindow = time.Hour

// View is the operator's current selection: which aircraft to fetch and how
// far back history and activity reach.
type View struct {
	Selection models.Selection
	Window    time.Duration
}

// DefaultView returns active aircraft over the last hour.
func DefaultView() View {
	return View{Selection: models.SelectionActive, Window: DefaultWindow}
}

func (v View) normalized() View {
	if v.Selection != models.SelectionAll {
		v.Selection = models.SelectionActive
	}
	if v.Window <= 0 {
		v.Window = DefaultWindow
	}
	return v
}

func (v View) String() string {
	return fmt.Sprintf("%s/%s", v.Selection, v.Window)
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is one consistent snapshot. A State is never mutated once it has
// been published; a new cycle always produces a new State.
type State struct {
	Seq       uint64
	View      View
	Window    models.Window
	FetchedAt time.Time

	// Aircraft is keyed by lower-case ICAO24; Order preserves the order in
	// which the source listed them.
	Aircraft map[string]models.AircraftFix
	Order    []string
	Regions  []models.RegionOfInterest
	History  map[string][]models.HistoryPoint

	// AircraftStale and RegionsStale are set when the latest cycle failed to
	// fetch that source and the previous data was carried over.
	AircraftStale bool
	RegionsStale  bool
}

// Empty returns the zero state with initialized maps.
func Empty() *State {
	return &State{
		View:     DefaultView(),
		Aircraft: map[string]models.AircraftFix{},
		History:  map[string][]models.HistoryPoint{},
	}
}

// Fixes returns the aircraft in source order.
func (s *State) Fixes() []models.AircraftFix {
	out := make([]models.AircraftFix, 0, len(s.Order))
	for _, icao := range s.Order {
		out = append(out, s.Aircraft[icao])
	}
	return out
}

// Cycle is the raw outcome of one poll: whatever each source returned, or
// the error it failed with.
type Cycle struct {
	Seq       uint64
	View      View
	Window    models.Window
	StartedAt time.Time

	Aircraft    []models.AircraftFix
	AircraftErr error

	Regions   []models.RegionOfInterest
	RegionErr error

	// History holds one entry per aircraft whose history fetch succeeded.
	History map[string][]models.HistoryPoint
}

// Reduce folds a cycle into the previous state and returns the next state.
// It never modifies prev or c.
//
// A cycle whose sequence number is not newer than prev is discarded and prev
// is returned unchanged. If the aircraft fetch failed the previous aircraft
// and history are kept; if the region fetch failed the previous regions are
// kept. Otherwise history is rebuilt only for aircraft present in this cycle.
func Reduce(prev *State, c Cycle) *State {
	if prev == nil {
		prev = Empty()
	}
	if c.Seq <= prev.Seq {
		return prev
	}

	next := &State{
		Seq:       c.Seq,
		View:      c.View.normalized(),
		Window:    c.Window,
		FetchedAt: c.StartedAt,
	}

	if c.AircraftErr != nil {
		next.View = prev.View
		next.Window = prev.Window
		next.Aircraft = prev.Aircraft
		next.Order = prev.Order
		next.History = prev.History
		next.AircraftStale = true
	} else {
		next.Aircraft = make(map[string]models.AircraftFix, len(c.Aircraft))
		next.Order = make([]string, 0, len(c.Aircraft))
		for _, fix := range c.Aircraft {
			icao := models.NormalizeICAO(fix.ICAO24)
			if icao == "" {
				continue
			}
			fix.ICAO24 = icao
			if _, seen := next.Aircraft[icao]; !seen {
				next.Order = append(next.Order, icao)
			}
			next.Aircraft[icao] = fix
		}

		next.History = make(map[string][]models.HistoryPoint, len(next.Order))
		for icao, points := range c.History {
			icao = models.NormalizeICAO(icao)
			if _, ok := next.Aircraft[icao]; ok {
				next.History[icao] = points
			}
		}
	}

	if c.RegionErr != nil {
		next.Regions = prev.Regions
		next.RegionsStale = true
	} else {
		next.Regions = c.Regions
		if next.Regions == nil {
			next.Regions = []models.RegionOfInterest{}
		}
	}

	return next
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store holds the current State and publishes replacements atomically.
// Readers call Load and never see a partially applied cycle.
type Store struct {
	current atomic.Pointer[State]

	mu        sync.Mutex
	listeners []func(*State)
}

// NewStore creates a store holding the empty state.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(Empty())
	return s
}

// Load returns the current state.
func (s *Store) Load() *State {
	return s.current.Load()
}

// Apply reduces c into the current state. The boolean is false when the
// cycle was stale and nothing changed.
func (s *Store) Apply(c Cycle) (*State, bool) {
	for {
		prev := s.current.Load()
		next := Reduce(prev, c)
		if next == prev {
			return prev, false
		}
		if s.current.CompareAndSwap(prev, next) {
			s.notify(next)
			return next, true
		}
	}
}

// OnApply registers fn to be called after every applied cycle. Listeners
// run synchronously on the applying goroutine.
func (s *Store) OnApply(fn func(*State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(st *State) {
	s.mu.Lock()
	listeners := make([]func(*State), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}
