package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/ingestion"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/logging"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/metrics"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

const (
	defaultInterval   = 5 * time.Second
	defaultMinSpacing = time.Second
	defaultWorkers    = 8
)

// AircraftSource returns the aircraft snapshot for a selection and window.
type AircraftSource interface {
	FetchAircraft(ctx context.Context, sel models.Selection, w models.Window) ([]models.AircraftFix, error)
}

// HistorySource returns one aircraft's telemetry inside a window, oldest
// first.
type HistorySource interface {
	FetchHistory(ctx context.Context, icao24 string, w models.Window) ([]models.HistoryPoint, error)
}

// RegionSource returns the regions of interest at a nesting level.
type RegionSource interface {
	FetchRegions(ctx context.Context, level int) ([]models.RegionOfInterest, error)
}

// Sources groups the three upstream feeds. *ingestion.Client implements all
// of them.
type Sources struct {
	Aircraft AircraftSource
	History  HistorySource
	Regions  RegionSource
}

// Matcher narrows the aircraft snapshot. *ingestion.Filter implements it.
type Matcher interface {
	Matches(fix *models.AircraftFix) bool
}

// Config configures the reconciler.
type Config struct {
	// Interval between timer-driven cycles.
	Interval time.Duration
	// MinSpacing is the minimum gap between any two cycle starts.
	MinSpacing time.Duration
	// RegionLevel selects which regions are fetched.
	RegionLevel int
	// Workers bounds concurrent history fetches within a cycle.
	Workers int
	// View is the initial selection and window.
	View View
	// Filter, when set, drops aircraft that do not match.
	Filter Matcher
}

// DefaultConfig returns a 5 s poll of active aircraft over the last hour.
func DefaultConfig() Config {
	return Config{
		Interval:    defaultInterval,
		MinSpacing:  defaultMinSpacing,
		RegionLevel: models.ActiveRegionLevel,
		Workers:     defaultWorkers,
		View:        DefaultView(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MinSpacing < 0 {
		c.MinSpacing = 0
	}
	if c.RegionLevel == 0 {
		c.RegionLevel = d.RegionLevel
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	c.View = c.View.normalized()
	return c
}

// Stats counts cycles since start.
type Stats struct {
	Started   int64  `json:"started"`
	Applied   int64  `json:"applied"`
	Discarded int64  `json:"discarded"`
	Failed    int64  `json:"failed"`
	LastSeq   uint64 `json:"last_seq"`
}

// Reconciler polls the sources on a fixed cadence and on view changes, and
// applies each cycle to a Store.
type Reconciler struct {
	src     Sources
	config  Config
	store   *Store
	limiter *ingestion.RateLimiter
	log     *logging.Logger
	now     func() time.Time

	seq      atomic.Uint64
	trigger  chan struct{}
	inflight sync.WaitGroup

	started   atomic.Int64
	applied   atomic.Int64
	discarded atomic.Int64
	failed    atomic.Int64

	viewMu sync.RWMutex
	view   View

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a reconciler that writes into store.
func New(cfg Config, src Sources, store *Store, log *logging.Logger) *Reconciler {
	cfg = cfg.withDefaults()
	return &Reconciler{
		src:     src,
		config:  cfg,
		store:   store,
		limiter: ingestion.NewRateLimiter(cfg.MinSpacing),
		log:     log,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		view:    cfg.View,
	}
}

// Store returns the store cycles are applied to.
func (r *Reconciler) Store() *Store {
	return r.store
}

// View returns the current selection and window.
func (r *Reconciler) View() View {
	r.viewMu.RLock()
	defer r.viewMu.RUnlock()
	return r.view
}

// SetView changes the selection and window. When the view actually changes
// an immediate cycle is requested and true is returned.
func (r *Reconciler) SetView(v View) bool {
	v = v.normalized()

	r.viewMu.Lock()
	changed := v != r.view
	r.view = v
	r.viewMu.Unlock()

	if changed {
		r.log.Info("view changed", "view", v.String())
		r.Trigger()
	}
	return changed
}

// Trigger requests a cycle ahead of the timer. Requests made while one is
// already pending are coalesced.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stats returns cycle counters.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Started:   r.started.Load(),
		Applied:   r.applied.Load(),
		Discarded: r.discarded.Load(),
		Failed:    r.failed.Load(),
		LastSeq:   r.store.Load().Seq,
	}
}

// Start begins polling. Non-blocking.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reconciler already running")
	}
	if r.src.Aircraft == nil || r.src.History == nil || r.src.Regions == nil {
		return fmt.Errorf("reconciler: missing source")
	}
	r.running = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
	return nil
}

// Stop halts polling and waits for in-flight cycles to return.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// IsRunning returns whether the poll loop is active.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// run owns the ticker and the trigger channel. Each cycle runs on its own
// goroutine, so a slow cycle never delays the next tick.
func (r *Reconciler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer r.inflight.Wait()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.launch(ctx)
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if r.done == done {
				r.running = false
			}
			r.mu.Unlock()
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		r.launch(ctx)
	}
}

func (r *Reconciler) launch(ctx context.Context) {
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		r.PollOnce(ctx)
	}()
}

// PollOnce runs one full cycle synchronously and returns the store's state
// afterwards. The error reports a failed aircraft fetch; the cycle is still
// applied with the previous aircraft carried over.
func (r *Reconciler) PollOnce(ctx context.Context) (*State, error) {
	seq := r.seq.Add(1)
	r.started.Add(1)

	view := r.View()
	start := r.now()
	c := Cycle{
		Seq:       seq,
		View:      view,
		Window:    models.TrailingWindow(start, view.Window),
		StartedAt: start,
	}

	var g errgroup.Group
	g.Go(func() error {
		c.Aircraft, c.AircraftErr = r.fetchAircraft(ctx, view.Selection, c.Window)
		return nil
	})
	g.Go(func() error {
		c.Regions, c.RegionErr = r.src.Regions.FetchRegions(ctx, r.config.RegionLevel)
		return nil
	})
	g.Wait()

	if c.AircraftErr == nil {
		c.History = r.fetchHistory(ctx, c.Aircraft, c.Window)
	}
	if ctx.Err() != nil {
		// Shutting down; a half-fetched cycle is not applied.
		return r.store.Load(), ctx.Err()
	}
	if c.AircraftErr != nil {
		r.failed.Add(1)
		r.log.Warn("aircraft fetch failed, keeping previous aircraft", "seq", seq, "error", c.AircraftErr)
	}
	if c.RegionErr != nil {
		r.log.Warn("region fetch failed, keeping previous regions", "seq", seq, "error", c.RegionErr)
	}

	st, applied := r.store.Apply(c)
	metrics.ReconcileLatency.Observe(time.Since(start).Seconds())
	if !applied {
		r.discarded.Add(1)
		metrics.ReconcileCycles.WithLabelValues(metrics.OutcomeStale).Inc()
		r.log.Debug("discarding stale cycle", "seq", seq, "current", st.Seq)
		return st, c.AircraftErr
	}

	r.applied.Add(1)
	metrics.ReconcileCycles.WithLabelValues(metrics.OutcomeApplied).Inc()
	metrics.ReconcileSeq.Set(float64(st.Seq))
	metrics.TrackedAircraft.Set(float64(len(st.Aircraft)))
	metrics.HistoryAircraft.Set(float64(len(st.History)))
	r.log.Debug("cycle applied",
		"seq", st.Seq,
		"view", st.View.String(),
		"aircraft", len(st.Aircraft),
		"history", len(st.History),
		"regions", len(st.Regions),
		"took", time.Since(start))
	return st, c.AircraftErr
}

func (r *Reconciler) fetchAircraft(ctx context.Context, sel models.Selection, w models.Window) ([]models.AircraftFix, error) {
	fixes, err := r.src.Aircraft.FetchAircraft(ctx, sel, w)
	if err != nil {
		return nil, err
	}
	if r.config.Filter == nil {
		return fixes, nil
	}
	out := make([]models.AircraftFix, 0, len(fixes))
	for i := range fixes {
		if r.config.Filter.Matches(&fixes[i]) {
			out = append(out, fixes[i])
		}
	}
	return out, nil
}

// fetchHistory fetches every aircraft's history concurrently. A failed fetch
// is logged and leaves that aircraft out of the result.
func (r *Reconciler) fetchHistory(ctx context.Context, fixes []models.AircraftFix, w models.Window) map[string][]models.HistoryPoint {
	var (
		mu  sync.Mutex
		out = make(map[string][]models.HistoryPoint, len(fixes))
	)

	var g errgroup.Group
	g.SetLimit(r.config.Workers)

	seen := make(map[string]bool, len(fixes))
	for _, fix := range fixes {
		icao := models.NormalizeICAO(fix.ICAO24)
		if icao == "" || seen[icao] {
			continue
		}
		seen[icao] = true

		g.Go(func() error {
			points, err := r.src.History.FetchHistory(ctx, icao, w)
			if err != nil {
				metrics.HistoryFailures.Inc()
				r.log.Warn("history fetch failed", "icao24", icao, "error", err)
				return nil
			}
			mu.Lock()
			out[icao] = points
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}
