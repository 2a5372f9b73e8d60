// Package api exposes the reconciled state over HTTP JSON and a WebSocket
// request/response channel.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/altitude"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/display"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/ingestion"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/logging"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/memwatch"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/metrics"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/publish"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/reconcile"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/region"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/track"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

const maxBodyBytes = 4 << 10

// Poller is the reconciler surface the API reads and steers.
// *reconcile.Reconciler implements it.
type Poller interface {
	Store() *reconcile.Store
	View() reconcile.View
	SetView(reconcile.View) bool
	Stats() reconcile.Stats
	IsRunning() bool
}

// Options carries the optional collaborators of a Server. Nil fields are
// left out of stats and health.
type Options struct {
	Mode      altitude.Mode
	Regions   *region.Set
	Ingestion *ingestion.Metrics
	Publisher *publish.Publisher
	Memory    *memwatch.Monitor
	Logger    *logging.Logger
	Version   string
}

// Server serves the presentation endpoints.
type Server struct {
	poller Poller
	opts   Options
	log    *logging.Logger
	now    func() time.Time

	startTime time.Time
	upgrader  websocket.Upgrader
	sessions  atomic.Int64
}

// New creates a server over p.
func New(p Poller, opts Options) *Server {
	if opts.Mode == "" {
		opts.Mode = altitude.Dark
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		poller:    p,
		opts:      opts,
		log:       opts.Logger,
		now:       time.Now,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Health endpoints
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/frame", s.handleFrame)
		r.Get("/aircraft", s.handleAircraft)
		r.Get("/aircraft/{icao24}", s.handleAircraftByID)
		r.Get("/aircraft/{icao24}/segments", s.handleSegments)
		r.Get("/regions", s.handleRegions)
		r.Get("/view", s.handleGetView)
		r.Put("/view", s.handlePutView)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPRequests.Inc()
		metrics.ActiveConnections.Inc()
		defer metrics.ActiveConnections.Dec()

		next.ServeHTTP(w, r)

		metrics.HTTPLatency.Observe(time.Since(start).Seconds())
	})
}

// ---------------------------------------------------------------------------
// Health Handlers
// ---------------------------------------------------------------------------

// ready is true once a cycle has been applied and memory is not in
// emergency.
func (s *Server) ready() bool {
	if s.poller.Store().Load().Seq == 0 {
		return false
	}
	if s.opts.Memory != nil && s.opts.Memory.State() == memwatch.StateEmergency {
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.poller.Store().Load()
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
		"version":   s.opts.Version,
		"seq":       st.Seq,
	}

	switch {
	case !s.ready():
		health["status"] = "starting"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(health)
		return
	case st.AircraftStale || st.RegionsStale:
		health["status"] = "degraded"
	}
	respondJSON(w, health)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("alive"))
}

// ---------------------------------------------------------------------------
// API Handlers
// ---------------------------------------------------------------------------

func (s *Server) mode(r *http.Request) altitude.Mode {
	if m := r.URL.Query().Get("mode"); m != "" {
		return altitude.ParseMode(m)
	}
	return s.opts.Mode
}

// frame renders the current state and records the frame gauges.
func (s *Server) frame(mode altitude.Mode) display.Frame {
	f := display.Build(s.poller.Store().Load(), s.opts.Regions, s.now(), mode)
	display.Record(&f)
	return f
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	f := s.frame(s.mode(r))
	respondJSON(w, f)
}

func (s *Server) handleAircraft(w http.ResponseWriter, r *http.Request) {
	f := s.frame(s.mode(r))
	respondJSON(w, map[string]interface{}{
		"seq":      f.Seq,
		"stale":    f.Stale,
		"count":    len(f.Aircraft),
		"aircraft": f.WithoutSegments(),
	})
}

func (s *Server) handleAircraftByID(w http.ResponseWriter, r *http.Request) {
	icao := models.NormalizeICAO(chi.URLParam(r, "icao24"))
	fix, ok := s.poller.Store().Load().Aircraft[icao]
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("aircraft %s not tracked", icao))
		return
	}
	respondJSON(w, display.View(fix, s.now(), s.mode(r)))
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	icao := models.NormalizeICAO(chi.URLParam(r, "icao24"))
	st := s.poller.Store().Load()
	if _, ok := st.Aircraft[icao]; !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("aircraft %s not tracked", icao))
		return
	}
	mode := s.mode(r)
	segs := track.Segments(st.History[icao], mode)
	respondJSON(w, map[string]interface{}{
		"icao24":   icao,
		"mode":     string(mode),
		"points":   len(st.History[icao]),
		"segments": segs,
	})
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	shapes := s.opts.Regions.Shapes(s.poller.Store().Load().Regions)
	w.Header().Set("Content-Type", "application/geo+json")
	json.NewEncoder(w).Encode(region.FeatureCollection(shapes))
}

// viewBody is the JSON form of a reconcile.View.
type viewBody struct {
	Selection string `json:"selection"`
	Window    string `json:"window"`
	Changed   bool   `json:"changed,omitempty"`
}

func toViewBody(v reconcile.View) viewBody {
	return viewBody{Selection: string(v.Selection), Window: v.Window.String()}
}

// parseView applies the non-empty fields of b on top of cur.
func parseView(b viewBody, cur reconcile.View) (reconcile.View, error) {
	next := cur
	if b.Selection != "" {
		sel := strings.ToLower(strings.TrimSpace(b.Selection))
		if sel != string(models.SelectionActive) && sel != string(models.SelectionAll) {
			return cur, fmt.Errorf("selection %q is not one of active, all", b.Selection)
		}
		next.Selection = models.Selection(sel)
	}
	if b.Window != "" {
		d, err := time.ParseDuration(b.Window)
		if err != nil {
			return cur, fmt.Errorf("window: %w", err)
		}
		if d <= 0 {
			return cur, errors.New("window must be positive")
		}
		next.Window = d
	}
	return next, nil
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, toViewBody(s.poller.View()))
}

func (s *Server) handlePutView(w http.ResponseWriter, r *http.Request) {
	var b viewBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&b); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	v, err := parseView(b, s.poller.View())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	changed := s.poller.SetView(v)

	out := toViewBody(s.poller.View())
	out.Changed = changed
	respondJSON(w, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.poller.Store().Load()
	hits, misses := s.opts.Regions.CacheStats()

	stats := map[string]interface{}{
		"reconciler": map[string]interface{}{
			"running":        s.poller.IsRunning(),
			"view":           s.poller.View().String(),
			"cycles":         s.poller.Stats(),
			"aircraft":       len(st.Order),
			"history":        len(st.History),
			"regions":        len(st.Regions),
			"aircraft_stale": st.AircraftStale,
			"regions_stale":  st.RegionsStale,
			"fetched_at":     st.FetchedAt,
		},
		"regions": map[string]interface{}{
			"cache_hits":   hits,
			"cache_misses": misses,
		},
		"runtime": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"gomaxprocs": runtime.GOMAXPROCS(0),
			"uptime":     time.Since(s.startTime).String(),
			"websockets": s.sessions.Load(),
		},
	}
	if s.opts.Ingestion != nil {
		stats["ingestion"] = s.opts.Ingestion.Snapshot()
	}
	if s.opts.Publisher != nil {
		stats["publisher"] = s.opts.Publisher.Stats()
	}
	if s.opts.Memory != nil {
		stats["memory"] = s.opts.Memory.Stats()
	}

	respondJSON(w, stats)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
