package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/api"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/config"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/ingestion"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/logging"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/memwatch"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/publish"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/reconcile"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/region"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

var version = "dev"

// App holds all application components.
type App struct {
	config     *config.Config
	log        *logging.Logger
	client     *ingestion.Client
	reconciler *reconcile.Reconciler
	regions    *region.Set
	publisher  *publish.Publisher
	memory     *memwatch.Monitor
	server     *http.Server
}

// NewApp wires the components described by cfg.
func NewApp(cfg *config.Config, log *logging.Logger) *App {
	client := ingestion.NewClient(
		ingestion.WithBaseURLOption(cfg.API.BaseURL),
		ingestion.WithAPIKey(cfg.API.APIKey),
		ingestion.WithTimeout(cfg.API.Timeout),
		ingestion.WithRetry(cfg.API.Retries, 250*time.Millisecond),
		ingestion.WithHistoryLimit(cfg.API.HistoryLimit),
		ingestion.WithTimestampUnit(models.TimestampUnit(cfg.API.TimestampUnit)),
		ingestion.WithLogger(log.With("component", "ingestion")),
	)

	store := reconcile.NewStore()
	src := reconcile.Sources{Aircraft: client, History: client, Regions: client}

	app := &App{
		config:     cfg,
		log:        log,
		client:     client,
		reconciler: reconcile.New(cfg.Reconcile(), src, store, log.With("component", "reconcile")),
		regions:    region.NewSet(cfg.Regions.CacheSize, cfg.Regions.CacheTTL, log.With("component", "region")),
		memory:     memwatch.New(cfg.MemoryLimits(), log.With("component", "memwatch")),
	}

	if cfg.Kafka.Enabled {
		w := publish.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		app.publisher = publish.NewPublisher(w, cfg.Mode(), log.With("component", "publish"))
		store.OnApply(app.publisher.Notify)
	}

	// Drop decoded region shapes under memory pressure.
	app.memory.AddListener(func(_, to memwatch.State, _ memwatch.Stats) {
		if to >= memwatch.StateCritical {
			app.regions.Purge()
		}
	})

	srv := api.New(app.reconciler, api.Options{
		Mode:      cfg.Mode(),
		Regions:   app.regions,
		Ingestion: client.Metrics(),
		Publisher: app.publisher,
		Memory:    app.memory,
		Logger:    log.With("component", "api"),
		Version:   version,
	})
	app.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Addr, cfg.HTTP.Port),
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return app
}

// Run starts every component and blocks until ctx is done or the HTTP
// server fails.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("aerohydra starting",
		"version", version,
		"api", a.config.API.BaseURL,
		"addr", a.server.Addr,
		"poll", a.config.Poll.Interval.String(),
		"view", a.reconciler.View().String(),
		"kafka", a.config.Kafka.Enabled)

	a.config.Runtime.Apply()
	a.memory.Start(ctx)
	defer a.memory.Stop()

	if err := a.reconciler.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveHTTP(gctx) })
	if a.publisher != nil {
		g.Go(func() error { return a.publisher.Run(gctx) })
	}

	<-gctx.Done()
	a.log.Info("shutting down")
	a.reconciler.Stop()
	return g.Wait()
}

func (a *App) serveHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server listening", "addr", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("HTTP server shutdown error", "error", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	configPath := flag.String("config", os.Getenv("AEROHYDRA_CONFIG"), "path to a YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aerohydra: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, Dir: cfg.Log.Dir, JSON: cfg.Log.JSON})

	app := NewApp(cfg, log)
	if err := app.Run(ctx); err != nil {
		log.Error("application error", "error", err)
		os.Exit(1)
	}
	log.Info("aerohydra stopped")
}
