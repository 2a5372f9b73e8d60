package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/config"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/logging"
)

func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.API.APIKey = "secret"
	cfg.API.BaseURL = apiURL
	cfg.HTTP.Addr = "127.0.0.1"
	cfg.HTTP.Port = 18089
	cfg.Poll.Interval = 50 * time.Millisecond
	cfg.Poll.MinSpacing = 10 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestNewAppWiring(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	app := NewApp(cfg, logging.Discard())
	assert.Nil(t, app.publisher)
	assert.Equal(t, "127.0.0.1:18089", app.server.Addr)

	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = []string{"127.0.0.1:9092"}
	app = NewApp(cfg, logging.Discard())
	assert.NotNil(t, app.publisher)
}

func TestRunAppliesCyclesAndStops(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		switch r.URL.Path {
		case "/aircraft/active":
			w.Write([]byte(`[{"icao24":"3B7B9A","last_lat":43.5,"last_lon":5.5}]`))
		case "/roi":
			w.Write([]byte(`[]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer upstream.Close()

	app := NewApp(testConfig(t, upstream.URL), logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return app.reconciler.Store().Load().Seq > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := app.reconciler.Store().Load().Aircraft["3b7b9a"]
	assert.True(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.False(t, app.reconciler.IsRunning())
}
