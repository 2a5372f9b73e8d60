package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/altitude"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/logging"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/reconcile"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

var now = time.Unix(1700000000, 0)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	err     error
	closed  bool
	wrote   chan struct{}
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{wrote: make(chan struct{}, 16)}
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer func() {
		f.mu.Unlock()
		f.wrote <- struct{}{}
	}()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, msgs)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) Batches() [][]kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]kafka.Message(nil), f.batches...)
}

func state(seq uint64, icaos ...string) *reconcile.State {
	fixes := make([]models.AircraftFix, len(icaos))
	for i, icao := range icaos {
		fixes[i] = models.AircraftFix{
			ICAO24:        icao,
			Latitude:      models.Some(43.5),
			Longitude:     models.Some(5.5),
			Heading:       models.Some(90),
			SpeedKph:      models.Some(200),
			AGLAltitudeFt: models.Some(2000),
			Timestamp:     models.Some(float64(now.Unix() - 30)),
		}
	}
	return reconcile.Reduce(nil, reconcile.Cycle{
		Seq:       seq,
		View:      reconcile.DefaultView(),
		StartedAt: now,
		Aircraft:  fixes,
	})
}

func TestBuildMessages(t *testing.T) {
	msgs, err := BuildMessages(state(3, "AAAAAA", "bbbbbb"), now, altitude.Dark)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "aaaaaa", string(msgs[0].Key))
	assert.Equal(t, "bbbbbb", string(msgs[1].Key))
	require.Len(t, msgs[0].Headers, 1)
	assert.Equal(t, SeqHeader, msgs[0].Headers[0].Key)
	assert.Equal(t, "3", string(msgs[0].Headers[0].Value))

	var env struct {
		Seq       uint64 `json:"seq"`
		Selection string `json:"selection"`
		Aircraft  struct {
			ICAO24   string `json:"icao24"`
			Position struct {
				Lon       float64 `json:"lon"`
				Projected bool    `json:"projected"`
			} `json:"position"`
			Segments []any `json:"segments"`
		} `json:"aircraft"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Value, &env))
	assert.Equal(t, uint64(3), env.Seq)
	assert.Equal(t, "active", env.Selection)
	assert.Equal(t, "aaaaaa", env.Aircraft.ICAO24)
	assert.True(t, env.Aircraft.Position.Projected)
	assert.Greater(t, env.Aircraft.Position.Lon, 5.5)
	assert.Nil(t, env.Aircraft.Segments)
}

func TestBuildMessagesEmpty(t *testing.T) {
	msgs, err := BuildMessages(reconcile.Empty(), now, altitude.Dark)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPublish(t *testing.T) {
	w := newFakeWriter()
	p := NewPublisher(w, altitude.Dark, logging.Discard())
	p.now = func() time.Time { return now }

	n := p.Publish(context.Background(), state(1, "aaaaaa"))
	assert.Equal(t, 1, n)
	require.Len(t, w.Batches(), 1)

	w.err = errors.New("broker down")
	n = p.Publish(context.Background(), state(2, "aaaaaa"))
	assert.Zero(t, n)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.States)
	assert.Equal(t, int64(1), stats.Messages)
	assert.Equal(t, int64(1), stats.Errors)
}

func TestNotifySkipsStaleAndOld(t *testing.T) {
	p := NewPublisher(newFakeWriter(), altitude.Dark, logging.Discard())

	p.Notify(nil)
	stale := reconcile.Reduce(state(1, "aaaaaa"), reconcile.Cycle{Seq: 2, AircraftErr: errors.New("timeout")})
	p.Notify(stale)

	p.Notify(state(5, "aaaaaa"))
	p.Notify(state(4, "aaaaaa"))
	p.Notify(state(6, "aaaaaa"))

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Skipped)
	assert.Equal(t, int64(1), stats.Coalesced)
	assert.Equal(t, uint64(6), p.pending.Seq)
}

func TestRunPublishesAppliedStates(t *testing.T) {
	w := newFakeWriter()
	p := NewPublisher(w, altitude.Light, logging.Discard())

	store := reconcile.NewStore()
	store.OnApply(p.Notify)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	store.Apply(reconcile.Cycle{
		Seq:       1,
		View:      reconcile.DefaultView(),
		StartedAt: now,
		Aircraft:  []models.AircraftFix{{ICAO24: "abc123"}, {ICAO24: "def456"}},
	})

	select {
	case <-w.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("state was not published")
	}

	cancel()
	require.NoError(t, <-done)

	batches := w.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
	assert.True(t, w.closed)
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "aircraft")
	assert.Equal(t, "aircraft", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	assert.NoError(t, w.Close())
}
