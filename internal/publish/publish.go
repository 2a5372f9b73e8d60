// Package publish streams reconciled aircraft state to Kafka, one message per
// aircraft per applied cycle, keyed by ICAO24.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/altitude"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/display"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/logging"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/metrics"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/reconcile"
)

const (
	SeqHeader           = "seq"
	DefaultWriteTimeout = 10 * time.Second
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer that hashes keys so each aircraft always
// lands on the same partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Envelope is the JSON value of one message.
type Envelope struct {
	Seq       uint64               `json:"seq"`
	FetchedAt time.Time            `json:"fetched_at"`
	Selection string               `json:"selection"`
	Aircraft  display.AircraftView `json:"aircraft"`
}

// BuildMessages encodes every aircraft of st at now. Positions are projected
// the same way the map draws them; segments are not included.
func BuildMessages(st *reconcile.State, now time.Time, mode altitude.Mode) ([]kafka.Message, error) {
	fixes := st.Fixes()
	seq := []byte(strconv.FormatUint(st.Seq, 10))
	msgs := make([]kafka.Message, 0, len(fixes))

	for _, fix := range fixes {
		value, err := json.Marshal(Envelope{
			Seq:       st.Seq,
			FetchedAt: st.FetchedAt,
			Selection: string(st.View.Selection),
			Aircraft:  display.View(fix, now, mode),
		})
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", fix.ICAO24, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(fix.ICAO24),
			Value:   value,
			Time:    now,
			Headers: []kafka.Header{{Key: SeqHeader, Value: seq}},
		})
	}
	return msgs, nil
}

// ---------------------------------------------------------------------------
// Publisher
// ---------------------------------------------------------------------------

// PublisherStats counts publisher activity.
type PublisherStats struct {
	States    int64 `json:"states"`
	Skipped   int64 `json:"skipped"`
	Messages  int64 `json:"messages"`
	Errors    int64 `json:"errors"`
	Coalesced int64 `json:"coalesced"`
}

// Publisher writes applied states in the background. Notify never blocks:
// if a state is still waiting when a newer one arrives, the older one is
// replaced.
type Publisher struct {
	w       Writer
	log     *logging.Logger
	mode    altitude.Mode
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending *reconcile.State
	lastSeq uint64
	wake    chan struct{}

	states    atomic.Int64
	skipped   atomic.Int64
	messages  atomic.Int64
	errors    atomic.Int64
	coalesced atomic.Int64
}

// NewPublisher creates a publisher over w.
func NewPublisher(w Writer, mode altitude.Mode, log *logging.Logger) *Publisher {
	return &Publisher{
		w:       w,
		log:     log,
		mode:    mode,
		timeout: DefaultWriteTimeout,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Notify queues st for publishing. It is meant to be registered with
// Store.OnApply. States whose aircraft fetch failed carry no new positions
// and are skipped.
func (p *Publisher) Notify(st *reconcile.State) {
	if st == nil || st.AircraftStale {
		p.skipped.Add(1)
		return
	}

	p.mu.Lock()
	if st.Seq <= p.lastSeq || (p.pending != nil && st.Seq <= p.pending.Seq) {
		p.mu.Unlock()
		p.skipped.Add(1)
		return
	}
	if p.pending != nil {
		p.coalesced.Add(1)
	}
	p.pending = st
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run publishes queued states until ctx is done, then closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	defer func() {
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
		}

		p.mu.Lock()
		st := p.pending
		p.pending = nil
		if st != nil {
			p.lastSeq = st.Seq
		}
		p.mu.Unlock()

		if st != nil {
			p.Publish(ctx, st)
		}
	}
}

// Publish writes st synchronously and returns the number of messages sent.
func (p *Publisher) Publish(ctx context.Context, st *reconcile.State) int {
	p.states.Add(1)

	msgs, err := BuildMessages(st, p.now(), p.mode)
	if err != nil {
		p.fail(err, st.Seq)
		return 0
	}
	if len(msgs) == 0 {
		return 0
	}

	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(wctx, msgs...); err != nil {
		p.fail(err, st.Seq)
		return 0
	}

	p.messages.Add(int64(len(msgs)))
	metrics.PublishedMessages.Add(float64(len(msgs)))
	p.log.Debug("published state", "seq", st.Seq, "messages", len(msgs))
	return len(msgs)
}

// Stats returns publisher counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		States:    p.states.Load(),
		Skipped:   p.skipped.Load(),
		Messages:  p.messages.Load(),
		Errors:    p.errors.Load(),
		Coalesced: p.coalesced.Load(),
	}
}

func (p *Publisher) fail(err error, seq uint64) {
	p.errors.Add(1)
	metrics.PublishErrors.Inc()
	p.log.Warn("publish failed", "seq", seq, "error", err)
}
