// Package ingest runs the ingestion loop: pull a raw sample from the source,
// parse it, derive a reading, persist it and publish it to live subscribers.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/derive"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/parser"
	"github.com/xtxerr/catwatch/internal/types"
)

// Source supplies raw samples. Next blocks until a sample is available and
// returns io.EOF at the end of the stream.
type Source interface {
	Next(ctx context.Context) (types.RawSample, error)
}

// Appender persists readings.
type Appender interface {
	Append(r types.Reading) error
}

// LatestReader is implemented by stores that already hold readings, such
// as a log replayed at startup.
type LatestReader interface {
	Latest() (types.Reading, bool)
}

// Publisher fans readings out to live subscribers.
type Publisher interface {
	Publish(r types.Reading)
}

// =============================================================================
// State Machine
// =============================================================================

// State is the loop state.
type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateProcessing
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateProcessing:
		return "processing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type stateTransition struct {
	from State
	to   State
}

// validTransitions defines all allowed state transitions.
// There is no processing -> stopped edge: a sample that left the source is
// always finished before the loop looks at cancellation again.
var validTransitions = map[stateTransition]bool{
	{StateIdle, StateWaiting}:       true,
	{StateWaiting, StateProcessing}: true,
	{StateWaiting, StateStopped}:    true,
	{StateProcessing, StateWaiting}: true,
}

// =============================================================================
// Loop
// =============================================================================

// Options configures a Loop.
type Options struct {
	// Health tracks store failures. Defaults to a tracker with default
	// thresholds.
	Health *Health

	// Clock returns the ingest time. Defaults to time.Now.
	Clock func() time.Time
}

// Loop is the single-writer ingestion task.
type Loop struct {
	source  Source
	engine  *derive.Engine
	store   Appender
	pub     Publisher
	health  *Health
	clock   func() time.Time
	log     *slog.Logger
	running atomic.Bool

	state atomic.Int32

	// lastTimestamp is seeded from the store and then only touched by the
	// Run goroutine.
	lastTimestamp time.Time

	mu         sync.Mutex
	stopErr    error
	stopReason string

	stats counters
}

type counters struct {
	samplesReceived  atomic.Int64
	readingsIngested atomic.Int64
	parseErrors      atomic.Int64
	derivationErrors atomic.Int64
	storeErrors      atomic.Int64
	clockClamps      atomic.Int64
	lastIngestNs     atomic.Int64
	startedNs        atomic.Int64
}

// Stats holds loop statistics.
type Stats struct {
	State            string    `json:"state"`
	SamplesReceived  int64     `json:"samples_received"`
	ReadingsIngested int64     `json:"readings_ingested"`
	ParseErrors      int64     `json:"parse_errors"`
	DerivationErrors int64     `json:"derivation_errors"`
	StoreErrors      int64     `json:"store_errors"`
	ClockClamps      int64     `json:"clock_clamps"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	LastIngest       time.Time `json:"last_ingest,omitempty"`
	StopReason       string    `json:"stop_reason,omitempty"`
}

// Dropped returns the number of samples that did not become readings.
func (s Stats) Dropped() int64 {
	return s.ParseErrors + s.DerivationErrors + s.StoreErrors
}

// New creates an ingestion loop.
func New(src Source, engine *derive.Engine, store Appender, pub Publisher, opts Options) *Loop {
	if opts.Health == nil {
		opts.Health = NewHealth(config.DefaultConfig().Health)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	l := &Loop{
		source: src,
		engine: engine,
		store:  store,
		pub:    pub,
		health: opts.Health,
		clock:  opts.Clock,
		log:    logging.Component("ingest"),
	}
	l.state.Store(int32(StateIdle))

	// New readings must not sort before what the store already holds.
	if lr, ok := store.(LatestReader); ok {
		if last, ok := lr.Latest(); ok {
			l.lastTimestamp = last.Timestamp
		}
	}
	return l
}

// Run drives the loop until the source ends or ctx is cancelled.
//
// Cancellation is only observed while waiting for the source, so a sample
// that was already received is always parsed, stored and published. Run
// returns nil at end of stream or on cancellation and an error wrapping
// errors.ErrSource when the transport fails.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	if err := l.transition(StateIdle, StateWaiting); err != nil {
		return fmt.Errorf("loop already ran: %w", errors.ErrStopped)
	}

	l.stats.startedNs.Store(l.clock().UnixNano())
	l.log.Info("ingestion loop started", "profile", l.engine.Profile().Name)

	for {
		sample, err := l.source.Next(ctx)
		if err != nil {
			return l.stop(ctx, err)
		}

		l.mustTransition(StateWaiting, StateProcessing)
		l.process(sample)
		l.mustTransition(StateProcessing, StateWaiting)
	}
}

func (l *Loop) stop(ctx context.Context, err error) error {
	var result error
	reason := "end of stream"

	switch {
	case ctx.Err() != nil:
		reason = "cancelled"
	case errors.Is(err, io.EOF):
	default:
		reason = err.Error()
		if !errors.IsTerminal(err) {
			err = errors.Source(err)
		}
		result = err
	}

	l.mu.Lock()
	l.stopErr = result
	l.stopReason = reason
	l.mu.Unlock()

	l.mustTransition(StateWaiting, StateStopped)

	stats := l.Stats()
	if result != nil {
		l.log.Error("ingestion loop stopped", "reason", reason, "ingested", stats.ReadingsIngested)
	} else {
		l.log.Info("ingestion loop stopped", "reason", reason, "ingested", stats.ReadingsIngested)
	}
	return result
}

// process handles one sample. Failures are contained to the sample.
func (l *Loop) process(sample types.RawSample) {
	l.stats.samplesReceived.Add(1)

	fields, err := parser.Parse(sample)
	if err != nil {
		l.stats.parseErrors.Add(1)
		l.log.Warn("dropped malformed sample", "error", err, "payload", preview(sample.Payload))
		return
	}

	ts := l.clock().UTC()
	if ts.Before(l.lastTimestamp) {
		l.stats.clockClamps.Add(1)
		ts = l.lastTimestamp
	}

	r, err := l.engine.Derive(fields, ts)
	if err != nil {
		l.stats.derivationErrors.Add(1)
		l.log.Warn("dropped sample", "error", err, "co_in", fields.COIn, "co_out", fields.COOut)
		return
	}

	if err := l.store.Append(r); err != nil {
		l.stats.storeErrors.Add(1)
		level := l.health.Record(true)
		l.log.Error("store append failed",
			"error", err,
			"timestamp", r.Timestamp,
			"co_in", r.COIn,
			"co_out", r.COOut,
			"efficiency", r.Efficiency,
			"power", r.Power,
			"anomaly", r.Anomaly,
			"health", level.String())
		return
	}
	l.health.Record(false)

	l.lastTimestamp = ts
	l.stats.readingsIngested.Add(1)
	l.stats.lastIngestNs.Store(ts.UnixNano())

	l.pub.Publish(r)
}

// transition moves from -> to if the edge is allowed.
func (l *Loop) transition(from, to State) error {
	if !validTransitions[stateTransition{from, to}] {
		return fmt.Errorf("invalid state transition: %s -> %s", from, to)
	}
	if !l.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("invalid state transition: %s -> %s (state is %s)", from, to, l.State())
	}
	return nil
}

func (l *Loop) mustTransition(from, to State) {
	if err := l.transition(from, to); err != nil {
		panic(err)
	}
}

// State returns the current loop state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Health returns the store health tracker.
func (l *Loop) Health() *Health {
	return l.health
}

// Err returns the transport error that stopped the loop, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopErr
}

// Stats returns loop statistics.
func (l *Loop) Stats() Stats {
	s := Stats{
		State:            l.State().String(),
		SamplesReceived:  l.stats.samplesReceived.Load(),
		ReadingsIngested: l.stats.readingsIngested.Load(),
		ParseErrors:      l.stats.parseErrors.Load(),
		DerivationErrors: l.stats.derivationErrors.Load(),
		StoreErrors:      l.stats.storeErrors.Load(),
		ClockClamps:      l.stats.clockClamps.Load(),
	}
	if ns := l.stats.startedNs.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns).UTC()
	}
	if ns := l.stats.lastIngestNs.Load(); ns != 0 {
		s.LastIngest = time.Unix(0, ns).UTC()
	}

	l.mu.Lock()
	s.StopReason = l.stopReason
	l.mu.Unlock()

	return s
}

func preview(b []byte) string {
	const max = 128
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
