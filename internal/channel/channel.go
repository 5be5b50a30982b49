// Package channel drives one acquisition engine through its attempt
// lifecycle. A channel has two sides: a processing context that feeds sample
// blocks (Feed or Run) and a control context that configures, starts, resets
// and stops it and consumes verdicts from its event queue.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/star/gnssacq/internal/acquisition"
	"github.com/star/gnssacq/internal/assist"
	"github.com/star/gnssacq/internal/gnss"
	"github.com/star/gnssacq/internal/metrics"
	"github.com/star/gnssacq/internal/queue"
)

var (
	ErrNotConfigured = errors.New("channel not configured")
	ErrInFlight      = errors.New("acquisition attempt in flight")
	ErrNotReset      = errors.New("channel must be reset before start")
)

// State is the channel lifecycle state.
type State int32

const (
	StateIdle     State = iota // configured or reset, no attempt
	StateStarting              // control context is arming the engine
	StateArmed                 // attempt in flight, processing context owns the engine
	StateDone                  // attempt finished or aborted, awaiting reset
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateArmed:
		return "armed"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// BlockSource supplies contiguous sample blocks. ReadBlock fills dst
// completely or returns an error; io.EOF marks the end of the stream.
type BlockSource interface {
	ReadBlock(ctx context.Context, dst []complex64) error
}

// Channel owns one acquisition engine and its verdict queue.
type Channel struct {
	id     int
	logger *slog.Logger
	hints  *assist.Store
	events *queue.Queue[acquisition.Verdict]
	engine *acquisition.Engine

	signal  atomic.Pointer[gnss.SignalID]
	state   atomic.Int32
	stop    atomic.Bool
	dwells  atomic.Int32
	record  atomic.Pointer[acquisition.SyncRecord]
	attempt atomic.Pointer[string]

	done    chan struct{}
	wake    chan struct{}
	started time.Time
}

// New creates an unconfigured channel. hints may be nil.
func New(id int, hints *assist.Store, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{
		id:     id,
		logger: logger.With("channel_id", id),
		hints:  hints,
		events: queue.New[acquisition.Verdict](),
		wake:   make(chan struct{}, 1),
	}
	c.state.Store(int32(StateIdle))
	return c
}

// ID returns the channel number.
func (c *Channel) ID() int { return c.id }

// Events returns the queue verdicts are published to.
func (c *Channel) Events() *queue.Queue[acquisition.Verdict] { return c.events }

// State returns the lifecycle state.
func (c *Channel) State() State { return State(c.state.Load()) }

// Signal returns the configured signal.
func (c *Channel) Signal() gnss.SignalID {
	if p := c.signal.Load(); p != nil {
		return *p
	}
	return gnss.SignalID{}
}

// Dwells returns the number of dwells evaluated in the current attempt.
func (c *Channel) Dwells() int { return int(c.dwells.Load()) }

// AttemptID returns the identifier of the current or last attempt.
func (c *Channel) AttemptID() string {
	if p := c.attempt.Load(); p != nil {
		return *p
	}
	return ""
}

// Record returns the synchronization record of the last finished attempt.
// ok is false before the first verdict or after a reset.
func (c *Channel) Record() (rec acquisition.SyncRecord, ok bool) {
	if p := c.record.Load(); p != nil {
		return *p, true
	}
	return acquisition.SyncRecord{}, false
}

// RequiredSamples is the block length Feed expects, or zero when unconfigured.
func (c *Channel) RequiredSamples() int {
	if c.engine == nil {
		return 0
	}
	return c.engine.RequiredSamples()
}

// Configure builds a fresh engine for id with cfg. On error the previous
// configuration is kept and the channel remains un-started.
func (c *Channel) Configure(cfg acquisition.Config, id gnss.SignalID) error {
	switch c.State() {
	case StateStarting, StateArmed:
		return ErrInFlight
	}
	engine, err := acquisition.NewEngine(cfg, c.logger)
	if err != nil {
		return fmt.Errorf("channel %d: %w", c.id, err)
	}
	if err := engine.SetSignal(id); err != nil {
		return fmt.Errorf("channel %d: %w", c.id, err)
	}
	c.engine = engine
	c.signal.Store(&id)
	c.record.Store(nil)
	c.dwells.Store(0)
	c.state.Store(int32(StateIdle))
	c.logger.Info("channel configured",
		"signal", id.String(),
		"doppler_max", cfg.DopplerMax,
		"doppler_step", cfg.DopplerStep,
		"pfa", cfg.Pfa,
		"max_dwells", cfg.MaxDwells,
	)
	return nil
}

// Start arms a new attempt. The channel must be idle: a finished attempt
// needs Reset first. Assistance for the configured signal, if any, narrows
// the Doppler window.
func (c *Channel) Start() error {
	if c.engine == nil {
		return ErrNotConfigured
	}
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		if c.State() == StateDone {
			return ErrNotReset
		}
		return fmt.Errorf("channel %d: %w", c.id, ErrInFlight)
	}

	c.engine.Reset()
	c.engine.SetAssist(nil)
	if c.hints != nil {
		if h, ok := c.hints.Lookup(c.Signal()); ok {
			c.engine.SetAssist(&h)
		}
	}
	if err := c.engine.Start(); err != nil {
		c.state.Store(int32(StateIdle))
		return fmt.Errorf("channel %d: %w", c.id, err)
	}

	id := uuid.NewString()
	c.attempt.Store(&id)
	c.record.Store(nil)
	c.dwells.Store(0)
	c.stop.Store(false)
	c.done = make(chan struct{})
	c.started = time.Now()
	c.state.Store(int32(StateArmed))
	metrics.ChannelStarted()

	select {
	case c.wake <- struct{}{}:
	default:
	}

	c.logger.Debug("acquisition attempt started",
		"attempt_id", id,
		"signal", c.Signal().String(),
		"threshold", c.engine.Threshold(),
	)
	return nil
}

// Reset returns a finished or idle channel to idle, clearing the dwell
// counter and the synchronization record. It refuses while an attempt is
// in flight; use Stop first.
func (c *Channel) Reset() error {
	switch c.State() {
	case StateStarting, StateArmed:
		return fmt.Errorf("channel %d: %w", c.id, ErrInFlight)
	}
	if c.engine != nil {
		c.engine.Reset()
	}
	c.record.Store(nil)
	c.dwells.Store(0)
	c.stop.Store(false)
	c.state.Store(int32(StateIdle))
	return nil
}

// Stop asks the processing context to abandon the attempt at the next dwell
// boundary, waits for it to do so, and drains the event queue. It does not
// interrupt a dwell in progress.
func (c *Channel) Stop(ctx context.Context) error {
	c.stop.Store(true)
	if c.State() == StateArmed {
		select {
		case <-c.done:
		case <-ctx.Done():
			return fmt.Errorf("channel %d: stop: %w", c.id, ctx.Err())
		}
	}
	for {
		if _, ok := c.events.TryPop(); !ok {
			break
		}
	}
	return nil
}

// Await blocks until the next verdict is published or ctx ends.
func (c *Channel) Await(ctx context.Context) (acquisition.Verdict, error) {
	v, err := c.events.WaitAndPopContext(ctx)
	if err != nil {
		return v, err
	}
	if _, err := acquisition.ParseOutcome(int(v.Outcome)); err != nil {
		return v, fmt.Errorf("channel %d: %w", c.id, err)
	}
	return v, nil
}

// Feed evaluates one dwell on block when an attempt is armed and reports the
// engine outcome. Blocks arriving while no attempt is armed are discarded
// with OutcomeNone. A stop request is honoured before the dwell runs.
func (c *Channel) Feed(block []complex64) (acquisition.Outcome, error) {
	if c.State() != StateArmed {
		return acquisition.OutcomeNone, nil
	}
	if c.stop.Load() {
		c.abort("stopped")
		return acquisition.OutcomeNone, nil
	}

	outcome, err := c.engine.ProcessBlock(block)
	if err != nil {
		return outcome, fmt.Errorf("channel %d: %w", c.id, err)
	}
	c.dwells.Store(int32(c.engine.Dwell()))
	if res, ok := c.engine.Last(); ok {
		metrics.ObserveDwell(c.Signal().System.String(), res.Statistic)
	}

	if outcome == acquisition.OutcomeNone {
		return outcome, nil
	}
	c.finish(outcome)
	return outcome, nil
}

// finish publishes the record and exactly one verdict for the attempt.
func (c *Channel) finish(outcome acquisition.Outcome) {
	if c.State() != StateArmed {
		return
	}
	engine, signal, started, done := c.engine, c.Signal(), c.started, c.done
	attempt := c.AttemptID()

	rec := &acquisition.SyncRecord{}
	engine.Record(rec)
	rec.ChannelID = c.id
	c.record.Store(rec)

	if !c.state.CompareAndSwap(int32(StateArmed), int32(StateDone)) {
		return
	}
	metrics.ChannelFinished()

	elapsed := time.Since(started)
	metrics.ObserveAcquisition(signal.System.String(), signal.Signal, outcome.String(), elapsed)

	attrs := []any{
		"attempt_id", attempt,
		"signal", signal.String(),
		"outcome", outcome.String(),
		"dwell", rec.Dwells,
		"elapsed", elapsed,
	}
	if rec.Valid {
		attrs = append(attrs,
			"delay_samples", rec.AcqDelaySamples,
			"delay_chips", engine.DelayChips(*rec),
			"doppler_hz", rec.AcqDopplerHz,
			"statistic", rec.Statistic,
			"threshold", rec.Threshold,
			"cn0_dbhz", rec.CN0dBHz,
		)
	}
	c.logger.Info("acquisition verdict", attrs...)

	c.events.Push(acquisition.Verdict{ChannelID: c.id, Outcome: outcome})
	close(done)
}

// abort ends an armed attempt without a verdict. The idle code is published
// so a control context blocked in Await wakes up.
func (c *Channel) abort(reason string) {
	if c.State() != StateArmed {
		return
	}
	done, attempt := c.done, c.AttemptID()
	if !c.state.CompareAndSwap(int32(StateArmed), int32(StateDone)) {
		return
	}
	metrics.ChannelFinished()
	c.logger.Info("acquisition attempt aborted", "attempt_id", attempt, "reason", reason)
	c.events.Push(acquisition.Verdict{ChannelID: c.id, Outcome: acquisition.OutcomeNone})
	close(done)
}

// Run is the processing context: it reads blocks from src while an attempt
// is armed and feeds them to the engine. It waits without reading while the
// channel is not armed. On return any armed attempt is aborted. Run returns
// nil at end of stream.
func (c *Channel) Run(ctx context.Context, src BlockSource) error {
	defer c.abort("processing stopped")

	var buf []complex64
	for {
		if c.State() != StateArmed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.wake:
				continue
			}
		}

		if n := c.RequiredSamples(); len(buf) != n {
			buf = make([]complex64, n)
		}
		if err := src.ReadBlock(ctx, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("channel %d: read block: %w", c.id, err)
		}
		if _, err := c.Feed(buf); err != nil {
			return err
		}
	}
}
