// Package receiver runs a bank of acquisition channels. Every channel gets a
// processing goroutine that feeds it sample blocks and a control goroutine
// that starts attempts, waits for verdicts, hands successful records to a
// sink and moves on to the next candidate satellite after a failure.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/gnssacq/internal/acquisition"
	"github.com/star/gnssacq/internal/assist"
	"github.com/star/gnssacq/internal/channel"
	"github.com/star/gnssacq/internal/gnss"
)

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNoChannels     = errors.New("bank needs at least one channel")
)

// Sink receives synchronization records of successful acquisitions, the
// point where ownership passes to tracking.
type Sink interface {
	Handoff(ctx context.Context, rec acquisition.SyncRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec acquisition.SyncRecord) error

func (f SinkFunc) Handoff(ctx context.Context, rec acquisition.SyncRecord) error { return f(ctx, rec) }

// ChannelSpec configures one channel. Candidates are searched in turn after
// a failed attempt; the first is the initial signal.
type ChannelSpec struct {
	ID         int
	Config     acquisition.Config
	Candidates []gnss.SignalID
}

// Event describes one verdict produced by a channel of the bank.
type Event struct {
	ChannelID int                     `json:"channel_id"`
	AttemptID string                  `json:"attempt_id"`
	Signal    string                  `json:"signal"`
	Outcome   string                  `json:"outcome"`
	Dwells    int                     `json:"dwells"`
	Record    *acquisition.SyncRecord `json:"record,omitempty"`
	Time      time.Time               `json:"time"`
}

// Publisher receives every Event. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Options tunes the control loop.
type Options struct {
	RetryDelay     time.Duration // pause after a failed attempt
	ReacquireAfter time.Duration // re-run a successful channel after this long; zero waits for Restart
	StopTimeout    time.Duration // bound on waiting for a processing goroutine to honour Stop
	Events         Publisher     // optional
}

// SourceFactory returns the block source feeding channel id.
type SourceFactory func(id int) (channel.BlockSource, error)

type slot struct {
	ch         *channel.Channel
	cfg        acquisition.Config
	candidates []gnss.SignalID
	next       int

	restart   chan struct{}
	tracking  atomic.Bool
	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
}

// Bank owns the channels of one receiver.
type Bank struct {
	slots   []*slot
	byID    map[int]*slot
	sources SourceFactory
	sink    Sink
	opts    Options
	logger  *slog.Logger
	running atomic.Bool
}

// NewBank configures every channel. hints may be nil.
func NewBank(specs []ChannelSpec, hints *assist.Store, sources SourceFactory, sink Sink, opts Options, logger *slog.Logger) (*Bank, error) {
	if len(specs) == 0 {
		return nil, ErrNoChannels
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	b := &Bank{
		byID:    make(map[int]*slot, len(specs)),
		sources: sources,
		sink:    sink,
		opts:    opts,
		logger:  logger,
	}
	for _, spec := range specs {
		if _, dup := b.byID[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate channel id %d", spec.ID)
		}
		if len(spec.Candidates) == 0 {
			return nil, fmt.Errorf("channel %d: no signal to search", spec.ID)
		}
		ch := channel.New(spec.ID, hints, logger)
		if err := ch.Configure(spec.Config, spec.Candidates[0]); err != nil {
			return nil, err
		}
		s := &slot{
			ch:         ch,
			cfg:        spec.Config,
			candidates: spec.Candidates,
			restart:    make(chan struct{}, 1),
		}
		b.slots = append(b.slots, s)
		b.byID[spec.ID] = s
	}
	return b, nil
}

// Running reports whether Run is active.
func (b *Bank) Running() bool { return b.running.Load() }

// Run starts every channel and blocks until ctx ends or a channel fails.
// Channels whose source reaches end of stream stop on their own.
func (b *Bank) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)

	srcs := make([]channel.BlockSource, len(b.slots))
	for i, s := range b.slots {
		src, err := b.sources(s.ch.ID())
		if err != nil {
			return fmt.Errorf("channel %d source: %w", s.ch.ID(), err)
		}
		srcs[i] = src
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range b.slots {
		src := srcs[i]
		ended := make(chan struct{})
		g.Go(func() error {
			defer close(ended)
			err := s.ch.Run(gctx, src)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			return b.control(gctx, s, ended)
		})
	}

	b.logger.Info("receiver bank started", "channels", len(b.slots))
	err := g.Wait()
	b.logger.Info("receiver bank stopped", "error", err)
	return err
}

// control is the control context of one channel. ended closes when the
// processing goroutine returns.
func (b *Bank) control(ctx context.Context, s *slot, ended <-chan struct{}) error {
	logger := b.logger.With("channel_id", s.ch.ID())
	for {
		if err := s.ch.Reset(); err != nil {
			return err
		}
		if err := s.ch.Start(); err != nil {
			return err
		}
		s.attempts.Add(1)

		attemptCtx, cancel := context.WithCancel(ctx)
		var restarted atomic.Bool
		watched := make(chan struct{})
		go func() {
			defer close(watched)
			select {
			case <-s.restart:
				restarted.Store(true)
				cancel()
			case <-ended:
				cancel()
			case <-attemptCtx.Done():
			}
		}()
		v, err := s.ch.Await(attemptCtx)
		cancel()
		<-watched
		if err == nil && restarted.Load() {
			// The verdict won; keep the request for the next wait.
			b.requestRestart(s)
		}

		if err != nil {
			select {
			case <-ended:
				return nil
			default:
			}
			if !restarted.Load() && ctx.Err() == nil {
				return err
			}
			stopCtx, stopCancel := context.WithTimeout(context.Background(), b.opts.StopTimeout)
			serr := s.ch.Stop(stopCtx)
			stopCancel()
			if ctx.Err() != nil {
				return nil
			}
			if serr != nil {
				return serr
			}
			logger.Info("channel restarted")
			continue
		}

		if v.Outcome == acquisition.OutcomeNone {
			// Processing ended; nothing more to acquire.
			return nil
		}
		rec, hasRecord := s.ch.Record()
		b.publish(s, v.Outcome, rec, hasRecord)

		switch v.Outcome {
		case acquisition.OutcomeSuccess:
			s.successes.Add(1)
			if b.sink != nil {
				if err := b.sink.Handoff(ctx, rec); err != nil {
					logger.Warn("handoff failed", "signal", rec.Signal.String(), "error", err)
				}
			}
			s.tracking.Store(true)
			if !b.wait(ctx, s, ended, b.opts.ReacquireAfter) {
				return nil
			}
			s.tracking.Store(false)

		case acquisition.OutcomeFail:
			s.failures.Add(1)
			if err := b.advance(s, logger); err != nil {
				return err
			}
			if b.opts.RetryDelay > 0 && !b.wait(ctx, s, ended, b.opts.RetryDelay) {
				return nil
			}
		}
	}
}

func (b *Bank) publish(s *slot, outcome acquisition.Outcome, rec acquisition.SyncRecord, ok bool) {
	if b.opts.Events == nil {
		return
	}
	ev := Event{
		ChannelID: s.ch.ID(),
		AttemptID: s.ch.AttemptID(),
		Signal:    s.ch.Signal().String(),
		Outcome:   outcome.String(),
		Dwells:    s.ch.Dwells(),
		Time:      time.Now().UTC(),
	}
	if ok {
		ev.Record = &rec
	}
	b.opts.Events.Publish(ev)
}

// advance configures the next candidate signal after a failure.
func (b *Bank) advance(s *slot, logger *slog.Logger) error {
	if len(s.candidates) < 2 {
		return nil
	}
	s.next = (s.next + 1) % len(s.candidates)
	id := s.candidates[s.next]
	if err := s.ch.Configure(s.cfg, id); err != nil {
		return err
	}
	logger.Debug("advancing to next candidate", "signal", id.String())
	return nil
}

// wait pauses for d (forever when d is zero) or until a restart request.
// It returns false when ctx or processing ended.
func (b *Bank) wait(ctx context.Context, s *slot, ended <-chan struct{}, d time.Duration) bool {
	var timer <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-ended:
		return false
	case <-s.restart:
	case <-timer:
	}
	return true
}

// Restart abandons the channel's current attempt, or ends its tracking
// hold, and starts a new attempt.
func (b *Bank) Restart(id int) error {
	s, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	b.requestRestart(s)
	return nil
}

func (b *Bank) requestRestart(s *slot) {
	select {
	case s.restart <- struct{}{}:
	default:
	}
}

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	ID        int                     `json:"id"`
	Signal    string                  `json:"signal"`
	State     string                  `json:"state"`
	Tracking  bool                    `json:"tracking"`
	Dwells    int                     `json:"dwells"`
	AttemptID string                  `json:"attempt_id,omitempty"`
	Attempts  int64                   `json:"attempts"`
	Successes int64                   `json:"successes"`
	Failures  int64                   `json:"failures"`
	Record    *acquisition.SyncRecord `json:"record,omitempty"`
}

// Status returns the status of every channel in id order of creation.
func (b *Bank) Status() []ChannelStatus {
	out := make([]ChannelStatus, 0, len(b.slots))
	for _, s := range b.slots {
		out = append(out, s.status())
	}
	return out
}

// ChannelStatus returns the status of one channel.
func (b *Bank) ChannelStatus(id int) (ChannelStatus, error) {
	s, ok := b.byID[id]
	if !ok {
		return ChannelStatus{}, fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	return s.status(), nil
}

func (s *slot) status() ChannelStatus {
	st := ChannelStatus{
		ID:        s.ch.ID(),
		Signal:    s.ch.Signal().String(),
		State:     s.ch.State().String(),
		Tracking:  s.tracking.Load(),
		Dwells:    s.ch.Dwells(),
		AttemptID: s.ch.AttemptID(),
		Attempts:  s.attempts.Load(),
		Successes: s.successes.Load(),
		Failures:  s.failures.Load(),
	}
	if rec, ok := s.ch.Record(); ok {
		st.Record = &rec
	}
	return st
}

// RecordSink keeps the latest handed-off record per signal. It stands in for
// the tracking stage when none is attached.
type RecordSink struct {
	mu      sync.Mutex
	records map[gnss.SignalID]acquisition.SyncRecord
	logger  *slog.Logger
}

// NewRecordSink creates an empty sink.
func NewRecordSink(logger *slog.Logger) *RecordSink {
	return &RecordSink{records: make(map[gnss.SignalID]acquisition.SyncRecord), logger: logger}
}

// Handoff stores rec.
func (r *RecordSink) Handoff(_ context.Context, rec acquisition.SyncRecord) error {
	r.mu.Lock()
	r.records[rec.Signal] = rec
	r.mu.Unlock()
	r.logger.Info("handoff to tracking",
		"channel_id", rec.ChannelID,
		"signal", rec.Signal.String(),
		"delay_samples", rec.AcqDelaySamples,
		"doppler_hz", rec.AcqDopplerHz,
	)
	return nil
}

// Records returns a copy of the stored records.
func (r *RecordSink) Records() map[gnss.SignalID]acquisition.SyncRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[gnss.SignalID]acquisition.SyncRecord, len(r.records))
	for k, v := range r.records {
		out[k] = v
	}
	return out
}
