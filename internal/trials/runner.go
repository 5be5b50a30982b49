// Package trials runs Monte Carlo acquisition experiments: many independent
// realizations of one scenario spread over a pool of channels, each verdict
// classified against ground truth by a stats.Aggregator.
package trials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/star/gnssacq/internal/acquisition"
	"github.com/star/gnssacq/internal/channel"
	"github.com/star/gnssacq/internal/gnss"
	"github.com/star/gnssacq/internal/stats"
	"github.com/star/gnssacq/internal/synth"
)

var ErrNoRealizations = errors.New("scenario needs at least one realization")

// Scenario describes one experiment. The target is present in a realization
// when Satellites contains an entry with the target's SignalID.
type Scenario struct {
	Name         string
	Config       acquisition.Config
	Target       gnss.SignalID
	Satellites   []synth.Satellite
	Noise        bool
	Realizations int
	Seed         uint64
	Tolerance    stats.Tolerance
}

// Report is the outcome of a run.
type Report struct {
	ID      string
	Name    string
	Summary stats.Summary
	Elapsed time.Duration
}

// Runner executes scenarios on a fixed number of workers. Each worker owns
// one channel, so engines are never shared between goroutines.
type Runner struct {
	workers int
	logger  *slog.Logger
}

// NewRunner creates a runner with the given number of workers.
func NewRunner(workers int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{workers: workers, logger: logger}
}

type trialResult struct {
	obs stats.Observation
	err error
}

// Run executes every realization of sc and aggregates the verdicts. Apart
// from MeanAcqTime the summary is identical for any worker count.
func (r *Runner) Run(ctx context.Context, sc Scenario) (Report, error) {
	if sc.Realizations < 1 {
		return Report{}, ErrNoRealizations
	}
	if err := sc.Config.Validate(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	truth, present := sc.truth()

	id := uuid.NewString()
	logger := r.logger.With("run_id", id, "scenario", sc.Name)
	logger.Info("trial run started",
		"realizations", sc.Realizations,
		"workers", r.workers,
		"target", sc.Target.String(),
		"present", present,
	)
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int, r.workers*2)
	results := make(chan trialResult, r.workers*2)
	channels := make([]*channel.Channel, r.workers)
	for w := range channels {
		channels[w] = channel.New(w, nil, logger)
		if err := channels[w].Configure(sc.Config, sc.Target); err != nil {
			return Report{}, err
		}
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				obs, err := runTrial(ch, sc, index, truth, present)
				select {
				case results <- trialResult{obs: obs, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < sc.Realizations; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	agg := stats.NewAggregator(sc.Tolerance)
	var firstErr error
	for res := range results {
		if res.err == nil {
			res.err = agg.Add(res.obs)
		}
		if res.err != nil && firstErr == nil {
			firstErr = res.err
			cancel()
		}
	}
	if firstErr != nil {
		return Report{}, fmt.Errorf("run %s: %w", id, firstErr)
	}
	if err := ctx.Err(); err != nil && agg.Len() < sc.Realizations {
		return Report{}, fmt.Errorf("run %s: %w", id, err)
	}

	rep := Report{ID: id, Name: sc.Name, Summary: agg.Summary(), Elapsed: time.Since(start)}
	logger.Info("trial run finished",
		"pd", rep.Summary.Pd,
		"pfa_present", rep.Summary.PfaPresent,
		"pfa_absent", rep.Summary.PfaAbsent,
		"rms_delay_chips", rep.Summary.RMSDelayChips,
		"rms_doppler_hz", rep.Summary.RMSDopplerHz,
		"elapsed", rep.Elapsed,
	)
	return rep, nil
}

func (sc Scenario) truth() (synth.Satellite, bool) {
	for _, s := range sc.Satellites {
		if s.ID == sc.Target {
			return s, true
		}
	}
	return synth.Satellite{}, false
}

// runTrial drives ch through one complete attempt on a fresh realization.
func runTrial(ch *channel.Channel, sc Scenario, index int, truth synth.Satellite, present bool) (stats.Observation, error) {
	obs := stats.Observation{Index: index, Present: present}

	gen, err := synth.New(synth.Config{
		SampleRate: sc.Config.SampleRate,
		Noise:      sc.Noise,
		Seed:       sc.Seed + uint64(index),
		Satellites: sc.Satellites,
	})
	if err != nil {
		return obs, err
	}

	if err := ch.Reset(); err != nil {
		return obs, err
	}
	start := time.Now()
	if err := ch.Start(); err != nil {
		return obs, err
	}

	block := make([]complex64, ch.RequiredSamples())
	for {
		gen.Fill(block)
		outcome, err := ch.Feed(block)
		if err != nil {
			return obs, err
		}
		if outcome != acquisition.OutcomeNone {
			break
		}
	}

	verdict, ok := ch.Events().TryPop()
	if !ok {
		return obs, fmt.Errorf("trial %d: channel %d finished without a verdict", index, ch.ID())
	}
	obs.Outcome = verdict.Outcome
	obs.AcqTime = time.Since(start)

	if rec, ok := ch.Record(); ok && rec.Valid && present {
		spec, err := gnss.Lookup(sc.Target.Signal)
		if err != nil {
			return obs, err
		}
		est := acquisition.DelayChips(rec.AcqDelaySamples, sc.Config.PipelineDelaySamples, spec, sc.Config.SampleRate)
		obs.DelayErrChips = acquisition.ChipError(est, truth.DelayChips, spec)
		obs.DopplerErrHz = rec.AcqDopplerHz - truth.DopplerHz
	}
	return obs, nil
}
