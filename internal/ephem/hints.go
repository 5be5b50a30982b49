package ephem

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/star/gnssacq/internal/assist"
	"github.com/star/gnssacq/internal/gnss"
)

// HintOptions controls which satellites get a hint and how wide it is.
type HintOptions struct {
	ElevationMaskDeg float64 // satellites below this get no hint
	UncertaintyHz    float64 // hint half-width, covering receiver clock drift
	Workers          int
}

type hintJob struct {
	el Element
}

type hintResult struct {
	id      gnss.SignalID
	hint    assist.Hint
	visible bool
	err     error
	catalog int
}

// ComputeHints propagates every element set with a known signal to at and
// returns Doppler hints for the satellites above the elevation mask. Failed
// propagations are logged and skipped.
func ComputeHints(ctx context.Context, elements []Element, obs Observer, at time.Time, opts HintOptions, logger *slog.Logger) map[gnss.SignalID]assist.Hint {
	workers := max(opts.Workers, 1)
	jobs := make(chan hintJob, workers*2)
	results := make(chan hintResult, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				res := predict(job.el, obs, at, opts)
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, el := range elements {
			if el.Signal == (gnss.SignalID{}) {
				continue
			}
			select {
			case jobs <- hintJob{el: el}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	hints := make(map[gnss.SignalID]assist.Hint)
	for res := range results {
		if res.err != nil {
			logger.Warn("doppler prediction failed", "catalog_id", res.catalog, "error", res.err)
			continue
		}
		if res.visible {
			hints[res.id] = res.hint
		}
	}
	return hints
}

func predict(el Element, obs Observer, at time.Time, opts HintOptions) hintResult {
	res := hintResult{id: el.Signal, catalog: el.CatalogID}
	o, err := newOrbit(el)
	if err != nil {
		res.err = err
		return res
	}
	st, err := o.stateAt(at)
	if err != nil {
		res.err = err
		return res
	}
	spec, err := gnss.Lookup(el.Signal.Signal)
	if err != nil {
		res.err = err
		return res
	}

	look := obs.LookAt(st)
	res.visible = look.ElevationDeg >= opts.ElevationMaskDeg
	res.hint = assist.Hint{
		DopplerHz:     DopplerHz(look.RangeRateMS, spec.Carrier+spec.CarrierOffset(el.Signal.PRN)),
		UncertaintyHz: opts.UncertaintyHz,
		ElevationDeg:  look.ElevationDeg,
		ComputedAt:    at,
		Source:        "sgp4",
	}
	return res
}
