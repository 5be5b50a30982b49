// Package stats accumulates acquisition verdicts from repeated trials into
// detection and false-alarm estimates.
package stats

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/star/gnssacq/internal/acquisition"
)

var (
	ErrDuplicateTrial = errors.New("trial already recorded")
	ErrNoVerdict      = errors.New("observation carries no verdict")
)

// Tolerance bounds the estimation error of a correct detection.
type Tolerance struct {
	DelayChips float64
	DopplerHz  float64
}

// DefaultTolerance returns half a chip and 2/(3T) Hz for integration time T.
func DefaultTolerance(integration time.Duration) Tolerance {
	return Tolerance{DelayChips: 0.5, DopplerHz: 2 / (3 * integration.Seconds())}
}

// Observation is the ground truth and verdict of one trial.
type Observation struct {
	Index         int  // trial number, fixes the summation order
	Present       bool // signal actually in the block
	Outcome       acquisition.Outcome
	DelayErrChips float64 // estimation errors, meaningful on success
	DopplerErrHz  float64
	AcqTime       time.Duration
}

// Class is the classification of one observation against ground truth.
type Class int

const (
	Missed           Class = iota // present, not detected
	CorrectDetection              // present, detected within tolerance
	WrongParameters               // present, detected outside tolerance
	FalseAlarm                    // absent, detected
	CorrectRejection              // absent, not detected
)

func (c Class) String() string {
	switch c {
	case Missed:
		return "missed"
	case CorrectDetection:
		return "correct"
	case WrongParameters:
		return "wrong_parameters"
	case FalseAlarm:
		return "false_alarm"
	case CorrectRejection:
		return "correct_rejection"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Classify labels o against tol.
func Classify(o Observation, tol Tolerance) Class {
	detected := o.Outcome == acquisition.OutcomeSuccess
	switch {
	case !o.Present && detected:
		return FalseAlarm
	case !o.Present:
		return CorrectRejection
	case !detected:
		return Missed
	case math.Abs(o.DelayErrChips) <= tol.DelayChips && math.Abs(o.DopplerErrHz) <= tol.DopplerHz:
		return CorrectDetection
	}
	return WrongParameters
}

// Summary is the aggregate over all recorded trials.
type Summary struct {
	Trials      int
	Present     int
	Absent      int
	Detections  int
	Correct     int
	WrongParams int
	FalseAlarms int

	Pd            float64 // correct / present
	PfaPresent    float64 // wrong parameters / present
	PfaAbsent     float64 // false alarms / absent
	DetectionRate float64 // detections / trials, regardless of correctness

	// Rates over all trials, for runs that mix present and absent cases.
	PdTotal         float64 // correct / trials
	PfaPresentTotal float64 // wrong parameters / trials
	PfaAbsentTotal  float64 // false alarms / trials

	MSEDelayChips float64 // over detections of a present signal
	MSEDopplerHz  float64
	RMSDelayChips float64
	RMSDopplerHz  float64
	MeanAcqTime   time.Duration
}

// Aggregator collects observations from concurrent trials. Summary results
// depend only on the set of observations, not the order Add was called in.
type Aggregator struct {
	mu  sync.Mutex
	tol Tolerance
	obs map[int]Observation
}

// NewAggregator creates an empty aggregator.
func NewAggregator(tol Tolerance) *Aggregator {
	return &Aggregator{tol: tol, obs: make(map[int]Observation)}
}

// Add records one trial. Each Index may be recorded once, and the outcome
// must be a completed verdict.
func (a *Aggregator) Add(o Observation) error {
	outcome, err := acquisition.ParseOutcome(int(o.Outcome))
	if err != nil {
		return err
	}
	if outcome == acquisition.OutcomeNone {
		return fmt.Errorf("%w: trial %d", ErrNoVerdict, o.Index)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.obs[o.Index]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateTrial, o.Index)
	}
	a.obs[o.Index] = o
	return nil
}

// Len returns the number of recorded trials.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.obs)
}

// Summary computes the aggregate statistics, summing in trial index order.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	indices := make([]int, 0, len(a.obs))
	for i := range a.obs {
		indices = append(indices, i)
	}
	ordered := make([]Observation, 0, len(indices))
	slices.Sort(indices)
	for _, i := range indices {
		ordered = append(ordered, a.obs[i])
	}
	a.mu.Unlock()

	var (
		s               Summary
		sqDelay, sqDopp float64
		estimated       int
		totalTime       time.Duration
	)
	for _, o := range ordered {
		s.Trials++
		totalTime += o.AcqTime
		if o.Present {
			s.Present++
		} else {
			s.Absent++
		}
		if o.Outcome == acquisition.OutcomeSuccess {
			s.Detections++
		}
		if o.Present && o.Outcome == acquisition.OutcomeSuccess {
			sqDelay += o.DelayErrChips * o.DelayErrChips
			sqDopp += o.DopplerErrHz * o.DopplerErrHz
			estimated++
		}

		switch Classify(o, a.tol) {
		case CorrectDetection:
			s.Correct++
		case WrongParameters:
			s.WrongParams++
		case FalseAlarm:
			s.FalseAlarms++
		}
	}

	s.Pd = ratio(s.Correct, s.Present)
	s.PfaPresent = ratio(s.WrongParams, s.Present)
	s.PfaAbsent = ratio(s.FalseAlarms, s.Absent)
	s.DetectionRate = ratio(s.Detections, s.Trials)
	s.PdTotal = ratio(s.Correct, s.Trials)
	s.PfaPresentTotal = ratio(s.WrongParams, s.Trials)
	s.PfaAbsentTotal = ratio(s.FalseAlarms, s.Trials)
	if estimated > 0 {
		s.MSEDelayChips = sqDelay / float64(estimated)
		s.MSEDopplerHz = sqDopp / float64(estimated)
		s.RMSDelayChips = math.Sqrt(s.MSEDelayChips)
		s.RMSDopplerHz = math.Sqrt(s.MSEDopplerHz)
	}
	if s.Trials > 0 {
		s.MeanAcqTime = totalTime / time.Duration(s.Trials)
	}
	return s
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
