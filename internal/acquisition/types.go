package acquisition

import (
	"errors"
	"fmt"

	"github.com/star/gnssacq/internal/gnss"
)

var ErrUnknownOutcome = errors.New("unknown verdict code")

// Outcome is the verdict code carried on a channel's event queue.
type Outcome int

const (
	OutcomeNone    Outcome = 0 // idle or reset; also "attempt still running"
	OutcomeSuccess Outcome = 1
	OutcomeFail    Outcome = 2
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeSuccess:
		return "success"
	case OutcomeFail:
		return "fail"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ParseOutcome validates a raw verdict code. Any value other than 0, 1 or 2
// is a protocol violation.
func ParseOutcome(code int) (Outcome, error) {
	switch o := Outcome(code); o {
	case OutcomeNone, OutcomeSuccess, OutcomeFail:
		return o, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownOutcome, code)
}

// Verdict is the event a channel publishes once per completed attempt.
type Verdict struct {
	ChannelID int
	Outcome   Outcome
}

// State is the acquisition attempt state.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateSuccess
	StateFail
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateSuccess:
		return "success"
	case StateFail:
		return "fail"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SyncRecord is the per-channel synchronization record. Delay and Doppler are
// defined only when Valid is true (the attempt succeeded).
type SyncRecord struct {
	ChannelID       int           `json:"channel_id"`
	Signal          gnss.SignalID `json:"signal"`
	AcqDelaySamples float64       `json:"acq_delay_samples"`
	AcqDopplerHz    float64       `json:"acq_doppler_hz"`
	Statistic       float64       `json:"statistic"`
	Threshold       float64       `json:"threshold"`
	CN0dBHz         float64       `json:"cn0_dbhz"`
	Dwells          int           `json:"dwells"`
	TrackingReady   bool          `json:"tracking_ready"`
	Valid           bool          `json:"valid"`
}

// Result summarizes the grid of the most recent dwell.
type Result struct {
	PeakPower    float64
	NoiseFloor   float64
	Statistic    float64
	Threshold    float64
	DelaySamples int
	DopplerHz    float64 // excludes the FDMA carrier offset
	DopplerBin   int
	Bins         int
	Dwell        int
}
