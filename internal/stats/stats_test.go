package stats

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/gnssacq/internal/acquisition"
)

var tol = Tolerance{DelayChips: 0.5, DopplerHz: 667}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		obs  Observation
		want Class
	}{
		{"correct", Observation{Present: true, Outcome: acquisition.OutcomeSuccess, DelayErrChips: 0.2, DopplerErrHz: -300}, CorrectDetection},
		{"delay off", Observation{Present: true, Outcome: acquisition.OutcomeSuccess, DelayErrChips: 3}, WrongParameters},
		{"doppler off", Observation{Present: true, Outcome: acquisition.OutcomeSuccess, DopplerErrHz: 1000}, WrongParameters},
		{"missed", Observation{Present: true, Outcome: acquisition.OutcomeFail}, Missed},
		{"false alarm", Observation{Present: false, Outcome: acquisition.OutcomeSuccess}, FalseAlarm},
		{"rejection", Observation{Present: false, Outcome: acquisition.OutcomeFail}, CorrectRejection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.obs, tol))
		})
	}
}

func TestDefaultTolerance(t *testing.T) {
	got := DefaultTolerance(time.Millisecond)
	assert.Equal(t, 0.5, got.DelayChips)
	assert.InDelta(t, 666.67, got.DopplerHz, 0.01)
}

func TestAddRejects(t *testing.T) {
	a := NewAggregator(tol)
	require.NoError(t, a.Add(Observation{Index: 1, Outcome: acquisition.OutcomeFail}))
	assert.ErrorIs(t, a.Add(Observation{Index: 1, Outcome: acquisition.OutcomeFail}), ErrDuplicateTrial)
	assert.ErrorIs(t, a.Add(Observation{Index: 2, Outcome: acquisition.OutcomeNone}), ErrNoVerdict)
	assert.ErrorIs(t, a.Add(Observation{Index: 3, Outcome: 5}), acquisition.ErrUnknownOutcome)
	assert.Equal(t, 1, a.Len())
}

func TestSummary(t *testing.T) {
	a := NewAggregator(tol)
	obs := []Observation{
		{Index: 0, Present: true, Outcome: acquisition.OutcomeSuccess, DelayErrChips: 0.25, DopplerErrHz: 100, AcqTime: 2 * time.Millisecond},
		{Index: 1, Present: true, Outcome: acquisition.OutcomeSuccess, DelayErrChips: -0.25, DopplerErrHz: -100, AcqTime: 4 * time.Millisecond},
		{Index: 2, Present: true, Outcome: acquisition.OutcomeSuccess, DelayErrChips: 10, DopplerErrHz: 0, AcqTime: 3 * time.Millisecond},
		{Index: 3, Present: true, Outcome: acquisition.OutcomeFail, AcqTime: 3 * time.Millisecond},
		{Index: 4, Present: false, Outcome: acquisition.OutcomeSuccess, AcqTime: 1 * time.Millisecond},
		{Index: 5, Present: false, Outcome: acquisition.OutcomeFail, AcqTime: 5 * time.Millisecond},
	}
	for _, o := range obs {
		require.NoError(t, a.Add(o))
	}

	s := a.Summary()
	assert.Equal(t, 6, s.Trials)
	assert.Equal(t, 4, s.Present)
	assert.Equal(t, 2, s.Absent)
	assert.Equal(t, 4, s.Detections)
	assert.Equal(t, 2, s.Correct)
	assert.Equal(t, 1, s.WrongParams)
	assert.Equal(t, 1, s.FalseAlarms)
	assert.Equal(t, 0.5, s.Pd)
	assert.Equal(t, 0.25, s.PfaPresent)
	assert.Equal(t, 0.5, s.PfaAbsent)
	assert.InDelta(t, 4.0/6, s.DetectionRate, 1e-12)
	assert.InDelta(t, 2.0/6, s.PdTotal, 1e-12)
	assert.InDelta(t, 1.0/6, s.PfaPresentTotal, 1e-12)
	assert.InDelta(t, 1.0/6, s.PfaAbsentTotal, 1e-12)
	assert.InDelta(t, (0.0625+0.0625+100)/3, s.MSEDelayChips, 1e-12)
	assert.InDelta(t, 20000.0/3, s.MSEDopplerHz, 1e-9)
	assert.Equal(t, 3*time.Millisecond, s.MeanAcqTime)
}

func TestSummaryEmpty(t *testing.T) {
	s := NewAggregator(tol).Summary()
	assert.Equal(t, Summary{}, s)
}

// TestSummaryIndependentOfArrivalOrder adds the same trials from concurrent
// goroutines in shuffled order and requires bit-identical results.
func TestSummaryIndependentOfArrivalOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	obs := make([]Observation, 500)
	for i := range obs {
		o := Observation{
			Index:   i,
			Present: rng.IntN(4) != 0,
			Outcome: acquisition.OutcomeFail,
			AcqTime: time.Duration(rng.IntN(1e6)),
		}
		if rng.IntN(2) == 0 {
			o.Outcome = acquisition.OutcomeSuccess
			o.DelayErrChips = rng.NormFloat64() * 0.3
			o.DopplerErrHz = rng.NormFloat64() * 200
		}
		obs[i] = o
	}

	sequential := NewAggregator(tol)
	for _, o := range obs {
		require.NoError(t, sequential.Add(o))
	}
	want := sequential.Summary()

	for round := 0; round < 5; round++ {
		shuffled := append([]Observation(nil), obs...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		a := NewAggregator(tol)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := w; i < len(shuffled); i += 8 {
					assert.NoError(t, a.Add(shuffled[i]))
				}
			}(w)
		}
		wg.Wait()

		assert.Equal(t, want, a.Summary(), "round %d", round)
	}
}
