package trials

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/star/gnssacq/internal/acquisition"
	"github.com/star/gnssacq/internal/gnss"
	"github.com/star/gnssacq/internal/stats"
	"github.com/star/gnssacq/internal/synth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var target = gnss.SignalID{System: gnss.GPS, PRN: 19, Signal: "1C"}

func scenario(present bool, n int) Scenario {
	sc := Scenario{
		Name: "gps-1c",
		Config: acquisition.Config{
			CoherentIntegrationMs: 1,
			MaxDwells:             1,
			DopplerMax:            2000,
			DopplerStep:           500,
			Pfa:                   0.05,
			SampleRate:            2.046e6,
		},
		Target:       target,
		Noise:        true,
		Realizations: n,
		Seed:         42,
		Tolerance:    stats.DefaultTolerance(time.Millisecond),
	}
	other := synth.Satellite{ID: gnss.SignalID{System: gnss.GPS, PRN: 4, Signal: "1C"}, DopplerHz: 750, DelayChips: 12, CN0dBHz: 45}
	sc.Satellites = []synth.Satellite{other}
	if present {
		sc.Satellites = append(sc.Satellites, synth.Satellite{ID: target, DopplerHz: -1000, DelayChips: 511, CN0dBHz: 48})
	}
	return sc
}

func TestRunDetectsPresentSignal(t *testing.T) {
	rep, err := NewRunner(4, testLogger()).Run(context.Background(), scenario(true, 30))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := rep.Summary
	if rep.ID == "" {
		t.Error("report has no run ID")
	}
	if s.Trials != 30 || s.Present != 30 {
		t.Errorf("trials=%d present=%d, want 30/30", s.Trials, s.Present)
	}
	if s.Pd < 0.9 {
		t.Errorf("Pd = %v, want >= 0.9", s.Pd)
	}
	if s.RMSDelayChips > 0.5 {
		t.Errorf("RMS delay = %v chips, want <= 0.5", s.RMSDelayChips)
	}
}

func TestRunAbsentSignal(t *testing.T) {
	if testing.Short() {
		t.Skip("Monte Carlo run")
	}
	sc := scenario(false, 200)
	rep, err := NewRunner(4, testLogger()).Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	s := rep.Summary
	if s.Absent != 200 || s.Pd != 0 {
		t.Errorf("absent=%d pd=%v", s.Absent, s.Pd)
	}
	// Target plus three binomial standard deviations.
	if s.PfaAbsent > 0.05+3*0.0154 {
		t.Errorf("Pfa = %v, want <= %v", s.PfaAbsent, 0.05+3*0.0154)
	}
}

func TestRunIndependentOfWorkerCount(t *testing.T) {
	sc := scenario(true, 16)
	sc.Satellites[1].CN0dBHz = 40 // marginal, so outcomes vary by realization

	one, err := NewRunner(1, testLogger()).Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	many, err := NewRunner(5, testLogger()).Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	a, b := one.Summary, many.Summary
	a.MeanAcqTime, b.MeanAcqTime = 0, 0
	if a != b {
		t.Errorf("summary with 1 worker = %+v\nwith 5 workers = %+v", a, b)
	}
}

func TestRunRejectsInvalidScenario(t *testing.T) {
	r := NewRunner(2, testLogger())
	if _, err := r.Run(context.Background(), scenario(true, 0)); !errors.Is(err, ErrNoRealizations) {
		t.Errorf("Run() = %v, want ErrNoRealizations", err)
	}
	sc := scenario(true, 4)
	sc.Config.DopplerStep = 0
	if _, err := r.Run(context.Background(), sc); !errors.Is(err, acquisition.ErrZeroDopplerStep) {
		t.Errorf("Run() = %v, want ErrZeroDopplerStep", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRunner(2, testLogger()).Run(ctx, scenario(true, 50)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
