// Command acqsim measures acquisition performance by Monte-Carlo simulation.
// For each selected system it runs a scenario with the target satellite
// present and one with it absent, and prints detection and false alarm
// statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/star/gnssacq/internal/acquisition"
	"github.com/star/gnssacq/internal/config"
	"github.com/star/gnssacq/internal/gnss"
	"github.com/star/gnssacq/internal/stats"
	"github.com/star/gnssacq/internal/synth"
	"github.com/star/gnssacq/internal/trials"
)

type options struct {
	system       string
	configPath   string
	realizations int
	workers      int
	seed         uint64
	cn0          float64
	doppler      float64
	delay        float64
	pfa          float64
	dwells       int
	integration  int
	bitFlag      bool
	dataBits     bool
	verbose      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.system, "system", "both", "system to simulate: gps, glonass or both")
	flag.StringVar(&opts.configPath, "config", "", "property file with Acquisition.* keys (optional)")
	flag.IntVar(&opts.realizations, "n", 100, "realizations per scenario")
	flag.IntVar(&opts.workers, "workers", runtime.NumCPU(), "concurrent trials")
	flag.Uint64Var(&opts.seed, "seed", 2017, "base noise seed")
	flag.Float64Var(&opts.cn0, "cn0", 45, "carrier to noise density of the present satellite (dB-Hz)")
	flag.Float64Var(&opts.doppler, "doppler", -1500, "true Doppler (Hz)")
	flag.Float64Var(&opts.delay, "delay", 255, "true code delay (chips)")
	flag.Float64Var(&opts.pfa, "pfa", 0, "override probability of false alarm")
	flag.IntVar(&opts.dwells, "dwells", 0, "override max dwells")
	flag.IntVar(&opts.integration, "ms", 0, "override coherent integration time (ms)")
	flag.BoolVar(&opts.bitFlag, "bit-transition", false, "search two segments to survive data bit transitions")
	flag.BoolVar(&opts.dataBits, "data-bits", false, "modulate navigation data bits on the present satellite")
	flag.BoolVar(&opts.verbose, "v", false, "log every verdict")
	flag.Parse()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var systems []gnss.System
	switch opts.system {
	case "gps":
		systems = []gnss.System{gnss.GPS}
	case "glonass":
		systems = []gnss.System{gnss.GLONASS}
	case "both":
		systems = []gnss.System{gnss.GLONASS, gnss.GPS}
	default:
		fmt.Fprintf(os.Stderr, "unknown -system %q\n", opts.system)
		os.Exit(2)
	}

	runner := trials.NewRunner(opts.workers, logger)
	for _, sys := range systems {
		for _, present := range []bool{true, false} {
			sc, err := scenario(sys, present, opts)
			if err != nil {
				fmt.Fprintln(os.Stderr, "ERROR building scenario:", err)
				os.Exit(1)
			}
			report, err := runner.Run(ctx, sc)
			if err != nil {
				fmt.Fprintln(os.Stderr, "ERROR running scenario:", err)
				os.Exit(1)
			}
			printReport(sc, report)
		}
	}
}

// scenario builds the present or absent experiment for sys. In the absent
// case the receiver searches for a different satellite than the one
// transmitted.
func scenario(sys gnss.System, present bool, opts options) (trials.Scenario, error) {
	var (
		emitted, target gnss.SignalID
		fs              float64
	)
	switch sys {
	case gnss.GLONASS:
		emitted = gnss.SignalID{System: gnss.GLONASS, PRN: 10, Signal: "1G"}
		target = emitted
		if !present {
			target.PRN = 20
		}
		fs = 31.75e6
	default:
		emitted = gnss.SignalID{System: gnss.GPS, PRN: 7, Signal: "1C"}
		target = emitted
		if !present {
			target.PRN = 8
		}
		fs = 4e6
	}

	cfg, err := acquisitionConfig(opts, fs)
	if err != nil {
		return trials.Scenario{}, err
	}

	name := fmt.Sprintf("%s present", target)
	if !present {
		name = fmt.Sprintf("%s absent (%s transmitted)", target, emitted)
	}
	return trials.Scenario{
		Name:   name,
		Config: cfg,
		Target: target,
		Satellites: []synth.Satellite{{
			ID:         emitted,
			DopplerHz:  opts.doppler,
			DelayChips: opts.delay,
			CN0dBHz:    opts.cn0,
			DataBits:   opts.dataBits,
		}},
		Noise:        true,
		Realizations: opts.realizations,
		Seed:         opts.seed,
		Tolerance:    stats.DefaultTolerance(time.Duration(cfg.CoherentIntegrationMs) * time.Millisecond),
	}, nil
}

func acquisitionConfig(opts options, fs float64) (acquisition.Config, error) {
	cfg := acquisition.DefaultConfig()
	cfg.SampleRate = fs
	if opts.configPath != "" {
		props, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, err
		}
		if !props.Has("GNSS-SDR.internal_fs_sps") && !props.Has("SignalSource.fs_hz") {
			props.Set("GNSS-SDR.internal_fs_sps", fmt.Sprint(fs))
		}
		if cfg, err = acquisition.ConfigFromProperties(props, "Acquisition"); err != nil {
			return cfg, err
		}
	}
	if opts.pfa > 0 {
		cfg.Pfa = opts.pfa
	}
	if opts.dwells > 0 {
		cfg.MaxDwells = opts.dwells
	}
	if opts.integration > 0 {
		cfg.CoherentIntegrationMs = opts.integration
	}
	if opts.bitFlag {
		cfg.BitTransitionFlag = true
	}
	return cfg, cfg.Validate()
}

func printReport(sc trials.Scenario, r trials.Report) {
	s := r.Summary
	fmt.Printf("Scenario: %s\n", sc.Name)
	fmt.Printf("  run %s: %d realizations in %v\n", r.ID, s.Trials, r.Elapsed.Round(time.Millisecond))
	fmt.Printf("  fs=%.0f Hz  pfa=%g  dwells=%d  T=%d ms  doppler_max=%.0f step=%.0f\n",
		sc.Config.SampleRate, sc.Config.Pfa, sc.Config.MaxDwells, sc.Config.CoherentIntegrationMs,
		sc.Config.DopplerMax, sc.Config.DopplerStep)
	fmt.Printf("  detections=%d correct=%d wrong_params=%d false_alarms=%d\n",
		s.Detections, s.Correct, s.WrongParams, s.FalseAlarms)
	if s.Present > 0 {
		fmt.Printf("  Pd=%.4f  Pfa(present)=%.4f\n", s.Pd, s.PfaPresent)
		fmt.Printf("  delay RMS=%.4f chips (MSE %.6f)  doppler RMS=%.1f Hz (MSE %.1f)\n",
			s.RMSDelayChips, s.MSEDelayChips, s.RMSDopplerHz, s.MSEDopplerHz)
	}
	if s.Absent > 0 {
		fmt.Printf("  Pfa(absent)=%.4f\n", s.PfaAbsent)
	}
	fmt.Printf("  mean acquisition time=%v\n\n", s.MeanAcqTime)
}
