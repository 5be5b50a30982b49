package acquisition

import (
	"errors"
	"fmt"
	"math"

	"github.com/star/gnssacq/internal/config"
)

var (
	ErrZeroDopplerStep  = errors.New("doppler step must be positive")
	ErrZeroDwells       = errors.New("max dwells must be at least 1")
	ErrIntegrationTime  = errors.New("coherent integration time must be at least 1 ms")
	ErrDopplerMax       = errors.New("doppler max must not be negative")
	ErrPfa              = errors.New("false alarm probability must be in (0, 1)")
	ErrSampleRate       = errors.New("sample rate must be positive")
	ErrPipelineDelay    = errors.New("pipeline delay must not be negative")
	ErrIntegrationCodes = errors.New("coherent integration must span a whole number of code periods")
)

// Config is the per-run acquisition parameter bundle. It is copied into each
// Engine; changing a Config after NewEngine has no effect on the engine.
type Config struct {
	CoherentIntegrationMs int     // coherent integration per dwell
	MaxDwells             int     // dwells per attempt before declaring failure
	DopplerMax            float64 // search half-width (Hz)
	DopplerStep           float64 // bin width (Hz)
	Pfa                   float64 // target false-alarm probability per attempt dwell
	BitTransitionFlag     bool    // evaluate two consecutive integrations, keep the stronger
	SampleRate            float64 // complex samples per second
	PipelineDelaySamples  float64 // fixed upstream latency removed when converting delay to chips
	Dump                  bool    // log the full per-bin peak profile of every dwell
}

// DefaultConfig returns the defaults used for keys missing from a property bag.
func DefaultConfig() Config {
	return Config{
		CoherentIntegrationMs: 1,
		MaxDwells:             1,
		DopplerMax:            5000,
		DopplerStep:           500,
		Pfa:                   0.01,
		SampleRate:            4e6,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.CoherentIntegrationMs < 1:
		return fmt.Errorf("%w: got %d", ErrIntegrationTime, c.CoherentIntegrationMs)
	case c.MaxDwells < 1:
		return fmt.Errorf("%w: got %d", ErrZeroDwells, c.MaxDwells)
	case !(c.DopplerStep > 0):
		return fmt.Errorf("%w: got %g", ErrZeroDopplerStep, c.DopplerStep)
	case c.DopplerMax < 0 || math.IsNaN(c.DopplerMax):
		return fmt.Errorf("%w: got %g", ErrDopplerMax, c.DopplerMax)
	case !(c.Pfa > 0 && c.Pfa < 1):
		return fmt.Errorf("%w: got %g", ErrPfa, c.Pfa)
	case !(c.SampleRate > 0):
		return fmt.Errorf("%w: got %g", ErrSampleRate, c.SampleRate)
	case c.PipelineDelaySamples < 0:
		return fmt.Errorf("%w: got %g", ErrPipelineDelay, c.PipelineDelaySamples)
	}
	return nil
}

// ConfigFromProperties builds a Config from the keys under role
// (conventionally "Acquisition"). The sample rate is read from
// GNSS-SDR.internal_fs_sps, falling back to SignalSource.fs_hz.
func ConfigFromProperties(props config.Properties, role string) (Config, error) {
	cfg := DefaultConfig()
	var err error

	if cfg.CoherentIntegrationMs, err = props.Int(role+".coherent_integration_time_ms", cfg.CoherentIntegrationMs); err != nil {
		return cfg, err
	}
	if cfg.MaxDwells, err = props.Int(role+".max_dwells", cfg.MaxDwells); err != nil {
		return cfg, err
	}
	if cfg.DopplerMax, err = props.Float(role+".doppler_max", cfg.DopplerMax); err != nil {
		return cfg, err
	}
	if cfg.DopplerStep, err = props.Float(role+".doppler_step", cfg.DopplerStep); err != nil {
		return cfg, err
	}
	if cfg.Pfa, err = props.Float(role+".pfa", cfg.Pfa); err != nil {
		return cfg, err
	}
	if cfg.BitTransitionFlag, err = props.Bool(role+".bit_transition_flag", cfg.BitTransitionFlag); err != nil {
		return cfg, err
	}
	if cfg.PipelineDelaySamples, err = props.Float(role+".pipeline_delay_samples", cfg.PipelineDelaySamples); err != nil {
		return cfg, err
	}
	if cfg.Dump, err = props.Bool(role+".dump", cfg.Dump); err != nil {
		return cfg, err
	}

	fs, err := props.Float("SignalSource.fs_hz", cfg.SampleRate)
	if err != nil {
		return cfg, err
	}
	if cfg.SampleRate, err = props.Float("GNSS-SDR.internal_fs_sps", fs); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}
