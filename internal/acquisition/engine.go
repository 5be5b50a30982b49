package acquisition

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/star/gnssacq/internal/assist"
	"github.com/star/gnssacq/internal/gnss"
)

var (
	ErrNotConfigured = errors.New("no signal configured")
	ErrNotIdle       = errors.New("acquisition attempt already in progress")
	ErrNotSearching  = errors.New("no acquisition attempt in progress")
	ErrShortBlock    = errors.New("block shorter than required")
)

// exclusionChips is the half-width of the window around the peak delay that
// is left out of the noise floor estimate.
const exclusionChips = 2

// Engine runs PCPS acquisition for one signal at a time. It owns its FFT plan
// and scratch buffers, so an Engine must only be driven from one goroutine.
type Engine struct {
	cfg    Config
	base   *slog.Logger
	logger *slog.Logger

	signal     gnss.SignalID
	spec       gnss.CodeSpec
	configured bool

	periods          int // code periods per coherent integration
	samplesPerPeriod int
	fftLen           int
	carrierOffset    float64
	plan             *fourier.CmplxFFT
	replicaConj      []complex128

	hint    *assist.Hint
	bins    []float64
	thresh  float64
	state   State
	dwell   int
	last    Result
	hasLast bool

	// Scratch, reused across dwells.
	seq    []complex128
	coeff  []complex128
	corr   []complex128
	power  []float64
	colSum []float64
}

// NewEngine validates cfg and returns an idle engine with no signal.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, base: logger, logger: logger}, nil
}

// Config returns the engine's parameter bundle.
func (e *Engine) Config() Config { return e.cfg }

// SetSignal selects the satellite signal to search for and precomputes the
// replica spectrum. Only allowed while idle.
func (e *Engine) SetSignal(id gnss.SignalID) error {
	if e.state == StateSearching {
		return ErrNotIdle
	}
	if err := id.Validate(); err != nil {
		return err
	}
	spec, err := gnss.Lookup(id.Signal)
	if err != nil {
		return err
	}

	periods, err := integrationPeriods(e.cfg.CoherentIntegrationMs, spec)
	if err != nil {
		return err
	}
	replica, err := gnss.Replica(id, e.cfg.SampleRate, periods)
	if err != nil {
		return err
	}

	n := len(replica)
	if e.plan == nil || e.plan.Len() != n {
		e.plan = fourier.NewCmplxFFT(n)
		e.seq = make([]complex128, n)
		e.coeff = make([]complex128, n)
		e.corr = make([]complex128, n)
	}
	conj := e.plan.Coefficients(nil, replica)
	for i, v := range conj {
		conj[i] = cmplx.Conj(v)
	}

	e.signal = id
	e.spec = spec
	e.periods = periods
	e.samplesPerPeriod = gnss.SamplesPerPeriod(spec, e.cfg.SampleRate)
	e.fftLen = n
	e.carrierOffset = spec.CarrierOffset(id.PRN)
	e.replicaConj = conj
	e.power = make([]float64, e.samplesPerPeriod)
	e.colSum = make([]float64, e.samplesPerPeriod)
	e.configured = true
	e.logger = e.base.With("signal", id.String())
	return nil
}

func integrationPeriods(ms int, spec gnss.CodeSpec) (int, error) {
	exact := float64(ms) * 1e-3 / spec.Period()
	periods := int(math.Round(exact))
	if periods < 1 || math.Abs(exact-float64(periods)) > 1e-6 {
		return 0, fmt.Errorf("%w: %d ms with %s", ErrIntegrationCodes, ms, spec.Signal)
	}
	return periods, nil
}

// Signal returns the configured signal.
func (e *Engine) Signal() gnss.SignalID { return e.signal }

// SetDopplerMax changes the search half-width for subsequent attempts.
func (e *Engine) SetDopplerMax(hz float64) error {
	if e.state == StateSearching {
		return ErrNotIdle
	}
	cfg := e.cfg
	cfg.DopplerMax = hz
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// SetDopplerStep changes the bin width for subsequent attempts.
func (e *Engine) SetDopplerStep(hz float64) error {
	if e.state == StateSearching {
		return ErrNotIdle
	}
	cfg := e.cfg
	cfg.DopplerStep = hz
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// SetAssist narrows the next attempt's Doppler window to the hint. A nil
// hint restores the full symmetric search.
func (e *Engine) SetAssist(h *assist.Hint) {
	if h == nil {
		e.hint = nil
		return
	}
	hint := *h
	e.hint = &hint
}

// Start begins an attempt. The Doppler grid and threshold are fixed here.
func (e *Engine) Start() error {
	if !e.configured {
		return ErrNotConfigured
	}
	if e.state != StateIdle {
		return ErrNotIdle
	}

	center, half := 0.0, e.cfg.DopplerMax
	if e.hint != nil {
		if lo, hi, ok := e.hint.Window(e.cfg.DopplerMax); ok {
			center, half = (lo+hi)/2, (hi-lo)/2
		}
	}
	e.bins = dopplerBins(center, half, e.cfg.DopplerStep)

	looks := 1
	if e.cfg.BitTransitionFlag {
		looks = 2
	}
	e.thresh = Threshold(e.cfg.Pfa, len(e.bins)*e.samplesPerPeriod, looks)

	e.state = StateSearching
	e.dwell = 0
	e.hasLast = false
	e.logger.Debug("acquisition started",
		"bins", len(e.bins),
		"doppler_center_hz", center,
		"threshold", e.thresh,
	)
	return nil
}

// dopplerBins returns bin centres center+k*step for |k*step| <= half.
func dopplerBins(center, half, step float64) []float64 {
	n := int(math.Floor(half/step + 1e-9))
	bins := make([]float64, 0, 2*n+1)
	for k := -n; k <= n; k++ {
		bins = append(bins, center+float64(k)*step)
	}
	return bins
}

// Reset abandons any attempt and returns the engine to idle.
func (e *Engine) Reset() {
	e.state = StateIdle
	e.dwell = 0
	e.hasLast = false
	e.last = Result{}
}

// State returns the attempt state.
func (e *Engine) State() State { return e.state }

// Dwell returns the number of dwells evaluated in the current attempt.
func (e *Engine) Dwell() int { return e.dwell }

// Threshold returns the threshold of the current attempt, or zero before Start.
func (e *Engine) Threshold() float64 { return e.thresh }

// Bins returns the Doppler bin centres of the current attempt.
func (e *Engine) Bins() []float64 { return e.bins }

// Last returns the summary of the most recent dwell.
func (e *Engine) Last() (Result, bool) { return e.last, e.hasLast }

// RequiredSamples is the block length consumed by one dwell.
func (e *Engine) RequiredSamples() int {
	if e.cfg.BitTransitionFlag {
		return 2 * e.fftLen
	}
	return e.fftLen
}

// ProcessBlock evaluates one dwell on block. It returns OutcomeNone while the
// attempt continues, and OutcomeSuccess or OutcomeFail when it ends. Samples
// beyond RequiredSamples are ignored.
func (e *Engine) ProcessBlock(block []complex64) (Outcome, error) {
	if e.state != StateSearching {
		return OutcomeNone, ErrNotSearching
	}
	if need := e.RequiredSamples(); len(block) < need {
		return OutcomeNone, fmt.Errorf("%w: got %d samples, need %d", ErrShortBlock, len(block), need)
	}

	e.dwell++
	res := e.search(block)
	e.last = res
	e.hasLast = true

	e.logger.Debug("acquisition dwell",
		"dwell", e.dwell,
		"statistic", res.Statistic,
		"threshold", res.Threshold,
		"delay_samples", res.DelaySamples,
		"doppler_hz", res.DopplerHz,
	)

	if res.Statistic >= e.thresh {
		e.state = StateSuccess
		return OutcomeSuccess, nil
	}
	if e.dwell >= e.cfg.MaxDwells {
		e.state = StateFail
		return OutcomeFail, nil
	}
	return OutcomeNone, nil
}

// search computes the delay/Doppler power grid of one dwell and its peak.
func (e *Engine) search(block []complex64) Result {
	n := e.samplesPerPeriod
	clear(e.colSum)

	var (
		total     float64
		peak      = -1.0
		peakDelay int
		peakBin   int
		profile   []float64
	)
	if e.cfg.Dump {
		profile = make([]float64, len(e.bins))
	}

	for b, f := range e.bins {
		e.correlate(block, 0, f)
		for d := 0; d < n; d++ {
			e.power[d] = sqAbs(e.corr[d])
		}
		if e.cfg.BitTransitionFlag {
			e.correlate(block, e.fftLen, f)
			for d := 0; d < n; d++ {
				e.power[d] = math.Max(e.power[d], sqAbs(e.corr[d]))
			}
		}

		binPeak := 0.0
		for d, p := range e.power[:n] {
			total += p
			e.colSum[d] += p
			if p > peak {
				peak, peakDelay, peakBin = p, d, b
			}
			binPeak = math.Max(binPeak, p)
		}
		if profile != nil {
			profile[b] = binPeak
		}
	}

	floor := e.noiseFloor(total, peakDelay)
	stat := 0.0
	if floor > 0 {
		stat = peak / floor
	}
	if profile != nil {
		e.logger.Info("acquisition dump", "dwell", e.dwell, "bin_peaks", profile, "noise_floor", floor)
	}

	return Result{
		PeakPower:    peak,
		NoiseFloor:   floor,
		Statistic:    stat,
		Threshold:    e.thresh,
		DelaySamples: peakDelay,
		DopplerHz:    e.bins[peakBin],
		DopplerBin:   peakBin,
		Bins:         len(e.bins),
		Dwell:        e.dwell,
	}
}

// correlate wipes the carrier at bin frequency f off block[start:start+fftLen]
// and leaves the circular cross-correlation with the replica in e.corr.
func (e *Engine) correlate(block []complex64, start int, f float64) {
	w := -2 * math.Pi * (f + e.carrierOffset) / e.cfg.SampleRate
	for i := range e.seq {
		idx := start + i
		// Reduce the phase before evaluating so long blocks keep precision.
		s, c := math.Sincos(math.Mod(w*float64(idx), 2*math.Pi))
		x := block[idx]
		e.seq[i] = complex128(x) * complex(c, s)
	}
	e.plan.Coefficients(e.coeff, e.seq)
	for i := range e.coeff {
		e.coeff[i] *= e.replicaConj[i]
	}
	e.plan.Sequence(e.corr, e.coeff)
}

// noiseFloor is the mean cell power over the grid excluding delays within
// exclusionChips of the peak, in every bin.
func (e *Engine) noiseFloor(total float64, peakDelay int) float64 {
	n := e.samplesPerPeriod
	bins := len(e.bins)
	half := int(math.Ceil(exclusionChips * e.cfg.SampleRate / e.spec.ChipRate))
	width := 2*half + 1
	if width >= n {
		return total / float64(bins*n)
	}

	excluded := 0.0
	for k := -half; k <= half; k++ {
		d := ((peakDelay+k)%n + n) % n
		excluded += e.colSum[d]
	}
	return (total - excluded) / float64(bins*(n-width))
}

func sqAbs(v complex128) float64 {
	return real(v)*real(v) + imag(v)*imag(v)
}

// CN0 estimates carrier-to-noise density (dB-Hz) from a normalized detection
// statistic and the coherent integration time. It returns 0 when the
// statistic carries no signal energy.
func CN0(statistic, integration float64) float64 {
	if statistic <= 1 || integration <= 0 {
		return 0
	}
	return 10 * math.Log10((statistic-1)/integration)
}

// IntegrationTime returns the coherent integration time in seconds.
func (e *Engine) IntegrationTime() float64 {
	return float64(e.fftLen) / e.cfg.SampleRate
}

// Record fills rec from the last dwell of a successful attempt. It leaves
// rec.Valid false otherwise.
func (e *Engine) Record(rec *SyncRecord) {
	rec.Signal = e.signal
	rec.Dwells = e.dwell
	rec.Threshold = e.thresh
	rec.Valid = false
	rec.TrackingReady = false
	if e.state != StateSuccess || !e.hasLast {
		return
	}
	rec.AcqDelaySamples = float64(e.last.DelaySamples)
	rec.AcqDopplerHz = e.last.DopplerHz
	rec.Statistic = e.last.Statistic
	rec.CN0dBHz = CN0(e.last.Statistic, e.IntegrationTime())
	rec.Valid = true
	rec.TrackingReady = true
}

// DelayChips converts the record's delay to code chips using the engine's
// sample rate and pipeline delay.
func (e *Engine) DelayChips(rec SyncRecord) float64 {
	return DelayChips(rec.AcqDelaySamples, e.cfg.PipelineDelaySamples, e.spec, e.cfg.SampleRate)
}
