// Package synth generates baseband sample streams containing GNSS signals
// buried in white Gaussian noise. It is the signal source for Monte Carlo
// trials and tests.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/star/gnssacq/internal/gnss"
)

var ErrNoSampleRate = errors.New("sample rate must be positive")

// Satellite is one simulated transmitter.
type Satellite struct {
	ID           gnss.SignalID
	DopplerHz    float64 // carrier Doppler, excluding any FDMA offset
	DelayChips   float64 // code phase at sample zero is -DelayChips
	CN0dBHz      float64 // relative to unit noise power; zero means unit amplitude
	CarrierPhase float64 // radians at sample zero
	DataBits     bool    // modulate random navigation symbols
}

// Config describes a scenario.
type Config struct {
	SampleRate float64
	Noise      bool // add complex AWGN with unit total power
	Seed       uint64
	Satellites []Satellite
}

type emitter struct {
	sat       Satellite
	code      []int8
	length    float64
	chipRate  float64 // code-Doppler adjusted
	carrierHz float64 // FDMA offset + Doppler
	amplitude float64
	bitChips  float64
	bitIndex  int64
	bitValue  float64
}

// Generator produces a continuous sample stream. Successive Block calls
// continue where the previous one stopped. Not safe for concurrent use.
type Generator struct {
	fs       float64
	noise    bool
	rng      *rand.Rand
	emitters []emitter
	n        int64
}

// New validates cfg and prepares the code tables.
func New(cfg Config) (*Generator, error) {
	if !(cfg.SampleRate > 0) {
		return nil, ErrNoSampleRate
	}
	g := &Generator{
		fs:    cfg.SampleRate,
		noise: cfg.Noise,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	for _, sat := range cfg.Satellites {
		if err := sat.ID.Validate(); err != nil {
			return nil, fmt.Errorf("satellite %s: %w", sat.ID, err)
		}
		spec, err := gnss.Lookup(sat.ID.Signal)
		if err != nil {
			return nil, err
		}
		offset := spec.CarrierOffset(sat.ID.PRN)

		amp := 1.0
		if sat.CN0dBHz != 0 {
			amp = math.Sqrt(math.Pow(10, sat.CN0dBHz/10) / cfg.SampleRate)
		}

		e := emitter{
			sat:       sat,
			code:      spec.Code(sat.ID.PRN),
			length:    float64(spec.Length),
			chipRate:  spec.ChipRate * (1 + sat.DopplerHz/(spec.Carrier+offset)),
			carrierHz: offset + sat.DopplerHz,
			amplitude: amp,
			bitChips:  spec.BitTime * spec.ChipRate,
		}
		e.bitIndex = math.MinInt64
		g.emitters = append(g.emitters, e)
	}
	return g, nil
}

// Block returns the next n samples.
func (g *Generator) Block(n int) []complex64 {
	out := make([]complex64, n)
	g.Fill(out)
	return out
}

// Fill overwrites dst with the next len(dst) samples.
func (g *Generator) Fill(dst []complex64) {
	for i := range dst {
		idx := float64(g.n + int64(i))

		var v complex128
		for k := range g.emitters {
			v += g.emitters[k].sample(idx, g.fs, g.rng)
		}
		if g.noise {
			v += complex(g.rng.NormFloat64()*math.Sqrt2/2, g.rng.NormFloat64()*math.Sqrt2/2)
		}
		dst[i] = complex64(v)
	}
	g.n += int64(len(dst))
}

// Skip advances the stream by n samples without generating them.
func (g *Generator) Skip(n int) {
	g.n += int64(n)
}

func (e *emitter) sample(idx, fs float64, rng *rand.Rand) complex128 {
	phase := idx*e.chipRate/fs - e.sat.DelayChips
	chip := math.Mod(phase, e.length)
	if chip < 0 {
		chip += e.length
	}
	v := float64(e.code[int(chip)%len(e.code)])

	if e.sat.DataBits {
		if bit := int64(math.Floor(phase / e.bitChips)); bit != e.bitIndex {
			e.bitIndex = bit
			e.bitValue = 1
			if rng.IntN(2) == 0 {
				e.bitValue = -1
			}
		}
		v *= e.bitValue
	}

	arg := 2*math.Pi*math.Mod(e.carrierHz*idx/fs, 1) + e.sat.CarrierPhase
	s, c := math.Sincos(arg)
	return complex(e.amplitude*v*c, e.amplitude*v*s)
}

// Generate is a convenience wrapper returning the first n samples of cfg.
func Generate(cfg Config, n int) ([]complex64, error) {
	g, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return g.Block(n), nil
}
