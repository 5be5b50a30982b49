package gnss

import (
	"fmt"
	"math"
)

// SamplesPerPeriod returns the number of samples spanning one code period at
// sampleRate, truncated. The small bias keeps exact products such as
// 31.75 MHz * 1 ms from truncating one sample short.
func SamplesPerPeriod(spec CodeSpec, sampleRate float64) int {
	return int(math.Floor(sampleRate*spec.Period() + 1e-6))
}

// Replica samples periods consecutive code periods of id at sampleRate,
// starting at code phase zero. Each period holds SamplesPerPeriod samples.
func Replica(id SignalID, sampleRate float64, periods int) ([]complex128, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}
	if periods < 1 {
		return nil, fmt.Errorf("periods must be at least 1, got %d", periods)
	}
	spec, _ := Lookup(id.Signal)
	code := spec.Code(id.PRN)
	n := SamplesPerPeriod(spec, sampleRate)
	if n < spec.Length {
		return nil, fmt.Errorf("sample rate %g Hz is below the %s chip rate", sampleRate, id.Signal)
	}

	chipsPerSample := spec.ChipRate / sampleRate
	out := make([]complex128, n*periods)
	for p := 0; p < periods; p++ {
		base := p * n
		for i := 0; i < n; i++ {
			chip := int(float64(i)*chipsPerSample) % spec.Length
			out[base+i] = complex(float64(code[chip]), 0)
		}
	}
	return out, nil
}
