package acquisition

import "math"

// Threshold returns the detection threshold for a normalized statistic
// (grid peak power over mean power) such that the probability that any of
// cells independent noise-only cells exceeds it equals pfa.
//
// Each cell's power is modelled as the maximum of `looks` independent
// exponential variables (looks=1 for a single coherent integration, 2 when
// two integrations are compared). The noise floor is the mean of such a
// cell, the harmonic number H(looks), so the raw-power threshold is divided
// by it.
func Threshold(pfa float64, cells, looks int) float64 {
	if cells < 1 {
		cells = 1
	}
	if looks < 1 {
		looks = 1
	}
	n := float64(cells) * float64(looks)
	// Per-exponential exceedance p solving 1-(1-p)^n = pfa.
	p := -math.Expm1(math.Log1p(-pfa) / n)
	raw := -math.Log(p)

	mean := 0.0
	for k := 1; k <= looks; k++ {
		mean += 1 / float64(k)
	}
	return raw / mean
}
