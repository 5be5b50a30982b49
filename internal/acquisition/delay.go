package acquisition

import (
	"math"

	"github.com/star/gnssacq/internal/gnss"
)

// DelayChips converts an acquisition delay in samples to code chips,
// removing the fixed pipeline latency and wrapping into one code period.
func DelayChips(delaySamples, pipelineDelay float64, spec gnss.CodeSpec, sampleRate float64) float64 {
	chips := (delaySamples - pipelineDelay) * spec.ChipRate / sampleRate
	chips = math.Mod(chips, float64(spec.Length))
	if chips < 0 {
		chips += float64(spec.Length)
	}
	return chips
}

// ChipError returns the circular distance in chips between two code phases.
func ChipError(a, b float64, spec gnss.CodeSpec) float64 {
	l := float64(spec.Length)
	d := math.Mod(math.Abs(a-b), l)
	return math.Min(d, l-d)
}
