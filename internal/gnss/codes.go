package gnss

import "fmt"

// CodeSpec describes a spreading code family.
type CodeSpec struct {
	Signal   string
	System   System
	Length   int     // chips per code period
	ChipRate float64 // chips per second
	Carrier  float64 // nominal carrier frequency (Hz), FDMA band centre
	BitTime  float64 // navigation symbol duration (s)
	MaxPRN   int

	generate func(prn int) []int8
	offset   func(prn int) float64
}

// Period returns the code period in seconds.
func (c CodeSpec) Period() float64 {
	return float64(c.Length) / c.ChipRate
}

// Code returns one period of the code for prn as +1/-1 chips.
func (c CodeSpec) Code(prn int) []int8 {
	return c.generate(prn)
}

// CarrierOffset returns the fixed carrier offset (Hz) of prn relative to the
// band centre. Zero for CDMA signals; the FDMA channel offset for GLONASS.
func (c CodeSpec) CarrierOffset(prn int) float64 {
	if c.offset == nil {
		return 0
	}
	return c.offset(prn)
}

var catalogue = map[string]CodeSpec{
	"1C": {
		Signal:   "1C",
		System:   GPS,
		Length:   1023,
		ChipRate: 1.023e6,
		Carrier:  1575.42e6,
		BitTime:  20e-3,
		MaxPRN:   len(gpsG2Delay),
		generate: gpsL1CA,
	},
	"1G": {
		Signal:   "1G",
		System:   GLONASS,
		Length:   511,
		ChipRate: 0.511e6,
		Carrier:  1602e6,
		BitTime:  10e-3,
		MaxPRN:   len(glonassChannels),
		generate: func(int) []int8 { return glonassL1CA() },
		offset: func(prn int) float64 {
			return float64(GlonassChannel(prn)) * GlonassChannelSpacing
		},
	},
}

// Lookup returns the code specification for a two-character signal tag.
func Lookup(signal string) (CodeSpec, error) {
	spec, ok := catalogue[signal]
	if !ok {
		return CodeSpec{}, fmt.Errorf("%w: %q", ErrUnknownSignal, signal)
	}
	return spec, nil
}

// G2 delays (chips) for GPS PRN 1-32 (IS-GPS-200 table 3-Ia).
var gpsG2Delay = [...]int{
	5, 6, 7, 8, 17, 18, 139, 140, 141, 251,
	252, 254, 255, 256, 257, 258, 469, 470, 471, 472,
	473, 474, 509, 512, 513, 514, 515, 516, 859, 860,
	861, 862,
}

// gpsL1CA generates the GPS L1 C/A Gold code. Chip value +1 is logic 1.
func gpsL1CA(prn int) []int8 {
	const n = 1023
	var r1, r2 [10]int8
	for i := range r1 {
		r1[i], r2[i] = -1, -1
	}
	g1 := make([]int8, n)
	g2 := make([]int8, n)
	for i := 0; i < n; i++ {
		g1[i], g2[i] = r1[9], r2[9]
		c1 := r1[2] * r1[9]
		c2 := r2[1] * r2[2] * r2[5] * r2[7] * r2[8] * r2[9]
		copy(r1[1:], r1[:9])
		copy(r2[1:], r2[:9])
		r1[0], r2[0] = c1, c2
	}
	code := make([]int8, n)
	j := n - gpsG2Delay[prn-1]
	for i := 0; i < n; i++ {
		code[i] = -g1[i] * g2[j%n]
		j++
	}
	return code
}

// glonassL1CA generates the 511-chip GLONASS ranging code (g(x)=1+x^5+x^9,
// register all ones, output from stage 7). Logic 0 maps to +1.
func glonassL1CA() []int8 {
	const n = 511
	var reg [9]uint8
	for i := range reg {
		reg[i] = 1
	}
	code := make([]int8, n)
	for i := 0; i < n; i++ {
		code[i] = 1 - 2*int8(reg[6])
		fb := reg[4] ^ reg[8]
		copy(reg[1:], reg[:8])
		reg[0] = fb
	}
	return code
}

// GlonassChannelSpacing is the L1 FDMA channel spacing in Hz.
const GlonassChannelSpacing = 562.5e3

// Frequency channel number for GLONASS slots 1-24.
var glonassChannels = [...]int{
	1, -4, 5, 6, 1, -4, 5, 6,
	-2, -7, 0, -1, -2, -7, 0, -1,
	4, -3, 3, 2, 4, -3, 3, 2,
}

// GlonassChannel returns the FDMA frequency channel number k of a slot.
// Out-of-range slots return 0.
func GlonassChannel(prn int) int {
	if prn < 1 || prn > len(glonassChannels) {
		return 0
	}
	return glonassChannels[prn-1]
}
