package assist

import (
	"time"

	"github.com/star/gnssacq/internal/gnss"
)

// Hint narrows the acquisition search for one signal.
type Hint struct {
	DopplerHz     float64   // expected Doppler, excluding any FDMA carrier offset
	UncertaintyHz float64   // half-width of the window around DopplerHz
	ElevationDeg  float64   // elevation above the observer's horizon
	ComputedAt    time.Time // when the prediction was made
	Source        string
}

// Window returns the Doppler search interval implied by the hint, clipped to
// [-limit, +limit]. ok is false when the hint window does not intersect it.
func (h Hint) Window(limit float64) (lo, hi float64, ok bool) {
	lo = max(h.DopplerHz-h.UncertaintyHz, -limit)
	hi = min(h.DopplerHz+h.UncertaintyHz, limit)
	return lo, hi, lo <= hi
}

// Store is the process-wide assistance map keyed by signal.
type Store = Map[gnss.SignalID, Hint]

// NewStore creates an empty assistance store.
func NewStore() *Store {
	return NewMap[gnss.SignalID, Hint]()
}
