package ephem

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// orbit wraps an initialized SGP4 model for one element set.
type orbit struct {
	sat satellite.Satellite
	id  int
}

// newOrbit initializes SGP4. Lines are checked first because the library
// aborts the process on malformed input.
func newOrbit(el Element) (*orbit, error) {
	l1, l2 := strings.TrimSpace(el.Line1), strings.TrimSpace(el.Line2)
	if len(l1) != 69 || len(l2) != 69 {
		return nil, fmt.Errorf("catalog %d: element lines must be 69 characters, got %d and %d", el.CatalogID, len(l1), len(l2))
	}
	if l1[0] != '1' || l2[0] != '2' {
		return nil, fmt.Errorf("catalog %d: element lines out of order", el.CatalogID)
	}
	sat := satellite.TLEToSat(l1, l2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("catalog %d: sgp4 init failed: code=%d %s", el.CatalogID, sat.Error, sat.ErrorStr)
	}
	return &orbit{sat: sat, id: el.CatalogID}, nil
}

// stateAt propagates to t and returns the Earth-fixed state.
func (o *orbit) stateAt(t time.Time) (State, error) {
	t = t.UTC()
	pos, vel := satellite.Propagate(o.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	p := [3]float64{pos.X, pos.Y, pos.Z}
	v := [3]float64{vel.X, vel.Y, vel.Z}
	for _, c := range append(p[:], v[:]...) {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return State{}, fmt.Errorf("catalog %d: sgp4 output is not finite", o.id)
		}
	}
	if r := math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2]); r < 6200 || r > 50000 {
		return State{}, fmt.Errorf("catalog %d: unreasonable orbit radius %.1f km", o.id, r)
	}
	return temeToECEF(p, v, gmst(t)), nil
}
