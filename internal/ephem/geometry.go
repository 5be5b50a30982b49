package ephem

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	j2000      = 2451545.0
	omegaEarth = 7.292115146706979e-5 // rad/s
	lightSpeed = 299792458.0          // m/s

	wgs84A  = 6378137.0
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// State is an Earth-fixed position (m) and velocity (m/s).
type State struct {
	Pos [3]float64
	Vel [3]float64
}

// julianDate converts a UTC time to a Julian date.
func julianDate(t time.Time) float64 {
	y := float64(t.Year())
	m := float64(t.Month())
	if m <= 2 {
		y--
		m += 12
	}
	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)
	dayFrac := (float64(t.Hour()) + float64(t.Minute())/60 +
		(float64(t.Second())+float64(t.Nanosecond())/1e9)/3600) / 24
	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + float64(t.Day()) + b - 1524.5 + dayFrac
}

// gmst returns Greenwich mean sidereal time in radians (IAU-82).
func gmst(t time.Time) float64 {
	tu := (julianDate(t.UTC()) - j2000) / 36525.0
	sec := 67310.54841 + (3155760000.0+8640184.812866)*tu + 0.093104*tu*tu - 6.2e-6*tu*tu*tu
	sec = math.Mod(sec, 86400)
	if sec < 0 {
		sec += 86400
	}
	return sec / 86400 * 2 * math.Pi
}

// temeToECEF rotates an SGP4 TEME state (km, km/s) into the Earth-fixed
// frame (m, m/s) by the sidereal angle theta. Polar motion is ignored.
func temeToECEF(pos, vel [3]float64, theta float64) State {
	c, s := math.Cos(theta), math.Sin(theta)
	x := pos[0]*c + pos[1]*s
	y := -pos[0]*s + pos[1]*c
	vx := vel[0]*c + vel[1]*s + omegaEarth*y
	vy := -vel[0]*s + vel[1]*c - omegaEarth*x
	return State{
		Pos: [3]float64{x * 1000, y * 1000, pos[2] * 1000},
		Vel: [3]float64{vx * 1000, vy * 1000, vel[2] * 1000},
	}
}

// Observer is a fixed receiver antenna location.
type Observer struct {
	LatDeg, LonDeg, AltM float64

	lat, lon float64
	ecef     [3]float64
}

// NewObserver precomputes the Earth-fixed position of a geodetic location.
func NewObserver(latDeg, lonDeg, altM float64) Observer {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return Observer{
		LatDeg: latDeg,
		LonDeg: lonDeg,
		AltM:   altM,
		lat:    lat,
		lon:    lon,
		ecef: [3]float64{
			(n + altM) * cosLat * math.Cos(lon),
			(n + altM) * cosLat * math.Sin(lon),
			(n*(1-wgs84E2) + altM) * sinLat,
		},
	}
}

// ParseObserver parses "lat,lon[,alt]" in degrees and metres.
func ParseObserver(s string) (Observer, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return Observer{}, fmt.Errorf("observer %q: want lat,lon[,alt]", s)
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Observer{}, fmt.Errorf("observer %q: %w", s, err)
		}
		vals[i] = v
	}
	if vals[0] < -90 || vals[0] > 90 || vals[1] < -180 || vals[1] > 360 {
		return Observer{}, fmt.Errorf("observer %q: coordinates out of range", s)
	}
	return NewObserver(vals[0], vals[1], vals[2]), nil
}

// Look is the line of sight from an observer to a satellite.
type Look struct {
	AzimuthDeg   float64
	ElevationDeg float64
	RangeM       float64
	RangeRateMS  float64 // positive when the satellite recedes
}

// LookAt computes the topocentric view of sat from o.
func (o Observer) LookAt(sat State) Look {
	var r [3]float64
	for i := range r {
		r[i] = sat.Pos[i] - o.ecef[i]
	}
	rng := math.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2])

	sinLat, cosLat := math.Sin(o.lat), math.Cos(o.lat)
	sinLon, cosLon := math.Sin(o.lon), math.Cos(o.lon)
	south := sinLat*cosLon*r[0] + sinLat*sinLon*r[1] - cosLat*r[2]
	east := -sinLon*r[0] + cosLon*r[1]
	up := cosLat*cosLon*r[0] + cosLat*sinLon*r[1] + sinLat*r[2]

	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	rate := (r[0]*sat.Vel[0] + r[1]*sat.Vel[1] + r[2]*sat.Vel[2]) / rng
	return Look{
		AzimuthDeg:   az * 180 / math.Pi,
		ElevationDeg: math.Asin(up/rng) * 180 / math.Pi,
		RangeM:       rng,
		RangeRateMS:  rate,
	}
}

// DopplerHz converts a range rate to the carrier Doppler seen by a static
// receiver at carrier frequency f.
func DopplerHz(rangeRate, f float64) float64 {
	return -rangeRate / lightSpeed * f
}

// SubPoint returns the geodetic latitude, longitude (degrees) and height (m)
// beneath an Earth-fixed position.
func SubPoint(pos [3]float64) (latDeg, lonDeg, altM float64) {
	x, y, z := pos[0], pos[1], pos[2]
	p := math.Hypot(x, y)
	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < 5; i++ {
		s := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*s*s)
		lat = math.Atan2(z+wgs84E2*n*s, p)
	}
	s, c := math.Sin(lat), math.Cos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*s*s)
	if math.Abs(c) > 1e-10 {
		altM = p/c - n
	} else {
		altM = math.Abs(z)/math.Abs(s) - n*(1-wgs84E2)
	}
	return lat * 180 / math.Pi, math.Atan2(y, x) * 180 / math.Pi, altM
}
