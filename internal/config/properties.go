// Package config implements the flat property bag that configures
// acquisition channels.
//
// Keys are dotted paths ("Acquisition.doppler_max"). Files may be written in
// the classic receiver format:
//
//	; comment
//	GNSS-SDR.internal_fs_sps=31750000
//	Acquisition.pfa=0.001
//
// or as YAML, in which case nested mappings are flattened with dots.
package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Properties is a flat string-to-string configuration mapping. Unknown keys
// are carried but ignored by consumers.
type Properties map[string]string

// Set stores value under key.
func (p Properties) Set(key, value string) {
	p[key] = value
}

// Has reports whether key is present.
func (p Properties) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the value of key, or def if absent.
func (p Properties) String(key, def string) string {
	if v, ok := p[key]; ok {
		return strings.TrimSpace(v)
	}
	return def
}

// Int returns key parsed as an integer, or def if absent.
func (p Properties) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		// Accept integral floats such as "1.0" written by generators.
		f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if ferr != nil || f != float64(int(f)) {
			return def, errors.Wrapf(err, "property %s", key)
		}
		n = int(f)
	}
	return n, nil
}

// Float returns key parsed as a float64, or def if absent.
func (p Properties) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def, errors.Wrapf(err, "property %s", key)
	}
	return f, nil
}

// Bool returns key parsed as a boolean, or def if absent.
func (p Properties) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, errors.Wrapf(err, "property %s", key)
	}
	return b, nil
}

// Sub returns the properties under prefix with the prefix and its dot
// stripped, e.g. Sub("Channel0") maps "Channel0.prn" to "prn".
func (p Properties) Sub(prefix string) Properties {
	out := Properties{}
	prefix += "."
	for k, v := range p {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[rest] = v
		}
	}
	return out
}
