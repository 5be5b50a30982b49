// Package gnss describes the satellite signals the receiver can acquire:
// signal identifiers, spreading-code generators and sampled local replicas.
package gnss

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// System identifies a satellite constellation by its RINEX letter.
type System byte

const (
	GPS     System = 'G'
	GLONASS System = 'R'
	Galileo System = 'E'
	BeiDou  System = 'C'
)

var (
	ErrUnknownSystem = errors.New("unknown satellite system")
	ErrUnknownSignal = errors.New("unknown signal code")
	ErrInvalidPRN    = errors.New("prn out of range")
)

// String returns the single-letter system tag.
func (s System) String() string {
	return string(rune(s))
}

// ParseSystem converts a system tag ("G", "R", ...) to a System.
func ParseSystem(s string) (System, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSystem, s)
	}
	switch sys := System(strings.ToUpper(s)[0]); sys {
	case GPS, GLONASS, Galileo, BeiDou:
		return sys, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSystem, s)
}

// SignalID names one signal component of one satellite, e.g. GLONASS slot 10
// on the L1 C/A code ("R10-1G"). Immutable once assigned to a channel.
type SignalID struct {
	System System
	PRN    int
	Signal string // two-character band/code tag ("1C", "1G")
}

// String formats the id as "<sys><prn>-<signal>", e.g. "G07-1C".
func (id SignalID) String() string {
	return fmt.Sprintf("%s%02d-%s", id.System, id.PRN, id.Signal)
}

// MarshalText encodes the id in its String form; the zero id encodes empty.
func (id SignalID) MarshalText() ([]byte, error) {
	if id == (SignalID{}) {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

// UnmarshalText decodes the String form.
func (id *SignalID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = SignalID{}
		return nil
	}
	v, err := ParseSignalID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseSignalID parses the String form of a SignalID.
func ParseSignalID(s string) (SignalID, error) {
	sat, sig, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok || len(sat) < 2 {
		return SignalID{}, fmt.Errorf("malformed signal id %q", s)
	}
	sys, err := ParseSystem(sat[:1])
	if err != nil {
		return SignalID{}, err
	}
	prn, err := strconv.Atoi(sat[1:])
	if err != nil {
		return SignalID{}, fmt.Errorf("malformed prn in signal id %q: %w", s, err)
	}
	id := SignalID{System: sys, PRN: prn, Signal: sig}
	if err := id.Validate(); err != nil {
		return SignalID{}, err
	}
	return id, nil
}

// Validate checks that the signal is known and the PRN is in range for it.
func (id SignalID) Validate() error {
	spec, err := Lookup(id.Signal)
	if err != nil {
		return err
	}
	if spec.System != id.System {
		return fmt.Errorf("%w: signal %s belongs to system %s, not %s", ErrUnknownSignal, id.Signal, spec.System, id.System)
	}
	if id.PRN < 1 || id.PRN > spec.MaxPRN {
		return fmt.Errorf("%w: %s prn %d (1-%d)", ErrInvalidPRN, id.Signal, id.PRN, spec.MaxPRN)
	}
	return nil
}
