package receiver

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/star/gnssacq/internal/acquisition"
	"github.com/star/gnssacq/internal/config"
	"github.com/star/gnssacq/internal/gnss"
)

var channelKey = regexp.MustCompile(`^Channel(\d+)\.`)

// ChannelsFromProperties builds the channel table from Channel<N>.* keys:
//
//	Channel0.signal=1G      ; default 1C
//	Channel0.system=R       ; default: the signal's system
//	Channel0.prn=10,11,12   ; candidates searched in turn
//
// Acquisition parameters come from Acquisition_<signal>.* when any such key
// exists, otherwise from Acquisition.*.
func ChannelsFromProperties(props config.Properties) ([]ChannelSpec, error) {
	seen := map[int]bool{}
	for k := range props {
		if m := channelKey.FindStringSubmatch(k); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("channel key %q: %w", k, err)
			}
			seen[n] = true
		}
	}
	ids := make([]int, 0, len(seen))
	for n := range seen {
		ids = append(ids, n)
	}
	sort.Ints(ids)

	specs := make([]ChannelSpec, 0, len(ids))
	for _, n := range ids {
		spec, err := channelFromProperties(props, n)
		if err != nil {
			return nil, fmt.Errorf("Channel%d: %w", n, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func channelFromProperties(props config.Properties, n int) (ChannelSpec, error) {
	sub := props.Sub(fmt.Sprintf("Channel%d", n))
	signal := sub.String("signal", "1C")
	code, err := gnss.Lookup(signal)
	if err != nil {
		return ChannelSpec{}, err
	}
	sys := code.System
	if v := sub.String("system", ""); v != "" {
		if sys, err = gnss.ParseSystem(v); err != nil {
			return ChannelSpec{}, err
		}
	}

	prns := sub.String("prn", "")
	if prns == "" {
		return ChannelSpec{}, fmt.Errorf("missing prn")
	}
	var candidates []gnss.SignalID
	for _, f := range strings.Split(prns, ",") {
		prn, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return ChannelSpec{}, fmt.Errorf("prn %q: %w", f, err)
		}
		id := gnss.SignalID{System: sys, PRN: prn, Signal: signal}
		if err := id.Validate(); err != nil {
			return ChannelSpec{}, err
		}
		candidates = append(candidates, id)
	}

	role := "Acquisition_" + signal
	if len(props.Sub(role)) == 0 {
		role = "Acquisition"
	}
	cfg, err := acquisition.ConfigFromProperties(props, role)
	if err != nil {
		return ChannelSpec{}, err
	}
	return ChannelSpec{ID: n, Config: cfg, Candidates: candidates}, nil
}
