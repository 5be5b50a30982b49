// Package ephem predicts Doppler assistance for visible satellites from
// two-line element sets and publishes it to the shared assistance map.
package ephem

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/star/gnssacq/internal/gnss"
)

// Element is one satellite's two-line element set.
type Element struct {
	CatalogID int
	Name      string
	Epoch     time.Time
	Line1     string
	Line2     string
	Signal    gnss.SignalID // zero when the name carries no usable PRN
}

// Dataset is one parsed download.
type Dataset struct {
	Source    string
	FetchedAt time.Time
	Elements  []Element
}

// GPS element names carry the PRN, as in "GPS BIIR-2  (PRN 13)".
var gpsPRN = regexp.MustCompile(`\(PRN\s*0*(\d+)\)`)

// signalForName maps an element name to the signal it transmits.
func signalForName(name string) (gnss.SignalID, bool) {
	m := gpsPRN.FindStringSubmatch(name)
	if m == nil {
		return gnss.SignalID{}, false
	}
	prn, err := strconv.Atoi(m[1])
	if err != nil {
		return gnss.SignalID{}, false
	}
	id := gnss.SignalID{System: gnss.GPS, PRN: prn, Signal: "1C"}
	if id.Validate() != nil {
		return gnss.SignalID{}, false
	}
	return id, true
}

// Parse reads three-line element sets (name, line 1, line 2). Malformed
// entries are skipped with a warning.
func Parse(r io.Reader, logger *slog.Logger) ([]Element, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r\n "); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading element sets: %w", err)
	}

	var out []Element
	for i := 0; i+2 < len(lines); {
		name, l1, l2 := strings.TrimSpace(lines[i]), lines[i+1], lines[i+2]
		if !strings.HasPrefix(l1, "1 ") || !strings.HasPrefix(l2, "2 ") {
			logger.Warn("skipping malformed element set", "line_index", i, "name", name)
			i++
			continue
		}
		i += 3

		if len(l1) < 32 {
			logger.Warn("skipping element set with short line 1", "name", name)
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(l1[2:7]))
		if err != nil {
			logger.Warn("skipping element set with invalid catalog number", "name", name)
			continue
		}
		epoch, err := parseEpoch(strings.TrimSpace(l1[18:32]))
		if err != nil {
			logger.Warn("skipping element set with invalid epoch", "name", name, "error", err)
			continue
		}

		el := Element{CatalogID: id, Name: name, Epoch: epoch, Line1: l1, Line2: l2}
		if sig, ok := signalForName(name); ok {
			el.Signal = sig
		}
		out = append(out, el)
	}
	return out, nil
}

// parseEpoch converts YYDDD.DDDDDDDD to UTC. Years 57-99 are 19xx.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch %q too short", s)
	}
	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}
	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch day %q: %w", s[2:], err)
	}
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((day - 1) * float64(24*time.Hour))), nil
}
