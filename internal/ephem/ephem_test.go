package ephem

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/star/gnssacq/internal/assist"
	"github.com/star/gnssacq/internal/gnss"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

const (
	gpsName  = "GPS BIIR-2  (PRN 13)"
	gpsLine1 = "1 24876U 97035A   24100.50000000 -.00000028  00000-0  00000+0 0  9993"
	gpsLine2 = "2 24876  55.4925 120.1234 0045000  50.0000 310.3000  2.00562000195430"

	otherName  = "COSMOS 2425 (716)"
	otherLine1 = "1 29672U 06062A   24100.50000000  .00000012  00000-0  00000+0 0  9994"
	otherLine2 = "2 29672  65.1000 200.0000 0010000 100.0000 260.0000  2.13100000135794"
)

var (
	epoch = time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	prn13 = gnss.SignalID{System: gnss.GPS, PRN: 13, Signal: "1C"}
)

func elementText() string {
	return strings.Join([]string{gpsName, gpsLine1, gpsLine2, otherName, otherLine1, otherLine2}, "\n") + "\n"
}

func gpsElement(t *testing.T) Element {
	t.Helper()
	els, err := Parse(strings.NewReader(elementText()), testLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, el := range els {
		if el.CatalogID == 24876 {
			return el
		}
	}
	t.Fatal("GPS element not parsed")
	return Element{}
}

// zenithObserver places an observer directly beneath the satellite at t.
func zenithObserver(t *testing.T, el Element, at time.Time) Observer {
	t.Helper()
	o, err := newOrbit(el)
	if err != nil {
		t.Fatal(err)
	}
	st, err := o.stateAt(at)
	if err != nil {
		t.Fatal(err)
	}
	lat, lon, _ := SubPoint(st.Pos)
	return NewObserver(lat, lon, 0)
}

func TestParse(t *testing.T) {
	text := "garbage line\n" + elementText()
	els, err := Parse(strings.NewReader(text), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 2 {
		t.Fatalf("len = %d, want 2", len(els))
	}
	if els[0].Signal != prn13 {
		t.Errorf("signal = %v, want %v", els[0].Signal, prn13)
	}
	if els[1].Signal != (gnss.SignalID{}) {
		t.Errorf("non-GPS element got signal %v", els[1].Signal)
	}
	if !els[0].Epoch.Equal(epoch) {
		t.Errorf("epoch = %v, want %v", els[0].Epoch, epoch)
	}
}

func TestSignalForName(t *testing.T) {
	tests := []struct {
		name string
		want gnss.SignalID
		ok   bool
	}{
		{"GPS BIIR-2  (PRN 13)", prn13, true},
		{"GPS BIII-1  (PRN 04)", gnss.SignalID{System: gnss.GPS, PRN: 4, Signal: "1C"}, true},
		{"GPS BIIF-9  (PRN 99)", gnss.SignalID{}, false},
		{"NAVSTAR 43", gnss.SignalID{}, false},
	}
	for _, tt := range tests {
		got, ok := signalForName(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("signalForName(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOrbitRadius(t *testing.T) {
	o, err := newOrbit(gpsElement(t))
	if err != nil {
		t.Fatal(err)
	}
	st, err := o.stateAt(epoch.Add(10 * time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	r := math.Sqrt(st.Pos[0]*st.Pos[0]+st.Pos[1]*st.Pos[1]+st.Pos[2]*st.Pos[2]) / 1000
	if r < 26000 || r > 27100 {
		t.Errorf("orbit radius = %.0f km, want ~26560", r)
	}
}

func TestNewOrbitRejectsShortLines(t *testing.T) {
	_, err := newOrbit(Element{CatalogID: 1, Line1: "1 short", Line2: "2 short"})
	if err == nil {
		t.Error("expected error for short element lines")
	}
}

func TestDopplerSign(t *testing.T) {
	got := DopplerHz(100, 1575.42e6)
	if math.Abs(got+525.5) > 0.1 {
		t.Errorf("DopplerHz(receding 100 m/s) = %v, want ~-525.5", got)
	}
}

func TestLookAtOverhead(t *testing.T) {
	obs := NewObserver(0, 0, 0)
	sat := State{Pos: [3]float64{6378137 + 20e6, 0, 0}, Vel: [3]float64{-50, 3000, 0}}
	look := obs.LookAt(sat)
	if math.Abs(look.ElevationDeg-90) > 1e-6 {
		t.Errorf("elevation = %v, want 90", look.ElevationDeg)
	}
	if math.Abs(look.RangeM-20e6) > 1e-3 {
		t.Errorf("range = %v, want 2e7", look.RangeM)
	}
	if math.Abs(look.RangeRateMS+50) > 1e-9 {
		t.Errorf("range rate = %v, want -50", look.RangeRateMS)
	}
}

func TestComputeHints(t *testing.T) {
	el := gpsElement(t)
	at := epoch.Add(5 * time.Minute)
	opts := HintOptions{ElevationMaskDeg: 10, UncertaintyHz: 400, Workers: 2}

	overhead := zenithObserver(t, el, at)
	hints := ComputeHints(context.Background(), []Element{el}, overhead, at, opts, testLogger())
	h, ok := hints[prn13]
	if !ok {
		t.Fatal("no hint for satellite at zenith")
	}
	if h.ElevationDeg < 85 {
		t.Errorf("elevation = %v, want ~90", h.ElevationDeg)
	}
	if math.Abs(h.DopplerHz) > 1000 {
		t.Errorf("zenith doppler = %v Hz, want near zero", h.DopplerHz)
	}
	if h.UncertaintyHz != 400 || !h.ComputedAt.Equal(at) {
		t.Errorf("hint = %+v", h)
	}

	antipode := NewObserver(-overhead.LatDeg, overhead.LonDeg+180, 0)
	if hints := ComputeHints(context.Background(), []Element{el}, antipode, at, opts, testLogger()); len(hints) != 0 {
		t.Errorf("hints from the far side of the Earth: %v", hints)
	}
}

func TestParseObserver(t *testing.T) {
	obs, err := ParseObserver("52.5, 13.4, 34")
	if err != nil {
		t.Fatal(err)
	}
	if obs.LatDeg != 52.5 || obs.LonDeg != 13.4 || obs.AltM != 34 {
		t.Errorf("observer = %+v", obs)
	}
	for _, bad := range []string{"", "1", "a,b", "95,0", "1,2,3,4"} {
		if _, err := ParseObserver(bad); err == nil {
			t.Errorf("ParseObserver(%q) accepted", bad)
		}
	}
}

func TestCache(t *testing.T) {
	c := NewCache(t.TempDir(), 2)
	if _, _, err := c.LoadLatest(); !errors.Is(err, ErrCacheEmpty) {
		t.Errorf("LoadLatest on empty cache = %v, want ErrCacheEmpty", err)
	}

	base := time.Unix(1700000000, 0)
	for i, body := range []string{"one", "two", "three"} {
		if err := c.Write([]byte(body), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	data, ts, err := c.LoadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "three" || !ts.Equal(base.Add(2*time.Minute)) {
		t.Errorf("LoadLatest = %q at %v", data, ts)
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("cache holds %d files, want 2", len(entries))
	}
}

func TestFetcherBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := strings.Repeat("A", 1<<20)
		for i := 0; i < 52; i++ {
			if _, err := w.Write([]byte(chunk)); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	_, err := NewFetcher(server.URL, testLogger()).Fetch(context.Background())
	if err == nil || !strings.Contains(err.Error(), "byte limit") {
		t.Errorf("Fetch() = %v, want byte limit error", err)
	}
}

func TestFetcherExtraSources(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, gpsName+"\n"+gpsLine1+"\n"+gpsLine2)
	}))
	defer primary.Close()
	extra := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, otherName+"\n"+otherLine1+"\n"+otherLine2+"\n")
	}))
	defer extra.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	data, err := NewFetcher(primary.URL, testLogger(), failing.URL, extra.URL).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	els, err := Parse(strings.NewReader(string(data)), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 2 {
		t.Errorf("parsed %d elements, want 2", len(els))
	}
}

func TestFetcherHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	if _, err := NewFetcher(server.URL, testLogger()).Fetch(context.Background()); err == nil {
		t.Error("expected error for 503 response")
	}
}

func TestProviderRefresh(t *testing.T) {
	var failing atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, elementText())
	}))
	defer server.Close()

	at := epoch.Add(2 * time.Minute)
	store := assist.NewStore()
	p := NewProvider(Config{
		SourceURL: server.URL,
		CacheDir:  t.TempDir(),
		Observer:  zenithObserver(t, gpsElement(t), at),
		Hints:     HintOptions{ElevationMaskDeg: 5, Workers: 2},
	}, store, testLogger())
	p.now = func() time.Time { return at }

	if p.Ready() {
		t.Fatal("provider ready before first refresh")
	}
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !p.Ready() || p.Dataset().Source != server.URL {
		t.Errorf("dataset = %+v", p.Dataset())
	}
	h, ok := store.Lookup(prn13)
	if !ok {
		t.Fatal("no hint stored for PRN 13")
	}
	if h.UncertaintyHz != 500 {
		t.Errorf("default uncertainty = %v, want 500", h.UncertaintyHz)
	}

	failing.Store(true)
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh from cache: %v", err)
	}
	if p.Dataset().Source != "cache" {
		t.Errorf("source = %q, want cache", p.Dataset().Source)
	}
}

func TestProviderRefreshFailsWithoutCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewProvider(Config{SourceURL: server.URL}, assist.NewStore(), testLogger())
	if err := p.Refresh(context.Background()); err == nil {
		t.Error("expected error with no source and no cache")
	}
	if p.Ready() {
		t.Error("provider ready after failed refresh")
	}
}
