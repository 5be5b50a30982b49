package gnss

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseSignalID(t *testing.T) {
	tests := []struct {
		in      string
		want    SignalID
		wantErr error
	}{
		{"G07-1C", SignalID{System: GPS, PRN: 7, Signal: "1C"}, nil},
		{"R10-1G", SignalID{System: GLONASS, PRN: 10, Signal: "1G"}, nil},
		{" g01-1C ", SignalID{System: GPS, PRN: 1, Signal: "1C"}, nil},
		{"R25-1G", SignalID{}, ErrInvalidPRN},
		{"G00-1C", SignalID{}, ErrInvalidPRN},
		{"G07-1G", SignalID{}, ErrUnknownSignal},
		{"X07-1C", SignalID{}, ErrUnknownSystem},
		{"G07-5Q", SignalID{}, ErrUnknownSignal},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSignalID(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseSignalID(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSignalID(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseSignalID(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseSignalIDMalformed(t *testing.T) {
	for _, in := range []string{"", "G07", "G-1C", "Gxx-1C"} {
		if _, err := ParseSignalID(in); err == nil {
			t.Errorf("ParseSignalID(%q) expected error, got nil", in)
		}
	}
}

func TestSignalIDStringRoundTrip(t *testing.T) {
	id := SignalID{System: GLONASS, PRN: 3, Signal: "1G"}
	if id.String() != "R03-1G" {
		t.Fatalf("String() = %q, want %q", id.String(), "R03-1G")
	}
	back, err := ParseSignalID(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if back != id {
		t.Errorf("round trip = %+v, want %+v", back, id)
	}
}

func TestSignalIDJSON(t *testing.T) {
	in := map[string]SignalID{"a": {System: GPS, PRN: 7, Signal: "1C"}, "zero": {}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"a":"G07-1C","zero":""}`; string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
	var out map[string]SignalID
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["a"] != in["a"] || out["zero"] != (SignalID{}) {
		t.Errorf("Unmarshal = %+v", out)
	}
	if err := json.Unmarshal([]byte(`"G99-1C"`), new(SignalID)); !errors.Is(err, ErrInvalidPRN) {
		t.Errorf("Unmarshal out of range = %v, want ErrInvalidPRN", err)
	}
}
