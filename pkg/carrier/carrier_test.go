package carrier

import (
	"bytes"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		buf      []byte
		wantEv   Event
		wantRest []byte
		wantOK   bool
	}{{
		"carrier event",
		[]byte("### CARRIER 300 @ 1600.0 Hz ###"),
		Event{Type: EventCarrier},
		[]byte{},
		true,
	}, {
		"nocarrier with confidence",
		[]byte("### NOCARRIER ndata=18 confidence=2.539 ampl=0.751 ###"),
		Event{Type: EventNoCarrier, Confidence: 2.539, HasConfidence: true},
		[]byte{},
		true,
	}, {
		"nocarrier without confidence",
		[]byte("### NOCARRIER ndata=3 ###"),
		Event{Type: EventNoCarrier},
		[]byte{},
		true,
	}, {
		"nocarrier with malformed confidence",
		[]byte("### NOCARRIER confidence=oops ###"),
		Event{Type: EventNoCarrier},
		[]byte{},
		true,
	}, {
		"incomplete event waits",
		[]byte("### NOCARRIER conf"),
		Event{},
		[]byte("### NOCARRIER conf"),
		false,
	}, {
		"no marker short buffer waits",
		[]byte("#43"),
		Event{},
		[]byte("#43"),
		false,
	}, {
		"no marker long buffer cleared",
		[]byte("noise with no marker"),
		Event{},
		nil,
		false,
	}, {
		"trailing bytes preserved",
		[]byte("###CARRIER###leftover"),
		Event{Type: EventCarrier},
		[]byte("leftover"),
		true,
	}, {
		"empty event body",
		[]byte("######rest"),
		Event{},
		[]byte("rest"),
		true,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, rest, ok := Detect(tt.buf)
			if ev != tt.wantEv {
				t.Errorf("Detect() event = %+v, want %+v", ev, tt.wantEv)
			}
			if !bytes.Equal(rest, tt.wantRest) {
				t.Errorf("Detect() rest = %q, want %q", rest, tt.wantRest)
			}
			if ok != tt.wantOK {
				t.Errorf("Detect() ok = %v, want %v", ok, tt.wantOK)
			}
		})
	}
}
