// Package carrier tracks the receive state of the shared audio channel
// by parsing the diagnostic event stream emitted by the external modem
// process.
package carrier

import (
	"bytes"
	"strconv"
)

// Marker brackets every diagnostic event in the stream, e.g.
// "###CARRIER###" or "###NOCARRIER confidence=1.82###".
var Marker = []byte("###")

type EventType string

const (
	EventCarrier   EventType = "CARRIER"
	EventNoCarrier EventType = "NOCARRIER"
)

// Event is a single parsed diagnostic event. Confidence is only
// meaningful when HasConfidence is set, and is only ever parsed for
// NOCARRIER events.
type Event struct {
	Type          EventType
	Confidence    float64
	HasConfidence bool
}

// Detect scans buf for a complete marker-bracketed event. It returns
// the parsed event, the remaining buffer, and whether an event was
// found. If no marker is present and the buffer has grown beyond twice
// the marker length it is cleared, since it can no longer hold a
// marker split across reads.
//
// The event body is split on spaces: the first token is the event
// type, and a confidence=<float> token is consumed for NOCARRIER
// events. A confidence value that fails to parse is simply absent from
// the returned event.
func Detect(buf []byte) (Event, []byte, bool) {
	start := bytes.Index(buf, Marker)
	if start < 0 {
		if len(buf) > 2*len(Marker) {
			return Event{}, nil, false
		}
		return Event{}, buf, false
	}

	body := start + len(Marker)
	stop := bytes.Index(buf[body:], Marker)
	if stop < 0 {
		return Event{}, buf, false
	}
	end := body + stop
	rest := buf[end+len(Marker):]

	fields := bytes.Fields(bytes.TrimSpace(buf[body:end]))
	if len(fields) == 0 {
		return Event{}, rest, true
	}

	ev := Event{Type: EventType(fields[0])}
	if ev.Type == EventNoCarrier {
		for _, field := range fields[1:] {
			if !bytes.Contains(field, []byte("confidence")) {
				continue
			}
			_, value, found := bytes.Cut(field, []byte("="))
			if !found {
				break
			}
			if conf, err := strconv.ParseFloat(string(value), 64); err == nil {
				ev.Confidence = conf
				ev.HasConfidence = true
			}
			break
		}
	}

	return ev, rest, true
}
