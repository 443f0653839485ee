// Package frame wraps payloads with start/stop delimiter markers and
// reassembles packets from a raw, noisy byte stream.
package frame

import (
	"bytes"
)

// Start and Stop bracket every packet on the wire. Multiple characters
// per marker make it unlikely that receiver noise reproduces one by
// accident. No escaping is performed, so payloads must not contain
// either marker sequence.
var (
	Start = []byte("|>")
	Stop  = []byte("<|")
)

const (
	// DefaultMTU is the maximum payload size accepted per packet.
	DefaultMTU = 500

	// DefaultMaxBuffer bounds the reassembly buffer while waiting for a
	// stop marker.
	DefaultMaxBuffer = 1024
)

// Wrap frames a payload for transmission.
func Wrap(payload []byte) []byte {
	out := make([]byte, 0, len(Start)+len(payload)+len(Stop))
	out = append(out, Start...)
	out = append(out, payload...)
	out = append(out, Stop...)
	return out
}

// Packetizer recovers framed packets from an accumulating receive
// buffer. The zero value is not usable; construct with NewPacketizer.
type Packetizer struct {
	mtu       int
	maxBuffer int
}

func NewPacketizer(mtu, maxBuffer int) *Packetizer {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Packetizer{mtu: mtu, maxBuffer: maxBuffer}
}

// MTU returns the maximum accepted payload size.
func (p *Packetizer) MTU() int { return p.mtu }

// Extract scans buf for the next complete frame and returns the packet
// (nil if the consumed region held nothing deliverable), the remaining
// buffer, and whether the scan made progress. Callers should invoke it
// repeatedly on the remainder until it reports no progress, then append
// newly received bytes and try again.
//
// Recovery rules for garbled input:
//   - No start marker: once the buffer exceeds a small multiple of the
//     marker length it is cleared, so a stop-only fragment cannot sit
//     in the buffer forever.
//   - Stop marker at or before the start marker: the region through the
//     start marker is discarded to resynchronize.
//   - Start marker with no stop: once the buffer exceeds the maximum
//     length, everything before the last start marker is discarded.
//     Keeping the newest possible frame start trades completeness for
//     freshness when noise fabricates spurious start sequences.
//   - Candidate frames over the MTU are dropped whole, never truncated,
//     and the buffer still advances past them.
func (p *Packetizer) Extract(buf []byte) (pkt []byte, rest []byte, ok bool) {
	start := bytes.Index(buf, Start)
	if start < 0 {
		if len(buf) > 10*len(Start) {
			return nil, nil, false
		}
		return nil, buf, false
	}

	inner := start + len(Start)
	stop := bytes.Index(buf[inner:], Stop)
	if stop < 0 {
		if bytes.Contains(buf[:start], Stop) {
			// A stop marker ahead of the start marker means partial
			// packets mixed up the delimiters. Discard through the
			// start marker and rescan.
			return nil, buf[inner:], true
		}
		if len(buf) > p.maxBuffer {
			return nil, buf[bytes.LastIndex(buf, Start):], false
		}
		return nil, buf, false
	}

	end := inner + stop
	if end <= inner {
		// Empty frame, treated the same as delimiter disorder.
		return nil, buf[inner:], true
	}

	data := buf[inner:end]
	rest = buf[end+len(Stop):]
	if len(data) > p.mtu {
		// Oversized candidate: drop it but keep scanning past it.
		return nil, rest, true
	}

	pkt = make([]byte, len(data))
	copy(pkt, data)
	return pkt, rest, true
}
