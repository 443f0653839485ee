// Package modem manages the external FSK soft-modem processes that
// perform the actual audio modulation and demodulation. The rest of
// the link only ever sees the three byte-stream endpoints defined by
// the Modem interface.
package modem

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound indicates the modem executable is not installed.
	ErrNotFound = errors.New("modem executable not found")

	// ErrUnknownBaudmode indicates a baudmode with no known baud rate.
	ErrUnknownBaudmode = errors.New("unknown baudmode")
)

// Modem exposes the byte-stream endpoints of a running soft modem.
//
// Receive carries decoded bytes with no inherent framing. Diagnostics
// carries human-readable text with bracketed carrier events. Transmit
// accepts raw bytes to be modulated. Reads on Receive and Diagnostics
// block until data arrives; Stop must terminate the endpoints so
// pending reads return.
type Modem interface {
	Start(ctx context.Context) error
	Stop() error
	Receive() io.Reader
	Diagnostics() io.Reader
	Transmit() io.Writer
}
