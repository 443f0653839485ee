// Package ptt keys a radio transmitter around transmit bursts. The
// link invokes a zero-argument toggle twice per burst; this package
// provides a toggle backed by a serial-port control line, the common
// hardware arrangement for keying HF transceivers.
package ptt

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// Line selects which serial control line drives the key.
type Line string

const (
	LineRTS Line = "rts"
	LineDTR Line = "dtr"
)

// Serial toggles a transmitter keyed off a serial-port RTS or DTR
// line. It tracks the keyed state so the zero-argument toggle contract
// holds: each call inverts the line.
type Serial struct {
	port   serial.Port
	line   Line
	logger zerolog.Logger

	mu    sync.Mutex
	keyed bool
}

// Open opens the named serial port and returns a key toggle driving
// the given control line, which is forced off initially.
func Open(portName string, line Line, logger zerolog.Logger) (*Serial, error) {
	switch line {
	case LineRTS, LineDTR:
	default:
		return nil, fmt.Errorf("unknown ptt line: %q", line)
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: 9600})
	if err != nil {
		return nil, fmt.Errorf("open ptt port %s: %w", portName, err)
	}

	s := &Serial{port: port, line: line, logger: logger}
	if err := s.set(false); err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// NewSerial wraps an already open port. Used by tests.
func NewSerial(port serial.Port, line Line, logger zerolog.Logger) *Serial {
	return &Serial{port: port, line: line, logger: logger}
}

// Toggle inverts the keyed state.
func (s *Serial) Toggle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.set(!s.keyed); err != nil {
		s.logger.Error().Err(err).Msg("ptt line toggle failed")
		return
	}
	s.keyed = !s.keyed
	s.logger.Debug().Bool("keyed", s.keyed).Msg("ptt")
}

// Keyed reports whether the transmitter is currently keyed.
func (s *Serial) Keyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyed
}

// Close unkeys the transmitter and closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(false)
	s.keyed = false
	return s.port.Close()
}

func (s *Serial) set(on bool) error {
	if s.line == LineDTR {
		return s.port.SetDTR(on)
	}
	return s.port.SetRTS(on)
}
