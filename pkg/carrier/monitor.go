package carrier

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultSampleWindow is how long a confidence sample stays valid
	// after capture before it is considered stale.
	DefaultSampleWindow = 100 * time.Millisecond

	pollInterval = time.Millisecond
)

// Monitor holds the current carrier-sense state and the most recent
// confidence sample. It is the single writer of both; the receive and
// transmit loops read them concurrently.
type Monitor struct {
	window time.Duration
	logger zerolog.Logger

	mu        sync.RWMutex
	carrier   bool
	value     float64
	sampledAt time.Time
}

func NewMonitor(window time.Duration, logger zerolog.Logger) *Monitor {
	if window <= 0 {
		window = DefaultSampleWindow
	}
	return &Monitor{window: window, logger: logger}
}

// Carrier reports whether an incoming carrier is currently sensed.
func (m *Monitor) Carrier() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.carrier
}

// Apply updates the monitor state from a parsed diagnostic event.
func (m *Monitor) Apply(ev Event) {
	switch ev.Type {
	case EventCarrier:
		m.mu.Lock()
		m.carrier = true
		m.mu.Unlock()
		m.logger.Debug().Msg("carrier acquired")
	case EventNoCarrier:
		m.mu.Lock()
		m.carrier = false
		if ev.HasConfidence {
			m.value = ev.Confidence
			m.sampledAt = time.Now()
		}
		m.mu.Unlock()
		m.logger.Debug().
			Float64("confidence", ev.Confidence).
			Bool("has_confidence", ev.HasConfidence).
			Msg("carrier lost")
	default:
		// Unknown event types from the diagnostic stream are ignored.
	}
}

// Sample returns the live confidence sample, if one exists within the
// validity window.
func (m *Monitor) Sample() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sampledAt.IsZero() || time.Since(m.sampledAt) > m.window {
		return 0, false
	}
	return m.value, true
}

// TakeSample returns the live confidence sample and consumes it, so it
// cannot attach to a later packet.
func (m *Monitor) TakeSample() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sampledAt.IsZero() || time.Since(m.sampledAt) > m.window {
		return 0, false
	}
	value := m.value
	m.value = 0
	m.sampledAt = time.Time{}
	return value, true
}

// ExpireStale clears a sample older than the validity window, so a
// stale reading cannot bleed into the next packet.
func (m *Monitor) ExpireStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sampledAt.IsZero() && time.Since(m.sampledAt) > m.window {
		m.value = 0
		m.sampledAt = time.Time{}
	}
}

// Run consumes the diagnostic stream byte-at-a-time until the context
// is canceled or the stream terminates. It never fails on garbled
// event text; parse anomalies are recovered by the Detect resync
// rules.
func (m *Monitor) Run(ctx context.Context, r io.Reader) error {
	var buf []byte
	one := make([]byte, 1)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(one)
		if n > 0 {
			buf = append(buf, one[:n]...)
			for {
				ev, rest, ok := Detect(buf)
				buf = rest
				if !ok {
					break
				}
				m.Apply(ev)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				m.logger.Debug().Msg("diagnostic stream terminated")
				return io.EOF
			}
			return err
		}

		time.Sleep(pollInterval)
	}
}
