package fsklink

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"

	"github.com/hamgrid/fsklink/pkg/frame"
)

// syncPreambleBits is the fixed per-burst overhead when a sync byte is
// configured: the modem prepends 16 sync bytes, each carried with a
// start and stop bit.
const syncPreambleBits = 16 * (8 + 2)

// transmitLoop drains the outbound queue in collision-avoidant bursts.
// It never keys up while a carrier is sensed, and re-checks the
// carrier after the pre-key jitter so a transmission that appeared
// mid-wait defers the burst to a later cycle.
func (l *Link) transmitLoop() error {
	w := l.modem.Transmit()
	tick := time.NewTicker(l.opts.TxPollInterval)
	defer tick.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return l.ctx.Err()
		case <-tick.C:
		}

		if l.monitor.Carrier() {
			continue
		}
		if l.QueueDepth() == 0 {
			continue
		}

		// Randomized delay before keying, so transmitters sharing the
		// channel that queued at the same moment do not collide.
		jitter := l.opts.JitterMin
		if span := l.opts.JitterMax - l.opts.JitterMin; span > 0 {
			jitter += time.Duration(rand.Int63n(int64(span)))
		}
		if !sleepCtx(l.ctx, jitter) {
			return l.ctx.Err()
		}
		if l.monitor.Carrier() {
			continue
		}

		if err := l.burst(w, jitter); err != nil {
			return fmt.Errorf("transmit burst: %w", err)
		}
	}
}

// burst transmits the entire queue as one atomic keyed transmission:
// PTT on, settle, write every queued packet (including packets that
// arrive while draining), then hold PTT through the estimated on-air
// duration before keying off.
func (l *Link) burst(w io.Writer, jitter time.Duration) error {
	start := time.Now()

	l.togglePTT()
	sleepCtx(l.ctx, l.opts.SettleTime)

	bits := 0
	packets := 0
	for {
		pkt, ok := l.dequeue()
		if !ok {
			break
		}

		data := frame.Wrap(pkt)
		if len(l.opts.SyncByte) > 0 {
			prefixed := make([]byte, 0, len(l.opts.SyncByte)+len(data))
			prefixed = append(prefixed, l.opts.SyncByte...)
			data = append(prefixed, data...)
		}

		if _, err := w.Write(data); err != nil {
			// A failed write is not recoverable at this layer. Key off
			// before surfacing it so the transmitter is not left open.
			l.togglePTT()
			return err
		}

		bits += len(data) * 8
		packets++
	}

	if len(l.opts.SyncByte) > 0 {
		bits += syncPreambleBits
	}

	// bits / baud is the naive on-air time; the correction factor
	// covers modem framing overhead the bit count misses.
	estimated := time.Duration(float64(bits) / l.opts.BaudRate * l.opts.DurationFactor * float64(time.Second))
	hold := estimated + l.opts.PTTTail
	deadline := start.Add(hold)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		step := 100 * time.Millisecond
		if remaining < step {
			step = remaining
		}
		if !sleepCtx(l.ctx, step) {
			break
		}
	}

	l.togglePTT()
	l.txBursts.Add(1)
	l.txPackets.Add(uint64(packets))

	l.logger.Debug().
		Int("packets", packets).
		Int("bits", bits).
		Dur("hold", hold).
		Msg("burst complete")

	go l.writeAPI.WritePoint(influxdb2.NewPoint("link.tx.burst",
		map[string]string{},
		map[string]interface{}{
			"packets":      packets,
			"bits":         bits,
			"hold_ms":      hold.Milliseconds(),
			"jitter_ms":    jitter.Milliseconds(),
			"estimated_ms": estimated.Milliseconds(),
		}, start))

	return nil
}
