package fsklink

import (
	"time"
	"unicode/utf8"

	influxdb2 "github.com/influxdata/influxdb-client-go"

	"github.com/hamgrid/fsklink/pkg/util"
)

// receiveLoop reads decoded bytes off the modem, reassembles them into
// packets, and dispatches each completed packet to the registered
// callback together with its correlated confidence sample.
func (l *Link) receiveLoop() error {
	r := l.modem.Receive()
	var buf []byte
	one := make([]byte, 1)

	for {
		if err := l.ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(one)
		if n > 0 {
			// Bytes that fail text decoding are receiver noise and
			// contribute nothing to the payload stream.
			if one[0] < utf8.RuneSelf {
				buf = append(buf, one[0])
			}

			var pkts [][]byte
			extractMicros := util.TimeOperationMicroseconds(func() {
				for {
					pkt, rest, ok := l.packetizer.Extract(buf)
					buf = rest
					if !ok {
						break
					}
					if pkt != nil {
						pkts = append(pkts, pkt)
					}
				}
			})
			for _, pkt := range pkts {
				l.deliver(pkt, extractMicros)
			}
		}

		// A sample left over from a carrier event with no matching
		// packet must not attach to a later, unrelated frame.
		l.monitor.ExpireStale()

		if err != nil {
			return err
		}

		time.Sleep(l.opts.RxPollInterval)
	}
}

// deliver correlates a completed packet with the live confidence
// sample and fires the receive callback. The diagnostic event usually
// trails the final payload bytes slightly, so when no sample exists
// yet the loop waits up to the correlation window for one before
// falling back to an absent confidence.
func (l *Link) deliver(pkt []byte, extractMicros int64) {
	waitStart := time.Now()
	deadline := waitStart.Add(l.opts.ConfidenceWindow)

	conf, ok := l.monitor.TakeSample()
	for !ok && time.Now().Before(deadline) {
		if !sleepCtx(l.ctx, time.Millisecond) {
			break
		}
		conf, ok = l.monitor.TakeSample()
	}

	l.rxPackets.Add(1)
	if ok {
		l.lastConf.Store(conf)
	}

	l.logger.Debug().
		Int("size", len(pkt)).
		Float64("confidence", conf).
		Bool("has_confidence", ok).
		Msg("packet received")

	go l.writeAPI.WritePoint(influxdb2.NewPoint("link.rx.packet",
		map[string]string{
			"has_confidence": boolTag(ok),
		},
		map[string]interface{}{
			"size":             len(pkt),
			"confidence":       conf,
			"confidence_wait":  time.Since(waitStart).Microseconds(),
			"extract_duration": extractMicros,
		}, time.Now()))

	if cb := l.receiveCallback(); cb != nil {
		// Fire-and-forget so a slow consumer cannot stall reception.
		go cb(pkt, conf, ok)
	}
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
