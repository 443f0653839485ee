// Package fsklink coordinates a half-duplex packet link carried over
// an external FSK audio modem. It reassembles the decoded byte stream
// into discrete packets, correlates them with receiver confidence
// reported on the diagnostic stream, and schedules outbound bursts
// with collision-avoidance jitter and PTT keying.
package fsklink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hamgrid/fsklink/pkg/carrier"
	"github.com/hamgrid/fsklink/pkg/frame"
	"github.com/hamgrid/fsklink/pkg/fsklink/modem"
	"github.com/hamgrid/fsklink/pkg/util"
)

var (
	// ErrInvalidPayload is returned by Send for an empty payload.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidCallback is returned by the callback registration
	// methods for a nil function.
	ErrInvalidCallback = errors.New("invalid callback")

	// ErrAlreadyStarted is returned by Start on a link that is not
	// stopped.
	ErrAlreadyStarted = errors.New("link already started")
)

// State is the coordinator lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Online
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Online:
		return "online"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// ReceiveFunc is invoked once per delivered packet, on its own
// goroutine so it cannot block the receive loop. Confidence is the
// receiver-reported SNR metric correlated with the packet; ok is false
// when no diagnostic event arrived within the correlation window.
type ReceiveFunc func(pkt []byte, confidence float64, ok bool)

// PTTFunc toggles the transmitter key. It is called twice per burst:
// once before the first byte is written and once after the hold time.
type PTTFunc func()

// Options configure link behavior. The timing fields default to values
// tuned against real minimodem instances; they are exposed here rather
// than fixed because they are empirical and may need recalibration for
// a different modem process or platform.
type Options struct {
	// MTU is the maximum payload size per packet, in bytes.
	MTU int

	// BaudRate of the underlying modem, used to estimate on-air time.
	BaudRate float64

	// SyncByte, when non-empty, is prefixed to every transmit write to
	// prime the receiver's carrier detection.
	SyncByte []byte

	// JitterMin and JitterMax bound the randomized delay before keying
	// up, desynchronizing transmitters that share the channel.
	JitterMin time.Duration
	JitterMax time.Duration

	// SettleTime is the pause between keying PTT and the first byte.
	SettleTime time.Duration

	// DurationFactor scales the naive bits/baud transmit estimate to
	// account for framing overhead the bit count misses.
	DurationFactor float64

	// PTTTail is the fixed hold after the estimated end of a burst.
	PTTTail time.Duration

	// ConfidenceWindow is both the validity window of a confidence
	// sample and how long a delivered packet waits for one to arrive.
	ConfidenceWindow time.Duration

	// TxPollInterval paces the transmit scheduler loop.
	TxPollInterval time.Duration

	// RxPollInterval paces the receive loop between stream reads.
	RxPollInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.MTU <= 0 {
		o.MTU = frame.DefaultMTU
	}
	if o.JitterMin <= 0 {
		o.JitterMin = 100 * time.Millisecond
	}
	if o.JitterMax <= o.JitterMin {
		o.JitterMax = 250 * time.Millisecond
	}
	if o.SettleTime <= 0 {
		o.SettleTime = 100 * time.Millisecond
	}
	if o.DurationFactor <= 0 {
		o.DurationFactor = 1.3
	}
	if o.PTTTail <= 0 {
		o.PTTTail = 500 * time.Millisecond
	}
	if o.ConfidenceWindow <= 0 {
		o.ConfidenceWindow = carrier.DefaultSampleWindow
	}
	if o.TxPollInterval <= 0 {
		o.TxPollInterval = 10 * time.Millisecond
	}
	if o.RxPollInterval <= 0 {
		o.RxPollInterval = time.Millisecond
	}
}

// Link is the duplex packet coordinator. It owns the outbound queue,
// the carrier monitor, and the three loops that run while online.
type Link struct {
	opts       Options
	modem      modem.Modem
	packetizer *frame.Packetizer
	monitor    *carrier.Monitor
	writeAPI   api.WriteAPI
	logger     zerolog.Logger

	state atomic.Int32

	queueMu sync.Mutex
	queue   [][]byte

	cbMu       sync.RWMutex
	rxCallback ReceiveFunc
	ptt        PTTFunc

	rxPackets atomic.Uint64
	txBursts  atomic.Uint64
	txPackets atomic.Uint64
	lastConf  atomic.Value // float64

	cancel context.CancelFunc
	ctx    context.Context
}

type LinkOption func(l *Link) error

func WithLogger(logger zerolog.Logger) LinkOption {
	return func(l *Link) error {
		l.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) LinkOption {
	return func(l *Link) error {
		l.writeAPI = writeAPI
		return nil
	}
}

func NewLink(m modem.Modem, options Options, opts ...LinkOption) (*Link, error) {
	options.applyDefaults()

	if m == nil {
		return nil, fmt.Errorf("must specify a modem")
	}
	if options.BaudRate <= 0 {
		return nil, fmt.Errorf("must specify a baud rate")
	}

	l := &Link{
		opts:       options,
		modem:      m,
		packetizer: frame.NewPacketizer(options.MTU, frame.DefaultMaxBuffer),
		writeAPI:   &util.MockWriteAPI{}, // overwritten with option
		logger:     log.Logger,
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	l.monitor = carrier.NewMonitor(options.ConfidenceWindow, l.logger)
	l.lastConf.Store(float64(0))

	return l, nil
}

// State returns the current lifecycle state.
func (l *Link) State() State { return State(l.state.Load()) }

// Carrier reports whether an incoming carrier is currently sensed.
func (l *Link) Carrier() bool { return l.monitor.Carrier() }

// QueueDepth returns the number of packets awaiting transmission.
func (l *Link) QueueDepth() int {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	return len(l.queue)
}

// ReceivedPackets returns the count of packets delivered since start.
func (l *Link) ReceivedPackets() uint64 { return l.rxPackets.Load() }

// TransmitBursts returns the count of completed transmit bursts.
func (l *Link) TransmitBursts() uint64 { return l.txBursts.Load() }

// LastConfidence returns the confidence of the most recent delivery.
func (l *Link) LastConfidence() float64 { return l.lastConf.Load().(float64) }

// OnReceive registers the packet delivery callback.
func (l *Link) OnReceive(fn ReceiveFunc) error {
	if fn == nil {
		return ErrInvalidCallback
	}
	l.cbMu.Lock()
	l.rxCallback = fn
	l.cbMu.Unlock()
	return nil
}

// OnPTT registers the push-to-talk toggle callback. With no callback
// registered, bursts are transmitted unkeyed.
func (l *Link) OnPTT(fn PTTFunc) error {
	if fn == nil {
		return ErrInvalidCallback
	}
	l.cbMu.Lock()
	l.ptt = fn
	l.cbMu.Unlock()
	return nil
}

// Send enqueues a payload for transmission. Payloads are accepted in
// any state, but only drained while online; anything queued while
// offline waits for the next Start. The payload is copied, so the
// caller may reuse the slice.
func (l *Link) Send(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	l.queueMu.Lock()
	l.queue = append(l.queue, buf)
	depth := len(l.queue)
	l.queueMu.Unlock()

	l.logger.Debug().Int("size", len(payload)).Int("queue_depth", depth).Msg("packet queued")
	return nil
}

// Start brings the modem endpoints online and runs the receive,
// carrier, and transmit loops until the context is canceled, Stop is
// called, or a stream fails. It blocks for the lifetime of the link.
func (l *Link) Start(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return ErrAlreadyStarted
	}

	eg, ctx := errgroup.WithContext(ctx)
	l.ctx, l.cancel = context.WithCancel(ctx)

	if err := l.modem.Start(l.ctx); err != nil {
		l.state.Store(int32(Stopped))
		return fmt.Errorf("start modem: %w", err)
	}

	l.state.Store(int32(Online))

	eg.Go(func() error {
		return l.streamResult("diagnostic", l.monitor.Run(l.ctx, l.modem.Diagnostics()))
	})
	eg.Go(func() error {
		return l.streamResult("receive", l.receiveLoop())
	})
	eg.Go(l.transmitLoop)
	eg.Go(func() error {
		// Every shutdown path lands here: Stop, a canceled parent
		// context, or a loop failure canceling the group. Releasing
		// the modem endpoints unblocks reads parked on the streams so
		// the other loops can drain.
		<-l.ctx.Done()
		if err := l.modem.Stop(); err != nil {
			l.logger.Warn().Err(err).Msg("modem stop")
		}
		return l.ctx.Err()
	})

	l.logger.Info().
		Int("mtu", l.opts.MTU).
		Float64("baud_rate", l.opts.BaudRate).
		Msg("link online")

	err := eg.Wait()
	l.state.Store(int32(Stopped))
	l.logger.Info().Msg("link stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop takes the link offline and releases the modem endpoints so any
// pending blocking reads return. Safe to call from any goroutine.
func (l *Link) Stop() error {
	l.state.CompareAndSwap(int32(Online), int32(Stopping))
	if l.cancel != nil {
		l.cancel()
	}
	return l.modem.Stop()
}

// streamResult maps end-of-stream during shutdown to a clean result,
// and anything else to a loop-fatal error. Shutdown is signaled by the
// link context: endpoint teardown surfaces to the read loops as EOF or
// a closed-pipe error, which must not mask the error that triggered
// the teardown.
func (l *Link) streamResult(name string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if l.ctx.Err() != nil {
		return context.Canceled
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%s stream terminated: %w", name, err)
	}
	return fmt.Errorf("%s stream: %w", name, err)
}

func (l *Link) dequeue() ([]byte, bool) {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	pkt := l.queue[0]
	l.queue = l.queue[1:]
	return pkt, true
}

func (l *Link) receiveCallback() ReceiveFunc {
	l.cbMu.RLock()
	defer l.cbMu.RUnlock()
	return l.rxCallback
}

func (l *Link) togglePTT() {
	l.cbMu.RLock()
	ptt := l.ptt
	l.cbMu.RUnlock()
	if ptt != nil {
		l.logger.Debug().Msg("ptt toggle")
		ptt()
	}
}

// sleepCtx sleeps for d unless the context is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
