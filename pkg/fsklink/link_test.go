package fsklink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamgrid/fsklink/pkg/frame"
	"github.com/hamgrid/fsklink/pkg/fsklink/modem"
)

type received struct {
	pkt  []byte
	conf float64
	ok   bool
}

// testOptions keep every wait short so the scheduling cycle completes
// quickly under test.
func testOptions() Options {
	return Options{
		BaudRate:         48000,
		JitterMin:        time.Millisecond,
		JitterMax:        2 * time.Millisecond,
		SettleTime:       time.Millisecond,
		PTTTail:          time.Millisecond,
		TxPollInterval:   time.Millisecond,
		ConfidenceWindow: 50 * time.Millisecond,
	}
}

func startTestLink(t *testing.T, opts Options) (*Link, *modem.Loopback, <-chan received) {
	t.Helper()

	lb := modem.NewLoopback(false)
	link, err := NewLink(lb, opts, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	rxChan := make(chan received, 16)
	require.NoError(t, link.OnReceive(func(pkt []byte, conf float64, ok bool) {
		rxChan <- received{pkt, conf, ok}
	}))

	done := make(chan error, 1)
	go func() { done <- link.Start(context.Background()) }()

	require.Eventually(t, func() bool { return link.State() == Online }, time.Second, time.Millisecond)

	t.Cleanup(func() {
		link.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("link did not stop")
		}
	})

	return link, lb, rxChan
}

func waitReceived(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet delivery")
		return received{}
	}
}

func TestLink_ReceiveDeliversPacket(t *testing.T) {
	_, lb, rxChan := startTestLink(t, testOptions())

	require.NoError(t, lb.InjectReceive(frame.Wrap([]byte("ping"))))

	r := waitReceived(t, rxChan)
	assert.Equal(t, []byte("ping"), r.pkt)
	assert.False(t, r.ok, "no diagnostic event means absent confidence")
	assert.Equal(t, float64(0), r.conf)
}

func TestLink_ConfidenceCorrelation(t *testing.T) {
	link, lb, rxChan := startTestLink(t, testOptions())

	require.NoError(t, lb.InjectDiagnostic("### NOCARRIER ndata=10 confidence=2.5 ###"))
	require.NoError(t, lb.InjectReceive(frame.Wrap([]byte("ping"))))

	r := waitReceived(t, rxChan)
	assert.Equal(t, []byte("ping"), r.pkt)
	require.True(t, r.ok, "diagnostic confidence should attach to the packet")
	assert.Equal(t, 2.5, r.conf)
	assert.Equal(t, 2.5, link.LastConfidence())

	// The sample was consumed: a second packet with no fresh event gets
	// an absent confidence.
	require.NoError(t, lb.InjectReceive(frame.Wrap([]byte("pong"))))
	r = waitReceived(t, rxChan)
	assert.Equal(t, []byte("pong"), r.pkt)
	assert.False(t, r.ok)
}

func TestLink_StaleConfidenceNotDelivered(t *testing.T) {
	opts := testOptions()
	opts.ConfidenceWindow = 20 * time.Millisecond
	_, lb, rxChan := startTestLink(t, opts)

	require.NoError(t, lb.InjectDiagnostic("### NOCARRIER confidence=9.9 ###"))

	// Let the sample age past the validity window with no packet to
	// consume it.
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, lb.InjectReceive(frame.Wrap([]byte("late"))))
	r := waitReceived(t, rxChan)
	assert.Equal(t, []byte("late"), r.pkt)
	assert.False(t, r.ok, "stale confidence must not attach to a later frame")
}

func TestLink_ReceiverNoiseIgnored(t *testing.T) {
	_, lb, rxChan := startTestLink(t, testOptions())

	// Undecodable bytes ahead of a valid frame are receiver noise and
	// contribute nothing.
	require.NoError(t, lb.InjectReceive([]byte{0xff, 0xfe}))
	require.NoError(t, lb.InjectReceive(frame.Wrap([]byte("ok"))))

	r := waitReceived(t, rxChan)
	assert.Equal(t, []byte("ok"), r.pkt)
}

func TestLink_CarrierGatesTransmit(t *testing.T) {
	link, lb, _ := startTestLink(t, testOptions())

	require.NoError(t, lb.InjectDiagnostic("### CARRIER 300 @ 1600.0 Hz ###"))
	require.Eventually(t, link.Carrier, time.Second, time.Millisecond)

	require.NoError(t, link.Send([]byte("held")))

	// Many scheduling cycles pass; nothing may reach the transmit
	// stream while the carrier is sensed.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, lb.Sent())
	assert.Equal(t, 1, link.QueueDepth())

	require.NoError(t, lb.InjectDiagnostic("### NOCARRIER confidence=1.0 ###"))
	require.Eventually(t, func() bool {
		return bytes.Equal(lb.Sent(), frame.Wrap([]byte("held")))
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, link.QueueDepth())
}

func TestLink_BurstDrainsQueueInOrder(t *testing.T) {
	lb := modem.NewLoopback(false)
	link, err := NewLink(lb, testOptions(), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	var pttToggles atomic.Int32
	require.NoError(t, link.OnPTT(func() { pttToggles.Add(1) }))

	// Queued before start, drained in FIFO order as one keyed burst.
	require.NoError(t, link.Send([]byte("ping")))
	require.NoError(t, link.Send([]byte("pong")))

	done := make(chan error, 1)
	go func() { done <- link.Start(context.Background()) }()
	defer func() {
		link.Stop()
		<-done
	}()

	want := append(frame.Wrap([]byte("ping")), frame.Wrap([]byte("pong"))...)
	require.Eventually(t, func() bool {
		return bytes.Equal(lb.Sent(), want) && pttToggles.Load() == 2
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, uint64(1), link.TransmitBursts())

	// No further keying once the queue is empty.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), pttToggles.Load())
	assert.Equal(t, want, lb.Sent())
}

func TestLink_SyncBytePrefix(t *testing.T) {
	opts := testOptions()
	opts.SyncByte = []byte{0x23}
	link, lb, _ := startTestLink(t, opts)

	require.NoError(t, link.Send([]byte("a")))

	want := append([]byte{0x23}, frame.Wrap([]byte("a"))...)
	require.Eventually(t, func() bool {
		return bytes.Equal(lb.Sent(), want)
	}, 2*time.Second, time.Millisecond)
}

func TestLink_SendValidation(t *testing.T) {
	link, err := NewLink(modem.NewLoopback(false), testOptions())
	require.NoError(t, err)

	assert.ErrorIs(t, link.Send(nil), ErrInvalidPayload)
	assert.ErrorIs(t, link.Send([]byte{}), ErrInvalidPayload)
	assert.NoError(t, link.Send([]byte("fine")))
}

func TestLink_CallbackValidation(t *testing.T) {
	link, err := NewLink(modem.NewLoopback(false), testOptions())
	require.NoError(t, err)

	assert.ErrorIs(t, link.OnReceive(nil), ErrInvalidCallback)
	assert.ErrorIs(t, link.OnPTT(nil), ErrInvalidCallback)
}

func TestLink_RequiresBaudRate(t *testing.T) {
	_, err := NewLink(modem.NewLoopback(false), Options{})
	assert.Error(t, err)
}

func TestLink_StartTwice(t *testing.T) {
	link, _, _ := startTestLink(t, testOptions())
	assert.ErrorIs(t, link.Start(context.Background()), ErrAlreadyStarted)
}

func TestLink_StopTransitionsToStopped(t *testing.T) {
	lb := modem.NewLoopback(false)
	link, err := NewLink(lb, testOptions(), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- link.Start(context.Background()) }()
	require.Eventually(t, func() bool { return link.State() == Online }, time.Second, time.Millisecond)

	require.NoError(t, link.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("link did not stop")
	}
	assert.Equal(t, Stopped, link.State())
}

// brokenTxModem is a loopback whose transmit writer always fails, the
// shape of a dead tx process whose rx sibling is still alive.
type brokenTxModem struct {
	*modem.Loopback
	writeErr error
}

func (m *brokenTxModem) Transmit() io.Writer {
	return errWriter{m.writeErr}
}

type errWriter struct{ err error }

func (w errWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestLink_TransmitFailureStopsLink(t *testing.T) {
	m := &brokenTxModem{
		Loopback: modem.NewLoopback(false),
		writeErr: errors.New("write tx stdin: broken pipe"),
	}
	link, err := NewLink(m, testOptions(), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, link.Send([]byte("boom")))

	done := make(chan error, 1)
	go func() { done <- link.Start(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transmit burst")
		assert.ErrorIs(t, err, m.writeErr)
	case <-time.After(2 * time.Second):
		t.Fatal("link did not come down after the transmit write failed")
	}
	assert.Equal(t, Stopped, link.State())
}

func TestLink_ParentContextCancelStopsLink(t *testing.T) {
	lb := modem.NewLoopback(false)
	link, err := NewLink(lb, testOptions(), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- link.Start(ctx) }()
	require.Eventually(t, func() bool { return link.State() == Online }, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("link did not come down after context cancellation")
	}
	assert.Equal(t, Stopped, link.State())
}
