package modem

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Loopback is an in-memory modem used by tests and by loopback runs
// with no audio hardware. Receive and diagnostic bytes are injected
// directly; transmitted bytes are captured, and optionally echoed back
// into the receive stream.
type Loopback struct {
	echo bool

	rxR   *io.PipeReader
	rxW   *io.PipeWriter
	diagR *io.PipeReader
	diagW *io.PipeWriter

	mu   sync.Mutex
	sent bytes.Buffer
}

func NewLoopback(echo bool) *Loopback {
	l := &Loopback{echo: echo}
	l.rxR, l.rxW = io.Pipe()
	l.diagR, l.diagW = io.Pipe()
	return l
}

func (l *Loopback) Start(ctx context.Context) error { return nil }

// Stop closes both inbound pipes, which unblocks any pending reads
// with io.EOF. Safe to call more than once.
func (l *Loopback) Stop() error {
	l.rxW.Close()
	l.diagW.Close()
	return nil
}

func (l *Loopback) Receive() io.Reader     { return l.rxR }
func (l *Loopback) Diagnostics() io.Reader { return l.diagR }
func (l *Loopback) Transmit() io.Writer    { return loopbackWriter{l} }

// InjectReceive feeds bytes into the receive stream, as though the rx
// process had decoded them off the air. It blocks until the receive
// loop has consumed them.
func (l *Loopback) InjectReceive(data []byte) error {
	_, err := l.rxW.Write(data)
	return err
}

// InjectDiagnostic feeds text into the diagnostic stream.
func (l *Loopback) InjectDiagnostic(text string) error {
	_, err := l.diagW.Write([]byte(text))
	return err
}

// Sent returns a copy of all bytes written to the transmit endpoint.
func (l *Loopback) Sent() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]byte, l.sent.Len())
	copy(out, l.sent.Bytes())
	return out
}

type loopbackWriter struct{ l *Loopback }

func (w loopbackWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	w.l.sent.Write(p)
	w.l.mu.Unlock()
	if w.l.echo {
		return w.l.rxW.Write(p)
	}
	return len(p), nil
}
