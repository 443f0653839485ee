package modem

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultExecName is the soft-modem binary resolved from PATH when
	// no explicit path is configured.
	DefaultExecName = "minimodem"

	// startupProbe is how long a freshly launched process is watched
	// for an immediate exit (bad audio device, bad switches) before
	// Start is considered successful.
	startupProbe = 100 * time.Millisecond

	// DefaultStopGrace bounds how long Stop waits for a process to
	// terminate before killing it.
	DefaultStopGrace = 5 * time.Second
)

// ProcessOptions configure the pair of external modem processes. The
// audio devices are pre-resolved "card,device" ALSA strings; empty
// means the system default device.
type ProcessOptions struct {
	ExecPath   string
	DeviceIn   string
	DeviceOut  string
	Baudmode   string
	SyncByte   string  // e.g. "0x23", empty disables
	Confidence float64 // squelch threshold, applied by the rx process only
	Mark       int     // mark frequency in Hz, 0 for protocol default
	Space      int     // space frequency in Hz, 0 for protocol default
	StopGrace  time.Duration
}

// Process runs one external modem process per direction: a receive
// process whose stdout is the decoded byte stream and whose stderr is
// the diagnostic stream, and a transmit process whose stdin accepts
// bytes to modulate.
type Process struct {
	opts   ProcessOptions
	logger zerolog.Logger

	rxCmd *exec.Cmd
	txCmd *exec.Cmd

	rxOut  io.ReadCloser
	rxDiag io.ReadCloser
	txIn   io.WriteCloser

	rxDone chan error
	txDone chan error

	stopOnce sync.Once
}

func NewProcess(opts ProcessOptions, logger zerolog.Logger) (*Process, error) {
	if opts.ExecPath == "" {
		path, err := exec.LookPath(DefaultExecName)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, DefaultExecName)
		}
		opts.ExecPath = path
	}
	if opts.Baudmode == "" {
		opts.Baudmode = "300"
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if _, err := BaudRate(opts.Baudmode); err != nil {
		return nil, err
	}
	return &Process{opts: opts, logger: logger}, nil
}

// args builds the command-line switches for one direction. Confidence,
// sync byte, and the print filter are rx-only concerns; the transmit
// process ignores them.
func (p *Process) args(mode string) []string {
	args := []string{"--" + mode}

	device := p.opts.DeviceIn
	if mode == "tx" {
		device = p.opts.DeviceOut
	}
	if device != "" {
		args = append(args, "--alsa="+device)
	}
	if mode == "rx" {
		if p.opts.Confidence > 0 {
			args = append(args, "--confidence", fmt.Sprintf("%g", p.opts.Confidence))
		}
		if p.opts.SyncByte != "" {
			args = append(args, "--sync-byte", p.opts.SyncByte)
		}
		args = append(args, "--print-filter")
	}
	if p.opts.Mark > 0 {
		args = append(args, "--mark", fmt.Sprintf("%d", p.opts.Mark))
	}
	if p.opts.Space > 0 {
		args = append(args, "--space", fmt.Sprintf("%d", p.opts.Space))
	}

	return append(args, p.opts.Baudmode)
}

func (p *Process) Start(ctx context.Context) error {
	rxCmd := exec.Command(p.opts.ExecPath, p.args("rx")...)
	txCmd := exec.Command(p.opts.ExecPath, p.args("tx")...)

	rxOut, err := rxCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("rx stdout pipe: %w", err)
	}
	rxDiag, err := rxCmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("rx stderr pipe: %w", err)
	}
	txIn, err := txCmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("tx stdin pipe: %w", err)
	}

	p.logger.Info().
		Str("exec", p.opts.ExecPath).
		Strs("rx_args", p.args("rx")).
		Strs("tx_args", p.args("tx")).
		Msg("starting modem processes")

	if err := rxCmd.Start(); err != nil {
		return fmt.Errorf("start rx process: %w", err)
	}
	if err := txCmd.Start(); err != nil {
		rxCmd.Process.Kill()
		return fmt.Errorf("start tx process: %w", err)
	}

	p.rxCmd, p.txCmd = rxCmd, txCmd
	p.rxOut, p.rxDiag, p.txIn = rxOut, rxDiag, txIn
	p.rxDone = waitChan(rxCmd)
	p.txDone = waitChan(txCmd)

	// An immediate exit means bad switches or a missing audio device.
	// Surface that now instead of letting the read loops spin on EOF.
	probe := time.NewTimer(startupProbe)
	defer probe.Stop()
	select {
	case err := <-p.rxDone:
		p.Stop()
		return fmt.Errorf("rx process exited during startup: %w", exitErr(err))
	case err := <-p.txDone:
		p.Stop()
		return fmt.Errorf("tx process exited during startup: %w", exitErr(err))
	case <-ctx.Done():
		p.Stop()
		return ctx.Err()
	case <-probe.C:
	}

	return nil
}

// Stop terminates both processes, escalating to SIGKILL after the
// configured grace period, and closes the stream endpoints so pending
// blocking reads return. Stop is reached from both the deliberate
// shutdown path and the failure teardown path, so repeat calls are
// no-ops.
func (p *Process) Stop() error {
	p.stopOnce.Do(p.stop)
	return nil
}

func (p *Process) stop() {
	if p.txIn != nil {
		p.txIn.Close()
	}

	stop := func(cmd *exec.Cmd, done chan error) {
		if cmd == nil || cmd.Process == nil {
			return
		}
		cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(p.opts.StopGrace):
			p.logger.Warn().Int("pid", cmd.Process.Pid).Msg("modem process did not terminate, killing")
			cmd.Process.Kill()
			<-done
		}
	}

	stop(p.rxCmd, p.rxDone)
	stop(p.txCmd, p.txDone)

	if p.rxOut != nil {
		p.rxOut.Close()
	}
	if p.rxDiag != nil {
		p.rxDiag.Close()
	}
}

func (p *Process) Receive() io.Reader     { return p.rxOut }
func (p *Process) Diagnostics() io.Reader { return p.rxDiag }
func (p *Process) Transmit() io.Writer    { return p.txIn }

func waitChan(cmd *exec.Cmd) chan error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	return done
}

func exitErr(err error) error {
	if err == nil {
		return fmt.Errorf("exit status 0")
	}
	return err
}
