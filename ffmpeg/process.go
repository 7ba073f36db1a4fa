// Package ffmpeg supervises one external transcoder process per streaming
// session: lifecycle, diagnostic capture, serialized stdin writes, and exit
// classification.
package ffmpeg

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// killTimeout is how long Stop waits for a graceful exit before force-killing.
const killTimeout = 5 * time.Second

// ExitDisposition classifies how a supervised process ended.
type ExitDisposition int

const (
	// ExitNormal is a clean zero exit.
	ExitNormal ExitDisposition = iota
	// ExitExpected is a kill-style exit that followed an explicit Stop.
	ExitExpected
	// ExitAbnormal is everything else.
	ExitAbnormal
)

func (d ExitDisposition) String() string {
	switch d {
	case ExitNormal:
		return "normal"
	case ExitExpected:
		return "expected"
	default:
		return "abnormal"
	}
}

// ExitStatus carries the disposition of a finished process plus enough
// context to diagnose an abnormal exit without reproducing it.
type ExitStatus struct {
	Disposition ExitDisposition
	Code        int
	Signal      string
	Diagnostics []string
}

// Process is the live handle to one supervised external transcoder.
// It owns the process's standard streams for the process's lifetime and is
// always explicitly stopped on session teardown.
type Process struct {
	log  zerolog.Logger
	cmd  *exec.Cmd
	args []string

	stdin  io.WriteCloser
	stdout io.ReadCloser

	startOnce sync.Once
	started   chan struct{}

	ring *diagRing

	mu            sync.Mutex
	writeQueue    [][]byte
	writeSignal   *sync.Cond
	writerStopped bool
	closeInput    bool
	stopRequested bool

	exited chan struct{}
	status ExitStatus
	onExit func(ExitStatus)
}

// New builds a supervisor for one invocation of the named executable.
// onExit, if non-nil, fires exactly once after the process ends.
func New(log zerolog.Logger, name string, args []string, onExit func(ExitStatus)) *Process {
	p := &Process{
		log:     log.With().Str("component", "ffmpeg").Logger(),
		cmd:     exec.Command(name, args...),
		args:    args,
		started: make(chan struct{}),
		exited:  make(chan struct{}),
		ring:    newDiagRing(diagRingSize),
		onExit:  onExit,
	}
	p.writeSignal = sync.NewCond(&p.mu)
	return p
}

// Start launches the process and its stream pumps. The process is considered
// started on the first byte of diagnostic output, the only reliable signal
// that it is functioning, since stdin/stdout usage depends on the argument
// vector.
func (p *Process) Start() error {
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	p.stdin = stdin
	p.stdout = stdout

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cmd.Path, err)
	}

	p.log.Debug().Int("pid", p.cmd.Process.Pid).Strs("args", p.args).Msg("process spawned")

	go p.drainDiagnostics(stderr)
	go p.writeLoop()
	go p.wait()

	return nil
}

// Started is closed on the first byte of diagnostic output.
func (p *Process) Started() <-chan struct{} {
	return p.started
}

// Exited is closed after the process ends and its status is recorded.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Status returns the exit status. Valid only after Exited is closed.
func (p *Process) Status() ExitStatus {
	return p.status
}

// Stdout exposes the process's output byte stream.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Diagnostics returns the most recent diagnostic lines.
func (p *Process) Diagnostics() []string {
	return p.ring.lines()
}

// Write queues b for the process's stdin. Writes are strictly serialized:
// each queued buffer is written only after the previous one has drained.
// The queue is unbounded until process exit, which is the expected behavior
// for a best-effort live stream.
func (p *Process) Write(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writerStopped {
		return
	}
	p.writeQueue = append(p.writeQueue, b)
	p.writeSignal.Signal()
}

// CloseInput closes stdin once every queued write has drained. Used when the
// input is a finite document (e.g. an SDP description) rather than a stream.
func (p *Process) CloseInput() {
	p.mu.Lock()
	p.closeInput = true
	drained := len(p.writeQueue) == 0 && !p.writerStopped
	if drained {
		p.writerStopped = true
	}
	p.writeSignal.Signal()
	p.mu.Unlock()

	if drained {
		p.stdin.Close()
	}
}

func (p *Process) writeLoop() {
	for {
		p.mu.Lock()
		for len(p.writeQueue) == 0 && !p.writerStopped && !p.closeInput {
			p.writeSignal.Wait()
		}
		if p.writerStopped {
			p.mu.Unlock()
			return
		}
		if len(p.writeQueue) == 0 && p.closeInput {
			p.writerStopped = true
			p.mu.Unlock()
			p.stdin.Close()
			return
		}
		buf := p.writeQueue[0]
		p.writeQueue = p.writeQueue[1:]
		p.mu.Unlock()

		if _, err := p.stdin.Write(buf); err != nil {
			p.mu.Lock()
			p.writerStopped = true
			p.mu.Unlock()
			return
		}
	}
}

// Stop tears the process down: send the graceful quit token if stdin is not
// carrying data, close both streams, signal termination, and arm a
// force-kill fallback.
func (p *Process) Stop() {
	p.mu.Lock()
	if p.stopRequested {
		p.mu.Unlock()
		return
	}
	p.stopRequested = true
	dataInUse := len(p.writeQueue) > 0
	p.writerStopped = true
	p.writeSignal.Signal()
	p.mu.Unlock()

	if !dataInUse {
		// ffmpeg treats a lone "q" on stdin as a quit request.
		p.stdin.Write([]byte("q")) //nolint:errcheck
	}
	p.stdin.Close()
	p.stdout.Close()

	if p.cmd.Process != nil {
		p.cmd.Process.Signal(syscall.SIGTERM) //nolint:errcheck
	}

	kill := time.AfterFunc(killTimeout, func() {
		if p.cmd.Process != nil {
			p.log.Warn().Int("pid", p.cmd.Process.Pid).Msg("process did not exit in time, force killing")
			p.cmd.Process.Kill() //nolint:errcheck
		}
	})
	go func() {
		<-p.exited
		kill.Stop()
	}()
}

func (p *Process) drainDiagnostics(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.startOnce.Do(func() { close(p.started) })

		line := stripControl(scanner.Text())
		if line == "" {
			continue
		}
		p.ring.add(line)
		if !isProgressLine(line) {
			p.log.Debug().Str("stderr", line).Msg("transcoder output")
		}
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	stopRequested := p.stopRequested
	p.writerStopped = true
	p.writeSignal.Signal()
	p.mu.Unlock()

	p.status = classifyExit(p.cmd, err, stopRequested)
	p.status.Diagnostics = p.ring.lines()
	close(p.exited)

	switch p.status.Disposition {
	case ExitAbnormal:
		p.log.Error().
			Int("code", p.status.Code).
			Str("signal", p.status.Signal).
			Strs("diagnostics", p.status.Diagnostics).
			Msg("transcoder exited abnormally")
	default:
		p.log.Debug().Str("disposition", p.status.Disposition.String()).Msg("transcoder exited")
	}

	if p.onExit != nil {
		p.onExit(p.status)
	}
}

// classifyExit distinguishes a clean exit, an expected kill following Stop,
// and an abnormal exit.
func classifyExit(cmd *exec.Cmd, waitErr error, stopRequested bool) ExitStatus {
	st := ExitStatus{Code: -1}

	var ws syscall.WaitStatus
	if cmd.ProcessState != nil {
		st.Code = cmd.ProcessState.ExitCode()
		if sys, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok {
			ws = sys
			if ws.Signaled() {
				st.Signal = ws.Signal().String()
			}
		}
	}

	switch {
	case waitErr == nil && st.Code == 0:
		st.Disposition = ExitNormal
	case stopRequested && (ws.Signaled() || st.Code == 137):
		// 137 is the shell-style encoding of SIGKILL seen when the fallback
		// timer fired on a wrapped invocation.
		st.Disposition = ExitExpected
	default:
		st.Disposition = ExitAbnormal
	}
	return st
}
