package processrunner

import (
	"bufio"
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultKillGrace   = 5 * time.Second
	DefaultOutputGrace = 2 * time.Second

	maxLineSize = 1024 * 1024
)

// Stream identifies the output stream a line came from
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

type Line struct {
	Stream Stream
	Text   string
	Number int64 // 1-based, per stream
	Time   time.Time
}

// LineHandler receives lines as they are produced, one call at a time.
// It is never called after Run has returned.
type LineHandler func(Line)

// Invocation describes one external process run
type Invocation struct {
	ID      string
	Script  string
	Args    []string
	WorkDir string
	Elevate bool
	OnLine  LineHandler
}

type Result struct {
	ExitCode int
	PID      int
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

type Options struct {
	// Timeout is the wait ceiling for the process to exit
	Timeout time.Duration
	// KillOnTimeout terminates the process tree when Timeout elapses.
	// When false the process is left running and only the failure is reported.
	KillOnTimeout bool
	// KillGrace bounds how long to wait for the process to exit after a kill
	KillGrace time.Duration
	// OutputGrace bounds how long output is still relayed after the process exited.
	// Background children that inherited the streams are not waited for beyond it.
	OutputGrace time.Duration
	// OutputEncoding decodes console output, e.g. "cp866". Empty means UTF-8.
	OutputEncoding string
}

func DefaultOptions() Options {
	return Options{
		Timeout:       DefaultTimeout,
		KillOnTimeout: true,
		KillGrace:     DefaultKillGrace,
		OutputGrace:   DefaultOutputGrace,
	}
}

type execRunner struct {
	opts     Options
	encoding encoding.Encoding
	logger   logging.Logger
}

func NewRunner(opts Options, logger logging.Logger) (Runner, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.OutputGrace <= 0 {
		opts.OutputGrace = DefaultOutputGrace
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	enc, err := encodingFor(opts.OutputEncoding)
	if err != nil {
		return nil, err
	}

	return &execRunner{
		opts:     opts,
		encoding: enc,
		logger:   logger,
	}, nil
}

// lineGate serializes line delivery and cuts it off once the run is over
type lineGate struct {
	mutex  sync.Mutex
	closed bool
	onLine LineHandler
}

func (g *lineGate) emit(line Line) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.closed || g.onLine == nil {
		return
	}
	g.onLine(line)
}

func (g *lineGate) close() {
	g.mutex.Lock()
	g.closed = true
	g.mutex.Unlock()
}

func (r *execRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil)
	}
	if inv.Script == "" {
		return nil, errors.NewValidationError("script path cannot be empty", nil)
	}
	scriptName := filepath.Base(inv.Script)

	if inv.Elevate {
		if err := ensureElevated(); err != nil {
			return nil, err
		}
	}

	cmd := buildCommand(inv.Script, inv.Args)
	cmd.Dir = inv.WorkDir

	// os.Pipe instead of StdoutPipe: Wait must return on process exit even
	// while a background child still holds the write ends
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		return nil, errors.NewInternalError("failed to create stdout pipe", err)
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		stdoutRead.Close()
		stdoutWrite.Close()
		return nil, errors.NewInternalError("failed to create stderr pipe", err)
	}
	cmd.Stdout = stdoutWrite
	cmd.Stderr = stderrWrite

	r.logger.Infof("Starting process, invocation: %s, script: %s, args: %v, dir: %s",
		inv.ID, inv.Script, inv.Args, inv.WorkDir)

	started := time.Now()
	startErr := cmd.Start()
	// The child owns its copies now; EOF arrives once every holder closed them
	stdoutWrite.Close()
	stderrWrite.Close()
	if startErr != nil {
		stdoutRead.Close()
		stderrRead.Close()
		return nil, classifyStartError(startErr).WithContext("script", scriptName)
	}
	pid := cmd.Process.Pid

	gate := &lineGate{onLine: inv.OnLine}
	defer gate.close()

	drained := make(chan struct{})
	var drains sync.WaitGroup
	drains.Add(2)
	go r.drain(&drains, stdoutRead, StreamStdout, gate)
	go r.drain(&drains, stderrRead, StreamStderr, gate)
	go func() {
		drains.Wait()
		close(drained)
	}()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	timer := time.NewTimer(r.opts.Timeout)
	defer timer.Stop()

	select {
	case waitErr := <-exited:
		result := &Result{PID: pid, Duration: time.Since(started)}
		r.awaitOutput(inv.ID, pid, drained)

		if waitErr == nil {
			result.ExitCode = cmd.ProcessState.ExitCode()
			r.logger.Infof("Process exited, invocation: %s, PID: %d, duration: %v", inv.ID, pid, result.Duration)
			return result, nil
		}

		var exitErr *exec.ExitError
		if goerrors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			result.ExitCode = code
			r.logger.Warnf("Process exited with non-zero code, invocation: %s, PID: %d, code: %d", inv.ID, pid, code)
			return result, errors.NewProcessError(fmt.Sprintf("process exited with exit code %d", code), nil).
				WithContext("exit_code", code).
				WithContext("script", scriptName)
		}

		result.ExitCode = -1
		return result, errors.NewProcessError("process wait failed", waitErr).WithContext("script", scriptName)

	case <-timer.C:
		killed := false
		if r.opts.KillOnTimeout {
			r.logger.Warnf("Process did not exit within %v, terminating, invocation: %s, PID: %d", r.opts.Timeout, inv.ID, pid)
			killed = r.terminate(cmd, exited)
			r.awaitOutput(inv.ID, pid, drained)
		} else {
			r.logger.Warnf("Process did not exit within %v, leaving it running, invocation: %s, PID: %d", r.opts.Timeout, inv.ID, pid)
		}
		return &Result{PID: pid, ExitCode: -1, Duration: time.Since(started)},
			errors.NewTimeoutError(fmt.Sprintf("process did not exit within %v", r.opts.Timeout), nil).
				WithContext("script", scriptName).
				WithContext("pid", pid).
				WithContext("killed", killed)

	case <-ctx.Done():
		r.logger.Warnf("Process wait cancelled, terminating, invocation: %s, PID: %d", inv.ID, pid)
		r.terminate(cmd, exited)
		r.awaitOutput(inv.ID, pid, drained)
		return &Result{PID: pid, ExitCode: -1, Duration: time.Since(started)},
			errors.NewCancelledError("process wait cancelled", ctx.Err()).WithContext("script", scriptName)
	}
}

// awaitOutput gives the drains OutputGrace to reach EOF. Past that the drains
// keep reading in the background so a surviving child never blocks on a full pipe.
func (r *execRunner) awaitOutput(id string, pid int, drained <-chan struct{}) {
	select {
	case <-drained:
	case <-time.After(r.opts.OutputGrace):
		r.logger.Debugf("Process output still held open after exit, invocation: %s, PID: %d", id, pid)
	}
}

// terminate kills the process tree and waits at most KillGrace for the exit
func (r *execRunner) terminate(cmd *exec.Cmd, exited <-chan error) bool {
	if err := killProcessTree(cmd); err != nil {
		r.logger.Warnf("Failed to kill process PID %d: %v", cmd.Process.Pid, err)
	}

	select {
	case <-exited:
		return true
	case <-time.After(r.opts.KillGrace):
		r.logger.Warnf("Process still alive %v after kill, PID: %d", r.opts.KillGrace, cmd.Process.Pid)
		return false
	}
}

func (r *execRunner) drain(wg *sync.WaitGroup, file *os.File, stream Stream, gate *lineGate) {
	defer wg.Done()
	defer file.Close()

	var reader io.Reader = file
	if r.encoding != nil {
		reader = transform.NewReader(reader, r.encoding.NewDecoder())
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lineNum int64
	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" {
			continue
		}
		lineNum++
		gate.emit(Line{
			Stream: stream,
			Text:   text,
			Number: lineNum,
			Time:   time.Now(),
		})
	}

	if err := scanner.Err(); err != nil {
		r.logger.Warnf("Error reading %s: %v", stream, err)
	}
	// Keep the child from blocking on a full pipe after a scan error
	_, _ = io.Copy(io.Discard, reader)
}

func classifyStartError(err error) *errors.DomainError {
	if goerrors.Is(err, fs.ErrPermission) || isElevationError(err) {
		return errors.NewPermissionError("process start denied: insufficient privileges or elevation refused", err)
	}
	return errors.NewProcessError("failed to start process", err)
}
