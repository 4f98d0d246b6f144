//go:build !windows

package processrunner

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []Line
}

func (r *lineRecorder) handle(l Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, l)
}

func (r *lineRecorder) texts(stream Stream) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.lines {
		if l.Stream == stream {
			out = append(out, l.Text)
		}
	}
	return out
}

func writeScript(t *testing.T, dir, name, body string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestRunner(t *testing.T, opts Options) Runner {
	runner, err := NewRunner(opts, nil)
	require.NoError(t, err)
	return runner
}

func TestRun_CapturesBothStreams(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "general.sh", `
echo "out 1"
echo "err 1" >&2
echo ""
echo "out 2"
echo "err 2" >&2
echo "arg=$1"
pwd`)

	rec := &lineRecorder{}
	result, err := newTestRunner(t, DefaultOptions()).Run(context.Background(), Invocation{
		ID:      "inv-1",
		Script:  script,
		Args:    []string{"start"},
		WorkDir: dir,
		OnLine:  rec.handle,
	})

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Greater(t, result.PID, 0)

	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	stdout := rec.texts(StreamStdout)
	require.Len(t, stdout, 4)
	assert.Equal(t, []string{"out 1", "out 2", "arg=start"}, stdout[:3])
	assert.Contains(t, []string{dir, realDir}, stdout[3])
	assert.Equal(t, []string{"err 1", "err 2"}, rec.texts(StreamStderr))
}

func TestRun_LineNumbersPerStream(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "lines.sh", `echo a; echo b >&2; echo c`)

	rec := &lineRecorder{}
	_, err := newTestRunner(t, DefaultOptions()).Run(context.Background(), Invocation{Script: script, WorkDir: dir, OnLine: rec.handle})
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	numbers := map[Stream][]int64{}
	for _, l := range rec.lines {
		numbers[l.Stream] = append(numbers[l.Stream], l.Number)
	}
	assert.Equal(t, []int64{1, 2}, numbers[StreamStdout])
	assert.Equal(t, []int64{1}, numbers[StreamStderr])
}

func TestRun_RelaysLinesAsProduced(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "slow.sh", `echo first; sleep 1; echo second`)

	rec := &lineRecorder{}
	_, err := newTestRunner(t, DefaultOptions()).Run(context.Background(), Invocation{Script: script, WorkDir: dir, OnLine: rec.handle})
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.lines, 2)
	assert.GreaterOrEqual(t, rec.lines[1].Time.Sub(rec.lines[0].Time), 500*time.Millisecond)
}

func TestRun_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fail.sh", `echo "about to fail" >&2; exit 3`)

	rec := &lineRecorder{}
	result, err := newTestRunner(t, DefaultOptions()).Run(context.Background(), Invocation{Script: script, WorkDir: dir, OnLine: rec.handle})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcess))
	assert.Contains(t, err.Error(), "exit code 3")
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, []string{"about to fail"}, rec.texts(StreamStderr))

	var domainErr *errors.DomainError
	require.ErrorAs(t, err, &domainErr)
	code, ok := domainErr.ContextValue("exit_code")
	require.True(t, ok)
	assert.Equal(t, 3, code)
}

func TestRun_TimeoutKillsProcess(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hang.sh", `echo started; sleep 30`)

	opts := DefaultOptions()
	opts.Timeout = 300 * time.Millisecond
	opts.KillGrace = time.Second

	rec := &lineRecorder{}
	begin := time.Now()
	result, err := newTestRunner(t, opts).Run(context.Background(), Invocation{Script: script, WorkDir: dir, OnLine: rec.handle})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.True(t, errors.IsProcessFailure(err))
	assert.Less(t, time.Since(begin), 5*time.Second)
	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, []string{"started"}, rec.texts(StreamStdout))

	var domainErr *errors.DomainError
	require.ErrorAs(t, err, &domainErr)
	killed, _ := domainErr.ContextValue("killed")
	assert.Equal(t, true, killed)
}

func TestRun_TimeoutWithoutKill(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hang.sh", `sleep 2`)

	opts := DefaultOptions()
	opts.Timeout = 200 * time.Millisecond
	opts.KillOnTimeout = false

	begin := time.Now()
	_, err := newTestRunner(t, opts).Run(context.Background(), Invocation{Script: script, WorkDir: dir})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Less(t, time.Since(begin), 2*time.Second)

	var domainErr *errors.DomainError
	require.ErrorAs(t, err, &domainErr)
	killed, _ := domainErr.ContextValue("killed")
	assert.Equal(t, false, killed)
}

func TestRun_BackgroundChildDoesNotHoldTheRun(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "general.sh", `
echo launching
sleep 20 &
echo $! > child.pid
echo "child detached" >&2
exit 0`)

	opts := DefaultOptions()
	opts.Timeout = 5 * time.Second
	opts.OutputGrace = 300 * time.Millisecond

	rec := &lineRecorder{}
	begin := time.Now()
	result, err := newTestRunner(t, opts).Run(context.Background(), Invocation{Script: script, WorkDir: dir, OnLine: rec.handle})

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Less(t, time.Since(begin), 3*time.Second)
	assert.Equal(t, []string{"launching"}, rec.texts(StreamStdout))
	assert.Equal(t, []string{"child detached"}, rec.texts(StreamStderr))

	pid := readChildPID(t, dir)
	assert.NoError(t, syscall.Kill(pid, 0), "background child must survive the run")
}

func TestRun_NoLinesAfterReturn(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "late.sh", `echo early; sleep 1; echo late`)

	opts := DefaultOptions()
	opts.Timeout = 200 * time.Millisecond
	opts.KillOnTimeout = false

	rec := &lineRecorder{}
	_, err := newTestRunner(t, opts).Run(context.Background(), Invocation{Script: script, WorkDir: dir, OnLine: rec.handle})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, []string{"early"}, rec.texts(StreamStdout))
}

// readChildPID returns the PID a script wrote to child.pid and kills that child when the test ends
func readChildPID(t *testing.T, dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, "child.pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	})
	return pid
}

func TestRun_ContextCancelled(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hang.sh", `sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := newTestRunner(t, DefaultOptions()).Run(ctx, Invocation{Script: script, WorkDir: dir})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
}

func TestRun_StartFailure(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ok.sh", `exit 0`)

	_, err := newTestRunner(t, DefaultOptions()).Run(context.Background(), Invocation{
		Script:  script,
		WorkDir: filepath.Join(dir, "missing-dir"),
	})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcess))
	assert.Contains(t, err.Error(), "failed to start process")
}

func TestRun_Validation(t *testing.T) {
	runner := newTestRunner(t, DefaultOptions())

	_, err := runner.Run(nil, Invocation{Script: "x"}) //nolint:staticcheck
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = runner.Run(context.Background(), Invocation{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRun_DecodesConsoleCodePage(t *testing.T) {
	dir := t.TempDir()
	// "Привет" in CP866
	script := writeScript(t, dir, "cp866.sh", `printf '\217\340\250\242\245\342\n'`)

	opts := DefaultOptions()
	opts.OutputEncoding = "cp866"

	rec := &lineRecorder{}
	_, err := newTestRunner(t, opts).Run(context.Background(), Invocation{Script: script, WorkDir: dir, OnLine: rec.handle})

	require.NoError(t, err)
	assert.Equal(t, []string{"Привет"}, rec.texts(StreamStdout))
}

func TestNewRunner_UnsupportedEncoding(t *testing.T) {
	_, err := NewRunner(Options{OutputEncoding: "klingon"}, nil)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestEncodingFor(t *testing.T) {
	for _, name := range []string{"", "utf-8", "UTF8"} {
		enc, err := encodingFor(name)
		require.NoError(t, err)
		assert.Nil(t, enc, name)
	}
	for _, name := range SupportedEncodings() {
		enc, err := encodingFor(name)
		require.NoError(t, err)
		assert.NotNil(t, enc, name)
	}
}
