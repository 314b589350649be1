package ops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// captureWriter buffers process output up to a byte bound and keeps
// counting past it so truncation can be reported.
type captureWriter struct {
	max int64

	buf       bytes.Buffer
	total     int64
	truncated bool
}

func newCaptureWriter(max int64) *captureWriter {
	if max <= 0 {
		max = 1 << 20
	}
	return &captureWriter{max: max}
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.total += int64(len(p))
	if int64(w.buf.Len()) >= w.max {
		w.truncated = true
		return len(p), nil
	}
	remain := w.max - int64(w.buf.Len())
	if int64(len(p)) <= remain {
		_, _ = w.buf.Write(p)
		return len(p), nil
	}
	_, _ = w.buf.Write(p[:remain])
	w.truncated = true
	return len(p), nil
}

func (w *captureWriter) String() string {
	if w == nil {
		return ""
	}
	return w.buf.String()
}

// execResult is the raw outcome of one process run.
type execResult struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
	StartErr        error
}

// runProcess starts argv in dir with its own process group, captures
// bounded output and kills the whole group if the context expires. The
// context is expected to carry the execution deadline already.
func runProcess(ctx context.Context, dir string, maxOutput int64, argv ...string) execResult {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutW := newCaptureWriter(maxOutput)
	stderrW := newCaptureWriter(maxOutput)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		return execResult{ExitCode: 127, StartErr: fmt.Errorf("start: %w", err)}
	}

	pgid := 0
	if cmd.Process != nil {
		if gp, gpErr := syscall.Getpgid(cmd.Process.Pid); gpErr == nil {
			pgid = gp
		}
	}

	waitErr := cmd.Wait()

	res := execResult{
		Stdout:          stdoutW.String(),
		Stderr:          stderrW.String(),
		StdoutTruncated: stdoutW.truncated,
		StderrTruncated: stderrW.truncated,
	}

	if ctx.Err() != nil {
		killProcessGroup(pgid)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = 124
		res.TimedOut = true
		return res
	}

	switch {
	case waitErr == nil:
		res.ExitCode = 0
	default:
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			res.ExitCode = ee.ExitCode()
		} else {
			res.ExitCode = 127
		}
	}
	return res
}

func killProcessGroup(pgid int) {
	if pgid <= 0 {
		return
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
		fmt.Fprintf(os.Stderr, "ops: failed to kill process group %d: %v\n", pgid, err)
	}
}
