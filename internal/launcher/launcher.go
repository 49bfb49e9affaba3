// Package launcher starts external processes for jobs, either directly, through
// an elevation prefix, or under another user's identity.
package launcher

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultTimeout bounds a process when the invocation sets none
const DefaultTimeout = time.Hour

// ErrUnsupported is returned by launchers that cannot run on this platform
var ErrUnsupported = errors.New("launcher not supported on this platform")

// Invocation is one process to start
type Invocation struct {
	Path     string
	Args     []string
	Timeout  time.Duration
	User     string
	Domain   string
	Password string
}

// Result is what a process left behind. ExitCode is only meaningful when
// TimedOut is false.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Captured bool
}

// Launcher starts a process and waits for it. A non-zero exit is reported in
// Result; an error means the process could not be started.
type Launcher interface {
	Launch(ctx context.Context, inv Invocation) (Result, error)
}

// run executes cmd under timeout, mapping a deadline to timedOut and an exit
// status to its code.
func run(ctx context.Context, timeout time.Duration, build func(ctx context.Context) *exec.Cmd, stdout, stderr io.Writer) (exitCode int, timedOut bool, err error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := build(ctx)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return -1, true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), false, nil
	}
	if err != nil {
		return -1, false, err
	}
	return 0, false, nil
}

// Direct runs the program as the scheduler's own user, capturing output
type Direct struct {
	Timeout time.Duration
}

// Launch runs the program
func (d Direct) Launch(ctx context.Context, inv Invocation) (Result, error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = d.Timeout
	}

	var stdout, stderr lockedBuffer
	code, timedOut, err := run(ctx, timeout, func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, inv.Path, inv.Args...)
	}, &stdout, &stderr)
	res := Result{
		ExitCode: code,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: timedOut,
		Captured: true,
	}
	if err != nil {
		return res, errors.Wrapf(err, "failed to start %s", inv.Path)
	}
	return res, nil
}

// Elevated runs the program through an elevation prefix such as "sudo -n".
// Output is not captured; only the exit status is reported.
type Elevated struct {
	Command []string
	Timeout time.Duration
}

// DefaultElevateCommand returns the platform elevation prefix, or nil when
// there is none.
func DefaultElevateCommand() []string {
	if runtime.GOOS == "windows" {
		return nil
	}
	return []string{"sudo", "-n"}
}

// Launch runs the program with elevated privileges
func (e Elevated) Launch(ctx context.Context, inv Invocation) (Result, error) {
	prefix := e.Command
	if len(prefix) == 0 {
		prefix = DefaultElevateCommand()
	}
	if len(prefix) == 0 {
		return Result{ExitCode: -1}, ErrUnsupported
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = e.Timeout
	}

	args := append(append(append([]string{}, prefix[1:]...), inv.Path), inv.Args...)
	code, timedOut, err := run(ctx, timeout, func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, prefix[0], args...)
	}, io.Discard, io.Discard)
	res := Result{ExitCode: code, TimedOut: timedOut}
	if err != nil {
		return res, errors.Wrapf(err, "failed to start elevated %s", inv.Path)
	}
	return res, nil
}

// lockedBuffer is a bytes.Buffer safe for the copy goroutines of os/exec
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
