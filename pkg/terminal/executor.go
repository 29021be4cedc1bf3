// Package terminal runs a job's shell commands in a single
// subprocess, in its own process group, streaming everything it
// prints into the job's output.
package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/fluxcd/deployer/pkg/output"
)

const (
	DefaultCancelTimeout = 15 * time.Second
	defaultShell         = "/bin/sh"

	// echoed in front of commands in verbose mode
	commandPrefix = "» "
)

type Option interface {
	apply(*Executor)
}

// Timeout bounds the wall-clock time of a whole Execute call.
type Timeout time.Duration

func (t Timeout) apply(e *Executor) {
	e.timeout = time.Duration(t)
}

// CancelTimeout is how long a cancelled process group gets to exit
// before it is killed.
type CancelTimeout time.Duration

func (t CancelTimeout) apply(e *Executor) {
	e.cancelTimeout = time.Duration(t)
}

// Verbose makes the executor echo each command before running it.
type Verbose bool

func (v Verbose) apply(e *Executor) {
	e.verbose = bool(v)
}

// Env adds variables to the subprocess environment.
type Env []string

func (env Env) apply(e *Executor) {
	e.env = append(e.env, env...)
}

type Executor struct {
	output        *output.Buffer
	verbose       bool
	timeout       time.Duration
	cancelTimeout time.Duration
	shell         string
	env           []string

	mu         sync.Mutex
	quiet      bool
	pid        int
	pgid       int
	done       chan struct{}
	exitStatus int
}

func NewExecutor(out *output.Buffer, opts ...Option) *Executor {
	e := &Executor{
		output:        out,
		cancelTimeout: DefaultCancelTimeout,
		shell:         defaultShell,
		env:           os.Environ(),
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	return e
}

// Execute runs all commands, in order, in one shell that exits at the
// first failing command. A non-zero exit status or running out of
// time is reported as (false, nil); only failing to start the shell
// is an error. If ctx is cancelled while the commands run, the
// process group is interrupted as with Cancel.
func (e *Executor) Execute(ctx context.Context, commands ...string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nil
	}

	cmd := exec.Command(e.shell, "-e", "-c", e.script(commands))
	cmd.Stdout = e.output
	cmd.Stderr = e.output
	cmd.Env = e.env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return false, errors.Wrapf(err, "starting %s", e.shell)
	}

	pid := cmd.Process.Pid
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		pgid = pid
	}
	done := make(chan struct{})
	e.mu.Lock()
	e.pid, e.pgid, e.done = pid, pgid, done
	e.mu.Unlock()

	waited := make(chan error, 1)
	go func() {
		waited <- cmd.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if e.timeout > 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var timedOut bool
	select {
	case err = <-waited:
	case <-ctx.Done():
		e.Cancel(unix.SIGINT)
		err = <-waited
	case <-deadline:
		timedOut = true
		e.output.Puts(fmt.Sprintf("Timeout: execution took longer than %s and was terminated", e.timeout))
		e.Cancel(unix.SIGINT)
		err = <-waited
	}

	e.mu.Lock()
	e.pid, e.pgid = 0, 0
	e.exitStatus = cmd.ProcessState.ExitCode()
	e.mu.Unlock()

	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return false, errors.Wrap(err, "waiting for commands")
		}
	}
	return err == nil && !timedOut, nil
}

// Cancel sends sig to the running process group, and kills the group
// if it hasn't exited after the cancel timeout. It returns once the
// process has gone, or straight away if nothing is running.
func (e *Executor) Cancel(sig unix.Signal) {
	e.mu.Lock()
	pgid, done := e.pgid, e.done
	e.mu.Unlock()
	if pgid == 0 || done == nil {
		return
	}

	unix.Kill(-pgid, sig)
	timer := time.NewTimer(e.cancelTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		unix.Kill(-pgid, unix.SIGKILL)
		<-done
	}
}

// Quiet runs fn with command echoing switched off.
func (e *Executor) Quiet(fn func() error) error {
	e.mu.Lock()
	previous := e.quiet
	e.quiet = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.quiet = previous
		e.mu.Unlock()
	}()
	return fn()
}

// VerboseCommand returns cmd preceded by a line that echoes it.
func (e *Executor) VerboseCommand(cmd string) string {
	return "echo " + Quote(commandPrefix+cmd) + "\n" + cmd
}

func (e *Executor) Pid() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pid
}

func (e *Executor) Pgid() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pgid
}

// ExitStatus is the exit status of the last Execute, or -1 if it was
// killed by a signal.
func (e *Executor) ExitStatus() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitStatus
}

func (e *Executor) script(commands []string) string {
	e.mu.Lock()
	echo := e.verbose && !e.quiet
	e.mu.Unlock()

	lines := make([]string, len(commands))
	for i, c := range commands {
		if echo {
			c = e.VerboseCommand(c)
		}
		lines[i] = c
	}
	return strings.Join(lines, "\n")
}
