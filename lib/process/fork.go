// Package process starts adapter executables with piped standard streams.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Option customizes the forked command.
type Option func(cmd *exec.Cmd)

// WithEnv appends variables to the inherited environment.
func WithEnv(env ...string) Option {
	return func(cmd *exec.Cmd) {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, env...)
	}
}

// WithDir sets the working directory of the child.
func WithDir(dir string) Option {
	return func(cmd *exec.Cmd) {
		cmd.Dir = dir
	}
}

// WithStderr routes the child's stderr to w. By default it goes to the host's stderr.
func WithStderr(w io.Writer) Option {
	return func(cmd *exec.Cmd) {
		cmd.Stderr = w
	}
}

// WithArgs passes command-line arguments to the child.
func WithArgs(args ...string) Option {
	return func(cmd *exec.Cmd) {
		cmd.Args = append(cmd.Args, args...)
	}
}

// Process is a running child whose stdin and stdout carry the message stream.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

// Fork starts the executable at path.
func Fork(path string, opts ...Option) (*Process, error) {
	cmd := exec.Command(path)
	cmd.Stderr = os.Stderr
	for _, opt := range opts {
		opt(cmd)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exited: make(chan struct{}),
	}, nil
}

func (p *Process) Stdin() io.Writer {
	return p.stdin
}

func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Exited is closed once Wait has observed the child exit.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Wait blocks until the child exits. It is safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		if err := p.cmd.Wait(); err != nil {
			p.waitErr = fmt.Errorf("process exited with error: %w", err)
		}
		close(p.exited)
	})
	return p.waitErr
}

// Close closes the child's stdin and kills it if it is still running.
func (p *Process) Close() error {
	var errs []error
	if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
	}

	select {
	case <-p.exited:
		return errors.Join(errs...)
	default:
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = append(errs, fmt.Errorf("failed to kill process: %w", err))
	}
	return errors.Join(errs...)
}
