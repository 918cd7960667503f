package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/roach88/simrun/internal/scenario"
)

// IterationFlag is the engine flag selecting the iteration index.
const IterationFlag = "-i"

// Process is a running engine instance.
type Process interface {
	// Stdout is the engine's line-oriented output.
	Stdout() io.Reader

	// Wait blocks until the process exits and returns everything it wrote
	// to stderr. Stdout must be drained first.
	Wait() (stderr string, err error)

	// Kill stops the process. It is safe to call more than once and after
	// the process exited.
	Kill() error
}

// Spawner starts one engine process per iteration.
type Spawner interface {
	Spawn(ctx context.Context, iteration int) (Process, error)
}

// ExecSpawner runs the scenario's engine binary with os/exec.
type ExecSpawner struct {
	Invocation scenario.Invocation

	// WaitDelay bounds how long Wait waits for output pipes after the
	// process exits. Zero uses one second.
	WaitDelay time.Duration
}

// NewExecSpawner creates a spawner for inv.
func NewExecSpawner(inv scenario.Invocation) *ExecSpawner {
	return &ExecSpawner{Invocation: inv}
}

// Command builds the command line for iteration without starting it.
func (s *ExecSpawner) Command(ctx context.Context, iteration int) *exec.Cmd {
	args := append(append([]string(nil), s.Invocation.Args...), IterationFlag, strconv.Itoa(iteration))
	cmd := exec.CommandContext(ctx, s.Invocation.Path, args...)
	cmd.Dir = s.Invocation.Dir
	if len(s.Invocation.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Invocation.Env...)
	}
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = time.Second
	}
	return cmd
}

// Spawn implements Spawner. Cancelling ctx kills the process.
func (s *ExecSpawner) Spawn(ctx context.Context, iteration int) (Process, error) {
	cmd := s.Command(ctx, iteration)

	p := &execProcess{cmd: cmd}
	cmd.Stderr = &p.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	p.stdout = stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.Invocation.Path, err)
	}
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr bytes.Buffer
}

func (p *execProcess) Stdout() io.Reader {
	return p.stdout
}

func (p *execProcess) Wait() (string, error) {
	err := p.cmd.Wait()
	return p.stderr.String(), err
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
