package testutil

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/roach88/simrun/internal/worker"
)

// ErrKilled is the exit error of a fake process that was killed.
var ErrKilled = errors.New("fake engine: killed")

// Script describes what one fake engine process does.
type Script struct {
	// Lines are written to stdout, each followed by a newline.
	Lines []string

	// Stderr is returned from Wait.
	Stderr string

	// ExitErr is returned from Wait when the process was not killed.
	ExitErr error

	// Hang leaves stdout open after the last line until the process is
	// killed, simulating a stalled engine.
	Hang bool

	// Linger closes stdout after the last line but keeps the process
	// running until it is killed.
	Linger bool

	// Delay is slept before the first line is written.
	Delay time.Duration

	// SpawnErr makes Spawn fail.
	SpawnErr error
}

// FakeEngine is a worker.Spawner whose processes replay scripts over an
// io.Pipe.
//
// Thread-safety: FakeEngine is safe for concurrent use.
type FakeEngine struct {
	script func(iteration int) Script

	mu      sync.Mutex
	spawned []int
	killed  []int
}

// NewFakeEngine creates a fake engine. script is called once per spawn.
func NewFakeEngine(script func(iteration int) Script) *FakeEngine {
	return &FakeEngine{script: script}
}

// Spawn implements worker.Spawner.
func (e *FakeEngine) Spawn(ctx context.Context, iteration int) (worker.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := e.script(iteration)
	if s.SpawnErr != nil {
		return nil, s.SpawnErr
	}

	e.mu.Lock()
	e.spawned = append(e.spawned, iteration)
	e.mu.Unlock()

	pr, pw := io.Pipe()
	p := &FakeProcess{
		script: s,
		stdout: pr,
		killed: make(chan struct{}),
		exited: make(chan struct{}),
		onKill: func() {
			e.mu.Lock()
			e.killed = append(e.killed, iteration)
			e.mu.Unlock()
		},
	}
	go p.run(pw)
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Kill()
		case <-p.exited:
		}
	}()
	return p, nil
}

// Spawned returns the iterations spawned so far, in spawn order.
func (e *FakeEngine) Spawned() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.spawned...)
}

// Killed returns the iterations whose process was killed.
func (e *FakeEngine) Killed() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.killed...)
}

// FakeProcess is one scripted engine process.
type FakeProcess struct {
	script Script
	stdout *io.PipeReader
	onKill func()

	killOnce sync.Once
	killed   chan struct{}
	exited   chan struct{}
}

func (p *FakeProcess) run(pw *io.PipeWriter) {
	defer close(p.exited)

	if p.script.Delay > 0 {
		select {
		case <-time.After(p.script.Delay):
		case <-p.killed:
			pw.CloseWithError(ErrKilled)
			return
		}
	}
	for _, line := range p.script.Lines {
		if _, err := io.WriteString(pw, line+"\n"); err != nil {
			return
		}
	}
	if p.script.Hang {
		<-p.killed
		pw.CloseWithError(ErrKilled)
		return
	}
	pw.Close()
	if p.script.Linger {
		<-p.killed
	}
}

// Stdout implements worker.Process.
func (p *FakeProcess) Stdout() io.Reader {
	return p.stdout
}

// Wait implements worker.Process. Stderr written before a kill is still
// returned.
func (p *FakeProcess) Wait() (string, error) {
	<-p.exited
	select {
	case <-p.killed:
		return p.script.Stderr, ErrKilled
	default:
	}
	return p.script.Stderr, p.script.ExitErr
}

// Kill implements worker.Process. It unblocks pending writes and reads.
func (p *FakeProcess) Kill() error {
	p.killOnce.Do(func() {
		close(p.killed)
		p.stdout.CloseWithError(ErrKilled)
		if p.onKill != nil {
			p.onKill()
		}
	})
	return nil
}
