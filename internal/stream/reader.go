// Package stream reads the engine's line-oriented output without letting a
// stalled or crashed child process block its worker forever.
//
// A LineReader scans lines on its own goroutine and hands them over a
// channel. Next waits for the next line, the end of the stream, context
// cancellation, or the stall timeout, whichever comes first. Lines already
// read are never lost: they are delivered in order before io.EOF.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrStalled is returned by Next when the producer wrote nothing for longer
// than the stall timeout.
var ErrStalled = errors.New("engine output stalled")

// MaxLineSize bounds a single output line. Daily report rows grow with
// zones x categories and can be long.
const MaxLineSize = 16 * 1024 * 1024

type lineOrErr struct {
	line string
	err  error
}

// LineReader delivers lines from r one at a time.
type LineReader struct {
	lines   chan lineOrErr
	stop    chan struct{}
	timeout time.Duration
	tee     io.Writer
	done    bool
	count   int
}

// NewLineReader starts scanning r. stallTimeout <= 0 disables stall
// detection. Every line delivered by Next is also written to tee, when
// non-nil, followed by a newline.
func NewLineReader(r io.Reader, stallTimeout time.Duration, tee io.Writer) *LineReader {
	lr := &LineReader{
		lines:   make(chan lineOrErr),
		stop:    make(chan struct{}),
		timeout: stallTimeout,
		tee:     tee,
	}
	go lr.scan(r)
	return lr
}

func (lr *LineReader) scan(r io.Reader) {
	defer close(lr.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	for scanner.Scan() {
		select {
		case lr.lines <- lineOrErr{line: scanner.Text()}:
		case <-lr.stop:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case lr.lines <- lineOrErr{err: fmt.Errorf("read engine output: %w", err)}:
		case <-lr.stop:
		}
	}
}

// Next returns the next line. It returns io.EOF once the stream is closed and
// drained, ErrStalled if no line arrives within the stall timeout, or the
// context error if ctx is done first.
func (lr *LineReader) Next(ctx context.Context) (string, error) {
	if lr.done {
		return "", io.EOF
	}

	var stall <-chan time.Time
	if lr.timeout > 0 {
		timer := time.NewTimer(lr.timeout)
		defer timer.Stop()
		stall = timer.C
	}

	select {
	case item, ok := <-lr.lines:
		if !ok {
			lr.done = true
			return "", io.EOF
		}
		if item.err != nil {
			lr.done = true
			return "", item.err
		}
		lr.count++
		if lr.tee != nil {
			// Log write failures must not fail the iteration.
			_, _ = io.WriteString(lr.tee, item.line+"\n")
		}
		return item.line, nil
	case <-stall:
		return "", fmt.Errorf("%w: no output for %s after %d lines", ErrStalled, lr.timeout, lr.count)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Lines returns how many lines Next has delivered.
func (lr *LineReader) Lines() int {
	return lr.count
}

// Close stops the scanning goroutine. The underlying reader should also be
// closed (or the producer killed) so a blocked read returns.
func (lr *LineReader) Close() {
	select {
	case <-lr.stop:
	default:
		close(lr.stop)
	}
}
