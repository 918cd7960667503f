// Package worker runs one engine iteration end to end.
//
// A Worker spawns the engine, streams its daily report through the
// demultiplexer, accumulates the unit delta counters, waits for the process
// to exit and writes the iteration's batch to a Sink exactly once. It never
// returns an error: every outcome, including aborts, is a Result.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/simrun/internal/demux"
	"github.com/roach88/simrun/internal/record"
	"github.com/roach88/simrun/internal/stream"
)

// DefaultStallTimeout is used when Config.StallTimeout is zero.
const DefaultStallTimeout = 5 * time.Minute

// Config holds the settings shared by all workers of a run.
type Config struct {
	RunID string

	// StallTimeout aborts an iteration whose engine writes nothing for this
	// long. Negative disables stall detection.
	StallTimeout time.Duration

	// LogDir receives <RunID>/iteration-<n>.log. Empty disables logs.
	LogDir string

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Result is the terminal report of one iteration. It is never mutated after
// Run returns.
type Result struct {
	Iteration  int
	Elapsed    time.Duration
	Success    bool
	Unmatched  []string
	State      State
	Err        error
	Records    int
	HeaderHash uint64
}

// ElapsedSeconds returns Elapsed rounded to whole seconds.
func (r Result) ElapsedSeconds() int {
	return int(r.Elapsed.Round(time.Second) / time.Second)
}

// Worker executes iterations. One Worker can serve many iterations
// concurrently; per-iteration state lives on the stack of Run.
type Worker struct {
	cfg     Config
	spawner Spawner
	demux   *demux.Demultiplexer
	sink    Sink
	logger  *slog.Logger
}

// New creates a Worker.
func New(cfg Config, spawner Spawner, dm *demux.Demultiplexer, sink Sink) *Worker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	if sink == nil {
		sink = Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{cfg: cfg, spawner: spawner, demux: dm, sink: sink, logger: logger}
}

// LogPath returns the log file path of iteration, or "" when logging is off.
func (w *Worker) LogPath(iteration int) string {
	if w.cfg.LogDir == "" {
		return ""
	}
	return filepath.Join(w.cfg.LogDir, w.cfg.RunID, fmt.Sprintf("iteration-%d.log", iteration))
}

// iteration is the mutable state of one Run call.
type iteration struct {
	n      int
	state  State
	logger *slog.Logger

	header    *demux.Header
	records   []*record.Target
	unmatched map[string]struct{}
	units     record.UnitCounters
	lastDay   int
}

func (it *iteration) transition(to State) {
	it.logger.Debug("iteration state", "from", it.state.String(), "to", to.String())
	it.state = to
}

// Run executes iteration n. Cancelling ctx kills the engine and aborts.
func (w *Worker) Run(ctx context.Context, n int) Result {
	start := w.cfg.Now()
	it := &iteration{
		n:         n,
		logger:    w.logger.With("run_id", w.cfg.RunID, "iteration", n),
		unmatched: make(map[string]struct{}),
		units:     make(record.UnitCounters),
	}

	err := w.run(ctx, it, start)

	res := Result{
		Iteration: n,
		Elapsed:   w.cfg.Now().Sub(start),
		Unmatched: it.unmatchedSorted(),
		Records:   len(it.records),
	}
	if it.header != nil {
		res.HeaderHash = it.header.Hash
	}
	if err != nil {
		res.Err = &IterationError{Iteration: n, State: it.state, Err: err}
		res.State = Aborted
		it.logger.Warn("iteration aborted", "state", it.state.String(), "error", err)
		return res
	}
	res.State = Done
	res.Success = true
	it.logger.Info("iteration complete", "records", res.Records, "elapsed", res.Elapsed)
	return res
}

func (w *Worker) run(ctx context.Context, it *iteration, start time.Time) error {
	logFile, closeLog := w.openLog(it)
	defer closeLog()

	it.state = Spawned
	proc, err := w.spawner.Spawn(ctx, it.n)
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	var tee io.Writer
	if logFile != nil {
		tee = logFile
	}
	lr := stream.NewLineReader(proc.Stdout(), w.cfg.StallTimeout, tee)
	defer lr.Close()

	if err := w.stream(ctx, it, lr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		_ = proc.Kill()
		stderr, _ := proc.Wait()
		writeStderr(logFile, stderr)
		return err
	}

	exit, err := w.wait(ctx, proc)
	writeStderr(logFile, exit.stderr)
	if err != nil {
		return err
	}
	it.transition(ProcessExited)
	if exit.err != nil || strings.TrimSpace(exit.stderr) != "" {
		return engineFailure(exit.err, exit.stderr)
	}

	batch := record.Batch{
		RunID:      w.cfg.RunID,
		Iteration:  it.n,
		Records:    it.records,
		Units:      it.units,
		HeaderHash: it.header.Hash,
		LastDay:    it.lastDay,
		Elapsed:    w.cfg.Now().Sub(start),
	}
	if err := w.sink.WriteIteration(ctx, batch); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	it.transition(Persisted)
	it.transition(Done)
	return nil
}

type exitStatus struct {
	stderr string
	err    error
}

// wait reaps the engine once its stdout is drained. A process that closed
// stdout but keeps running is killed after the stall timeout.
func (w *Worker) wait(ctx context.Context, proc Process) (exitStatus, error) {
	done := make(chan exitStatus, 1)
	go func() {
		stderr, err := proc.Wait()
		done <- exitStatus{stderr: stderr, err: err}
	}()

	var stall <-chan time.Time
	if w.cfg.StallTimeout > 0 {
		timer := time.NewTimer(w.cfg.StallTimeout)
		defer timer.Stop()
		stall = timer.C
	}

	select {
	case st := <-done:
		return st, nil
	case <-ctx.Done():
		_ = proc.Kill()
		return <-done, ctx.Err()
	case <-stall:
		_ = proc.Kill()
		return <-done, ErrExitStalled
	}
}

func writeStderr(logFile *os.File, stderr string) {
	if logFile != nil && stderr != "" {
		_, _ = io.WriteString(logFile, "--- stderr ---\n"+stderr)
	}
}

func engineFailure(waitErr error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	switch {
	case waitErr != nil && stderr != "":
		return fmt.Errorf("%w: %v: %s", ErrEngineFailed, waitErr, firstLine(stderr))
	case waitErr != nil:
		return fmt.Errorf("%w: %v", ErrEngineFailed, waitErr)
	default:
		return fmt.Errorf("%w: stderr: %s", ErrEngineFailed, firstLine(stderr))
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// stream consumes both output sections. It returns once stdout is drained.
func (w *Worker) stream(ctx context.Context, it *iteration, lr *stream.LineReader) error {
	line, err := nextLine(ctx, lr)
	if errors.Is(err, io.EOF) {
		return ErrNoHeader
	}
	if err != nil {
		return err
	}
	header, err := demux.ParseHeader(line)
	if err != nil {
		return err
	}
	it.header = header
	it.transition(HeaderRead)
	it.transition(DailyRowsStreaming)

	// The last day is only known once the following row is seen, so one
	// parsed row is held back. Row-fatal lines are dropped before they can
	// be held, which makes the last good row the last day.
	var pending demux.WideRow
	held := false
	skipped := 0
	flush := func() {
		if !held {
			if skipped > 0 {
				it.logger.Warn("daily report has no usable rows", "skipped", skipped)
			}
			return
		}
		w.demuxRow(it, pending, true)
	}
	for {
		line, err := nextLine(ctx, lr)
		if errors.Is(err, io.EOF) {
			flush()
			return nil
		}
		if err != nil {
			return err
		}
		if stream.IsSectionHeader(line) {
			flush()
			it.transition(UnitStatsHeaderRead)
			break
		}
		row, err := it.header.ParseRow(line)
		if err != nil {
			skipped++
			it.logger.Debug("skipping row", "error", err)
			continue
		}
		if held {
			w.demuxRow(it, pending, false)
		}
		pending, held = row, true
	}

	it.transition(UnitStatsStreaming)
	for {
		line, err := nextLine(ctx, lr)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if stream.IsSectionHeader(line) {
			it.logger.Debug("ignoring extra section header", "line", line)
			continue
		}
		unit, delta, ok, err := stream.ParseUnitDelta(line)
		if err != nil {
			it.logger.Debug("skipping unit delta line", "error", err)
			continue
		}
		if ok {
			it.units.Add(unit, delta)
		}
	}
}

// nextLine skips blank lines.
func nextLine(ctx context.Context, lr *stream.LineReader) (string, error) {
	for {
		line, err := lr.Next(ctx)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(line) != "" {
			return line, nil
		}
	}
}

func (w *Worker) demuxRow(it *iteration, row demux.WideRow, lastDay bool) {
	res := w.demux.Demux(row, lastDay)
	it.records = append(it.records, res.Records...)
	for _, col := range res.Unmatched {
		it.unmatched[col] = struct{}{}
	}
	if lastDay {
		it.lastDay = row.Day
	}
}

func (it *iteration) unmatchedSorted() []string {
	if len(it.unmatched) == 0 {
		return nil
	}
	out := make([]string, 0, len(it.unmatched))
	for col := range it.unmatched {
		out = append(out, col)
	}
	sort.Strings(out)
	return out
}

// openLog creates the iteration log. A log that cannot be created is
// reported and skipped; it never fails the iteration.
func (w *Worker) openLog(it *iteration) (*os.File, func()) {
	path := w.LogPath(it.n)
	if path == "" {
		return nil, func() {}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		it.logger.Warn("cannot create log dir", "path", path, "error", err)
		return nil, func() {}
	}
	f, err := os.Create(path)
	if err != nil {
		it.logger.Warn("cannot create iteration log", "path", path, "error", err)
		return nil, func() {}
	}
	return f, func() {
		if err := f.Close(); err != nil {
			it.logger.Warn("close iteration log", "path", path, "error", err)
		}
	}
}
