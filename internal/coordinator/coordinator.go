// Package coordinator runs every iteration of a scenario on a bounded pool
// of workers and finalizes the run once all of them reported.
//
// Results flow from many workers into one channel read by a single
// consumer, which owns the crashed flag, the progress log and the header
// fingerprint. The first failed iteration crashes the run: the shared
// context is cancelled, which kills every live engine process, and
// iterations not yet dispatched are skipped. Finalization runs exactly once,
// strictly after the completion barrier.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/simrun/internal/demux"
	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/metrics"
	"github.com/roach88/simrun/internal/progress"
	"github.com/roach88/simrun/internal/record"
	"github.com/roach88/simrun/internal/scenario"
	"github.com/roach88/simrun/internal/store"
	"github.com/roach88/simrun/internal/worker"
)

// ErrCrashed is returned by Run when at least one iteration failed.
var ErrCrashed = errors.New("run crashed")

// Concurrency returns the default worker count: one less than the number of
// CPUs, and at least one.
func Concurrency() int {
	return max(1, runtime.NumCPU()-1)
}

// Config holds the settings of one run. It is passed explicitly to the
// coordinator and propagated to its workers.
type Config struct {
	RunID string

	// Iterations overrides the scenario's iteration count when positive.
	Iterations int

	// Concurrency bounds the number of live engine processes. Zero uses
	// Concurrency().
	Concurrency int

	StallTimeout time.Duration

	// LogDir receives per-iteration logs. ArtifactDir receives the zipped
	// logs of a run that did not crash. Either may be empty.
	LogDir      string
	ArtifactDir string

	Fields record.FieldMap
	Now    func() time.Time
	Logger *slog.Logger
}

// RunStore records the lifecycle of a run. *store.Store implements it.
type RunStore interface {
	CreateRun(ctx context.Context, run store.Run) error
	SaveSnapshot(ctx context.Context, runID string, snapshot []byte) error
	FinishRun(ctx context.Context, runID, status string, at time.Time) error
}

// Deps are the collaborators of a Coordinator. Nil fields get defaults:
// an exec spawner for the scenario's engine, a discarding sink, no run
// bookkeeping, a listener-less progress sink and no metrics.
type Deps struct {
	Spawner  worker.Spawner
	Sink     worker.Sink
	Runs     RunStore
	Progress *progress.Sink
	Metrics  metrics.Recorder
}

// Summary is the outcome of a run.
type Summary struct {
	RunID      string
	Requested  int
	Dispatched int
	Succeeded  int
	Failed     int
	Crashed    bool
	Archive    string
	Elapsed    time.Duration

	// Results are in completion order.
	Results []worker.Result
}

// Skipped is the number of iterations never dispatched.
func (s Summary) Skipped() int {
	return s.Requested - s.Dispatched
}

// Coordinator runs one scenario once. It is not reusable.
type Coordinator struct {
	cfg      Config
	scenario *scenario.Scenario
	keys     *keyspace.KeySpace
	worker   *worker.Worker
	deps     Deps
	logger   *slog.Logger

	finalizeOnce sync.Once
	finalizeErr  error
}

// New builds a coordinator for sc. The key space and demultiplexer are
// computed once here and shared read-only by every worker.
func New(cfg Config, sc *scenario.Scenario, deps Deps) (*Coordinator, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	if cfg.RunID == "" {
		cfg.RunID = NewRunID()
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = sc.Iterations
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = Concurrency()
	}
	if cfg.Fields == nil {
		cfg.Fields = record.DefaultFieldMap()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", cfg.RunID)

	if deps.Spawner == nil {
		deps.Spawner = worker.NewExecSpawner(sc.Engine)
	}
	if deps.Sink == nil {
		deps.Sink = worker.Discard
	}
	if deps.Progress == nil {
		deps.Progress = progress.NewSink(cfg.RunID, progress.WithClock(cfg.Now), progress.WithLogger(logger))
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}

	keys := keyspace.Build(sc.ZoneNames(), sc.CategoryNames())
	dm := demux.New(keys, cfg.Fields, logger)
	w := worker.New(worker.Config{
		RunID:        cfg.RunID,
		StallTimeout: cfg.StallTimeout,
		LogDir:       cfg.LogDir,
		Now:          cfg.Now,
		Logger:       logger,
	}, deps.Spawner, dm, deps.Sink)

	return &Coordinator{
		cfg:      cfg,
		scenario: sc,
		keys:     keys,
		worker:   w,
		deps:     deps,
		logger:   logger,
	}, nil
}

// RunID returns the id of the run.
func (c *Coordinator) RunID() string {
	return c.cfg.RunID
}

// KeySpace returns the selectors every row is decomposed against.
func (c *Coordinator) KeySpace() *keyspace.KeySpace {
	return c.keys
}

// Progress returns the run's progress sink.
func (c *Coordinator) Progress() *progress.Sink {
	return c.deps.Progress
}

// Run executes iterations 1..N and finalizes the run. It returns an error
// wrapping ErrCrashed, together with the summary, when any iteration failed.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	start := c.cfg.Now()
	sum := Summary{RunID: c.cfg.RunID, Requested: c.cfg.Iterations}

	if c.deps.Runs != nil {
		err := c.deps.Runs.CreateRun(ctx, store.Run{
			ID:           c.cfg.RunID,
			ScenarioName: c.scenario.Name,
			Iterations:   c.cfg.Iterations,
			Stop:         c.scenario.Stop,
			StartedAt:    start,
		})
		if err != nil {
			return sum, err
		}
	}

	c.logger.Info("run started",
		"scenario", c.scenario.Name,
		"iterations", c.cfg.Iterations,
		"concurrency", c.cfg.Concurrency,
		"selectors", c.keys.Len())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered to the iteration count so no worker ever blocks on send.
	results := make(chan worker.Result, c.cfg.Iterations)
	dispatched := make(chan int, 1)

	go c.dispatch(runCtx, results, dispatched)

	// Progress is recorded even after the run was cancelled.
	pctx := context.WithoutCancel(ctx)
	var (
		firstErr   error
		headerHash uint64
	)
	for res := range results {
		sum.Results = append(sum.Results, res)
		c.deps.Metrics.IterationFinished(res.Success, res.Elapsed, res.Records)
		c.deps.Progress.IterationFinished(pctx, res.Iteration, res.Elapsed)

		if res.Iteration == 1 && len(res.Unmatched) > 0 {
			c.logger.Warn("unmatched columns", "iteration", 1, "columns", res.Unmatched)
			c.deps.Metrics.UnmatchedColumns(len(res.Unmatched))
		}
		if res.HeaderHash != 0 {
			switch {
			case headerHash == 0:
				headerHash = res.HeaderHash
			case res.HeaderHash != headerHash:
				c.logger.Warn("engine header changed between iterations",
					"iteration", res.Iteration,
					"hash", fmt.Sprintf("%016x", res.HeaderHash),
					"first_hash", fmt.Sprintf("%016x", headerHash))
			}
		}

		if res.Success {
			sum.Succeeded++
			continue
		}
		sum.Failed++
		if firstErr == nil {
			firstErr = res.Err
		}
		if c.deps.Progress.MarkCrashed(pctx) {
			c.logger.Error("iteration failed, aborting run", "iteration", res.Iteration, "error", res.Err)
			cancel()
		}
	}
	// results is closed only after every dispatched worker reported.
	sum.Dispatched = <-dispatched

	// An interrupted run is crashed even when no iteration reported failure.
	if err := ctx.Err(); err != nil && firstErr == nil {
		firstErr = err
		c.deps.Progress.MarkCrashed(pctx)
	}
	sum.Crashed = firstErr != nil
	sum.Elapsed = c.cfg.Now().Sub(start)

	if err := c.finalize(ctx, &sum); err != nil {
		return sum, err
	}

	c.logger.Info("run finished",
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"skipped", sum.Skipped(),
		"crashed", sum.Crashed,
		"elapsed", sum.Elapsed)

	if sum.Crashed {
		return sum, fmt.Errorf("%w: %v", ErrCrashed, firstErr)
	}
	return sum, nil
}

// dispatch starts one worker per iteration until all are started or ctx is
// cancelled, waits for them and closes results. It reports how many
// iterations actually ran.
func (c *Coordinator) dispatch(ctx context.Context, results chan<- worker.Result, dispatched chan<- int) {
	var (
		g       errgroup.Group
		started atomic.Int64
	)
	g.SetLimit(c.cfg.Concurrency)

	for it := 1; it <= c.cfg.Iterations; it++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Go blocks while the pool is full; a crash during that wait
			// skips the iteration.
			if ctx.Err() != nil {
				return nil
			}
			started.Add(1)
			c.deps.Metrics.IterationsInFlight(1)
			defer c.deps.Metrics.IterationsInFlight(-1)
			results <- c.worker.Run(ctx, it)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	dispatched <- int(started.Load())
}

// finalize runs once per coordinator. Writes use a context detached from
// cancellation so a crashed or interrupted run is still recorded.
func (c *Coordinator) finalize(ctx context.Context, sum *Summary) error {
	c.finalizeOnce.Do(func() {
		ctx := context.WithoutCancel(ctx)
		var errs []error

		status := store.StatusCrashed
		if !sum.Crashed {
			status = store.StatusCompleted
			archive, err := c.packageLogs()
			if err != nil {
				errs = append(errs, err)
			}
			sum.Archive = archive
			if err := c.saveSnapshot(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		if c.deps.Runs != nil {
			if err := c.deps.Runs.FinishRun(ctx, c.cfg.RunID, status, c.cfg.Now()); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.deps.Progress.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close progress: %w", err))
		}
		c.deps.Metrics.RunFinished(sum.Crashed)

		c.finalizeErr = errors.Join(errs...)
		if c.finalizeErr != nil {
			c.logger.Error("finalization incomplete", "error", c.finalizeErr)
		}
	})
	return c.finalizeErr
}

func (c *Coordinator) packageLogs() (string, error) {
	if c.cfg.LogDir == "" || c.cfg.ArtifactDir == "" {
		return "", nil
	}
	dest := filepath.Join(c.cfg.ArtifactDir, c.cfg.RunID+".zip")
	n, err := ArchiveDir(filepath.Join(c.cfg.LogDir, c.cfg.RunID), dest)
	if err != nil {
		return "", err
	}
	c.logger.Info("iteration logs archived", "path", dest, "files", n)
	return dest, nil
}

func (c *Coordinator) saveSnapshot(ctx context.Context) error {
	if c.deps.Runs == nil {
		return nil
	}
	snap, err := c.scenario.Snapshot()
	if err != nil {
		return err
	}
	return c.deps.Runs.SaveSnapshot(ctx, c.cfg.RunID, snap)
}
