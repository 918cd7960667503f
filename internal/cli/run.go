package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/simrun/internal/api"
	"github.com/roach88/simrun/internal/coordinator"
	"github.com/roach88/simrun/internal/metrics"
	"github.com/roach88/simrun/internal/progress"
	"github.com/roach88/simrun/internal/record"
	"github.com/roach88/simrun/internal/scenario"
	"github.com/roach88/simrun/internal/store"
	"github.com/roach88/simrun/internal/store/postgres"
	"github.com/roach88/simrun/internal/worker"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Iterations   int
	Concurrency  int
	StallTimeout time.Duration
	LogDir       string
	ArtifactDir  string
	PostgresDSN  string
	KafkaBrokers []string
	KafkaTopic   string
	Listen       string

	// RunIDGenerator allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDGenerator coordinator.RunIDGenerator

	// Spawner allows replacing the engine (for testing). If nil, the
	// scenario's engine binary is executed.
	Spawner worker.Spawner
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run every iteration of a scenario",
		Long: `Run the scenario's engine once per iteration on a bounded worker pool.

Each iteration's daily report is decomposed into records and written to the
SQLite database as soon as the engine exits. The first failed iteration
crashes the run and kills every other live engine. A run that did not crash
has its iteration logs zipped into the artifact directory and its scenario
snapshotted into the database.

Example:
  simrun run --db ./runs.db ./scenario.yaml
  simrun run --iterations 100 --concurrency 4 --log-dir ./logs --artifact-dir ./artifacts ./scenario.cue
  simrun run --pg-dsn postgres://localhost/sim --kafka-brokers localhost:9092 ./scenario.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "n", 0, "iterations to run (default: the scenario's)")
	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "j", 0, "concurrent engine processes (default: CPUs-1)")
	cmd.Flags().DurationVar(&opts.StallTimeout, "stall-timeout", worker.DefaultStallTimeout, "abort an iteration whose engine is silent this long (negative disables)")
	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "logs", "directory for per-iteration logs (empty disables)")
	cmd.Flags().StringVar(&opts.ArtifactDir, "artifact-dir", "artifacts", "directory for run archives (empty disables)")
	cmd.Flags().StringVar(&opts.PostgresDSN, "pg-dsn", "", "also write records to this PostgreSQL database")
	cmd.Flags().StringSliceVar(&opts.KafkaBrokers, "kafka-brokers", nil, "publish progress events to these Kafka brokers")
	cmd.Flags().StringVar(&opts.KafkaTopic, "kafka-topic", "simrun.progress", "Kafka topic for progress events")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "serve the HTTP API and metrics on this address while running")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, formatter.GetErrWriter())

	sc, err := scenario.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if opts.Iterations < 0 || opts.Concurrency < 0 {
		return NewExitError(ExitCommandError, "--iterations and --concurrency must not be negative")
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fields := record.DefaultFieldMap()
	st, err := store.Open(opts.Database, fields)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	sinks := worker.MultiSink{st}
	if opts.PostgresDSN != "" {
		pg, err := postgres.Open(ctx, opts.PostgresDSN, fields)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to PostgreSQL", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to prepare PostgreSQL schema", err)
		}
		sinks = append(sinks, pg)
	}

	gen := opts.RunIDGenerator
	if gen == nil {
		gen = coordinator.UUIDv7Generator{}
	}
	runID := gen.Generate()

	sinkOpts := []progress.Option{
		progress.WithLogger(logger),
		progress.WithListener(progress.StoreListener{Store: st}),
	}
	if len(opts.KafkaBrokers) > 0 {
		sinkOpts = append(sinkOpts, progress.WithListener(progress.NewKafkaPublisher(opts.KafkaBrokers, opts.KafkaTopic)))
	}
	prog := progress.NewSink(runID, sinkOpts...)

	prom, err := metrics.NewPrometheus()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	if opts.Listen != "" {
		srv := &http.Server{
			Addr:              opts.Listen,
			Handler:           api.NewServer(st, prom.Handler(), logger).Handler(formatter.GetErrWriter()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("api server failed", "addr", opts.Listen, "error", err)
			}
		}()
		defer shutdown(srv, logger)
	}

	coord, err := coordinator.New(coordinator.Config{
		RunID:        runID,
		Iterations:   opts.Iterations,
		Concurrency:  opts.Concurrency,
		StallTimeout: opts.StallTimeout,
		LogDir:       opts.LogDir,
		ArtifactDir:  opts.ArtifactDir,
		Fields:       fields,
		Logger:       logger,
	}, sc, coordinator.Deps{
		Spawner:  opts.Spawner,
		Sink:     sinks,
		Runs:     st,
		Progress: prog,
		Metrics:  prom,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare run", err)
	}

	formatter.VerboseLog("run %s: scenario %q, %d selectors", runID, sc.Name, coord.KeySpace().Len())

	sum, err := coord.Run(ctx)
	if outErr := formatter.RunSuccess(runID, newRunView(sum)); outErr != nil {
		logger.Error("write summary", "error", outErr)
	}
	switch {
	case errors.Is(err, coordinator.ErrCrashed):
		return WrapExitError(ExitFailure, "run crashed", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "run failed", err)
	}
	return nil
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
}

// runView is the printable run summary.
type runView struct {
	RunID     string  `json:"run_id"`
	Requested int     `json:"requested"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Crashed   bool    `json:"crashed"`
	Seconds   float64 `json:"elapsed_seconds"`
	Archive   string  `json:"archive,omitempty"`
}

func newRunView(sum coordinator.Summary) runView {
	return runView{
		RunID:     sum.RunID,
		Requested: sum.Requested,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Skipped:   sum.Skipped(),
		Crashed:   sum.Crashed,
		Seconds:   sum.Elapsed.Seconds(),
		Archive:   sum.Archive,
	}
}

func (v runView) String() string {
	var b strings.Builder
	status := "completed"
	if v.Crashed {
		status = "CRASHED"
	}
	fmt.Fprintf(&b, "Run %s %s: %d/%d iterations succeeded, %d failed, %d skipped (%.1fs)",
		v.RunID, status, v.Succeeded, v.Requested, v.Failed, v.Skipped, v.Seconds)
	if v.Archive != "" {
		fmt.Fprintf(&b, "\nArchive: %s", v.Archive)
	}
	return b.String()
}
