package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/record"
	"github.com/roach88/simrun/internal/scenario"
	"github.com/roach88/simrun/internal/stats"
	"github.com/roach88/simrun/internal/store"
)

// openStore opens the database for reading commands, mapping failures to
// command errors.
func openStore(opts *RootOptions) (*store.Store, error) {
	st, err := store.Open(opts.Database, record.DefaultFieldMap())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func lookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	if errors.Is(err, store.ErrUnknownField) {
		return WrapExitError(ExitCommandError, "unknown field", err)
	}
	return WrapExitError(ExitFailure, "query failed", err)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "runs",
		Short:         "List stored runs, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(commandContext(cmd))
			if err != nil {
				return lookupError(err)
			}
			return newFormatter(rootOpts, cmd).Success(runsView(runs))
		},
	}
}

type runsView []store.Run

func (v runsView) String() string {
	if len(v) == 0 {
		return "No runs."
	}
	var b strings.Builder
	for i, r := range v {
		if i > 0 {
			b.WriteByte('\n')
		}
		status := r.Status
		if r.Crashed {
			status += " (crashed)"
		}
		fmt.Fprintf(&b, "%s  %-24s %4d iterations  %-20s %s",
			r.ID, r.ScenarioName, r.Iterations, status, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// NewProgressCommand creates the progress command.
func NewProgressCommand(rootOpts *RootOptions) *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "progress <run-id>",
		Short: "Show how far a run got",
		Long: `Show the completion fraction of a run under its stop condition and the
last fragments of its progress log.

Example:
  simrun progress 0190b7a4-3f1e-7c2a-9d41-5e6f7a8b9c0d
  simrun progress --tail 0 --format json <run-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := commandContext(cmd)
			p, err := stats.NewService(st, nil).Progress(ctx, args[0])
			if err != nil {
				if errors.Is(err, stats.ErrUnknownStopCondition) {
					return WrapExitError(ExitCommandError, "unknown stop condition", err)
				}
				return lookupError(err)
			}
			entries, err := st.ReadProgress(ctx, args[0])
			if err != nil {
				return lookupError(err)
			}
			if tail >= 0 && len(entries) > tail {
				entries = entries[len(entries)-tail:]
			}
			return newFormatter(rootOpts, cmd).RunSuccess(args[0], progressView{Progress: p, Fragments: entries})
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 10, "progress fragments to show (negative shows all)")
	return cmd
}

type progressView struct {
	stats.Progress
	Fragments []store.ProgressEntry `json:"fragments"`
}

func (v progressView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %d/%d completed (%.1f%%), status %s",
		v.RunID, v.Completed, v.Requested, v.Fraction*100, v.Status)
	if v.Crashed {
		b.WriteString(", crashed")
	}
	for _, e := range v.Fragments {
		fmt.Fprintf(&b, "\n  %s", e.Text)
	}
	return b.String()
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		kind         string
		field        string
		scenarioPath string
	)
	cmd := &cobra.Command{
		Use:   "stats <run-id>",
		Short: "Summarize one field's last-day values across iterations",
		Long: `Summarize the last-day values of one field over every persisted iteration
of a run: count, mean, population standard deviation, minimum, maximum,
median and percentiles.

Zone-scoped kinds read the highest-risk zone of the run's scenario snapshot,
or of --scenario when given.

Example:
  simrun stats --kind controls --field outbreak_duration <run-id>
  simrun stats --kind by_zone --field zone_area --format json <run-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fam, err := keyspace.ParseFamily(kind)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --kind", err)
			}
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := commandContext(cmd)
			run, err := st.ReadRun(ctx, args[0])
			if err != nil {
				return lookupError(err)
			}

			var sc *scenario.Scenario
			switch {
			case scenarioPath != "":
				if sc, err = scenario.Load(scenarioPath); err != nil {
					return WrapExitError(ExitCommandError, "failed to load scenario", err)
				}
			case run.Snapshot != "":
				if sc, err = scenario.ParseYAML([]byte(run.Snapshot)); err != nil {
					return WrapExitError(ExitFailure, "unreadable scenario snapshot", err)
				}
			}

			sum, err := stats.NewService(st, sc).Summary(ctx, run.ID, fam, field)
			if err != nil {
				return lookupError(err)
			}
			return newFormatter(rootOpts, cmd).RunSuccess(run.ID, summaryView(sum))
		},
	}
	cmd.Flags().StringVar(&kind, "kind", keyspace.Controls.String(), "record kind (controls|by_category|by_zone|by_zone_and_category)")
	cmd.Flags().StringVar(&field, "field", "", "field to summarize (required)")
	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "scenario file supplying zones (default: the run's snapshot)")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

type summaryView stats.FieldSummary

func (v summaryView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s", v.Kind, v.Field)
	if v.Zone != "" {
		fmt.Fprintf(&b, " [%s]", v.Zone)
	}
	fmt.Fprintf(&b, " over %d iterations\n", v.Count)
	median := "n/a"
	if v.Median != nil {
		median = fmt.Sprintf("%g", *v.Median)
	}
	fmt.Fprintf(&b, "  mean %g  stddev %g  min %g  max %g\n", v.Mean, v.StdDev, v.Min, v.Max)
	fmt.Fprintf(&b, "  median %s  p5 %g  p25 %g  p75 %g  p95 %g", median, v.P5, v.P25, v.P75, v.P95)
	return b.String()
}
