package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/record"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	RunID     string
	Iteration int    // optional - filter to one iteration
	Kind      string // optional - filter to one record kind
	LastDay   bool   // optional - only last-day records
}

// TraceRecord is one stored record in the trace timeline.
type TraceRecord struct {
	Kind      string             `json:"kind"`
	Selector  string             `json:"selector"`
	Iteration int                `json:"iteration"`
	Day       int                `json:"day"`
	LastDay   bool               `json:"last_day"`
	Zone      string             `json:"zone"`
	Category  string             `json:"category"`
	Fields    map[string]float64 `json:"fields"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID    string        `json:"run_id"`
	Timeline []TraceRecord `json:"timeline"`
	Stats    TraceStats    `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Records    int            `json:"records"`
	Iterations int            `json:"iterations"`
	Days       int            `json:"days"`
	ByKind     map[string]int `json:"by_kind"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <run-id>",
		Short: "Show the stored records of a run",
		Long: `Show the normalized records stored for a run, day by day.

Each record is one selector's statistics for one simulated day of one
iteration. Filters narrow the timeline to one iteration, one record kind or
the last day of each iteration.

Examples:
  simrun trace <run-id>
  simrun trace --iteration 3 --kind by_zone <run-id>
  simrun trace --last-day --format json <run-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RunID = args[0]
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Iteration, "iteration", 0, "only this iteration")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only this record kind")
	cmd.Flags().BoolVar(&opts.LastDay, "last-day", false, "only last-day records")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	kinds := keyspace.Families
	if opts.Kind != "" {
		fam, err := keyspace.ParseFamily(opts.Kind)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --kind", err)
		}
		kinds = []keyspace.Family{fam}
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.ReadRun(ctx, opts.RunID); err != nil {
		return lookupError(err)
	}

	var recs []*record.Target
	for _, kind := range kinds {
		got, err := st.ReadRecords(ctx, opts.RunID, kind)
		if err != nil {
			return lookupError(err)
		}
		for _, r := range got {
			if opts.Iteration > 0 && r.Iteration != opts.Iteration {
				continue
			}
			if opts.LastDay && !r.LastDay {
				continue
			}
			recs = append(recs, r)
		}
	}

	result := buildTraceResult(opts.RunID, recs)
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		return formatter.RunSuccess(opts.RunID, result)
	}
	return outputTraceText(formatter, result)
}

// buildTraceResult orders records by iteration and day, keeping the key
// space order of kinds within a day.
func buildTraceResult(runID string, recs []*record.Target) TraceResult {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Iteration != recs[j].Iteration {
			return recs[i].Iteration < recs[j].Iteration
		}
		return recs[i].Day < recs[j].Day
	})

	result := TraceResult{
		RunID:    runID,
		Timeline: make([]TraceRecord, 0, len(recs)),
		Stats:    TraceStats{ByKind: make(map[string]int)},
	}
	iterations := make(map[int]bool)
	days := make(map[[2]int]bool)
	for _, r := range recs {
		sel := keyspace.Selector{Family: r.Kind, Zone: r.Zone, Category: r.Category}
		result.Timeline = append(result.Timeline, TraceRecord{
			Kind:      r.Kind.String(),
			Selector:  sel.String(),
			Iteration: r.Iteration,
			Day:       r.Day,
			LastDay:   r.LastDay,
			Zone:      sel.ZoneLabel(),
			Category:  sel.CategoryLabel(),
			Fields:    r.Fields,
		})
		iterations[r.Iteration] = true
		days[[2]int{r.Iteration, r.Day}] = true
		result.Stats.ByKind[r.Kind.String()]++
	}
	result.Stats.Records = len(recs)
	result.Stats.Iterations = len(iterations)
	result.Stats.Days = len(days)
	return result
}

func outputTraceText(formatter *OutputFormatter, result TraceResult) error {
	w := formatter.Writer
	if len(result.Timeline) == 0 {
		fmt.Fprintf(w, "No records for run %s\n", result.RunID)
		return nil
	}

	fmt.Fprintf(w, "Run %s\n", result.RunID)
	prev := [2]int{}
	for _, r := range result.Timeline {
		if cur := [2]int{r.Iteration, r.Day}; cur != prev {
			marker := ""
			if r.LastDay {
				marker = " (last day)"
			}
			fmt.Fprintf(w, "\nIteration %d, day %d%s\n", r.Iteration, r.Day, marker)
			prev = cur
		}
		fmt.Fprintf(w, "  %-48s %s\n", r.Selector, formatFields(r.Fields))
	}

	fmt.Fprintf(w, "\n%d records, %d iterations, %d days\n", result.Stats.Records, result.Stats.Iterations, result.Stats.Days)
	return nil
}

// formatFields renders fields as name=value pairs in name order.
func formatFields(fields map[string]float64) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%g", name, fields[name])
	}
	return strings.Join(parts, " ")
}
