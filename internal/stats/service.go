package stats

import (
	"context"
	"fmt"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/scenario"
	"github.com/roach88/simrun/internal/store"
)

// Querier is the storage the Service reads from. *store.Store implements it.
type Querier interface {
	ReadRun(ctx context.Context, id string) (store.Run, error)
	CountCompleted(ctx context.Context, runID string, stop scenario.StopCondition) (int, error)
	LastDayValues(ctx context.Context, runID string, kind keyspace.Family, field string, scope store.Scope) ([]float64, error)
}

// Service answers progress and statistics questions about stored runs.
type Service struct {
	q        Querier
	scenario *scenario.Scenario
}

// NewService creates a Service. sc supplies the representative zone for
// zone-scoped fields; it may be nil, in which case the Background zone is
// used.
func NewService(q Querier, sc *scenario.Scenario) *Service {
	return &Service{q: q, scenario: sc}
}

// Progress is a run's completion state.
type Progress struct {
	RunID     string  `json:"run_id"`
	Completed int     `json:"completed"`
	Requested int     `json:"requested"`
	Fraction  float64 `json:"fraction"`
	Crashed   bool    `json:"crashed"`
	Status    string  `json:"status"`
}

// Progress computes the completion fraction of runID under its own stop
// condition.
func (s *Service) Progress(ctx context.Context, runID string) (Progress, error) {
	run, err := s.q.ReadRun(ctx, runID)
	if err != nil {
		return Progress{}, err
	}
	if !run.Stop.Kind.Known() {
		return Progress{}, fmt.Errorf("run %s: %w: %q", runID, ErrUnknownStopCondition, run.Stop.Kind)
	}
	completed, err := s.q.CountCompleted(ctx, runID, run.Stop)
	if err != nil {
		return Progress{}, err
	}
	frac, err := ProgressFraction(run.Stop, completed, run.Iterations)
	if err != nil {
		return Progress{}, fmt.Errorf("run %s: %w", runID, err)
	}
	return Progress{
		RunID:     runID,
		Completed: completed,
		Requested: run.Iterations,
		Fraction:  frac,
		Crashed:   run.Crashed,
		Status:    run.Status,
	}, nil
}

// scope picks the records a summary reads: zone-scoped kinds use the
// representative zone, category-scoped kinds the All category.
func (s *Service) scope(kind keyspace.Family) store.Scope {
	switch kind {
	case keyspace.ByZone, keyspace.ByZoneAndCategory:
		if s.scenario != nil {
			if z, ok := s.scenario.RepresentativeZone(); ok {
				return store.Scope{Zone: z.Name}
			}
		}
	}
	return store.Scope{}
}

// Values returns the sorted last-day values of field in the kind's default
// scope.
func (s *Service) Values(ctx context.Context, runID string, kind keyspace.Family, field string) ([]float64, error) {
	return s.q.LastDayValues(ctx, runID, kind, field, s.scope(kind))
}

// Median returns the median last-day value of field. ok is false when not
// applicable.
func (s *Service) Median(ctx context.Context, runID string, kind keyspace.Family, field string) (float64, bool, error) {
	values, err := s.Values(ctx, runID, kind, field)
	if err != nil {
		return 0, false, err
	}
	m, ok := Median(values)
	return m, ok, nil
}

// FieldSummary is a Summary labelled with what it describes.
type FieldSummary struct {
	RunID string `json:"run_id"`
	Kind  string `json:"kind"`
	Field string `json:"field"`
	Zone  string `json:"zone,omitempty"`
	Summary
}

// Summary describes the last-day values of field.
func (s *Service) Summary(ctx context.Context, runID string, kind keyspace.Family, field string) (FieldSummary, error) {
	scope := s.scope(kind)
	values, err := s.q.LastDayValues(ctx, runID, kind, field, scope)
	if err != nil {
		return FieldSummary{}, err
	}
	return FieldSummary{
		RunID:   runID,
		Kind:    kind.String(),
		Field:   field,
		Zone:    scope.Zone,
		Summary: Describe(values),
	}, nil
}
