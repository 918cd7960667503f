package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/scenario"
)

// ErrUnknownField is returned when a query names a field the field map
// does not declare for the kind.
var ErrUnknownField = errors.New("unknown field")

// Scope selects the zone and category of zone- or category-scoped kinds.
// "" means the Background zone and the All category. Controls ignore it.
type Scope struct {
	Zone     string
	Category string
}

// LastDayValues returns the non-null last-day values of field, sorted
// ascending, one per iteration and matching scope.
func (s *Store) LastDayValues(ctx context.Context, runID string, kind keyspace.Family, field string, scope Scope) ([]float64, error) {
	t, ok := s.tables[kind]
	if !ok {
		return nil, fmt.Errorf("last day values: unknown kind %v", kind)
	}
	if !s.fields.Has(kind, field) {
		return nil, fmt.Errorf("last day values: %s.%s: %w", kind, field, ErrUnknownField)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE run_id = ? AND last_day = 1 AND %s IS NOT NULL`, field, t.name, field)
	args := []any{runID}
	switch kind {
	case keyspace.ByCategory:
		query += ` AND category = ?`
		args = append(args, scope.Category)
	case keyspace.ByZone:
		query += ` AND zone = ?`
		args = append(args, scope.Zone)
	case keyspace.ByZoneAndCategory:
		query += ` AND zone = ? AND category = ?`
		args = append(args, scope.Zone, scope.Category)
	}
	query += fmt.Sprintf(` ORDER BY %s ASC, iteration ASC`, field)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query last day values: %w", err)
	}
	defer rows.Close()

	values := []float64{}
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan last day value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate last day values: %w", err)
	}
	return values, nil
}

// completionField is the Controls field whose last-day value is set (not
// the not-applicable sentinel) once an iteration met the stop condition.
var completionField = map[scenario.StopKind]string{
	scenario.StopDiseaseEnd:     "disease_duration",
	scenario.StopOutbreakEnd:    "outbreak_duration",
	scenario.StopFirstDetection: "first_detection",
}

// CountCompleted counts the persisted iterations of a run that met stop:
// for StopDays, iterations whose last day reached stop.Days; otherwise
// iterations whose matching Controls field has a real last-day value.
func (s *Store) CountCompleted(ctx context.Context, runID string, stop scenario.StopCondition) (int, error) {
	var (
		query string
		args  []any
	)
	switch stop.Kind {
	case scenario.StopDays:
		query = `SELECT COUNT(*) FROM iterations WHERE run_id = ? AND last_day >= ?`
		args = []any{runID, stop.Days}
	default:
		field, ok := completionField[stop.Kind]
		if !ok {
			return 0, fmt.Errorf("count completed: unknown stop condition %q", stop.Kind)
		}
		if !s.fields.Has(keyspace.Controls, field) {
			return 0, fmt.Errorf("count completed: %s: %w", field, ErrUnknownField)
		}
		query = fmt.Sprintf(`
			SELECT COUNT(DISTINCT iteration) FROM %s
			WHERE run_id = ? AND last_day = 1 AND %s IS NOT NULL AND %s >= 0`,
			TableName(keyspace.Controls), field, field)
		args = []any{runID}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count completed: %w", err)
	}
	return n, nil
}
