package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/record"
	"github.com/roach88/simrun/internal/scenario"
)

// ProgressEntry is one stored progress fragment.
type ProgressEntry struct {
	Seq  int       `json:"seq"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// IterationRow is the stored summary of one persisted iteration.
type IterationRow struct {
	Iteration  int           `json:"iteration"`
	LastDay    int           `json:"last_day"`
	Elapsed    time.Duration `json:"elapsed"`
	Records    int           `json:"records"`
	HeaderHash uint64        `json:"header_hash"`
}

// UnitStat is the cumulative counter row of one unit.
type UnitStat struct {
	UnitID string `json:"unit_id"`
	record.UnitCounts
}

const runColumns = `id, scenario_name, iterations, stop_kind, stop_days, status, crashed, snapshot, started_at, finished_at`

// ReadRun retrieves a run by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run, most recently started first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run      Run
		stopKind string
		crashed  int
		snapshot sql.NullString
		started  string
		finished sql.NullString
	)
	err := row.Scan(&run.ID, &run.ScenarioName, &run.Iterations, &stopKind, &run.Stop.Days,
		&run.Status, &crashed, &snapshot, &started, &finished)
	if err != nil {
		return Run{}, err
	}

	run.Stop.Kind = scenario.StopKind(stopKind)
	run.Crashed = crashed != 0
	run.Snapshot = snapshot.String
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("started_at: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(timeLayout, finished.String)
		if err != nil {
			return Run{}, fmt.Errorf("finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	return run, nil
}

// ReadProgress returns the progress log of a run in append order.
// Returns an empty slice (not nil) if nothing was logged.
func (s *Store) ReadProgress(ctx context.Context, runID string) ([]ProgressEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, text, at FROM progress WHERE run_id = ? ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	entries := []ProgressEntry{}
	for rows.Next() {
		var e ProgressEntry
		var at string
		if err := rows.Scan(&e.Seq, &e.Text, &at); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		if e.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("scan progress: at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return entries, nil
}

// ListIterations returns the persisted iterations of a run ordered by
// iteration number.
func (s *Store) ListIterations(ctx context.Context, runID string) ([]IterationRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, last_day, elapsed_ms, records, header_hash
		FROM iterations
		WHERE run_id = ?
		ORDER BY iteration ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query iterations: %w", err)
	}
	defer rows.Close()

	out := []IterationRow{}
	for rows.Next() {
		var (
			it      IterationRow
			elapsed int64
			hash    string
		)
		if err := rows.Scan(&it.Iteration, &it.LastDay, &elapsed, &it.Records, &hash); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		it.Elapsed = time.Duration(elapsed) * time.Millisecond
		if it.HeaderHash, err = strconv.ParseUint(hash, 16, 64); err != nil {
			return nil, fmt.Errorf("scan iteration: header hash: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate iterations: %w", err)
	}
	return out, nil
}

// ReadUnitStats returns the cumulative unit counters of a run ordered by
// unit id.
func (s *Store) ReadUnitStats(ctx context.Context, runID string) ([]UnitStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_id, infected, zone_focus, vaccinated, destroyed
		FROM unit_stats
		WHERE run_id = ?
		ORDER BY unit_id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query unit stats: %w", err)
	}
	defer rows.Close()

	out := []UnitStat{}
	for rows.Next() {
		var u UnitStat
		if err := rows.Scan(&u.UnitID, &u.Infected, &u.ZoneFocus, &u.Vaccinated, &u.Destroyed); err != nil {
			return nil, fmt.Errorf("scan unit stats: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit stats: %w", err)
	}
	return out, nil
}

// ReadRecords returns every stored record of one kind for a run, ordered by
// iteration, day, zone and category. Unset fields are absent from Fields.
func (s *Store) ReadRecords(ctx context.Context, runID string, kind keyspace.Family) ([]*record.Target, error) {
	t, ok := s.tables[kind]
	if !ok {
		return nil, fmt.Errorf("read records: unknown kind %v", kind)
	}

	cols := append([]string{"iteration", "day", "last_day", "zone", "category"}, t.fields...)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE run_id = ?
		ORDER BY iteration ASC, day ASC, zone COLLATE BINARY ASC, category COLLATE BINARY ASC
	`, strings.Join(cols, ", "), t.name), runID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []*record.Target
	for rows.Next() {
		rec := &record.Target{Kind: kind, Fields: make(map[string]float64)}
		var lastDay int
		values := make([]sql.NullFloat64, len(t.fields))
		dest := []any{&rec.Iteration, &rec.Day, &lastDay, &rec.Zone, &rec.Category}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		rec.LastDay = lastDay != 0
		for i, v := range values {
			if v.Valid {
				rec.Fields[t.fields[i]] = v.Float64
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return out, nil
}
