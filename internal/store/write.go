package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/simrun/internal/record"
	"github.com/roach88/simrun/internal/scenario"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCrashed   = "crashed"
)

const timeLayout = time.RFC3339Nano

// Run is the stored description of one run.
type Run struct {
	ID           string                 `json:"id"`
	ScenarioName string                 `json:"scenario_name"`
	Iterations   int                    `json:"iterations"`
	Stop         scenario.StopCondition `json:"stop_condition"`
	Status       string                 `json:"status"`
	Crashed      bool                   `json:"crashed"`
	Snapshot     string                 `json:"snapshot,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
}

// CreateRun inserts a new run in the running state.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, scenario_name, iterations, stop_kind, stop_days, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ScenarioName,
		run.Iterations,
		string(run.Stop.Kind),
		run.Stop.Days,
		StatusRunning,
		run.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// WriteIteration persists one iteration's batch in a single transaction:
// every record into its kind's daily table, the unit counters (added to the
// run's running totals) and the iteration row. It implements worker.Sink.
func (s *Store) WriteIteration(ctx context.Context, batch record.Batch) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write iteration %d: begin: %w", batch.Iteration, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmts := make(map[string]*sql.Stmt, len(s.tables))
	defer func() {
		for _, st := range stmts {
			st.Close()
		}
	}()

	for _, rec := range batch.Records {
		t, ok := s.tables[rec.Kind]
		if !ok {
			return fmt.Errorf("write iteration %d: unknown record kind %v", batch.Iteration, rec.Kind)
		}
		st, ok := stmts[t.name]
		if !ok {
			st, err = tx.PrepareContext(ctx, t.insertSQL)
			if err != nil {
				return fmt.Errorf("write iteration %d: prepare %s: %w", batch.Iteration, t.name, err)
			}
			stmts[t.name] = st
		}

		args := make([]any, 0, len(keyColumns)+len(t.fields))
		args = append(args, batch.RunID, rec.Iteration, rec.Day, boolInt(rec.LastDay), rec.Zone, rec.Category)
		for _, f := range t.fields {
			if v, set := rec.Fields[f]; set {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
		if _, err = st.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("write iteration %d: insert %s day %d: %w", batch.Iteration, t.name, rec.Day, err)
		}
	}

	for unit, c := range batch.Units {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO unit_stats (run_id, unit_id, infected, zone_focus, vaccinated, destroyed)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, unit_id) DO UPDATE SET
				infected   = infected + excluded.infected,
				zone_focus = zone_focus + excluded.zone_focus,
				vaccinated = vaccinated + excluded.vaccinated,
				destroyed  = destroyed + excluded.destroyed
		`, batch.RunID, unit, c.Infected, c.ZoneFocus, c.Vaccinated, c.Destroyed)
		if err != nil {
			return fmt.Errorf("write iteration %d: unit %s: %w", batch.Iteration, unit, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO iterations (run_id, iteration, last_day, elapsed_ms, records, header_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		batch.RunID,
		batch.Iteration,
		batch.LastDay,
		batch.Elapsed.Milliseconds(),
		len(batch.Records),
		strconv.FormatUint(batch.HeaderHash, 16),
	)
	if err != nil {
		return fmt.Errorf("write iteration %d: %w", batch.Iteration, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("write iteration %d: commit: %w", batch.Iteration, err)
	}
	return nil
}

// AppendProgress appends one progress fragment.
func (s *Store) AppendProgress(ctx context.Context, runID string, seq int, text string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progress (run_id, seq, text, at) VALUES (?, ?, ?, ?)
	`, runID, seq, text, at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append progress: %w", err)
	}
	return nil
}

// MarkCrashed sets the run's crashed flag.
func (s *Store) MarkCrashed(ctx context.Context, runID string) error {
	return s.updateRun(ctx, "mark crashed", `UPDATE runs SET crashed = 1 WHERE id = ?`, runID)
}

// SaveSnapshot stores the scenario snapshot taken at finalization.
func (s *Store) SaveSnapshot(ctx context.Context, runID string, snapshot []byte) error {
	return s.updateRun(ctx, "save snapshot", `UPDATE runs SET snapshot = ? WHERE id = ?`, string(snapshot), runID)
}

// FinishRun records the final status of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status string, at time.Time) error {
	return s.updateRun(ctx, "finish run",
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, at.UTC().Format(timeLayout), runID)
}

func (s *Store) updateRun(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: run %w", op, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
