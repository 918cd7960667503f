// Package postgres mirrors iteration batches into Postgres using pgx v5.
// Each record kind is bulk-loaded with COPY into its daily table inside one
// transaction per iteration; unit counters are upserted in the same
// transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/record"
	"github.com/roach88/simrun/internal/store"
)

var keyColumns = []string{"run_id", "iteration", "day", "last_day", "zone", "category"}

// Sink is a worker sink writing to Postgres.
type Sink struct {
	pool   *pgxpool.Pool
	fields record.FieldMap
}

// Open connects to dsn. Call EnsureSchema before the first write.
func Open(ctx context.Context, dsn string, fields record.FieldMap) (*Sink, error) {
	if err := fields.Validate(); err != nil {
		return nil, fmt.Errorf("invalid field map: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Sink{pool: pool, fields: fields}, nil
}

// Close releases the pool.
func (s *Sink) Close() {
	s.pool.Close()
}

// EnsureSchema creates the mirror tables if they do not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.fields) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(fields record.FieldMap) []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS unit_stats (
    run_id     TEXT NOT NULL,
    unit_id    TEXT NOT NULL,
    infected   BIGINT NOT NULL DEFAULT 0,
    zone_focus BIGINT NOT NULL DEFAULT 0,
    vaccinated BIGINT NOT NULL DEFAULT 0,
    destroyed  BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, unit_id)
)`,
	}
	for _, kind := range keyspace.Families {
		var b strings.Builder
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", store.TableName(kind))
		b.WriteString("    run_id    TEXT NOT NULL,\n")
		b.WriteString("    iteration INTEGER NOT NULL,\n")
		b.WriteString("    day       INTEGER NOT NULL,\n")
		b.WriteString("    last_day  BOOLEAN NOT NULL DEFAULT FALSE,\n")
		b.WriteString("    zone      TEXT NOT NULL DEFAULT '',\n")
		b.WriteString("    category  TEXT NOT NULL DEFAULT '',\n")
		for _, f := range fields.Names(kind) {
			fmt.Fprintf(&b, "    %s DOUBLE PRECISION,\n", f)
		}
		b.WriteString("    PRIMARY KEY (run_id, iteration, day, zone, category)\n)")
		stmts = append(stmts, b.String())
	}
	return stmts
}

// copyRows groups a batch's records into COPY rows per kind. Columns are
// keyColumns followed by the kind's fields; unset fields are NULL.
func copyRows(batch record.Batch, fields record.FieldMap) map[keyspace.Family][][]any {
	out := make(map[keyspace.Family][][]any)
	for _, rec := range batch.Records {
		names := fields.Names(rec.Kind)
		row := make([]any, 0, len(keyColumns)+len(names))
		row = append(row, batch.RunID, int32(rec.Iteration), int32(rec.Day), rec.LastDay, rec.Zone, rec.Category)
		for _, f := range names {
			if v, ok := rec.Fields[f]; ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		out[rec.Kind] = append(out[rec.Kind], row)
	}
	return out
}

// WriteIteration implements worker.Sink.
func (s *Sink) WriteIteration(ctx context.Context, batch record.Batch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows := copyRows(batch, s.fields)
	for _, kind := range keyspace.Families {
		kindRows := rows[kind]
		if len(kindRows) == 0 {
			continue
		}
		cols := append(append([]string(nil), keyColumns...), s.fields.Names(kind)...)
		n, err := tx.CopyFrom(ctx, pgx.Identifier{store.TableName(kind)}, cols, pgx.CopyFromRows(kindRows))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Detail != "" {
				return fmt.Errorf("postgres: copy %s: %s (%s)", store.TableName(kind), pgErr.Detail, pgErr.SQLState())
			}
			return fmt.Errorf("postgres: copy %s: %w", store.TableName(kind), err)
		}
		if int(n) != len(kindRows) {
			return fmt.Errorf("postgres: copy %s: wrote %d of %d rows", store.TableName(kind), n, len(kindRows))
		}
	}

	if len(batch.Units) > 0 {
		b := &pgx.Batch{}
		for unit, c := range batch.Units {
			b.Queue(`
				INSERT INTO unit_stats (run_id, unit_id, infected, zone_focus, vaccinated, destroyed)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (run_id, unit_id) DO UPDATE SET
					infected   = unit_stats.infected + EXCLUDED.infected,
					zone_focus = unit_stats.zone_focus + EXCLUDED.zone_focus,
					vaccinated = unit_stats.vaccinated + EXCLUDED.vaccinated,
					destroyed  = unit_stats.destroyed + EXCLUDED.destroyed`,
				batch.RunID, unit, c.Infected, c.ZoneFocus, c.Vaccinated, c.Destroyed)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("postgres: unit stats: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}
