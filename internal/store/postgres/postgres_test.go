package postgres

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/record"
)

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements(record.DefaultFieldMap())

	require.Len(t, stmts, 1+len(keyspace.Families))
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS unit_stats")
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS daily_controls")
	assert.Contains(t, stmts[1], "outbreak_duration DOUBLE PRECISION")
	assert.Contains(t, stmts[4], "CREATE TABLE IF NOT EXISTS daily_by_zone_and_category")
	assert.True(t, strings.HasSuffix(stmts[4], "PRIMARY KEY (run_id, iteration, day, zone, category)\n)"))
}

func TestCopyRows(t *testing.T) {
	fields := record.FieldMap{
		keyspace.Controls: {
			{Name: "outbreak_duration", Prefixes: []string{"outbreakDuration"}},
			{Name: "cost_total", Prefixes: []string{"costsTotal"}},
		},
		keyspace.ByZone: {
			{Name: "zone_area", Prefixes: []string{"zoneArea"}},
		},
	}
	batch := record.Batch{
		RunID: "run-1",
		Records: []*record.Target{
			{Kind: keyspace.Controls, Iteration: 2, Day: 5, LastDay: true, Fields: map[string]float64{"cost_total": 7}},
			{Kind: keyspace.ByZone, Iteration: 2, Day: 5, Zone: "High Risk", Fields: map[string]float64{"zone_area": 1.5}},
		},
	}

	rows := copyRows(batch, fields)

	assert.Equal(t, [][]any{{"run-1", int32(2), int32(5), true, "", "", nil, 7.0}}, rows[keyspace.Controls])
	assert.Equal(t, [][]any{{"run-1", int32(2), int32(5), false, "High Risk", "", 1.5}}, rows[keyspace.ByZone])
	assert.Empty(t, rows[keyspace.ByCategory])
}

// TestSink_Integration needs a disposable database in SIMRUN_TEST_PG_DSN.
func TestSink_Integration(t *testing.T) {
	dsn := os.Getenv("SIMRUN_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SIMRUN_TEST_PG_DSN not set")
	}
	ctx := context.Background()

	sink, err := Open(ctx, dsn, record.DefaultFieldMap())
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.EnsureSchema(ctx))

	runID := uuid.Must(uuid.NewV7()).String()
	batch := record.Batch{
		RunID:     runID,
		Iteration: 1,
		Records: []*record.Target{
			{Kind: keyspace.Controls, Iteration: 1, Day: 1, LastDay: true, Fields: map[string]float64{"outbreak_duration": 3}},
		},
		Units: record.UnitCounters{"u1": {Infected: 1}},
	}
	require.NoError(t, sink.WriteIteration(ctx, batch))
	batch.Iteration = 2
	batch.Records[0].Iteration = 2
	require.NoError(t, sink.WriteIteration(ctx, batch))

	var n int
	require.NoError(t, sink.pool.QueryRow(ctx, `SELECT COUNT(*) FROM daily_controls WHERE run_id = $1`, runID).Scan(&n))
	assert.Equal(t, 2, n)

	var infected int64
	require.NoError(t, sink.pool.QueryRow(ctx, `SELECT infected FROM unit_stats WHERE run_id = $1 AND unit_id = 'u1'`, runID).Scan(&infected))
	assert.Equal(t, int64(2), infected)
}
