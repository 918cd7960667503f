package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/record"
	"github.com/roach88/simrun/internal/scenario"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun inserts a run with a fixed-days stop condition.
func createTestRun(t *testing.T, s *Store, id string) Run {
	t.Helper()
	run := Run{
		ID:           id,
		ScenarioName: "test scenario",
		Iterations:   10,
		Stop:         scenario.StopCondition{Kind: scenario.StopDays, Days: 8},
		StartedAt:    testEpoch,
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	return run
}

// controlsRecord creates a Controls record with the given fields.
func controlsRecord(iteration, day int, lastDay bool, fields map[string]float64) *record.Target {
	return &record.Target{
		Kind:      keyspace.Controls,
		Iteration: iteration,
		Day:       day,
		LastDay:   lastDay,
		Fields:    fields,
	}
}

// zoneRecord creates a ByZone record with the given fields.
func zoneRecord(iteration, day int, lastDay bool, zone string, fields map[string]float64) *record.Target {
	return &record.Target{
		Kind:      keyspace.ByZone,
		Iteration: iteration,
		Day:       day,
		LastDay:   lastDay,
		Zone:      zone,
		Fields:    fields,
	}
}
