package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/record"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Create database
	s1, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	// Reopen database
	s2, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	// Verify we can query it
	var count int
	err = s2.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count)
	if err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Open multiple times
	for i := 0; i < 3; i++ {
		s, err := Open(path, record.DefaultFieldMap())
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	// Final open should work
	s, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	// Verify schema is intact
	tables := []string{"runs", "iterations", "progress", "unit_stats", "daily_controls", "daily_by_category", "daily_by_zone", "daily_by_zone_and_category"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// Try to open in non-existent directory
	path := "/nonexistent/dir/test.db"

	_, err := Open(path, record.DefaultFieldMap())
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	err := s.Close()
	if err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// First close should succeed
	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}

	// Second close should not panic (though may error)
	// We just verify it doesn't panic
	_ = s.Close()
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	db := s.DB()
	if db == nil {
		t.Error("DB() returned nil")
	}

	// Verify it's usable
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestPragma_ForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// ON = 1
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

func TestSchema_RunsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "runs")
	expected := []string{"id", "scenario_name", "iterations", "stop_kind", "stop_days", "status", "crashed", "snapshot", "started_at", "finished_at"}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("runs table missing column %q", col)
		}
	}
}

func TestSchema_OutputTablesFollowFieldMap(t *testing.T) {
	s := createTestStore(t)
	fields := record.DefaultFieldMap()

	for _, kind := range keyspace.Families {
		table := TableName(kind)
		columns := getTableColumns(t, s.db, table)
		for _, col := range append([]string{"run_id", "iteration", "day", "last_day", "zone", "category"}, fields.Names(kind)...) {
			if !contains(columns, col) {
				t.Errorf("%s missing column %q", table, col)
			}
		}
	}
}

func TestSchema_LastDayIndexes(t *testing.T) {
	s := createTestStore(t)

	for _, kind := range keyspace.Families {
		table := TableName(kind)
		indexes := getTableIndexes(t, s.db, table)
		if !contains(indexes, "idx_"+table+"_last_day") {
			t.Errorf("%s missing last-day index, have %v", table, indexes)
		}
	}
}

func TestSchema_UserVersion(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_AddsColumnsForNewFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	grown := record.DefaultFieldMap()
	grown[keyspace.ByZone] = append(grown[keyspace.ByZone], record.FieldSpec{Name: "zone_cost", Prefixes: []string{"zoneCost"}})

	s2, err := Open(path, grown)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	if !contains(getTableColumns(t, s2.db, "daily_by_zone"), "zone_cost") {
		t.Error("daily_by_zone missing added column zone_cost")
	}
}

func TestOpen_RejectsReservedFieldName(t *testing.T) {
	fields := record.DefaultFieldMap()
	fields[keyspace.Controls] = append(fields[keyspace.Controls], record.FieldSpec{Name: "day", Prefixes: []string{"dayCount"}})

	_, err := Open(filepath.Join(t.TempDir(), "test.db"), fields)
	if err == nil {
		t.Error("expected error for field colliding with a key column, got nil")
	}
}

func TestOpen_RejectsInvalidFieldMap(t *testing.T) {
	fields := record.FieldMap{keyspace.Controls: {{Name: "Bad Name", Prefixes: []string{"x"}}}}

	_, err := Open(filepath.Join(t.TempDir(), "test.db"), fields)
	if err == nil {
		t.Error("expected error for invalid field map, got nil")
	}
}

// Helpers

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
