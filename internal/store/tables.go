package store

import (
	"fmt"
	"strings"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/record"
)

// keyColumns lead every daily output table.
var keyColumns = []string{"run_id", "iteration", "day", "last_day", "zone", "category"}

// outputTable is the generated table of one record kind.
type outputTable struct {
	family    keyspace.Family
	name      string
	fields    []string
	insertSQL string
}

// TableName returns the daily output table of kind.
func TableName(kind keyspace.Family) string {
	return "daily_" + kind.String()
}

func buildOutputTables(fields record.FieldMap) map[keyspace.Family]outputTable {
	tables := make(map[keyspace.Family]outputTable, len(keyspace.Families))
	for _, f := range keyspace.Families {
		t := outputTable{
			family: f,
			name:   TableName(f),
			fields: fields.Names(f),
		}
		cols := append(append([]string(nil), keyColumns...), t.fields...)
		t.insertSQL = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)",
			t.name,
			strings.Join(cols, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		)
		tables[f] = t
	}
	return tables
}

// sortedTables returns the output tables in key space family order.
func (s *Store) sortedTables() []outputTable {
	out := make([]outputTable, 0, len(s.tables))
	for _, f := range keyspace.Families {
		out = append(out, s.tables[f])
	}
	return out
}

func (t outputTable) createSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.name)
	b.WriteString("    run_id    TEXT NOT NULL REFERENCES runs(id),\n")
	b.WriteString("    iteration INTEGER NOT NULL,\n")
	b.WriteString("    day       INTEGER NOT NULL,\n")
	b.WriteString("    last_day  INTEGER NOT NULL DEFAULT 0,\n")
	b.WriteString("    zone      TEXT NOT NULL DEFAULT '',\n")
	b.WriteString("    category  TEXT NOT NULL DEFAULT '',\n")
	for _, f := range t.fields {
		fmt.Fprintf(&b, "    %s REAL,\n", f)
	}
	b.WriteString("    PRIMARY KEY (run_id, iteration, day, zone, category)\n)")
	return b.String()
}

// ensureOutputTables creates the daily tables and adds columns for fields
// the field map gained since the database was created. Columns are never
// dropped.
func (s *Store) ensureOutputTables() error {
	reserved := make(map[string]bool, len(keyColumns))
	for _, c := range keyColumns {
		reserved[c] = true
	}

	for _, t := range s.sortedTables() {
		for _, f := range t.fields {
			if reserved[f] {
				return fmt.Errorf("%s: field %q collides with a key column", t.name, f)
			}
		}

		if _, err := s.db.Exec(t.createSQL()); err != nil {
			return fmt.Errorf("create %s: %w", t.name, err)
		}

		existing, err := s.columns(t.name)
		if err != nil {
			return err
		}
		for _, f := range t.fields {
			if existing[f] {
				continue
			}
			if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s REAL", t.name, f)); err != nil {
				return fmt.Errorf("add column %s.%s: %w", t.name, f, err)
			}
		}
	}
	return nil
}

func (s *Store) columns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info %s: %w", table, err)
	}
	return cols, nil
}
