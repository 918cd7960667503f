// Package demux turns one wide engine output row into normalized records.
//
// For every selector of the scenario's key space a fresh target record is
// created. Each field of the record's kind is matched by looking up
// prefix+suffix in the row; a hit assigns the value and consumes the column.
// Records that matched nothing are dropped. Columns nobody consumed are
// reported back for diagnostics.
//
// A Demultiplexer holds only immutable inputs (key space and field map) and is
// safe for concurrent use by many iteration workers.
package demux

import (
	"log/slog"
	"sort"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/record"
)

// Demultiplexer splits wide rows into target records.
type Demultiplexer struct {
	keys   *keyspace.KeySpace
	fields record.FieldMap
	logger *slog.Logger
}

// New creates a Demultiplexer. A nil logger uses slog.Default().
func New(keys *keyspace.KeySpace, fields record.FieldMap, logger *slog.Logger) *Demultiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Demultiplexer{keys: keys, fields: fields, logger: logger}
}

// Result is the output of one demultiplex pass.
type Result struct {
	// Records are the non-empty targets in key space order.
	Records []*record.Target

	// Unmatched lists row columns that no target consumed, sorted.
	Unmatched []string
}

// Demux decomposes row. lastDay marks the final simulated day of the
// iteration and is copied onto every record.
//
// A column matching more than one (record, field) pair is a field map defect:
// the first assignment in key space order is kept and a warning is logged.
func (d *Demultiplexer) Demux(row WideRow, lastDay bool) Result {
	consumed := make(map[string]keyspace.Selector, len(row.Values))
	var records []*record.Target

	for _, sel := range d.keys.Selectors() {
		rec := record.NewTarget(sel, row.Iteration, row.Day, lastDay)

		for _, spec := range d.fields.Fields(sel.Family) {
			for _, prefix := range spec.Prefixes {
				col := prefix + sel.Suffix
				v, ok := row.Values[col]
				if !ok {
					continue
				}
				if first, dup := consumed[col]; dup {
					d.logger.Warn("column matched more than one target, keeping first",
						"column", col,
						"kind", sel.Family.String(),
						"selector", sel.String(),
						"kept", first.String(),
						"iteration", row.Iteration,
					)
					continue
				}
				if _, set := rec.Fields[spec.Name]; set {
					d.logger.Warn("field already set by another prefix, keeping first",
						"column", col,
						"kind", sel.Family.String(),
						"field", spec.Name,
						"iteration", row.Iteration,
					)
					continue
				}
				rec.Fields[spec.Name] = v
				consumed[col] = sel
			}
		}

		if !rec.Empty() {
			records = append(records, rec)
		}
	}

	var unmatched []string
	for col := range row.Values {
		if _, ok := consumed[col]; !ok {
			unmatched = append(unmatched, col)
		}
	}
	sort.Strings(unmatched)

	return Result{Records: records, Unmatched: unmatched}
}
