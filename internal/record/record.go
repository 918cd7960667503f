// Package record defines the normalized records produced by demultiplexing
// engine output, the declarative field map that drives the matching, and the
// per-iteration batch handed to persistence sinks.
package record

import (
	"time"

	"github.com/roach88/simrun/internal/keyspace"
)

// NotApplicable is the value the engine writes when a statistic has no
// meaning for the day, and the value unparseable tokens are coerced to.
const NotApplicable = -1

// Target is one normalized record: the statistics of one selector for one
// simulated day of one iteration.
type Target struct {
	Kind      keyspace.Family
	Iteration int
	Day       int
	LastDay   bool

	// Zone and Category use "" for the Background and All sentinels.
	Zone     string
	Category string

	Fields map[string]float64
}

// NewTarget creates an empty record for sel.
func NewTarget(sel keyspace.Selector, iteration, day int, lastDay bool) *Target {
	return &Target{
		Kind:      sel.Family,
		Iteration: iteration,
		Day:       day,
		LastDay:   lastDay,
		Zone:      sel.Zone,
		Category:  sel.Category,
		Fields:    make(map[string]float64),
	}
}

// Empty reports whether no statistic field was set. Empty records are never
// persisted.
func (t *Target) Empty() bool {
	return len(t.Fields) == 0
}

// UnitCounts are the cumulative per-unit counters fed by the unit delta
// section of the engine output.
type UnitCounts struct {
	Infected   int `json:"infected"`
	ZoneFocus  int `json:"zone_focus"`
	Vaccinated int `json:"vaccinated"`
	Destroyed  int `json:"destroyed"`
}

// Add returns the element-wise sum.
func (u UnitCounts) Add(o UnitCounts) UnitCounts {
	return UnitCounts{
		Infected:   u.Infected + o.Infected,
		ZoneFocus:  u.ZoneFocus + o.ZoneFocus,
		Vaccinated: u.Vaccinated + o.Vaccinated,
		Destroyed:  u.Destroyed + o.Destroyed,
	}
}

// IsZero reports whether all counters are zero.
func (u UnitCounts) IsZero() bool {
	return u == UnitCounts{}
}

// UnitCounters accumulates UnitCounts keyed by unit id.
type UnitCounters map[string]UnitCounts

// Add increments the counters of unit by delta.
func (c UnitCounters) Add(unit string, delta UnitCounts) {
	c[unit] = c[unit].Add(delta)
}

// Batch is everything one successful iteration produced. It is written to
// sinks exactly once, after the engine process has exited.
type Batch struct {
	RunID      string
	Iteration  int
	Records    []*Target
	Units      UnitCounters
	HeaderHash uint64
	LastDay    int
	Elapsed    time.Duration
}
