// Package keyspace builds the set of selectors every engine output row is
// decomposed against.
//
// The engine names each statistic column <body><zone-suffix><category-suffix>,
// so the columns of one row are a cross product of statistic bodies, zones
// and production categories. A Selector identifies one target record scope
// (scenario-wide, one category, one zone, or one zone/category pair) together
// with the suffix its columns carry.
//
// A KeySpace is computed once per scenario and shared read-only by every
// iteration and every row.
package keyspace

import (
	"fmt"
	"io"
)

// Family is the kind of target record a selector scopes.
type Family int

const (
	// Controls is the single scenario-wide selector.
	Controls Family = iota + 1
	// ByCategory selects one category, or All.
	ByCategory
	// ByZone selects one zone, or Background.
	ByZone
	// ByZoneAndCategory selects one zone/category pair.
	ByZoneAndCategory
)

// Families lists every family in key space order.
var Families = []Family{Controls, ByCategory, ByZone, ByZoneAndCategory}

func (f Family) String() string {
	switch f {
	case Controls:
		return "controls"
	case ByCategory:
		return "by_category"
	case ByZone:
		return "by_zone"
	case ByZoneAndCategory:
		return "by_zone_and_category"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// ParseFamily is the inverse of Family.String.
func ParseFamily(s string) (Family, error) {
	for _, f := range Families {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown record kind %q", s)
}

// Selector identifies one target record scope.
//
// An empty Zone is the Background sentinel and an empty Category is the All
// sentinel: the record aggregates across that dimension.
type Selector struct {
	Family   Family
	Zone     string
	Category string
	Suffix   string
}

// ZoneLabel returns the zone name, or "Background" for the sentinel.
func (s Selector) ZoneLabel() string {
	if s.Zone == "" {
		return BackgroundLabel
	}
	return s.Zone
}

// CategoryLabel returns the category name, or "All" for the sentinel.
func (s Selector) CategoryLabel() string {
	if s.Category == "" {
		return AllLabel
	}
	return s.Category
}

func (s Selector) String() string {
	switch s.Family {
	case ByCategory:
		return fmt.Sprintf("%s[%s]", s.Family, s.CategoryLabel())
	case ByZone:
		return fmt.Sprintf("%s[%s]", s.Family, s.ZoneLabel())
	case ByZoneAndCategory:
		return fmt.Sprintf("%s[%s/%s]", s.Family, s.ZoneLabel(), s.CategoryLabel())
	default:
		return s.Family.String()
	}
}

// KeySpace is the immutable, ordered selector set of one scenario.
type KeySpace struct {
	selectors []Selector
	zones     int
	cats      int
}

// Build computes the selector set for the given zones and categories. The
// Background zone and the All category are implicit. Order is deterministic:
// Controls, then categories (All first), then zones (Background first), then
// zone/category pairs zone-major.
func Build(zones, categories []string) *KeySpace {
	zoneKeys := append([]string{""}, zones...)
	catKeys := append([]string{""}, categories...)

	ks := &KeySpace{
		selectors: make([]Selector, 0, Size(len(zones), len(categories))),
		zones:     len(zones),
		cats:      len(categories),
	}

	ks.add(Controls, "", "")
	for _, c := range catKeys {
		ks.add(ByCategory, "", c)
	}
	for _, z := range zoneKeys {
		ks.add(ByZone, z, "")
	}
	for _, z := range zoneKeys {
		for _, c := range catKeys {
			ks.add(ByZoneAndCategory, z, c)
		}
	}
	return ks
}

func (ks *KeySpace) add(f Family, zone, category string) {
	ks.selectors = append(ks.selectors, Selector{
		Family:   f,
		Zone:     zone,
		Category: category,
		Suffix:   suffix(f, zone, category),
	})
}

// Size returns the selector count for z zones and c categories:
// 1 + (c+1) + (z+1) + (z+1)(c+1).
func Size(z, c int) int {
	return 1 + (c + 1) + (z + 1) + (z+1)*(c+1)
}

// Len returns the number of selectors.
func (ks *KeySpace) Len() int {
	return len(ks.selectors)
}

// Selectors returns the selectors in key space order. The slice is shared;
// callers must not modify it.
func (ks *KeySpace) Selectors() []Selector {
	return ks.selectors
}

// ByFamily returns the selectors of one family in key space order.
func (ks *KeySpace) ByFamily(f Family) []Selector {
	var out []Selector
	for _, s := range ks.selectors {
		if s.Family == f {
			out = append(out, s)
		}
	}
	return out
}

// Describe writes a human-readable listing, one selector per line.
func (ks *KeySpace) Describe(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "zones=%d categories=%d selectors=%d\n", ks.zones, ks.cats, ks.Len()); err != nil {
		return err
	}
	for _, s := range ks.selectors {
		if _, err := fmt.Fprintf(w, "%-48s suffix=%q\n", s.String(), s.Suffix); err != nil {
			return err
		}
	}
	return nil
}
