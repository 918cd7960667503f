package record

import (
	"fmt"
	"regexp"

	"github.com/roach88/simrun/internal/keyspace"
)

// FieldSpec maps one normalized field to the column-name prefixes (statistic
// bodies) that may carry it.
type FieldSpec struct {
	Name     string
	Prefixes []string
}

// FieldMap is the declarative table of fields per record kind. It is built
// once and passed by value; nothing looks fields up reflectively.
type FieldMap map[keyspace.Family][]FieldSpec

var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// DefaultFieldMap returns the field table for the engine's daily report.
// Field names double as storage column names.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		keyspace.Controls: {
			{Name: "outbreak_duration", Prefixes: []string{"outbreakDuration"}},
			{Name: "disease_duration", Prefixes: []string{"diseaseDuration"}},
			{Name: "first_detection", Prefixes: []string{"firstDetection"}},
			{Name: "first_destruction", Prefixes: []string{"firstDestruction"}},
			{Name: "first_vaccination", Prefixes: []string{"firstVaccination"}},
			{Name: "last_detection", Prefixes: []string{"lastDetection"}},
			{Name: "destruction_wait_max", Prefixes: []string{"destrWaitMax"}},
			{Name: "vaccination_wait_max", Prefixes: []string{"vaccWaitMax"}},
			{Name: "cost_total", Prefixes: []string{"costsTotal"}},
		},
		keyspace.ByCategory: {
			{Name: "tsd_units_susceptible", Prefixes: []string{"tsdUSusc"}},
			{Name: "tsd_units_latent", Prefixes: []string{"tsdULat"}},
			{Name: "tsd_units_subclinical", Prefixes: []string{"tsdUSubc"}},
			{Name: "tsd_units_clinical", Prefixes: []string{"tsdUClin"}},
			{Name: "tsd_units_natural_immune", Prefixes: []string{"tsdUNImm"}},
			{Name: "tsd_units_vaccine_immune", Prefixes: []string{"tsdUVImm"}},
			{Name: "tsd_units_destroyed", Prefixes: []string{"tsdUDest"}},
			{Name: "infection_new_units", Prefixes: []string{"infnU"}},
			{Name: "infection_cumulative_units", Prefixes: []string{"infcU"}},
			{Name: "detection_new_units", Prefixes: []string{"detnU"}},
			{Name: "detection_cumulative_units", Prefixes: []string{"detcU"}},
			{Name: "destruction_cumulative_units", Prefixes: []string{"descU"}},
			{Name: "vaccination_cumulative_units", Prefixes: []string{"vaccU"}},
			{Name: "exposed_cumulative_units", Prefixes: []string{"expcU", "exposedU"}},
		},
		keyspace.ByZone: {
			{Name: "zone_area", Prefixes: []string{"zoneArea"}},
			{Name: "zone_perimeter", Prefixes: []string{"zonePerimeter"}},
			{Name: "num_separate_areas", Prefixes: []string{"numSeparateAreas"}},
		},
		keyspace.ByZoneAndCategory: {
			{Name: "units_in_zone", Prefixes: []string{"unitsInZone"}},
			{Name: "unit_days_in_zone", Prefixes: []string{"unitDaysInZone"}},
			{Name: "animal_days_in_zone", Prefixes: []string{"animalDaysInZone"}},
			{Name: "cost_surveillance", Prefixes: []string{"costSurveillance"}},
		},
	}
}

// Fields returns the field specs of one kind in declaration order.
func (m FieldMap) Fields(kind keyspace.Family) []FieldSpec {
	return m[kind]
}

// Names returns the field names of one kind in declaration order.
func (m FieldMap) Names(kind keyspace.Family) []string {
	specs := m[kind]
	names := make([]string, len(specs))
	for i, f := range specs {
		names[i] = f.Name
	}
	return names
}

// Has reports whether kind declares field.
func (m FieldMap) Has(kind keyspace.Family, field string) bool {
	for _, f := range m[kind] {
		if f.Name == field {
			return true
		}
	}
	return false
}

// Validate rejects tables that cannot be stored or matched: unknown kinds,
// field names that are not plain identifiers, duplicate field names within a
// kind, and fields without prefixes.
func (m FieldMap) Validate() error {
	for kind, specs := range m {
		known := false
		for _, f := range keyspace.Families {
			if f == kind {
				known = true
			}
		}
		if !known {
			return fmt.Errorf("field map: unknown kind %v", kind)
		}

		seen := make(map[string]bool, len(specs))
		for _, f := range specs {
			if !fieldNamePattern.MatchString(f.Name) {
				return fmt.Errorf("field map: %s: invalid field name %q", kind, f.Name)
			}
			if seen[f.Name] {
				return fmt.Errorf("field map: %s: duplicate field %q", kind, f.Name)
			}
			seen[f.Name] = true
			if len(f.Prefixes) == 0 {
				return fmt.Errorf("field map: %s.%s: no prefixes", kind, f.Name)
			}
			for _, p := range f.Prefixes {
				if p == "" {
					return fmt.Errorf("field map: %s.%s: empty prefix", kind, f.Name)
				}
			}
		}
	}
	return nil
}
