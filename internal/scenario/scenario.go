// Package scenario describes one simulation scenario: the engine invocation
// template, how many iterations to run, when an iteration counts as finished,
// and the fixed zones and production categories whose cross product shapes the
// engine's output columns.
//
// Scenarios are loaded from YAML or CUE files and are immutable for the life
// of a run.
package scenario

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StopKind names the condition that ends one iteration of the engine.
type StopKind string

const (
	// StopDays ends an iteration after a fixed number of simulated days.
	StopDays StopKind = "days"
	// StopDiseaseEnd ends an iteration when the disease dies out.
	StopDiseaseEnd StopKind = "disease_end"
	// StopOutbreakEnd ends an iteration when the outbreak (including control
	// measures) is over.
	StopOutbreakEnd StopKind = "outbreak_end"
	// StopFirstDetection ends an iteration at the first detection.
	StopFirstDetection StopKind = "first_detection"
)

// ValidStopKinds lists every stop kind in display order.
var ValidStopKinds = []StopKind{StopDays, StopDiseaseEnd, StopOutbreakEnd, StopFirstDetection}

// Known reports whether k is one of ValidStopKinds.
func (k StopKind) Known() bool {
	for _, v := range ValidStopKinds {
		if v == k {
			return true
		}
	}
	return false
}

// StopCondition is the configured end-of-iteration rule.
// Days is only meaningful for StopDays.
type StopCondition struct {
	Kind StopKind `yaml:"kind" json:"kind"`
	Days int      `yaml:"days,omitempty" json:"days,omitempty"`
}

// Zone is a control zone. RiskRank orders zones when a single representative
// zone is needed for summaries.
type Zone struct {
	Name     string  `yaml:"name" json:"name"`
	RiskRank float64 `yaml:"risk_rank" json:"risk_rank"`
}

// Category is a production (group) type.
type Category struct {
	Name string `yaml:"name" json:"name"`
}

// Invocation is the engine command template. The iteration flag is appended
// per iteration by the worker.
type Invocation struct {
	Path string   `yaml:"path" json:"path"`
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
	Dir  string   `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env  []string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Scenario is a complete run definition.
type Scenario struct {
	Name       string        `yaml:"name" json:"name"`
	Engine     Invocation    `yaml:"engine" json:"engine"`
	Iterations int           `yaml:"iterations" json:"iterations"`
	Stop       StopCondition `yaml:"stop_condition" json:"stop_condition"`
	Zones      []Zone        `yaml:"zones,omitempty" json:"zones,omitempty"`
	Categories []Category    `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Validate checks required fields and name uniqueness.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("missing required field: name")
	}
	if strings.TrimSpace(s.Engine.Path) == "" {
		return fmt.Errorf("missing required field: engine.path")
	}
	if s.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", s.Iterations)
	}
	if !s.Stop.Kind.Known() {
		return fmt.Errorf("unknown stop_condition.kind %q: must be one of %v", s.Stop.Kind, ValidStopKinds)
	}
	if s.Stop.Kind == StopDays && s.Stop.Days < 1 {
		return fmt.Errorf("stop_condition.days must be at least 1 for kind %q", StopDays)
	}

	seen := make(map[string]bool, len(s.Zones))
	for i, z := range s.Zones {
		if strings.TrimSpace(z.Name) == "" {
			return fmt.Errorf("zones[%d]: missing name", i)
		}
		if seen[z.Name] {
			return fmt.Errorf("zones[%d]: duplicate zone %q", i, z.Name)
		}
		seen[z.Name] = true
	}

	seen = make(map[string]bool, len(s.Categories))
	for i, c := range s.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("categories[%d]: missing name", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("categories[%d]: duplicate category %q", i, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// ZoneNames returns zone names in declaration order.
func (s *Scenario) ZoneNames() []string {
	names := make([]string, len(s.Zones))
	for i, z := range s.Zones {
		names[i] = z.Name
	}
	return names
}

// CategoryNames returns category names in declaration order.
func (s *Scenario) CategoryNames() []string {
	names := make([]string, len(s.Categories))
	for i, c := range s.Categories {
		names[i] = c.Name
	}
	return names
}

// RepresentativeZone returns the zone with the highest RiskRank. The first
// declared zone wins ties. ok is false when the scenario has no zones.
func (s *Scenario) RepresentativeZone() (zone Zone, ok bool) {
	for i, z := range s.Zones {
		if i == 0 || z.RiskRank > zone.RiskRank {
			zone = z
		}
	}
	return zone, len(s.Zones) > 0
}

// Snapshot serializes the scenario as YAML for archival alongside a run.
func (s *Scenario) Snapshot() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot scenario: %w", err)
	}
	return data, nil
}
