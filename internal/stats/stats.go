// Package stats computes run progress and descriptive statistics over the
// last-day values of stored records.
//
// The order statistics use the engine's integer index formulas, not
// interpolation: the median is the element at count/2 and the p-th
// percentile the element at (count-1)*p/100, both floored.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/roach88/simrun/internal/record"
	"github.com/roach88/simrun/internal/scenario"
)

// ErrUnknownStopCondition is a fatal configuration error.
var ErrUnknownStopCondition = errors.New("unknown stop condition")

// ProgressFraction returns completed/requested clamped to [0,1]. Before any
// iteration completed it returns half an iteration's share so a progress bar
// never sits at exactly zero.
func ProgressFraction(stop scenario.StopCondition, completed, requested int) (float64, error) {
	if !stop.Kind.Known() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownStopCondition, stop.Kind)
	}
	if requested <= 0 {
		return 0, fmt.Errorf("requested iterations must be positive, got %d", requested)
	}
	if completed <= 0 {
		return 0.5 / float64(requested), nil
	}
	return clamp(float64(completed)/float64(requested), 0, 1), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sorted(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	return out
}

// Median returns the element at floor(count/2) of the sorted values. ok is
// false when there are no values or the element is the engine's
// not-applicable sentinel.
func Median(values []float64) (median float64, ok bool) {
	if len(values) == 0 {
		return record.NotApplicable, false
	}
	v := sorted(values)[len(values)/2]
	if v == record.NotApplicable {
		return record.NotApplicable, false
	}
	return v, true
}

// Percentile returns the element at floor((count-1)*p/100) of the sorted
// values. ok is false when there are no values or p is outside [0,100].
func Percentile(values []float64, p float64) (float64, bool) {
	if len(values) == 0 || p < 0 || p > 100 {
		return 0, false
	}
	idx := int(math.Floor(float64(len(values)-1) * p / 100))
	return sorted(values)[idx], true
}

// PopulationStdDev returns the population standard deviation rounded to two
// decimals, or 0 for no values.
func PopulationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Round(math.Sqrt(sum/float64(len(values)))*100) / 100
}

// Mean returns the arithmetic mean, or 0 for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Min returns the smallest value, or 0 for no values.
func Min(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		m = math.Min(m, v)
	}
	return m
}

// Max returns the largest value, or 0 for no values.
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		m = math.Max(m, v)
	}
	return m
}

// Summary describes one field across iterations.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P5     float64 `json:"p5"`
	P25    float64 `json:"p25"`
	P50    float64 `json:"p50"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`

	// Median is nil when not applicable.
	Median *float64 `json:"median"`
}

// Describe summarizes values.
func Describe(values []float64) Summary {
	s := Summary{
		Count:  len(values),
		Mean:   Mean(values),
		StdDev: PopulationStdDev(values),
		Min:    Min(values),
		Max:    Max(values),
	}
	s.P5, _ = Percentile(values, 5)
	s.P25, _ = Percentile(values, 25)
	s.P50, _ = Percentile(values, 50)
	s.P75, _ = Percentile(values, 75)
	s.P95, _ = Percentile(values, 95)
	if m, ok := Median(values); ok {
		s.Median = &m
	}
	return s
}
