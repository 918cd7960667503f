package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/simrun/internal/scenario"
)

func TestProgressFraction(t *testing.T) {
	days := scenario.StopCondition{Kind: scenario.StopDays, Days: 8}

	tests := []struct {
		name      string
		completed int
		requested int
		want      float64
	}{
		{"none completed", 0, 10, 0.05},
		{"two of ten", 2, 10, 0.2},
		{"all", 10, 10, 1},
		{"clamped", 12, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ProgressFraction(days, tt.completed, tt.requested)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestProgressFraction_UnknownStopCondition(t *testing.T) {
	_, err := ProgressFraction(scenario.StopCondition{Kind: "forever"}, 1, 10)
	assert.ErrorIs(t, err, ErrUnknownStopCondition)
}

func TestProgressFraction_InvalidRequested(t *testing.T) {
	_, err := ProgressFraction(scenario.StopCondition{Kind: scenario.StopDiseaseEnd}, 0, 0)
	assert.Error(t, err)
}

func TestMedian(t *testing.T) {
	m, ok := Median([]float64{5, 1, 3, 2, 4})
	require.True(t, ok)
	assert.Equal(t, 3.0, m)

	// Even counts take the upper middle element.
	m, ok = Median([]float64{4, 1, 3, 2})
	require.True(t, ok)
	assert.Equal(t, 3.0, m)

	_, ok = Median(nil)
	assert.False(t, ok)

	_, ok = Median([]float64{-1, -1, 4})
	assert.False(t, ok, "sentinel at the median index is not applicable")
}

func TestMedian_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	p, ok := Percentile(values, 50)
	require.True(t, ok)
	assert.Equal(t, 3.0, p)

	p, _ = Percentile(values, 0)
	assert.Equal(t, 1.0, p)
	p, _ = Percentile(values, 100)
	assert.Equal(t, 5.0, p)
	// floor(4*0.95) = 3
	p, _ = Percentile(values, 95)
	assert.Equal(t, 4.0, p)

	_, ok = Percentile(nil, 50)
	assert.False(t, ok)
	_, ok = Percentile(values, 101)
	assert.False(t, ok)
}

func TestPopulationStdDev(t *testing.T) {
	assert.Equal(t, 2.0, PopulationStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}))
	assert.Equal(t, 0.0, PopulationStdDev(nil))
	assert.Equal(t, 0.0, PopulationStdDev([]float64{7}))
	// sqrt(2/3) = 0.8164...
	assert.Equal(t, 0.82, PopulationStdDev([]float64{1, 2, 3}))
}

func TestDescribe(t *testing.T) {
	s := Describe([]float64{1, 2, 3, 4, 5})
	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 3.0, s.Mean)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 5.0, s.Max)
	assert.Equal(t, 3.0, s.P50)
	require.NotNil(t, s.Median)
	assert.Equal(t, 3.0, *s.Median)

	empty := Describe(nil)
	assert.Equal(t, 0, empty.Count)
	assert.Nil(t, empty.Median)
}

func TestPercentile_WithinRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.Float64Range(-1e6, 1e6), 1, 50).Draw(t, "values")
		p := rapid.Float64Range(0, 100).Draw(t, "p")

		got, ok := Percentile(values, p)
		if !ok {
			t.Fatalf("percentile %v of %d values not ok", p, len(values))
		}
		if got < Min(values) || got > Max(values) {
			t.Fatalf("percentile %v = %v outside [%v, %v]", p, got, Min(values), Max(values))
		}
	})
}

func TestProgressFraction_Bounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		requested := rapid.IntRange(1, 10000).Draw(t, "requested")
		completed := rapid.IntRange(0, 20000).Draw(t, "completed")

		got, err := ProgressFraction(scenario.StopCondition{Kind: scenario.StopOutbreakEnd}, completed, requested)
		if err != nil {
			t.Fatal(err)
		}
		if got <= 0 || got > 1 {
			t.Fatalf("fraction %v outside (0, 1]", got)
		}
	})
}
