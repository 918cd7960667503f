package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/simrun/internal/testutil"
)

// seededDatabase runs the three-iteration test scenario and returns the
// database path.
func seededDatabase(t *testing.T) string {
	t.Helper()
	f := newRunFixture(t, func(it int) testutil.Script {
		return testutil.Script{Lines: engineReport(it)}
	})
	_, err := f.run(t, "json")
	require.NoError(t, err)
	return f.db
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRunsCommand(t *testing.T) {
	db := seededDatabase(t)

	out, err := execute(t, "--db", db, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "run-test")
	assert.Contains(t, out, "cli test")
	assert.Contains(t, out, "completed")
}

func TestRunsCommand_Empty(t *testing.T) {
	out, err := execute(t, "--db", t.TempDir()+"/empty.db", "runs")
	require.NoError(t, err)
	assert.Equal(t, "No runs.\n", out)
}

func TestProgressCommand(t *testing.T) {
	db := seededDatabase(t)

	out, err := execute(t, "--db", db, "--format", "json", "progress", "run-test")
	require.NoError(t, err)

	var resp struct {
		RunID string `json:"run_id"`
		Data  struct {
			Completed int     `json:"completed"`
			Requested int     `json:"requested"`
			Fraction  float64 `json:"fraction"`
			Fragments []struct {
				Text string `json:"text"`
			} `json:"fragments"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "run-test", resp.RunID)
	assert.Equal(t, 3, resp.Data.Completed)
	assert.Equal(t, 3, resp.Data.Requested)
	assert.Equal(t, 1.0, resp.Data.Fraction)
	assert.Len(t, resp.Data.Fragments, 3)

	out, err = execute(t, "--db", db, "progress", "--tail", "1", "run-test")
	require.NoError(t, err)
	assert.Contains(t, out, "3/3 completed (100.0%)")
	assert.Regexp(t, `(?m)^  Iteration \d: \d+s$`, out)
}

func TestProgressCommand_UnknownRun(t *testing.T) {
	db := seededDatabase(t)
	_, err := execute(t, "--db", db, "progress", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run not found")
}

func TestStatsCommand(t *testing.T) {
	db := seededDatabase(t)

	out, err := execute(t, "--db", db, "--format", "json", "stats", "--field", "outbreak_duration", "run-test")
	require.NoError(t, err)
	var resp struct {
		Data struct {
			Count  int      `json:"count"`
			Mean   float64  `json:"mean"`
			Median *float64 `json:"median"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, 3, resp.Data.Count)
	assert.Equal(t, 20.0, resp.Data.Mean)
	require.NotNil(t, resp.Data.Median)
	assert.Equal(t, 20.0, *resp.Data.Median)

	// Zone-scoped stats read the scenario's highest-risk zone.
	out, err = execute(t, "--db", db, "stats", "--kind", "by_zone", "--field", "zone_area", "run-test")
	require.NoError(t, err)
	assert.Contains(t, out, "by_zone.zone_area [High Risk] over 3 iterations")
	assert.Contains(t, out, "median 2")
}

func TestStatsCommand_Errors(t *testing.T) {
	db := seededDatabase(t)

	_, err := execute(t, "--db", db, "stats", "--kind", "nope", "--field", "x", "run-test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --kind")

	_, err = execute(t, "--db", db, "stats", "--field", "not_a_field", "run-test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")

	_, err = execute(t, "--db", db, "stats", "run-test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
