package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/simrun/internal/record"
	"github.com/roach88/simrun/internal/store"
	"github.com/roach88/simrun/internal/testutil"
)

const testScenarioYAML = `name: cli test
engine:
  path: engine
iterations: 3
stop_condition:
  kind: days
  days: 3
zones:
  - name: High Risk
    risk_rank: 2
categories:
  - name: Dairy Cattle
`

// engineReport is a three-day report whose values scale with it.
func engineReport(it int) []string {
	n := strconv.Itoa(it)
	return []string{
		"Run,Day,outbreakDuration,zoneArea,zoneAreaHighRisk,infcUDairyCattle",
		n + ",1,0,1,1,0",
		n + ",2,0,1,2,1",
		n + ",3," + n + "0,1," + n + ",2",
		"unit_id,infected,zone_focus,vaccinated,destroyed",
		"42,1,0,0,0",
	}
}

type runFixture struct {
	dir      string
	db       string
	scenario string
	engine   *testutil.FakeEngine
}

func newRunFixture(t *testing.T, script func(int) testutil.Script) *runFixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScenarioYAML), 0o644))
	return &runFixture{
		dir:      dir,
		db:       filepath.Join(dir, "runs.db"),
		scenario: path,
		engine:   testutil.NewFakeEngine(script),
	}
}

func (f *runFixture) run(t *testing.T, format string) (string, error) {
	t.Helper()
	out, _, err := f.runVerbose(t, format, false)
	return out, err
}

// runVerbose returns stdout and stderr separately.
func (f *runFixture) runVerbose(t *testing.T, format string, verbose bool) (string, string, error) {
	t.Helper()
	opts := &RunOptions{
		RootOptions:    &RootOptions{Format: format, Database: f.db, Verbose: verbose},
		Concurrency:    2,
		StallTimeout:   time.Second,
		LogDir:         filepath.Join(f.dir, "logs"),
		ArtifactDir:    filepath.Join(f.dir, "artifacts"),
		RunIDGenerator: testutil.NewFixedRunIDGenerator("run-test"),
		Spawner:        f.engine,
	}
	buf, errBuf := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetContext(context.Background())
	err := runScenario(opts, f.scenario, cmd)
	return buf.String(), errBuf.String(), err
}

func TestRun_Succeeds(t *testing.T) {
	f := newRunFixture(t, func(it int) testutil.Script {
		return testutil.Script{Lines: engineReport(it)}
	})

	out, err := f.run(t, "json")
	require.NoError(t, err)

	var resp struct {
		Status string  `json:"status"`
		RunID  string  `json:"run_id"`
		Data   runView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-test", resp.RunID)
	assert.Equal(t, 3, resp.Data.Succeeded)
	assert.Equal(t, 0, resp.Data.Skipped)
	assert.False(t, resp.Data.Crashed)
	assert.Equal(t, filepath.Join(f.dir, "artifacts", "run-test.zip"), resp.Data.Archive)
	assert.FileExists(t, resp.Data.Archive)
	assert.FileExists(t, filepath.Join(f.dir, "logs", "run-test", "iteration-2.log"))

	st, err := store.Open(f.db, record.DefaultFieldMap())
	require.NoError(t, err)
	defer st.Close()
	run, err := st.ReadRun(context.Background(), "run-test")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, run.Status)
	assert.Contains(t, run.Snapshot, "High Risk")
}

func TestRun_VerboseLogsStayOffStdout(t *testing.T) {
	f := newRunFixture(t, func(it int) testutil.Script {
		return testutil.Script{Lines: engineReport(it)}
	})

	out, diag, err := f.runVerbose(t, "json", true)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp["status"])
	assert.Contains(t, diag, "run started")
	assert.Contains(t, diag, "level=DEBUG")
	assert.NotContains(t, out, "run started")
}

func TestRun_TextSummary(t *testing.T) {
	f := newRunFixture(t, func(it int) testutil.Script {
		return testutil.Script{Lines: engineReport(it)}
	})

	out, err := f.run(t, "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-test completed: 3/3 iterations succeeded, 0 failed, 0 skipped")
	assert.Contains(t, out, "Archive: ")
}

func TestRun_CrashedExitsWithFailure(t *testing.T) {
	f := newRunFixture(t, func(it int) testutil.Script {
		if it == 2 {
			return testutil.Script{Lines: engineReport(it), Stderr: "segmentation fault"}
		}
		return testutil.Script{Lines: engineReport(it)}
	})

	out, err := f.run(t, "text")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "run crashed")
	assert.Contains(t, out, "CRASHED")
	assert.NoFileExists(t, filepath.Join(f.dir, "artifacts", "run-test.zip"))
}

func TestRun_MissingScenario(t *testing.T) {
	f := newRunFixture(t, func(int) testutil.Script { return testutil.Script{} })
	f.scenario = filepath.Join(f.dir, "missing.yaml")

	_, err := f.run(t, "text")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}

func TestRun_InvalidScenario(t *testing.T) {
	f := newRunFixture(t, func(int) testutil.Script { return testutil.Script{} })
	require.NoError(t, os.WriteFile(f.scenario, []byte("name: x\niterations: 0\n"), 0o644))

	_, err := f.run(t, "text")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_BadDatabasePath(t *testing.T) {
	f := newRunFixture(t, func(int) testutil.Script { return testutil.Script{} })
	f.db = filepath.Join(f.dir, "no", "such", "dir", "runs.db")

	_, err := f.run(t, "text")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open database")
}
