package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCUEScenario = `
name:       "cue scenario"
engine: path: "engine"
iterations: 10
stop_condition: {kind: "outbreak_end"}
zones: [{name: "High", risk_rank: 1}]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func validate(t *testing.T, format, path string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidFile(t *testing.T) {
	out, err := validate(t, "text", "testdata/keyspace.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All 1 scenario(s) valid")
	assert.Contains(t, out, `"golden", 1 iterations, stop disease_end, 12 selectors`)
}

func TestValidateValidDirectoryJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", testScenarioYAML)
	writeFile(t, dir, "b.cue", validCUEScenario)
	writeFile(t, dir, "notes.txt", "ignored")

	out, err := validate(t, "json", dir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "cli test", resp.Data.Scenarios[0].Name)
	assert.Equal(t, "cue scenario", resp.Data.Scenarios[1].Name)
	assert.Equal(t, "outbreak_end", resp.Data.Scenarios[1].StopKind)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", testScenarioYAML)
	writeFile(t, dir, "b.yaml", testScenarioYAML)
	writeFile(t, dir, "c.yaml", "name: broken\nengine: {path: e}\niterations: 1\nstop_condition: {kind: forever}\n")
	writeFile(t, dir, "d.yaml", "name: [unterminated\n")
	writeFile(t, dir, "e.yaml", "name: typo\nengin: {path: e}\n")

	out, err := validate(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 4 error(s)")

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)

	codes := make(map[string]string)
	for _, e := range resp.Data.Errors {
		codes[filepath.Base(e.Path)] = e.Code
	}
	assert.Equal(t, map[string]string{
		"b.yaml": ErrCodeDuplicateName,
		"c.yaml": ErrCodeStopCondition,
		"d.yaml": ErrCodeParseFailed,
		"e.yaml": ErrCodeParseFailed,
	}, codes)
}

func TestValidateTextErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "s.yaml", "name: x\nengine: {path: e}\niterations: 0\nstop_condition: {kind: days, days: 1}\n")

	out, err := validate(t, "text", path)
	require.Error(t, err)
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, ErrCodeIterations+": iterations must be at least 1")
}

func TestValidateNonExistentPath(t *testing.T) {
	out, err := validate(t, "text", "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := validate(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}

func TestLoadScenarios_FailFast(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "name: [bad\n")
	writeFile(t, dir, "b.yaml", "name: [bad\n")

	res, errs := LoadScenarios(dir, LoadModeFailFast)
	require.NotNil(t, res)
	assert.Len(t, errs, 1)
	assert.Equal(t, 2, res.FileCount)

	res, errs = LoadScenarios(dir, LoadModeCollectAll)
	require.NotNil(t, res)
	assert.Len(t, errs, 2)
}

func TestMapValidationErrorToCode(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"missing required field: name", ErrCodeMissingField},
		{"iterations must be at least 1, got 0", ErrCodeIterations},
		{`unknown stop_condition.kind "x": must be one of [days]`, ErrCodeStopCondition},
		{`zones[1]: duplicate zone "A"`, ErrCodeZones},
		{"categories[0]: missing name", ErrCodeCategories},
		{"something else", ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, MapValidationErrorToCode(errorString(tt.msg)))
		})
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
