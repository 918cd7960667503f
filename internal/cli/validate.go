package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/simrun/internal/keyspace"
)

// ValidationIssue is one problem found in a scenario file.
type ValidationIssue struct {
	Path    string `json:"path,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidatedScenario describes one valid scenario.
type ValidatedScenario struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	Iterations int    `json:"iterations"`
	StopKind   string `json:"stop_kind"`
	Selectors  int    `json:"selectors"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                `json:"valid"`
	Scenarios []ValidatedScenario `json:"scenarios,omitempty"`
	Errors    []ValidationIssue   `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario-file|dir>",
		Short: "Validate scenario files without running them",
		Long: `Validate one scenario file, or every .yaml, .yml and .cue file under a
directory, without starting the engine.

Checks syntax, required fields, the stop condition and zone and category
names, and reports every problem found.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadScenarios(path, LoadModeCollectAll)

	// Handle load errors (path not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d scenario file(s) in %s", loadResult.FileCount, path)

	result := ValidationResult{Valid: len(loadErrors) == 0}
	for _, ls := range loadResult.Scenarios {
		sc := ls.Scenario
		formatter.VerboseLog("Validated scenario: %s (%s)", sc.Name, ls.Path)
		result.Scenarios = append(result.Scenarios, ValidatedScenario{
			Path:       ls.Path,
			Name:       sc.Name,
			Iterations: sc.Iterations,
			StopKind:   string(sc.Stop.Kind),
			Selectors:  keyspace.Size(len(sc.Zones), len(sc.Categories)),
		})
	}
	for _, err := range loadErrors {
		issue := ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()}
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			issue = ValidationIssue{Path: loadErr.Path, Code: loadErr.Code, Message: loadErr.Message}
		}
		result.Errors = append(result.Errors, issue)
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All %d scenario(s) valid\n", len(result.Scenarios))
	for _, s := range result.Scenarios {
		fmt.Fprintf(formatter.Writer, "  %s: %q, %d iterations, stop %s, %d selectors\n",
			s.Path, s.Name, s.Iterations, s.StopKind, s.Selectors)
	}
	return nil
}

func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Path != "" {
			fmt.Fprintln(formatter.Writer, err.Path)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
