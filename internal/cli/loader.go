package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/simrun/internal/scenario"
)

// LoadMode controls how errors are handled during scenario loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadedScenario is one successfully loaded scenario file.
type LoadedScenario struct {
	Path     string
	Scenario *scenario.Scenario
}

// LoadResult contains the results of loading scenarios from a path.
type LoadResult struct {
	Scenarios []LoadedScenario
	FileCount int // Number of scenario files found
}

// LoadError represents an error that occurred during scenario loading.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// scenarioExts are the file extensions treated as scenarios.
var scenarioExts = map[string]bool{".yaml": true, ".yml": true, ".cue": true}

// LoadScenarios loads one scenario file, or every scenario file under a
// directory. Scenario names must be unique across a directory.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadScenarios(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing path: %v", err)}}
	}

	files := []string{path}
	if info.IsDir() {
		files, err = FindScenarioFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(files) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no scenario files found in %s", path)}}
		}
	}

	var errs []error
	result := &LoadResult{FileCount: len(files)}
	names := make(map[string]string)
	for _, f := range files {
		sc, loadErr := loadScenarioFile(f)
		if loadErr == nil {
			if first, dup := names[sc.Name]; dup {
				loadErr = &LoadError{
					Code:    ErrCodeDuplicateName,
					Path:    f,
					Message: fmt.Sprintf("scenario name %q already used by %s", sc.Name, first),
				}
			}
		}
		if loadErr != nil {
			errs = append(errs, loadErr)
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		names[sc.Name] = f
		result.Scenarios = append(result.Scenarios, LoadedScenario{Path: f, Scenario: sc})
	}
	return result, errs
}

// loadScenarioFile parses and validates one file, keeping parse and
// validation failures apart.
func loadScenarioFile(path string) (*scenario.Scenario, *LoadError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: err.Error()}
	}

	var sc *scenario.Scenario
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		sc, err = scenario.ParseCUE(data, path)
	} else {
		sc, err = scenario.ParseYAML(data)
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeParseFailed, Path: path, Message: err.Error()}
	}
	if err := sc.Validate(); err != nil {
		return nil, &LoadError{Code: MapValidationErrorToCode(err), Path: path, Message: err.Error()}
	}
	return sc, nil
}

// FindScenarioFiles walks the directory and returns all scenario file paths
// in lexical order.
func FindScenarioFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && scenarioExts[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No scenario files found
	ErrCodeParseFailed = "E004" // YAML or CUE parse failed
	ErrCodeNotFound    = "E005" // Path not found

	// Scenario validation errors
	ErrCodeMissingField  = "E101" // Required field missing
	ErrCodeIterations    = "E102" // Iteration count out of range
	ErrCodeStopCondition = "E103" // Unknown or incomplete stop condition
	ErrCodeZones         = "E104" // Invalid zone list
	ErrCodeCategories    = "E105" // Invalid category list
	ErrCodeDuplicateName = "E106" // Scenario name reused in a directory
)

// MapValidationErrorToCode maps a scenario validation error to an error code.
func MapValidationErrorToCode(err error) string {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "missing required field"):
		return ErrCodeMissingField
	case strings.HasPrefix(msg, "iterations"):
		return ErrCodeIterations
	case strings.Contains(msg, "stop_condition"):
		return ErrCodeStopCondition
	case strings.HasPrefix(msg, "zones"):
		return ErrCodeZones
	case strings.HasPrefix(msg, "categories"):
		return ErrCodeCategories
	default:
		return ErrCodeGeneric
	}
}
