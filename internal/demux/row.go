package demux

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/roach88/simrun/internal/record"
)

// Leading columns of the daily report. They identify the row and are never
// stored as statistic fields.
const (
	ColumnRun = "Run"
	ColumnDay = "Day"
)

// VersionColumns are engine version fields stripped before demultiplexing
// when the header carries them.
var VersionColumns = []string{"versionMajor", "versionMinor", "versionRelease"}

var (
	// ErrMalformedHeader means the daily report header lacks Run or Day.
	ErrMalformedHeader = errors.New("malformed header")

	// ErrMissingLeadingField means a data line has no usable Run or Day
	// value, or lacks a version field the header declares. The line is
	// skipped; the iteration continues.
	ErrMissingLeadingField = errors.New("missing leading field")
)

// Header is a parsed daily report header line.
type Header struct {
	Columns []string
	Hash    uint64

	runIdx     int
	dayIdx     int
	versionIdx []int
	strip      []bool
}

// ParseHeader splits a comma-separated header. Column order is kept so data
// lines can be aligned positionally; matching later is by name only.
func ParseHeader(line string) (*Header, error) {
	line = strings.TrimRight(line, "\r\n")
	cols := strings.Split(line, ",")

	h := &Header{
		Columns: make([]string, len(cols)),
		Hash:    xxh3.HashString(line),
		runIdx:  -1,
		dayIdx:  -1,
		strip:   make([]bool, len(cols)),
	}
	for i, c := range cols {
		c = strings.TrimSpace(c)
		h.Columns[i] = c
		switch {
		case c == ColumnRun:
			h.runIdx = i
			h.strip[i] = true
		case c == ColumnDay:
			h.dayIdx = i
			h.strip[i] = true
		case isVersionColumn(c):
			h.versionIdx = append(h.versionIdx, i)
			h.strip[i] = true
		case c == "":
			h.strip[i] = true
		}
	}

	if h.runIdx < 0 || h.dayIdx < 0 {
		return nil, fmt.Errorf("%w: %q and %q columns are required", ErrMalformedHeader, ColumnRun, ColumnDay)
	}
	return h, nil
}

func isVersionColumn(c string) bool {
	for _, v := range VersionColumns {
		if c == v {
			return true
		}
	}
	return false
}

// StatColumns returns the header columns that are demultiplexed.
func (h *Header) StatColumns() []string {
	var out []string
	for i, c := range h.Columns {
		if !h.strip[i] {
			out = append(out, c)
		}
	}
	return out
}

// WideRow is one parsed data line: the iteration and day it belongs to, plus
// every present statistic column. It only lives for one demultiplex pass.
type WideRow struct {
	Iteration int
	Day       int
	Values    map[string]float64
}

// ParseRow aligns a data line with the header. Empty fields are absent, not
// zero. Tokens that are neither integer nor float become record.NotApplicable.
func (h *Header) ParseRow(line string) (WideRow, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), ",")

	iteration, err := leadingInt(fields, h.runIdx)
	if err != nil {
		return WideRow{}, fmt.Errorf("%w: %s: %v", ErrMissingLeadingField, ColumnRun, err)
	}
	day, err := leadingInt(fields, h.dayIdx)
	if err != nil {
		return WideRow{}, fmt.Errorf("%w: %s: %v", ErrMissingLeadingField, ColumnDay, err)
	}
	for _, idx := range h.versionIdx {
		if idx >= len(fields) || strings.TrimSpace(fields[idx]) == "" {
			return WideRow{}, fmt.Errorf("%w: %s", ErrMissingLeadingField, h.Columns[idx])
		}
	}

	row := WideRow{
		Iteration: iteration,
		Day:       day,
		Values:    make(map[string]float64, len(fields)),
	}
	for i, raw := range fields {
		if i >= len(h.Columns) || h.strip[i] {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		row.Values[h.Columns[i]] = ParseValue(raw)
	}
	return row, nil
}

func leadingInt(fields []string, idx int) (int, error) {
	if idx >= len(fields) {
		return 0, errors.New("field absent")
	}
	raw := strings.TrimSpace(fields[idx])
	if raw == "" {
		return 0, errors.New("field empty")
	}
	return strconv.Atoi(raw)
}

// ParseValue parses an integer or float token. Anything else, including
// NaN and infinities, is record.NotApplicable.
func ParseValue(s string) float64 {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return record.NotApplicable
}
