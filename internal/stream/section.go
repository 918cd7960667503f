package stream

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/simrun/internal/record"
)

// IsSectionHeader reports whether line starts a new output section. Data
// lines lead with a number (the iteration or unit id); header lines lead
// with a column name, which starts with a letter. Lines leading with any
// other token are not headers and are left to the row parser.
func IsSectionHeader(line string) bool {
	first, _, _ := strings.Cut(line, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(first); !unicode.IsLetter(r) {
		return false
	}
	_, err := strconv.ParseFloat(first, 64)
	return err != nil
}

// UnitDeltaFields is the fixed width of a unit delta line:
// unit_id, infected, zone_focus, vaccinated, destroyed.
const UnitDeltaFields = 5

// ParseUnitDelta parses one positional unit delta line. ok is false when no
// flag is truthy; such lines carry no information.
func ParseUnitDelta(line string) (unitID string, delta record.UnitCounts, ok bool, err error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(fields) != UnitDeltaFields {
		return "", record.UnitCounts{}, false, fmt.Errorf("unit delta: want %d fields, got %d", UnitDeltaFields, len(fields))
	}

	unitID = strings.TrimSpace(fields[0])
	if unitID == "" {
		return "", record.UnitCounts{}, false, fmt.Errorf("unit delta: empty unit id")
	}

	flags := [4]int{}
	for i := range flags {
		if truthy(fields[i+1]) {
			flags[i] = 1
			ok = true
		}
	}
	delta = record.UnitCounts{
		Infected:   flags[0],
		ZoneFocus:  flags[1],
		Vaccinated: flags[2],
		Destroyed:  flags[3],
	}
	return unitID, delta, ok, nil
}

func truthy(s string) bool {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n != 0
	}
	return false
}
