package keyspace

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// AllToken is the literal category token the engine writes when an
// aggregate-over-categories statistic is also scoped to a zone.
const AllToken = "All"

// Sentinel display labels. They never appear in column names.
const (
	BackgroundLabel = "Background"
	AllLabel        = "All"
)

// NormalizeName converts a zone or category name to its column-name form:
// NFC normalized with all whitespace removed ("Medium Risk" -> "MediumRisk").
func NormalizeName(name string) string {
	name = norm.NFC.String(name)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
}

// suffix builds the column suffix for a selector following the engine's
// naming convention:
//
//	Controls                    ""
//	ByCategory(All)             ""
//	ByCategory(c)               c
//	ByZone(Background)          ""
//	ByZone(z)                   z
//	ByZoneAndCategory(z, All)   z + "All"   (z is "" for Background)
//	ByZoneAndCategory(z, c)     z + c
func suffix(f Family, zone, category string) string {
	switch f {
	case ByCategory:
		return NormalizeName(category)
	case ByZone:
		return NormalizeName(zone)
	case ByZoneAndCategory:
		cat := AllToken
		if category != "" {
			cat = NormalizeName(category)
		}
		return NormalizeName(zone) + cat
	default:
		return ""
	}
}

// ColumnName returns the engine column carrying statistic body for sel.
func ColumnName(body string, sel Selector) string {
	return body + sel.Suffix
}
