// Package compositekey builds the deterministic identity string of a
// property record and its fuzzy comparison form.
//
// Key format: {year}{ccdd}-{block}-{lot}_{qualifier|NONE}-{card|NONE}-{location|NONE}
package compositekey

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/vendor"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// None stands in for a missing qualifier, card or location.
const None = "NONE"

// ValidationError reports a row whose composite key cannot be generated.
// The row is skipped; the run continues.
type ValidationError struct {
	Field string
	Row   int
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("validation error: row %d is missing %s", e.Row, e.Field)
	}
	return "validation error: missing " + e.Field
}

// Generate extracts the identity fields of a raw vendor row through the
// profile's field map and builds its key.
func Generate(p vendor.Profile, row map[string]string, year int, ccdd string) (string, error) {
	attrs := p.ParseRecord(row)
	return For(&attrs, year, ccdd)
}

// For builds the key of already-parsed attributes. Every component is
// trimmed, so padding never changes the key.
func For(a *models.PropertyAttributes, year int, ccdd string) (string, error) {
	ccdd = strings.TrimSpace(ccdd)
	block := strings.TrimSpace(a.Block)
	lot := strings.TrimSpace(a.Lot)

	switch {
	case year <= 0:
		return "", &ValidationError{Field: "year"}
	case ccdd == "":
		return "", &ValidationError{Field: "ccdd"}
	case block == "":
		return "", &ValidationError{Field: "block"}
	case lot == "":
		return "", &ValidationError{Field: "lot"}
	}

	var b strings.Builder
	b.WriteString(strconv.Itoa(year))
	b.WriteString(ccdd)
	b.WriteByte('-')
	b.WriteString(block)
	b.WriteByte('-')
	b.WriteString(lot)
	b.WriteByte('_')
	b.WriteString(orNone(a.Qualifier))
	b.WriteByte('-')
	b.WriteString(orNone(a.Card))
	b.WriteByte('-')
	b.WriteString(orNone(a.Location))
	return b.String(), nil
}

func orNone(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return None
	}
	return s
}

var (
	trailingLetterSuffix = regexp.MustCompile(`-[A-Z]$`)
	nonAlphanumeric      = regexp.MustCompile(`[^A-Z0-9]+`)
	letterThenDigit      = regexp.MustCompile(`([A-Z])([0-9])`)
)

// locationAbbreviations maps street tokens to a single spelling. No value
// is itself a key, which keeps Normalize idempotent.
var locationAbbreviations = map[string]string{
	"RT":   "ROUTE",
	"RTE":  "ROUTE",
	"ST":   "STREET",
	"AVE":  "AVENUE",
	"AV":   "AVENUE",
	"RD":   "ROAD",
	"DR":   "DRIVE",
	"LN":   "LANE",
	"HWY":  "HIGHWAY",
	"BLVD": "BOULEVARD",
	"CT":   "COURT",
	"PL":   "PLACE",
	"TER":  "TERRACE",
	"PKWY": "PARKWAY",
}

// Normalize returns the fuzzy comparison form of a key. It is used only for
// diagnostic near-duplicate matching, never as identity.
//
// The head ({year}{ccdd}-{block}-{lot}) and the qualifier and card keep
// their separators so the result still splits the same way, which makes
// Normalize(Normalize(k)) == Normalize(k).
func Normalize(key string) string {
	upper := cases.Upper(language.Und).String(strings.TrimSpace(key))

	underscore := strings.Index(upper, "_")
	if underscore < 0 {
		return normalizeLocation(upper)
	}

	headParts := strings.Split(upper[:underscore], "-")
	for i, part := range headParts {
		headParts[i] = normalizeToken(part)
	}

	tail := strings.SplitN(upper[underscore+1:], "-", 3)
	for len(tail) < 3 {
		tail = append(tail, "")
	}

	return strings.Join(headParts, "-") + "_" +
		normalizeToken(tail[0]) + "-" +
		normalizeToken(tail[1]) + "-" +
		normalizeLocation(tail[2])
}

func normalizeToken(s string) string {
	return strings.Join(strings.Fields(nonAlphanumeric.ReplaceAllString(s, " ")), " ")
}

func normalizeLocation(s string) string {
	s = trailingLetterSuffix.ReplaceAllString(strings.TrimSpace(s), "")
	s = nonAlphanumeric.ReplaceAllString(s, " ")
	s = letterThenDigit.ReplaceAllString(s, "$1 $2")

	tokens := strings.Fields(s)
	for i, tok := range tokens {
		if full, ok := locationAbbreviations[tok]; ok {
			tokens[i] = full
		}
	}
	return strings.Join(tokens, " ")
}
