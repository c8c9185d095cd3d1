// Package grade decides whether a submitted answer matches the canonical one.
package grade

import (
	"math"
	"strconv"
	"strings"
)

// Tolerance is the absolute tolerance for numeric comparison.
const Tolerance = 1e-6

// Grade compares a student's answer to the canonical answer. When both parse
// as numbers they compare as floats within Tolerance; otherwise the comparison
// falls back to trimmed, case-sensitive string equality. A parse failure is an
// incorrect answer, never an error.
func Grade(studentAnswer, canonicalAnswer string) bool {
	s := strings.TrimSpace(studentAnswer)
	c := strings.TrimSpace(canonicalAnswer)

	sv, sErr := strconv.ParseFloat(s, 64)
	cv, cErr := strconv.ParseFloat(c, 64)
	if sErr == nil && cErr == nil {
		return math.Abs(sv-cv) <= Tolerance
	}
	return s != "" && s == c
}

// ParseNumber parses a numeric answer, tolerating surrounding whitespace.
// The bool result reports whether parsing succeeded.
func ParseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
