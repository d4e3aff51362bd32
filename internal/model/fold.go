package model

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold trims surrounding whitespace and applies Unicode case folding. It is
// the comparison key for vocabulary terms and usage rows.
func Fold(s string) string {
	// cases.Caser keeps state and is not safe for concurrent use.
	return cases.Fold().String(strings.TrimSpace(s))
}
