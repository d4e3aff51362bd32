package model

import (
	"sort"
	"strings"
)

// Category names a controlled vocabulary.
type Category string

// Known vocabulary categories.
const (
	CategorySpecies        Category = "species"
	CategoryApproach       Category = "approach"
	CategorySensor         Category = "sensor"
	CategoryModality       Category = "modality"
	CategoryAnalysisMethod Category = "analysis_method"
	CategoryBrainRegion    Category = "brain_region"
)

var knownCategories = map[Category]bool{
	CategorySpecies:        true,
	CategoryApproach:       true,
	CategorySensor:         true,
	CategoryModality:       true,
	CategoryAnalysisMethod: true,
	CategoryBrainRegion:    true,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return knownCategories[c]
}

// ParseCategory lower-cases and trims s and returns the matching category.
// The second return value is false for unknown categories.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Categories returns every known category in lexical order.
func Categories() []Category {
	out := make([]Category, 0, len(knownCategories))
	for c := range knownCategories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
