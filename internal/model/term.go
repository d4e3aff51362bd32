package model

import "time"

// CanonicalTerm is an officially recognized vocabulary value within a category.
type CanonicalTerm struct {
	Version            int64     `json:"version"`
	Category           Category  `json:"category"`
	Value              string    `json:"value"`
	IntroducedAt       time.Time `json:"introduced_at"`
	PromotedFromCustom bool      `json:"promoted_from_custom"`
}

// CustomFieldUsage counts how often a novel value has been submitted for a
// category. At most one row exists per (category, folded value).
type CustomFieldUsage struct {
	Category         Category  `json:"category"`
	RawValue         string    `json:"raw_value"`
	UsageCount       int       `json:"usage_count"`
	ClosestCanonical *string   `json:"closest_canonical,omitempty"`
	Distance         *int      `json:"distance,omitempty"`
	Promoted         bool      `json:"promoted"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
}

// MatchStatus classifies a raw value against the vocabulary.
type MatchStatus string

// Classification outcomes.
const (
	MatchExact     MatchStatus = "exact"
	MatchCorrected MatchStatus = "corrected"
	MatchNovel     MatchStatus = "novel"
)

// Classification is the result of normalizing one raw value.
type Classification struct {
	Category Category    `json:"category"`
	Input    string      `json:"input"`
	Status   MatchStatus `json:"status"`
	// Canonical is set for exact and corrected matches only.
	Canonical *string `json:"canonical_value,omitempty"`
	// Nearest and Distance describe the closest vocabulary term, when the
	// category has any terms. They are informational for novel values.
	Nearest  *string `json:"nearest,omitempty"`
	Distance *int    `json:"distance,omitempty"`
	// NearMiss marks novel values inside the ambiguous gap band.
	NearMiss bool `json:"near_miss,omitempty"`
	// Stored is the value that gets persisted for this input.
	Stored string `json:"stored_value"`
}

// PromotionResult reports whether a usage row crossed into the vocabulary.
type PromotionResult struct {
	Promoted bool           `json:"promoted"`
	Term     *CanonicalTerm `json:"term,omitempty"`
}
