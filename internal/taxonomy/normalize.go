// Package taxonomy classifies free-text values against the canonical
// vocabulary using case-folded Levenshtein distance.
package taxonomy

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

// Normalization input errors. Callers surface these as validation failures.
var (
	ErrEmptyValue      = errors.New("taxonomy: empty value")
	ErrUnknownCategory = errors.New("taxonomy: unknown category")
)

// Thresholds bound the distance bands used by Normalize.
type Thresholds struct {
	// Correction is the largest distance that is silently corrected.
	Correction int `yaml:"correction" mapstructure:"correction"`
	// Gap is the largest distance reported as a near miss.
	Gap int `yaml:"gap" mapstructure:"gap"`
}

// DefaultThresholds returns the standard correction and near-miss bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Correction: 2, Gap: 4}
}

type entry struct {
	value string
	key   string
	runes int
}

// Snapshot is an immutable view of the vocabulary at one point in time.
type Snapshot struct {
	terms   map[model.Category][]entry
	count   int
	BuiltAt time.Time
}

// NewSnapshot indexes terms by category. Later terms whose folded value
// repeats an earlier one in the same category are ignored.
func NewSnapshot(terms []model.CanonicalTerm) *Snapshot {
	s := &Snapshot{
		terms:   make(map[model.Category][]entry),
		BuiltAt: time.Now().UTC(),
	}
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		key := model.Fold(t.Value)
		if key == "" {
			continue
		}
		if seen[string(t.Category)+"\x00"+key] {
			continue
		}
		seen[string(t.Category)+"\x00"+key] = true
		s.terms[t.Category] = append(s.terms[t.Category], entry{
			value: strings.TrimSpace(t.Value),
			key:   key,
			runes: utf8.RuneCountInString(key),
		})
		s.count++
	}
	return s
}

// Len returns the number of terms in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Values returns the canonical strings of a category in snapshot order.
func (s *Snapshot) Values(category model.Category) []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.terms[category]))
	for _, e := range s.terms[category] {
		out = append(out, e.value)
	}
	return out
}

// Contains reports whether the category holds value, compared case-folded.
func (s *Snapshot) Contains(category model.Category, value string) bool {
	if s == nil {
		return false
	}
	key := model.Fold(value)
	for _, e := range s.terms[category] {
		if e.key == key {
			return true
		}
	}
	return false
}

// Normalizer classifies raw values. It holds no state beyond its thresholds
// and is safe for concurrent use.
type Normalizer struct {
	thresholds Thresholds
}

// NewNormalizer creates a Normalizer. Non-positive thresholds fall back to
// the defaults, and Gap is raised to Correction if it is smaller.
func NewNormalizer(t Thresholds) *Normalizer {
	def := DefaultThresholds()
	if t.Correction <= 0 {
		t.Correction = def.Correction
	}
	if t.Gap <= 0 {
		t.Gap = def.Gap
	}
	if t.Gap < t.Correction {
		t.Gap = t.Correction
	}
	return &Normalizer{thresholds: t}
}

// Thresholds returns the effective distance bands.
func (n *Normalizer) Thresholds() Thresholds {
	return n.thresholds
}

// Normalize classifies raw against the category vocabulary in snap.
//
// A value matching a term verbatim (after trimming) is exact. A value whose
// folded distance to the nearest term is within the correction band is
// corrected to that term. Everything else is novel; values inside the gap
// band are flagged as near misses. The nearest term is reported whenever
// the category has any terms.
func (n *Normalizer) Normalize(snap *Snapshot, category model.Category, raw string) (model.Classification, error) {
	if !category.Valid() {
		return model.Classification{}, ErrUnknownCategory
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return model.Classification{}, ErrEmptyValue
	}

	c := model.Classification{
		Category: category,
		Input:    raw,
		Status:   model.MatchNovel,
		Stored:   trimmed,
	}

	var candidates []entry
	if snap != nil {
		candidates = snap.terms[category]
	}
	best, dist, ok := nearest(model.Fold(trimmed), candidates)
	if !ok {
		return c, nil
	}

	nearestValue := best.value
	c.Nearest = &nearestValue
	c.Distance = &dist

	switch {
	case dist == 0 && trimmed == best.value:
		c.Status = model.MatchExact
	case dist <= n.thresholds.Correction:
		c.Status = model.MatchCorrected
	case dist <= n.thresholds.Gap:
		c.NearMiss = true
		return c, nil
	default:
		return c, nil
	}

	canonical := best.value
	c.Canonical = &canonical
	c.Stored = canonical
	return c, nil
}

// nearest scans candidates for the smallest distance to key. Ties go to the
// shorter canonical value, then to lexical order.
func nearest(key string, candidates []entry) (entry, int, bool) {
	var (
		best  entry
		bestD = -1
	)
	keyLen := utf8.RuneCountInString(key)

	for _, e := range candidates {
		// Length difference is a lower bound on the distance.
		lenDiff := e.runes - keyLen
		if lenDiff < 0 {
			lenDiff = -lenDiff
		}
		if bestD >= 0 && lenDiff > bestD {
			continue
		}

		d := levenshtein.Distance(key, e.key, nil)
		if bestD < 0 || d < bestD || (d == bestD && better(e, best)) {
			best = e
			bestD = d
		}
	}
	return best, bestD, bestD >= 0
}

func better(a, b entry) bool {
	la, lb := utf8.RuneCountInString(a.value), utf8.RuneCountInString(b.value)
	if la != lb {
		return la < lb
	}
	return a.value < b.value
}

