package taxonomy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

func speciesSnapshot(values ...string) *Snapshot {
	terms := make([]model.CanonicalTerm, 0, len(values))
	for i, v := range values {
		terms = append(terms, model.CanonicalTerm{
			Version:      int64(i + 1),
			Category:     model.CategorySpecies,
			Value:        v,
			IntroducedAt: time.Now(),
		})
	}
	return NewSnapshot(terms)
}

func TestNormalize_Bands(t *testing.T) {
	n := NewNormalizer(DefaultThresholds())
	snap := speciesSnapshot("Mouse", "Rat", "Macaque", "Human")

	tests := []struct {
		name      string
		raw       string
		status    model.MatchStatus
		stored    string
		distance  int
		nearest   string
		nearMiss  bool
		canonical bool
	}{
		{name: "verbatim", raw: "Mouse", status: model.MatchExact, stored: "Mouse", distance: 0, nearest: "Mouse", canonical: true},
		{name: "verbatim with padding", raw: "  Mouse\t", status: model.MatchExact, stored: "Mouse", distance: 0, nearest: "Mouse", canonical: true},
		{name: "casing only", raw: "mouse ", status: model.MatchCorrected, stored: "Mouse", distance: 0, nearest: "Mouse", canonical: true},
		{name: "one edit", raw: "Mose", status: model.MatchCorrected, stored: "Mouse", distance: 1, nearest: "Mouse", canonical: true},
		{name: "two edits", raw: "Mosue", status: model.MatchCorrected, stored: "Mouse", distance: 2, nearest: "Mouse", canonical: true},
		{name: "gap band low", raw: "Mousexyz", status: model.MatchNovel, stored: "Mousexyz", distance: 3, nearest: "Mouse", nearMiss: true},
		{name: "gap band high", raw: "Mousewxyz", status: model.MatchNovel, stored: "Mousewxyz", distance: 4, nearest: "Mouse", nearMiss: true},
		{name: "beyond gap", raw: "Mousevwxyz", status: model.MatchNovel, stored: "Mousevwxyz", distance: 5, nearest: "Mouse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := n.Normalize(snap, model.CategorySpecies, tt.raw)
			require.NoError(t, err)

			assert.Equal(t, tt.status, c.Status)
			assert.Equal(t, tt.stored, c.Stored)
			assert.Equal(t, tt.raw, c.Input)
			assert.Equal(t, tt.nearMiss, c.NearMiss)
			require.NotNil(t, c.Distance)
			assert.Equal(t, tt.distance, *c.Distance)
			require.NotNil(t, c.Nearest)
			assert.Equal(t, tt.nearest, *c.Nearest)
			if tt.canonical {
				require.NotNil(t, c.Canonical)
				assert.Equal(t, tt.stored, *c.Canonical)
			} else {
				assert.Nil(t, c.Canonical)
			}
		})
	}
}

func TestNormalize_FarValueStillReportsNearest(t *testing.T) {
	n := NewNormalizer(DefaultThresholds())
	snap := speciesSnapshot("Mouse", "Rat", "Macaque", "Human")

	c, err := n.Normalize(snap, model.CategorySpecies, "Axolotl")
	require.NoError(t, err)
	assert.Equal(t, model.MatchNovel, c.Status)
	assert.Equal(t, "Axolotl", c.Stored)
	assert.Nil(t, c.Canonical)
	assert.False(t, c.NearMiss)
	require.NotNil(t, c.Nearest)
	require.NotNil(t, c.Distance)
	assert.Greater(t, *c.Distance, 4)
}

func TestNormalize_EmptyVocabulary(t *testing.T) {
	n := NewNormalizer(DefaultThresholds())
	snap := speciesSnapshot("Mouse")

	c, err := n.Normalize(snap, model.CategorySensor, "Neuropixels 2.0")
	require.NoError(t, err)
	assert.Equal(t, model.MatchNovel, c.Status)
	assert.Equal(t, "Neuropixels 2.0", c.Stored)
	assert.Nil(t, c.Nearest)
	assert.Nil(t, c.Distance)
	assert.Nil(t, c.Canonical)

	c, err = n.Normalize(nil, model.CategorySpecies, "Mouse")
	require.NoError(t, err)
	assert.Equal(t, model.MatchNovel, c.Status)
}

func TestNormalize_TieBreaks(t *testing.T) {
	n := NewNormalizer(DefaultThresholds())

	t.Run("shorter value wins", func(t *testing.T) {
		snap := speciesSnapshot("rats", "rat")
		c, err := n.Normalize(snap, model.CategorySpecies, "rata")
		require.NoError(t, err)
		require.NotNil(t, c.Canonical)
		assert.Equal(t, "rat", *c.Canonical)
		assert.Equal(t, 1, *c.Distance)
	})

	t.Run("lexical order on equal length", func(t *testing.T) {
		snap := speciesSnapshot("cat", "bat")
		c, err := n.Normalize(snap, model.CategorySpecies, "hat")
		require.NoError(t, err)
		require.NotNil(t, c.Canonical)
		assert.Equal(t, "bat", *c.Canonical)
	})
}

func TestNormalize_UnicodeFolding(t *testing.T) {
	n := NewNormalizer(DefaultThresholds())
	snap := NewSnapshot([]model.CanonicalTerm{
		{Category: model.CategoryBrainRegion, Value: "Straße"},
	})

	c, err := n.Normalize(snap, model.CategoryBrainRegion, "STRASSE")
	require.NoError(t, err)
	assert.Equal(t, model.MatchCorrected, c.Status)
	assert.Equal(t, "Straße", c.Stored)
	assert.Equal(t, 0, *c.Distance)
}

func TestNormalize_InputErrors(t *testing.T) {
	n := NewNormalizer(DefaultThresholds())
	snap := speciesSnapshot("Mouse")

	_, err := n.Normalize(snap, model.CategorySpecies, "   ")
	assert.ErrorIs(t, err, ErrEmptyValue)

	_, err = n.Normalize(snap, model.Category("planet"), "Mars")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestNormalize_Deterministic(t *testing.T) {
	n := NewNormalizer(DefaultThresholds())
	snap := speciesSnapshot("Mouse", "Rat", "Macaque", "Human", "Zebrafish")

	first, err := n.Normalize(snap, model.CategorySpecies, "Zebrfish")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := n.Normalize(snap, model.CategorySpecies, "Zebrfish")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNewNormalizer_Thresholds(t *testing.T) {
	assert.Equal(t, DefaultThresholds(), NewNormalizer(Thresholds{}).Thresholds())
	assert.Equal(t, Thresholds{Correction: 3, Gap: 3}, NewNormalizer(Thresholds{Correction: 3, Gap: 1}).Thresholds())

	n := NewNormalizer(Thresholds{Correction: 1, Gap: 2})
	c, err := n.Normalize(speciesSnapshot("Mouse"), model.CategorySpecies, "Mosue")
	require.NoError(t, err)
	assert.Equal(t, model.MatchNovel, c.Status)
	assert.True(t, c.NearMiss)
}

func TestSnapshot_DedupesFoldedValues(t *testing.T) {
	snap := speciesSnapshot("Mouse", "MOUSE", "Rat")
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, []string{"Mouse", "Rat"}, snap.Values(model.CategorySpecies))
	assert.True(t, snap.Contains(model.CategorySpecies, " mouse"))
	assert.False(t, snap.Contains(model.CategorySensor, "mouse"))
}
