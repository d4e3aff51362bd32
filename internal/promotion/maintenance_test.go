package promotion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxonomy-cli/internal/model"
	"github.com/sells-group/taxonomy-cli/internal/store"
)

func TestSweep_PromotesEligibleRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Counts accumulated by a tracker with a higher threshold.
	for i := 0; i < 3; i++ {
		_, err := st.IncrementUsage(ctx, store.UsageObservation{Category: model.CategorySensor, RawValue: "Neuropixels 2.0"})
		require.NoError(t, err)
	}
	_, err := st.IncrementUsage(ctx, store.UsageObservation{Category: model.CategorySensor, RawValue: "Tetrode"})
	require.NoError(t, err)

	e := NewEngine(3)
	res, err := e.Sweep(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evaluated)
	require.Len(t, res.Promoted, 1)
	assert.Equal(t, "Neuropixels 2.0", res.Promoted[0].Value)

	res, err = e.Sweep(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Evaluated)
	assert.Empty(t, res.Promoted)
}

func TestReconcile_RepairsMissingTerm(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.IncrementUsage(ctx, store.UsageObservation{Category: model.CategoryModality, RawValue: "Voltage imaging"})
	require.NoError(t, err)
	ok, err := st.MarkPromoted(ctx, model.CategoryModality, "Voltage imaging")
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = st.InsertTerm(ctx, model.CanonicalTerm{
		Category: model.CategoryApproach, Value: "Optogenetics", PromotedFromCustom: true,
	})
	require.NoError(t, err)

	e := NewEngine(3)
	report, err := e.Reconcile(ctx, st)
	require.NoError(t, err)

	require.Len(t, report.Repaired, 1)
	assert.Equal(t, model.CategoryModality, report.Repaired[0].Category)
	assert.Equal(t, ReasonMissingTerm, report.Repaired[0].Reason)

	require.Len(t, report.Orphaned, 1)
	assert.Equal(t, "Optogenetics", report.Orphaned[0].Value)
	assert.Equal(t, ReasonMissingUsage, report.Orphaned[0].Reason)

	term, err := st.GetTerm(ctx, model.CategoryModality, "voltage imaging")
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.True(t, term.PromotedFromCustom)

	// A second pass finds nothing new to repair.
	report, err = e.Reconcile(ctx, st)
	require.NoError(t, err)
	assert.Empty(t, report.Repaired)
	assert.Len(t, report.Orphaned, 1)
}

func TestReconcile_FlagsUsageBehindPromotedTerm(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Term inserted but the usage flag never flipped.
	_, err := st.IncrementUsage(ctx, store.UsageObservation{Category: model.CategorySensor, RawValue: "Neuropixels 2.0"})
	require.NoError(t, err)
	_, _, err = st.InsertTerm(ctx, model.CanonicalTerm{
		Category: model.CategorySensor, Value: "Neuropixels 2.0", PromotedFromCustom: true,
	})
	require.NoError(t, err)

	e := NewEngine(3)
	report, err := e.Reconcile(ctx, st)
	require.NoError(t, err)
	require.Len(t, report.Repaired, 1)
	assert.Equal(t, "Neuropixels 2.0", report.Repaired[0].Value)
	assert.Equal(t, ReasonUnflagged, report.Repaired[0].Reason)
	assert.Empty(t, report.Orphaned)

	u, err := st.GetUsage(ctx, model.CategorySensor, "Neuropixels 2.0")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.Promoted)

	report, err = e.Reconcile(ctx, st)
	require.NoError(t, err)
	assert.Empty(t, report.Repaired)
	assert.Empty(t, report.Orphaned)
}

func TestInconsistentState_Error(t *testing.T) {
	err := &InconsistentState{Category: model.CategorySpecies, Value: "Axolotl", Reason: ReasonMissingTerm}
	assert.Contains(t, err.Error(), "species/Axolotl")
}
