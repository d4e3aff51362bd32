package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/taxonomy-cli/internal/model"
	"github.com/sells-group/taxonomy-cli/internal/resilience"
	"github.com/sells-group/taxonomy-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T, projects ...string) (*Service, *store.SQLiteStore) {
	t.Helper()
	return newTestServiceWithConfig(t, DefaultConfig(), projects...)
}

func newTestServiceWithConfig(t *testing.T, cfg Config, projects ...string) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	svc := New(st, cfg)
	_, err = svc.SeedTerms(context.Background(), []model.CanonicalTerm{
		{Category: model.CategorySpecies, Value: "Mouse"},
		{Category: model.CategorySpecies, Value: "Rat"},
		{Category: model.CategorySpecies, Value: "Zebrafish"},
		{Category: model.CategoryAnalysisMethod, Value: "Kilosort"},
		{Category: model.CategoryAnalysisMethod, Value: "MountainSort"},
	})
	require.NoError(t, err)
	for _, p := range projects {
		require.NoError(t, svc.UpsertProject(context.Background(), model.Project{GrantNumber: p, Title: "Project " + p}))
	}
	return svc, st
}

func submit(t *testing.T, svc *Service, entity, field string, v model.FieldValue) *EditResult {
	t.Helper()
	res, err := svc.SubmitMetadataEdit(context.Background(), EditRequest{
		EntityID: entity, FieldName: field, Value: v, Actor: "user:" + entity,
	})
	require.NoError(t, err)
	return res
}

func TestSubmit_CorrectsCasingAndWhitespace(t *testing.T) {
	svc, _ := newTestService(t, "proj-A")

	res := submit(t, svc, "proj-A", "species", model.Text("mouse "))
	require.Len(t, res.Classifications, 1)
	c := res.Classifications[0]
	assert.Equal(t, model.MatchCorrected, c.Status)
	require.NotNil(t, c.Distance)
	assert.Equal(t, 0, *c.Distance)
	assert.Equal(t, model.List("Mouse"), res.Stored)

	require.NotNil(t, res.Event.RawValue)
	assert.Equal(t, model.List("mouse "), *res.Event.RawValue)
	assert.Nil(t, res.Event.OldValue)
}

func TestSubmit_CorrectedNeverTracks(t *testing.T) {
	svc, st := newTestService(t, "proj-A", "proj-B", "proj-C")

	for _, p := range []string{"proj-A", "proj-B", "proj-C"} {
		res := submit(t, svc, p, "species", model.List("Zeebrafish"))
		assert.Equal(t, model.MatchCorrected, res.Classifications[0].Status)
		assert.Equal(t, model.List("Zebrafish"), res.Stored)
	}

	rows, err := st.ListUsage(context.Background(), store.UsageFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSubmit_NovelTermPromotedOnThirdProject(t *testing.T) {
	svc, st := newTestService(t, "proj-A", "proj-B", "proj-C")
	ctx := context.Background()

	res := submit(t, svc, "proj-A", "analysis_method", model.List("WaveClus3"))
	assert.Equal(t, model.MatchNovel, res.Classifications[0].Status)
	assert.Empty(t, res.Promoted)
	res = submit(t, svc, "proj-B", "analysis_method", model.List("WaveClus3"))
	assert.Empty(t, res.Promoted)

	u, err := st.GetUsage(ctx, model.CategoryAnalysisMethod, "WaveClus3")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, 2, u.UsageCount)
	assert.False(t, u.Promoted)

	res = submit(t, svc, "proj-C", "analysis_method", model.List("WaveClus3"))
	require.Len(t, res.Promoted, 1)
	assert.Equal(t, "WaveClus3", res.Promoted[0].Value)
	assert.True(t, res.Promoted[0].PromotedFromCustom)

	u, err = st.GetUsage(ctx, model.CategoryAnalysisMethod, "WaveClus3")
	require.NoError(t, err)
	assert.Equal(t, 3, u.UsageCount)
	assert.True(t, u.Promoted)

	c, err := svc.Classify(ctx, "analysis_method", "WaveClus3")
	require.NoError(t, err)
	assert.Equal(t, model.MatchExact, c.Status)

	// A fourth submission is now exact and no longer counted.
	res = submit(t, svc, "proj-A", "analysis_method", model.List("WaveClus3"))
	assert.Equal(t, model.MatchExact, res.Classifications[0].Status)
	u, err = st.GetUsage(ctx, model.CategoryAnalysisMethod, "WaveClus3")
	require.NoError(t, err)
	assert.Equal(t, 3, u.UsageCount)
}

func TestSubmit_ArrayDedupesAndTracksOnce(t *testing.T) {
	svc, st := newTestService(t, "proj-A")

	res := submit(t, svc, "proj-A", "species", model.List("Mouse", "mouse", "Axolotl", "axolotl "))
	assert.Len(t, res.Classifications, 4)
	assert.Equal(t, model.List("Mouse", "Axolotl"), res.Stored)

	u, err := st.GetUsage(context.Background(), model.CategorySpecies, "axolotl")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, 1, u.UsageCount)
	require.NotNil(t, u.ClosestCanonical)
}

func TestSubmit_GapBandRecordsNearest(t *testing.T) {
	svc, st := newTestService(t, "proj-A")

	res := submit(t, svc, "proj-A", "species", model.List("Mousexyz"))
	c := res.Classifications[0]
	assert.Equal(t, model.MatchNovel, c.Status)
	assert.True(t, c.NearMiss)

	u, err := st.GetUsage(context.Background(), model.CategorySpecies, "Mousexyz")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.NotNil(t, u.ClosestCanonical)
	assert.Equal(t, "Mouse", *u.ClosestCanonical)
	assert.Equal(t, 3, *u.Distance)
}

func TestSubmit_FreeFieldsAreNotNormalized(t *testing.T) {
	svc, st := newTestService(t, "proj-A")
	ctx := context.Background()

	res := submit(t, svc, "proj-A", "title", model.Text("mouse"))
	assert.Empty(t, res.Classifications)
	assert.Equal(t, model.Text("mouse"), res.Stored)
	assert.Nil(t, res.Event.RawValue)

	proto := model.Object(map[string]any{"steps": []any{"anesthesia", "craniotomy"}})
	res = submit(t, svc, "proj-A", "protocol", proto)
	assert.True(t, res.Stored.Equal(proto))

	rows, err := st.ListUsage(ctx, store.UsageFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSubmit_RecordsOldValue(t *testing.T) {
	svc, _ := newTestService(t, "proj-A")
	ctx := context.Background()

	submit(t, svc, "proj-A", "species", model.List("Mouse"))
	res := submit(t, svc, "proj-A", "species", model.List("Mouse", "Rat"))
	require.NotNil(t, res.Event.OldValue)
	assert.Equal(t, model.List("Mouse"), *res.Event.OldValue)
	assert.True(t, res.Event.Changed())

	latest, err := svc.LatestValue(ctx, "proj-A", "species")
	require.NoError(t, err)
	assert.Equal(t, res.Event.ID, latest.ID)

	history, err := svc.History(ctx, "proj-A", "species")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	page, err := svc.GetProvenance(ctx, model.ProvenanceFilter{Actor: "user:proj-A"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestSubmit_ValidationWritesNothing(t *testing.T) {
	svc, st := newTestService(t, "proj-A")
	ctx := context.Background()

	tests := []struct {
		name string
		req  EditRequest
	}{
		{name: "unknown field", req: EditRequest{EntityID: "proj-A", FieldName: "planet", Value: model.Text("Mars"), Actor: "u"}},
		{name: "unknown project", req: EditRequest{EntityID: "proj-Z", FieldName: "species", Value: model.Text("Axolotl"), Actor: "u"}},
		{name: "empty value", req: EditRequest{EntityID: "proj-A", FieldName: "species", Value: model.Text("  "), Actor: "u"}},
		{name: "empty element", req: EditRequest{EntityID: "proj-A", FieldName: "species", Value: model.List("Axolotl", ""), Actor: "u"}},
		{name: "empty array", req: EditRequest{EntityID: "proj-A", FieldName: "species", Value: model.List(), Actor: "u"}},
		{name: "oversized", req: EditRequest{EntityID: "proj-A", FieldName: "species", Value: model.Text(strings.Repeat("a", 513)), Actor: "u"}},
		{name: "kind mismatch", req: EditRequest{EntityID: "proj-A", FieldName: "title", Value: model.List("a"), Actor: "u"}},
		{name: "no actor", req: EditRequest{EntityID: "proj-A", FieldName: "species", Value: model.Text("Axolotl")}},
		{name: "untagged", req: EditRequest{EntityID: "proj-A", FieldName: "species", Actor: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitMetadataEdit(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}

	rows, err := st.ListUsage(ctx, store.UsageFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	n, err := st.CountProvenance(ctx, model.ProvenanceFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func submitConcurrently(t *testing.T, svc *Service, projects []string, field string, v model.FieldValue) {
	t.Helper()
	var g errgroup.Group
	for _, p := range projects {
		g.Go(func() error {
			_, err := svc.SubmitMetadataEdit(context.Background(), EditRequest{
				EntityID: p, FieldName: field, Value: v, Actor: "user:" + p,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())
}

func TestSubmit_ConcurrentIncrementsAreNotLost(t *testing.T) {
	projects := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}
	cfg := DefaultConfig()
	cfg.PromotionThreshold = 100
	svc, st := newTestServiceWithConfig(t, cfg, projects...)

	submitConcurrently(t, svc, projects, "sensor", model.List("Neuropixels 2.0"))

	u, err := st.GetUsage(context.Background(), model.CategorySensor, "neuropixels 2.0")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, len(projects), u.UsageCount)
	assert.False(t, u.Promoted)
}

func TestSubmit_ConcurrentPromotionHappensOnce(t *testing.T) {
	projects := []string{"p1", "p2", "p3", "p4", "p5", "p6"}
	svc, st := newTestService(t, projects...)

	submitConcurrently(t, svc, projects, "sensor", model.List("Neuropixels 2.0"))

	u, err := st.GetUsage(context.Background(), model.CategorySensor, "neuropixels 2.0")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.Promoted)
	// Submissions classified after the promotion are exact and not counted.
	assert.GreaterOrEqual(t, u.UsageCount, 3)
	assert.LessOrEqual(t, u.UsageCount, len(projects))

	terms, err := svc.GetTaxonomy(context.Background(), "sensor")
	require.NoError(t, err)
	assert.Len(t, terms, 1)
}

func TestSharedConnections_AfterEdits(t *testing.T) {
	svc, _ := newTestService(t, "proj-A", "proj-B")
	ctx := context.Background()

	submit(t, svc, "proj-A", "species", model.List("Mouse"))
	submit(t, svc, "proj-B", "species", model.List("mouse"))

	shared, err := svc.GetSharedConnections(ctx, "proj-A")
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, "species:mouse", shared[0].Node.ID)
	require.Len(t, shared[0].OtherProjects, 1)
	assert.Equal(t, "project:proj-B", shared[0].OtherProjects[0].ID)

	// Edits invalidate the cached graph.
	submit(t, svc, "proj-B", "species", model.List("Rat"))
	shared, err = svc.GetSharedConnections(ctx, "proj-A")
	require.NoError(t, err)
	assert.Empty(t, shared)

	nb, ok, err := svc.Neighbors(ctx, "project:proj-B")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, nb, 1)
}

func TestInvestigatorsInGraph(t *testing.T) {
	svc, _ := newTestService(t, "proj-A", "proj-B")
	ctx := context.Background()

	require.NoError(t, svc.UpsertInvestigator(ctx, model.Investigator{ID: "pi-1", Name: "Ada"}))
	require.NoError(t, svc.LinkInvestigator(ctx, model.ProjectInvestigator{GrantNumber: "proj-A", InvestigatorID: "pi-1", Role: "pi"}))
	require.NoError(t, svc.LinkInvestigator(ctx, model.ProjectInvestigator{GrantNumber: "proj-B", InvestigatorID: "pi-1"}))

	err := svc.LinkInvestigator(ctx, model.ProjectInvestigator{GrantNumber: "proj-Z", InvestigatorID: "pi-1"})
	assert.True(t, IsValidation(err))

	shared, err := svc.GetSharedConnections(ctx, "proj-A")
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, "investigator:pi-1", shared[0].Node.ID)
}

func TestTaxonomyOperations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	terms, err := svc.GetTaxonomy(ctx, "")
	require.NoError(t, err)
	assert.Len(t, terms, 5)

	_, err = svc.GetTaxonomy(ctx, "planet")
	assert.True(t, IsValidation(err))

	term, inserted, err := svc.AddCanonicalTerm(ctx, "species", "Axolotl")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, term.PromotedFromCustom)

	_, inserted, err = svc.AddCanonicalTerm(ctx, "species", "AXOLOTL")
	require.NoError(t, err)
	assert.False(t, inserted)

	c, err := svc.Classify(ctx, "species", "Axolotl")
	require.NoError(t, err)
	assert.Equal(t, model.MatchExact, c.Status, "snapshot refreshed after insert")

	_, _, err = svc.AddCanonicalTerm(ctx, "species", " ")
	assert.True(t, IsValidation(err))
}

func TestSweepAndReconcile(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := st.IncrementUsage(ctx, store.UsageObservation{Category: model.CategoryModality, RawValue: "Two-photon"})
		require.NoError(t, err)
	}
	res, err := svc.SweepPromotions(ctx)
	require.NoError(t, err)
	require.Len(t, res.Promoted, 1)

	c, err := svc.Classify(ctx, "modality", "Two-photon")
	require.NoError(t, err)
	assert.Equal(t, model.MatchExact, c.Status)

	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Repaired)
	assert.Empty(t, report.Orphaned)
}

func TestConflictError(t *testing.T) {
	err := conflictError(&resilience.ExhaustedError{Attempts: 5, Err: store.ErrConflict})
	assert.True(t, IsConflict(err))
	assert.True(t, resilience.IsTransient(err))
	assert.ErrorIs(t, err, store.ErrConflict)

	plain := errors.New("boom")
	assert.Equal(t, plain, conflictError(plain))
}

func TestGetCustomUsage_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetCustomUsage(context.Background(), store.UsageFilter{Category: "planet"})
	assert.True(t, IsValidation(err))
	_, err = svc.GetCustomUsage(context.Background(), store.UsageFilter{MinCount: -1})
	assert.True(t, IsValidation(err))

	rows, err := svc.GetCustomUsage(context.Background(), store.UsageFilter{})
	require.NoError(t, err)
	assert.NotNil(t, rows)
}

func TestExportGraph_NotConfigured(t *testing.T) {
	svc, _ := newTestService(t)
	require.Error(t, svc.ExportGraph(context.Background()))
}
