package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedProject(t *testing.T, st *SQLiteStore, grant string) {
	t.Helper()
	require.NoError(t, st.UpsertProject(context.Background(), model.Project{GrantNumber: grant, Title: "Project " + grant}))
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

// --- Canonical vocabulary ---

func TestSQLite_InsertTerm_FoldedUniqueness(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	term, inserted, err := st.InsertTerm(ctx, model.CanonicalTerm{Category: model.CategorySpecies, Value: "Mouse"})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "Mouse", term.Value)
	assert.Positive(t, term.Version)

	dup, inserted, err := st.InsertTerm(ctx, model.CanonicalTerm{Category: model.CategorySpecies, Value: " MOUSE "})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, term.Version, dup.Version)
	assert.Equal(t, "Mouse", dup.Value)

	// Same value in another category is a separate term.
	_, inserted, err = st.InsertTerm(ctx, model.CanonicalTerm{Category: model.CategorySensor, Value: "Mouse"})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestSQLite_ListTerms_VersionOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, v := range []string{"Rat", "Mouse", "Zebrafish"} {
		_, _, err := st.InsertTerm(ctx, model.CanonicalTerm{Category: model.CategorySpecies, Value: v})
		require.NoError(t, err)
	}
	_, _, err := st.InsertTerm(ctx, model.CanonicalTerm{Category: model.CategoryModality, Value: "fMRI"})
	require.NoError(t, err)

	species, err := st.ListTerms(ctx, model.CategorySpecies)
	require.NoError(t, err)
	require.Len(t, species, 3)
	assert.Equal(t, "Rat", species[0].Value)
	assert.Less(t, species[0].Version, species[1].Version)
	assert.Less(t, species[1].Version, species[2].Version)

	all, err := st.ListTerms(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, model.CategoryModality, all[0].Category)
}

func TestSQLite_GetTerm_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	term, err := st.GetTerm(context.Background(), model.CategorySpecies, "Axolotl")
	require.NoError(t, err)
	assert.Nil(t, term)
}

func TestSQLite_BulkInsertTerms(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.BulkInsertTerms(ctx, []model.CanonicalTerm{
		{Category: model.CategorySpecies, Value: "Mouse"},
		{Category: model.CategorySpecies, Value: "mouse"},
		{Category: model.CategorySpecies, Value: "Rat"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = st.BulkInsertTerms(ctx, []model.CanonicalTerm{
		{Category: model.CategorySpecies, Value: "Rat"},
		{Category: model.CategorySpecies, Value: "Macaque"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// --- Custom usage ---

func TestSQLite_IncrementUsage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	u, err := st.IncrementUsage(ctx, UsageObservation{
		Category: model.CategorySpecies, RawValue: " Axolotl ", Closest: strPtr("Mouse"), Distance: intPtr(6), SeenAt: first,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, u.UsageCount)
	assert.Equal(t, "Axolotl", u.RawValue)
	require.NotNil(t, u.ClosestCanonical)
	assert.Equal(t, "Mouse", *u.ClosestCanonical)
	assert.False(t, u.Promoted)

	u, err = st.IncrementUsage(ctx, UsageObservation{
		Category: model.CategorySpecies, RawValue: "axolotl", SeenAt: first.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, u.UsageCount)
	assert.Equal(t, "Axolotl", u.RawValue, "casing of first sighting is kept")
	assert.Nil(t, u.ClosestCanonical)
	assert.Nil(t, u.Distance)
	assert.True(t, first.Equal(u.FirstSeen))
	assert.True(t, first.Add(time.Hour).Equal(u.LastSeen))
}

func TestSQLite_ListUsage_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := st.IncrementUsage(ctx, UsageObservation{Category: model.CategorySpecies, RawValue: "Axolotl"})
		require.NoError(t, err)
	}
	_, err := st.IncrementUsage(ctx, UsageObservation{Category: model.CategorySpecies, RawValue: "Tardigrade"})
	require.NoError(t, err)
	_, err = st.IncrementUsage(ctx, UsageObservation{Category: model.CategorySensor, RawValue: "GCaMP8"})
	require.NoError(t, err)

	all, err := st.ListUsage(ctx, UsageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Axolotl", all[0].RawValue)

	frequent, err := st.ListUsage(ctx, UsageFilter{MinCount: 2})
	require.NoError(t, err)
	require.Len(t, frequent, 1)

	sensors, err := st.ListUsage(ctx, UsageFilter{Category: model.CategorySensor})
	require.NoError(t, err)
	require.Len(t, sensors, 1)
	assert.Equal(t, "GCaMP8", sensors[0].RawValue)

	paged, err := st.ListUsage(ctx, UsageFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
}

func TestSQLite_MarkPromoted_Monotonic(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.IncrementUsage(ctx, UsageObservation{Category: model.CategorySpecies, RawValue: "Axolotl"})
	require.NoError(t, err)

	ok, err := st.MarkPromoted(ctx, model.CategorySpecies, "AXOLOTL")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.MarkPromoted(ctx, model.CategorySpecies, "Axolotl")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.MarkPromoted(ctx, model.CategorySpecies, "Unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	promoted := true
	rows, err := st.ListUsage(ctx, UsageFilter{Promoted: &promoted})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Promoted)
}

// --- Projects ---

func TestSQLite_Projects(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedProject(t, st, "R01-B")
	seedProject(t, st, "R01-A")
	require.NoError(t, st.UpsertProject(ctx, model.Project{GrantNumber: "R01-A", Title: "Renamed", Organization: "MIT"}))

	p, err := st.GetProject(ctx, "R01-A")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Renamed", p.Title)
	assert.Equal(t, "MIT", p.Organization)

	locked, err := st.LockProject(ctx, "R01-A")
	require.NoError(t, err)
	require.NotNil(t, locked)

	missing, err := st.GetProject(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := st.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "R01-A", all[0].GrantNumber)
}

func TestSQLite_Investigators(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedProject(t, st, "R01-A")

	require.NoError(t, st.UpsertInvestigator(ctx, model.Investigator{ID: "inv-1", Name: "Ada"}))
	require.NoError(t, st.UpsertInvestigator(ctx, model.Investigator{ID: "inv-1", Name: "Ada L.", Email: "ada@example.org"}))
	require.NoError(t, st.LinkInvestigator(ctx, model.ProjectInvestigator{GrantNumber: "R01-A", InvestigatorID: "inv-1"}))

	invs, err := st.ListInvestigators(ctx)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "Ada L.", invs[0].Name)

	links, err := st.ListProjectInvestigators(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, model.DefaultInvestigatorRole, links[0].Role)

	require.NoError(t, st.LinkInvestigator(ctx, model.ProjectInvestigator{GrantNumber: "R01-A", InvestigatorID: "inv-1", Role: "co_investigator"}))
	links, err = st.ListProjectInvestigators(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "co_investigator", links[0].Role)

	err = st.LinkInvestigator(ctx, model.ProjectInvestigator{GrantNumber: "R01-A", InvestigatorID: "ghost"})
	assert.Error(t, err, "foreign key enforced")
}

// --- Project metadata ---

func TestSQLite_ProjectFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedProject(t, st, "R01-A")
	seedProject(t, st, "R01-B")

	f, err := st.GetProjectField(ctx, "R01-A", "species")
	require.NoError(t, err)
	assert.Nil(t, f)

	require.NoError(t, st.PutProjectField(ctx, model.ProjectField{ProjectID: "R01-A", FieldName: "species", Value: model.List("Mouse")}))
	require.NoError(t, st.PutProjectField(ctx, model.ProjectField{ProjectID: "R01-A", FieldName: "species", Value: model.List("Mouse", "Rat")}))
	require.NoError(t, st.PutProjectField(ctx, model.ProjectField{ProjectID: "R01-A", FieldName: "title", Value: model.Text("Cortex")}))
	require.NoError(t, st.PutProjectField(ctx, model.ProjectField{ProjectID: "R01-B", FieldName: "protocol", Value: model.Object(map[string]any{"steps": float64(2)})}))

	f, err = st.GetProjectField(ctx, "R01-A", "species")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, model.List("Mouse", "Rat").Equal(f.Value))

	all, err := st.ListProjectFields(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := st.ListProjectFields(ctx, "species", "protocol")
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "R01-B", some[1].ProjectID)
	assert.Equal(t, model.KindObject, some[1].Value.Kind)

	err = st.PutProjectField(ctx, model.ProjectField{ProjectID: "missing", FieldName: "title", Value: model.Text("x")})
	assert.Error(t, err, "field of unknown project rejected")
}

// --- Provenance ---

func TestSQLite_Provenance_AppendAndQuery(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	old := model.List("Mouse")
	events := []model.ProvenanceEvent{
		{EntityID: "P1", FieldName: "species", NewValue: model.List("Mouse"), Actor: "user:1", CreatedAt: base},
		{EntityID: "P1", FieldName: "species", OldValue: &old, NewValue: model.List("Mouse", "Rat"), Actor: model.ActorAssistant, Context: "chat", CreatedAt: base.Add(time.Minute)},
		// Same timestamp as the previous event; id breaks the tie.
		{EntityID: "P1", FieldName: "title", NewValue: model.Text("Cortex"), Actor: "user:1", CreatedAt: base.Add(time.Minute)},
		{EntityID: "P2", FieldName: "species", NewValue: model.List("Rat"), Actor: "user:2", CreatedAt: base.Add(2 * time.Minute)},
	}
	var ids []int64
	for _, ev := range events {
		got, err := st.AppendProvenance(ctx, ev)
		require.NoError(t, err)
		ids = append(ids, got.ID)
	}
	assert.Less(t, ids[0], ids[1])

	all, err := st.QueryProvenance(ctx, model.ProvenanceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []int64{ids[3], ids[2], ids[1], ids[0]}, []int64{all[0].ID, all[1].ID, all[2].ID, all[3].ID})

	p1, err := st.QueryProvenance(ctx, model.ProvenanceFilter{EntityID: "P1", FieldName: "species"})
	require.NoError(t, err)
	require.Len(t, p1, 2)
	require.NotNil(t, p1[0].OldValue)
	assert.True(t, old.Equal(*p1[0].OldValue))
	assert.Nil(t, p1[1].OldValue)
	assert.Equal(t, "chat", p1[0].Context)

	byActor, err := st.QueryProvenance(ctx, model.ProvenanceFilter{Actor: model.ActorAssistant})
	require.NoError(t, err)
	assert.Len(t, byActor, 1)

	since := base.Add(time.Minute)
	recent, err := st.QueryProvenance(ctx, model.ProvenanceFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	asc, err := st.QueryProvenance(ctx, model.ProvenanceFilter{EntityID: "P1", Ascending: true})
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, ids[0], asc[0].ID)

	page, err := st.QueryProvenance(ctx, model.ProvenanceFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)

	n, err := st.CountProvenance(ctx, model.ProvenanceFilter{EntityID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	latest, err := st.LatestProvenance(ctx, "P1", "species")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, ids[1], latest.ID)

	none, err := st.LatestProvenance(ctx, "P9", "species")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLite_Provenance_AppendOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.AppendProvenance(ctx, model.ProvenanceEvent{EntityID: "P1", FieldName: "title", NewValue: model.Text("x"), Actor: "user:1"})
	require.NoError(t, err)

	_, err = st.db.ExecContext(ctx, `UPDATE provenance_events SET actor = 'someone else'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = st.db.ExecContext(ctx, `DELETE FROM provenance_events`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
}

// --- Transactions ---

func TestSQLite_InTx_RollsBackOnError(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedProject(t, st, "P1")

	boom := errors.New("boom")
	err := st.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.PutProjectField(ctx, model.ProjectField{ProjectID: "P1", FieldName: "title", Value: model.Text("x")}))
		_, err := tx.AppendProvenance(ctx, model.ProvenanceEvent{EntityID: "P1", FieldName: "title", NewValue: model.Text("x"), Actor: "user:1"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	f, err := st.GetProjectField(ctx, "P1", "title")
	require.NoError(t, err)
	assert.Nil(t, f)
	n, err := st.CountProvenance(ctx, model.ProvenanceFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_InTx_Commits(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.InTx(ctx, func(tx Tx) error {
		_, _, err := tx.InsertTerm(ctx, model.CanonicalTerm{Category: model.CategorySpecies, Value: "Axolotl", PromotedFromCustom: true})
		return err
	})
	require.NoError(t, err)

	term, err := st.GetTerm(ctx, model.CategorySpecies, "axolotl")
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.True(t, term.PromotedFromCustom)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
