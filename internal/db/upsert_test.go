package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "public.canonical_terms",
		Columns:      []string{"category", "value"},
		ConflictKeys: []string{"category"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "canonical_terms",
		ConflictKeys: []string{"category"},
	}, [][]any{{"species", "Mouse"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "canonical_terms",
		Columns: []string{"category", "value"},
	}, [][]any{{"species", "Mouse"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_DoNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"category", "value", "value_key"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_canonical_terms"}, cols).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("category", "value_key"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "canonical_terms",
		Columns:      cols,
		ConflictKeys: []string{"category", "value_key"},
		DoNothing:    true,
	}, [][]any{{"species", "Mouse", "mouse"}, {"species", "Rat", "rat"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"category", "value"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_canonical_terms"}, cols).WillReturnError(fmt.Errorf("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "canonical_terms",
		Columns:      cols,
		ConflictKeys: []string{"category"},
	}, [][]any{{"species", "Mouse"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildUpsertSQL(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "canonical_terms",
		Columns:      []string{"category", "value_key", "value"},
		ConflictKeys: []string{"category", "value_key"},
	}

	got := buildUpsertSQL(cfg, "_tmp", []string{"value"})
	assert.Equal(t,
		`INSERT INTO "canonical_terms" ("category", "value_key", "value") SELECT "category", "value_key", "value" FROM "_tmp" ON CONFLICT ("category", "value_key") DO UPDATE SET "value" = EXCLUDED."value"`,
		got)

	cfg.DoNothing = true
	got = buildUpsertSQL(cfg, "_tmp", []string{"value"})
	assert.Contains(t, got, "DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.canonical_terms", `"public"."canonical_terms"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
