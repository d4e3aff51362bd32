package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

// UsageObservation is one novel-value sighting handed to IncrementUsage.
type UsageObservation struct {
	Category model.Category
	RawValue string
	Closest  *string
	Distance *int
	SeenAt   time.Time
}

// UsageFilter specifies criteria for listing usage rows.
type UsageFilter struct {
	Category model.Category `json:"category,omitempty"`
	MinCount int            `json:"min_count,omitempty"`
	// Promoted restricts to promoted (true) or unpromoted (false) rows.
	Promoted *bool `json:"promoted,omitempty"`
	Limit    int   `json:"limit,omitempty"`
	Offset   int   `json:"offset,omitempty"`
}

// Tx holds the operations available inside and outside a transaction.
// Lookups that find nothing return (nil, nil).
type Tx interface {
	// Canonical vocabulary
	ListTerms(ctx context.Context, category model.Category) ([]model.CanonicalTerm, error)
	GetTerm(ctx context.Context, category model.Category, value string) (*model.CanonicalTerm, error)
	// InsertTerm adds a term unless the category already holds the same
	// folded value. It returns the stored term and whether it was inserted.
	InsertTerm(ctx context.Context, term model.CanonicalTerm) (*model.CanonicalTerm, bool, error)

	// Custom usage
	IncrementUsage(ctx context.Context, obs UsageObservation) (*model.CustomFieldUsage, error)
	GetUsage(ctx context.Context, category model.Category, value string) (*model.CustomFieldUsage, error)
	ListUsage(ctx context.Context, filter UsageFilter) ([]model.CustomFieldUsage, error)
	// MarkPromoted flips the promoted flag. It reports false when the row was
	// already promoted or does not exist.
	MarkPromoted(ctx context.Context, category model.Category, value string) (bool, error)

	// Projects and investigators
	UpsertProject(ctx context.Context, p model.Project) error
	GetProject(ctx context.Context, grantNumber string) (*model.Project, error)
	// LockProject reads a project and holds a row lock until the
	// transaction ends, serializing edits to the same project.
	LockProject(ctx context.Context, grantNumber string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	UpsertInvestigator(ctx context.Context, inv model.Investigator) error
	ListInvestigators(ctx context.Context) ([]model.Investigator, error)
	LinkInvestigator(ctx context.Context, link model.ProjectInvestigator) error
	ListProjectInvestigators(ctx context.Context) ([]model.ProjectInvestigator, error)

	// Project metadata
	GetProjectField(ctx context.Context, projectID, fieldName string) (*model.ProjectField, error)
	PutProjectField(ctx context.Context, f model.ProjectField) error
	// ListProjectFields returns fields of every project, optionally
	// restricted to the given field names.
	ListProjectFields(ctx context.Context, fieldNames ...string) ([]model.ProjectField, error)

	// Provenance
	AppendProvenance(ctx context.Context, ev model.ProvenanceEvent) (*model.ProvenanceEvent, error)
	QueryProvenance(ctx context.Context, filter model.ProvenanceFilter) ([]model.ProvenanceEvent, error)
	CountProvenance(ctx context.Context, filter model.ProvenanceFilter) (int, error)
	LatestProvenance(ctx context.Context, entityID, fieldName string) (*model.ProvenanceEvent, error)
}

// Store defines the persistence interface for the taxonomy engine.
type Store interface {
	Tx

	// InTx runs fn in a single transaction. fn's error rolls it back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// BulkInsertTerms seeds the vocabulary, skipping values already present.
	BulkInsertTerms(ctx context.Context, terms []model.CanonicalTerm) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// ErrConflict marks a write that lost a race with a concurrent transaction.
var ErrConflict = errors.New("store: write conflict")

// IsConflict reports whether err is a retryable serialization failure,
// deadlock or SQLite lock contention.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	// eris wrapping can hide the driver error, so fall back to the message.
	msg := err.Error()
	for _, p := range []string{
		"SQLSTATE 40001",
		"SQLSTATE 40P01",
		"database is locked",
		"database table is locked",
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// placeholder renders the n-th (1-based) bind parameter for a dialect.
type placeholder func(n int) string

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func question(int) string { return "?" }

// whereBuilder accumulates AND-ed conditions with dialect placeholders.
type whereBuilder struct {
	ph    placeholder
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", w.ph(len(w.args)), 1))
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *whereBuilder) page(limit, offset int) string {
	var out string
	if limit > 0 {
		w.args = append(w.args, limit)
		out += " LIMIT " + w.ph(len(w.args))
	}
	if offset > 0 {
		if limit <= 0 {
			// SQLite requires a LIMIT before OFFSET.
			out += " LIMIT -1"
		}
		w.args = append(w.args, offset)
		out += " OFFSET " + w.ph(len(w.args))
	}
	return out
}

func provenanceWhere(ph placeholder, f model.ProvenanceFilter) *whereBuilder {
	w := &whereBuilder{ph: ph}
	if f.EntityID != "" {
		w.add("entity_id = ?", f.EntityID)
	}
	if f.FieldName != "" {
		w.add("field_name = ?", f.FieldName)
	}
	if f.Actor != "" {
		w.add("actor = ?", f.Actor)
	}
	if f.Since != nil {
		w.add("created_at >= ?", f.Since.UTC())
	}
	if f.Until != nil {
		w.add("created_at < ?", f.Until.UTC())
	}
	return w
}

func provenanceOrder(f model.ProvenanceFilter) string {
	if f.Ascending {
		return " ORDER BY created_at ASC, id ASC"
	}
	return " ORDER BY created_at DESC, id DESC"
}

func usageWhere(ph placeholder, f UsageFilter) *whereBuilder {
	w := &whereBuilder{ph: ph}
	if f.Category != "" {
		w.add("category = ?", string(f.Category))
	}
	if f.MinCount > 0 {
		w.add("usage_count >= ?", f.MinCount)
	}
	if f.Promoted != nil {
		w.add("promoted = ?", *f.Promoted)
	}
	return w
}

// dedupeTerms drops terms whose folded value repeats within a category,
// keeping the first occurrence.
func dedupeTerms(terms []model.CanonicalTerm) []model.CanonicalTerm {
	seen := make(map[string]bool, len(terms))
	out := make([]model.CanonicalTerm, 0, len(terms))
	for _, t := range terms {
		key := string(t.Category) + "\x00" + model.Fold(t.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
