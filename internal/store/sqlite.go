package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Writes are
// serialized over a single connection.
type SQLiteStore struct {
	sqliteOps
	db *sql.DB
}

// sqliteQuerier is satisfied by *sql.DB and *sql.Tx.
type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteOps struct {
	q sqliteQuerier
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{sqliteOps: sqliteOps{q: db}, db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS canonical_terms (
	version              INTEGER PRIMARY KEY AUTOINCREMENT,
	category             TEXT NOT NULL,
	value                TEXT NOT NULL,
	value_key            TEXT NOT NULL,
	introduced_at        DATETIME NOT NULL,
	promoted_from_custom INTEGER NOT NULL DEFAULT 0,
	UNIQUE (category, value_key)
);

CREATE TABLE IF NOT EXISTS custom_field_usage (
	category          TEXT NOT NULL,
	value_key         TEXT NOT NULL,
	raw_value         TEXT NOT NULL,
	usage_count       INTEGER NOT NULL DEFAULT 1 CHECK (usage_count >= 1),
	closest_canonical TEXT,
	distance          INTEGER,
	promoted          INTEGER NOT NULL DEFAULT 0,
	first_seen        DATETIME NOT NULL,
	last_seen         DATETIME NOT NULL,
	PRIMARY KEY (category, value_key)
);

CREATE TABLE IF NOT EXISTS projects (
	grant_number TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	organization TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS investigators (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	email        TEXT NOT NULL DEFAULT '',
	organization TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS project_investigators (
	grant_number    TEXT NOT NULL REFERENCES projects(grant_number),
	investigator_id TEXT NOT NULL REFERENCES investigators(id),
	role            TEXT NOT NULL DEFAULT 'investigator',
	PRIMARY KEY (grant_number, investigator_id)
);

CREATE TABLE IF NOT EXISTS project_fields (
	project_id TEXT NOT NULL REFERENCES projects(grant_number),
	field_name TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (project_id, field_name)
);

CREATE TABLE IF NOT EXISTS provenance_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id  TEXT NOT NULL,
	field_name TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT NOT NULL,
	raw_value  TEXT,
	actor      TEXT NOT NULL,
	context    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_count ON custom_field_usage(usage_count);
CREATE INDEX IF NOT EXISTS idx_provenance_entity_field ON provenance_events(entity_id, field_name, created_at);
CREATE INDEX IF NOT EXISTS idx_provenance_actor ON provenance_events(actor);
CREATE INDEX IF NOT EXISTS idx_provenance_created ON provenance_events(created_at);

CREATE TRIGGER IF NOT EXISTS provenance_events_no_update
BEFORE UPDATE ON provenance_events
BEGIN
	SELECT RAISE(ABORT, 'provenance_events is append-only');
END;

CREATE TRIGGER IF NOT EXISTS provenance_events_no_delete
BEFORE DELETE ON provenance_events
BEGIN
	SELECT RAISE(ABORT, 'provenance_events is append-only');
END;
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(&sqliteOps{q: tx}); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) BulkInsertTerms(ctx context.Context, terms []model.CanonicalTerm) (int64, error) {
	var n int64
	err := s.InTx(ctx, func(tx Tx) error {
		for _, t := range dedupeTerms(terms) {
			_, inserted, err := tx.InsertTerm(ctx, t)
			if err != nil {
				return err
			}
			if inserted {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// --- Canonical vocabulary ---

const sqliteTermColumns = `version, category, value, introduced_at, promoted_from_custom`

func (o *sqliteOps) ListTerms(ctx context.Context, category model.Category) ([]model.CanonicalTerm, error) {
	query := `SELECT ` + sqliteTermColumns + ` FROM canonical_terms`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY category, version`

	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list terms")
	}
	defer rows.Close() //nolint:errcheck

	var terms []model.CanonicalTerm
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		terms = append(terms, *t)
	}
	return terms, eris.Wrap(rows.Err(), "sqlite: list terms")
}

func (o *sqliteOps) GetTerm(ctx context.Context, category model.Category, value string) (*model.CanonicalTerm, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT `+sqliteTermColumns+` FROM canonical_terms WHERE category = ? AND value_key = ?`,
		string(category), model.Fold(value),
	)
	t, err := scanTerm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (o *sqliteOps) InsertTerm(ctx context.Context, term model.CanonicalTerm) (*model.CanonicalTerm, bool, error) {
	if term.IntroducedAt.IsZero() {
		term.IntroducedAt = time.Now().UTC()
	}
	res, err := o.q.ExecContext(ctx,
		`INSERT INTO canonical_terms (category, value, value_key, introduced_at, promoted_from_custom)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (category, value_key) DO NOTHING`,
		string(term.Category), strings.TrimSpace(term.Value), model.Fold(term.Value),
		term.IntroducedAt.UTC(), term.PromotedFromCustom,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert term %s/%s", term.Category, term.Value)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert term rows affected")
	}

	stored, err := o.GetTerm(ctx, term.Category, term.Value)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, eris.Errorf("sqlite: term %s/%s missing after insert", term.Category, term.Value)
	}
	return stored, n > 0, nil
}

// --- Custom usage ---

const sqliteUsageColumns = `category, raw_value, usage_count, closest_canonical, distance, promoted, first_seen, last_seen`

func (o *sqliteOps) IncrementUsage(ctx context.Context, obs UsageObservation) (*model.CustomFieldUsage, error) {
	seen := obs.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	seen = seen.UTC()

	_, err := o.q.ExecContext(ctx,
		`INSERT INTO custom_field_usage
			(category, value_key, raw_value, usage_count, closest_canonical, distance, promoted, first_seen, last_seen)
		 VALUES (?, ?, ?, 1, ?, ?, 0, ?, ?)
		 ON CONFLICT (category, value_key) DO UPDATE SET
			usage_count = custom_field_usage.usage_count + 1,
			closest_canonical = excluded.closest_canonical,
			distance = excluded.distance,
			last_seen = excluded.last_seen`,
		string(obs.Category), model.Fold(obs.RawValue), strings.TrimSpace(obs.RawValue),
		nullString(obs.Closest), nullInt(obs.Distance), seen, seen,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: increment usage %s/%s", obs.Category, obs.RawValue)
	}

	u, err := o.GetUsage(ctx, obs.Category, obs.RawValue)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, eris.Errorf("sqlite: usage %s/%s missing after upsert", obs.Category, obs.RawValue)
	}
	return u, nil
}

func (o *sqliteOps) GetUsage(ctx context.Context, category model.Category, value string) (*model.CustomFieldUsage, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT `+sqliteUsageColumns+` FROM custom_field_usage WHERE category = ? AND value_key = ?`,
		string(category), model.Fold(value),
	)
	u, err := scanUsage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (o *sqliteOps) ListUsage(ctx context.Context, filter UsageFilter) ([]model.CustomFieldUsage, error) {
	w := usageWhere(question, filter)
	query := `SELECT ` + sqliteUsageColumns + ` FROM custom_field_usage` + w.sql() +
		` ORDER BY usage_count DESC, category, value_key` + w.page(filter.Limit, filter.Offset)

	rows, err := o.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list usage")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CustomFieldUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list usage")
}

func (o *sqliteOps) MarkPromoted(ctx context.Context, category model.Category, value string) (bool, error) {
	res, err := o.q.ExecContext(ctx,
		`UPDATE custom_field_usage SET promoted = 1 WHERE category = ? AND value_key = ? AND promoted = 0`,
		string(category), model.Fold(value),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark promoted %s/%s", category, value)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: mark promoted rows affected")
	}
	return n > 0, nil
}

// --- Projects and investigators ---

func (o *sqliteOps) UpsertProject(ctx context.Context, p model.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO projects (grant_number, title, organization, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (grant_number) DO UPDATE SET title = excluded.title, organization = excluded.organization`,
		p.GrantNumber, p.Title, p.Organization, p.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert project %s", p.GrantNumber)
}

func (o *sqliteOps) GetProject(ctx context.Context, grantNumber string) (*model.Project, error) {
	var p model.Project
	err := o.q.QueryRowContext(ctx,
		`SELECT grant_number, title, organization, created_at FROM projects WHERE grant_number = ?`,
		grantNumber,
	).Scan(&p.GrantNumber, &p.Title, &p.Organization, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get project %s", grantNumber)
	}
	return &p, nil
}

// LockProject is a plain read; the single connection already serializes writers.
func (o *sqliteOps) LockProject(ctx context.Context, grantNumber string) (*model.Project, error) {
	return o.GetProject(ctx, grantNumber)
}

func (o *sqliteOps) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT grant_number, title, organization, created_at FROM projects ORDER BY grant_number`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.GrantNumber, &p.Title, &p.Organization, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list projects")
}

func (o *sqliteOps) UpsertInvestigator(ctx context.Context, inv model.Investigator) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO investigators (id, name, email, organization) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email, organization = excluded.organization`,
		inv.ID, inv.Name, inv.Email, inv.Organization,
	)
	return eris.Wrapf(err, "sqlite: upsert investigator %s", inv.ID)
}

func (o *sqliteOps) ListInvestigators(ctx context.Context) ([]model.Investigator, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT id, name, email, organization FROM investigators ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list investigators")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Investigator
	for rows.Next() {
		var inv model.Investigator
		if err := rows.Scan(&inv.ID, &inv.Name, &inv.Email, &inv.Organization); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan investigator")
		}
		out = append(out, inv)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list investigators")
}

func (o *sqliteOps) LinkInvestigator(ctx context.Context, link model.ProjectInvestigator) error {
	if link.Role == "" {
		link.Role = model.DefaultInvestigatorRole
	}
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO project_investigators (grant_number, investigator_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (grant_number, investigator_id) DO UPDATE SET role = excluded.role`,
		link.GrantNumber, link.InvestigatorID, link.Role,
	)
	return eris.Wrapf(err, "sqlite: link investigator %s to %s", link.InvestigatorID, link.GrantNumber)
}

func (o *sqliteOps) ListProjectInvestigators(ctx context.Context) ([]model.ProjectInvestigator, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT grant_number, investigator_id, role FROM project_investigators ORDER BY grant_number, investigator_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list project investigators")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ProjectInvestigator
	for rows.Next() {
		var l model.ProjectInvestigator
		if err := rows.Scan(&l.GrantNumber, &l.InvestigatorID, &l.Role); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project investigator")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list project investigators")
}

// --- Project metadata ---

func (o *sqliteOps) GetProjectField(ctx context.Context, projectID, fieldName string) (*model.ProjectField, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT project_id, field_name, value, updated_at FROM project_fields WHERE project_id = ? AND field_name = ?`,
		projectID, fieldName,
	)
	f, err := scanProjectField(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (o *sqliteOps) PutProjectField(ctx context.Context, f model.ProjectField) error {
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now().UTC()
	}
	data, err := model.MarshalValue(&f.Value)
	if err != nil {
		return err
	}
	_, err = o.q.ExecContext(ctx,
		`INSERT INTO project_fields (project_id, field_name, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (project_id, field_name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		f.ProjectID, f.FieldName, string(data), f.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put field %s/%s", f.ProjectID, f.FieldName)
}

func (o *sqliteOps) ListProjectFields(ctx context.Context, fieldNames ...string) ([]model.ProjectField, error) {
	query := `SELECT project_id, field_name, value, updated_at FROM project_fields`
	args := make([]any, 0, len(fieldNames))
	if len(fieldNames) > 0 {
		query += ` WHERE field_name IN (?` + strings.Repeat(`, ?`, len(fieldNames)-1) + `)`
		for _, n := range fieldNames {
			args = append(args, n)
		}
	}
	query += ` ORDER BY project_id, field_name`

	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list project fields")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ProjectField
	for rows.Next() {
		f, err := scanProjectField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list project fields")
}

// --- Provenance ---

const sqliteProvenanceColumns = `id, entity_id, field_name, old_value, new_value, raw_value, actor, context, created_at`

func (o *sqliteOps) AppendProvenance(ctx context.Context, ev model.ProvenanceEvent) (*model.ProvenanceEvent, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC()

	oldJSON, err := model.MarshalValue(ev.OldValue)
	if err != nil {
		return nil, err
	}
	newJSON, err := model.MarshalValue(&ev.NewValue)
	if err != nil {
		return nil, err
	}
	rawJSON, err := model.MarshalValue(ev.RawValue)
	if err != nil {
		return nil, err
	}

	res, err := o.q.ExecContext(ctx,
		`INSERT INTO provenance_events (entity_id, field_name, old_value, new_value, raw_value, actor, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EntityID, ev.FieldName, nullBytes(oldJSON), string(newJSON), nullBytes(rawJSON),
		ev.Actor, ev.Context, ev.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: append provenance %s/%s", ev.EntityID, ev.FieldName)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: provenance last insert id")
	}
	ev.ID = id
	return &ev, nil
}

func (o *sqliteOps) QueryProvenance(ctx context.Context, filter model.ProvenanceFilter) ([]model.ProvenanceEvent, error) {
	w := provenanceWhere(question, filter)
	query := `SELECT ` + sqliteProvenanceColumns + ` FROM provenance_events` + w.sql() +
		provenanceOrder(filter) + w.page(filter.Limit, filter.Offset)

	rows, err := o.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query provenance")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ProvenanceEvent
	for rows.Next() {
		ev, err := scanProvenance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query provenance")
}

func (o *sqliteOps) CountProvenance(ctx context.Context, filter model.ProvenanceFilter) (int, error) {
	w := provenanceWhere(question, filter)
	var n int
	err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM provenance_events`+w.sql(), w.args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count provenance")
}

func (o *sqliteOps) LatestProvenance(ctx context.Context, entityID, fieldName string) (*model.ProvenanceEvent, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT `+sqliteProvenanceColumns+` FROM provenance_events
		 WHERE entity_id = ? AND field_name = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		entityID, fieldName,
	)
	ev, err := scanProvenance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ev, err
}

// --- scanning helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanTerm(row scannable) (*model.CanonicalTerm, error) {
	var t model.CanonicalTerm
	var category string
	if err := row.Scan(&t.Version, &category, &t.Value, &t.IntroducedAt, &t.PromotedFromCustom); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan term")
	}
	t.Category = model.Category(category)
	return &t, nil
}

func scanUsage(row scannable) (*model.CustomFieldUsage, error) {
	var u model.CustomFieldUsage
	var category string
	var closest sql.NullString
	var distance sql.NullInt64
	if err := row.Scan(&category, &u.RawValue, &u.UsageCount, &closest, &distance,
		&u.Promoted, &u.FirstSeen, &u.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan usage")
	}
	u.Category = model.Category(category)
	if closest.Valid {
		u.ClosestCanonical = &closest.String
	}
	if distance.Valid {
		d := int(distance.Int64)
		u.Distance = &d
	}
	return &u, nil
}

func scanProjectField(row scannable) (*model.ProjectField, error) {
	var f model.ProjectField
	var data string
	if err := row.Scan(&f.ProjectID, &f.FieldName, &data, &f.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan project field")
	}
	v, err := model.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, err
	}
	if v != nil {
		f.Value = *v
	}
	return &f, nil
}

func scanProvenance(row scannable) (*model.ProvenanceEvent, error) {
	var ev model.ProvenanceEvent
	var oldJSON, rawJSON sql.NullString
	var newJSON string
	if err := row.Scan(&ev.ID, &ev.EntityID, &ev.FieldName, &oldJSON, &newJSON, &rawJSON,
		&ev.Actor, &ev.Context, &ev.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan provenance")
	}

	var err error
	if ev.OldValue, err = model.UnmarshalValue([]byte(oldJSON.String)); err != nil {
		return nil, err
	}
	if ev.RawValue, err = model.UnmarshalValue([]byte(rawJSON.String)); err != nil {
		return nil, err
	}
	nv, err := model.UnmarshalValue([]byte(newJSON))
	if err != nil {
		return nil, err
	}
	if nv != nil {
		ev.NewValue = *nv
	}
	return &ev, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
