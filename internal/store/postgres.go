package store

import (
	"context"
	"embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxonomy-cli/internal/db"
	"github.com/sells-group/taxonomy-cli/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID keys the advisory lock held while migrating.
const migrationLockID = 7305512

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	postgresOps
	pool    db.Pool
	closeFn func()
}

// pgQuerier is satisfied by db.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresOps struct {
	q pgQuerier
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := newPostgresStore(pool)
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{postgresOps: postgresOps{q: pool}, pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	err := db.Migrate(ctx, s.pool, db.MigrationSet{
		FS:     migrationFS,
		Dir:    "migrations",
		Table:  "schema_migrations",
		LockID: migrationLockID,
	})
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	if err := fn(&postgresOps{q: tx}); err != nil {
		tx.Rollback(ctx) //nolint:errcheck
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

func (s *PostgresStore) BulkInsertTerms(ctx context.Context, terms []model.CanonicalTerm) (int64, error) {
	terms = dedupeTerms(terms)
	now := time.Now().UTC()
	rows := make([][]any, 0, len(terms))
	for _, t := range terms {
		introduced := t.IntroducedAt
		if introduced.IsZero() {
			introduced = now
		}
		rows = append(rows, []any{
			string(t.Category), strings.TrimSpace(t.Value), model.Fold(t.Value), introduced.UTC(), t.PromotedFromCustom,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "canonical_terms",
		Columns:      []string{"category", "value", "value_key", "introduced_at", "promoted_from_custom"},
		ConflictKeys: []string{"category", "value_key"},
		DoNothing:    true,
	}, rows)
	return n, eris.Wrap(err, "postgres: bulk insert terms")
}

// --- Canonical vocabulary ---

const pgTermColumns = `version, category, value, introduced_at, promoted_from_custom`

func (o *postgresOps) ListTerms(ctx context.Context, category model.Category) ([]model.CanonicalTerm, error) {
	query := `SELECT ` + pgTermColumns + ` FROM canonical_terms`
	var args []any
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, string(category))
	}
	query += ` ORDER BY category, version`

	rows, err := o.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list terms")
	}
	defer rows.Close()

	var terms []model.CanonicalTerm
	for rows.Next() {
		t, err := scanPgTerm(rows)
		if err != nil {
			return nil, err
		}
		terms = append(terms, *t)
	}
	return terms, eris.Wrap(rows.Err(), "postgres: list terms")
}

func (o *postgresOps) GetTerm(ctx context.Context, category model.Category, value string) (*model.CanonicalTerm, error) {
	row := o.q.QueryRow(ctx,
		`SELECT `+pgTermColumns+` FROM canonical_terms WHERE category = $1 AND value_key = $2`,
		string(category), model.Fold(value),
	)
	t, err := scanPgTerm(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (o *postgresOps) InsertTerm(ctx context.Context, term model.CanonicalTerm) (*model.CanonicalTerm, bool, error) {
	if term.IntroducedAt.IsZero() {
		term.IntroducedAt = time.Now().UTC()
	}
	row := o.q.QueryRow(ctx,
		`INSERT INTO canonical_terms (category, value, value_key, introduced_at, promoted_from_custom)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (category, value_key) DO NOTHING
		 RETURNING `+pgTermColumns,
		string(term.Category), strings.TrimSpace(term.Value), model.Fold(term.Value),
		term.IntroducedAt.UTC(), term.PromotedFromCustom,
	)
	t, err := scanPgTerm(row)
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, eris.Wrapf(err, "postgres: insert term %s/%s", term.Category, term.Value)
	}

	// Conflict: the folded value is already in the vocabulary.
	existing, err := o.GetTerm(ctx, term.Category, term.Value)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, eris.Wrapf(ErrConflict, "postgres: term %s/%s vanished after conflict", term.Category, term.Value)
	}
	return existing, false, nil
}

// --- Custom usage ---

const pgUsageColumns = `category, raw_value, usage_count, closest_canonical, distance, promoted, first_seen, last_seen`

func (o *postgresOps) IncrementUsage(ctx context.Context, obs UsageObservation) (*model.CustomFieldUsage, error) {
	seen := obs.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	row := o.q.QueryRow(ctx,
		`INSERT INTO custom_field_usage
			(category, value_key, raw_value, usage_count, closest_canonical, distance, promoted, first_seen, last_seen)
		 VALUES ($1, $2, $3, 1, $4, $5, false, $6, $6)
		 ON CONFLICT (category, value_key) DO UPDATE SET
			usage_count = custom_field_usage.usage_count + 1,
			closest_canonical = EXCLUDED.closest_canonical,
			distance = EXCLUDED.distance,
			last_seen = EXCLUDED.last_seen
		 RETURNING `+pgUsageColumns,
		string(obs.Category), model.Fold(obs.RawValue), strings.TrimSpace(obs.RawValue),
		obs.Closest, obs.Distance, seen.UTC(),
	)
	u, err := scanPgUsage(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: increment usage %s/%s", obs.Category, obs.RawValue)
	}
	return u, nil
}

func (o *postgresOps) GetUsage(ctx context.Context, category model.Category, value string) (*model.CustomFieldUsage, error) {
	row := o.q.QueryRow(ctx,
		`SELECT `+pgUsageColumns+` FROM custom_field_usage WHERE category = $1 AND value_key = $2`,
		string(category), model.Fold(value),
	)
	u, err := scanPgUsage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (o *postgresOps) ListUsage(ctx context.Context, filter UsageFilter) ([]model.CustomFieldUsage, error) {
	w := usageWhere(dollar, filter)
	query := `SELECT ` + pgUsageColumns + ` FROM custom_field_usage` + w.sql() +
		` ORDER BY usage_count DESC, category, value_key` + w.page(filter.Limit, filter.Offset)

	rows, err := o.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list usage")
	}
	defer rows.Close()

	var out []model.CustomFieldUsage
	for rows.Next() {
		u, err := scanPgUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list usage")
}

func (o *postgresOps) MarkPromoted(ctx context.Context, category model.Category, value string) (bool, error) {
	tag, err := o.q.Exec(ctx,
		`UPDATE custom_field_usage SET promoted = true WHERE category = $1 AND value_key = $2 AND NOT promoted`,
		string(category), model.Fold(value),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark promoted %s/%s", category, value)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Projects and investigators ---

func (o *postgresOps) UpsertProject(ctx context.Context, p model.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := o.q.Exec(ctx,
		`INSERT INTO projects (grant_number, title, organization, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (grant_number) DO UPDATE SET title = EXCLUDED.title, organization = EXCLUDED.organization`,
		p.GrantNumber, p.Title, p.Organization, p.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert project %s", p.GrantNumber)
}

func (o *postgresOps) GetProject(ctx context.Context, grantNumber string) (*model.Project, error) {
	return o.getProject(ctx, grantNumber, "")
}

func (o *postgresOps) LockProject(ctx context.Context, grantNumber string) (*model.Project, error) {
	return o.getProject(ctx, grantNumber, " FOR UPDATE")
}

func (o *postgresOps) getProject(ctx context.Context, grantNumber, suffix string) (*model.Project, error) {
	var p model.Project
	err := o.q.QueryRow(ctx,
		`SELECT grant_number, title, organization, created_at FROM projects WHERE grant_number = $1`+suffix,
		grantNumber,
	).Scan(&p.GrantNumber, &p.Title, &p.Organization, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get project %s", grantNumber)
	}
	return &p, nil
}

func (o *postgresOps) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := o.q.Query(ctx,
		`SELECT grant_number, title, organization, created_at FROM projects ORDER BY grant_number`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.GrantNumber, &p.Title, &p.Organization, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list projects")
}

func (o *postgresOps) UpsertInvestigator(ctx context.Context, inv model.Investigator) error {
	_, err := o.q.Exec(ctx,
		`INSERT INTO investigators (id, name, email, organization) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, organization = EXCLUDED.organization`,
		inv.ID, inv.Name, inv.Email, inv.Organization,
	)
	return eris.Wrapf(err, "postgres: upsert investigator %s", inv.ID)
}

func (o *postgresOps) ListInvestigators(ctx context.Context) ([]model.Investigator, error) {
	rows, err := o.q.Query(ctx, `SELECT id, name, email, organization FROM investigators ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list investigators")
	}
	defer rows.Close()

	var out []model.Investigator
	for rows.Next() {
		var inv model.Investigator
		if err := rows.Scan(&inv.ID, &inv.Name, &inv.Email, &inv.Organization); err != nil {
			return nil, eris.Wrap(err, "postgres: scan investigator")
		}
		out = append(out, inv)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list investigators")
}

func (o *postgresOps) LinkInvestigator(ctx context.Context, link model.ProjectInvestigator) error {
	if link.Role == "" {
		link.Role = model.DefaultInvestigatorRole
	}
	_, err := o.q.Exec(ctx,
		`INSERT INTO project_investigators (grant_number, investigator_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (grant_number, investigator_id) DO UPDATE SET role = EXCLUDED.role`,
		link.GrantNumber, link.InvestigatorID, link.Role,
	)
	return eris.Wrapf(err, "postgres: link investigator %s to %s", link.InvestigatorID, link.GrantNumber)
}

func (o *postgresOps) ListProjectInvestigators(ctx context.Context) ([]model.ProjectInvestigator, error) {
	rows, err := o.q.Query(ctx,
		`SELECT grant_number, investigator_id, role FROM project_investigators ORDER BY grant_number, investigator_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list project investigators")
	}
	defer rows.Close()

	var out []model.ProjectInvestigator
	for rows.Next() {
		var l model.ProjectInvestigator
		if err := rows.Scan(&l.GrantNumber, &l.InvestigatorID, &l.Role); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project investigator")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list project investigators")
}

// --- Project metadata ---

func (o *postgresOps) GetProjectField(ctx context.Context, projectID, fieldName string) (*model.ProjectField, error) {
	row := o.q.QueryRow(ctx,
		`SELECT project_id, field_name, value, updated_at FROM project_fields WHERE project_id = $1 AND field_name = $2`,
		projectID, fieldName,
	)
	f, err := scanPgProjectField(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (o *postgresOps) PutProjectField(ctx context.Context, f model.ProjectField) error {
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now().UTC()
	}
	data, err := model.MarshalValue(&f.Value)
	if err != nil {
		return err
	}
	_, err = o.q.Exec(ctx,
		`INSERT INTO project_fields (project_id, field_name, value, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, field_name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		f.ProjectID, f.FieldName, data, f.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: put field %s/%s", f.ProjectID, f.FieldName)
}

func (o *postgresOps) ListProjectFields(ctx context.Context, fieldNames ...string) ([]model.ProjectField, error) {
	query := `SELECT project_id, field_name, value, updated_at FROM project_fields`
	var args []any
	if len(fieldNames) > 0 {
		query += ` WHERE field_name = ANY($1)`
		args = append(args, fieldNames)
	}
	query += ` ORDER BY project_id, field_name`

	rows, err := o.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list project fields")
	}
	defer rows.Close()

	var out []model.ProjectField
	for rows.Next() {
		f, err := scanPgProjectField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list project fields")
}

// --- Provenance ---

const pgProvenanceColumns = `id, entity_id, field_name, old_value, new_value, raw_value, actor, context, created_at`

func (o *postgresOps) AppendProvenance(ctx context.Context, ev model.ProvenanceEvent) (*model.ProvenanceEvent, error) {
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

	err = o.q.QueryRow(ctx,
		`INSERT INTO provenance_events (entity_id, field_name, old_value, new_value, raw_value, actor, context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		ev.EntityID, ev.FieldName, oldJSON, newJSON, rawJSON, ev.Actor, ev.Context, ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: append provenance %s/%s", ev.EntityID, ev.FieldName)
	}
	return &ev, nil
}

func (o *postgresOps) QueryProvenance(ctx context.Context, filter model.ProvenanceFilter) ([]model.ProvenanceEvent, error) {
	w := provenanceWhere(dollar, filter)
	query := `SELECT ` + pgProvenanceColumns + ` FROM provenance_events` + w.sql() +
		provenanceOrder(filter) + w.page(filter.Limit, filter.Offset)

	rows, err := o.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query provenance")
	}
	defer rows.Close()

	var out []model.ProvenanceEvent
	for rows.Next() {
		ev, err := scanPgProvenance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query provenance")
}

func (o *postgresOps) CountProvenance(ctx context.Context, filter model.ProvenanceFilter) (int, error) {
	w := provenanceWhere(dollar, filter)
	var n int
	err := o.q.QueryRow(ctx, `SELECT COUNT(*) FROM provenance_events`+w.sql(), w.args...).Scan(&n)
	return n, eris.Wrap(err, "postgres: count provenance")
}

func (o *postgresOps) LatestProvenance(ctx context.Context, entityID, fieldName string) (*model.ProvenanceEvent, error) {
	row := o.q.QueryRow(ctx,
		`SELECT `+pgProvenanceColumns+` FROM provenance_events
		 WHERE entity_id = $1 AND field_name = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		entityID, fieldName,
	)
	ev, err := scanPgProvenance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return ev, err
}

// --- scanning helpers ---

func scanPgTerm(row pgx.Row) (*model.CanonicalTerm, error) {
	var t model.CanonicalTerm
	var category string
	if err := row.Scan(&t.Version, &category, &t.Value, &t.IntroducedAt, &t.PromotedFromCustom); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan term")
	}
	t.Category = model.Category(category)
	return &t, nil
}

func scanPgUsage(row pgx.Row) (*model.CustomFieldUsage, error) {
	var u model.CustomFieldUsage
	var category string
	if err := row.Scan(&category, &u.RawValue, &u.UsageCount, &u.ClosestCanonical, &u.Distance,
		&u.Promoted, &u.FirstSeen, &u.LastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan usage")
	}
	u.Category = model.Category(category)
	return &u, nil
}

func scanPgProjectField(row pgx.Row) (*model.ProjectField, error) {
	var f model.ProjectField
	var data []byte
	if err := row.Scan(&f.ProjectID, &f.FieldName, &data, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan project field")
	}
	v, err := model.UnmarshalValue(data)
	if err != nil {
		return nil, err
	}
	if v != nil {
		f.Value = *v
	}
	return &f, nil
}

func scanPgProvenance(row pgx.Row) (*model.ProvenanceEvent, error) {
	var ev model.ProvenanceEvent
	var oldJSON, newJSON, rawJSON []byte
	if err := row.Scan(&ev.ID, &ev.EntityID, &ev.FieldName, &oldJSON, &newJSON, &rawJSON,
		&ev.Actor, &ev.Context, &ev.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan provenance")
	}

	var err error
	if ev.OldValue, err = model.UnmarshalValue(oldJSON); err != nil {
		return nil, err
	}
	if ev.RawValue, err = model.UnmarshalValue(rawJSON); err != nil {
		return nil, err
	}
	nv, err := model.UnmarshalValue(newJSON)
	if err != nil {
		return nil, err
	}
	if nv != nil {
		ev.NewValue = *nv
	}
	return &ev, nil
}
