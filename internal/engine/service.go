// Package engine ties normalization, usage tracking, promotion, provenance
// and the knowledge graph into the operations exposed by the CLI and API.
package engine

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/graph"
	"github.com/sells-group/taxonomy-cli/internal/metrics"
	"github.com/sells-group/taxonomy-cli/internal/model"
	"github.com/sells-group/taxonomy-cli/internal/promotion"
	"github.com/sells-group/taxonomy-cli/internal/provenance"
	"github.com/sells-group/taxonomy-cli/internal/resilience"
	"github.com/sells-group/taxonomy-cli/internal/store"
	"github.com/sells-group/taxonomy-cli/internal/taxonomy"
)

// Default input limits.
const (
	DefaultMaxValueLength = 512
	DefaultMaxTextLength  = 20000
)

// Config tunes the Service.
type Config struct {
	Thresholds         taxonomy.Thresholds
	PromotionThreshold int
	// MaxValueLength caps each vocabulary value and array element, in runes.
	MaxValueLength int
	// MaxTextLength caps free-text string fields, in runes.
	MaxTextLength int
	SnapshotTTL   time.Duration
	Retry         resilience.RetryConfig
	Fields        *model.FieldRegistry
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:         taxonomy.DefaultThresholds(),
		PromotionThreshold: promotion.DefaultThreshold,
		MaxValueLength:     DefaultMaxValueLength,
		MaxTextLength:      DefaultMaxTextLength,
		SnapshotTTL:        taxonomy.DefaultSnapshotTTL,
		Retry:              resilience.DefaultRetryConfig(),
		Fields:             model.DefaultFieldRegistry(),
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithGraphCache replaces the in-process graph cache.
func WithGraphCache(c graph.Cache) Option {
	return func(s *Service) { s.graphCache = c }
}

// WithExporter enables graph export to Neo4j.
func WithExporter(x *graph.Neo4jExporter) Option {
	return func(s *Service) { s.exporter = x }
}

// Service is the taxonomy engine.
type Service struct {
	store      store.Store
	fields     *model.FieldRegistry
	normalizer *taxonomy.Normalizer
	snapshots  *taxonomy.Cache
	promoter   *promotion.Engine
	tracker    *promotion.Tracker
	reader     *provenance.Reader
	graphCache graph.Cache
	graph      *graph.Provider
	exporter   *graph.Neo4jExporter
	retry      resilience.RetryConfig
	maxValue   int
	maxText    int
}

// New creates a Service over st.
func New(st store.Store, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Fields == nil {
		cfg.Fields = def.Fields
	}
	if cfg.MaxValueLength <= 0 {
		cfg.MaxValueLength = def.MaxValueLength
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}

	promoter := promotion.NewEngine(cfg.PromotionThreshold)
	s := &Service{
		store:      st,
		fields:     cfg.Fields,
		normalizer: taxonomy.NewNormalizer(cfg.Thresholds),
		snapshots:  taxonomy.NewCache(st, cfg.SnapshotTTL),
		promoter:   promoter,
		tracker:    promotion.NewTracker(promoter),
		reader:     provenance.NewReader(st),
		retry:      cfg.Retry,
		maxValue:   cfg.MaxValueLength,
		maxText:    cfg.MaxTextLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.graph = graph.NewProvider(graph.NewBuilder(st, cfg.Fields), s.graphCache)

	s.retry.ShouldRetry = store.IsConflict
	onRetry := resilience.RetryLogger("engine", "submit_metadata_edit")
	s.retry.OnRetry = func(attempt int, err error) {
		metrics.ConflictRetries.Inc()
		onRetry(attempt, err)
	}
	return s
}

// Fields returns the field registry.
func (s *Service) Fields() *model.FieldRegistry {
	return s.fields
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Taxonomy ---

func parseCategory(raw string) (model.Category, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	c, ok := model.ParseCategory(raw)
	if !ok {
		return "", invalid("category", "unknown category %q", raw)
	}
	return c, nil
}

// GetTaxonomy lists canonical terms, optionally restricted to one category.
func (s *Service) GetTaxonomy(ctx context.Context, category string) ([]model.CanonicalTerm, error) {
	c, err := parseCategory(category)
	if err != nil {
		return nil, err
	}
	terms, err := s.store.ListTerms(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "engine: get taxonomy")
	}
	if terms == nil {
		terms = []model.CanonicalTerm{}
	}
	return terms, nil
}

// AddCanonicalTerm adds a curated term. It reports false when the category
// already holds the folded value.
func (s *Service) AddCanonicalTerm(ctx context.Context, category, value string) (*model.CanonicalTerm, bool, error) {
	c, ok := model.ParseCategory(category)
	if !ok {
		return nil, false, invalid("category", "unknown category %q", category)
	}
	if err := s.checkValue("value", value); err != nil {
		return nil, false, err
	}

	term, inserted, err := s.store.InsertTerm(ctx, model.CanonicalTerm{Category: c, Value: value})
	if err != nil {
		return nil, false, eris.Wrap(err, "engine: add canonical term")
	}
	if inserted {
		s.snapshots.Invalidate()
	}
	return term, inserted, nil
}

// SeedTerms bulk-loads curated terms and returns how many were new.
func (s *Service) SeedTerms(ctx context.Context, terms []model.CanonicalTerm) (int64, error) {
	valid := make([]model.CanonicalTerm, 0, len(terms))
	for _, t := range terms {
		if !t.Category.Valid() {
			return 0, invalid("category", "unknown category %q", t.Category)
		}
		if err := s.checkValue("value", t.Value); err != nil {
			return 0, err
		}
		t.PromotedFromCustom = false
		valid = append(valid, t)
	}
	n, err := s.store.BulkInsertTerms(ctx, valid)
	if err != nil {
		return 0, eris.Wrap(err, "engine: seed terms")
	}
	s.snapshots.Invalidate()
	return n, nil
}

// Classify normalizes a value without recording anything.
func (s *Service) Classify(ctx context.Context, category, raw string) (*model.Classification, error) {
	c, ok := model.ParseCategory(category)
	if !ok {
		return nil, invalid("category", "unknown category %q", category)
	}
	if err := s.checkValue("value", raw); err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	cl, err := s.normalizer.Normalize(snap, c, raw)
	if err != nil {
		return nil, asValidation("value", err)
	}
	return &cl, nil
}

// GetCustomUsage lists usage rows.
func (s *Service) GetCustomUsage(ctx context.Context, filter store.UsageFilter) ([]model.CustomFieldUsage, error) {
	if filter.Category != "" {
		c, err := parseCategory(string(filter.Category))
		if err != nil {
			return nil, err
		}
		filter.Category = c
	}
	if filter.MinCount < 0 {
		return nil, invalid("min_count", "must not be negative")
	}
	rows, err := s.store.ListUsage(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "engine: get custom usage")
	}
	if rows == nil {
		rows = []model.CustomFieldUsage{}
	}
	return rows, nil
}

// --- Projects ---

// UpsertProject creates or updates a project.
func (s *Service) UpsertProject(ctx context.Context, p model.Project) error {
	p.GrantNumber = strings.TrimSpace(p.GrantNumber)
	if p.GrantNumber == "" {
		return invalid("grant_number", "is required")
	}
	if err := s.store.UpsertProject(ctx, p); err != nil {
		return eris.Wrap(err, "engine: upsert project")
	}
	s.graph.Invalidate(ctx)
	return nil
}

// ListProjects returns every project.
func (s *Service) ListProjects(ctx context.Context) ([]model.Project, error) {
	return s.store.ListProjects(ctx)
}

// UpsertInvestigator creates or updates an investigator.
func (s *Service) UpsertInvestigator(ctx context.Context, inv model.Investigator) error {
	inv.ID = strings.TrimSpace(inv.ID)
	if inv.ID == "" {
		return invalid("id", "is required")
	}
	if err := s.store.UpsertInvestigator(ctx, inv); err != nil {
		return eris.Wrap(err, "engine: upsert investigator")
	}
	s.graph.Invalidate(ctx)
	return nil
}

// LinkInvestigator attaches an investigator to a project.
func (s *Service) LinkInvestigator(ctx context.Context, link model.ProjectInvestigator) error {
	if link.GrantNumber == "" || link.InvestigatorID == "" {
		return invalid("link", "grant_number and investigator_id are required")
	}
	p, err := s.store.GetProject(ctx, link.GrantNumber)
	if err != nil {
		return eris.Wrap(err, "engine: link investigator")
	}
	if p == nil {
		return invalid("grant_number", "unknown project %q", link.GrantNumber)
	}
	if err := s.store.LinkInvestigator(ctx, link); err != nil {
		return eris.Wrap(err, "engine: link investigator")
	}
	s.graph.Invalidate(ctx)
	return nil
}

// --- Provenance ---

// GetProvenance returns one newest-first page of provenance events.
func (s *Service) GetProvenance(ctx context.Context, filter model.ProvenanceFilter, page, pageSize int) (*provenance.Page, error) {
	p, err := s.reader.Query(ctx, filter, page, pageSize)
	return p, asValidation("page", err)
}

// LatestValue returns the newest provenance event for a field, or nil.
func (s *Service) LatestValue(ctx context.Context, entityID, fieldName string) (*model.ProvenanceEvent, error) {
	ev, err := s.reader.Latest(ctx, entityID, fieldName)
	return ev, asValidation("entity_id", err)
}

// History returns every event for a field, oldest first.
func (s *Service) History(ctx context.Context, entityID, fieldName string) ([]model.ProvenanceEvent, error) {
	events, err := s.reader.History(ctx, entityID, fieldName)
	return events, asValidation("entity_id", err)
}

// --- Graph ---

// GetGraph returns the knowledge graph, rebuilding it if needed.
func (s *Service) GetGraph(ctx context.Context) (*model.GraphData, error) {
	g, err := s.graph.Graph(ctx)
	if err != nil {
		metrics.GraphBuilds.WithLabelValues("failed").Inc()
		return nil, err
	}
	if g.Stale {
		metrics.GraphBuilds.WithLabelValues("stale").Inc()
	} else {
		metrics.GraphBuilds.WithLabelValues("fresh").Inc()
	}
	metrics.GraphNodes.Set(float64(len(g.Nodes)))
	metrics.GraphEdges.Set(float64(len(g.Edges)))
	return g, nil
}

// GetSharedConnections returns the nodes a project shares with others.
func (s *Service) GetSharedConnections(ctx context.Context, projectID string) ([]model.SharedConnection, error) {
	g, err := s.GetGraph(ctx)
	if err != nil {
		return nil, err
	}
	return graph.SharedConnections(g, strings.TrimSpace(projectID)), nil
}

// Neighbors returns the one-hop neighbors of a node. The second return
// value is false when the node does not exist.
func (s *Service) Neighbors(ctx context.Context, nodeID string) ([]graph.Neighbor, bool, error) {
	g, err := s.GetGraph(ctx)
	if err != nil {
		return nil, false, err
	}
	n, ok := graph.Neighbors(g, nodeID)
	return n, ok, nil
}

// ExportGraph mirrors the current graph into Neo4j.
func (s *Service) ExportGraph(ctx context.Context) error {
	if s.exporter == nil {
		return eris.New("engine: neo4j export is not configured")
	}
	g, err := s.GetGraph(ctx)
	if err != nil {
		return err
	}
	return s.exporter.Export(ctx, g)
}

// --- Maintenance ---

// SweepPromotions promotes every eligible usage row.
func (s *Service) SweepPromotions(ctx context.Context) (*promotion.SweepResult, error) {
	res, err := s.promoter.Sweep(ctx, s.store)
	if res != nil && len(res.Promoted) > 0 {
		for _, t := range res.Promoted {
			metrics.Promotions.WithLabelValues(string(t.Category)).Inc()
		}
		s.snapshots.Invalidate()
	}
	return res, err
}

// Reconcile repairs promoted usage rows that lack a canonical term.
func (s *Service) Reconcile(ctx context.Context) (*promotion.ReconcileReport, error) {
	report, err := s.promoter.Reconcile(ctx, s.store)
	if report != nil {
		metrics.InconsistentPromotions.Add(float64(len(report.Repaired) + len(report.Orphaned)))
		if len(report.Repaired) > 0 {
			s.snapshots.Invalidate()
		}
	}
	return report, err
}

// checkValue rejects empty and oversized vocabulary values.
func (s *Service) checkValue(field, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return invalid(field, "value is empty")
	}
	if n := utf8.RuneCountInString(v); n > s.maxValue {
		return invalid(field, "value has %d characters, limit is %d", n, s.maxValue)
	}
	return nil
}

func (s *Service) log() *zap.Logger {
	return zap.L().With(zap.String("component", "engine"))
}
