package ingest

import (
	"context"
	"io"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/taxonomy-cli/internal/engine"
	"github.com/sells-group/taxonomy-cli/internal/model"
)

// Consortium is the YAML format for bulk-loading projects.
type Consortium struct {
	Investigators []model.Investigator `yaml:"investigators"`
	Projects      []ProjectEntry       `yaml:"projects"`
}

// ProjectEntry is one project with its team and metadata fields.
type ProjectEntry struct {
	model.Project `yaml:",inline"`

	Investigators []MemberEntry  `yaml:"investigators"`
	Fields        map[string]any `yaml:"fields"`
}

// MemberEntry links an investigator to the enclosing project.
type MemberEntry struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
}

// ParseConsortium decodes a consortium YAML document.
func ParseConsortium(r io.Reader) (*Consortium, error) {
	var c Consortium
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "ingest: decode consortium yaml")
	}
	return &c, nil
}

// ReadConsortiumFile decodes a consortium YAML file.
func ReadConsortiumFile(path string) (*Consortium, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open consortium file")
	}
	defer f.Close() //nolint:errcheck
	return ParseConsortium(f)
}

// Target is the part of the engine the loader writes through.
type Target interface {
	UpsertInvestigator(ctx context.Context, inv model.Investigator) error
	UpsertProject(ctx context.Context, p model.Project) error
	LinkInvestigator(ctx context.Context, link model.ProjectInvestigator) error
	SubmitMetadataEdit(ctx context.Context, req engine.EditRequest) (*engine.EditResult, error)
}

// LoadResult summarizes a consortium load.
type LoadResult struct {
	Investigators int                   `json:"investigators"`
	Projects      int                   `json:"projects"`
	Links         int                   `json:"links"`
	Fields        int                   `json:"fields"`
	Promoted      []model.CanonicalTerm `json:"promoted,omitempty"`
}

// Loader writes consortium data through the engine so that field values are
// normalized, tracked and recorded like any other edit.
type Loader struct {
	target      Target
	actor       string
	concurrency int
}

// NewLoader creates a Loader. Edits are attributed to actor, or to the
// import agent when actor is empty.
func NewLoader(target Target, actor string, concurrency int) *Loader {
	if actor == "" {
		actor = model.ActorImporter
	}
	if concurrency < 1 {
		concurrency = 4
	}
	return &Loader{target: target, actor: actor, concurrency: concurrency}
}

// Load upserts investigators first, then projects in parallel. Each
// project's links and fields are written in field-name order.
func (l *Loader) Load(ctx context.Context, c *Consortium) (*LoadResult, error) {
	res := &LoadResult{}
	for _, inv := range c.Investigators {
		if err := l.target.UpsertInvestigator(ctx, inv); err != nil {
			return res, eris.Wrapf(err, "ingest: investigator %q", inv.ID)
		}
		res.Investigators++
	}

	results := make([]LoadResult, len(c.Projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i := range c.Projects {
		entry := c.Projects[i]
		g.Go(func() error {
			r, err := l.loadProject(gctx, entry)
			if err != nil {
				return eris.Wrapf(err, "ingest: project %q", entry.GrantNumber)
			}
			results[i] = *r
			return nil
		})
	}
	err := g.Wait()

	for _, r := range results {
		res.Projects += r.Projects
		res.Links += r.Links
		res.Fields += r.Fields
		res.Promoted = append(res.Promoted, r.Promoted...)
	}
	zap.L().Info("consortium loaded",
		zap.Int("investigators", res.Investigators),
		zap.Int("projects", res.Projects),
		zap.Int("fields", res.Fields),
		zap.Int("promoted", len(res.Promoted)),
	)
	return res, err
}

func (l *Loader) loadProject(ctx context.Context, entry ProjectEntry) (*LoadResult, error) {
	res := &LoadResult{}
	if err := l.target.UpsertProject(ctx, entry.Project); err != nil {
		return nil, err
	}
	res.Projects++

	for _, m := range entry.Investigators {
		link := model.ProjectInvestigator{GrantNumber: entry.GrantNumber, InvestigatorID: m.ID, Role: m.Role}
		if err := l.target.LinkInvestigator(ctx, link); err != nil {
			return nil, eris.Wrapf(err, "link %q", m.ID)
		}
		res.Links++
	}

	names := make([]string, 0, len(entry.Fields))
	for name := range entry.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := model.FromAny(entry.Fields[name])
		if err != nil {
			return nil, eris.Wrapf(err, "field %q", name)
		}
		out, err := l.target.SubmitMetadataEdit(ctx, engine.EditRequest{
			EntityID:  entry.GrantNumber,
			FieldName: name,
			Value:     v,
			Actor:     l.actor,
			Context:   "consortium import",
		})
		if err != nil {
			return nil, eris.Wrapf(err, "field %q", name)
		}
		res.Fields++
		res.Promoted = append(res.Promoted, out.Promoted...)
	}
	return res, nil
}
