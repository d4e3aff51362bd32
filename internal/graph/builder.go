// Package graph derives the project knowledge graph from relational state
// and answers discovery queries over it.
package graph

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

// Source is the relational state the graph is derived from.
type Source interface {
	ListProjects(ctx context.Context) ([]model.Project, error)
	ListInvestigators(ctx context.Context) ([]model.Investigator, error)
	ListProjectInvestigators(ctx context.Context) ([]model.ProjectInvestigator, error)
	ListProjectFields(ctx context.Context, fieldNames ...string) ([]model.ProjectField, error)
}

// Builder materializes GraphData from a Source.
type Builder struct {
	src    Source
	fields *model.FieldRegistry
}

// NewBuilder creates a Builder. Tag nodes are derived from every
// taxonomy-backed field in fields.
func NewBuilder(src Source, fields *model.FieldRegistry) *Builder {
	if fields == nil {
		fields = model.DefaultFieldRegistry()
	}
	return &Builder{src: src, fields: fields}
}

// ProjectNodeID returns the node id of a project.
func ProjectNodeID(grantNumber string) string {
	return "project:" + grantNumber
}

// InvestigatorNodeID returns the node id of an investigator.
func InvestigatorNodeID(id string) string {
	return "investigator:" + id
}

// TagNodeID returns the node id of a taxonomy value. Species values get
// their own node type; every other category is a tag.
func TagNodeID(category model.Category, value string) string {
	if category == model.CategorySpecies {
		return "species:" + model.Fold(value)
	}
	return "tag:" + string(category) + ":" + model.Fold(value)
}

type snapshot struct {
	projects      []model.Project
	investigators []model.Investigator
	links         []model.ProjectInvestigator
	fields        []model.ProjectField
}

func (b *Builder) load(ctx context.Context) (*snapshot, error) {
	var taxonomyFields []string
	for _, f := range b.fields.Fields {
		if f.Normalized() {
			taxonomyFields = append(taxonomyFields, f.Name)
		}
	}

	s := &snapshot{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		s.projects, err = b.src.ListProjects(gctx)
		return eris.Wrap(err, "graph: load projects")
	})
	g.Go(func() error {
		var err error
		s.investigators, err = b.src.ListInvestigators(gctx)
		return eris.Wrap(err, "graph: load investigators")
	})
	g.Go(func() error {
		var err error
		s.links, err = b.src.ListProjectInvestigators(gctx)
		return eris.Wrap(err, "graph: load investigator links")
	})
	g.Go(func() error {
		if len(taxonomyFields) == 0 {
			return nil
		}
		var err error
		s.fields, err = b.src.ListProjectFields(gctx, taxonomyFields...)
		return eris.Wrap(err, "graph: load project fields")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

// Build reads the relational state and returns the full graph. Nodes are
// sorted by id and edges by (source, target, relation), so equal state
// always yields an equal graph. Any read failure fails the whole build.
func (b *Builder) Build(ctx context.Context) (*model.GraphData, error) {
	start := time.Now()
	s, err := b.load(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]model.GraphNode)
	edges := make(map[model.GraphEdge]bool)

	projects := make(map[string]bool, len(s.projects))
	for _, p := range s.projects {
		projects[p.GrantNumber] = true
		meta := map[string]string{"grant_number": p.GrantNumber}
		if p.Organization != "" {
			meta["organization"] = p.Organization
		}
		label := p.Title
		if label == "" {
			label = p.GrantNumber
		}
		nodes[ProjectNodeID(p.GrantNumber)] = model.GraphNode{
			ID:       ProjectNodeID(p.GrantNumber),
			Type:     model.NodeProject,
			Label:    label,
			Metadata: meta,
		}
	}

	// Fields arrive ordered by project and field name, so the first label
	// seen for a folded value is stable.
	sort.SliceStable(s.fields, func(i, j int) bool {
		if s.fields[i].ProjectID != s.fields[j].ProjectID {
			return s.fields[i].ProjectID < s.fields[j].ProjectID
		}
		return s.fields[i].FieldName < s.fields[j].FieldName
	})
	for _, f := range s.fields {
		if !projects[f.ProjectID] {
			continue
		}
		spec := b.fields.ByName(f.FieldName)
		if spec == nil || !spec.Normalized() {
			continue
		}
		for _, v := range f.Value.Strings() {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			id := TagNodeID(spec.Category, v)
			if _, ok := nodes[id]; !ok {
				typ := model.NodeTag
				if spec.Category == model.CategorySpecies {
					typ = model.NodeSpecies
				}
				nodes[id] = model.GraphNode{
					ID:       id,
					Type:     typ,
					Label:    v,
					Metadata: map[string]string{"category": string(spec.Category)},
				}
			}
			edges[model.GraphEdge{
				Source:   ProjectNodeID(f.ProjectID),
				Target:   id,
				Relation: "has_" + string(spec.Category),
			}] = true
		}
	}

	investigators := make(map[string]bool, len(s.investigators))
	for _, inv := range s.investigators {
		investigators[inv.ID] = true
		meta := map[string]string{}
		if inv.Email != "" {
			meta["email"] = inv.Email
		}
		if inv.Organization != "" {
			meta["organization"] = inv.Organization
		}
		label := inv.Name
		if label == "" {
			label = inv.ID
		}
		nodes[InvestigatorNodeID(inv.ID)] = model.GraphNode{
			ID:       InvestigatorNodeID(inv.ID),
			Type:     model.NodeInvestigator,
			Label:    label,
			Metadata: meta,
		}
	}
	for _, l := range s.links {
		if !projects[l.GrantNumber] || !investigators[l.InvestigatorID] {
			continue
		}
		role := l.Role
		if role == "" {
			role = model.DefaultInvestigatorRole
		}
		edges[model.GraphEdge{
			Source:   ProjectNodeID(l.GrantNumber),
			Target:   InvestigatorNodeID(l.InvestigatorID),
			Relation: role,
		}] = true
	}

	g := &model.GraphData{
		Nodes:   make([]model.GraphNode, 0, len(nodes)),
		Edges:   make([]model.GraphEdge, 0, len(edges)),
		BuiltAt: time.Now().UTC(),
	}
	for _, n := range nodes {
		g.Nodes = append(g.Nodes, n)
	}
	for e := range edges {
		g.Edges = append(g.Edges, e)
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool { return edgeLess(g.Edges[i], g.Edges[j]) })

	zap.L().Debug("graph built",
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Edges)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return g, nil
}

func edgeLess(a, b model.GraphEdge) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.Target != b.Target {
		return a.Target < b.Target
	}
	return a.Relation < b.Relation
}
