package graph

import (
	"sort"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

// Neighbor is a node adjacent to a queried node.
type Neighbor struct {
	Node     model.GraphNode `json:"node"`
	Relation string          `json:"relation"`
	// Outgoing is true when the edge starts at the queried node.
	Outgoing bool `json:"outgoing"`
}

// SharedConnections returns the tag, species and investigator nodes that
// projectID shares with other projects, with those projects. Results are
// ranked by the number of other projects, then by node id. An unknown
// project or one without overlap yields an empty slice.
func SharedConnections(g *model.GraphData, projectID string) []model.SharedConnection {
	out := []model.SharedConnection{}
	if g == nil {
		return out
	}

	byID := indexNodes(g)
	self := ProjectNodeID(projectID)
	if n, ok := byID[self]; !ok || n.Type != model.NodeProject {
		return out
	}

	// node id -> projects pointing at it
	projectsOf := make(map[string]map[string]bool)
	for _, e := range g.Edges {
		src, ok := byID[e.Source]
		if !ok || src.Type != model.NodeProject {
			continue
		}
		if projectsOf[e.Target] == nil {
			projectsOf[e.Target] = make(map[string]bool)
		}
		projectsOf[e.Target][e.Source] = true
	}

	for target, projects := range projectsOf {
		if !projects[self] || len(projects) < 2 {
			continue
		}
		others := make([]string, 0, len(projects)-1)
		for p := range projects {
			if p != self {
				others = append(others, p)
			}
		}
		sort.Strings(others)

		sc := model.SharedConnection{
			Node:          byID[target],
			OtherProjects: make([]model.GraphNode, 0, len(others)),
		}
		for _, p := range others {
			sc.OtherProjects = append(sc.OtherProjects, byID[p])
		}
		out = append(out, sc)
	}

	sort.Slice(out, func(i, j int) bool {
		if len(out[i].OtherProjects) != len(out[j].OtherProjects) {
			return len(out[i].OtherProjects) > len(out[j].OtherProjects)
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	return out
}

// Neighbors returns every node one edge away from nodeID, in edge order.
// The second return value is false if nodeID is not in the graph.
func Neighbors(g *model.GraphData, nodeID string) ([]Neighbor, bool) {
	if g == nil {
		return nil, false
	}
	byID := indexNodes(g)
	if _, ok := byID[nodeID]; !ok {
		return nil, false
	}

	out := []Neighbor{}
	for _, e := range g.Edges {
		switch nodeID {
		case e.Source:
			out = append(out, Neighbor{Node: byID[e.Target], Relation: e.Relation, Outgoing: true})
		case e.Target:
			out = append(out, Neighbor{Node: byID[e.Source], Relation: e.Relation})
		}
	}
	return out, true
}

func indexNodes(g *model.GraphData) map[string]model.GraphNode {
	byID := make(map[string]model.GraphNode, len(g.Nodes))
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}
	return byID
}
