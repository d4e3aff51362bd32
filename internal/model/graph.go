package model

import "time"

// NodeType classifies graph nodes.
type NodeType string

// Graph node types.
const (
	NodeProject      NodeType = "project"
	NodeSpecies      NodeType = "species"
	NodeInvestigator NodeType = "investigator"
	NodeTag          NodeType = "tag"
)

// GraphNode is a vertex of the derived knowledge graph.
type GraphNode struct {
	ID       string            `json:"id"`
	Type     NodeType          `json:"type"`
	Label    string            `json:"label"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GraphEdge is a directed relation between two nodes.
type GraphEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// GraphData is a complete graph snapshot.
type GraphData struct {
	Nodes   []GraphNode `json:"nodes"`
	Edges   []GraphEdge `json:"edges"`
	BuiltAt time.Time   `json:"built_at"`
	// Stale is set when the snapshot was served after a failed rebuild.
	Stale bool `json:"stale,omitempty"`
}

// SharedConnection is a node shared between a project and other projects.
type SharedConnection struct {
	Node          GraphNode   `json:"shared_node"`
	OtherProjects []GraphNode `json:"other_projects"`
}
