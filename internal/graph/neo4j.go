package graph

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

// Neo4jConfig configures the optional graph export target.
type Neo4jConfig struct {
	URI      string        `yaml:"uri" mapstructure:"uri"`
	User     string        `yaml:"user" mapstructure:"user"`
	Password string        `yaml:"password" mapstructure:"password"`
	Database string        `yaml:"database" mapstructure:"database"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Neo4jExporter mirrors the derived graph into Neo4j.
type Neo4jExporter struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jExporter connects to Neo4j. It returns (nil, nil) when no URI is
// configured, so export stays optional.
func NewNeo4jExporter(ctx context.Context, cfg Neo4jConfig) (*Neo4jExporter, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, nil
	}
	user := cfg.User
	if user == "" {
		user = "neo4j"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, eris.Wrap(err, "graph: neo4j driver")
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, eris.Wrap(err, "graph: neo4j connectivity")
	}
	return &Neo4jExporter{driver: driver, database: cfg.Database}, nil
}

// ExportParams converts a graph into the UNWIND parameter lists used by
// Export.
func ExportParams(g *model.GraphData) (nodes, rels []map[string]any) {
	syncedAt := time.Now().UTC().Format(time.RFC3339Nano)
	nodes = make([]map[string]any, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		meta := "{}"
		if len(n.Metadata) > 0 {
			if b, err := json.Marshal(n.Metadata); err == nil {
				meta = string(b)
			}
		}
		nodes = append(nodes, map[string]any{
			"id":            n.ID,
			"type":          string(n.Type),
			"label":         n.Label,
			"metadata_json": meta,
			"synced_at":     syncedAt,
		})
	}
	rels = make([]map[string]any, 0, len(g.Edges))
	for _, e := range g.Edges {
		rels = append(rels, map[string]any{
			"source":   e.Source,
			"target":   e.Target,
			"relation": e.Relation,
		})
	}
	return nodes, rels
}

// Export merges every node and edge of g. Existing nodes are updated in
// place; nothing is deleted.
func (x *Neo4jExporter) Export(ctx context.Context, g *model.GraphData) error {
	if x == nil || g == nil {
		return nil
	}
	nodes, rels := ExportParams(g)

	session := x.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: x.database,
	})
	defer session.Close(ctx) //nolint:errcheck

	if res, err := session.Run(ctx,
		`CREATE CONSTRAINT taxonomy_graph_node_id IF NOT EXISTS FOR (n:GraphNode) REQUIRE n.id IS UNIQUE`, nil); err != nil {
		zap.L().Warn("neo4j constraint init failed (continuing)", zap.Error(err))
	} else {
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(nodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (g:GraphNode {id: n.id})
SET g += n
`, map[string]any{"nodes": nodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		if len(rels) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (a:GraphNode {id: r.source})
MATCH (b:GraphNode {id: r.target})
MERGE (a)-[e:RELATES {relation: r.relation}]->(b)
`, map[string]any{"rels": rels})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return eris.Wrap(err, "graph: neo4j export")
	}

	zap.L().Info("graph exported to neo4j", zap.Int("nodes", len(nodes)), zap.Int("edges", len(rels)))
	return nil
}

// Close shuts down the driver.
func (x *Neo4jExporter) Close(ctx context.Context) error {
	if x == nil || x.driver == nil {
		return nil
	}
	return x.driver.Close(ctx)
}
