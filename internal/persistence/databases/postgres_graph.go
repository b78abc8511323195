package databases

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ragpipeline/internal/ragdata"
)

// pgGraph persists the temporal knowledge graph in Postgres: nodes keyed by
// (tenant, id), edges keyed by (tenant, source, type, target) with a
// [t_valid_start, t_valid_end) validity window (§4.7).
type pgGraph struct{ pool *pgxpool.Pool }

func NewPostgresGraph(pool *pgxpool.Pool) GraphStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS graph_nodes (
  tenant_id TEXT NOT NULL,
  id TEXT NOT NULL,
  type TEXT NOT NULL,
  summary TEXT NOT NULL DEFAULT '',
  provenance JSONB NOT NULL DEFAULT '{}'::jsonb,
  PRIMARY KEY (tenant_id, id)
);
`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS graph_edges (
  tenant_id TEXT NOT NULL,
  id TEXT NOT NULL,
  source_id TEXT NOT NULL,
  type TEXT NOT NULL,
  target_id TEXT NOT NULL,
  t_valid_start TIMESTAMPTZ NOT NULL,
  t_valid_end TIMESTAMPTZ NOT NULL,
  confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
  provenance JSONB NOT NULL DEFAULT '{}'::jsonb,
  PRIMARY KEY (tenant_id, id)
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS graph_edges_set ON graph_edges(tenant_id, source_id, type, target_id, t_valid_start)`)
	return &pgGraph{pool: pool}
}

func (g *pgGraph) UpsertNode(ctx context.Context, node ragdata.GraphNode) error {
	prov, _ := json.Marshal(node.Provenance)
	_, err := g.pool.Exec(ctx, `
INSERT INTO graph_nodes(tenant_id, id, type, summary, provenance) VALUES($1,$2,$3,$4,$5)
ON CONFLICT (tenant_id, id) DO UPDATE SET type=EXCLUDED.type, summary=EXCLUDED.summary, provenance=EXCLUDED.provenance
`, node.TenantID, node.ID, node.Type, node.Summary, prov)
	return err
}

func (g *pgGraph) GetNode(ctx context.Context, tenantID, id string) (ragdata.GraphNode, bool, error) {
	row := g.pool.QueryRow(ctx, `SELECT type, summary, provenance FROM graph_nodes WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	n := ragdata.GraphNode{TenantID: tenantID, ID: id}
	var prov []byte
	if err := row.Scan(&n.Type, &n.Summary, &prov); err != nil {
		return ragdata.GraphNode{}, false, nil
	}
	_ = json.Unmarshal(prov, &n.Provenance)
	return n, true, nil
}

func (g *pgGraph) EdgesFor(ctx context.Context, tenantID, source, typ, target string) ([]ragdata.GraphEdge, error) {
	rows, err := g.pool.Query(ctx, `
SELECT id, confidence, t_valid_start, t_valid_end, provenance
FROM graph_edges
WHERE tenant_id=$1 AND source_id=$2 AND type=$3 AND target_id=$4
ORDER BY t_valid_start ASC
`, tenantID, source, typ, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ragdata.GraphEdge
	for rows.Next() {
		e := ragdata.GraphEdge{TenantID: tenantID, SourceID: source, Type: typ, TargetID: target}
		var prov []byte
		if err := rows.Scan(&e.ID, &e.Confidence, &e.TValidStart, &e.TValidEnd, &prov); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(prov, &e.Provenance)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *pgGraph) PutEdge(ctx context.Context, edge ragdata.GraphEdge) error {
	prov, _ := json.Marshal(edge.Provenance)
	_, err := g.pool.Exec(ctx, `
INSERT INTO graph_edges(tenant_id, id, source_id, type, target_id, t_valid_start, t_valid_end, confidence, provenance)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (tenant_id, id) DO UPDATE SET
  t_valid_start=EXCLUDED.t_valid_start, t_valid_end=EXCLUDED.t_valid_end,
  confidence=EXCLUDED.confidence, provenance=EXCLUDED.provenance
`, edge.TenantID, edge.ID, edge.SourceID, edge.Type, edge.TargetID, edge.TValidStart, edge.TValidEnd, edge.Confidence, prov)
	return err
}

func (g *pgGraph) DeleteEdge(ctx context.Context, tenantID, edgeID string) error {
	_, err := g.pool.Exec(ctx, `DELETE FROM graph_edges WHERE tenant_id=$1 AND id=$2`, tenantID, edgeID)
	return err
}

func (g *pgGraph) QueryAt(ctx context.Context, tenantID, source, typ, target string, t time.Time) (ragdata.GraphEdge, bool, error) {
	row := g.pool.QueryRow(ctx, `
SELECT id, confidence, t_valid_start, t_valid_end, provenance
FROM graph_edges
WHERE tenant_id=$1 AND source_id=$2 AND type=$3 AND target_id=$4
  AND t_valid_start <= $5 AND t_valid_end > $5
LIMIT 1
`, tenantID, source, typ, target, t)
	e := ragdata.GraphEdge{TenantID: tenantID, SourceID: source, Type: typ, TargetID: target}
	var prov []byte
	if err := row.Scan(&e.ID, &e.Confidence, &e.TValidStart, &e.TValidEnd, &prov); err != nil {
		return ragdata.GraphEdge{}, false, nil
	}
	_ = json.Unmarshal(prov, &e.Provenance)
	return e, true, nil
}

func (g *pgGraph) Neighbors(ctx context.Context, tenantID, id, typ string, at time.Time) ([]string, error) {
	query := `
SELECT DISTINCT target_id FROM graph_edges
WHERE tenant_id=$1 AND source_id=$2 AND t_valid_start <= $3 AND t_valid_end > $3`
	args := []any{tenantID, id, at}
	if typ != "" {
		query += ` AND type=$4`
		args = append(args, typ)
	}
	query += ` ORDER BY target_id`

	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, rows.Err()
}

func (g *pgGraph) EdgesFromSource(ctx context.Context, tenantID, source string, at time.Time) ([]ragdata.GraphEdge, error) {
	rows, err := g.pool.Query(ctx, `
SELECT id, type, target_id, confidence, t_valid_start, t_valid_end, provenance
FROM graph_edges
WHERE tenant_id=$1 AND source_id=$2 AND t_valid_start <= $3 AND t_valid_end > $3
ORDER BY t_valid_start ASC
`, tenantID, source, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ragdata.GraphEdge
	for rows.Next() {
		e := ragdata.GraphEdge{TenantID: tenantID, SourceID: source}
		var prov []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.TargetID, &e.Confidence, &e.TValidStart, &e.TValidEnd, &prov); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(prov, &e.Provenance)
		out = append(out, e)
	}
	return out, rows.Err()
}
