package retrieve

import (
	"context"
	"fmt"
	"time"

	"ragpipeline/internal/persistence/databases"
)

// EntityLinker resolves mentions in a query string to graph node IDs.
// An opaque capability (§9): implementers inject an NLP/LLM-backed
// linker behind this contract.
type EntityLinker interface {
	LinkEntities(ctx context.Context, tenantID, query string) ([]string, error)
}

// expandGraph links query entities and walks their 1-2 hop neighborhood,
// returning pseudo-chunk items (flagged type=edge) describing the edges
// traversed (§4.8 graph-augmented variant).
func expandGraph(ctx context.Context, graph databases.GraphStore, linker EntityLinker, tenantID, query string, at time.Time) ([]fused, error) {
	if graph == nil || linker == nil {
		return nil, nil
	}
	seeds, err := linker.LinkEntities(ctx, tenantID, query)
	if err != nil {
		return nil, err
	}

	var out []fused
	seen := make(map[string]bool)

	hop1 := make(map[string]bool)
	for _, seed := range seeds {
		neighbors, err := graph.Neighbors(ctx, tenantID, seed, "", at)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			hop1[n] = true
		}
		appendEdgePseudoChunks(ctx, graph, tenantID, seed, at, &out, seen)
	}

	for n := range hop1 {
		appendEdgePseudoChunks(ctx, graph, tenantID, n, at, &out, seen)
	}

	return out, nil
}

func appendEdgePseudoChunks(ctx context.Context, graph databases.GraphStore, tenantID, nodeID string, at time.Time, out *[]fused, seen map[string]bool) {
	edges, err := graph.EdgesFromSource(ctx, tenantID, nodeID, at)
	if err != nil {
		return
	}
	for _, e := range edges {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		*out = append(*out, fused{
			ID:      e.ID,
			Score:   0,
			VecRank: -1, TextRank: -1,
			Text: fmt.Sprintf("%s %s %s (valid from %s to %s)", e.SourceID, e.Type, e.TargetID, e.TValidStart.Format(time.RFC3339), e.TValidEnd.Format(time.RFC3339)),
			Metadata: map[string]string{
				"type":          "edge",
				"edge_id":       e.ID,
				"relation":      e.Type,
				"source_id":     e.SourceID,
				"target_id":     e.TargetID,
				"t_valid_start": e.TValidStart.Format(time.RFC3339),
				"t_valid_end":   e.TValidEnd.Format(time.RFC3339),
			},
		})
	}
}
