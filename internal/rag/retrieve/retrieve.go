package retrieve

import (
	"context"
	"time"

	"ragpipeline/internal/persistence/databases"
)

// Item is one fused retrieval hit, ready for reranking or citation.
type Item struct {
	ID       string
	Score    float64
	Text     string
	Snippet  string
	Metadata map[string]string
}

// Result is the retriever's full response for one query.
type Result struct {
	Query string
	Items []Item
}

// Retrieve runs the hybrid retrieval pipeline: parallel vector + BM25
// fan-out, RRF fusion, payload hydration, and optional graph-augmented
// expansion (§4.8).
func Retrieve(ctx context.Context, vector databases.VectorStore, text databases.TextIndex, graph databases.GraphStore, linker EntityLinker, query string, queryVector []float32, opt Options) (Result, error) {
	vecResults, textResults, err := fetchCandidates(ctx, vector, text, query, queryVector, opt)
	if err != nil {
		return Result{}, err
	}

	ranked := FuseRRF(vecResults, textResults, opt)

	if err := hydrate(ctx, vector, ranked); err != nil {
		return Result{}, err
	}

	ranked = filterAllowed(ranked, opt)

	if opt.UseGraph {
		graphItems, err := expandGraph(ctx, graph, linker, opt.TenantID, query, time.Now())
		if err != nil {
			return Result{}, err
		}
		ranked = append(ranked, graphItems...)
	}

	k := opt.topK()
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	items := make([]Item, len(ranked))
	for i, f := range ranked {
		items[i] = Item{ID: f.ID, Score: f.Score, Text: f.Text, Snippet: f.Snippet, Metadata: f.Metadata}
	}
	return Result{Query: query, Items: items}, nil
}

// filterAllowed drops fused candidates that fail o's ACL/time_window
// constraints (§4.8), applied post-hydration so both vector-only and
// lexical-only hits have had their metadata merged before the check runs.
func filterAllowed(ranked []fused, o Options) []fused {
	if len(o.ACL) == 0 && o.TimeWindow == nil {
		return ranked
	}
	out := ranked[:0]
	for _, f := range ranked {
		if o.allowed(f.Metadata) {
			out = append(out, f)
		}
	}
	return out
}

// hydrate fills in metadata for candidates seen only in the vector result
// list, which carries no text, by falling back to the vector store's Get
// (§4.8 point 5); BM25 hits already carry full text from the search call.
func hydrate(ctx context.Context, vector databases.VectorStore, ranked []fused) error {
	if vector == nil {
		return nil
	}
	var missing []string
	for _, f := range ranked {
		if f.Text == "" {
			missing = append(missing, f.ID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	fetched, err := vector.Get(ctx, missing)
	if err != nil {
		return err
	}
	byID := make(map[string]databases.VectorResult, len(fetched))
	for _, r := range fetched {
		byID[r.ID] = r
	}
	for i := range ranked {
		if ranked[i].Text != "" {
			continue
		}
		if r, ok := byID[ranked[i].ID]; ok {
			ranked[i].Metadata = mergeMetadata(ranked[i].Metadata, r.Metadata)
		}
	}
	return nil
}
