// Package databases implements the abstract storage contracts behind the
// retrieval and graph pipelines (§9 "opaque provider capabilities"):
// VectorStore, TextIndex, GraphStore. Concrete backends (memory, Postgres,
// Qdrant) are injected behind these narrow interfaces; callers never see
// backend-specific types.
package databases

import (
	"context"
	"time"

	"ragpipeline/internal/ragdata"
)

// SearchResult is a single hit from the full-text index.
type SearchResult struct {
	ID       string
	Score    float64
	Snippet  string
	Text     string
	Metadata map[string]string
}

// TextIndex is the BM25/lexical side of hybrid retrieval (§4.8).
type TextIndex interface {
	Upsert(ctx context.Context, id string, text string, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int, filter map[string]string) ([]SearchResult, error)
}

// VectorResult is a single nearest-neighbor hit from the vector store.
type VectorResult struct {
	ID       string
	Score    float64 // higher is closer
	Metadata map[string]string
}

// VectorStore is the dense-retrieval side of hybrid retrieval (§4.8). Get
// backs the retriever's fallback fetch for IDs seen only in the text-index
// result list (§4.8 point 5).
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
	Get(ctx context.Context, ids []string) ([]VectorResult, error)
}

// GraphStore persists temporal knowledge-graph nodes and edges (§4.7). Edge
// conflict resolution is the caller's responsibility (internal/graph); this
// contract is pure CRUD plus the queries that resolution needs.
type GraphStore interface {
	UpsertNode(ctx context.Context, node ragdata.GraphNode) error
	GetNode(ctx context.Context, tenantID, id string) (ragdata.GraphNode, bool, error)

	// EdgesFor returns all edges for (tenantID, source, type, target),
	// ascending by TValidStart, for conflict-resolution scanning.
	EdgesFor(ctx context.Context, tenantID, source, typ, target string) ([]ragdata.GraphEdge, error)
	PutEdge(ctx context.Context, edge ragdata.GraphEdge) error
	DeleteEdge(ctx context.Context, tenantID, edgeID string) error

	// QueryAt returns the edge (if any) valid at instant t for
	// (tenantID, source, type, target).
	QueryAt(ctx context.Context, tenantID, source, typ, target string, t time.Time) (ragdata.GraphEdge, bool, error)

	// Neighbors returns target IDs reachable from id via typ, used for
	// graph-augmented retrieval expansion (§4.8).
	Neighbors(ctx context.Context, tenantID, id, typ string, at time.Time) ([]string, error)

	// EdgesFromSource returns every edge with the given source valid at
	// instant at, regardless of type or target, for graph-augmented
	// retrieval's pseudo-chunk rendering (§4.8).
	EdgesFromSource(ctx context.Context, tenantID, source string, at time.Time) ([]ragdata.GraphEdge, error)
}

// Manager holds concrete backends resolved from configuration.
type Manager struct {
	Text   TextIndex
	Vector VectorStore
	Graph  GraphStore
}

// Close releases any pooled connections. No-op for memory backends.
func (m Manager) Close() {
	if c, ok := any(m.Text).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Vector).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Graph).(interface{ Close() }); ok {
		c.Close()
	}
}
