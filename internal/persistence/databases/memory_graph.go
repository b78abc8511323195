package databases

import (
	"context"
	"sort"
	"sync"
	"time"

	"ragpipeline/internal/ragdata"
)

type edgeSetKey struct{ tenant, source, typ, target string }

// memoryGraph is an in-memory GraphStore: nodes keyed by (tenant, id),
// edges grouped by (tenant, source, type, target) for conflict-resolution
// scanning and point-in-time queries.
type memoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]ragdata.GraphNode
	edges map[edgeSetKey][]ragdata.GraphEdge
}

func NewMemoryGraph() *memoryGraph {
	return &memoryGraph{
		nodes: make(map[string]ragdata.GraphNode),
		edges: make(map[edgeSetKey][]ragdata.GraphEdge),
	}
}

func nodeKey(tenantID, id string) string { return tenantID + "\x00" + id }

func (g *memoryGraph) UpsertNode(_ context.Context, node ragdata.GraphNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[nodeKey(node.TenantID, node.ID)] = node
	return nil
}

func (g *memoryGraph) GetNode(_ context.Context, tenantID, id string) (ragdata.GraphNode, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[nodeKey(tenantID, id)]
	return n, ok, nil
}

func (g *memoryGraph) EdgesFor(_ context.Context, tenantID, source, typ, target string) ([]ragdata.GraphEdge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	key := edgeSetKey{tenantID, source, typ, target}
	out := append([]ragdata.GraphEdge(nil), g.edges[key]...)
	sort.Slice(out, func(i, j int) bool { return out[i].TValidStart.Before(out[j].TValidStart) })
	return out, nil
}

func (g *memoryGraph) PutEdge(_ context.Context, edge ragdata.GraphEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := edgeSetKey{edge.TenantID, edge.SourceID, edge.Type, edge.TargetID}
	set := g.edges[key]
	for i, e := range set {
		if e.ID == edge.ID {
			set[i] = edge
			g.edges[key] = set
			return nil
		}
	}
	g.edges[key] = append(set, edge)
	return nil
}

func (g *memoryGraph) DeleteEdge(_ context.Context, tenantID, edgeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, set := range g.edges {
		if key.tenant != tenantID {
			continue
		}
		for i, e := range set {
			if e.ID == edgeID {
				g.edges[key] = append(set[:i], set[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (g *memoryGraph) QueryAt(_ context.Context, tenantID, source, typ, target string, t time.Time) (ragdata.GraphEdge, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	key := edgeSetKey{tenantID, source, typ, target}
	for _, e := range g.edges[key] {
		if !t.Before(e.TValidStart) && t.Before(e.TValidEnd) {
			return e, true, nil
		}
	}
	return ragdata.GraphEdge{}, false, nil
}

func (g *memoryGraph) Neighbors(_ context.Context, tenantID, id, typ string, at time.Time) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for key, set := range g.edges {
		if key.tenant != tenantID || key.source != id {
			continue
		}
		if typ != "" && key.typ != typ {
			continue
		}
		for _, e := range set {
			if !at.Before(e.TValidStart) && at.Before(e.TValidEnd) {
				out = append(out, e.TargetID)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (g *memoryGraph) EdgesFromSource(_ context.Context, tenantID, source string, at time.Time) ([]ragdata.GraphEdge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []ragdata.GraphEdge
	for key, set := range g.edges {
		if key.tenant != tenantID || key.source != source {
			continue
		}
		for _, e := range set {
			if !at.Before(e.TValidStart) && at.Before(e.TValidEnd) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TValidStart.Before(out[j].TValidStart) })
	return out, nil
}

var _ GraphStore = (*memoryGraph)(nil)
