// Package graph implements the temporal knowledge-graph sink: entity/
// relation extraction orchestration and edge conflict resolution (§4.7),
// grounded on the Python GraphSink's create/update-node and edge-overlap
// handling.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ragpipeline/internal/persistence/databases"
	"ragpipeline/internal/ragdata"
)

// ExtractedEntity is one typed mention surfaced from a document.
type ExtractedEntity struct {
	Type       string
	Surface    string
	Confidence float64
}

// ExtractedRelation is one typed edge between two entity mentions.
type ExtractedRelation struct {
	Type       string
	Source     ExtractedEntity
	Target     ExtractedEntity
	Confidence float64
}

// Extractor is the opaque entity/relation extraction capability (§4.7,
// §9): implementers inject a concrete NLP/LLM-backed extractor behind this
// contract.
type Extractor interface {
	Extract(ctx context.Context, doc ragdata.Document) ([]ExtractedEntity, []ExtractedRelation, error)
}

// Sink extracts entities/relations from documents and stores them in a
// GraphStore, applying the temporal conflict-resolution policy to edges.
type Sink struct {
	store     databases.GraphStore
	extractor Extractor
	now       func() time.Time
	edgeLocks keyedMutex
}

func NewSink(store databases.GraphStore, extractor Extractor) *Sink {
	return &Sink{store: store, extractor: extractor, now: time.Now, edgeLocks: newKeyedMutex()}
}

// keyedMutex serializes InsertEdge calls per (tenant, source, type, target)
// key (§4.7, §5) without serializing documents that touch unrelated edges.
// Lazily allocated per key and never removed; the key space is bounded by
// the number of distinct entity pairs/relation types a tenant's documents
// actually produce, which is small relative to document volume.
type keyedMutex struct {
	mu    *sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() keyedMutex {
	return keyedMutex{mu: &sync.Mutex{}, locks: make(map[string]*sync.Mutex)}
}

func (k keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ProcessDocument extracts entities/relations from doc and stores them,
// returning the count of newly created nodes and edges.
func (s *Sink) ProcessDocument(ctx context.Context, doc ragdata.Document) (nodesCreated, edgesCreated int, err error) {
	entities, relations, err := s.extractor.Extract(ctx, doc)
	if err != nil {
		return 0, 0, err
	}

	prov := ragdata.Provenance{DocumentID: doc.ID, SourceTool: doc.SourceTool, TsExtracted: s.now()}

	for _, e := range entities {
		id := entityID(doc.TenantID, e.Type, e.Surface)
		_, existed, getErr := s.store.GetNode(ctx, doc.TenantID, id)
		if getErr != nil {
			return nodesCreated, edgesCreated, getErr
		}
		node := ragdata.GraphNode{ID: id, Type: e.Type, Summary: e.Surface, TenantID: doc.TenantID, Provenance: prov}
		if err := s.store.UpsertNode(ctx, node); err != nil {
			return nodesCreated, edgesCreated, err
		}
		if !existed {
			nodesCreated++
		}
	}

	for _, r := range relations {
		sourceID := entityID(doc.TenantID, r.Source.Type, r.Source.Surface)
		targetID := entityID(doc.TenantID, r.Target.Type, r.Target.Surface)
		start := doc.TsSource
		if start.IsZero() {
			start = s.now()
		}
		edge := ragdata.GraphEdge{
			ID:          fmt.Sprintf("%s:%s:%s", sourceID, r.Type, targetID),
			SourceID:    sourceID,
			Type:        r.Type,
			TargetID:    targetID,
			TValidStart: start,
			TValidEnd:   start.Add(ragdata.DefaultEdgeValidityWindow),
			Confidence:  r.Confidence,
			TenantID:    doc.TenantID,
			Provenance:  prov,
		}
		unlock := s.edgeLocks.lock(edge.TenantID + "|" + edge.SourceID + "|" + edge.Type + "|" + edge.TargetID)
		inserted, err := InsertEdge(ctx, s.store, edge)
		unlock()
		if err != nil {
			return nodesCreated, edgesCreated, err
		}
		if inserted {
			edgesCreated++
		}
	}
	return nodesCreated, edgesCreated, nil
}

func entityID(tenantID, typ, surface string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, typ, surface)
}

// overlaps reports whether half-open windows [a.start,a.end) and
// [b.start,b.end) intersect.
func overlaps(a, b ragdata.GraphEdge) bool {
	return a.TValidStart.Before(b.TValidEnd) && b.TValidStart.Before(a.TValidEnd)
}

// InsertEdge inserts newEdge against any existing edges sharing
// (tenant, source, type, target), applying the §4.7 conflict-resolution
// policy. Existing edges are scanned in ascending t_valid_start order, as
// the spec requires. Returns whether newEdge (possibly clipped) was
// actually inserted.
func InsertEdge(ctx context.Context, store databases.GraphStore, newEdge ragdata.GraphEdge) (bool, error) {
	existing, err := store.EdgesFor(ctx, newEdge.TenantID, newEdge.SourceID, newEdge.Type, newEdge.TargetID)
	if err != nil {
		return false, err
	}

	n := newEdge
	for _, e := range existing {
		if e.ID == n.ID || !overlaps(n, e) {
			continue
		}

		switch {
		case n.Confidence > e.Confidence:
			e.TValidEnd = n.TValidStart
			if err := store.PutEdge(ctx, e); err != nil {
				return false, err
			}
			// n unchanged; continue scanning remaining edges.

		case n.Confidence < e.Confidence:
			switch {
			case n.TValidStart.Before(e.TValidStart):
				n.TValidEnd = e.TValidStart
			case n.TValidEnd.After(e.TValidEnd):
				n.TValidStart = e.TValidEnd
				n.ID = n.ID + ":after"
			default:
				return false, nil // n fully covered by e with higher confidence: drop
			}

		default: // equal confidence: prefer later provenance.ts_extracted
			if n.Provenance.TsExtracted.After(e.Provenance.TsExtracted) {
				e.TValidEnd = n.TValidStart
				if err := store.PutEdge(ctx, e); err != nil {
					return false, err
				}
			} else {
				return false, nil
			}
		}
	}

	if !n.TValidStart.Before(n.TValidEnd) {
		return false, nil // degenerate window after clipping
	}
	if err := store.PutEdge(ctx, n); err != nil {
		return false, err
	}
	return true, nil
}
