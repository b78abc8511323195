package databases

import (
	"context"
	"testing"
	"time"

	"ragpipeline/internal/ragdata"
)

func TestMemoryVector_SearchRespectsFilterAndGet(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVector()
	_ = v.Upsert(ctx, "c1", []float32{1, 0, 0}, map[string]string{"tenant_id": "acme"})
	_ = v.Upsert(ctx, "c2", []float32{0, 1, 0}, map[string]string{"tenant_id": "other"})

	got, err := v.Search(ctx, []float32{1, 0, 0}, 10, map[string]string{"tenant_id": "acme"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("expected only c1 to match tenant filter, got %+v", got)
	}

	fetched, err := v.Get(ctx, []string{"c1", "missing"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(fetched) != 1 || fetched[0].ID != "c1" {
		t.Fatalf("expected Get to return only existing ids, got %+v", fetched)
	}
}

func TestMemoryText_SearchRanksByTermFrequency(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryText()
	_ = idx.Upsert(ctx, "d1", "the quick brown fox jumps over the lazy dog", nil)
	_ = idx.Upsert(ctx, "d2", "fox fox fox everywhere", nil)

	got, err := idx.Search(ctx, "fox", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[0].ID != "d2" {
		t.Fatalf("expected d2 ranked first (3 occurrences), got %+v", got)
	}
}

func TestMemoryGraph_EdgesForSortedByValidStart(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraph()
	later := ragdata.GraphEdge{ID: "e2", TenantID: "t", SourceID: "a", Type: "works_for", TargetID: "b",
		TValidStart: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), TValidEnd: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}
	earlier := ragdata.GraphEdge{ID: "e1", TenantID: "t", SourceID: "a", Type: "works_for", TargetID: "b",
		TValidStart: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), TValidEnd: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}

	_ = g.PutEdge(ctx, later)
	_ = g.PutEdge(ctx, earlier)

	got, err := g.EdgesFor(ctx, "t", "a", "works_for", "b")
	if err != nil {
		t.Fatalf("EdgesFor: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e1" || got[1].ID != "e2" {
		t.Fatalf("expected ascending t_valid_start order, got %+v", got)
	}
}

func TestMemoryGraph_QueryAtPicksValidWindow(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraph()
	edge := ragdata.GraphEdge{ID: "e1", TenantID: "t", SourceID: "a", Type: "works_for", TargetID: "b",
		TValidStart: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), TValidEnd: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	_ = g.PutEdge(ctx, edge)

	got, ok, err := g.QueryAt(ctx, "t", "a", "works_for", "b", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || !ok || got.ID != "e1" {
		t.Fatalf("expected edge valid at instant, got %+v ok=%v err=%v", got, ok, err)
	}

	_, ok, _ = g.QueryAt(ctx, "t", "a", "works_for", "b", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if ok {
		t.Fatal("expected no edge valid after t_valid_end")
	}
}
