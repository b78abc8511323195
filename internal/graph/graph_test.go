package graph

import (
	"context"
	"testing"
	"time"

	"ragpipeline/internal/persistence/databases"
	"ragpipeline/internal/ragdata"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// TestInsertEdge_SpecScenario4 reproduces §8 scenario 4 verbatim.
func TestInsertEdge_SpecScenario4(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryGraph()

	existing := ragdata.GraphEdge{
		ID: "e1", TenantID: "t", SourceID: "a", Type: "works_for", TargetID: "b",
		Confidence: 0.8, TValidStart: date("2020-01-01"), TValidEnd: date("2025-01-01"),
	}
	if err := store.PutEdge(ctx, existing); err != nil {
		t.Fatalf("PutEdge: %v", err)
	}

	n := ragdata.GraphEdge{
		ID: "e2", TenantID: "t", SourceID: "a", Type: "works_for", TargetID: "b",
		Confidence: 0.9, TValidStart: date("2023-06-01"), TValidEnd: date("2026-01-01"),
	}
	inserted, err := InsertEdge(ctx, store, n)
	if err != nil {
		t.Fatalf("InsertEdge: %v", err)
	}
	if !inserted {
		t.Fatal("expected N to be inserted unchanged")
	}

	truncated, ok, err := store.QueryAt(ctx, "t", "a", "works_for", "b", date("2021-01-01"))
	if err != nil || !ok || truncated.ID != "e1" {
		t.Fatalf("expected E valid at 2021-01-01, got %+v ok=%v err=%v", truncated, ok, err)
	}

	winner, ok, err := store.QueryAt(ctx, "t", "a", "works_for", "b", date("2024-01-01"))
	if err != nil || !ok || winner.ID != "e2" {
		t.Fatalf("expected N valid at 2024-01-01, got %+v ok=%v err=%v", winner, ok, err)
	}

	edges, _ := store.EdgesFor(ctx, "t", "a", "works_for", "b")
	for _, e := range edges {
		if e.ID == "e1" && !e.TValidEnd.Equal(date("2023-06-01")) {
			t.Fatalf("expected E truncated to end at N's start, got %v", e.TValidEnd)
		}
	}
}

func TestInsertEdge_FullyCoveredLowerConfidenceIsDropped(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryGraph()

	existing := ragdata.GraphEdge{
		ID: "e1", TenantID: "t", SourceID: "a", Type: "rel", TargetID: "b",
		Confidence: 0.9, TValidStart: date("2020-01-01"), TValidEnd: date("2025-01-01"),
	}
	_ = store.PutEdge(ctx, existing)

	n := ragdata.GraphEdge{
		ID: "n1", TenantID: "t", SourceID: "a", Type: "rel", TargetID: "b",
		Confidence: 0.5, TValidStart: date("2021-01-01"), TValidEnd: date("2022-01-01"),
	}
	inserted, err := InsertEdge(ctx, store, n)
	if err != nil {
		t.Fatalf("InsertEdge: %v", err)
	}
	if inserted {
		t.Fatal("expected N fully inside higher-confidence E to be dropped")
	}

	edges, _ := store.EdgesFor(ctx, "t", "a", "rel", "b")
	if len(edges) != 1 {
		t.Fatalf("expected E unchanged, got %+v", edges)
	}
}

func TestInsertEdge_LowerConfidenceStartsBeforeIsTruncated(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryGraph()

	existing := ragdata.GraphEdge{
		ID: "e1", TenantID: "t", SourceID: "a", Type: "rel", TargetID: "b",
		Confidence: 0.9, TValidStart: date("2022-01-01"), TValidEnd: date("2025-01-01"),
	}
	_ = store.PutEdge(ctx, existing)

	n := ragdata.GraphEdge{
		ID: "n1", TenantID: "t", SourceID: "a", Type: "rel", TargetID: "b",
		Confidence: 0.5, TValidStart: date("2020-01-01"), TValidEnd: date("2024-01-01"),
	}
	inserted, err := InsertEdge(ctx, store, n)
	if err != nil {
		t.Fatalf("InsertEdge: %v", err)
	}
	if !inserted {
		t.Fatal("expected N (clipped) to be inserted")
	}

	got, ok, _ := store.QueryAt(ctx, "t", "a", "rel", "b", date("2021-01-01"))
	if !ok || got.ID != "n1" || !got.TValidEnd.Equal(date("2022-01-01")) {
		t.Fatalf("expected N clipped to end at E's start, got %+v ok=%v", got, ok)
	}
}

func TestInsertEdge_EqualConfidencePrefersLaterProvenance(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryGraph()

	existing := ragdata.GraphEdge{
		ID: "e1", TenantID: "t", SourceID: "a", Type: "rel", TargetID: "b",
		Confidence: 0.7, TValidStart: date("2020-01-01"), TValidEnd: date("2025-01-01"),
		Provenance: ragdata.Provenance{TsExtracted: date("2023-01-01")},
	}
	_ = store.PutEdge(ctx, existing)

	n := ragdata.GraphEdge{
		ID: "n1", TenantID: "t", SourceID: "a", Type: "rel", TargetID: "b",
		Confidence: 0.7, TValidStart: date("2022-01-01"), TValidEnd: date("2026-01-01"),
		Provenance: ragdata.Provenance{TsExtracted: date("2024-01-01")},
	}
	inserted, err := InsertEdge(ctx, store, n)
	if err != nil {
		t.Fatalf("InsertEdge: %v", err)
	}
	if !inserted {
		t.Fatal("expected N with later provenance to win and be inserted")
	}
	truncated, _, _ := store.QueryAt(ctx, "t", "a", "rel", "b", date("2021-01-01"))
	if truncated.ID != "e1" || !truncated.TValidEnd.Equal(date("2022-01-01")) {
		t.Fatalf("expected E truncated to N's start, got %+v", truncated)
	}
}
