package manifest

import (
	"context"
	"testing"
	"time"

	"ragpipeline/internal/persistence/databases"
	"ragpipeline/internal/ragdata"
)

func TestDiff_AdditionsAndRemovals(t *testing.T) {
	toDelete, toUpsert := Diff([]string{"c1", "c2"}, []string{"c2", "c3"})
	if len(toDelete) != 1 || toDelete[0] != "c1" {
		t.Fatalf("expected to_delete=[c1], got %v", toDelete)
	}
	if len(toUpsert) != 2 || toUpsert[0] != "c2" || toUpsert[1] != "c3" {
		t.Fatalf("expected to_upsert=[c2,c3], got %v", toUpsert)
	}
}

func TestDiff_EmptyOldIsAllUpsertNoDeletes(t *testing.T) {
	toDelete, toUpsert := Diff(nil, []string{"c1", "c2"})
	if len(toDelete) != 0 {
		t.Fatalf("expected no deletes, got %v", toDelete)
	}
	if len(toUpsert) != 2 {
		t.Fatalf("expected both new ids upserted, got %v", toUpsert)
	}
}

// TestSync_SpecScenario3 reproduces §8 scenario 3 verbatim: first ingest of
// D yields chunks {c1,c2}; content modified, second ingest yields {c2,c3}.
// Store state after: vector+text contain exactly {c2,c3}; deletions exactly
// {c1}; manifest.chunk_ids = [c2,c3].
func TestSync_SpecScenario3(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	vector := databases.NewMemoryVector()
	text := databases.NewMemoryText()

	first := []ragdata.Chunk{
		{ChunkID: "c1", DocID: "d1", TenantID: "acme", SourceTool: "wiki", Text: "alpha", Embedding: []float32{1, 0}},
		{ChunkID: "c2", DocID: "d1", TenantID: "acme", SourceTool: "wiki", Text: "beta", Embedding: []float32{0, 1}},
	}
	if err := Sync(ctx, store, vector, text, "d1", "checksum-v1", first, time.Unix(1000, 0)); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	m, ok, err := store.Load(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("expected manifest after first sync, ok=%v err=%v", ok, err)
	}
	if len(m.ChunkIDs) != 2 || m.ChunkIDs[0] != "c1" || m.ChunkIDs[1] != "c2" {
		t.Fatalf("expected chunk_ids=[c1,c2] after first sync, got %v", m.ChunkIDs)
	}
	firstCreated := m.TsCreated

	second := []ragdata.Chunk{
		{ChunkID: "c2", DocID: "d1", TenantID: "acme", SourceTool: "wiki", Text: "beta", Embedding: []float32{0, 1}},
		{ChunkID: "c3", DocID: "d1", TenantID: "acme", SourceTool: "wiki", Text: "gamma", Embedding: []float32{1, 1}},
	}
	if err := Sync(ctx, store, vector, text, "d1", "checksum-v2", second, time.Unix(2000, 0)); err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	m, ok, err = store.Load(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("expected manifest after second sync, ok=%v err=%v", ok, err)
	}
	if len(m.ChunkIDs) != 2 || m.ChunkIDs[0] != "c2" || m.ChunkIDs[1] != "c3" {
		t.Fatalf("expected chunk_ids=[c2,c3] after second sync, got %v", m.ChunkIDs)
	}
	if m.Checksum != "checksum-v2" {
		t.Fatalf("expected updated checksum, got %q", m.Checksum)
	}
	if !m.TsCreated.Equal(firstCreated) {
		t.Fatalf("expected ts_created preserved across syncs, got %v want %v", m.TsCreated, firstCreated)
	}
	if !m.TsUpdated.Equal(time.Unix(2000, 0)) {
		t.Fatalf("expected ts_updated to advance, got %v", m.TsUpdated)
	}

	if _, err := vector.Get(ctx, []string{"c1"}); err != nil {
		t.Fatalf("Get should not error for absent id: %v", err)
	}
	got, err := vector.Get(ctx, []string{"c1", "c2", "c3"})
	if err != nil {
		t.Fatalf("vector.Get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected vector store to contain exactly {c2,c3}, got %+v", got)
	}
	for _, r := range got {
		if r.ID == "c1" {
			t.Fatal("expected c1 deleted from vector store")
		}
	}

	textHits, err := text.Search(ctx, "alpha", 10, nil)
	if err != nil {
		t.Fatalf("text.Search: %v", err)
	}
	if len(textHits) != 0 {
		t.Fatalf("expected c1's text deleted from index, got %+v", textHits)
	}
	textHits, err = text.Search(ctx, "gamma", 10, nil)
	if err != nil {
		t.Fatalf("text.Search: %v", err)
	}
	if len(textHits) != 1 || textHits[0].ID != "c3" {
		t.Fatalf("expected c3 present in text index, got %+v", textHits)
	}
}

func TestSync_StampsACLAndTsSourceOntoIndexedMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	vector := databases.NewMemoryVector()
	text := databases.NewMemoryText()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	chunks := []ragdata.Chunk{
		{ChunkID: "c1", DocID: "d1", TenantID: "acme", SourceTool: "wiki", Text: "alpha",
			Embedding: []float32{1, 0}, ACL: []string{"team-a", "team-b"}, TsSource: ts},
	}
	if err := Sync(ctx, store, vector, text, "d1", "checksum-v1", chunks, time.Unix(1000, 0)); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := vector.Get(ctx, []string{"c1"})
	if err != nil || len(got) != 1 {
		t.Fatalf("vector.Get: %+v err=%v", got, err)
	}
	if got[0].Metadata["acl"] != "team-a,team-b" {
		t.Fatalf("expected serialized acl, got %q", got[0].Metadata["acl"])
	}
	if got[0].Metadata["ts_source"] != ts.Format(time.RFC3339) {
		t.Fatalf("expected rfc3339 ts_source, got %q", got[0].Metadata["ts_source"])
	}
}

func TestSync_EmptyACLAndZeroTsSourceStampBlank(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	vector := databases.NewMemoryVector()
	text := databases.NewMemoryText()

	chunks := []ragdata.Chunk{
		{ChunkID: "c1", DocID: "d1", TenantID: "acme", SourceTool: "wiki", Text: "alpha", Embedding: []float32{1, 0}},
	}
	if err := Sync(ctx, store, vector, text, "d1", "checksum-v1", chunks, time.Unix(1000, 0)); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := vector.Get(ctx, []string{"c1"})
	if err != nil || len(got) != 1 {
		t.Fatalf("vector.Get: %+v err=%v", got, err)
	}
	if got[0].Metadata["acl"] != "" {
		t.Fatalf("expected blank acl for public chunk, got %q", got[0].Metadata["acl"])
	}
	if got[0].Metadata["ts_source"] != "" {
		t.Fatalf("expected blank ts_source for zero time, got %q", got[0].Metadata["ts_source"])
	}
}

func TestSync_IdempotentReupsertOfSameChunkSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	vector := databases.NewMemoryVector()
	text := databases.NewMemoryText()

	chunks := []ragdata.Chunk{
		{ChunkID: "c1", DocID: "d1", TenantID: "acme", SourceTool: "wiki", Text: "alpha", Embedding: []float32{1, 0}},
	}
	if err := Sync(ctx, store, vector, text, "d1", "checksum-v1", chunks, time.Unix(1000, 0)); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	if err := Sync(ctx, store, vector, text, "d1", "checksum-v1", chunks, time.Unix(1000, 0)); err != nil {
		t.Fatalf("repeat Sync: %v", err)
	}

	got, err := vector.Get(ctx, []string{"c1"})
	if err != nil || len(got) != 1 {
		t.Fatalf("expected exactly one c1 entry after repeat sync, got %+v err=%v", got, err)
	}
}
