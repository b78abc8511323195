package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ragpipeline/internal/config"
	"ragpipeline/internal/manifest"
	"ragpipeline/internal/persistence/databases"
	"ragpipeline/internal/queue"
	"ragpipeline/internal/ragdata"
	"ragpipeline/internal/rag/embedder"
	"ragpipeline/internal/rag/generate"
	"ragpipeline/internal/rag/rerank"
	"ragpipeline/internal/rag/retrieve"
)

type fakeEmbedCap struct{ calls int }

func (f *fakeEmbedCap) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

type fakeGraphSink struct {
	calls int
	docs  []ragdata.Document
}

func (f *fakeGraphSink) ProcessDocument(_ context.Context, doc ragdata.Document) (int, int, error) {
	f.calls++
	f.docs = append(f.docs, doc)
	return 1, 1, nil
}

type fakeLLM struct{ answer string }

func (f *fakeLLM) Generate(_ context.Context, _ string) (string, error) { return f.answer, nil }
func (f *fakeLLM) GenerateStream(_ context.Context, _ string) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func newTestPipeline(t *testing.T, graphSink GraphSink) (*Pipeline, *fakeEmbedCap) {
	t.Helper()
	emb := &fakeEmbedCap{}
	cfg := config.Defaults()
	p := New(
		queue.NewMemoryQueue(),
		manifest.NewMemoryStore(),
		databases.NewMemoryVector(),
		databases.NewMemoryText(),
		databases.NewMemoryGraph(),
		nil,
		embedder.New(emb, cfg.Embedding),
		nil,
		generate.New(&fakeLLM{answer: "the answer [1]"}, config.GroundingConfig{MinEvidenceScore: 0.0}),
		cfg.Chunking,
		WithGraphSink(graphSink),
	)
	return p, emb
}

func TestIngestDocument_ChunksEmbedsIndexesAndExtracts(t *testing.T) {
	ctx := context.Background()
	sink := &fakeGraphSink{}
	p, emb := newTestPipeline(t, sink)

	doc := ragdata.Document{
		ID:         "tenant-a:wiki:doc-1",
		TenantID:   "tenant-a",
		SourceTool: "wiki",
		SourceID:   "doc-1",
		Content:    strings.Repeat("hello world. ", 50),
		Checksum:   "abc123",
		TsSource:   time.Now(),
	}

	if err := p.IngestDocument(ctx, doc); err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if emb.calls == 0 {
		t.Fatal("expected embedder to be invoked")
	}
	if sink.calls != 1 || len(sink.docs) != 1 || sink.docs[0].ID != doc.ID {
		t.Fatalf("expected graph sink to process the document once, got %+v", sink)
	}
}

func TestIngestDocument_ChunkIDIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, &fakeGraphSink{})

	doc := ragdata.Document{ID: "doc-1", TenantID: "t", SourceTool: "wiki", Content: strings.Repeat("same content. ", 40)}
	if err := p.IngestDocument(ctx, doc); err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	m, ok, err := p.manifest.Load(ctx, doc.ID)
	if err != nil || !ok {
		t.Fatalf("expected a manifest record, ok=%v err=%v", ok, err)
	}
	firstIDs := append([]string(nil), m.ChunkIDs...)

	// Re-ingesting identical content must reuse the same chunk IDs, since
	// chunk identity is derived from content, not position.
	if err := p.IngestDocument(ctx, doc); err != nil {
		t.Fatalf("second IngestDocument: %v", err)
	}
	m2, _, _ := p.manifest.Load(ctx, doc.ID)
	if len(m2.ChunkIDs) != len(firstIDs) {
		t.Fatalf("expected stable chunk count, got %d vs %d", len(m2.ChunkIDs), len(firstIDs))
	}
	for i, id := range firstIDs {
		if m2.ChunkIDs[i] != id {
			t.Fatalf("expected chunk id %q to be stable across re-ingestion, got %q", id, m2.ChunkIDs[i])
		}
	}
}

func TestStartIngestionConsumer_ProcessesQueuedDocuments(t *testing.T) {
	ctx := context.Background()
	sink := &fakeGraphSink{}
	p, _ := newTestPipeline(t, sink)

	if err := p.StartIngestionConsumer(ctx); err != nil {
		t.Fatalf("StartIngestionConsumer: %v", err)
	}

	doc := ragdata.Document{ID: "doc-2", TenantID: "t", SourceTool: "wiki", Content: strings.Repeat("x y z. ", 30)}
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := p.queue.Produce(ctx, queue.TopicIngestion, doc.ID, payload); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("expected the consumer to have processed 1 document, got %d", sink.calls)
	}
}

type recordingEncoder struct{ seen []rerank.Candidate }

func (r *recordingEncoder) ScorePairs(_ context.Context, _ string, documents []string, _ string) ([]float64, error) {
	out := make([]float64, len(documents))
	for i := range documents {
		out[i] = 1.0
	}
	return out, nil
}

func TestQuery_PropagatesTsSourceFromMetadataIntoRerankCandidate(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()

	vector := databases.NewMemoryVector()
	text := databases.NewMemoryText()

	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := vector.Upsert(ctx, "c1", []float32{1, 2, 3}, map[string]string{"tenant_id": "tenant-a", "ts_source": ts.Format(time.RFC3339)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := text.Upsert(ctx, "c1", strings.Repeat("evidence text ", 200), map[string]string{"tenant_id": "tenant-a", "ts_source": ts.Format(time.RFC3339)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	encoder := &recordingEncoder{}
	reranker := rerank.New(encoder, config.RerankerConfig{BatchSize: 16, TopK: 5})

	p := New(
		queue.NewMemoryQueue(),
		manifest.NewMemoryStore(),
		vector,
		text,
		databases.NewMemoryGraph(),
		nil,
		embedder.New(&fakeEmbedCap{}, cfg.Embedding),
		reranker,
		generate.New(&fakeLLM{answer: "the answer [1]"}, config.GroundingConfig{MinEvidenceScore: 0.0}),
		cfg.Chunking,
	)

	resp, err := p.Query(ctx, "tenant-a", "evidence text", []float32{1, 2, 3}, retrieve.Options{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !resp.HasSufficientEvidence {
		t.Fatalf("expected sufficient evidence, got %+v", resp)
	}
	if len(resp.Citations) != 1 || !resp.Citations[0].TsSource.Equal(ts) {
		t.Fatalf("expected citation ts_source %v propagated through rerank, got %+v", ts, resp.Citations)
	}
}

func TestQuery_RunsRetrievalAndGeneration(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, &fakeGraphSink{})

	if err := p.vector.Upsert(ctx, "c1", []float32{1, 2, 3}, map[string]string{"tenant_id": "tenant-a", "doc_id": "doc-1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := p.text.Upsert(ctx, "c1", strings.Repeat("evidence text ", 200), map[string]string{"tenant_id": "tenant-a", "doc_id": "doc-1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	resp, err := p.Query(ctx, "tenant-a", "evidence text", []float32{1, 2, 3}, retrieve.Options{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !resp.HasSufficientEvidence {
		t.Fatalf("expected sufficient evidence, got %+v", resp)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].ChunkID != "c1" {
		t.Fatalf("expected a citation for c1, got %+v", resp.Citations)
	}
}
