// Package pipeline wires the ingestion and query stages into the two
// operations the rest of the system drives: Ingest (tool adapter output ->
// chunk -> embed -> index -> graph-extract) and Query (hybrid retrieve ->
// rerank -> grounded generation). Grounded on the Python RAGOrchestrator's
// stage sequencing and the teacher's internal/rag/service.Service, reworked
// from a single-stage search/ingest service into the full multi-stage
// pipeline this spec describes.
package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"ragpipeline/internal/config"
	"ragpipeline/internal/manifest"
	"ragpipeline/internal/persistence/databases"
	"ragpipeline/internal/queue"
	"ragpipeline/internal/ragdata"
	"ragpipeline/internal/rag/chunker"
	"ragpipeline/internal/rag/embedder"
	"ragpipeline/internal/rag/generate"
	"ragpipeline/internal/rag/rerank"
	"ragpipeline/internal/rag/retrieve"
)

const chunkerVersion = "v1"

// GraphSink is the narrow capability the ingestion stage drives to extract
// entities/relations out of a normalized document (§4.7). Satisfied by
// *internal/graph.Sink; kept as an interface here so the pipeline doesn't
// import a concrete extractor backend, and so tests can fake it.
type GraphSink interface {
	ProcessDocument(ctx context.Context, doc ragdata.Document) (nodesCreated, edgesCreated int, err error)
}

// Pipeline composes the ingestion and query stages over a tenant's stores
// and opaque provider capabilities.
type Pipeline struct {
	queue    queue.Queue
	manifest manifest.Store
	vector   databases.VectorStore
	text     databases.TextIndex
	graph    databases.GraphStore
	linker   retrieve.EntityLinker

	embedder  *embedder.Embedder
	graphSink GraphSink
	reranker  *rerank.Reranker
	generator *generate.Generator

	chunkingCfg config.ChunkingConfig

	log     Logger
	metrics Metrics
	clock   Clock

	maxConcurrent int
	sem           *semaphore.Weighted
	docLocks      docKeyedMutex
}

// docKeyedMutex serializes per-document manifest convergence (§4.6, §5):
// concurrent ingestion of the same doc_id (e.g. a duplicate queue delivery
// racing a retry) must not interleave its delete-then-upsert sequence with
// another attempt's. Documents with different IDs proceed fully in
// parallel, up to maxConcurrent.
type docKeyedMutex struct {
	mu    *sync.Mutex
	locks map[string]*sync.Mutex
}

func newDocKeyedMutex() docKeyedMutex {
	return docKeyedMutex{mu: &sync.Mutex{}, locks: make(map[string]*sync.Mutex)}
}

func (k docKeyedMutex) lock(docID string) func() {
	k.mu.Lock()
	l, ok := k.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		k.locks[docID] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// New constructs a Pipeline. q, manifestStore, vector, text, embed, and
// generator are required; graph/linker/reranker are optional and left nil
// to disable graph-augmented retrieval/extraction and reranking
// respectively.
func New(
	q queue.Queue,
	manifestStore manifest.Store,
	vector databases.VectorStore,
	text databases.TextIndex,
	graphStore databases.GraphStore,
	linker retrieve.EntityLinker,
	emb *embedder.Embedder,
	reranker *rerank.Reranker,
	generator *generate.Generator,
	chunkingCfg config.ChunkingConfig,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		queue:         q,
		manifest:      manifestStore,
		vector:        vector,
		text:          text,
		graph:         graphStore,
		linker:        linker,
		embedder:      emb,
		reranker:      reranker,
		generator:     generator,
		chunkingCfg:   chunkingCfg,
		log:           NoopLogger{},
		metrics:       NoopMetrics{},
		clock:         SystemClock{},
		maxConcurrent: 5,
		docLocks:      newDocKeyedMutex(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = semaphore.NewWeighted(int64(p.maxConcurrent))
	return p
}

// StartIngestionConsumer registers the pipeline as the ingestion queue's
// consumer (§4.2, §4.5, §4.6, §4.7): each normalized document produced by
// internal/ingest is chunked, embedded, converged into the manifest/stores,
// and extracted into the graph. Concurrent documents are bounded by
// maxConcurrent (default 5, §6 ingestion.max_concurrent) via a weighted
// semaphore so a burst of DLQ-free documents can't exhaust downstream
// provider rate limits.
func (p *Pipeline) StartIngestionConsumer(ctx context.Context) error {
	return p.queue.Consume(ctx, queue.TopicIngestion, func(ctx context.Context, msg queue.Message) error {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)

		var doc ragdata.Document
		if err := json.Unmarshal(msg.Value, &doc); err != nil {
			p.log.Error("ingestion: decode document failed", map[string]any{"key": msg.Key, "error": err.Error()})
			return err
		}
		return p.IngestDocument(ctx, doc)
	})
}

// IngestDocument runs one document through chunk -> embed -> manifest sync
// -> graph extraction, recording per-stage timings the way the teacher's
// Service.Ingest does.
func (p *Pipeline) IngestDocument(ctx context.Context, doc ragdata.Document) error {
	labels := map[string]string{"tenant": doc.TenantID}

	t0 := p.clock.Now()
	chunks := chunker.Chunk(doc.Content, p.chunkingCfg)
	ragChunks := make([]ragdata.Chunk, len(chunks))
	for i, c := range chunks {
		ragChunks[i] = ragdata.Chunk{
			ChunkID:        contentHashChunkID(doc.ID, c.Text),
			DocID:          doc.ID,
			Text:           c.Text,
			Tokens:         c.Tokens,
			TenantID:       doc.TenantID,
			SourceTool:     doc.SourceTool,
			ACL:            doc.ACL,
			TsSource:       doc.TsSource,
			TsChunked:      p.clock.Now(),
			ChunkerVersion: chunkerVersion,
		}
	}
	p.observeStage("ingestion_stage_ms", "chunk", doc.TenantID, t0)

	t0 = p.clock.Now()
	if err := p.embedder.EmbedChunks(ctx, ragChunks, p.clock.Now()); err != nil {
		p.metrics.IncCounter("ingestion_errors_total", labels)
		return err
	}
	p.observeStage("ingestion_stage_ms", "embed", doc.TenantID, t0)

	t0 = p.clock.Now()
	unlockDoc := p.docLocks.lock(doc.ID)
	err := manifest.Sync(ctx, p.manifest, p.vector, p.text, doc.ID, doc.Checksum, ragChunks, p.clock.Now())
	unlockDoc()
	if err != nil {
		p.metrics.IncCounter("ingestion_errors_total", labels)
		return err
	}
	p.observeStage("ingestion_stage_ms", "manifest_sync", doc.TenantID, t0)

	if p.graphSink != nil {
		t0 = p.clock.Now()
		nodes, edges, err := p.graphSink.ProcessDocument(ctx, doc)
		if err != nil {
			p.metrics.IncCounter("ingestion_errors_total", labels)
			return err
		}
		p.observeStage("ingestion_stage_ms", "graph_extract", doc.TenantID, t0)
		p.log.Debug("ingestion: graph extraction complete", map[string]any{"doc_id": doc.ID, "nodes": nodes, "edges": edges})
	}

	p.metrics.IncCounter("ingestion_documents_total", labels)
	return nil
}

// Query runs hybrid retrieval, reranking (if configured), and grounded
// generation for one question (§4.8-§4.10).
func (p *Pipeline) Query(ctx context.Context, tenantID, queryText string, queryVector []float32, retrieveOpts retrieve.Options) (generate.Response, error) {
	retrieveOpts.TenantID = tenantID
	labels := map[string]string{"tenant": tenantID}

	t0 := p.clock.Now()
	result, err := retrieve.Retrieve(ctx, p.vector, p.text, p.graph, p.linker, queryText, queryVector, retrieveOpts)
	if err != nil {
		return generate.Response{}, err
	}
	p.observeStage("retrieval_stage_ms", "retrieve", tenantID, t0)

	items := result.Items
	if p.reranker != nil {
		t0 = p.clock.Now()
		candidates := make([]rerank.Candidate, len(items))
		for i, it := range items {
			candidates[i] = rerank.Candidate{ID: it.ID, Text: it.Text, Score: it.Score, TsSource: parseMetadataTime(it.Metadata["ts_source"]), Metadata: it.Metadata}
		}
		reranked, err := p.reranker.Rerank(ctx, queryText, candidates)
		if err != nil {
			return generate.Response{}, err
		}
		if reranked.BelowThreshold > 0 {
			p.log.Info("rerank: quality shortfall", map[string]any{"tenant": tenantID, "below_threshold": reranked.BelowThreshold})
		}
		items = make([]retrieve.Item, len(reranked.Items))
		for i, c := range reranked.Items {
			items[i] = retrieve.Item{ID: c.ID, Score: c.RerankScore, Text: c.Text, Metadata: c.Metadata}
		}
		p.observeStage("retrieval_stage_ms", "rerank", tenantID, t0)
	}

	genItems := make([]generate.Item, len(items))
	for i, it := range items {
		genItems[i] = generate.ItemFromMetadata(it.ID, it.Text, it.Metadata)
	}

	t0 = p.clock.Now()
	resp, err := p.generator.Generate(ctx, queryText, genItems)
	p.observeStage("retrieval_stage_ms", "generate", tenantID, t0)
	if err != nil {
		return generate.Response{}, err
	}
	p.metrics.IncCounter("queries_total", labels)
	return resp, nil
}

// QueryStream is the streaming counterpart of Query, used by callers that
// relay tokens to a client as they're produced (§4.10 point 6).
func (p *Pipeline) QueryStream(ctx context.Context, tenantID, queryText string, queryVector []float32, retrieveOpts retrieve.Options) (<-chan generate.Frame, error) {
	retrieveOpts.TenantID = tenantID

	result, err := retrieve.Retrieve(ctx, p.vector, p.text, p.graph, p.linker, queryText, queryVector, retrieveOpts)
	if err != nil {
		return nil, err
	}

	items := result.Items
	if p.reranker != nil {
		candidates := make([]rerank.Candidate, len(items))
		for i, it := range items {
			candidates[i] = rerank.Candidate{ID: it.ID, Text: it.Text, Score: it.Score, TsSource: parseMetadataTime(it.Metadata["ts_source"]), Metadata: it.Metadata}
		}
		reranked, err := p.reranker.Rerank(ctx, queryText, candidates)
		if err != nil {
			return nil, err
		}
		items = make([]retrieve.Item, len(reranked.Items))
		for i, c := range reranked.Items {
			items[i] = retrieve.Item{ID: c.ID, Score: c.RerankScore, Text: c.Text, Metadata: c.Metadata}
		}
	}

	genItems := make([]generate.Item, len(items))
	for i, it := range items {
		genItems[i] = generate.ItemFromMetadata(it.ID, it.Text, it.Metadata)
	}
	return p.generator.GenerateStream(ctx, queryText, genItems)
}

func (p *Pipeline) observeStage(metric, stage, tenant string, t0 time.Time) {
	p.metrics.ObserveHistogram(metric, ms(p.clock.Now().Sub(t0)), map[string]string{"stage": stage, "tenant": tenant})
}

// parseMetadataTime parses a retrieval hit's ts_source metadata value, the
// RFC3339 form internal/manifest.Sync stamps onto every indexed chunk.
// Absent or malformed values yield the zero time, which rerank.recencyFeature
// treats as unknown (0.5 default).
func parseMetadataTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// contentHashChunkID derives a chunk's identity from its content, not its
// position, so delta re-indexing (§4.6) can tell "this chunk's text
// changed" apart from "this chunk moved" — a chunk at the same index with
// different text gets a different ID, and an unmodified chunk keeps its ID
// across re-ingestion regardless of where it now falls in the document.
func contentHashChunkID(docID, text string) string {
	sum := md5.Sum([]byte(docID + "|" + text))
	return fmt.Sprintf("chunk:%x", sum)
}
