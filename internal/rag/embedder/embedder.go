// Package embedder batches chunks through the opaque embed capability
// (§4.5, §9 "opaque provider capabilities") and stamps the resulting
// vectors with the embedding model/version that produced them.
package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"ragpipeline/internal/config"
	"ragpipeline/internal/ragdata"
)

// EmbedCapability is the opaque embed provider contract (§9): implementers
// inject a concrete backend (an HTTP client, a local model server, ...)
// behind this narrow interface. This package never assumes anything about
// the backend beyond "batch of texts in, batch of vectors out".
type EmbedCapability interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder stamps chunks with embeddings in batches of cfg.BatchSize
// (default 16), tagging each with the model/version that produced it.
type Embedder struct {
	cap EmbedCapability
	cfg config.EmbeddingConfig

	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// New constructs an Embedder over the given embed capability.
func New(cap EmbedCapability, cfg config.EmbeddingConfig) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	return &Embedder{cap: cap, cfg: cfg}
}

// WithRateLimit sets a minimum delay enforced between underlying batch
// calls, for backends that crash or throttle under bursty concurrent load.
func (e *Embedder) WithRateLimit(d time.Duration) *Embedder {
	e.minDelay = d
	return e
}

// EmbedChunks embeds every chunk in batches of cfg.BatchSize and stamps
// Embedding, EmbeddingModel, EmbeddingVersion, TsEmbedded in place.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []ragdata.Chunk, now time.Time) error {
	for start := 0; start < len(chunks); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := e.rateLimitedCall(ctx, texts)
		if err != nil {
			return err
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
			batch[i].EmbeddingModel = e.cfg.Model
			batch[i].EmbeddingVersion = e.cfg.Version
			batch[i].TsEmbedded = now
		}
	}
	return nil
}

func (e *Embedder) rateLimitedCall(ctx context.Context, texts []string) ([][]float32, error) {
	if e.minDelay > 0 {
		e.mu.Lock()
		if !e.lastCall.IsZero() {
			if elapsed := time.Since(e.lastCall); elapsed < e.minDelay {
				time.Sleep(e.minDelay - elapsed)
			}
		}
		e.lastCall = time.Now()
		e.mu.Unlock()
	}
	return e.cap.EmbedBatch(ctx, texts)
}

// NeedsReembed reports whether a chunk's stamped model/version no longer
// matches the current config, per §4.5: "re-embedding on model change is
// triggered by detecting a mismatch between the chunk's stamp and the
// current config; affected chunks are re-enqueued for embedding only".
func NeedsReembed(c ragdata.Chunk, cfg config.EmbeddingConfig) bool {
	return c.EmbeddingModel != cfg.Model || c.EmbeddingVersion != cfg.Version
}

// SelectForReembed filters chunks needing re-embedding without touching
// their text or chunk_id, preserving the "re-enqueued for embedding only
// (no re-chunking)" guarantee.
func SelectForReembed(chunks []ragdata.Chunk, cfg config.EmbeddingConfig) []ragdata.Chunk {
	var out []ragdata.Chunk
	for _, c := range chunks {
		if NeedsReembed(c, cfg) {
			out = append(out, c)
		}
	}
	return out
}

// DeterministicCapability is a hash-based EmbedCapability suitable for
// tests and for the in-memory stores: 3-gram byte hashing into a
// fixed-size vector, optionally L2-normalized.
type DeterministicCapability struct {
	Dim       int
	Normalize bool
	Seed      uint64
}

func (d DeterministicCapability) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	dim := d.Dim
	if dim <= 0 {
		dim = 64
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t, dim)
	}
	return out, nil
}

func (d DeterministicCapability) embedOne(s string, dim int) []float32 {
	v := make([]float32, dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		addGram(d.Seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(d.Seed, b[i:i+3], v)
		}
	}
	if d.Normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
