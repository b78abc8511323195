// Package rerank implements the cross-encoder reranking stage (§4.9):
// recency and entity-overlap features layered onto an opaque score_pairs
// capability, with a cache keyed on query/candidate-set/model identity.
// Grounded on the Python CrossEncoderReranker's feature/cache/batch design.
package rerank

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"ragpipeline/internal/config"
)

// Candidate is one post-fusion retrieval hit to be reranked.
type Candidate struct {
	ID          string
	Text        string
	Score       float64
	TsSource    time.Time
	Metadata    map[string]string
	RerankScore float64
}

// CrossEncoder is the opaque model capability that scores query/document
// pairs. query and documents are parallel; len(result) == len(documents).
type CrossEncoder interface {
	ScorePairs(ctx context.Context, query string, documents []string, modelName string) ([]float64, error)
}

// EntityExtractor pulls entity surface forms out of free text, used to
// compute the entity_overlap feature. A nil EntityExtractor makes every
// candidate's entity_overlap feature 0, matching the reference
// implementation's default when no graph client is supplied.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// Result is the outcome of one Rerank call.
type Result struct {
	Items []Candidate
	// BelowThreshold counts how many of the returned items score below
	// QualityThresh; the caller decides what (if anything) to do about a
	// shortfall. No padding is performed (§4.9).
	BelowThreshold int
}

// Reranker scores and reorders candidates with an optional result cache.
type Reranker struct {
	encoder   CrossEncoder
	extractor EntityExtractor
	cache     Cache
	cfg       config.RerankerConfig
	now       func() time.Time
}

// Option configures a Reranker at construction time.
type Option func(*Reranker)

// WithCache enables result caching.
func WithCache(c Cache) Option {
	return func(r *Reranker) { r.cache = c }
}

// WithEntityExtractor enables the entity_overlap feature.
func WithEntityExtractor(e EntityExtractor) Option {
	return func(r *Reranker) { r.extractor = e }
}

// New constructs a Reranker against cfg's batch size, feature weights,
// cache TTL, and model name.
func New(encoder CrossEncoder, cfg config.RerankerConfig, opts ...Option) *Reranker {
	r := &Reranker{encoder: encoder, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reranker) modelName() string {
	if r.cfg.ModelName != "" {
		return r.cfg.ModelName
	}
	return "cross-encoder/ms-marco-MiniLM-L-6-v2"
}

func (r *Reranker) batchSize() int {
	if r.cfg.BatchSize > 0 {
		return r.cfg.BatchSize
	}
	return 16
}

func (r *Reranker) topK() int {
	if r.cfg.TopK > 0 {
		return r.cfg.TopK
	}
	return 5
}

// Rerank scores candidates against query, combines the cross-encoder's base
// score with the recency and entity-overlap features, sorts descending, and
// returns the top_k (§4.9). Cache hits skip scoring entirely.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	key := cacheKey(query, ids, r.modelName())

	if r.cache != nil {
		if raw, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			var cached Result
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	queryEntities, err := r.extractEntities(ctx, query)
	if err != nil {
		return Result{}, err
	}

	scored := make([]Candidate, len(candidates))
	copy(scored, candidates)
	now := r.now()

	for start := 0; start < len(scored); start += r.batchSize() {
		end := start + r.batchSize()
		if end > len(scored) {
			end = len(scored)
		}
		batch := scored[start:end]

		docs := make([]string, len(batch))
		for i, c := range batch {
			docs[i] = c.Text
		}
		base, err := r.encoder.ScorePairs(ctx, query, docs, r.modelName())
		if err != nil {
			return Result{}, err
		}

		for i := range batch {
			candidateEntities, err := r.extractEntities(ctx, batch[i].Text)
			if err != nil {
				return Result{}, err
			}
			recency := recencyFeature(batch[i].TsSource, now)
			overlap := entityOverlapFeature(queryEntities, candidateEntities)
			batch[i].RerankScore = base[i] + r.cfg.RecencyWeight*recency + r.cfg.EntityWeight*overlap
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].RerankScore > scored[j].RerankScore })

	k := r.topK()
	if k > len(scored) {
		k = len(scored)
	}
	top := scored[:k]

	var belowThreshold int
	if r.cfg.QualityThresh > 0 {
		for _, c := range top {
			if c.RerankScore < r.cfg.QualityThresh {
				belowThreshold++
			}
		}
	}

	result := Result{Items: top, BelowThreshold: belowThreshold}

	if r.cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			_ = r.cache.Set(ctx, key, raw, r.cfg.CacheTTL)
		}
	}
	return result, nil
}

func (r *Reranker) extractEntities(ctx context.Context, text string) ([]string, error) {
	if r.extractor == nil {
		return nil, nil
	}
	return r.extractor.Extract(ctx, text)
}
