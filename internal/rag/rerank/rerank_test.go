package rerank

import (
	"context"
	"testing"
	"time"

	"ragpipeline/internal/config"
)

type fakeEncoder struct {
	scores map[string]float64
	calls  int
}

func (f *fakeEncoder) ScorePairs(_ context.Context, _ string, documents []string, _ string) ([]float64, error) {
	f.calls++
	out := make([]float64, len(documents))
	for i, d := range documents {
		out[i] = f.scores[d]
	}
	return out, nil
}

func TestRerank_SortsDescendingByCombinedScore(t *testing.T) {
	ctx := context.Background()
	encoder := &fakeEncoder{scores: map[string]float64{"low doc": 0.1, "high doc": 0.9}}
	r := New(encoder, config.RerankerConfig{BatchSize: 16, TopK: 5})

	candidates := []Candidate{
		{ID: "a", Text: "low doc"},
		{ID: "b", Text: "high doc"},
	}
	res, err := r.Rerank(ctx, "query", candidates)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(res.Items) != 2 || res.Items[0].ID != "b" {
		t.Fatalf("expected b ranked first, got %+v", res.Items)
	}
}

func TestRerank_RespectsTopK(t *testing.T) {
	ctx := context.Background()
	encoder := &fakeEncoder{scores: map[string]float64{"d1": 0.5, "d2": 0.6, "d3": 0.7}}
	r := New(encoder, config.RerankerConfig{BatchSize: 16, TopK: 2})

	candidates := []Candidate{{ID: "1", Text: "d1"}, {ID: "2", Text: "d2"}, {ID: "3", Text: "d3"}}
	res, err := r.Rerank(ctx, "query", candidates)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected top_k=2 results, got %d", len(res.Items))
	}
	if res.Items[0].ID != "3" || res.Items[1].ID != "2" {
		t.Fatalf("expected [3,2], got %+v", res.Items)
	}
}

func TestRerank_AppliesRecencyAndEntityWeights(t *testing.T) {
	ctx := context.Background()
	// Both candidates get identical base scores; recency/entity features
	// must be the tie-breaker.
	encoder := &fakeEncoder{scores: map[string]float64{"old": 0.5, "new": 0.5}}
	r := New(encoder, config.RerankerConfig{BatchSize: 16, TopK: 5, RecencyWeight: 0.1, EntityWeight: 0.2})
	r.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	candidates := []Candidate{
		{ID: "old", Text: "old", TsSource: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "new", Text: "new", TsSource: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)},
	}
	res, err := r.Rerank(ctx, "query", candidates)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if res.Items[0].ID != "new" {
		t.Fatalf("expected more recent candidate to win the tie, got %+v", res.Items)
	}
}

func TestRerank_CacheHitSkipsScoring(t *testing.T) {
	ctx := context.Background()
	encoder := &fakeEncoder{scores: map[string]float64{"d1": 0.5}}
	cache := NewMemoryCache()
	r := New(encoder, config.RerankerConfig{BatchSize: 16, TopK: 5, CacheTTL: time.Hour}, WithCache(cache))

	candidates := []Candidate{{ID: "1", Text: "d1"}}
	if _, err := r.Rerank(ctx, "query", candidates); err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if encoder.calls != 1 {
		t.Fatalf("expected 1 scoring call before cache warm, got %d", encoder.calls)
	}

	if _, err := r.Rerank(ctx, "query", candidates); err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if encoder.calls != 1 {
		t.Fatalf("expected cache hit to skip scoring, got %d calls", encoder.calls)
	}
}

func TestRerank_ModelChangeInvalidatesCacheKey(t *testing.T) {
	encoder := &fakeEncoder{}
	k1 := cacheKey("q", []string{"a", "b"}, "model-1")
	k2 := cacheKey("q", []string{"a", "b"}, "model-2")
	if k1 == k2 {
		t.Fatal("expected different model names to produce different cache keys")
	}
	_ = encoder
}

func TestRerank_ReportsShortfallBelowQualityThreshold(t *testing.T) {
	ctx := context.Background()
	encoder := &fakeEncoder{scores: map[string]float64{"d1": 0.1, "d2": 0.9}}
	r := New(encoder, config.RerankerConfig{BatchSize: 16, TopK: 5, QualityThresh: 0.5})

	candidates := []Candidate{{ID: "1", Text: "d1"}, {ID: "2", Text: "d2"}}
	res, err := r.Rerank(ctx, "query", candidates)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected no padding, got %d items", len(res.Items))
	}
	if res.BelowThreshold != 1 {
		t.Fatalf("expected 1 candidate below threshold, got %d", res.BelowThreshold)
	}
}

func TestRecencyFeature_DefaultsWhenTimestampUnknown(t *testing.T) {
	if got := recencyFeature(time.Time{}, time.Now()); got != 0.5 {
		t.Fatalf("expected default recency 0.5, got %v", got)
	}
}

func TestEntityOverlapFeature_ZeroWhenQueryEmpty(t *testing.T) {
	if got := entityOverlapFeature(nil, []string{"a"}); got != 0 {
		t.Fatalf("expected 0 overlap for empty query entities, got %v", got)
	}
}

func TestEntityOverlapFeature_NormalizedByQuerySize(t *testing.T) {
	got := entityOverlapFeature([]string{"a", "b"}, []string{"a"})
	if got != 0.5 {
		t.Fatalf("expected 0.5 overlap, got %v", got)
	}
}
