package generate

import (
	"context"
	"strings"
	"testing"

	"ragpipeline/internal/config"
	"ragpipeline/internal/ragdata"
)

type fakeLLM struct {
	answer string
	err    error
	stream []string
	// block, when set, makes GenerateStream return a channel that never
	// delivers or closes, so a test can exercise cancellation without a
	// race against stream completion.
	block bool
}

func (f *fakeLLM) Generate(_ context.Context, _ string) (string, error) {
	return f.answer, f.err
}

func (f *fakeLLM) GenerateStream(_ context.Context, _ string) (<-chan string, error) {
	if f.block {
		return make(chan string), nil
	}
	ch := make(chan string, len(f.stream))
	for _, t := range f.stream {
		ch <- t
	}
	close(ch)
	return ch, nil
}

func longItem(n int) Item {
	return Item{ID: "c1", Text: strings.Repeat("a", n)}
}

func TestEvidenceScore_BoundedByMaxLength(t *testing.T) {
	if got := EvidenceScore(nil); got != 0 {
		t.Fatalf("expected 0 for empty context, got %v", got)
	}
	if got := EvidenceScore([]Item{longItem(20000)}); got != 1 {
		t.Fatalf("expected score clamped to 1, got %v", got)
	}
	if got := EvidenceScore([]Item{longItem(5000)}); got != 0.5 {
		t.Fatalf("expected 0.5 for 5000 chars, got %v", got)
	}
}

func TestGenerate_RefusesWhenEvidenceInsufficient(t *testing.T) {
	ctx := context.Background()
	g := New(&fakeLLM{answer: "should not be called"}, config.GroundingConfig{MinEvidenceScore: 0.7})

	resp, err := g.Generate(ctx, "what happened?", []Item{longItem(100)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.HasSufficientEvidence {
		t.Fatal("expected insufficient evidence")
	}
	if resp.Answer != refusalAnswer {
		t.Fatalf("expected refusal answer, got %q", resp.Answer)
	}
	if len(resp.Citations) != 0 {
		t.Fatalf("expected no citations on refusal, got %+v", resp.Citations)
	}
	if resp.State != StateRefused {
		t.Fatalf("expected StateRefused, got %v", resp.State)
	}
}

// TestGenerate_SpecScenario6 reproduces §8 scenario 6: a 3-item context and
// an answer citing [1] and [3]; citations are extracted in the order they
// first appear, skipping [2] and any duplicates/out-of-range markers.
func TestGenerate_SpecScenario6(t *testing.T) {
	ctx := context.Background()
	items := []Item{
		{ID: "chunk-1", Text: strings.Repeat("a", 4000), DocID: "doc-1", SourceTool: "wiki"},
		{ID: "chunk-2", Text: strings.Repeat("b", 4000), DocID: "doc-2", SourceTool: "wiki"},
		{ID: "chunk-3", Text: strings.Repeat("c", 4000), DocID: "doc-3", SourceTool: "wiki"},
	}
	g := New(&fakeLLM{answer: "Answer [1] and [3]."}, config.GroundingConfig{MinEvidenceScore: 0.7})

	resp, err := g.Generate(ctx, "query", items)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !resp.HasSufficientEvidence {
		t.Fatal("expected sufficient evidence")
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %+v", resp.Citations)
	}
	if resp.Citations[0].ChunkID != "chunk-1" || resp.Citations[1].ChunkID != "chunk-3" {
		t.Fatalf("expected citations for chunk-1 then chunk-3 in order, got %+v", resp.Citations)
	}
}

func TestExtractCitations_IgnoresOutOfRangeAndDuplicateMarkers(t *testing.T) {
	items := []Item{{ID: "c1", Text: "x"}}
	got := extractCitations("see [1] and [1] again, also [5]", items)
	if len(got) != 1 || got[0].ChunkID != "c1" {
		t.Fatalf("expected a single deduped, in-range citation, got %+v", got)
	}
}

func TestExtractCitations_OrdersByFirstAppearanceNotNumericOrder(t *testing.T) {
	items := []Item{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}
	got := extractCitations("first [3] then [1]", items)
	if len(got) != 2 || got[0].ChunkID != "c3" || got[1].ChunkID != "c1" {
		t.Fatalf("expected [c3, c1] order, got %+v", got)
	}
}

func TestCitationFor_EdgeCarriesValidityWindow(t *testing.T) {
	item := ItemFromMetadata("edge-1", "alice works_for acme", map[string]string{
		"type": "edge", "relation": "works_for",
		"t_valid_start": "2020-01-01T00:00:00Z", "t_valid_end": "2025-01-01T00:00:00Z",
	})
	c := citationFor(item)
	if c.RefType != ragdata.CitationEdge || c.EdgeID != "edge-1" || c.Validity == nil {
		t.Fatalf("expected edge citation with validity, got %+v", c)
	}
}

func TestGenerateStream_YieldsAnswerTokensThenTrailingCitations(t *testing.T) {
	ctx := context.Background()
	items := []Item{{ID: "c1", Text: strings.Repeat("a", 8000), DocID: "doc-1"}}
	g := New(&fakeLLM{stream: []string{"hello ", "world"}}, config.GroundingConfig{MinEvidenceScore: 0.1})

	frames, err := g.GenerateStream(ctx, "query", items)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	var got []Frame
	for f := range frames {
		got = append(got, f)
	}
	if len(got) != 3 {
		t.Fatalf("expected 2 answer frames + 1 citations frame, got %d: %+v", len(got), got)
	}
	if got[0].Content != "hello " || got[1].Content != "world" {
		t.Fatalf("unexpected answer frames: %+v", got[:2])
	}
	if got[2].Type != "citations" || len(got[2].Citations) != 1 || !got[2].Done {
		t.Fatalf("expected trailing citations frame, got %+v", got[2])
	}
}

func TestGenerateStream_RefusalSkipsLLM(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{stream: []string{"should not be reached"}}
	g := New(llm, config.GroundingConfig{MinEvidenceScore: 0.9})

	frames, err := g.GenerateStream(ctx, "query", []Item{{ID: "c1", Text: "short"}})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	var got []Frame
	for f := range frames {
		got = append(got, f)
	}
	if len(got) != 1 || got[0].Content != refusalAnswer || !got[0].Done {
		t.Fatalf("expected single refusal frame, got %+v", got)
	}
}

func TestGenerateStream_CancellationYieldsCancelledFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := []Item{{ID: "c1", Text: strings.Repeat("a", 8000)}}
	g := New(&fakeLLM{block: true}, config.GroundingConfig{MinEvidenceScore: 0.1})

	frames, err := g.GenerateStream(ctx, "query", items)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	cancel()

	f, ok := <-frames
	if !ok {
		t.Fatal("expected a cancelled frame before channel close")
	}
	if f.Type != "cancelled" || !f.Done {
		t.Fatalf("expected cancelled frame, got %+v", f)
	}
}
