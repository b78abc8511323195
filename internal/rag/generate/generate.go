// Package generate implements the grounded answer generator (§4.10):
// an evidence-score gate, a numbered context block, citation-bound
// generation, and a streaming variant that emits a trailing citations
// frame. Grounded on the Python GroundedGenerator's evidence-score
// heuristic and context-marking/citation-extraction scheme.
package generate

import (
	"context"
	"fmt"
	"strings"

	"ragpipeline/internal/config"
	"ragpipeline/internal/pipelineerr"
	"ragpipeline/internal/ragdata"
)

const refusalAnswer = "I don't have enough information to answer that question."

// maxEvidenceLength is the evidence-length normalization constant (§4.10
// point 1): an evidence score of 1.0 is reached at this many characters of
// combined context text.
const maxEvidenceLength = 10000.0

// LLM is the opaque generation capability (§1 Non-goals: provider clients
// are out of scope; only this narrow contract is depended on).
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) (<-chan string, error)
}

// State is a query's position in the generation state machine (§4.10).
type State string

const (
	StateReceived  State = "Received"
	StateRetrieved State = "Retrieved"
	StateReranked  State = "Reranked"
	StateGenerating State = "Generating"
	StateDone      State = "Done"
	StateRefused   State = "Refused"
	StateCancelled State = "Cancelled"
)

// Response is the result of one non-streaming grounded generation.
type Response struct {
	Answer               string
	Citations            []ragdata.Citation
	HasSufficientEvidence bool
	EvidenceScore         float64
	State                 State
}

// Generator produces citation-bound answers from retrieved/reranked
// context.
type Generator struct {
	llm LLM
	cfg config.GroundingConfig
}

// New constructs a Generator against cfg's evidence-score threshold.
func New(llm LLM, cfg config.GroundingConfig) *Generator {
	return &Generator{llm: llm, cfg: cfg}
}

func (g *Generator) minEvidenceScore() float64 {
	if g.cfg.MinEvidenceScore > 0 {
		return g.cfg.MinEvidenceScore
	}
	return 0.7
}

// EvidenceScore computes min(1, Σ|text| / maxEvidenceLength) over context
// (§4.10 point 1).
func EvidenceScore(context []Item) float64 {
	var total int
	for _, item := range context {
		total += len(item.Text)
	}
	score := float64(total) / maxEvidenceLength
	if score > 1 {
		return 1
	}
	return score
}

// buildContextBlock renders the numbered context block (§4.10 point 3):
// each item prefixed by [i] starting at 1, edges rendered as
// "[i] relation (valid from t_start to t_end)".
func buildContextBlock(context []Item) string {
	lines := make([]string, len(context))
	for i, item := range context {
		if item.IsEdge {
			lines[i] = fmt.Sprintf("[%d] %s (valid from %s to %s)", i+1, item.Relation, item.TValidStart, item.TValidEnd)
		} else {
			lines[i] = fmt.Sprintf("[%d] %s", i+1, item.Text)
		}
	}
	return strings.Join(lines, "\n\n")
}

func buildPrompt(query, contextBlock string) string {
	return fmt.Sprintf(
		"Answer the query based ONLY on the provided context.\n"+
			"For each claim in your answer, cite the specific source using [number].\n"+
			"If the context doesn't contain enough information, say so.\n\n"+
			"Context:\n%s\n\nQuery: %s", contextBlock, query)
}

// Generate runs the non-streaming grounded generation pipeline (§4.10
// points 1-5).
func (g *Generator) Generate(ctx context.Context, query string, items []Item) (Response, error) {
	score := EvidenceScore(items)
	if score < g.minEvidenceScore() {
		return Response{
			Answer:                refusalAnswer,
			HasSufficientEvidence: false,
			EvidenceScore:         score,
			State:                 StateRefused,
		}, nil
	}

	prompt := buildPrompt(query, buildContextBlock(items))
	answer, err := g.llm.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return Response{State: StateCancelled}, pipelineerr.Wrap(pipelineerr.Cancelled, "generation cancelled", ctx.Err())
		}
		return Response{}, err
	}

	return Response{
		Answer:                answer,
		Citations:             extractCitations(answer, items),
		HasSufficientEvidence: true,
		EvidenceScore:         score,
		State:                 StateDone,
	}, nil
}

// Frame is one event of a streaming grounded generation.
type Frame struct {
	Type      string // "answer", "citations", or "cancelled"
	Content   string
	Citations []ragdata.Citation
	Done      bool
}

// GenerateStream runs the streaming variant (§4.10 point 6): yields the
// token stream unchanged as "answer" frames, then a trailing "citations"
// frame built from the context (not the answer), sent once the token
// stream has ended. A cancelled context yields a terminal
// "cancelled" frame and stops.
func (g *Generator) GenerateStream(ctx context.Context, query string, items []Item) (<-chan Frame, error) {
	out := make(chan Frame)

	score := EvidenceScore(items)
	if score < g.minEvidenceScore() {
		go func() {
			defer close(out)
			out <- Frame{Type: "answer", Content: refusalAnswer, Done: true}
		}()
		return out, nil
	}

	prompt := buildPrompt(query, buildContextBlock(items))
	tokens, err := g.llm.GenerateStream(ctx, prompt)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				out <- Frame{Type: "cancelled", Done: true}
				return
			case tok, ok := <-tokens:
				if !ok {
					out <- Frame{Type: "citations", Citations: citationsFromContext(items), Done: true}
					return
				}
				out <- Frame{Type: "answer", Content: tok}
			}
		}
	}()
	return out, nil
}
