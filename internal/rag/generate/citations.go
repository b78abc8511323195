package generate

import (
	"regexp"
	"strconv"
	"time"

	"ragpipeline/internal/ragdata"
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations scans answer for [i] tokens and returns a Citation for
// each unique, in-range i, ordered by first appearance in the answer (§4.10
// point 5, §8 scenario 6) — not numeric order, since a model may cite out
// of sequence or skip sources.
func extractCitations(answer string, context []Item) []ragdata.Citation {
	matches := citationPattern.FindAllStringSubmatch(answer, -1)

	var citations []ragdata.Citation
	seen := make(map[int]bool)
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(context) {
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		citations = append(citations, citationFor(context[n-1]))
	}
	return citations
}

// citationsFromContext builds a Citation for every context item regardless
// of whether it was cited, for streaming's final citations event (§4.10
// point 6, rendered from context rather than the answer).
func citationsFromContext(context []Item) []ragdata.Citation {
	out := make([]ragdata.Citation, len(context))
	for i, item := range context {
		out[i] = citationFor(item)
	}
	return out
}

func citationFor(item Item) ragdata.Citation {
	if item.IsEdge {
		c := ragdata.Citation{
			RefType:  ragdata.CitationEdge,
			EdgeID:   item.ID,
			Relation: item.Relation,
		}
		c.Validity = &struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		}{Start: item.TValidStart, End: item.TValidEnd}
		return c
	}
	return ragdata.Citation{
		RefType:    ragdata.CitationChunk,
		ChunkID:    item.ID,
		DocID:      item.DocID,
		SourceTool: item.SourceTool,
		TsSource:   item.TsSource,
	}
}
