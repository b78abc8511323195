package retrieve

import (
	"math"
	"sort"

	"ragpipeline/internal/persistence/databases"
)

// fused is one candidate's merged score and provenance across the two
// ranked input lists.
type fused struct {
	ID            string
	Score         float64
	VecRank       int // 0-based; -1 if absent
	TextRank      int // 0-based; -1 if absent
	FirstSeenRank int // min(VecRank, TextRank) with absence as +inf
	Text          string
	Snippet       string
	Metadata      map[string]string
}

// FuseRRF combines the vector and lexical result lists via Reciprocal
// Rank Fusion (§4.8 points 2-4, §8 scenario 1). Each list contributes
// w_i / (rank_i(r) + k) per item, ranks are 0-based, absence contributes
// 0. Ties break by lower first-seen rank, then lexical id.
func FuseRRF(vec []databases.VectorResult, text []databases.SearchResult, opt Options) []fused {
	vecWeight, textWeight := opt.weights()
	k := opt.rrfK()

	byID := make(map[string]*fused)
	order := func(id string) *fused {
		f, ok := byID[id]
		if !ok {
			f = &fused{ID: id, VecRank: -1, TextRank: -1}
			byID[id] = f
		}
		return f
	}

	for rank, r := range vec {
		f := order(r.ID)
		f.VecRank = rank
		f.Score += vecWeight / float64(k+rank)
		f.Metadata = mergeMetadata(f.Metadata, r.Metadata)
	}
	for rank, r := range text {
		f := order(r.ID)
		f.TextRank = rank
		f.Score += textWeight / float64(k+rank)
		if f.Text == "" {
			f.Text = r.Text
		}
		if f.Snippet == "" {
			f.Snippet = r.Snippet
		}
		f.Metadata = mergeMetadata(f.Metadata, r.Metadata)
	}

	out := make([]fused, 0, len(byID))
	for _, f := range byID {
		f.FirstSeenRank = firstSeenRank(f.VecRank, f.TextRank)
		out = append(out, *f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].FirstSeenRank != out[j].FirstSeenRank {
			return out[i].FirstSeenRank < out[j].FirstSeenRank
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func firstSeenRank(vecRank, textRank int) int {
	best := math.MaxInt32
	if vecRank >= 0 && vecRank < best {
		best = vecRank
	}
	if textRank >= 0 && textRank < best {
		best = textRank
	}
	return best
}

func mergeMetadata(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
	return dst
}
