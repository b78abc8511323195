package databases

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryText is a naive in-memory lexical index: term-frequency scoring
// with metadata-equality filtering, good enough for tests and small tenants.
type memoryText struct {
	mu   sync.RWMutex
	docs map[string]textDoc
}

type textDoc struct {
	text     string
	metadata map[string]string
}

func NewMemoryText() TextIndex { return &memoryText{docs: make(map[string]textDoc)} }

func (m *memoryText) Upsert(_ context.Context, id, text string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = textDoc{text: text, metadata: copyMap(metadata)}
	return nil
}

func (m *memoryText) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memoryText) Search(_ context.Context, query string, limit int, filter map[string]string) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))
	results := make([]SearchResult, 0, limit)
	for id, d := range m.docs {
		if !matchesFilter(d.metadata, filter) {
			continue
		}
		score := termFrequencyScore(d.text, terms)
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: score, Snippet: snippet(d.text), Text: d.text, Metadata: copyMap(d.metadata)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func termFrequencyScore(text string, terms []string) float64 {
	lt := strings.ToLower(text)
	var score float64
	for _, t := range terms {
		if t == "" {
			continue
		}
		if count := strings.Count(lt, t); count > 0 {
			score += float64(count)
		}
	}
	return score
}

func snippet(text string) string {
	if len(text) > 120 {
		return text[:120]
	}
	return text
}
