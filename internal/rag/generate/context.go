package generate

import "time"

// Item is one piece of evidence (chunk or graph edge) ready to be rendered
// into the numbered context block (§4.10 point 3).
type Item struct {
	ID         string
	Text       string
	IsEdge     bool
	DocID      string
	SourceTool string
	Relation   string
	TValidStart time.Time
	TValidEnd   time.Time
	TsSource    time.Time
}

// ItemFromMetadata builds an Item from a retrieval/rerank hit's id, text,
// and string-keyed metadata, discriminating chunk vs. edge by
// metadata["type"] == "edge" the way the retriever tags graph-augmented
// pseudo-chunks (§4.8).
func ItemFromMetadata(id, text string, metadata map[string]string) Item {
	if metadata["type"] == "edge" {
		return Item{
			ID:          id,
			Text:        text,
			IsEdge:      true,
			Relation:    metadata["relation"],
			TValidStart: parseTime(metadata["t_valid_start"]),
			TValidEnd:   parseTime(metadata["t_valid_end"]),
		}
	}
	return Item{
		ID:         id,
		Text:       text,
		DocID:      metadata["doc_id"],
		SourceTool: metadata["source_tool"],
		TsSource:   parseTime(metadata["ts_source"]),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
