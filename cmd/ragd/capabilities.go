package main

import (
	"context"

	"ragpipeline/internal/graph"
	"ragpipeline/internal/pipelineerr"
	"ragpipeline/internal/ragdata"
)

// unconfiguredCapability backs every opaque provider capability (LLM,
// cross-encoder, entity extractor/linker, embedder) until a concrete
// backend is wired in. The spec deliberately leaves these for external
// injection (§9): this binary ships only the pipeline plumbing around
// them, never a provider client.
type unconfiguredCapability struct{ name string }

func (c unconfiguredCapability) err() error {
	return pipelineerr.New(pipelineerr.DependencyUnavailable, c.name+" capability is not configured")
}

func (c unconfiguredCapability) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, c.err()
}

func (c unconfiguredCapability) Generate(context.Context, string) (string, error) {
	return "", c.err()
}

func (c unconfiguredCapability) GenerateStream(context.Context, string) (<-chan string, error) {
	return nil, c.err()
}

func (c unconfiguredCapability) ScorePairs(context.Context, string, []string, string) ([]float64, error) {
	return nil, c.err()
}

func (c unconfiguredCapability) Extract(context.Context, string) ([]string, error) {
	return nil, c.err()
}

func (c unconfiguredCapability) LinkEntities(context.Context, string, string) ([]string, error) {
	return nil, c.err()
}

// unconfiguredExtractor backs graph.Sink's entity/relation extraction
// capability until a concrete NLP/LLM-backed extractor is wired in.
type unconfiguredExtractor struct{}

func (unconfiguredExtractor) Extract(context.Context, ragdata.Document) ([]graph.ExtractedEntity, []graph.ExtractedRelation, error) {
	return nil, nil, pipelineerr.New(pipelineerr.DependencyUnavailable, "graph extractor capability is not configured")
}
