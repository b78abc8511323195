package chunker

import (
	"fmt"

	"ragpipeline/internal/config"
)

// SizedChunk is one chunk produced by a specific size pass of ChunkMultiSize,
// carrying enough information to build a size-scoped chunk ID.
type SizedChunk struct {
	Size int
	Chunk
}

// ChunkMultiSize runs v1 independently for each configured chunk size
// (§4.5 v2). Chunk IDs are scoped by size via SizeKey so that chunks of
// different sizes over the same text never collide.
func ChunkMultiSize(content string, cfg config.ChunkingConfig) []SizedChunk {
	sizes := cfg.ChunkSizes
	if len(sizes) == 0 {
		sizes = []int{cfg.ChunkSize}
	}

	var out []SizedChunk
	for _, size := range sizes {
		overlap := cfg.ChunkOverlap
		if cfg.OverlapRatio > 0 {
			overlap = int(float64(size) * cfg.OverlapRatio)
		}
		pass := Chunk(content, config.ChunkingConfig{ChunkSize: size, ChunkOverlap: overlap})
		for _, c := range pass {
			out = append(out, SizedChunk{Size: size, Chunk: c})
		}
	}
	return out
}

// SizeKey returns the size-scoped discriminator folded into a chunk_id so
// that chunks from different size passes over identical text never collide
// (§4.5 v2: "chunk IDs are scoped by size").
func SizeKey(size, index int) string {
	return fmt.Sprintf("s%d:%d", size, index)
}
