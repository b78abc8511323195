// Package manifest implements chunk-manifest delta indexing (§4.6):
// diffing a document's previous chunk set against its freshly chunked set
// and converging the vector store, text index, and manifest record.
package manifest

import (
	"context"
	"strings"
	"time"

	"ragpipeline/internal/persistence/databases"
	"ragpipeline/internal/ragdata"
)

// Store persists one ChunkManifest per doc_id.
type Store interface {
	Load(ctx context.Context, docID string) (ragdata.ChunkManifest, bool, error)
	Save(ctx context.Context, m ragdata.ChunkManifest) error
}

// Diff computes the delete/upsert sets for a document's manifest update
// (§4.6 points 3-4): to_delete = C_old \ C_new, to_upsert = C_new.
func Diff(oldIDs, newIDs []string) (toDelete, toUpsert []string) {
	newSet := make(map[string]bool, len(newIDs))
	for _, id := range newIDs {
		newSet[id] = true
	}
	for _, id := range oldIDs {
		if !newSet[id] {
			toDelete = append(toDelete, id)
		}
	}
	toUpsert = append(toUpsert, newIDs...)
	return toDelete, toUpsert
}

// Sync reconciles the manifest for one document's chunk set against the
// vector store and text index, following the delete-before-upsert order
// that guarantees convergence even across retries (§4.6).
func Sync(ctx context.Context, store Store, vector databases.VectorStore, text databases.TextIndex, docID, docChecksum string, chunks []ragdata.Chunk, now time.Time) error {
	existing, _, err := store.Load(ctx, docID)
	if err != nil {
		return err
	}

	newIDs := make([]string, len(chunks))
	byID := make(map[string]ragdata.Chunk, len(chunks))
	for i, c := range chunks {
		newIDs[i] = c.ChunkID
		byID[c.ChunkID] = c
	}

	toDelete, toUpsert := Diff(existing.ChunkIDs, newIDs)

	for _, id := range toDelete {
		if err := vector.Delete(ctx, id); err != nil {
			return err
		}
		if err := text.Delete(ctx, id); err != nil {
			return err
		}
	}

	for _, id := range toUpsert {
		c := byID[id]
		metadata := map[string]string{
			"tenant_id":   c.TenantID,
			"source_tool": c.SourceTool,
			"doc_id":      c.DocID,
			"acl":         strings.Join(c.ACL, ","),
			"ts_source":   formatTime(c.TsSource),
		}
		if err := vector.Upsert(ctx, id, c.Embedding, metadata); err != nil {
			return err
		}
		if err := text.Upsert(ctx, id, c.Text, metadata); err != nil {
			return err
		}
	}

	updated := ragdata.ChunkManifest{
		DocID:     docID,
		Checksum:  docChecksum,
		ChunkIDs:  newIDs,
		TsUpdated: now,
	}
	if existing.TsCreated.IsZero() {
		updated.TsCreated = now
	} else {
		updated.TsCreated = existing.TsCreated
	}
	return store.Save(ctx, updated)
}

// formatTime renders a chunk's ts_source for metadata storage, matching the
// RFC3339 form internal/rag/generate.parseTime expects to read back.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
