// Package checkpoint persists per-tool cursors so incremental ingestion
// survives process restarts (§4.3, §6 persisted state).
package checkpoint

import (
	"context"
	"time"
)

// Checkpoint is the persisted state of one tool's sync progress. Pull sync
// uses Cursor/LastSync; stream sync uses LastEventID/LastEvent.
type Checkpoint struct {
	Cursor      string    `json:"cursor,omitempty"`
	LastSync    time.Time `json:"last_sync,omitzero"`
	LastEventID string    `json:"last_event_id,omitempty"`
	LastEvent   time.Time `json:"last_event,omitzero"`
}

// Store is the narrow persistence capability the ingestion worker depends
// on.
type Store interface {
	Load(ctx context.Context, toolID string) (Checkpoint, bool, error)
	Save(ctx context.Context, toolID string, cp Checkpoint) error
}
