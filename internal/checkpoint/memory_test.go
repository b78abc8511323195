package checkpoint

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_SaveThenLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := s.Load(ctx, "gmail"); err != nil || ok {
		t.Fatalf("expected no checkpoint initially, got ok=%v err=%v", ok, err)
	}

	cp := Checkpoint{Cursor: "abc123", LastSync: time.Now()}
	if err := s.Save(ctx, "gmail", cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load(ctx, "gmail")
	if err != nil || !ok {
		t.Fatalf("expected checkpoint present, got ok=%v err=%v", ok, err)
	}
	if got.Cursor != "abc123" {
		t.Fatalf("unexpected cursor: %q", got.Cursor)
	}
}
