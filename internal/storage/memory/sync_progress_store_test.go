package memory

import (
	"context"
	"errors"
	"testing"

	"shares-market/internal/storage"
)

func TestSyncProgressStore_EmptyReturnsNotFound(t *testing.T) {
	store := NewSyncProgressStore()
	ctx := context.Background()

	_, err := store.GetLastSeq(ctx)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSyncProgressStore_SetAndGet(t *testing.T) {
	store := NewSyncProgressStore()
	ctx := context.Background()

	if err := store.SetLastSeq(ctx, 42); err != nil {
		t.Fatalf("SetLastSeq failed: %v", err)
	}

	seq, err := store.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq failed: %v", err)
	}
	if seq != 42 {
		t.Errorf("Seq mismatch: got %d, want 42", seq)
	}

	// Zero is a valid saved position.
	if err := store.SetLastSeq(ctx, 0); err != nil {
		t.Fatalf("SetLastSeq(0) failed: %v", err)
	}
	seq, err = store.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq after zero failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("Seq mismatch: got %d, want 0", seq)
	}
}
