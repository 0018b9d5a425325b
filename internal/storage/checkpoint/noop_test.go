package checkpoint

import (
	"context"
	"testing"

	"github.com/claudecluster/core/internal/model"
)

func TestNoopStore_DiscardsEverything(t *testing.T) {
	store := NewNoopStore()
	ctx := context.Background()

	if err := store.SaveTask(ctx, &model.Task{ID: "t-1"}); err != nil {
		t.Fatalf("SaveTask returned error: %v", err)
	}
	if err := store.SaveResult(ctx, &model.TaskResult{TaskID: "t-1"}); err != nil {
		t.Fatalf("SaveResult returned error: %v", err)
	}
	if err := store.SaveSession(ctx, &model.Session{ID: "s-1"}); err != nil {
		t.Fatalf("SaveSession returned error: %v", err)
	}
	if err := store.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatalf("DeleteSession returned error: %v", err)
	}

	snap, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll returned error: %v", err)
	}
	if len(snap.Tasks) != 0 || len(snap.Results) != 0 || len(snap.Sessions) != 0 {
		t.Fatalf("got non-empty snapshot %+v, want an empty one", snap)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}
