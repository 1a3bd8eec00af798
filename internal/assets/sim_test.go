package assets

import (
	"context"
	"testing"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

func TestSimRuntimeSnapshotRollsBackSlots(t *testing.T) {
	rt := NewSimRuntime(nil)
	ctx := context.Background()

	h, err := rt.MaterializeResource(ctx, domain.Asset{AccessionID: "plate-1", Kind: domain.AssetKindResource, Type: "corning_96"}, "corning_96")
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if err := rt.AssignToSlot(ctx, "deck-1", "A1", h); err != nil {
		t.Fatalf("assign: %v", err)
	}
	blob, err := rt.SnapshotState(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// Mutate past the snapshot point, then roll back.
	if err := rt.ClearSlot(ctx, "deck-1", "A1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := rt.Teardown(ctx, "plate-1"); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if err := rt.ApplyStateSnapshot(ctx, blob); err != nil {
		t.Fatalf("restore: %v", err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.slots["deck-1/A1"] != "plate-1" {
		t.Fatalf("slot not restored: %v", rt.slots)
	}
	if _, ok := rt.handles["plate-1"]; !ok {
		t.Fatal("handle not restored")
	}
}

func TestSimRuntimeRejectsDoubleMaterialize(t *testing.T) {
	rt := NewSimRuntime(nil)
	asset := domain.Asset{AccessionID: "pip-1", Kind: domain.AssetKindDevice, Type: "pipettor"}
	if _, err := rt.InitializeDevice(context.Background(), asset); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, err := rt.InitializeDevice(context.Background(), asset); err == nil {
		t.Fatal("expected duplicate materialization to fail")
	}
}

func TestSimRuntimeRejectsOccupiedSlot(t *testing.T) {
	rt := NewSimRuntime(nil)
	ctx := context.Background()
	h1, _ := rt.MaterializeResource(ctx, domain.Asset{AccessionID: "plate-1"}, "corning_96")
	h2, _ := rt.MaterializeResource(ctx, domain.Asset{AccessionID: "plate-2"}, "corning_96")
	if err := rt.AssignToSlot(ctx, "deck-1", "A1", h1); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := rt.AssignToSlot(ctx, "deck-1", "A1", h2); err == nil {
		t.Fatal("expected occupied slot to reject")
	}
}
