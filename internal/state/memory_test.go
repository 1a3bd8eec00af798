package state

import (
	"context"
	"errors"
	"testing"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

func TestWritesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	store := NewMemoryFactory(backend).ForRun("run-1")
	if err := store.Set(ctx, "well_volume", 42.5); err != nil {
		t.Fatalf("set: %v", err)
	}

	// A new factory over the same backend stands in for a restarted process.
	restarted := NewMemoryFactory(backend).ForRun("run-1")
	value, err := restarted.Get(ctx, "well_volume")
	if err != nil {
		t.Fatalf("get after restart: %v", err)
	}
	if value != 42.5 {
		t.Fatalf("expected 42.5, got %v", value)
	}
}

func TestStoresAreRunScoped(t *testing.T) {
	ctx := context.Background()
	factory := NewMemoryFactory(nil)
	a := factory.ForRun("run-a")
	b := factory.ForRun("run-b")
	if err := a.Set(ctx, "k", "va"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected isolation between runs, got %v", err)
	}
}

func TestUpdateExportClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryFactory(nil).ForRun("run-1")
	if err := store.Update(ctx, domain.Metadata{"a": 1.0, "b": "two"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Set(ctx, AssetSnapshotKey, "snapshot-blob"); err != nil {
		t.Fatalf("set snapshot: %v", err)
	}
	exported, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exported) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(exported))
	}
	if exported["b"] != "two" {
		t.Fatalf("expected b=two, got %v", exported["b"])
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected deleted key gone, got %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected empty state after clear, got %v", keys)
	}
}
