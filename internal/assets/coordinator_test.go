package assets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/repo"
	"github.com/praxis-labs/praxis-go/internal/repo/memory"
)

type fakeRuntime struct {
	mu         sync.Mutex
	live       map[string]bool
	slots      map[string]string
	initErr     error
	resourceErr error
	slotErr     error
	snapshot    []byte
	restored    [][]byte
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{live: map[string]bool{}, slots: map[string]string{}}
}

func (r *fakeRuntime) InitializeDevice(_ context.Context, asset domain.Asset) (Handle, error) {
	if r.initErr != nil {
		return nil, r.initErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[asset.AccessionID] = true
	return "handle:" + asset.AccessionID, nil
}

func (r *fakeRuntime) MaterializeResource(_ context.Context, asset domain.Asset, _ string) (Handle, error) {
	if r.resourceErr != nil {
		return nil, r.resourceErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[asset.AccessionID] = true
	return "handle:" + asset.AccessionID, nil
}

func (r *fakeRuntime) Teardown(_ context.Context, accessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, accessionID)
	return nil
}

func (r *fakeRuntime) AssignToSlot(_ context.Context, deckID, slot string, _ Handle) error {
	if r.slotErr != nil {
		return r.slotErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[deckID+"/"+slot] = "occupied"
	return nil
}

func (r *fakeRuntime) ClearSlot(_ context.Context, deckID, slot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, deckID+"/"+slot)
	return nil
}

func (r *fakeRuntime) SnapshotState(context.Context) ([]byte, error) { return r.snapshot, nil }

func (r *fakeRuntime) ApplyStateSnapshot(_ context.Context, blob []byte) error {
	r.restored = append(r.restored, blob)
	return nil
}

func (r *fakeRuntime) liveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func seedAssets(t *testing.T, store *memory.AssetStore, assets ...domain.Asset) {
	t.Helper()
	for _, a := range assets {
		if err := store.CreateAsset(context.Background(), a); err != nil {
			t.Fatalf("seed asset %s: %v", a.AccessionID, err)
		}
	}
}

func TestAcquireClaimsAndMaterializes(t *testing.T) {
	store := memory.NewAssetStore()
	rt := newFakeRuntime()
	seedAssets(t, store, domain.Asset{
		AccessionID: "pip-1", Kind: domain.AssetKindDevice, Type: "pipettor", Status: domain.AssetStatusAvailable,
	})
	coord := NewCoordinator(store, rt, nil)

	acq, err := coord.Acquire(context.Background(), "run-1", domain.AssetRequirement{
		Name: "pipettor", Kind: domain.AssetKindDevice, TypeConstraint: "pipettor",
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if acq.Handle != "handle:pip-1" {
		t.Fatalf("unexpected handle %v", acq.Handle)
	}
	got, err := store.GetAsset(context.Background(), "pip-1")
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if got.Status != domain.AssetStatusInUse || got.OwnerRunID != "run-1" {
		t.Fatalf("asset not claimed: status=%s owner=%s", got.Status, got.OwnerRunID)
	}
}

func TestAcquireNoCandidate(t *testing.T) {
	store := memory.NewAssetStore()
	coord := NewCoordinator(store, newFakeRuntime(), nil)

	_, err := coord.Acquire(context.Background(), "run-1", domain.AssetRequirement{
		Name: "plate", Kind: domain.AssetKindResource, TypeConstraint: "corning_96",
	})
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("expected AcquisitionError, got %v", err)
	}
	if acqErr.Requirement != "plate" {
		t.Fatalf("wrong requirement in error: %s", acqErr.Requirement)
	}
}

func TestAcquireMaterializationFailureMarksAssetErrored(t *testing.T) {
	store := memory.NewAssetStore()
	rt := newFakeRuntime()
	rt.initErr = errors.New("device offline")
	seedAssets(t, store, domain.Asset{
		AccessionID: "pip-1", Kind: domain.AssetKindDevice, Type: "pipettor", Status: domain.AssetStatusAvailable,
	})
	coord := NewCoordinator(store, rt, nil)

	_, err := coord.Acquire(context.Background(), "run-1", domain.AssetRequirement{
		Name: "pipettor", Kind: domain.AssetKindDevice, TypeConstraint: "pipettor",
	})
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("expected AcquisitionError, got %v", err)
	}
	got, _ := store.GetAsset(context.Background(), "pip-1")
	if got.Status != domain.AssetStatusError {
		t.Fatalf("expected error status after failed materialization, got %s", got.Status)
	}
}

func TestAcquireLostClaimTearsDownHandle(t *testing.T) {
	store := memory.NewAssetStore()
	rt := newFakeRuntime()
	seedAssets(t, store, domain.Asset{
		AccessionID: "pip-1", Kind: domain.AssetKindDevice, Type: "pipettor", Status: domain.AssetStatusAvailable,
	})
	coord := NewCoordinator(store, rt, nil)

	// Another run steals the asset between the find and the claim by winning
	// the registry race first.
	if err := store.ClaimAsset(context.Background(), "pip-1", "run-other"); err != nil {
		t.Fatalf("steal claim: %v", err)
	}
	_, err := coord.AcquireByID(context.Background(), "run-1", "pip-1", domain.AssetRequirement{
		Name: "pipettor", Kind: domain.AssetKindDevice, TypeConstraint: "pipettor",
	})
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("expected AcquisitionError for lost claim, got %v", err)
	}
	if rt.liveCount() != 0 {
		t.Fatalf("handle leaked after lost claim: %d live", rt.liveCount())
	}
}

// failingClaimStore rejects every claim with a non-conflict registry error.
type failingClaimStore struct {
	*memory.AssetStore
}

func (s *failingClaimStore) ClaimAsset(context.Context, string, string) error {
	return errors.New("registry write timeout")
}

func TestAcquireClaimFailureIsAcquisitionError(t *testing.T) {
	rt := newFakeRuntime()
	store := &failingClaimStore{AssetStore: memory.NewAssetStore()}
	seedAssets(t, store.AssetStore, domain.Asset{
		AccessionID: "pip-1", Kind: domain.AssetKindDevice, Type: "pipettor", Status: domain.AssetStatusAvailable,
	})
	coord := NewCoordinator(store, rt, nil)

	_, err := coord.Acquire(context.Background(), "run-1", domain.AssetRequirement{
		Name: "pipettor", Kind: domain.AssetKindDevice, TypeConstraint: "pipettor",
	})
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("expected AcquisitionError for failed claim, got %v", err)
	}
	if acqErr.Requirement != "pipettor" {
		t.Fatalf("wrong requirement in error: %s", acqErr.Requirement)
	}
	if rt.liveCount() != 0 {
		t.Fatalf("handle leaked after failed claim: %d live", rt.liveCount())
	}
}

func TestAcquireSlotAssignmentFailureTearsDownHandle(t *testing.T) {
	store := memory.NewAssetStore()
	rt := newFakeRuntime()
	rt.slotErr = errors.New("slot A1 already occupied")
	seedAssets(t, store, domain.Asset{
		AccessionID: "plate-1", Kind: domain.AssetKindResource, Type: "corning_96", Status: domain.AssetStatusAvailable,
	})
	coord := NewCoordinator(store, rt, nil)

	_, err := coord.Acquire(context.Background(), "run-1", domain.AssetRequirement{
		Name: "plate", Kind: domain.AssetKindResource, TypeConstraint: "corning_96",
		Location: &domain.Location{DeckID: "deck-1", Slot: "A1"},
	})
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("expected AcquisitionError, got %v", err)
	}
	if rt.liveCount() != 0 {
		t.Fatalf("handle leaked after failed slot assignment: %d live", rt.liveCount())
	}
	got, _ := store.GetAsset(context.Background(), "plate-1")
	if got.Status != domain.AssetStatusAvailable || got.OwnerRunID != "" {
		t.Fatalf("asset not returned after failed slot assignment: status=%s owner=%s", got.Status, got.OwnerRunID)
	}
}

func TestAcquireReclaimsOwnReservation(t *testing.T) {
	store := memory.NewAssetStore()
	rt := newFakeRuntime()
	seedAssets(t, store, domain.Asset{
		AccessionID: "plate-1", Kind: domain.AssetKindResource, Type: "corning_96", Status: domain.AssetStatusAvailable,
	})
	if err := store.ClaimAsset(context.Background(), "plate-1", "run-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	coord := NewCoordinator(store, rt, nil)

	acq, err := coord.Acquire(context.Background(), "run-1", domain.AssetRequirement{
		Name: "plate", Kind: domain.AssetKindResource, TypeConstraint: "corning_96",
	})
	if err != nil {
		t.Fatalf("acquire reserved asset: %v", err)
	}
	if acq.Asset.AccessionID != "plate-1" {
		t.Fatalf("expected reserved asset, got %s", acq.Asset.AccessionID)
	}
}

func TestReleaseReturnsAssetAndTearsDown(t *testing.T) {
	store := memory.NewAssetStore()
	rt := newFakeRuntime()
	seedAssets(t, store, domain.Asset{
		AccessionID: "pip-1", Kind: domain.AssetKindDevice, Type: "pipettor", Status: domain.AssetStatusAvailable,
	})
	coord := NewCoordinator(store, rt, nil)

	acq, err := coord.Acquire(context.Background(), "run-1", domain.AssetRequirement{
		Name: "pipettor", Kind: domain.AssetKindDevice, TypeConstraint: "pipettor",
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := coord.Release(context.Background(), "run-1", acq, domain.AssetStatusAvailable); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rt.liveCount() != 0 {
		t.Fatalf("handle survived release")
	}
	got, _ := store.GetAsset(context.Background(), "pip-1")
	if got.Status != domain.AssetStatusAvailable || got.OwnerRunID != "" {
		t.Fatalf("asset not released: status=%s owner=%s", got.Status, got.OwnerRunID)
	}
}

func TestPreconfigureDeckSeatsResources(t *testing.T) {
	store := memory.NewAssetStore()
	rt := newFakeRuntime()
	seedAssets(t, store,
		domain.Asset{AccessionID: "deck-1", Kind: domain.AssetKindDevice, Type: "deck", Status: domain.AssetStatusAvailable},
		domain.Asset{AccessionID: "plate-1", Kind: domain.AssetKindResource, Type: "corning_96", Status: domain.AssetStatusAvailable},
		domain.Asset{AccessionID: "tips-1", Kind: domain.AssetKindResource, Type: "tip_rack_300", Status: domain.AssetStatusAvailable},
	)
	coord := NewCoordinator(store, rt, nil)

	layout := domain.DeckLayout{
		ID: "layout-a", DeckAccessionID: "deck-1",
		Assignments: []domain.SlotAssignment{
			{Slot: "A1", ResourceType: "corning_96"},
			{Slot: "B2", ResourceType: "tip_rack_300"},
		},
	}
	setup, err := coord.PreconfigureDeck(context.Background(), "run-1", layout)
	if err != nil {
		t.Fatalf("preconfigure: %v", err)
	}
	if len(setup.Slots) != 2 {
		t.Fatalf("expected 2 seated resources, got %d", len(setup.Slots))
	}
	rt.mu.Lock()
	occupied := len(rt.slots)
	rt.mu.Unlock()
	if occupied != 2 {
		t.Fatalf("expected 2 occupied slots, got %d", occupied)
	}
	for _, id := range []string{"deck-1", "plate-1", "tips-1"} {
		got, _ := store.GetAsset(context.Background(), id)
		if got.OwnerRunID != "run-1" {
			t.Fatalf("asset %s not owned by run: owner=%s", id, got.OwnerRunID)
		}
	}
}

func TestPreconfigureDeckUnwindsOnFailure(t *testing.T) {
	store := memory.NewAssetStore()
	rt := newFakeRuntime()
	seedAssets(t, store,
		domain.Asset{AccessionID: "deck-1", Kind: domain.AssetKindDevice, Type: "deck", Status: domain.AssetStatusAvailable},
		domain.Asset{AccessionID: "plate-1", Kind: domain.AssetKindResource, Type: "corning_96", Status: domain.AssetStatusAvailable},
	)
	coord := NewCoordinator(store, rt, nil)

	layout := domain.DeckLayout{
		ID: "layout-a", DeckAccessionID: "deck-1",
		Assignments: []domain.SlotAssignment{
			{Slot: "A1", ResourceType: "corning_96"},
			{Slot: "B2", ResourceType: "missing_type"},
		},
	}
	_, err := coord.PreconfigureDeck(context.Background(), "run-1", layout)
	if err == nil {
		t.Fatal("expected preconfigure failure")
	}
	inUse, listErr := store.ListAssets(context.Background(), repo.AssetFilter{Status: domain.AssetStatusInUse})
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(inUse) != 0 {
		t.Fatalf("expected full unwind, %d assets still in_use", len(inUse))
	}
	if rt.liveCount() != 0 {
		t.Fatalf("handles leaked after unwind: %d", rt.liveCount())
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	rt := newFakeRuntime()
	rt.snapshot = []byte(`{"plate-1":{"A1":150.0}}`)
	coord := NewCoordinator(memory.NewAssetStore(), rt, nil)

	blob, err := coord.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := coord.Restore(context.Background(), blob); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(rt.restored) != 1 || string(rt.restored[0]) != string(rt.snapshot) {
		t.Fatalf("restored blob mismatch")
	}
}
