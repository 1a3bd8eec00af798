package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

// SimRuntime is an in-process runtime with no hardware behind it. Handles are
// plain records of what was materialized; snapshots serialize the whole
// simulated world. Deployments with instruments provide their own Runtime.
type SimRuntime struct {
	mu     sync.Mutex
	logger *slog.Logger

	handles map[string]*SimHandle
	slots   map[string]string
}

// SimHandle is the simulated live handle for one asset.
type SimHandle struct {
	AccessionID string
	Kind        domain.AssetKind
	Type        string
}

func NewSimRuntime(logger *slog.Logger) *SimRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimRuntime{
		logger:  logger,
		handles: map[string]*SimHandle{},
		slots:   map[string]string{},
	}
}

func (r *SimRuntime) InitializeDevice(_ context.Context, asset domain.Asset) (Handle, error) {
	return r.materialize(asset, asset.Type)
}

func (r *SimRuntime) MaterializeResource(_ context.Context, asset domain.Asset, typeFQN string) (Handle, error) {
	return r.materialize(asset, typeFQN)
}

func (r *SimRuntime) materialize(asset domain.Asset, typeFQN string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[asset.AccessionID]; ok {
		return nil, fmt.Errorf("asset %s already materialized", asset.AccessionID)
	}
	h := &SimHandle{AccessionID: asset.AccessionID, Kind: asset.Kind, Type: typeFQN}
	r.handles[asset.AccessionID] = h
	r.logger.Debug("simulated asset materialized", "accession_id", asset.AccessionID, "type", typeFQN)
	return h, nil
}

func (r *SimRuntime) Teardown(_ context.Context, accessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, accessionID)
	return nil
}

func (r *SimRuntime) AssignToSlot(_ context.Context, deckID, slot string, handle Handle) error {
	h, ok := handle.(*SimHandle)
	if !ok {
		return fmt.Errorf("foreign handle %T", handle)
	}
	key := deckID + "/" + slot
	r.mu.Lock()
	defer r.mu.Unlock()
	if occupant, taken := r.slots[key]; taken {
		return fmt.Errorf("slot %s already holds %s", key, occupant)
	}
	r.slots[key] = h.AccessionID
	return nil
}

func (r *SimRuntime) ClearSlot(_ context.Context, deckID, slot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, deckID+"/"+slot)
	return nil
}

type simSnapshot struct {
	Handles map[string]*SimHandle `json:"handles"`
	Slots   map[string]string     `json:"slots"`
}

func (r *SimRuntime) SnapshotState(context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := simSnapshot{Handles: map[string]*SimHandle{}, Slots: map[string]string{}}
	for k, v := range r.handles {
		copied := *v
		snap.Handles[k] = &copied
	}
	for k, v := range r.slots {
		snap.Slots[k] = v
	}
	return json.Marshal(snap)
}

func (r *SimRuntime) ApplyStateSnapshot(_ context.Context, blob []byte) error {
	var snap simSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = map[string]*SimHandle{}
	for k, v := range snap.Handles {
		copied := *v
		r.handles[k] = &copied
	}
	r.slots = map[string]string{}
	for k, v := range snap.Slots {
		r.slots[k] = v
	}
	return nil
}
