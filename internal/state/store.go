// Package state provides the run-scoped durable key/value store. Every write
// is flushed to the backing store before the call returns; a crash after a
// successful write never loses it.
package state

import (
	"context"
	"errors"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

// AssetSnapshotKey holds the last-known-good snapshot of live-asset state,
// written before execution begins and read back for rollback on failure.
const AssetSnapshotKey = "__asset_snapshot__"

// ErrKeyNotFound signals a missing key in a run's state.
var ErrKeyNotFound = errors.New("state key not found")

// Store is the canonical state of a single run. Values must be
// JSON-serializable.
type Store interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, values domain.Metadata) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)

	// Export returns the whole state for checkpointing.
	Export(ctx context.Context) (domain.Metadata, error)
}

// Factory hands out the per-run store. No run may reach another run's state.
type Factory interface {
	ForRun(runID string) Store
}
