package assets

import (
	"context"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

// Handle is the runtime's materialized, operable representation of an asset.
// Opaque to the core; only the runtime and the protocol implementation know
// its concrete shape.
type Handle any

// Runtime materializes and tears down live asset handles. The core never
// talks to hardware directly; this is the boundary to device backends and
// resource proxies.
type Runtime interface {
	InitializeDevice(ctx context.Context, asset domain.Asset) (Handle, error)
	MaterializeResource(ctx context.Context, asset domain.Asset, typeFQN string) (Handle, error)
	Teardown(ctx context.Context, accessionID string) error

	AssignToSlot(ctx context.Context, deckID, slot string, handle Handle) error
	ClearSlot(ctx context.Context, deckID, slot string) error

	SnapshotState(ctx context.Context) ([]byte, error)
	ApplyStateSnapshot(ctx context.Context, blob []byte) error
}
