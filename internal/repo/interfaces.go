package repo

import (
	"context"
	"time"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

type AssetFilter struct {
	Kind       domain.AssetKind
	Type       string
	Status     domain.AssetStatus
	OwnerRunID string
	DeckID     string
	Limit      int
}

type RunFilter struct {
	Protocol string
	Status   domain.RunStatus
	Limit    int
}

type DefinitionFilter struct {
	Name   string
	Source string
	Limit  int
}

// AssetRepository is the shared asset registry. ClaimAsset and ReleaseAsset
// are the only mutation paths for ownership and must be atomic conditional
// updates so concurrent claimants cannot both succeed.
type AssetRepository interface {
	CreateAsset(ctx context.Context, asset domain.Asset) error
	GetAsset(ctx context.Context, accessionID string) (domain.Asset, error)
	ListAssets(ctx context.Context, filter AssetFilter) ([]domain.Asset, error)

	// FindAvailable returns the first asset matching the filter that is
	// available, or already in use by filter.OwnerRunID when set (a prior
	// reservation by the same run).
	FindAvailable(ctx context.Context, filter AssetFilter) (domain.Asset, error)

	// ClaimAsset transitions available -> in_use for runID. Claiming an asset
	// the run already holds is a no-op. A lost race returns ErrConflict.
	ClaimAsset(ctx context.Context, accessionID, runID string) error

	// ReleaseAsset clears ownership and sets the final status, applying an
	// optional location update. Rejected with ErrNotOwner unless runID owns
	// the asset.
	ReleaseAsset(ctx context.Context, accessionID, runID string, status domain.AssetStatus, location *domain.Location) error

	// SetAssetStatus force-sets status outside the ownership protocol, used to
	// push a failed asset to error so it is not re-offered.
	SetAssetStatus(ctx context.Context, accessionID string, status domain.AssetStatus) error
}

// RunRepository manages protocol run records.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.ProtocolRun) error
	GetRun(ctx context.Context, id string) (domain.ProtocolRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.ProtocolRun, error)

	// UpdateRunStatus applies a state-machine-checked transition and returns
	// the previous status.
	UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) (domain.RunStatus, error)

	SetRunBindings(ctx context.Context, id string, bindings map[string]domain.Binding) error

	// FinishRun commits the terminal snapshot: status, output or error,
	// final state, and end timestamp.
	FinishRun(ctx context.Context, id string, status domain.RunStatus, output domain.Metadata, runErr *domain.RunError, finalState domain.Metadata, endedAt time.Time) error
}

// DefinitionRepository catalogs registered protocol definitions.
type DefinitionRepository interface {
	PutDefinition(ctx context.Context, def domain.ProtocolDefinition) error
	GetDefinition(ctx context.Context, name, version string) (domain.ProtocolDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]domain.ProtocolDefinition, error)
}

// DeckLayoutRepository resolves named deck layouts.
type DeckLayoutRepository interface {
	PutLayout(ctx context.Context, layout domain.DeckLayout) error
	GetLayout(ctx context.Context, nameOrID string) (domain.DeckLayout, error)
}
