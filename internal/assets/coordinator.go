package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/repo"
)

// claimAttempts bounds how many candidate assets Acquire will race for before
// giving up on a requirement.
const claimAttempts = 3

// Acquired pairs a registry claim with the live handle the runtime produced
// for it. Both are surrendered together through Release.
type Acquired struct {
	Requirement domain.AssetRequirement
	Asset       domain.Asset
	Handle      Handle
}

// DeckSetup is the result of preconfiguring a deck layout: the deck device
// itself plus the resources seated on it, keyed by slot.
type DeckSetup struct {
	Deck  *Acquired
	Slots map[string]*Acquired
}

// Coordinator brokers between the shared asset registry and the runtime. It
// owns the acquisition protocol: a handle is materialized first, ownership is
// claimed second, and a lost claim tears the handle back down so no live
// connection outlives a failed reservation.
type Coordinator struct {
	assets  repo.AssetRepository
	runtime Runtime
	logger  *slog.Logger
}

func NewCoordinator(assets repo.AssetRepository, runtime Runtime, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{assets: assets, runtime: runtime, logger: logger}
}

// Acquire satisfies one requirement for runID. Candidates already reserved by
// the same run are re-claimable, so a scheduler reservation survives into
// orchestration. Failures come back as *AcquisitionError; the caller decides
// whether the requirement was optional.
func (c *Coordinator) Acquire(ctx context.Context, runID string, req domain.AssetRequirement) (*Acquired, error) {
	// The requirement's Location is a destination, not a search constraint;
	// candidates are matched on kind and type alone.
	filter := repo.AssetFilter{
		Kind:       req.Kind,
		Type:       req.TypeConstraint,
		OwnerRunID: runID,
	}

	var lastErr error
	for attempt := 0; attempt < claimAttempts; attempt++ {
		candidate, err := c.assets.FindAvailable(ctx, filter)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, &AcquisitionError{Requirement: req.Name, Reason: "no available asset", Err: err}
			}
			return nil, &AcquisitionError{Requirement: req.Name, Reason: "registry lookup failed", Err: err}
		}

		acq, err := c.claim(ctx, runID, req, candidate)
		if err == nil {
			return acq, nil
		}
		lastErr = err
		if !errors.Is(err, repo.ErrConflict) {
			return nil, err
		}
		// Lost the race for this candidate; try the next one.
	}
	return nil, &AcquisitionError{Requirement: req.Name, Reason: "claim contention", Err: lastErr}
}

// AcquireByID satisfies a requirement with a specific asset, used when a deck
// layout pins an exact fixture.
func (c *Coordinator) AcquireByID(ctx context.Context, runID, accessionID string, req domain.AssetRequirement) (*Acquired, error) {
	asset, err := c.assets.GetAsset(ctx, accessionID)
	if err != nil {
		return nil, &AcquisitionError{Requirement: req.Name, Reason: fmt.Sprintf("asset %s not found", accessionID), Err: err}
	}
	if asset.Status != domain.AssetStatusAvailable && !(asset.Status == domain.AssetStatusInUse && asset.OwnerRunID == runID) {
		return nil, &AcquisitionError{Requirement: req.Name, Reason: fmt.Sprintf("asset %s is %s", accessionID, asset.Status), Err: repo.ErrConflict}
	}
	return c.claim(ctx, runID, req, asset)
}

// claim materializes a handle for candidate and then takes ownership. Order
// matters: a handle that cannot be produced marks the asset as errored, and a
// claim that loses its race tears the fresh handle down again.
func (c *Coordinator) claim(ctx context.Context, runID string, req domain.AssetRequirement, candidate domain.Asset) (*Acquired, error) {
	var (
		handle Handle
		err    error
	)
	switch candidate.Kind {
	case domain.AssetKindDevice:
		handle, err = c.runtime.InitializeDevice(ctx, candidate)
	default:
		handle, err = c.runtime.MaterializeResource(ctx, candidate, req.TypeConstraint)
	}
	if err != nil {
		c.logger.Error("asset materialization failed",
			"accession_id", candidate.AccessionID, "requirement", req.Name, "error", err)
		if sErr := c.assets.SetAssetStatus(ctx, candidate.AccessionID, domain.AssetStatusError); sErr != nil {
			c.logger.Error("failed to mark asset errored", "accession_id", candidate.AccessionID, "error", sErr)
		}
		return nil, &AcquisitionError{Requirement: req.Name, Reason: "materialization failed", Err: err}
	}

	if err := c.assets.ClaimAsset(ctx, candidate.AccessionID, runID); err != nil {
		if tErr := c.runtime.Teardown(ctx, candidate.AccessionID); tErr != nil {
			c.logger.Error("teardown after lost claim failed", "accession_id", candidate.AccessionID, "error", tErr)
		}
		return nil, &AcquisitionError{Requirement: req.Name, Reason: fmt.Sprintf("claim on %s failed", candidate.AccessionID), Err: err}
	}

	asset := candidate
	asset.Status = domain.AssetStatusInUse
	asset.OwnerRunID = runID
	if req.Location != nil {
		if err := c.runtime.AssignToSlot(ctx, req.Location.DeckID, req.Location.Slot, handle); err != nil {
			// The handle is already live; surrender it with the claim so the
			// unwind leaves no connection behind.
			if rErr := c.Release(ctx, runID, &Acquired{Requirement: req, Asset: asset, Handle: handle}, domain.AssetStatusAvailable); rErr != nil {
				c.logger.Error("unwinding failed slot assignment",
					"accession_id", candidate.AccessionID, "error", rErr)
			}
			return nil, &AcquisitionError{Requirement: req.Name, Reason: "slot assignment failed", Err: err}
		}
		loc := *req.Location
		asset.Location = &loc
	}
	return &Acquired{Requirement: req, Asset: asset, Handle: handle}, nil
}

// Release tears down the live handle and returns the registry record to
// status. Teardown failure does not block the ownership release; a stale
// handle is recoverable, a stuck in_use record is not.
func (c *Coordinator) Release(ctx context.Context, runID string, acq *Acquired, status domain.AssetStatus) error {
	if acq == nil {
		return nil
	}
	if acq.Asset.Location != nil {
		if err := c.runtime.ClearSlot(ctx, acq.Asset.Location.DeckID, acq.Asset.Location.Slot); err != nil {
			c.logger.Warn("clearing slot failed",
				"accession_id", acq.Asset.AccessionID, "slot", acq.Asset.Location.Slot, "error", err)
		}
	}
	if err := c.runtime.Teardown(ctx, acq.Asset.AccessionID); err != nil {
		c.logger.Warn("handle teardown failed", "accession_id", acq.Asset.AccessionID, "error", err)
	}
	return c.release(ctx, runID, acq.Asset, status)
}

func (c *Coordinator) release(ctx context.Context, runID string, asset domain.Asset, status domain.AssetStatus) error {
	if err := c.assets.ReleaseAsset(ctx, asset.AccessionID, runID, status, nil); err != nil {
		return fmt.Errorf("release %s: %w", asset.AccessionID, err)
	}
	return nil
}

// PreconfigureDeck claims the deck fixture named by the layout, then seats
// one resource of each assigned type into its slot.
func (c *Coordinator) PreconfigureDeck(ctx context.Context, runID string, layout domain.DeckLayout) (*DeckSetup, error) {
	deckReq := domain.AssetRequirement{Name: "deck", Kind: domain.AssetKindDevice, TypeConstraint: "deck"}
	deck, err := c.AcquireByID(ctx, runID, layout.DeckAccessionID, deckReq)
	if err != nil {
		return nil, err
	}

	setup := &DeckSetup{Deck: deck, Slots: map[string]*Acquired{}}
	for _, assign := range layout.Assignments {
		req := domain.AssetRequirement{
			Name:           fmt.Sprintf("%s[%s]", layout.DeckAccessionID, assign.Slot),
			Kind:           domain.AssetKindResource,
			TypeConstraint: assign.ResourceType,
			Location:       &domain.Location{DeckID: layout.DeckAccessionID, Slot: assign.Slot},
		}
		acq, err := c.Acquire(ctx, runID, req)
		if err != nil {
			// Unwind everything already seated so a half-built deck does not
			// hold assets hostage.
			c.ReleaseDeck(ctx, runID, setup)
			return nil, err
		}
		setup.Slots[assign.Slot] = acq
	}
	return setup, nil
}

// ReleaseDeck returns a deck and its seated resources to the pool.
func (c *Coordinator) ReleaseDeck(ctx context.Context, runID string, setup *DeckSetup) {
	if setup == nil {
		return
	}
	for slot, acq := range setup.Slots {
		if err := c.Release(ctx, runID, acq, domain.AssetStatusAvailable); err != nil {
			c.logger.Error("deck slot release failed", "slot", slot, "error", err)
		}
	}
	if setup.Deck != nil {
		if err := c.Release(ctx, runID, setup.Deck, domain.AssetStatusAvailable); err != nil {
			c.logger.Error("deck release failed", "accession_id", setup.Deck.Asset.AccessionID, "error", err)
		}
	}
}

// Snapshot captures the runtime's asset state for later rollback.
func (c *Coordinator) Snapshot(ctx context.Context) ([]byte, error) {
	return c.runtime.SnapshotState(ctx)
}

// Restore reapplies a snapshot taken by Snapshot.
func (c *Coordinator) Restore(ctx context.Context, blob []byte) error {
	return c.runtime.ApplyStateSnapshot(ctx, blob)
}
