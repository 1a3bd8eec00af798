package domain

import (
	"errors"
	"strings"
)

// AssetKind distinguishes physical instruments from consumable labware.
type AssetKind string

const (
	AssetKindDevice   AssetKind = "device"
	AssetKindResource AssetKind = "resource"
)

// AssetStatus is the registry status of an asset.
type AssetStatus string

const (
	AssetStatusAvailable AssetStatus = "available"
	AssetStatusInUse     AssetStatus = "in_use"
	AssetStatusOffline   AssetStatus = "offline"
	AssetStatusError     AssetStatus = "error"
)

// Location places an asset on a deck slot.
type Location struct {
	DeckID string
	Slot   string
}

// Asset is a device or resource tracked by the registry. At most one run owns
// an asset at any time; OwnerRunID is set iff Status is in_use.
type Asset struct {
	AccessionID string
	Kind        AssetKind
	Type        string
	Status      AssetStatus
	OwnerRunID  string
	Location    *Location
}

func NormalizeAssetStatus(value string) AssetStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(AssetStatusAvailable):
		return AssetStatusAvailable
	case string(AssetStatusInUse):
		return AssetStatusInUse
	case string(AssetStatusOffline):
		return AssetStatusOffline
	case string(AssetStatusError):
		return AssetStatusError
	default:
		return ""
	}
}

func (a Asset) Validate() error {
	if strings.TrimSpace(a.AccessionID) == "" {
		return errors.New("accession id is required")
	}
	if a.Kind != AssetKindDevice && a.Kind != AssetKindResource {
		return errors.New("asset kind must be device or resource")
	}
	if strings.TrimSpace(a.Type) == "" {
		return errors.New("asset type is required")
	}
	if NormalizeAssetStatus(string(a.Status)) == "" {
		return errors.New("asset status is invalid")
	}
	if a.Status == AssetStatusInUse && strings.TrimSpace(a.OwnerRunID) == "" {
		return errors.New("in_use asset requires an owner run id")
	}
	if a.Status != AssetStatusInUse && strings.TrimSpace(a.OwnerRunID) != "" {
		return errors.New("owner run id set on asset that is not in_use")
	}
	return nil
}
