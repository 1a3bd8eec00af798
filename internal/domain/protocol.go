package domain

import (
	"errors"
	"fmt"
	"strings"
)

// StateMode declares the shape in which canonical state is handed to a
// procedure: the live store itself, or a plain map snapshot.
type StateMode string

const (
	StateModeStore    StateMode = "store"
	StateModeSnapshot StateMode = "snapshot"
)

// ParameterSpec declares one ordered input parameter of a protocol.
type ParameterSpec struct {
	Name     string
	Type     string
	Optional bool
	Default  any
}

// AssetRequirement declares one ordered asset the protocol binds by name.
// TypeConstraint is a device class or resource definition name.
type AssetRequirement struct {
	Name           string
	TypeConstraint string
	Kind           AssetKind
	Optional       bool
	Location       *Location
}

// ProtocolDefinition identifies an executable procedure by
// (name, version, source, commit) and declares its inputs. Immutable once
// resolved; cached by identity.
type ProtocolDefinition struct {
	Name       string
	Version    string
	Source     string
	Commit     string
	Entrypoint string

	Parameters []ParameterSpec
	Assets     []AssetRequirement

	StateParameter string
	StateShape     StateMode
	DeckParameter  string
}

// Identity returns the content-address key of the definition.
func (d ProtocolDefinition) Identity() string {
	return fmt.Sprintf("%s@%s:%s:%s", d.Name, d.Version, d.Source, d.Commit)
}

func (d ProtocolDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("protocol name is required")
	}
	if strings.TrimSpace(d.Version) == "" {
		return errors.New("protocol version is required")
	}
	if strings.TrimSpace(d.Entrypoint) == "" {
		return errors.New("protocol entrypoint is required")
	}
	seen := map[string]struct{}{}
	for _, p := range d.Parameters {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return errors.New("parameter name is required")
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate parameter %q", name)
		}
		seen[name] = struct{}{}
	}
	for _, a := range d.Assets {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return errors.New("asset requirement name is required")
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate asset requirement %q", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(a.TypeConstraint) == "" {
			return fmt.Errorf("asset requirement %q needs a type constraint", name)
		}
	}
	if d.StateShape != "" && d.StateShape != StateModeStore && d.StateShape != StateModeSnapshot {
		return fmt.Errorf("invalid state shape %q", d.StateShape)
	}
	return nil
}

// DeckLayout is a named arrangement of resource positions on a deck fixture.
type DeckLayout struct {
	ID              string
	Name            string
	DeckAccessionID string
	Assignments     []SlotAssignment
}

// SlotAssignment pins a resource type to a deck slot.
type SlotAssignment struct {
	Slot         string
	ResourceType string
}

func (l DeckLayout) Validate() error {
	if strings.TrimSpace(l.ID) == "" && strings.TrimSpace(l.Name) == "" {
		return errors.New("deck layout needs an id or name")
	}
	if strings.TrimSpace(l.DeckAccessionID) == "" {
		return errors.New("deck accession id is required")
	}
	for _, a := range l.Assignments {
		if strings.TrimSpace(a.Slot) == "" {
			return errors.New("slot assignment needs a slot")
		}
		if strings.TrimSpace(a.ResourceType) == "" {
			return fmt.Errorf("slot %q assignment needs a resource type", a.Slot)
		}
	}
	return nil
}
