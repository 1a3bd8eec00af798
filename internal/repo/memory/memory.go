// Package memory provides mutex-guarded in-memory repositories with the same
// conditional-update semantics as the postgres implementations. Used by tests
// and the demo wiring.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/repo"
)

type AssetStore struct {
	mu     sync.Mutex
	assets map[string]domain.Asset
	order  []string
}

func NewAssetStore() *AssetStore {
	return &AssetStore{assets: map[string]domain.Asset{}}
}

func (s *AssetStore) CreateAsset(_ context.Context, asset domain.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[asset.AccessionID]; ok {
		return repo.ErrConflict
	}
	s.assets[asset.AccessionID] = cloneAsset(asset)
	s.order = append(s.order, asset.AccessionID)
	return nil
}

func (s *AssetStore) GetAsset(_ context.Context, accessionID string) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[accessionID]
	if !ok {
		return domain.Asset{}, repo.ErrNotFound
	}
	return cloneAsset(asset), nil
}

func (s *AssetStore) ListAssets(_ context.Context, filter repo.AssetFilter) ([]domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Asset, 0)
	for _, id := range s.order {
		asset := s.assets[id]
		if !matchesFilter(asset, filter) {
			continue
		}
		out = append(out, cloneAsset(asset))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *AssetStore) FindAvailable(_ context.Context, filter repo.AssetFilter) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		asset := s.assets[id]
		if filter.Kind != "" && asset.Kind != filter.Kind {
			continue
		}
		if filter.Type != "" && asset.Type != filter.Type {
			continue
		}
		if filter.DeckID != "" && (asset.Location == nil || asset.Location.DeckID != filter.DeckID) {
			continue
		}
		if asset.Status == domain.AssetStatusAvailable {
			return cloneAsset(asset), nil
		}
		if filter.OwnerRunID != "" && asset.Status == domain.AssetStatusInUse && asset.OwnerRunID == filter.OwnerRunID {
			return cloneAsset(asset), nil
		}
	}
	return domain.Asset{}, repo.ErrNotFound
}

func (s *AssetStore) ClaimAsset(_ context.Context, accessionID, runID string) error {
	if strings.TrimSpace(runID) == "" {
		return repo.ErrNotOwner
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[accessionID]
	if !ok {
		return repo.ErrNotFound
	}
	if asset.Status == domain.AssetStatusInUse && asset.OwnerRunID == runID {
		return nil
	}
	if asset.Status != domain.AssetStatusAvailable {
		return repo.ErrConflict
	}
	asset.Status = domain.AssetStatusInUse
	asset.OwnerRunID = runID
	s.assets[accessionID] = asset
	return nil
}

func (s *AssetStore) ReleaseAsset(_ context.Context, accessionID, runID string, status domain.AssetStatus, location *domain.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[accessionID]
	if !ok {
		return repo.ErrNotFound
	}
	if asset.OwnerRunID != runID {
		return repo.ErrNotOwner
	}
	asset.Status = status
	asset.OwnerRunID = ""
	if location != nil {
		if location.DeckID == "" && location.Slot == "" {
			asset.Location = nil
		} else {
			loc := *location
			asset.Location = &loc
		}
	}
	s.assets[accessionID] = asset
	return nil
}

func (s *AssetStore) SetAssetStatus(_ context.Context, accessionID string, status domain.AssetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[accessionID]
	if !ok {
		return repo.ErrNotFound
	}
	asset.Status = status
	if status != domain.AssetStatusInUse {
		asset.OwnerRunID = ""
	}
	s.assets[accessionID] = asset
	return nil
}

func matchesFilter(asset domain.Asset, filter repo.AssetFilter) bool {
	if filter.Kind != "" && asset.Kind != filter.Kind {
		return false
	}
	if filter.Type != "" && asset.Type != filter.Type {
		return false
	}
	if filter.Status != "" && asset.Status != filter.Status {
		return false
	}
	if filter.OwnerRunID != "" && asset.OwnerRunID != filter.OwnerRunID {
		return false
	}
	if filter.DeckID != "" && (asset.Location == nil || asset.Location.DeckID != filter.DeckID) {
		return false
	}
	return true
}

func cloneAsset(asset domain.Asset) domain.Asset {
	if asset.Location != nil {
		loc := *asset.Location
		asset.Location = &loc
	}
	return asset
}

type RunStore struct {
	mu   sync.Mutex
	runs map[string]domain.ProtocolRun
}

func NewRunStore() *RunStore {
	return &RunStore{runs: map[string]domain.ProtocolRun{}}
}

func (s *RunStore) CreateRun(_ context.Context, run domain.ProtocolRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return repo.ErrConflict
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *RunStore) GetRun(_ context.Context, id string) (domain.ProtocolRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.ProtocolRun{}, repo.ErrNotFound
	}
	return cloneRun(run), nil
}

func (s *RunStore) ListRuns(_ context.Context, filter repo.RunFilter) ([]domain.ProtocolRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProtocolRun, 0)
	for _, run := range s.runs {
		if filter.Protocol != "" && run.Protocol != filter.Protocol {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, cloneRun(run))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *RunStore) UpdateRunStatus(_ context.Context, id string, status domain.RunStatus) (domain.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return "", repo.ErrNotFound
	}
	prev := run.Status
	if !domain.CanTransitionRunStatus(prev, status) {
		return prev, repo.ErrInvalidTransition
	}
	run.Status = status
	s.runs[id] = run
	return prev, nil
}

func (s *RunStore) SetRunBindings(_ context.Context, id string, bindings map[string]domain.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	run.Bindings = make(map[string]domain.Binding, len(bindings))
	for k, v := range bindings {
		run.Bindings[k] = v
	}
	s.runs[id] = run
	return nil
}

func (s *RunStore) FinishRun(_ context.Context, id string, status domain.RunStatus, output domain.Metadata, runErr *domain.RunError, finalState domain.Metadata, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if run.Status != status {
		if !domain.CanTransitionRunStatus(run.Status, status) {
			return repo.ErrInvalidTransition
		}
		run.Status = status
	}
	run.Output = output.Clone()
	run.FinalState = finalState.Clone()
	if runErr != nil {
		copied := *runErr
		run.Error = &copied
	}
	ended := endedAt.UTC()
	run.EndedAt = &ended
	run.Duration = ended.Sub(run.StartedAt)
	s.runs[id] = run
	return nil
}

func cloneRun(run domain.ProtocolRun) domain.ProtocolRun {
	run.Params = run.Params.Clone()
	run.Output = run.Output.Clone()
	run.FinalState = run.FinalState.Clone()
	if run.Bindings != nil {
		bindings := make(map[string]domain.Binding, len(run.Bindings))
		for k, v := range run.Bindings {
			bindings[k] = v
		}
		run.Bindings = bindings
	}
	if run.Error != nil {
		copied := *run.Error
		run.Error = &copied
	}
	if run.EndedAt != nil {
		ended := *run.EndedAt
		run.EndedAt = &ended
	}
	return run
}

type DefinitionStore struct {
	mu   sync.Mutex
	defs map[string]domain.ProtocolDefinition
}

func NewDefinitionStore() *DefinitionStore {
	return &DefinitionStore{defs: map[string]domain.ProtocolDefinition{}}
}

func definitionKey(name, version string) string {
	return name + "@" + version
}

func (s *DefinitionStore) PutDefinition(_ context.Context, def domain.ProtocolDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[definitionKey(def.Name, def.Version)] = def
	return nil
}

func (s *DefinitionStore) GetDefinition(_ context.Context, name, version string) (domain.ProtocolDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[definitionKey(name, version)]
	if !ok {
		return domain.ProtocolDefinition{}, repo.ErrNotFound
	}
	return def, nil
}

func (s *DefinitionStore) ListDefinitions(_ context.Context, filter repo.DefinitionFilter) ([]domain.ProtocolDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProtocolDefinition, 0)
	for _, def := range s.defs {
		if filter.Name != "" && def.Name != filter.Name {
			continue
		}
		if filter.Source != "" && def.Source != filter.Source {
			continue
		}
		out = append(out, def)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

type DeckLayoutStore struct {
	mu      sync.Mutex
	layouts map[string]domain.DeckLayout
}

func NewDeckLayoutStore() *DeckLayoutStore {
	return &DeckLayoutStore{layouts: map[string]domain.DeckLayout{}}
}

func (s *DeckLayoutStore) PutLayout(_ context.Context, layout domain.DeckLayout) error {
	if err := layout.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if layout.ID != "" {
		s.layouts[layout.ID] = layout
	}
	if layout.Name != "" {
		s.layouts[layout.Name] = layout
	}
	return nil
}

func (s *DeckLayoutStore) GetLayout(_ context.Context, nameOrID string) (domain.DeckLayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	layout, ok := s.layouts[nameOrID]
	if !ok {
		return domain.DeckLayout{}, repo.ErrNotFound
	}
	return layout, nil
}
