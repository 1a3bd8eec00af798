package protocolsrc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/repo"
)

const protocolsDir = "protocols"
const definitionFile = "protocol.yaml"

// Provider resolves (name, version, source, commit) tuples to protocol
// definitions and prepares their callables. Resolution is content-addressed:
// re-resolving the same tuple yields the cached, identical definition.
type Provider struct {
	mu            sync.Mutex
	sources       map[string]Source
	defaultSource string
	registry      *Registry
	cache         map[string]domain.ProtocolDefinition
	logger        *slog.Logger
}

func NewProvider(registry *Registry, logger *slog.Logger) (*Provider, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		sources:  map[string]Source{},
		registry: registry,
		cache:    map[string]domain.ProtocolDefinition{},
		logger:   logger,
	}, nil
}

// AddSource registers a source. The first source added becomes the default.
func (p *Provider) AddSource(src Source) error {
	if src == nil {
		return fmt.Errorf("source is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	name := src.Name()
	if _, ok := p.sources[name]; ok {
		return fmt.Errorf("source %q already registered", name)
	}
	p.sources[name] = src
	if p.defaultSource == "" {
		p.defaultSource = name
	}
	return nil
}

func (p *Provider) Resolve(ctx context.Context, name, version, commit, sourceName string) (domain.ProtocolDefinition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ProtocolDefinition{}, fmt.Errorf("protocol name is required")
	}
	version = strings.TrimSpace(version)
	commit = strings.TrimSpace(commit)

	p.mu.Lock()
	if sourceName == "" {
		sourceName = p.defaultSource
	}
	src, ok := p.sources[sourceName]
	if version != "" {
		cacheKey := identityKey(name, version, sourceName, commit)
		if def, hit := p.cache[cacheKey]; hit {
			p.mu.Unlock()
			return def, nil
		}
	}
	p.mu.Unlock()

	if !ok {
		return domain.ProtocolDefinition{}, fmt.Errorf("source %q: %w", sourceName, repo.ErrNotFound)
	}

	root, resolvedCommit, err := src.Materialize(ctx, commit)
	if err != nil {
		return domain.ProtocolDefinition{}, err
	}

	chosenVersion := version
	if chosenVersion == "" {
		chosenVersion, err = latestVersion(root, name)
		if err != nil {
			return domain.ProtocolDefinition{}, err
		}
	}

	docPath := filepath.Join(root, protocolsDir, name, chosenVersion, definitionFile)
	raw, err := os.ReadFile(docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ProtocolDefinition{}, fmt.Errorf("protocol %s@%s in source %q: %w", name, chosenVersion, sourceName, repo.ErrNotFound)
		}
		return domain.ProtocolDefinition{}, fmt.Errorf("read definition: %w", err)
	}

	def, err := ParseDefinition(raw)
	if err != nil {
		return domain.ProtocolDefinition{}, err
	}
	if def.Name != name {
		verr := &ValidationError{}
		verr.Add(fmt.Sprintf("document declares name %q, path says %q", def.Name, name))
		return domain.ProtocolDefinition{}, verr
	}
	if def.Version != chosenVersion {
		verr := &ValidationError{}
		verr.Add(fmt.Sprintf("document declares version %q, path says %q", def.Version, chosenVersion))
		return domain.ProtocolDefinition{}, verr
	}
	def.Source = sourceName
	def.Commit = resolvedCommit

	p.mu.Lock()
	p.cache[identityKey(name, chosenVersion, sourceName, commit)] = def
	p.cache[identityKey(name, chosenVersion, sourceName, resolvedCommit)] = def
	p.mu.Unlock()

	p.logger.Info("protocol resolved",
		"protocol", def.Name, "version", def.Version, "source", def.Source, "commit", def.Commit)
	return def, nil
}

// Prepare returns the callable for a resolved definition. The entrypoint must
// have been registered explicitly.
func (p *Provider) Prepare(_ context.Context, def domain.ProtocolDefinition) (ProtocolFunc, error) {
	if err := def.Validate(); err != nil {
		verr := &ValidationError{}
		verr.Add(err.Error())
		return nil, verr
	}
	return p.registry.Lookup(def.Entrypoint)
}

func identityKey(name, version, source, commit string) string {
	return name + "@" + version + ":" + source + ":" + commit
}

// latestVersion picks the highest semver among the version directories of a
// protocol.
func latestVersion(root, name string) (string, error) {
	dir := filepath.Join(root, protocolsDir, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("protocol %q: %w", name, repo.ErrNotFound)
		}
		return "", fmt.Errorf("list versions: %w", err)
	}
	versions := make([]*semver.Version, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := semver.NewVersion(entry.Name())
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("protocol %q has no versions: %w", name, repo.ErrNotFound)
	}
	sort.Sort(semver.Collection(versions))
	return versions[len(versions)-1].Original(), nil
}
