package protocolsrc

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Source materializes protocol code on the local filesystem. Materialize must
// be safe to call repeatedly for the same commit and must return the commit
// the checkout actually resolves to.
type Source interface {
	Name() string
	Materialize(ctx context.Context, commit string) (root string, resolvedCommit string, err error)
}

// FSSource serves protocols from a fixed directory. It carries no version
// history, so commit pinning is rejected.
type FSSource struct {
	name string
	root string
}

func NewFSSource(name, root string) (*FSSource, error) {
	name = strings.TrimSpace(name)
	root = strings.TrimSpace(root)
	if name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if root == "" {
		return nil, fmt.Errorf("source root is required")
	}
	return &FSSource{name: name, root: root}, nil
}

func (s *FSSource) Name() string {
	return s.name
}

func (s *FSSource) Materialize(_ context.Context, commit string) (string, string, error) {
	if strings.TrimSpace(commit) != "" {
		verr := &ValidationError{}
		verr.Add(fmt.Sprintf("filesystem source %q cannot pin commit %s", s.name, commit))
		return "", "", verr
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return "", "", fmt.Errorf("source %q base path: %w", s.name, err)
	}
	if !info.IsDir() {
		return "", "", fmt.Errorf("source %q base path %s is not a directory", s.name, s.root)
	}
	return s.root, "", nil
}
