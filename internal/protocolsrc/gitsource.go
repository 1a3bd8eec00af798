package protocolsrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// gitRunner executes one git invocation in dir and returns trimmed output.
// Swappable in tests.
type gitRunner func(ctx context.Context, dir string, args ...string) (string, error)

// GitSource manages a local checkout of a version-controlled protocol
// repository. The checkout must match the declared remote exactly; a
// mismatch is a configuration error, never auto-corrected.
type GitSource struct {
	name      string
	remote    string
	dir       string
	bin       string
	opTimeout time.Duration
	logger    *slog.Logger
	run       gitRunner
}

func NewGitSource(name, remote, dir string, opTimeout time.Duration, logger *slog.Logger) (*GitSource, error) {
	name = strings.TrimSpace(name)
	remote = strings.TrimSpace(remote)
	dir = strings.TrimSpace(dir)
	if name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if remote == "" {
		return nil, fmt.Errorf("source remote is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("source checkout dir is required")
	}
	if opTimeout <= 0 {
		opTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &GitSource{
		name:      name,
		remote:    remote,
		dir:       dir,
		bin:       "git",
		opTimeout: opTimeout,
		logger:    logger,
	}
	s.run = s.execGit
	return s, nil
}

func (s *GitSource) Name() string {
	return s.name
}

func (s *GitSource) Materialize(ctx context.Context, commit string) (string, string, error) {
	commit = strings.TrimSpace(commit)

	if _, err := os.Stat(s.dir); err != nil {
		if !os.IsNotExist(err) {
			return "", "", fmt.Errorf("source %q checkout dir: %w", s.name, err)
		}
		if _, err := s.git(ctx, "", "clone", s.remote, s.dir); err != nil {
			return "", "", fmt.Errorf("clone %s: %w", s.remote, err)
		}
	} else {
		remote, err := s.git(ctx, s.dir, "remote", "get-url", "origin")
		if err != nil {
			return "", "", fmt.Errorf("read remote: %w", err)
		}
		if remote != s.remote {
			return "", "", fmt.Errorf("%w: checkout %s points at %s, source declares %s",
				ErrRemoteMismatch, s.dir, remote, s.remote)
		}
		if _, err := s.git(ctx, s.dir, "fetch", "--all", "--tags", "--prune"); err != nil {
			return "", "", fmt.Errorf("fetch: %w", err)
		}
	}

	if commit != "" {
		if _, err := s.git(ctx, s.dir, "checkout", "--detach", commit); err != nil {
			return "", "", fmt.Errorf("checkout %s: %w", commit, err)
		}
	}

	head, err := s.git(ctx, s.dir, "rev-parse", "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("rev-parse: %w", err)
	}
	if commit != "" && !commitMatches(commit, head) {
		return "", "", &CheckoutMismatchError{Requested: commit, Resolved: head}
	}
	return s.dir, head, nil
}

// commitMatches accepts an abbreviated requested commit as long as it is an
// unambiguous prefix of the resolved hash.
func commitMatches(requested, resolved string) bool {
	if requested == resolved {
		return true
	}
	return len(requested) >= 7 && strings.HasPrefix(resolved, requested)
}

// git runs one bounded git operation. Timeouts surface as retryable
// ErrSourceTimeout, unlike checkout mismatches which are fatal.
func (s *GitSource) git(ctx context.Context, dir string, args ...string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	out, err := s.run(opCtx, dir, args...)
	if err != nil {
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: git %s", ErrSourceTimeout, strings.Join(args, " "))
		}
		return "", err
	}
	return out, nil
}

func (s *GitSource) execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, s.bin, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, text)
	}
	return text, nil
}
