package protocolsrc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRemoteMismatch signals a local checkout pointing at a different remote
	// than the source declares. This is a configuration error and is never
	// auto-corrected.
	ErrRemoteMismatch = errors.New("checkout remote mismatch")

	// ErrSourceTimeout wraps a timed-out source operation. Retryable.
	ErrSourceTimeout = errors.New("source operation timed out")

	// ErrNotRegistered signals a definition entrypoint with no registered
	// implementation.
	ErrNotRegistered = errors.New("entrypoint not registered")
)

// CheckoutMismatchError is raised when the resolved commit differs from the
// requested one. Fatal: mismatched code must never run.
type CheckoutMismatchError struct {
	Requested string
	Resolved  string
}

func (e *CheckoutMismatchError) Error() string {
	return fmt.Sprintf("checkout resolved to %s, requested %s", e.Resolved, e.Requested)
}

// ValidationError aggregates definition document issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "definition validation failed"
	}
	return "definition validation failed: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
