package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is returned through the checkpoint hook when a cancel command
// has been accepted for the run.
var ErrCancelled = errors.New("run cancelled")

// ValidationError aggregates every parameter binding problem so the caller
// sees all of them at once instead of one per attempt.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter validation failed: %s", strings.Join(e.Issues, "; "))
}

func (e *ValidationError) Add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

func (e *ValidationError) OrNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}
