package repo

import "errors"

var (
	// ErrNotFound signals a missing asset, run, definition, or layout.
	ErrNotFound = errors.New("not_found")
	// ErrConflict signals a lost claim race or a duplicate create.
	ErrConflict = errors.New("conflict")
	// ErrNotOwner signals a release attempted by a run that does not own the asset.
	ErrNotOwner = errors.New("not_owner")
	// ErrInvalidTransition signals a run status update the state machine forbids.
	ErrInvalidTransition = errors.New("invalid_transition")
)
