package assets

import "fmt"

// AcquisitionError reports why a single requirement could not be satisfied.
type AcquisitionError struct {
	Requirement string
	Reason      string
	Err         error
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquire %q: %s: %v", e.Requirement, e.Reason, e.Err)
	}
	return fmt.Sprintf("acquire %q: %s", e.Requirement, e.Reason)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// PhysicalStateError marks a failure where the recorded state of an asset can
// no longer be trusted to match the physical world. The affected asset must
// not silently return to the available pool; an operator has to look at it.
type PhysicalStateError struct {
	AccessionID string
	Message     string
	Remediation string
}

func (e *PhysicalStateError) Error() string {
	return fmt.Sprintf("physical state uncertain for %s: %s", e.AccessionID, e.Message)
}
