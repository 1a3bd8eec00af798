package domain

import (
	"errors"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a protocol run.
type RunStatus string

const (
	RunStatusPreparing            RunStatus = "preparing"
	RunStatusRunning              RunStatus = "running"
	RunStatusPaused               RunStatus = "paused"
	RunStatusCompleted            RunStatus = "completed"
	RunStatusFailed               RunStatus = "failed"
	RunStatusCancelled            RunStatus = "cancelled"
	RunStatusRequiresIntervention RunStatus = "requires_intervention"
)

// NormalizeRunStatus maps free-form status values to canonical run statuses.
func NormalizeRunStatus(value string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunStatusPreparing), "pending":
		return RunStatusPreparing
	case string(RunStatusRunning):
		return RunStatusRunning
	case string(RunStatusPaused):
		return RunStatusPaused
	case string(RunStatusCompleted):
		return RunStatusCompleted
	case string(RunStatusFailed):
		return RunStatusFailed
	case string(RunStatusCancelled):
		return RunStatusCancelled
	case string(RunStatusRequiresIntervention):
		return RunStatusRequiresIntervention
	default:
		return ""
	}
}

// Terminal reports whether a status is absorbing.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusRequiresIntervention:
		return true
	default:
		return false
	}
}

var runStatusTransitions = map[RunStatus][]RunStatus{
	RunStatusPreparing: {RunStatusRunning, RunStatusPaused, RunStatusCancelled, RunStatusFailed},
	RunStatusRunning:   {RunStatusPaused, RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusRequiresIntervention},
	RunStatusPaused:    {RunStatusRunning, RunStatusCancelled},
}

// CanTransitionRunStatus reports whether current may move to next. Terminal
// statuses never transition; a status may always restate itself.
func CanTransitionRunStatus(current, next RunStatus) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	for _, allowed := range runStatusTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Binding records a resolved asset acquisition on the run for audit and for
// release bookkeeping across process restarts.
type Binding struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// RunError is the structured error payload of a terminal run.
type RunError struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

// ProtocolRun is one execution instance of a protocol definition. Mutated
// only by the orchestrator; retained for audit once terminal.
type ProtocolRun struct {
	ID         string
	Protocol   string
	Version    string
	Source     string
	Commit     string
	Status     RunStatus
	Params     Metadata
	Bindings   map[string]Binding
	StartedAt  time.Time
	EndedAt    *time.Time
	Duration   time.Duration
	FinalState Metadata
	Output     Metadata
	Error      *RunError
}

func (r ProtocolRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.Protocol) == "" {
		return errors.New("protocol name is required")
	}
	if NormalizeRunStatus(string(r.Status)) == "" {
		return errors.New("run status is invalid")
	}
	return nil
}
