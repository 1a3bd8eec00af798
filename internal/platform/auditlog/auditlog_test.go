package auditlog

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	event := Event{
		OccurredAt:   time.Now(),
		Actor:        "orchestrator",
		Action:       "run.completed",
		ResourceType: "run",
		ResourceID:   "run-1",
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event.Action = " "
	if err := event.Validate(); err == nil {
		t.Fatalf("expected error for blank action")
	}
}

func TestComputeIntegrityIsDeterministic(t *testing.T) {
	event := Event{
		OccurredAt:   time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		Actor:        "orchestrator",
		Action:       "run.failed",
		ResourceType: "run",
		ResourceID:   "run-1",
	}
	payload, err := json.Marshal(map[string]any{"from": "running", "to": "failed"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	first, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if first != second || first == "" {
		t.Fatalf("expected stable non-empty integrity, got %q and %q", first, second)
	}
}
