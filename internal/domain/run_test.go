package domain

import "testing"

func TestCanTransitionRunStatus(t *testing.T) {
	cases := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunStatusPreparing, RunStatusRunning, true},
		{RunStatusPreparing, RunStatusPaused, true},
		{RunStatusPreparing, RunStatusCancelled, true},
		{RunStatusPreparing, RunStatusCompleted, false},
		{RunStatusRunning, RunStatusPaused, true},
		{RunStatusPaused, RunStatusRunning, true},
		{RunStatusPaused, RunStatusCancelled, true},
		{RunStatusPaused, RunStatusCompleted, false},
		{RunStatusRunning, RunStatusCompleted, true},
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusRunning, RunStatusRequiresIntervention, true},
		{RunStatusCompleted, RunStatusRunning, false},
		{RunStatusCancelled, RunStatusRunning, false},
		{RunStatusFailed, RunStatusCompleted, false},
		{RunStatusRequiresIntervention, RunStatusRunning, false},
		{RunStatusRunning, RunStatusRunning, true},
		{"", RunStatusRunning, false},
		{RunStatusRunning, "", false},
	}
	for _, tc := range cases {
		if got := CanTransitionRunStatus(tc.from, tc.to); got != tc.want {
			t.Fatalf("transition %s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRunStatusTerminal(t *testing.T) {
	terminal := []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusRequiresIntervention}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []RunStatus{RunStatusPreparing, RunStatusRunning, RunStatusPaused} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestNormalizeRunStatus(t *testing.T) {
	if got := NormalizeRunStatus(" Running "); got != RunStatusRunning {
		t.Fatalf("expected running, got %q", got)
	}
	if got := NormalizeRunStatus("pending"); got != RunStatusPreparing {
		t.Fatalf("expected preparing for pending, got %q", got)
	}
	if got := NormalizeRunStatus("bogus"); got != "" {
		t.Fatalf("expected empty for bogus, got %q", got)
	}
}

func TestAssetValidateOwnershipInvariant(t *testing.T) {
	asset := Asset{AccessionID: "AC-1", Kind: AssetKindDevice, Type: "liquid_handler", Status: AssetStatusInUse}
	if err := asset.Validate(); err == nil {
		t.Fatalf("expected error for in_use asset without owner")
	}
	asset.OwnerRunID = "run-1"
	if err := asset.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	asset.Status = AssetStatusAvailable
	if err := asset.Validate(); err == nil {
		t.Fatalf("expected error for available asset with owner")
	}
}

func TestProtocolDefinitionValidate(t *testing.T) {
	def := ProtocolDefinition{
		Name:       "Example",
		Version:    "1.0.0",
		Entrypoint: "protocols.example.run",
		Parameters: []ParameterSpec{{Name: "cycles", Type: "int"}},
		Assets:     []AssetRequirement{{Name: "plate", TypeConstraint: "corning_96_wellplate", Kind: AssetKindResource}},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def.Assets = append(def.Assets, AssetRequirement{Name: "cycles", TypeConstraint: "x"})
	if err := def.Validate(); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}
