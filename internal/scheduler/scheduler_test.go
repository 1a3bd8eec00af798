package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/praxis-labs/praxis-go/internal/control"
	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/orchestrator"
	"github.com/praxis-labs/praxis-go/internal/repo"
	"github.com/praxis-labs/praxis-go/internal/repo/memory"
)

type fakeResolver struct {
	def domain.ProtocolDefinition
	err error
}

func (r *fakeResolver) Resolve(_ context.Context, name, _, _, _ string) (domain.ProtocolDefinition, error) {
	if r.err != nil {
		return domain.ProtocolDefinition{}, r.err
	}
	if name != r.def.Name {
		return domain.ProtocolDefinition{}, repo.ErrNotFound
	}
	return r.def, nil
}

// fakeExecutor finishes runs directly, optionally releasing the assets the
// orchestrator would have consumed.
type fakeExecutor struct {
	mu       sync.Mutex
	runs     *memory.RunStore
	assets   *memory.AssetStore
	status   domain.RunStatus
	consume  bool
	executed []string
	block    chan struct{}
}

func (e *fakeExecutor) ExecuteExisting(ctx context.Context, runID, _ string) (domain.ProtocolRun, error) {
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	e.executed = append(e.executed, runID)
	e.mu.Unlock()
	if e.consume {
		held, _ := e.assets.ListAssets(ctx, repo.AssetFilter{OwnerRunID: runID})
		for _, a := range held {
			_ = e.assets.ReleaseAsset(ctx, a.AccessionID, runID, domain.AssetStatusAvailable, nil)
		}
	}
	status := e.status
	if status == "" {
		status = domain.RunStatusCompleted
	}
	if _, err := e.runs.UpdateRunStatus(ctx, runID, domain.RunStatusRunning); err != nil {
		return domain.ProtocolRun{}, err
	}
	if err := e.runs.FinishRun(ctx, runID, status, nil, nil, nil, time.Now().UTC()); err != nil {
		return domain.ProtocolRun{}, err
	}
	return e.runs.GetRun(ctx, runID)
}

func pipettorDefinition() domain.ProtocolDefinition {
	return domain.ProtocolDefinition{
		Name:       "plate_wash",
		Version:    "2.0.0",
		Source:     "lab-protocols",
		Entrypoint: "protocols.plate_wash",
		Assets: []domain.AssetRequirement{
			{Name: "washer", Kind: domain.AssetKindDevice, TypeConstraint: "plate_washer"},
			{Name: "reader", Kind: domain.AssetKindDevice, TypeConstraint: "barcode_reader", Optional: true},
		},
	}
}

func newScheduler(t *testing.T, def domain.ProtocolDefinition) (*Scheduler, *memory.RunStore, *memory.AssetStore, *fakeExecutor) {
	t.Helper()
	runs := memory.NewRunStore()
	assetStore := memory.NewAssetStore()
	exec := &fakeExecutor{runs: runs, assets: assetStore, consume: true}
	sched := New(runs, assetStore, &fakeResolver{def: def}, exec, control.NewMemoryChannel(), nil)
	return sched, runs, assetStore, exec
}

func seedWasher(t *testing.T, store *memory.AssetStore) {
	t.Helper()
	err := store.CreateAsset(context.Background(), domain.Asset{
		AccessionID: "washer-1", Kind: domain.AssetKindDevice, Type: "plate_washer", Status: domain.AssetStatusAvailable,
	})
	if err != nil {
		t.Fatalf("seed washer: %v", err)
	}
}

func TestScheduleReservesAndExecutes(t *testing.T) {
	sched, runs, assetStore, exec := newScheduler(t, pipettorDefinition())
	seedWasher(t, assetStore)

	runID, err := sched.Schedule(context.Background(), orchestrator.Request{Protocol: "plate_wash"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	sched.Wait()

	exec.mu.Lock()
	executed := len(exec.executed)
	exec.mu.Unlock()
	if executed != 1 {
		t.Fatalf("expected one execution, got %d", executed)
	}
	run, err := runs.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	asset, _ := assetStore.GetAsset(context.Background(), "washer-1")
	if asset.Status != domain.AssetStatusAvailable {
		t.Fatalf("washer not returned to pool: %s", asset.Status)
	}
}

func TestScheduleFailsFastWhenAssetsUnavailable(t *testing.T) {
	sched, runs, _, exec := newScheduler(t, pipettorDefinition())
	// No washer seeded; mandatory reservation cannot be satisfied.

	runID, err := sched.Schedule(context.Background(), orchestrator.Request{Protocol: "plate_wash"})
	if !errors.Is(err, ErrAssetsUnavailable) {
		t.Fatalf("expected ErrAssetsUnavailable, got %v", err)
	}
	run, gErr := runs.GetRun(context.Background(), runID)
	if gErr != nil {
		t.Fatalf("get run: %v", gErr)
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if run.Error == nil || run.Error.Type != "acquisition" {
		t.Fatalf("expected acquisition error, got %v", run.Error)
	}
	exec.mu.Lock()
	executed := len(exec.executed)
	exec.mu.Unlock()
	if executed != 0 {
		t.Fatal("executor must not run an unschedulable run")
	}
}

func TestScheduleReservationExcludesConcurrentRun(t *testing.T) {
	sched, _, assetStore, exec := newScheduler(t, pipettorDefinition())
	seedWasher(t, assetStore)
	exec.block = make(chan struct{})

	first, err := sched.Schedule(context.Background(), orchestrator.Request{Protocol: "plate_wash"})
	if err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	// The single washer is reserved for the first run; admission of a second
	// run must be refused rather than deferred.
	if _, err := sched.Schedule(context.Background(), orchestrator.Request{Protocol: "plate_wash"}); !errors.Is(err, ErrAssetsUnavailable) {
		t.Fatalf("expected ErrAssetsUnavailable for second run, got %v", err)
	}
	close(exec.block)
	sched.Wait()

	asset, _ := assetStore.GetAsset(context.Background(), "washer-1")
	if asset.Status != domain.AssetStatusAvailable || asset.OwnerRunID != "" {
		t.Fatalf("washer not free after first run %s: status=%s owner=%s", first, asset.Status, asset.OwnerRunID)
	}
}

func TestScheduleSweepsLeftoverReservations(t *testing.T) {
	sched, _, assetStore, exec := newScheduler(t, pipettorDefinition())
	seedWasher(t, assetStore)
	// Executor that never touches assets, as if the run failed before
	// acquisition.
	exec.consume = false
	exec.status = domain.RunStatusFailed

	if _, err := sched.Schedule(context.Background(), orchestrator.Request{Protocol: "plate_wash"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	sched.Wait()

	asset, _ := assetStore.GetAsset(context.Background(), "washer-1")
	if asset.Status != domain.AssetStatusAvailable || asset.OwnerRunID != "" {
		t.Fatalf("reservation not swept: status=%s owner=%s", asset.Status, asset.OwnerRunID)
	}
}

func TestCancelRejectsTerminalRun(t *testing.T) {
	sched, runs, assetStore, _ := newScheduler(t, pipettorDefinition())
	seedWasher(t, assetStore)

	runID, err := sched.Schedule(context.Background(), orchestrator.Request{Protocol: "plate_wash"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	sched.Wait()

	run, _ := runs.GetRun(context.Background(), runID)
	if !run.Status.Terminal() {
		t.Fatalf("run should be terminal, got %s", run.Status)
	}
	if err := sched.Cancel(context.Background(), runID); err == nil {
		t.Fatal("expected cancel of terminal run to fail")
	}
}

func TestCancelSignalsActiveRun(t *testing.T) {
	sched, _, assetStore, exec := newScheduler(t, pipettorDefinition())
	seedWasher(t, assetStore)
	exec.block = make(chan struct{})

	runID, err := sched.Schedule(context.Background(), orchestrator.Request{Protocol: "plate_wash"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := sched.Cancel(context.Background(), runID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cmd, err := sched.control.Get(context.Background(), runID)
	if err != nil {
		t.Fatalf("read control: %v", err)
	}
	if cmd != control.CommandCancel {
		t.Fatalf("expected cancel command staged, got %q", cmd)
	}
	close(exec.block)
	sched.Wait()
}

func TestShutdownHonorsDeadline(t *testing.T) {
	sched, _, assetStore, exec := newScheduler(t, pipettorDefinition())
	seedWasher(t, assetStore)
	exec.block = make(chan struct{})

	if _, err := sched.Schedule(context.Background(), orchestrator.Request{Protocol: "plate_wash"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sched.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	close(exec.block)
	sched.Wait()
}
