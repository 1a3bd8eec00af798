// Package scheduler accepts run requests, reserves the assets a run will
// need, and hands execution to the orchestrator in the background.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-labs/praxis-go/internal/control"
	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/orchestrator"
	"github.com/praxis-labs/praxis-go/internal/repo"
)

// ErrAssetsUnavailable reports that a reservation could not be satisfied at
// submission time.
var ErrAssetsUnavailable = errors.New("required assets unavailable")

// Executor runs a previously created run record to completion.
type Executor interface {
	ExecuteExisting(ctx context.Context, runID, deckLayout string) (domain.ProtocolRun, error)
}

// Resolver resolves protocol definitions ahead of scheduling so bad requests
// fail before a run record exists.
type Resolver interface {
	Resolve(ctx context.Context, name, version, commit, source string) (domain.ProtocolDefinition, error)
}

// Scheduler is the submission front of the engine. Reservation at submission
// time keeps two queued runs from being admitted against the same scarce
// asset and failing later.
type Scheduler struct {
	runs     repo.RunRepository
	assets   repo.AssetRepository
	resolver Resolver
	executor Executor
	control  control.Channel
	logger   *slog.Logger

	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string
}

func New(runs repo.RunRepository, assets repo.AssetRepository, resolver Resolver, executor Executor, ctrl control.Channel, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runs:     runs,
		assets:   assets,
		resolver: resolver,
		executor: executor,
		control:  ctrl,
		logger:   logger,
		now:      time.Now,
		newID:    newRunID,
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Schedule validates the request, creates the run record, reserves every
// mandatory asset, and starts execution in the background. The returned run
// id can be used with Cancel, Pause and Resume immediately.
func (s *Scheduler) Schedule(ctx context.Context, req orchestrator.Request) (string, error) {
	def, err := s.resolver.Resolve(ctx, req.Protocol, req.Version, req.Commit, req.Source)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", req.Protocol, err)
	}

	run := domain.ProtocolRun{
		ID:        s.newID(),
		Protocol:  def.Name,
		Version:   def.Version,
		Source:    def.Source,
		Commit:    def.Commit,
		Status:    domain.RunStatusPreparing,
		Params:    domain.Metadata(req.Params),
		StartedAt: s.now().UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	if err := s.reserve(ctx, run.ID, def); err != nil {
		s.releaseReservations(ctx, run.ID)
		if fErr := s.runs.FinishRun(ctx, run.ID, domain.RunStatusFailed, nil,
			&domain.RunError{Type: "acquisition", Message: err.Error()}, nil, s.now().UTC()); fErr != nil {
			s.logger.Error("finishing unschedulable run", "run_id", run.ID, "error", fErr)
		}
		return run.ID, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The run outlives the submission request.
		runCtx := context.WithoutCancel(ctx)
		if _, err := s.executor.ExecuteExisting(runCtx, run.ID, req.DeckLayout); err != nil {
			s.logger.Error("run execution failed to start", "run_id", run.ID, "error", err)
		}
		// Anything reserved here but never acquired by the orchestrator is
		// still owned by the run; sweep it back into the pool.
		s.releaseReservations(runCtx, run.ID)
	}()
	s.logger.Info("run scheduled", "run_id", run.ID, "protocol", def.Name, "version", def.Version)
	return run.ID, nil
}

// reserve claims one candidate per mandatory requirement. Optional
// requirements are left for acquisition time; missing one is not a reason to
// refuse admission.
func (s *Scheduler) reserve(ctx context.Context, runID string, def domain.ProtocolDefinition) error {
	for _, req := range def.Assets {
		if req.Optional {
			continue
		}
		candidate, err := s.assets.FindAvailable(ctx, repo.AssetFilter{
			Kind:       req.Kind,
			Type:       req.TypeConstraint,
			OwnerRunID: runID,
		})
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: requirement %q (%s)", ErrAssetsUnavailable, req.Name, req.TypeConstraint)
			}
			return fmt.Errorf("reserve %q: %w", req.Name, err)
		}
		if err := s.assets.ClaimAsset(ctx, candidate.AccessionID, runID); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return fmt.Errorf("%w: requirement %q lost to a concurrent run", ErrAssetsUnavailable, req.Name)
			}
			return fmt.Errorf("reserve %q: %w", req.Name, err)
		}
	}
	return nil
}

func (s *Scheduler) releaseReservations(ctx context.Context, runID string) {
	held, err := s.assets.ListAssets(ctx, repo.AssetFilter{Status: domain.AssetStatusInUse, OwnerRunID: runID})
	if err != nil {
		s.logger.Error("listing reservations failed", "run_id", runID, "error", err)
		return
	}
	for _, asset := range held {
		if err := s.assets.ReleaseAsset(ctx, asset.AccessionID, runID, domain.AssetStatusAvailable, nil); err != nil {
			s.logger.Error("releasing reservation failed", "run_id", runID, "accession_id", asset.AccessionID, "error", err)
		}
	}
}

// Cancel requests cooperative cancellation of a run. The run stops at its
// next checkpoint.
func (s *Scheduler) Cancel(ctx context.Context, runID string) error {
	return s.signal(ctx, runID, control.CommandCancel)
}

// Pause requests a cooperative pause at the run's next checkpoint.
func (s *Scheduler) Pause(ctx context.Context, runID string) error {
	return s.signal(ctx, runID, control.CommandPause)
}

// Resume releases a paused run.
func (s *Scheduler) Resume(ctx context.Context, runID string) error {
	return s.signal(ctx, runID, control.CommandResume)
}

func (s *Scheduler) signal(ctx context.Context, runID string, cmd control.Command) error {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s is already %s", runID, run.Status)
	}
	if err := s.control.Set(ctx, runID, cmd); err != nil {
		return fmt.Errorf("signal %s to run %s: %w", cmd, runID, err)
	}
	s.logger.Info("control command sent", "run_id", runID, "command", cmd)
	return nil
}

// Wait blocks until every scheduled run has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown waits for in-flight runs until ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
