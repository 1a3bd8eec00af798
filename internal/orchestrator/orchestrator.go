// Package orchestrator drives the full lifecycle of a protocol run: parameter
// binding, asset acquisition, state checkpointing, cooperative pause/cancel,
// and the terminal cleanup that releases every asset no matter how the run
// ended.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-labs/praxis-go/internal/assets"
	"github.com/praxis-labs/praxis-go/internal/control"
	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/platform/auditlog"
	"github.com/praxis-labs/praxis-go/internal/protocolsrc"
	"github.com/praxis-labs/praxis-go/internal/repo"
	"github.com/praxis-labs/praxis-go/internal/state"
)

const defaultPollInterval = time.Second

// CodeProvider resolves protocol definitions and prepares their executable
// entrypoints.
type CodeProvider interface {
	Resolve(ctx context.Context, name, version, commit, source string) (domain.ProtocolDefinition, error)
	Prepare(ctx context.Context, def domain.ProtocolDefinition) (protocolsrc.ProtocolFunc, error)
}

// Archiver persists terminal run records. Archival failures are logged, never
// surfaced to the run.
type Archiver interface {
	ArchiveRun(ctx context.Context, run domain.ProtocolRun, finalState domain.Metadata) error
}

// Request describes one run to execute.
type Request struct {
	Protocol   string
	Version    string
	Commit     string
	Source     string
	Params     map[string]any
	DeckLayout string
}

// Orchestrator executes protocol runs end to end.
type Orchestrator struct {
	runs     repo.RunRepository
	layouts  repo.DeckLayoutRepository
	provider CodeProvider
	coord    *assets.Coordinator
	states   state.Factory
	control  control.Channel
	audit    auditlog.Appender
	archiver Archiver
	logger   *slog.Logger

	pollInterval time.Duration
	now          func() time.Time
	newID        func() string
}

type Options struct {
	Layouts      repo.DeckLayoutRepository
	Audit        auditlog.Appender
	Archiver     Archiver
	Logger       *slog.Logger
	PollInterval time.Duration
}

func New(runs repo.RunRepository, provider CodeProvider, coord *assets.Coordinator, states state.Factory, ctrl control.Channel, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Orchestrator{
		runs:         runs,
		layouts:      opts.Layouts,
		provider:     provider,
		coord:        coord,
		states:       states,
		control:      ctrl,
		audit:        opts.Audit,
		archiver:     opts.Archiver,
		logger:       logger,
		pollInterval: poll,
		now:          time.Now,
		newID:        newRunID,
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Execute resolves the requested protocol, creates a run record and drives it
// to a terminal status. The returned run reflects the terminal state.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (domain.ProtocolRun, error) {
	def, err := o.provider.Resolve(ctx, req.Protocol, req.Version, req.Commit, req.Source)
	if err != nil {
		return domain.ProtocolRun{}, fmt.Errorf("resolve %s: %w", req.Protocol, err)
	}

	run := domain.ProtocolRun{
		ID:        o.newID(),
		Protocol:  def.Name,
		Version:   def.Version,
		Source:    def.Source,
		Commit:    def.Commit,
		Status:    domain.RunStatusPreparing,
		Params:    domain.Metadata(req.Params),
		StartedAt: o.now().UTC(),
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return domain.ProtocolRun{}, fmt.Errorf("create run: %w", err)
	}
	return o.execute(ctx, run, def, req.DeckLayout)
}

// ExecuteExisting picks up a run record created ahead of time, typically by
// the scheduler after reserving assets for it.
func (o *Orchestrator) ExecuteExisting(ctx context.Context, runID, deckLayout string) (domain.ProtocolRun, error) {
	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		return domain.ProtocolRun{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return run, fmt.Errorf("run %s already terminal (%s)", runID, run.Status)
	}
	def, err := o.provider.Resolve(ctx, run.Protocol, run.Version, run.Commit, run.Source)
	if err != nil {
		return domain.ProtocolRun{}, fmt.Errorf("resolve %s: %w", run.Protocol, err)
	}
	return o.execute(ctx, run, def, deckLayout)
}

// execState tracks everything the terminal cleanup has to undo.
type execState struct {
	acquired       []*assets.Acquired
	deck           *assets.DeckSetup
	interventionID string
}

func (o *Orchestrator) execute(ctx context.Context, run domain.ProtocolRun, def domain.ProtocolDefinition, deckLayout string) (final domain.ProtocolRun, err error) {
	st := o.states.ForRun(run.ID)
	es := &execState{}

	status := domain.RunStatusFailed
	var output domain.Metadata
	var runErr error

	// Cleanup is unconditional: a panic anywhere between acquisition and the
	// procedure's return still releases every asset and finishes the run.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("run panicked", "run_id", run.ID, "panic", r)
			status = domain.RunStatusFailed
			output = nil
			runErr = fmt.Errorf("panic: %v", r)
			o.rollbackAssets(ctx, run.ID, st)
		}
		final = o.finalize(ctx, run, st, es, status, output, runErr)
	}()

	status, output, runErr = o.prepareAndRun(ctx, run, def, deckLayout, st, es)
	return
}

// prepareAndRun performs every fallible phase of a run and reports the
// terminal status it earned. It never releases assets; that is finalize's job.
func (o *Orchestrator) prepareAndRun(ctx context.Context, run domain.ProtocolRun, def domain.ProtocolDefinition, deckLayout string, st state.Store, es *execState) (domain.RunStatus, domain.Metadata, error) {
	// Last-known-good snapshot of live asset state, taken before this run
	// touches anything and read back for rollback if execution fails partway.
	if err := o.snapshotAssets(ctx, st); err != nil {
		return domain.RunStatusFailed, nil, err
	}

	// Honor a command delivered before any work started. Cancelling here is
	// free: nothing has been acquired yet.
	if err := o.checkpoint(ctx, run.ID); err != nil {
		if errors.Is(err, ErrCancelled) {
			return domain.RunStatusCancelled, nil, err
		}
		return domain.RunStatusFailed, nil, err
	}

	if err := o.transition(ctx, run.ID, domain.RunStatusRunning); err != nil {
		return domain.RunStatusFailed, nil, err
	}

	args, err := o.bindParameters(def, run.Params)
	if err != nil {
		return domain.RunStatusFailed, nil, err
	}

	if err := o.acquireRequirements(ctx, run.ID, def, args, es); err != nil {
		return domain.RunStatusFailed, nil, err
	}

	if def.DeckParameter != "" {
		if err := o.preconfigureDeck(ctx, run.ID, def, deckLayout, args, es); err != nil {
			return domain.RunStatusFailed, nil, err
		}
	}

	if err := o.persistBindings(ctx, run.ID, es); err != nil {
		return domain.RunStatusFailed, nil, err
	}

	fn, err := o.provider.Prepare(ctx, def)
	if err != nil {
		return domain.RunStatusFailed, nil, err
	}

	o.injectState(ctx, def, args, st)

	rc := protocolsrc.RunContext{
		RunID:  run.ID,
		Args:   args,
		State:  st,
		Logger: o.logger.With("run_id", run.ID, "protocol", def.Name),
		Checkpoint: func(cctx context.Context) error {
			return o.checkpoint(cctx, run.ID)
		},
	}

	output, err := fn(ctx, rc)
	switch {
	case err == nil:
		return domain.RunStatusCompleted, output, nil
	case errors.Is(err, ErrCancelled):
		return domain.RunStatusCancelled, nil, err
	default:
		var physErr *assets.PhysicalStateError
		if errors.As(err, &physErr) {
			es.interventionID = physErr.AccessionID
			return domain.RunStatusRequiresIntervention, nil, err
		}
		o.rollbackAssets(ctx, run.ID, st)
		return domain.RunStatusFailed, nil, err
	}
}

// bindParameters maps caller params onto the declared parameter list,
// applying defaults and collecting every violation.
func (o *Orchestrator) bindParameters(def domain.ProtocolDefinition, params domain.Metadata) (map[string]any, error) {
	args := map[string]any{}
	verr := &ValidationError{}

	declared := map[string]struct{}{}
	for _, p := range def.Parameters {
		declared[p.Name] = struct{}{}
		value, ok := params[p.Name]
		switch {
		case ok:
			args[p.Name] = value
		case p.Default != nil:
			args[p.Name] = p.Default
		case p.Optional:
			args[p.Name] = nil
		default:
			verr.Add("missing required parameter %q", p.Name)
		}
	}
	for name := range params {
		if _, ok := declared[name]; !ok {
			verr.Add("unknown parameter %q", name)
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return args, nil
}

// acquireRequirements claims assets in declaration order. A mandatory miss
// aborts; an optional miss binds nil.
func (o *Orchestrator) acquireRequirements(ctx context.Context, runID string, def domain.ProtocolDefinition, args map[string]any, es *execState) error {
	for _, req := range def.Assets {
		acq, err := o.coord.Acquire(ctx, runID, req)
		if err != nil {
			if req.Optional {
				o.logger.Info("optional asset unavailable", "run_id", runID, "requirement", req.Name, "error", err)
				args[req.Name] = nil
				continue
			}
			return fmt.Errorf("requirement %q: %w", req.Name, err)
		}
		es.acquired = append(es.acquired, acq)
		args[req.Name] = acq.Handle
		o.auditEvent(ctx, runID, "asset.claimed", "asset", acq.Asset.AccessionID, map[string]any{
			"requirement": req.Name,
		})
	}
	return nil
}

func (o *Orchestrator) preconfigureDeck(ctx context.Context, runID string, def domain.ProtocolDefinition, deckLayout string, args map[string]any, es *execState) error {
	if deckLayout == "" {
		verr := &ValidationError{}
		verr.Add("protocol binds deck parameter %q but no deck layout was requested", def.DeckParameter)
		return verr
	}
	if o.layouts == nil {
		return fmt.Errorf("deck layout %q requested but no layout repository is configured", deckLayout)
	}
	layout, err := o.layouts.GetLayout(ctx, deckLayout)
	if err != nil {
		return fmt.Errorf("deck layout %q: %w", deckLayout, err)
	}
	setup, err := o.coord.PreconfigureDeck(ctx, runID, layout)
	if err != nil {
		return fmt.Errorf("preconfigure deck %q: %w", deckLayout, err)
	}
	es.deck = setup
	args[def.DeckParameter] = setup.Deck.Handle
	return nil
}

func (o *Orchestrator) persistBindings(ctx context.Context, runID string, es *execState) error {
	bindings := map[string]domain.Binding{}
	for _, acq := range es.acquired {
		bindings[acq.Requirement.Name] = domain.Binding{Type: acq.Requirement.TypeConstraint, Name: acq.Asset.AccessionID}
	}
	if es.deck != nil {
		bindings["deck"] = domain.Binding{Type: "deck", Name: es.deck.Deck.Asset.AccessionID}
		for slot, acq := range es.deck.Slots {
			bindings["deck/"+slot] = domain.Binding{Type: acq.Requirement.TypeConstraint, Name: acq.Asset.AccessionID}
		}
	}
	if len(bindings) == 0 {
		return nil
	}
	if err := o.runs.SetRunBindings(ctx, runID, bindings); err != nil {
		return fmt.Errorf("persist bindings: %w", err)
	}
	return nil
}

func (o *Orchestrator) snapshotAssets(ctx context.Context, st state.Store) error {
	blob, err := o.coord.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot asset state: %w", err)
	}
	if err := st.Set(ctx, state.AssetSnapshotKey, string(blob)); err != nil {
		return fmt.Errorf("persist asset snapshot: %w", err)
	}
	return nil
}

func (o *Orchestrator) rollbackAssets(ctx context.Context, runID string, st state.Store) {
	raw, err := st.Get(ctx, state.AssetSnapshotKey)
	if err != nil {
		if !errors.Is(err, state.ErrKeyNotFound) {
			o.logger.Error("reading asset snapshot failed", "run_id", runID, "error", err)
		}
		return
	}
	blob, ok := raw.(string)
	if !ok {
		o.logger.Error("asset snapshot has unexpected shape", "run_id", runID)
		return
	}
	if err := o.coord.Restore(ctx, []byte(blob)); err != nil {
		o.logger.Error("asset state rollback failed", "run_id", runID, "error", err)
		return
	}
	o.logger.Info("asset state rolled back", "run_id", runID)
}

func (o *Orchestrator) injectState(ctx context.Context, def domain.ProtocolDefinition, args map[string]any, st state.Store) {
	if def.StateParameter == "" {
		return
	}
	if def.StateShape == domain.StateModeSnapshot {
		snapshot, err := st.Export(ctx)
		if err != nil {
			o.logger.Error("state export for snapshot parameter failed", "error", err)
			snapshot = domain.Metadata{}
		}
		delete(snapshot, state.AssetSnapshotKey)
		args[def.StateParameter] = map[string]any(snapshot)
		return
	}
	args[def.StateParameter] = st
}

// checkpoint consumes any pending control command. A pause parks the run on a
// poll loop until resume, cancel, or context cancellation.
func (o *Orchestrator) checkpoint(ctx context.Context, runID string) error {
	cmd, err := o.control.Get(ctx, runID)
	if err != nil {
		o.logger.Warn("control channel read failed", "run_id", runID, "error", err)
		return nil
	}
	switch cmd {
	case control.CommandCancel:
		o.clearCommand(ctx, runID)
		return ErrCancelled
	case control.CommandPause:
		o.clearCommand(ctx, runID)
		return o.pauseLoop(ctx, runID)
	case control.CommandResume:
		// Stale resume with nothing paused; just consume it.
		o.clearCommand(ctx, runID)
	}
	return nil
}

func (o *Orchestrator) pauseLoop(ctx context.Context, runID string) error {
	if err := o.transition(ctx, runID, domain.RunStatusPaused); err != nil {
		return err
	}
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cmd, err := o.control.Get(ctx, runID)
			if err != nil {
				o.logger.Warn("control channel read failed while paused", "run_id", runID, "error", err)
				continue
			}
			switch cmd {
			case control.CommandResume:
				o.clearCommand(ctx, runID)
				return o.transition(ctx, runID, domain.RunStatusRunning)
			case control.CommandCancel:
				o.clearCommand(ctx, runID)
				return ErrCancelled
			}
		}
	}
}

func (o *Orchestrator) clearCommand(ctx context.Context, runID string) {
	if err := o.control.Clear(ctx, runID); err != nil {
		o.logger.Warn("clearing control command failed", "run_id", runID, "error", err)
	}
}

func (o *Orchestrator) transition(ctx context.Context, runID string, next domain.RunStatus) error {
	prev, err := o.runs.UpdateRunStatus(ctx, runID, next)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", next, err)
	}
	if prev != next {
		o.logger.Info("run status changed", "run_id", runID, "from", prev, "to", next)
		o.auditEvent(ctx, runID, "run.status", "run", runID, map[string]any{
			"from": string(prev), "to": string(next),
		})
	}
	return nil
}

// finalize commits the terminal status and unconditionally releases every
// asset the run holds. Each release is isolated with one retry so a stuck
// asset cannot strand its siblings in in_use.
func (o *Orchestrator) finalize(ctx context.Context, run domain.ProtocolRun, st state.Store, es *execState, status domain.RunStatus, output domain.Metadata, runErr error) domain.ProtocolRun {
	for _, acq := range es.acquired {
		releaseTo := domain.AssetStatusAvailable
		if acq.Asset.AccessionID == es.interventionID {
			// Physical state is in doubt; hold the asset out of the pool
			// until an operator clears it.
			releaseTo = domain.AssetStatusError
		}
		o.releaseWithRetry(ctx, run.ID, acq, releaseTo)
	}
	if es.deck != nil {
		o.coord.ReleaseDeck(ctx, run.ID, es.deck)
	}

	finalState, err := st.Export(ctx)
	if err != nil {
		o.logger.Error("final state export failed", "run_id", run.ID, "error", err)
		finalState = nil
	}
	delete(finalState, state.AssetSnapshotKey)

	endedAt := o.now().UTC()
	record := o.buildRunError(status, runErr)
	if err := o.runs.FinishRun(ctx, run.ID, status, output, record, finalState, endedAt); err != nil {
		o.logger.Error("finishing run failed", "run_id", run.ID, "status", status, "error", err)
	}
	o.auditEvent(ctx, run.ID, "run.finished", "run", run.ID, map[string]any{
		"status": string(status),
	})

	final, err := o.runs.GetRun(ctx, run.ID)
	if err != nil {
		o.logger.Error("reloading terminal run failed", "run_id", run.ID, "error", err)
		final = run
		final.Status = status
		final.Output = output
		final.Error = record
		final.FinalState = finalState
		final.EndedAt = &endedAt
	}

	if o.archiver != nil {
		if err := o.archiver.ArchiveRun(ctx, final, finalState); err != nil {
			o.logger.Warn("run archive failed", "run_id", run.ID, "error", err)
		}
	}

	// Keep the state around when an operator still needs it for diagnosis.
	if status != domain.RunStatusRequiresIntervention && status != domain.RunStatusFailed {
		if err := st.Clear(ctx); err != nil {
			o.logger.Warn("clearing run state failed", "run_id", run.ID, "error", err)
		}
	}
	o.clearCommand(ctx, run.ID)
	return final
}

func (o *Orchestrator) releaseWithRetry(ctx context.Context, runID string, acq *assets.Acquired, status domain.AssetStatus) {
	err := o.coord.Release(ctx, runID, acq, status)
	if err == nil {
		if status == domain.AssetStatusError {
			o.auditEvent(ctx, runID, "asset.quarantined", "asset", acq.Asset.AccessionID, nil)
		} else {
			o.auditEvent(ctx, runID, "asset.released", "asset", acq.Asset.AccessionID, nil)
		}
		return
	}
	o.logger.Warn("asset release failed, retrying", "run_id", runID, "accession_id", acq.Asset.AccessionID, "error", err)
	if err := o.coord.Release(ctx, runID, acq, status); err != nil {
		o.logger.Error("asset release failed permanently", "run_id", runID, "accession_id", acq.Asset.AccessionID, "error", err)
	}
}

func (o *Orchestrator) buildRunError(status domain.RunStatus, err error) *domain.RunError {
	if err == nil || status == domain.RunStatusCompleted {
		return nil
	}
	var physErr *assets.PhysicalStateError
	var acqErr *assets.AcquisitionError
	var verr *ValidationError
	var defErr *protocolsrc.ValidationError
	switch {
	case errors.As(err, &physErr):
		return &domain.RunError{Type: "physical_state", Message: physErr.Message, Remediation: physErr.Remediation}
	case errors.As(err, &acqErr):
		return &domain.RunError{Type: "acquisition", Message: acqErr.Error()}
	case errors.As(err, &verr):
		return &domain.RunError{Type: "validation", Message: verr.Error()}
	case errors.As(err, &defErr):
		return &domain.RunError{Type: "validation", Message: defErr.Error()}
	case errors.Is(err, ErrCancelled):
		return &domain.RunError{Type: "cancelled", Message: "run cancelled by request"}
	default:
		return &domain.RunError{Type: "execution", Message: err.Error()}
	}
}

func (o *Orchestrator) auditEvent(ctx context.Context, runID, action, resourceType, resourceID string, payload map[string]any) {
	if o.audit == nil {
		return
	}
	event := auditlog.Event{
		OccurredAt:   o.now().UTC(),
		Actor:        "orchestrator",
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload,
	}
	if _, err := o.audit.Append(ctx, event); err != nil {
		o.logger.Warn("audit append failed", "run_id", runID, "action", action, "error", err)
	}
}
