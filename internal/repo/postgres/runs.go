package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/repo"
)

const selectRunColumns = `run_id, protocol, version, source, commit_sha, status,
	params, bindings, started_at, ended_at, duration_ms, final_state, output, error_payload`

// updateRunStatusQuery carries the previous status as a predicate so a
// concurrent transition loses cleanly instead of clobbering.
const updateRunStatusQuery = `UPDATE protocol_runs
	SET status = $1 WHERE run_id = $2 AND status = $3`

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.ProtocolRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	paramsJSON, err := encodeMetadata(run.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	bindingsJSON, err := encodeBindings(run.Bindings)
	if err != nil {
		return fmt.Errorf("encode bindings: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO protocol_runs (run_id, protocol, version, source, commit_sha, status, params, bindings, started_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.Protocol),
		nullIfEmpty(run.Version),
		nullIfEmpty(run.Source),
		nullIfEmpty(run.Commit),
		string(run.Status),
		paramsJSON,
		bindingsJSON,
		normalizeTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.ProtocolRun, error) {
	if s == nil || s.db == nil {
		return domain.ProtocolRun{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ProtocolRun{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+selectRunColumns+` FROM protocol_runs WHERE run_id = $1`,
		id,
	)
	return scanRun(row)
}

func scanRun(row rowScanner) (domain.ProtocolRun, error) {
	var run domain.ProtocolRun
	var version, source, commit sql.NullString
	var status string
	var paramsJSON, bindingsJSON, finalStateJSON, outputJSON, errorJSON []byte
	var endedAt sql.NullTime
	var durationMS sql.NullInt64
	if err := row.Scan(&run.ID, &run.Protocol, &version, &source, &commit, &status,
		&paramsJSON, &bindingsJSON, &run.StartedAt, &endedAt, &durationMS, &finalStateJSON, &outputJSON, &errorJSON); err != nil {
		return domain.ProtocolRun{}, handleNotFound(err)
	}
	if version.Valid {
		run.Version = version.String
	}
	if source.Valid {
		run.Source = source.String
	}
	if commit.Valid {
		run.Commit = commit.String
	}
	run.Status = domain.NormalizeRunStatus(status)
	if endedAt.Valid {
		ended := endedAt.Time.UTC()
		run.EndedAt = &ended
	}
	if durationMS.Valid {
		run.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	params, err := decodeMetadata(paramsJSON)
	if err != nil {
		return domain.ProtocolRun{}, fmt.Errorf("decode params: %w", err)
	}
	run.Params = params
	bindings, err := decodeBindings(bindingsJSON)
	if err != nil {
		return domain.ProtocolRun{}, fmt.Errorf("decode bindings: %w", err)
	}
	run.Bindings = bindings
	finalState, err := decodeMetadata(finalStateJSON)
	if err != nil {
		return domain.ProtocolRun{}, fmt.Errorf("decode final state: %w", err)
	}
	run.FinalState = finalState
	output, err := decodeMetadata(outputJSON)
	if err != nil {
		return domain.ProtocolRun{}, fmt.Errorf("decode output: %w", err)
	}
	run.Output = output
	if len(errorJSON) > 0 {
		var runErr domain.RunError
		if err := json.Unmarshal(errorJSON, &runErr); err != nil {
			return domain.ProtocolRun{}, fmt.Errorf("decode error payload: %w", err)
		}
		if runErr.Type != "" || runErr.Message != "" {
			run.Error = &runErr
		}
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.ProtocolRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if strings.TrimSpace(filter.Protocol) != "" {
		args = append(args, strings.TrimSpace(filter.Protocol))
		clauses = append(clauses, fmt.Sprintf("protocol = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + selectRunColumns + ` FROM protocol_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY run_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.ProtocolRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) (domain.RunStatus, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("run store not initialized")
	}
	current, err := s.GetRun(ctx, id)
	if err != nil {
		return "", err
	}
	if current.Status == status {
		return current.Status, nil
	}
	if !domain.CanTransitionRunStatus(current.Status, status) {
		return current.Status, repo.ErrInvalidTransition
	}
	res, err := s.db.ExecContext(ctx, updateRunStatusQuery, string(status), strings.TrimSpace(id), string(current.Status))
	if err != nil {
		return current.Status, fmt.Errorf("update run status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return current.Status, fmt.Errorf("update run status: %w", err)
	}
	if rows == 0 {
		return current.Status, repo.ErrConflict
	}
	return current.Status, nil
}

func (s *RunStore) SetRunBindings(ctx context.Context, id string, bindings map[string]domain.Binding) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	bindingsJSON, err := encodeBindings(bindings)
	if err != nil {
		return fmt.Errorf("encode bindings: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE protocol_runs SET bindings = $1 WHERE run_id = $2`, bindingsJSON, id)
	if err != nil {
		return fmt.Errorf("set bindings: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set bindings: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *RunStore) FinishRun(ctx context.Context, id string, status domain.RunStatus, output domain.Metadata, runErr *domain.RunError, finalState domain.Metadata, endedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	current, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != status && !domain.CanTransitionRunStatus(current.Status, status) {
		return repo.ErrInvalidTransition
	}
	outputJSON, err := encodeMetadata(output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	finalStateJSON, err := encodeMetadata(finalState)
	if err != nil {
		return fmt.Errorf("encode final state: %w", err)
	}
	var errorJSON []byte
	if runErr != nil {
		errorJSON, err = json.Marshal(runErr)
		if err != nil {
			return fmt.Errorf("encode error payload: %w", err)
		}
	}
	ended := endedAt.UTC()
	durationMS := ended.Sub(current.StartedAt).Milliseconds()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE protocol_runs
		 SET status = $1, output = $2, error_payload = $3, final_state = $4, ended_at = $5, duration_ms = $6
		 WHERE run_id = $7`,
		string(status),
		outputJSON,
		errorJSON,
		finalStateJSON,
		ended,
		durationMS,
		strings.TrimSpace(id),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func encodeBindings(bindings map[string]domain.Binding) ([]byte, error) {
	if bindings == nil {
		bindings = map[string]domain.Binding{}
	}
	return json.Marshal(bindings)
}

func decodeBindings(raw []byte) (map[string]domain.Binding, error) {
	if len(raw) == 0 {
		return map[string]domain.Binding{}, nil
	}
	var out map[string]domain.Binding
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]domain.Binding{}
	}
	return out, nil
}
