package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/repo"
)

const selectDefinitionColumns = `name, version, source, commit_sha, entrypoint,
	parameters, asset_requirements, state_parameter, state_shape, deck_parameter`

type DefinitionStore struct {
	db DB
}

func NewDefinitionStore(db DB) *DefinitionStore {
	if db == nil {
		return nil
	}
	return &DefinitionStore{db: db}
}

func (s *DefinitionStore) PutDefinition(ctx context.Context, def domain.ProtocolDefinition) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("definition store not initialized")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	paramsJSON, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	assetsJSON, err := json.Marshal(def.Assets)
	if err != nil {
		return fmt.Errorf("encode asset requirements: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO protocol_definitions
			(name, version, source, commit_sha, entrypoint, parameters, asset_requirements, state_parameter, state_shape, deck_parameter)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (name, version) DO UPDATE SET
			source = EXCLUDED.source,
			commit_sha = EXCLUDED.commit_sha,
			entrypoint = EXCLUDED.entrypoint,
			parameters = EXCLUDED.parameters,
			asset_requirements = EXCLUDED.asset_requirements,
			state_parameter = EXCLUDED.state_parameter,
			state_shape = EXCLUDED.state_shape,
			deck_parameter = EXCLUDED.deck_parameter`,
		strings.TrimSpace(def.Name),
		strings.TrimSpace(def.Version),
		nullIfEmpty(def.Source),
		nullIfEmpty(def.Commit),
		strings.TrimSpace(def.Entrypoint),
		paramsJSON,
		assetsJSON,
		nullIfEmpty(def.StateParameter),
		nullIfEmpty(string(def.StateShape)),
		nullIfEmpty(def.DeckParameter),
	)
	if err != nil {
		return fmt.Errorf("upsert definition: %w", err)
	}
	return nil
}

func (s *DefinitionStore) GetDefinition(ctx context.Context, name, version string) (domain.ProtocolDefinition, error) {
	if s == nil || s.db == nil {
		return domain.ProtocolDefinition{}, fmt.Errorf("definition store not initialized")
	}
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" || version == "" {
		return domain.ProtocolDefinition{}, fmt.Errorf("name and version are required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+selectDefinitionColumns+` FROM protocol_definitions WHERE name = $1 AND version = $2`,
		name,
		version,
	)
	return scanDefinition(row)
}

func (s *DefinitionStore) ListDefinitions(ctx context.Context, filter repo.DefinitionFilter) ([]domain.ProtocolDefinition, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("definition store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if strings.TrimSpace(filter.Name) != "" {
		args = append(args, strings.TrimSpace(filter.Name))
		clauses = append(clauses, fmt.Sprintf("name = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Source) != "" {
		args = append(args, strings.TrimSpace(filter.Source))
		clauses = append(clauses, fmt.Sprintf("source = $%d", len(args)))
	}
	query := `SELECT ` + selectDefinitionColumns + ` FROM protocol_definitions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY name, version"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	defs := make([]domain.ProtocolDefinition, 0)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	return defs, nil
}

func scanDefinition(row rowScanner) (domain.ProtocolDefinition, error) {
	var def domain.ProtocolDefinition
	var source, commit, stateParameter, stateShape, deckParameter sql.NullString
	var paramsJSON, assetsJSON []byte
	if err := row.Scan(&def.Name, &def.Version, &source, &commit, &def.Entrypoint,
		&paramsJSON, &assetsJSON, &stateParameter, &stateShape, &deckParameter); err != nil {
		return domain.ProtocolDefinition{}, handleNotFound(err)
	}
	if source.Valid {
		def.Source = source.String
	}
	if commit.Valid {
		def.Commit = commit.String
	}
	if stateParameter.Valid {
		def.StateParameter = stateParameter.String
	}
	if stateShape.Valid {
		def.StateShape = domain.StateMode(stateShape.String)
	}
	if deckParameter.Valid {
		def.DeckParameter = deckParameter.String
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &def.Parameters); err != nil {
			return domain.ProtocolDefinition{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if len(assetsJSON) > 0 {
		if err := json.Unmarshal(assetsJSON, &def.Assets); err != nil {
			return domain.ProtocolDefinition{}, fmt.Errorf("decode asset requirements: %w", err)
		}
	}
	return def, nil
}
