package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

type DeckLayoutStore struct {
	db DB
}

func NewDeckLayoutStore(db DB) *DeckLayoutStore {
	if db == nil {
		return nil
	}
	return &DeckLayoutStore{db: db}
}

func (s *DeckLayoutStore) PutLayout(ctx context.Context, layout domain.DeckLayout) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("deck layout store not initialized")
	}
	if err := layout.Validate(); err != nil {
		return err
	}
	assignmentsJSON, err := json.Marshal(layout.Assignments)
	if err != nil {
		return fmt.Errorf("encode assignments: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO deck_layouts (layout_id, name, deck_accession_id, assignments)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (layout_id) DO UPDATE SET
			name = EXCLUDED.name,
			deck_accession_id = EXCLUDED.deck_accession_id,
			assignments = EXCLUDED.assignments`,
		strings.TrimSpace(layout.ID),
		strings.TrimSpace(layout.Name),
		strings.TrimSpace(layout.DeckAccessionID),
		assignmentsJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert deck layout: %w", err)
	}
	return nil
}

func (s *DeckLayoutStore) GetLayout(ctx context.Context, nameOrID string) (domain.DeckLayout, error) {
	if s == nil || s.db == nil {
		return domain.DeckLayout{}, fmt.Errorf("deck layout store not initialized")
	}
	nameOrID = strings.TrimSpace(nameOrID)
	if nameOrID == "" {
		return domain.DeckLayout{}, fmt.Errorf("layout name or id is required")
	}
	var layout domain.DeckLayout
	var assignmentsJSON []byte
	row := s.db.QueryRowContext(
		ctx,
		`SELECT layout_id, name, deck_accession_id, assignments
		 FROM deck_layouts WHERE layout_id = $1 OR name = $1
		 ORDER BY (layout_id = $1) DESC LIMIT 1`,
		nameOrID,
	)
	if err := row.Scan(&layout.ID, &layout.Name, &layout.DeckAccessionID, &assignmentsJSON); err != nil {
		return domain.DeckLayout{}, handleNotFound(err)
	}
	if len(assignmentsJSON) > 0 {
		if err := json.Unmarshal(assignmentsJSON, &layout.Assignments); err != nil {
			return domain.DeckLayout{}, fmt.Errorf("decode assignments: %w", err)
		}
	}
	return layout, nil
}
