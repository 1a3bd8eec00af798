package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/repo"
)

// claimAssetQuery is the acquire-side conditional update: a claim only lands
// when the asset is still available or already held by the same run.
const claimAssetQuery = `UPDATE assets
	SET status = 'in_use', owner_run_id = $1
	WHERE accession_id = $2
	  AND (status = 'available' OR (status = 'in_use' AND owner_run_id = $1))`

const releaseAssetQuery = `UPDATE assets
	SET status = $1, owner_run_id = NULL, deck_id = $2, slot = $3
	WHERE accession_id = $4 AND owner_run_id = $5`

type AssetStore struct {
	db DB
}

func NewAssetStore(db DB) *AssetStore {
	if db == nil {
		return nil
	}
	return &AssetStore{db: db}
}

func (s *AssetStore) CreateAsset(ctx context.Context, asset domain.Asset) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("asset store not initialized")
	}
	if err := asset.Validate(); err != nil {
		return err
	}
	var deckID, slot sql.NullString
	if asset.Location != nil {
		deckID = nullIfEmpty(asset.Location.DeckID)
		slot = nullIfEmpty(asset.Location.Slot)
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO assets (accession_id, kind, asset_type, status, owner_run_id, deck_id, slot)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		strings.TrimSpace(asset.AccessionID),
		string(asset.Kind),
		strings.TrimSpace(asset.Type),
		string(asset.Status),
		nullIfEmpty(asset.OwnerRunID),
		deckID,
		slot,
	)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (s *AssetStore) GetAsset(ctx context.Context, accessionID string) (domain.Asset, error) {
	if s == nil || s.db == nil {
		return domain.Asset{}, fmt.Errorf("asset store not initialized")
	}
	accessionID = strings.TrimSpace(accessionID)
	if accessionID == "" {
		return domain.Asset{}, fmt.Errorf("accession id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT accession_id, kind, asset_type, status, owner_run_id, deck_id, slot
		 FROM assets WHERE accession_id = $1`,
		accessionID,
	)
	return scanAsset(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (domain.Asset, error) {
	var asset domain.Asset
	var kind, status string
	var ownerRunID, deckID, slot sql.NullString
	if err := row.Scan(&asset.AccessionID, &kind, &asset.Type, &status, &ownerRunID, &deckID, &slot); err != nil {
		return domain.Asset{}, handleNotFound(err)
	}
	asset.Kind = domain.AssetKind(kind)
	asset.Status = domain.NormalizeAssetStatus(status)
	if ownerRunID.Valid {
		asset.OwnerRunID = ownerRunID.String
	}
	if deckID.Valid || slot.Valid {
		asset.Location = &domain.Location{DeckID: deckID.String, Slot: slot.String}
	}
	return asset, nil
}

func (s *AssetStore) ListAssets(ctx context.Context, filter repo.AssetFilter) ([]domain.Asset, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("asset store not initialized")
	}
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 5)
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Type) != "" {
		args = append(args, strings.TrimSpace(filter.Type))
		clauses = append(clauses, fmt.Sprintf("asset_type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if strings.TrimSpace(filter.OwnerRunID) != "" {
		args = append(args, strings.TrimSpace(filter.OwnerRunID))
		clauses = append(clauses, fmt.Sprintf("owner_run_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.DeckID) != "" {
		args = append(args, strings.TrimSpace(filter.DeckID))
		clauses = append(clauses, fmt.Sprintf("deck_id = $%d", len(args)))
	}
	query := `SELECT accession_id, kind, asset_type, status, owner_run_id, deck_id, slot FROM assets`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY accession_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	assets := make([]domain.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

func (s *AssetStore) FindAvailable(ctx context.Context, filter repo.AssetFilter) (domain.Asset, error) {
	if s == nil || s.db == nil {
		return domain.Asset{}, fmt.Errorf("asset store not initialized")
	}
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Type) != "" {
		args = append(args, strings.TrimSpace(filter.Type))
		clauses = append(clauses, fmt.Sprintf("asset_type = $%d", len(args)))
	}
	if strings.TrimSpace(filter.DeckID) != "" {
		args = append(args, strings.TrimSpace(filter.DeckID))
		clauses = append(clauses, fmt.Sprintf("deck_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.OwnerRunID) != "" {
		args = append(args, strings.TrimSpace(filter.OwnerRunID))
		clauses = append(clauses, fmt.Sprintf("(status = 'available' OR (status = 'in_use' AND owner_run_id = $%d))", len(args)))
	} else {
		clauses = append(clauses, "status = 'available'")
	}
	query := `SELECT accession_id, kind, asset_type, status, owner_run_id, deck_id, slot FROM assets WHERE ` +
		strings.Join(clauses, " AND ") + " ORDER BY accession_id LIMIT 1"
	row := s.db.QueryRowContext(ctx, query, args...)
	return scanAsset(row)
}

func (s *AssetStore) ClaimAsset(ctx context.Context, accessionID, runID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("asset store not initialized")
	}
	accessionID = strings.TrimSpace(accessionID)
	runID = strings.TrimSpace(runID)
	if accessionID == "" || runID == "" {
		return fmt.Errorf("accession id and run id are required")
	}
	res, err := s.db.ExecContext(ctx, claimAssetQuery, runID, accessionID)
	if err != nil {
		return fmt.Errorf("claim asset: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim asset: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetAsset(ctx, accessionID); err != nil {
			return err
		}
		return repo.ErrConflict
	}
	return nil
}

func (s *AssetStore) ReleaseAsset(ctx context.Context, accessionID, runID string, status domain.AssetStatus, location *domain.Location) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("asset store not initialized")
	}
	accessionID = strings.TrimSpace(accessionID)
	runID = strings.TrimSpace(runID)
	if accessionID == "" || runID == "" {
		return fmt.Errorf("accession id and run id are required")
	}
	if domain.NormalizeAssetStatus(string(status)) == "" || status == domain.AssetStatusInUse {
		return fmt.Errorf("invalid release status %q", status)
	}
	current, err := s.GetAsset(ctx, accessionID)
	if err != nil {
		return err
	}
	var deckID, slot sql.NullString
	if location != nil {
		deckID = nullIfEmpty(location.DeckID)
		slot = nullIfEmpty(location.Slot)
	} else if current.Location != nil {
		deckID = nullIfEmpty(current.Location.DeckID)
		slot = nullIfEmpty(current.Location.Slot)
	}
	res, err := s.db.ExecContext(ctx, releaseAssetQuery, string(status), deckID, slot, accessionID, runID)
	if err != nil {
		return fmt.Errorf("release asset: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release asset: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotOwner
	}
	return nil
}

func (s *AssetStore) SetAssetStatus(ctx context.Context, accessionID string, status domain.AssetStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("asset store not initialized")
	}
	accessionID = strings.TrimSpace(accessionID)
	if accessionID == "" {
		return fmt.Errorf("accession id is required")
	}
	if domain.NormalizeAssetStatus(string(status)) == "" {
		return fmt.Errorf("invalid asset status %q", status)
	}
	query := `UPDATE assets SET status = $1 WHERE accession_id = $2`
	if status != domain.AssetStatusInUse {
		query = `UPDATE assets SET status = $1, owner_run_id = NULL WHERE accession_id = $2`
	}
	res, err := s.db.ExecContext(ctx, query, string(status), accessionID)
	if err != nil {
		return fmt.Errorf("set asset status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set asset status: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}
