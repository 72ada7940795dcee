package store

import (
	"context"
	"fmt"
	"time"

	"github.com/datallboy/packman/internal/domain"
)

// SaveCatalog replaces the cached catalog with packs, keeping their order.
func (s *PersistentStore) SaveCatalog(ctx context.Context, packs []domain.ContentPack) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_packs`); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO catalog_packs
			(id, position, type, display_name, description, version, size_bytes, sha256, download_url, min_app_version, dependencies, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i, pack := range packs {
		var dbo catalogPackDBO
		if err := dbo.FromDomain(pack, i, now); err != nil {
			return fmt.Errorf("failed to encode pack %s: %w", pack.ID, err)
		}

		_, err := stmt.ExecContext(ctx,
			dbo.ID,
			dbo.Position,
			dbo.Type,
			dbo.DisplayName,
			dbo.Description,
			dbo.Version,
			dbo.SizeBytes,
			dbo.SHA256,
			dbo.DownloadURL,
			dbo.MinAppVersion,
			dbo.Dependencies,
			dbo.SavedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save pack %s: %w", pack.ID, err)
		}
	}

	return tx.Commit()
}

// LoadCatalog returns the cached catalog. An empty cache is an empty slice.
func (s *PersistentStore) LoadCatalog(ctx context.Context) ([]domain.ContentPack, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position, type, display_name, description, version, size_bytes, sha256, download_url, min_app_version, dependencies, saved_at
		FROM catalog_packs
		ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer rows.Close()

	packs := []domain.ContentPack{}
	for rows.Next() {
		var dbo catalogPackDBO
		err := rows.Scan(
			&dbo.ID, &dbo.Position, &dbo.Type, &dbo.DisplayName, &dbo.Description,
			&dbo.Version, &dbo.SizeBytes, &dbo.SHA256, &dbo.DownloadURL,
			&dbo.MinAppVersion, &dbo.Dependencies, &dbo.SavedAt,
		)
		if err != nil {
			return nil, err
		}

		pack, err := dbo.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to decode pack %s: %w", dbo.ID, err)
		}
		packs = append(packs, pack)
	}

	return packs, rows.Err()
}
