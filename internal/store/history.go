package store

import (
	"context"
	"fmt"

	"github.com/datallboy/packman/internal/domain"
)

// RecordSession journals one finished session.
func (s *PersistentStore) RecordSession(ctx context.Context, rec domain.SessionRecord) error {
	var dbo sessionDBO
	dbo.FromDomain(rec)

	query := `INSERT OR REPLACE INTO session_history (session_id, pack_id, version, outcome, bytes, error, started_at, ended_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		dbo.SessionID,
		dbo.PackID,
		dbo.Version,
		dbo.Outcome,
		dbo.Bytes,
		dbo.Error,
		dbo.StartedAt,
		dbo.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", rec.SessionID, err)
	}
	return nil
}

// ListHistory returns the newest sessions of a pack first. limit <= 0 means
// no limit.
func (s *PersistentStore) ListHistory(ctx context.Context, packID string, limit int) ([]domain.SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	// KSUIDs sort by creation time, which breaks ties on ended_at
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, pack_id, version, outcome, bytes, error, started_at, ended_at
		FROM session_history
		WHERE pack_id = ?
		ORDER BY ended_at DESC, session_id DESC
		LIMIT ?`, packID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer rows.Close()

	records := []domain.SessionRecord{}
	for rows.Next() {
		var dbo sessionDBO
		err := rows.Scan(
			&dbo.SessionID, &dbo.PackID, &dbo.Version, &dbo.Outcome,
			&dbo.Bytes, &dbo.Error, &dbo.StartedAt, &dbo.EndedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, dbo.ToDomain())
	}

	return records, rows.Err()
}
