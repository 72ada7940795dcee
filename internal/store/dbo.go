package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/datallboy/packman/internal/domain"
)

// catalogPackDBO maps to the catalog_packs table
type catalogPackDBO struct {
	ID            string         `db:"id"`
	Position      int            `db:"position"`
	Type          string         `db:"type"`
	DisplayName   string         `db:"display_name"`
	Description   string         `db:"description"`
	Version       string         `db:"version"`
	SizeBytes     int64          `db:"size_bytes"`
	SHA256        string         `db:"sha256"`
	DownloadURL   string         `db:"download_url"`
	MinAppVersion sql.NullString `db:"min_app_version"`
	Dependencies  string         `db:"dependencies"`
	SavedAt       int64          `db:"saved_at"`
}

// Mapper: DBO to Domain ContentPack
func (p *catalogPackDBO) ToDomain() (domain.ContentPack, error) {
	pack := domain.ContentPack{
		ID:            p.ID,
		Type:          domain.PackType(p.Type),
		DisplayName:   p.DisplayName,
		Description:   p.Description,
		Version:       p.Version,
		SizeBytes:     p.SizeBytes,
		SHA256:        p.SHA256,
		DownloadURL:   p.DownloadURL,
		MinAppVersion: p.MinAppVersion.String,
	}

	if p.Dependencies != "" {
		if err := json.Unmarshal([]byte(p.Dependencies), &pack.Dependencies); err != nil {
			return pack, err
		}
	}
	return pack, nil
}

// Mapper: Domain ContentPack to DBO
func (p *catalogPackDBO) FromDomain(pack domain.ContentPack, position int, savedAt time.Time) error {
	deps := pack.Dependencies
	if deps == nil {
		deps = []string{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return err
	}

	p.ID = pack.ID
	p.Position = position
	p.Type = string(pack.Type)
	p.DisplayName = pack.DisplayName
	p.Description = pack.Description
	p.Version = pack.Version
	p.SizeBytes = pack.SizeBytes
	p.SHA256 = pack.SHA256
	p.DownloadURL = pack.DownloadURL
	p.MinAppVersion = sql.NullString{String: pack.MinAppVersion, Valid: pack.MinAppVersion != ""}
	p.Dependencies = string(depsJSON)
	p.SavedAt = savedAt.UnixMilli()
	return nil
}

// sessionDBO maps to the session_history table
type sessionDBO struct {
	SessionID string         `db:"session_id"`
	PackID    string         `db:"pack_id"`
	Version   string         `db:"version"`
	Outcome   string         `db:"outcome"`
	Bytes     int64          `db:"bytes"`
	Error     sql.NullString `db:"error"`
	StartedAt int64          `db:"started_at"`
	EndedAt   int64          `db:"ended_at"`
}

func (s *sessionDBO) ToDomain() domain.SessionRecord {
	return domain.SessionRecord{
		SessionID: s.SessionID,
		PackID:    s.PackID,
		Version:   s.Version,
		Outcome:   domain.SessionOutcome(s.Outcome),
		Bytes:     s.Bytes,
		Error:     s.Error.String,
		StartedAt: time.UnixMilli(s.StartedAt).UTC(),
		EndedAt:   time.UnixMilli(s.EndedAt).UTC(),
	}
}

func (s *sessionDBO) FromDomain(rec domain.SessionRecord) {
	s.SessionID = rec.SessionID
	s.PackID = rec.PackID
	s.Version = rec.Version
	s.Outcome = string(rec.Outcome)
	s.Bytes = rec.Bytes
	s.Error = sql.NullString{String: rec.Error, Valid: rec.Error != ""}
	s.StartedAt = rec.StartedAt.UnixMilli()
	s.EndedAt = rec.EndedAt.UnixMilli()
}
