package domain

import (
	"io"
	"time"
)

const ManifestFileName = "manifest.json"

// InstalledManifest is the durable record of what is actually on disk.
type InstalledManifest struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installedAt"`
}

// FetchResponse is what a resumable fetch hands back. Partial is true when
// the server honored the requested starting offset.
type FetchResponse struct {
	Body    io.ReadCloser
	Partial bool
	Length  int64 // -1 when unknown
}

type SessionOutcome string

const (
	OutcomeInstalled SessionOutcome = "installed"
	OutcomePaused    SessionOutcome = "paused"
	OutcomeFailed    SessionOutcome = "failed"
	OutcomeCancelled SessionOutcome = "cancelled"
	OutcomeRemoved   SessionOutcome = "removed"
	OutcomeFenced    SessionOutcome = "superseded"
)

// SessionRecord is one finished transfer attempt, kept for history.
type SessionRecord struct {
	SessionID string         `json:"sessionId"`
	PackID    string         `json:"packId"`
	Version   string         `json:"version"`
	Outcome   SessionOutcome `json:"outcome"`
	Bytes     int64          `json:"bytes"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
}
