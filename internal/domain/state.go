package domain

import "time"

type PackStatus string

const (
	StatusNotDownloaded   PackStatus = "notDownloaded"
	StatusDownloading     PackStatus = "downloading"
	StatusPaused          PackStatus = "paused"
	StatusVerifying       PackStatus = "verifying"
	StatusInstalling      PackStatus = "installing"
	StatusInstalled       PackStatus = "installed"
	StatusUpdateAvailable PackStatus = "updateAvailable"
	StatusFailed          PackStatus = "failed"
)

// Active reports whether a session is expected to be driving this status.
func (s PackStatus) Active() bool {
	return s == StatusDownloading || s == StatusVerifying || s == StatusInstalling
}

// PackState is what the UI observes for one pack id.
type PackState struct {
	PackID           string     `json:"packId"`
	Status           PackStatus `json:"status"`
	DownloadedBytes  int64      `json:"downloadedBytes"`
	TotalBytes       int64      `json:"totalBytes"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	InstalledVersion string     `json:"installedVersion,omitempty"`
	InstalledAt      *time.Time `json:"installedAt,omitempty"`
}

func NewPackState(id string) PackState {
	return PackState{PackID: id, Status: StatusNotDownloaded}
}

// Normalize clamps the byte counters so that 0 <= downloaded <= total
// whenever total is known.
func (s *PackState) Normalize() {
	if s.TotalBytes < 0 {
		s.TotalBytes = 0
	}
	if s.DownloadedBytes < 0 {
		s.DownloadedBytes = 0
	}
	if s.TotalBytes > 0 && s.DownloadedBytes > s.TotalBytes {
		s.DownloadedBytes = s.TotalBytes
	}
	if s.Status == "" {
		s.Status = StatusNotDownloaded
	}
}

// SetProgress records transfer progress, clamped.
func (s *PackState) SetProgress(downloaded, total int64) {
	s.DownloadedBytes = downloaded
	s.TotalBytes = total
	s.Normalize()
}

// Reset drops everything except the id.
func (s *PackState) Reset() {
	*s = NewPackState(s.PackID)
}

// ApplyManifest sets the installed fields from a durable manifest and picks
// installed or updateAvailable against the catalog version.
func (s *PackState) ApplyManifest(m InstalledManifest, catalogVersion string) {
	at := m.InstalledAt
	s.InstalledVersion = m.Version
	s.InstalledAt = &at
	s.ErrorMessage = ""
	if m.Version == catalogVersion {
		s.Status = StatusInstalled
	} else {
		s.Status = StatusUpdateAvailable
	}
}

// Clone returns a copy that does not share the InstalledAt pointer.
func (s PackState) Clone() PackState {
	if s.InstalledAt != nil {
		at := *s.InstalledAt
		s.InstalledAt = &at
	}
	return s
}
