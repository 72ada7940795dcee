package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPackState_NormalizeClamps(t *testing.T) {
	req := require.New(t)

	s := NewPackState("p")
	s.SetProgress(-5, 100)
	req.Equal(int64(0), s.DownloadedBytes)

	s.SetProgress(150, 100)
	req.Equal(int64(100), s.DownloadedBytes)

	// Unknown total leaves downloaded alone
	s.SetProgress(42, 0)
	req.Equal(int64(42), s.DownloadedBytes)

	s.TotalBytes = -1
	s.Normalize()
	req.Equal(int64(0), s.TotalBytes)
}

func TestPackState_ApplyManifest(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s := NewPackState("p")
	s.ErrorMessage = "old"
	s.ApplyManifest(InstalledManifest{ID: "p", Version: "1.0", InstalledAt: at}, "1.0")
	req.Equal(StatusInstalled, s.Status)
	req.Equal("1.0", s.InstalledVersion)
	req.Equal(at, *s.InstalledAt)
	req.Empty(s.ErrorMessage)

	s.ApplyManifest(InstalledManifest{ID: "p", Version: "0.9", InstalledAt: at}, "1.0")
	req.Equal(StatusUpdateAvailable, s.Status)
}

func TestPackState_CloneDetachesPointer(t *testing.T) {
	at := time.Now()
	s := PackState{PackID: "p", InstalledAt: &at}
	c := s.Clone()
	*c.InstalledAt = at.Add(time.Hour)
	require.Equal(t, at, *s.InstalledAt)
}

func TestPackError_KindMatching(t *testing.T) {
	req := require.New(t)

	cause := errors.New("disk full")
	err := fmt.Errorf("start: %w", NewPackError("p", ErrInsufficientStorage, cause))

	req.ErrorIs(err, ErrInsufficientStorage)
	req.ErrorIs(err, cause)
	req.NotErrorIs(err, ErrPackNotFound)
	req.Equal(ErrInsufficientStorage, KindOf(err))
	req.Equal("InsufficientStorage", KindName(KindOf(err)))

	var pe *PackError
	req.ErrorAs(err, &pe)
	req.Equal("p", pe.PackID)
	req.Equal("disk full", pe.Message())
}

func TestKindOf_UnknownAndVerification(t *testing.T) {
	req := require.New(t)

	req.Nil(KindOf(nil))
	req.Equal(ErrUnknown, KindOf(errors.New("boom")))

	verr := &VerificationError{Path: "x", Expected: "aa", Actual: "bb"}
	req.Equal(ErrVerificationFailed, KindOf(verr))
	req.Equal("Unknown", KindName(errors.New("other")))
}

func TestContentPack_ValidTarget(t *testing.T) {
	tests := []struct {
		name string
		pack ContentPack
		want bool
	}{
		{"ok", ContentPack{ID: "alps", DownloadURL: "https://cdn.example.com/alps.mbtiles"}, true},
		{"path in id", ContentPack{ID: "../etc", DownloadURL: "https://cdn.example.com/x"}, false},
		{"dot id", ContentPack{ID: "..", DownloadURL: "https://cdn.example.com/x"}, false},
		{"empty id", ContentPack{ID: "", DownloadURL: "https://cdn.example.com/x"}, false},
		{"ftp url", ContentPack{ID: "a", DownloadURL: "ftp://cdn.example.com/x"}, false},
		{"relative url", ContentPack{ID: "a", DownloadURL: "/x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.pack.ValidTarget())
		})
	}
}

func TestContentPack_PayloadName(t *testing.T) {
	req := require.New(t)

	req.Equal("alps.mbtiles", ContentPack{ID: "alps", DownloadURL: "https://cdn.example.com/maps/alps.mbtiles?sig=1"}.PayloadName())
	req.Equal("alps.pack", ContentPack{ID: "alps", DownloadURL: "https://cdn.example.com/"}.PayloadName())
	req.Equal("alps.pack", ContentPack{ID: "alps", DownloadURL: "https://cdn.example.com/manifest.json"}.PayloadName())
}
