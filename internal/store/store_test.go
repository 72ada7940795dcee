package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/datallboy/packman/internal/domain"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*PersistentStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "packman.db")
	s, err := NewPersistentStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestCatalog_SaveLoadKeepsOrder(t *testing.T) {
	req := require.New(t)
	s, _ := newStore(t)
	ctx := context.Background()

	empty, err := s.LoadCatalog(ctx)
	req.NoError(err)
	req.Empty(empty)

	packs := []domain.ContentPack{
		{ID: "zeta", Type: domain.PackTypeAudio, Version: "2", SizeBytes: 10, SHA256: "ab", DownloadURL: "https://x/z", Dependencies: []string{"alpha"}},
		{ID: "alpha", Type: domain.PackTypeMap, DisplayName: "Alpha", Version: "1", SizeBytes: 20, SHA256: "cd", DownloadURL: "https://x/a", MinAppVersion: "3.1"},
	}
	req.NoError(s.SaveCatalog(ctx, packs))

	loaded, err := s.LoadCatalog(ctx)
	req.NoError(err)
	req.Equal("zeta", loaded[0].ID)
	req.Equal([]string{"alpha"}, loaded[0].Dependencies)
	req.Equal("alpha", loaded[1].ID)
	req.Equal("3.1", loaded[1].MinAppVersion)
	req.Empty(loaded[1].Dependencies)

	// A second save replaces, not merges
	req.NoError(s.SaveCatalog(ctx, packs[1:]))
	loaded, err = s.LoadCatalog(ctx)
	req.NoError(err)
	req.Len(loaded, 1)
	req.Equal("alpha", loaded[0].ID)
}

func TestHistory_RecordAndList(t *testing.T) {
	req := require.New(t)
	s, _ := newStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	records := []domain.SessionRecord{
		{SessionID: "s1", PackID: "p", Version: "1", Outcome: domain.OutcomePaused, Bytes: 100, StartedAt: base, EndedAt: base.Add(time.Minute)},
		{SessionID: "s2", PackID: "p", Version: "1", Outcome: domain.OutcomeFailed, Bytes: 100, Error: "boom", StartedAt: base.Add(2 * time.Minute), EndedAt: base.Add(3 * time.Minute)},
		{SessionID: "s3", PackID: "q", Version: "7", Outcome: domain.OutcomeInstalled, Bytes: 5, StartedAt: base, EndedAt: base},
	}
	for _, r := range records {
		req.NoError(s.RecordSession(ctx, r))
	}

	got, err := s.ListHistory(ctx, "p", 0)
	req.NoError(err)
	req.Len(got, 2)
	req.Equal(records[1], got[0])
	req.Equal(records[0], got[1])

	got, err = s.ListHistory(ctx, "p", 1)
	req.NoError(err)
	req.Len(got, 1)
	req.Equal("s2", got[0].SessionID)

	got, err = s.ListHistory(ctx, "none", 10)
	req.NoError(err)
	req.Empty(got)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	req := require.New(t)
	s, path := newStore(t)
	ctx := context.Background()

	req.NoError(s.RecordSession(ctx, domain.SessionRecord{SessionID: "s1", PackID: "p", Outcome: domain.OutcomeInstalled}))
	req.NoError(s.Close())

	// Migrations are idempotent on an existing database
	reopened, err := NewPersistentStore(path)
	req.NoError(err)
	defer reopened.Close()

	got, err := reopened.ListHistory(ctx, "p", 0)
	req.NoError(err)
	req.Len(got, 1)
}
