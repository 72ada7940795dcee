package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/datallboy/packman/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestRenderPacks(t *testing.T) {
	req := require.New(t)

	packs := []domain.ContentPack{
		{ID: "alps", Type: domain.PackTypeMap, Version: "2.0", SizeBytes: 2 << 20},
		{ID: "tour", Type: domain.PackTypeAudio, Version: "1.1", SizeBytes: 1024},
	}
	states := map[string]domain.PackState{
		"alps": {PackID: "alps", Status: domain.StatusDownloading, DownloadedBytes: 1 << 20, TotalBytes: 2 << 20},
	}

	var buf bytes.Buffer
	renderPacks(&buf, packs, states)
	out := buf.String()

	req.Contains(out, "alps")
	req.Contains(out, "2.0 MiB")
	req.Contains(out, "50%")
	req.Contains(out, "tour")
	req.Contains(out, string(domain.StatusNotDownloaded))
	req.Len(strings.Split(strings.TrimSpace(out), "\n"), 3)
}

func TestRenderHistory(t *testing.T) {
	req := require.New(t)
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	renderHistory(&buf, []domain.SessionRecord{
		{SessionID: "s2", Version: "1", Outcome: domain.OutcomeFailed, Bytes: 10, Error: "network unavailable", StartedAt: start, EndedAt: start.Add(1500 * time.Millisecond)},
		{SessionID: "s1", Version: "1", Outcome: domain.OutcomePaused, StartedAt: start, EndedAt: start},
	})
	out := buf.String()

	req.Contains(out, "s2")
	req.Contains(out, "1.5s")
	req.Contains(out, "network unavailable")
	req.Less(strings.Index(out, "s2"), strings.Index(out, "s1"))
}

func TestProgressText(t *testing.T) {
	req := require.New(t)
	req.Equal("-", progressText(domain.PackState{}))
	req.Equal("25%", progressText(domain.PackState{DownloadedBytes: 1, TotalBytes: 4}))
	req.Equal("100%", progressText(domain.PackState{DownloadedBytes: 4, TotalBytes: 4}))
}

func TestReport(t *testing.T) {
	req := require.New(t)
	pack := domain.ContentPack{ID: "alps"}

	boom := domain.NewPackError("alps", domain.ErrVerificationFailed, nil)
	req.ErrorIs(report(pack, domain.PackState{Status: domain.StatusFailed}, boom), domain.ErrVerificationFailed)
	req.NoError(report(pack, domain.PackState{Status: domain.StatusInstalled, InstalledVersion: "1"}, nil))
	req.NoError(report(pack, domain.PackState{Status: domain.StatusPaused, DownloadedBytes: 10}, nil))
	req.NoError(report(pack, domain.PackState{Status: domain.StatusNotDownloaded}, nil))
}
