package installer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/datallboy/packman/internal/domain"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func setup(t *testing.T) (*Installer, string) {
	t.Helper()
	root := t.TempDir()
	clock := fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(filepath.Join(root, "packs"), filepath.Join(root, "staging"), clock), root
}

func payload(t *testing.T, root, body string) string {
	t.Helper()
	path := filepath.Join(root, "payload.part")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func pack(version string) domain.ContentPack {
	return domain.ContentPack{
		ID:          "alps",
		Type:        domain.PackTypeMap,
		Version:     version,
		DownloadURL: "https://cdn.example.com/alps.mbtiles",
	}
}

func stagingEntries(t *testing.T, root string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "staging"))
	require.NoError(t, err)
	return entries
}

func TestInstall_Fresh(t *testing.T) {
	req := require.New(t)
	inst, root := setup(t)

	m, err := inst.Install(context.Background(), pack("1.0"), payload(t, root, "tiles-v1"))
	req.NoError(err)
	req.Equal("alps", m.ID)
	req.Equal("1.0", m.Version)

	data, err := os.ReadFile(filepath.Join(inst.Dir("alps"), "alps.mbtiles"))
	req.NoError(err)
	req.Equal("tiles-v1", string(data))

	read, err := inst.ReadManifest("alps")
	req.NoError(err)
	req.Equal(m, read)

	// Source payload is copied, not moved
	req.FileExists(filepath.Join(root, "payload.part"))
	req.Empty(stagingEntries(t, root), "staging must be cleaned")
}

func TestInstall_ReplacesPreviousVersion(t *testing.T) {
	req := require.New(t)
	inst, root := setup(t)
	ctx := context.Background()

	_, err := inst.Install(ctx, pack("1.0"), payload(t, root, "tiles-v1"))
	req.NoError(err)

	// Leftover file from the old version must not survive the swap
	req.NoError(os.WriteFile(filepath.Join(inst.Dir("alps"), "extra.idx"), []byte("x"), 0644))

	_, err = inst.Install(ctx, pack("2.0"), payload(t, root, "tiles-v2"))
	req.NoError(err)

	data, err := os.ReadFile(filepath.Join(inst.Dir("alps"), "alps.mbtiles"))
	req.NoError(err)
	req.Equal("tiles-v2", string(data))
	req.NoFileExists(filepath.Join(inst.Dir("alps"), "extra.idx"))

	m, err := inst.ReadManifest("alps")
	req.NoError(err)
	req.Equal("2.0", m.Version)
	req.Empty(stagingEntries(t, root))
}

func TestInstall_CancelledLeavesPreviousInstall(t *testing.T) {
	req := require.New(t)
	inst, root := setup(t)

	_, err := inst.Install(context.Background(), pack("1.0"), payload(t, root, "tiles-v1"))
	req.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = inst.Install(ctx, pack("2.0"), payload(t, root, "tiles-v2"))
	req.ErrorIs(err, context.Canceled)

	m, err := inst.ReadManifest("alps")
	req.NoError(err)
	req.Equal("1.0", m.Version)
	req.Empty(stagingEntries(t, root))
}

func TestInstall_MissingPayload(t *testing.T) {
	req := require.New(t)
	inst, root := setup(t)

	_, err := inst.Install(context.Background(), pack("1.0"), filepath.Join(root, "missing"))
	req.Error(err)
	req.NoDirExists(inst.Dir("alps"))
	req.Empty(stagingEntries(t, root))
}

func TestReadManifest(t *testing.T) {
	req := require.New(t)
	inst, _ := setup(t)

	_, err := inst.ReadManifest("alps")
	req.ErrorIs(err, fs.ErrNotExist)

	req.NoError(os.MkdirAll(inst.Dir("alps"), 0755))
	req.NoError(os.WriteFile(filepath.Join(inst.Dir("alps"), domain.ManifestFileName), []byte("{nope"), 0644))
	_, err = inst.ReadManifest("alps")
	req.ErrorContains(err, "corrupt manifest")
	req.DirExists(inst.Dir("alps"))

	req.NoError(os.WriteFile(filepath.Join(inst.Dir("alps"), domain.ManifestFileName), []byte(`{"id":"other","version":"1"}`), 0644))
	_, err = inst.ReadManifest("alps")
	req.ErrorContains(err, "does not describe it")
}

func TestRemoveAndCleanStaging(t *testing.T) {
	req := require.New(t)
	inst, root := setup(t)

	req.NoError(inst.Remove("alps"), "removing nothing is fine")

	_, err := inst.Install(context.Background(), pack("1.0"), payload(t, root, "tiles"))
	req.NoError(err)
	req.NoError(inst.Remove("alps"))
	req.NoDirExists(inst.Dir("alps"))

	req.NoError(os.MkdirAll(filepath.Join(root, "staging", "alps-crashed"), 0755))
	req.NoError(inst.CleanStaging())
	req.Empty(stagingEntries(t, root))
}

func TestReplaceDir_Fallback(t *testing.T) {
	req := require.New(t)
	root := t.TempDir()

	staged := filepath.Join(root, "staged")
	target := filepath.Join(root, "target")
	req.NoError(os.MkdirAll(staged, 0755))
	req.NoError(os.MkdirAll(target, 0755))
	req.NoError(os.WriteFile(filepath.Join(staged, "new"), []byte("n"), 0644))
	req.NoError(os.WriteFile(filepath.Join(target, "old"), []byte("o"), 0644))

	req.NoError(replaceDir(staged, target))
	req.FileExists(filepath.Join(target, "new"))
	req.NoFileExists(filepath.Join(target, "old"))
}
