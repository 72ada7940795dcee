package installer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/datallboy/packman/internal/domain"
	"github.com/google/uuid"
)

// Installer assembles an install directory out of place and swaps it in once,
// so readers see either the complete old directory or the complete new one.
type Installer struct {
	packsDir   string
	stagingDir string
	clock      domain.Clock
}

func New(packsDir, stagingDir string, clock domain.Clock) *Installer {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Installer{packsDir: packsDir, stagingDir: stagingDir, clock: clock}
}

// Dir is the install directory of a pack.
func (i *Installer) Dir(id string) string {
	return filepath.Join(i.packsDir, id)
}

// Install copies the verified payload and a manifest into a fresh staging
// directory, then replaces the install directory with it. The staging
// directory is removed whatever happens.
func (i *Installer) Install(ctx context.Context, pack domain.ContentPack, payloadPath string) (domain.InstalledManifest, error) {
	if err := os.MkdirAll(i.stagingDir, 0755); err != nil {
		return domain.InstalledManifest{}, fmt.Errorf("failed to create staging dir: %w", err)
	}
	if err := os.MkdirAll(i.packsDir, 0755); err != nil {
		return domain.InstalledManifest{}, fmt.Errorf("failed to create packs dir: %w", err)
	}

	stage := filepath.Join(i.stagingDir, pack.ID+"-"+uuid.NewString())
	if err := os.Mkdir(stage, 0755); err != nil {
		return domain.InstalledManifest{}, fmt.Errorf("failed to create staging dir: %w", err)
	}
	// After an exchange the staging path holds the previous install, so this
	// also disposes of it.
	defer os.RemoveAll(stage)

	if err := copyFile(ctx, payloadPath, filepath.Join(stage, pack.PayloadName())); err != nil {
		return domain.InstalledManifest{}, fmt.Errorf("copy payload: %w", err)
	}

	manifest := domain.InstalledManifest{
		ID:          pack.ID,
		Version:     pack.Version,
		InstalledAt: i.clock.Now(),
	}
	if err := writeManifest(stage, manifest); err != nil {
		return domain.InstalledManifest{}, err
	}

	// Last point where the install can still be abandoned cleanly
	if err := ctx.Err(); err != nil {
		return domain.InstalledManifest{}, err
	}

	if err := replaceDir(stage, i.Dir(pack.ID)); err != nil {
		return domain.InstalledManifest{}, fmt.Errorf("swap into %s: %w", i.Dir(pack.ID), err)
	}

	return manifest, nil
}

// ReadManifest returns the durable manifest of an installed pack. A missing
// install yields an error matching fs.ErrNotExist.
func (i *Installer) ReadManifest(id string) (domain.InstalledManifest, error) {
	var m domain.InstalledManifest

	data, err := os.ReadFile(filepath.Join(i.Dir(id), domain.ManifestFileName))
	if err != nil {
		return m, err
	}

	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("corrupt manifest for %s: %w", id, err)
	}

	if m.ID != id || m.Version == "" {
		return m, fmt.Errorf("manifest for %s does not describe it (id %q, version %q)", id, m.ID, m.Version)
	}

	return m, nil
}

// Remove deletes the install directory. Removing a missing pack is not an error.
func (i *Installer) Remove(id string) error {
	if err := os.RemoveAll(i.Dir(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", i.Dir(id), err)
	}
	return nil
}

// CleanStaging removes staging leftovers from an interrupted process.
func (i *Installer) CleanStaging() error {
	entries, err := os.ReadDir(i.stagingDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(i.stagingDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func writeManifest(dir string, m domain.InstalledManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, domain.ManifestFileName))
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return f.Sync()
}
