package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const partSuffix = ".part"

type fileHandle struct {
	mu   sync.Mutex
	file *os.File
}

// PartFiles owns the resumable temp files, one per pack id. The on-disk size
// of a temp file is the authoritative resume offset.
type PartFiles struct {
	dir     string
	mu      sync.RWMutex
	handles map[string]*fileHandle
}

func NewPartFiles(dir string) *PartFiles {
	return &PartFiles{
		dir:     dir,
		handles: make(map[string]*fileHandle),
	}
}

// Path is where the temp file of a pack lives.
func (pf *PartFiles) Path(id string) string {
	return filepath.Join(pf.dir, id+partSuffix)
}

// Size is the number of bytes held on disk. A missing file holds zero.
func (pf *PartFiles) Size(id string) (int64, error) {
	info, err := os.Stat(pf.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Held stats the temp file once. present is false when there is no file;
// err is set when the file could not be looked at at all.
func (pf *PartFiles) Held(id string) (size int64, present bool, err error) {
	info, err := os.Stat(pf.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return info.Size(), true, nil
}

// Exists reports whether a temp file is present, empty or not.
func (pf *PartFiles) Exists(id string) bool {
	_, err := os.Stat(pf.Path(id))
	return err == nil
}

// WriteAt writes data at offset, opening the file on first use.
func (pf *PartFiles) WriteAt(id string, data []byte, offset int64) error {
	h, err := pf.getOrCreateFile(id)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err = h.file.WriteAt(data, offset)
	return err
}

// Truncate cuts the temp file to size. Used when a server ignores the
// requested range and sends the whole payload again.
func (pf *PartFiles) Truncate(id string, size int64) error {
	h, err := pf.getOrCreateFile(id)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.file.Truncate(size)
}

func (pf *PartFiles) getOrCreateFile(id string) (*fileHandle, error) {
	pf.mu.RLock()
	h, ok := pf.handles[id]
	pf.mu.RUnlock()
	if ok {
		return h, nil
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	h, ok = pf.handles[id]
	if ok {
		return h, nil
	}

	if err := os.MkdirAll(pf.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	f, err := os.OpenFile(pf.Path(id), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open temp file: %w", err)
	}

	h = &fileHandle{file: f}
	pf.handles[id] = h

	return h, nil
}

// CloseFile syncs and closes the handle of a pack, if one is open.
func (pf *PartFiles) CloseFile(id string) error {
	pf.mu.Lock()
	h, ok := pf.handles[id]
	if !ok {
		pf.mu.Unlock()
		return nil
	}
	delete(pf.handles, id)
	pf.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.file.Sync(); err != nil {
		h.file.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	return h.file.Close()
}

func (pf *PartFiles) CloseAll() {
	pf.mu.RLock()
	ids := make([]string, 0, len(pf.handles))
	for id := range pf.handles {
		ids = append(ids, id)
	}
	pf.mu.RUnlock()

	for _, id := range ids {
		_ = pf.CloseFile(id)
	}
}

// Remove closes and deletes the temp file. A missing file is not an error.
func (pf *PartFiles) Remove(id string) error {
	_ = pf.CloseFile(id)

	if err := os.Remove(pf.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove temp file: %w", err)
	}
	return nil
}
