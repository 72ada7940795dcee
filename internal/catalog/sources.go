package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/datallboy/packman/internal/domain"
	"github.com/datallboy/packman/internal/infra/logger"
)

// FileSource reads a catalog from a local YAML or JSON file, chosen by
// extension.
type FileSource struct {
	Path string
	log  *logger.Logger
}

func NewFileSource(path string, log *logger.Logger) *FileSource {
	if log == nil {
		log = logger.Nop()
	}
	return &FileSource{Path: path, log: log}
}

func (f *FileSource) Name() string { return "file:" + f.Path }

func (f *FileSource) Load(ctx context.Context) ([]domain.ContentPack, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	fmtKind := formatJSON
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".yaml", ".yml":
		fmtKind = formatYAML
	}

	packs, err := decode(data, fmtKind)
	if err != nil {
		return nil, err
	}

	return validated(packs, f.Name(), f.log), nil
}

// HTTPSource fetches a JSON catalog.
type HTTPSource struct {
	URL    string
	client *http.Client
	log    *logger.Logger
}

func NewHTTPSource(url string, log *logger.Logger) *HTTPSource {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPSource{
		URL:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

func (h *HTTPSource) Name() string { return "http:" + h.URL }

func (h *HTTPSource) Load(ctx context.Context) ([]domain.ContentPack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog server returned status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	packs, err := decode(data, formatJSON)
	if err != nil {
		return nil, err
	}

	return validated(packs, h.Name(), h.log), nil
}

// validated drops bad entries with a warning rather than failing the whole
// catalog over one typo.
func validated(packs []domain.ContentPack, source string, log *logger.Logger) []domain.ContentPack {
	valid, err := Validate(packs)
	if err != nil {
		log.Warn("Catalog %s: skipped %d invalid pack(s): %v", source, len(packs)-len(valid), err)
	}
	return valid
}
