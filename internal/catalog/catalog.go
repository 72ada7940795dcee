package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/datallboy/packman/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Source is anything that can hand over the list of packs on offer.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]domain.ContentPack, error)
}

// document is the on-the-wire shape: {"packs": [...]}.
type document struct {
	Packs []domain.ContentPack `json:"packs" yaml:"packs"`
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

func decode(data []byte, f format) ([]domain.ContentPack, error) {
	var doc document

	switch f {
	case formatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid catalog yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid catalog json: %w", err)
		}
	}

	return doc.Packs, nil
}

// Validate keeps the well-formed packs and reports every rejected entry in
// one joined error. The first pack with a given id wins over later ones.
// Sizes are not checked here; a non-positive size is refused when a
// download is started.
func Validate(packs []domain.ContentPack) ([]domain.ContentPack, error) {
	var errs []error
	seen := make(map[string]bool, len(packs))

	valid := lo.Filter(packs, func(p domain.ContentPack, i int) bool {
		if err := validate.Struct(p); err != nil {
			errs = append(errs, fmt.Errorf("pack #%d (%q): %w", i, p.ID, err))
			return false
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("pack #%d: duplicate id %q", i, p.ID))
			return false
		}
		seen[p.ID] = true
		return true
	})

	// Digests are stored lowercase
	valid = lo.Map(valid, func(p domain.ContentPack, _ int) domain.ContentPack {
		p.SHA256 = strings.ToLower(p.SHA256)
		return p
	})

	return valid, errors.Join(errs...)
}
