package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/datallboy/packman/internal/domain"
	"github.com/datallboy/packman/internal/infra/logger"
)

// Cache persists the last catalog that loaded successfully.
type Cache interface {
	SaveCatalog(ctx context.Context, packs []domain.ContentPack) error
	LoadCatalog(ctx context.Context) ([]domain.ContentPack, error)
}

// CachedSource decorates a source: upstream first, the cached copy when the
// upstream cannot be reached.
type CachedSource struct {
	inner Source
	cache Cache
	log   *logger.Logger
}

func NewCachedSource(inner Source, cache Cache, log *logger.Logger) *CachedSource {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedSource{inner: inner, cache: cache, log: log}
}

func (c *CachedSource) Name() string { return c.inner.Name() }

func (c *CachedSource) Load(ctx context.Context) ([]domain.ContentPack, error) {
	packs, err := c.inner.Load(ctx)
	if err == nil {
		if serr := c.cache.SaveCatalog(ctx, packs); serr != nil {
			c.log.Warn("Could not cache catalog from %s: %v", c.inner.Name(), serr)
		}
		return packs, nil
	}

	cached, cerr := c.cache.LoadCatalog(ctx)
	if cerr != nil {
		return nil, errors.Join(err, fmt.Errorf("catalog cache: %w", cerr))
	}
	if len(cached) == 0 {
		return nil, fmt.Errorf("%s unavailable and no cached catalog: %w", c.inner.Name(), err)
	}

	c.log.Warn("Catalog %s unavailable (%v), using %d cached pack(s)", c.inner.Name(), err, len(cached))
	return cached, nil
}
