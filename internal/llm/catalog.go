package llm

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

const catalogKey = "models"

// Catalog caches the model list of a backend.
type Catalog struct {
	client Client
	cache  *cache.Cache
}

// NewCatalog creates a catalog that refreshes the model list after ttl.
func NewCatalog(client Client, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Catalog{
		client: client,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Models returns the cached model list, fetching it when stale.
func (c *Catalog) Models(ctx context.Context) ([]string, error) {
	if x, found := c.cache.Get(catalogKey); found {
		return x.([]string), nil
	}

	models, err := c.client.Models(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(catalogKey, models, cache.DefaultExpiration)
	return models, nil
}

// Resolve returns preferred when set, else the first known model.
// An empty result lets the client pick its own default.
func (c *Catalog) Resolve(ctx context.Context, preferred string) string {
	if preferred != "" {
		return preferred
	}
	models, err := c.Models(ctx)
	if err != nil || len(models) == 0 {
		return ""
	}
	return models[0]
}

// Invalidate drops the cached list.
func (c *Catalog) Invalidate() {
	c.cache.Delete(catalogKey)
}
