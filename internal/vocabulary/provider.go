// Package vocabulary supplies the spending-category names embedded in the
// extraction prompt.
package vocabulary

import (
	"context"
	"slices"
	"time"

	"lifeledger/internal/cache"
	"lifeledger/internal/core"
	"lifeledger/internal/ledger"
	applog "lifeledger/internal/log"
)

const cacheKey = "categories"

// Provider reads categories from a ledger.CategoryReader. Storage failures
// yield core.DefaultCategories; an empty list from storage is returned as is.
// Only successful reads are cached.
type Provider struct {
	reader ledger.CategoryReader
	cache  *cache.LRUCache[[]string]
	logger *applog.Logger
}

// NewProvider caches successful reads for ttl. A non-positive ttl disables caching.
func NewProvider(reader ledger.CategoryReader, ttl time.Duration, logger *applog.Logger) *Provider {
	if logger == nil {
		logger = applog.Discard()
	}
	p := &Provider{
		reader: reader,
		logger: logger.WithComponent(applog.ComponentVocabulary),
	}
	if ttl > 0 {
		p.cache = cache.NewLRUCache[[]string](1, ttl)
	}
	return p
}

// Categories returns the current vocabulary. It never fails.
func (p *Provider) Categories(ctx context.Context) []string {
	if p.cache != nil {
		if names, ok := p.cache.Get(cacheKey); ok {
			return slices.Clone(names)
		}
	}

	if p.reader == nil {
		p.logger.WarnContext(ctx, "No category store configured, using default categories")
		return slices.Clone(core.DefaultCategories)
	}

	names, err := p.reader.CategoryNames(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "Category store unavailable, using default categories",
			applog.FieldError, err)
		return slices.Clone(core.DefaultCategories)
	}
	if names == nil {
		names = []string{}
	}
	if len(names) == 0 {
		p.logger.WarnContext(ctx, "Category store returned an empty vocabulary")
	}

	if p.cache != nil {
		p.cache.Set(cacheKey, slices.Clone(names))
	}
	p.logger.DebugContext(ctx, "Categories loaded", applog.FieldCategories, len(names))
	return slices.Clone(names)
}

// Cache exposes the underlying cache for registration with a cache.Manager.
// It is nil when caching is disabled.
func (p *Provider) Cache() *cache.LRUCache[[]string] {
	return p.cache
}
