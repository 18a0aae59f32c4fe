package catalog

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/apotek-pos/internal/cache"
	"github.com/noah-isme/apotek-pos/internal/pos"
)

// CachedSource serves lookups from Redis and falls through to Next on a miss.
// Cache failures are logged and never fail a lookup.
type CachedSource struct {
	Next   Source
	Cache  *cache.JSON
	Logger zerolog.Logger
}

// Lookup implements Source.
func (s *CachedSource) Lookup(ctx context.Context, kind pos.Kind, id string) (pos.Item, error) {
	if _, err := namespace(kind); err != nil {
		return pos.Item{}, err
	}
	key := cache.KeyCatalogItem(ctx, string(kind), id)

	var item pos.Item
	hit, err := s.Cache.Get(ctx, key, &item)
	if err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
	}
	if hit {
		return item, nil
	}

	item, err = s.Next.Lookup(ctx, kind, id)
	if err != nil {
		return pos.Item{}, err
	}
	if err := s.Cache.Set(ctx, key, item); err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
	return item, nil
}
