package cache

import (
	"context"

	"github.com/noah-isme/apotek-pos/internal/tenant"
)

func scoped(ctx context.Context, key string) string {
	id, ok := tenant.From(ctx)
	if !ok {
		return key
	}
	return tenant.PrefixKey(id, key)
}

// KeySession returns a per-tenant key for a checkout session.
func KeySession(ctx context.Context, sessionID string) string {
	return scoped(ctx, "pos:session:"+sessionID)
}

// KeySessionLock returns the per-tenant lock key guarding a checkout session.
func KeySessionLock(ctx context.Context, sessionID string) string {
	return scoped(ctx, "pos:lock:"+sessionID)
}

// KeyCatalogItem returns a per-tenant key for a catalog lookup.
func KeyCatalogItem(ctx context.Context, kind, itemID string) string {
	return scoped(ctx, "catalog:"+kind+":"+itemID)
}
