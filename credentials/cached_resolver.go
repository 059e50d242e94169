package credentials

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-botfactory/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const secretCacheKeyPrefix = "botfactory::secret::v1"

// CachedResolver keeps decrypted secrets for the cache TTL so hot paths such
// as the gate do not decrypt on every request.
type CachedResolver struct {
	base  Resolver
	cache repositorycache.CacheService
}

func NewCachedResolver(base Resolver, cacheService repositorycache.CacheService) (*CachedResolver, error) {
	if base == nil {
		return nil, fmt.Errorf("credentials: base resolver is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("credentials: cache service is required")
	}
	return &CachedResolver{base: base, cache: cacheService}, nil
}

// SecretCacheKey is botfactory::secret::v1::<tenant>::<secret>::<role>.
func SecretCacheKey(handle core.CredentialHandle, role core.Role) string {
	segments := []string{handle.Tenant, handle.Name, string(role)}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{secretCacheKeyPrefix}, segments...), "::")
}

func (r *CachedResolver) Resolve(ctx context.Context, handle core.CredentialHandle, role core.Role) (core.BotSecret, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return core.BotSecret{}, fmt.Errorf("credentials: cached resolver is not configured")
	}
	if !handle.AllowsReader(role) {
		return r.base.Resolve(ctx, handle, role)
	}
	return repositorycache.GetOrFetch(ctx, r.cache, SecretCacheKey(handle, role), func(ctx context.Context) (core.BotSecret, error) {
		return r.base.Resolve(ctx, handle, role)
	})
}

// Invalidate drops every cached entry of handle.
func (r *CachedResolver) Invalidate(ctx context.Context, handle core.CredentialHandle) error {
	if r == nil || r.cache == nil {
		return nil
	}
	for _, role := range []core.Role{core.RoleGate, core.RoleProcessor} {
		if err := r.cache.Delete(ctx, SecretCacheKey(handle, role)); err != nil {
			return err
		}
	}
	return nil
}

var _ Resolver = (*CachedResolver)(nil)
