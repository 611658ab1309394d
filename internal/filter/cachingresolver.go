package filter

import (
	"context"

	"github.com/busybox42/decency/internal/queuecache"
)

// CachingResolver memoizes another UserResolver's results in the
// QueueCache per-recipient, per spec.md §4.6.
type CachingResolver struct {
	inner UserResolver
	cache *queuecache.QueueCache
}

// NewCachingResolver wraps inner with a QueueCache-backed memo.
func NewCachingResolver(inner UserResolver, cache *queuecache.QueueCache) *CachingResolver {
	return &CachingResolver{inner: inner, cache: cache}
}

func (r *CachingResolver) ResolveUser(ctx context.Context, recipient string) (string, error) {
	if cached, ok, err := r.cache.CachedUser(ctx, recipient); err == nil && ok {
		return cached, nil
	}

	user, err := r.inner.ResolveUser(ctx, recipient)
	if err != nil {
		return "", err
	}
	_ = r.cache.CacheUser(ctx, recipient, user)
	return user, nil
}
