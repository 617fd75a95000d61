// Package directory decorates the lookup ports with caching.
package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bistrohq/orders-api/internal/app"
)

const (
	DefaultUserCacheSize = 1024
	DefaultUserCacheTTL  = 5 * time.Minute
)

// CachedUsers remembers user names for a short while. Only hits are cached,
// so a user created after a failed lookup is visible on the next call.
type CachedUsers struct {
	next  app.UserDirectory
	cache *expirable.LRU[string, string]
}

func NewCachedUsers(next app.UserDirectory, size int, ttl time.Duration) *CachedUsers {
	if size <= 0 {
		size = DefaultUserCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultUserCacheTTL
	}
	return &CachedUsers{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (c *CachedUsers) UserName(ctx context.Context, id string) (string, error) {
	if name, ok := c.cache.Get(id); ok {
		return name, nil
	}
	name, err := c.next.UserName(ctx, id)
	if err != nil {
		return "", err
	}
	c.cache.Add(id, name)
	return name, nil
}

var _ app.UserForgetter = (*CachedUsers)(nil)

// Forget drops a cached entry.
func (c *CachedUsers) Forget(id string) {
	c.cache.Remove(id)
}
