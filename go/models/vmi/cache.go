package vmi

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// CachedResolver remembers successful lookups. Failures are never cached,
// so a process that appears later still resolves.
type CachedResolver struct {
	Resolver
	cache *lru.Cache
}

func NewCachedResolver(r Resolver, size int) (*CachedResolver, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resolver cache")
	}
	return &CachedResolver{Resolver: r, cache: cache}, nil
}

func (c *CachedResolver) Pgd(pid uint32) (uint64, error) {
	if v, ok := c.cache.Get(pid); ok {
		return v.(uint64), nil
	}
	pgd, err := c.Resolver.Pgd(pid)
	if err != nil {
		return 0, err
	}
	c.cache.Add(pid, pgd)
	return pgd, nil
}

// Invalidate drops a pid, e.g. when the process exits and its pid may be reused.
func (c *CachedResolver) Invalidate(pid uint32) {
	c.cache.Remove(pid)
}

func (c *CachedResolver) Purge() {
	c.cache.Purge()
}
