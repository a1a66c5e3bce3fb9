package registry

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pipelang/pipeq/table"
)

// Cached wraps a resolver with an LRU of resolved tables, so repeated
// queries against file-backed sources skip reloading. Misses and
// errors are not cached.
type Cached struct {
	next  Resolver
	cache *lru.Cache[string, *table.Table]
}

// NewCached wraps next with an LRU holding up to size tables.
func NewCached(next Resolver, size int) (*Cached, error) {
	c, err := lru.New[string, *table.Table](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: c}, nil
}

func (c *Cached) Resolve(name string) (*table.Table, error) {
	if t, ok := c.cache.Get(name); ok {
		return t, nil
	}
	t, err := c.next.Resolve(name)
	if err != nil {
		return nil, err
	}
	c.cache.Add(name, t)
	return t, nil
}

// Invalidate drops one cached entry, forcing the next Resolve to hit
// the underlying resolver.
func (c *Cached) Invalidate(name string) {
	c.cache.Remove(name)
}

// Reset drops every cached entry.
func (c *Cached) Reset() {
	c.cache.Purge()
}
