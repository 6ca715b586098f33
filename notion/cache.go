package notion

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DataSourceCache memoizes the query handle resolved for a database id.
//
// Contract: entries live for the lifetime of the process and are never
// evicted or invalidated. The mapping from a database to its data source does
// not change once the database exists, so a stale entry can only appear if a
// database is deleted and its id reused, which Notion does not do. One cache
// is shared by every client so a handle is resolved at most once per process;
// concurrent first lookups share one fetch.
type DataSourceCache struct {
	mu      sync.RWMutex
	handles map[string]string
	group   singleflight.Group
}

// NewDataSourceCache returns an empty cache.
func NewDataSourceCache() *DataSourceCache {
	return &DataSourceCache{handles: make(map[string]string)}
}

// Resolve returns the cached handle for databaseID, calling fetch on a miss.
// Concurrent misses for the same id wait on a single fetch made with the
// first caller's context. Failed fetches are not cached.
func (c *DataSourceCache) Resolve(ctx context.Context, databaseID string, fetch func(context.Context) (string, error)) (string, error) {
	if h, ok := c.lookup(databaseID); ok {
		return h, nil
	}
	v, err, _ := c.group.Do(databaseID, func() (any, error) {
		if h, ok := c.lookup(databaseID); ok {
			return h, nil
		}
		h, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.handles[databaseID] = h
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *DataSourceCache) lookup(databaseID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[databaseID]
	return h, ok
}

// Len reports the number of cached handles.
func (c *DataSourceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}
