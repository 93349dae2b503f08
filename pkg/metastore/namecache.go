package metastore

import (
	"context"
	"sync"
)

// RepositoryNameLookup loads the full internal-id to external-name mapping
// for one format. It is invoked at most once per format under steady state.
type RepositoryNameLookup func(ctx context.Context, format string) (map[int64]string, error)

// RepositoryNameCache translates internal repository ids to external
// repository names. It is an explicit process-wide service object: construct
// one at process start and pass it by reference to consumers.
//
// The cache populates lazily per format on first lookup and is maintained
// incrementally by the repository lifecycle events (add on create, remove on
// delete) rather than by full invalidation, keeping steady-state lookups
// allocation-free and lock-light.
type RepositoryNameCache struct {
	mu       sync.RWMutex
	byFormat map[string]map[int64]string
	lookup   RepositoryNameLookup
}

// NewRepositoryNameCache creates a cache backed by the given lookup.
func NewRepositoryNameCache(lookup RepositoryNameLookup) *RepositoryNameCache {
	return &RepositoryNameCache{
		byFormat: make(map[string]map[int64]string),
		lookup:   lookup,
	}
}

// Get returns the external name for an internal repository id, loading the
// format's mapping on first use. The second result is false when the id is
// unknown to the format.
func (c *RepositoryNameCache) Get(ctx context.Context, format string, repositoryID int64) (string, bool, error) {
	c.mu.RLock()
	names, loaded := c.byFormat[format]
	if loaded {
		name, ok := names[repositoryID]
		c.mu.RUnlock()
		return name, ok, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have loaded the format while we waited.
	if names, loaded = c.byFormat[format]; !loaded {
		fresh, err := c.lookup(ctx, format)
		if err != nil {
			return "", false, err
		}
		names = make(map[int64]string, len(fresh))
		for id, name := range fresh {
			names[id] = name
		}
		c.byFormat[format] = names
	}
	name, ok := names[repositoryID]
	return name, ok, nil
}

// OnRepositoryCreated records a new repository's name. A format not yet
// loaded is left alone; its first Get will pick the repository up.
func (c *RepositoryNameCache) OnRepositoryCreated(format string, repositoryID int64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if names, loaded := c.byFormat[format]; loaded {
		names[repositoryID] = name
	}
}

// OnRepositoryDeleted drops a repository from the cache.
func (c *RepositoryNameCache) OnRepositoryDeleted(format string, repositoryID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if names, loaded := c.byFormat[format]; loaded {
		delete(names, repositoryID)
	}
}
