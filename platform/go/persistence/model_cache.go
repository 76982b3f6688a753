package persistence

import (
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ModelCache memoizes EntityModel accessors per (pool identity, entity name),
// so repeated lookups in the same process never rebuild an accessor for the
// same pool. Keying is by pool pointer, not tenant id: after a pool is evicted
// and re-created, lookups against the new pool produce fresh accessors and can
// never hand back one bound to the dead pool.
//
// The cache does not rely on garbage collection for correctness: the
// connection registry invokes InvalidatePool from its eviction hook, so
// accessors die with their pool.
type ModelCache struct {
	registry *SchemaRegistry

	mu    sync.Mutex
	pools map[*pgxpool.Pool]map[string]*EntityModel
}

// NewModelCache builds a cache that only admits entities known to the schema registry.
func NewModelCache(registry *SchemaRegistry) *ModelCache {
	if registry == nil {
		panic("model cache requires schema registry")
	}
	return &ModelCache{
		registry: registry,
		pools:    make(map[*pgxpool.Pool]map[string]*EntityModel),
	}
}

// Entity returns the memoized accessor for entityName bound to pool, building
// it on first call.
func (c *ModelCache) Entity(pool *pgxpool.Pool, entityName string) (*EntityModel, error) {
	if pool == nil {
		return nil, fmt.Errorf("model cache: pool is required")
	}
	if !c.registry.HasTable(entityName) {
		return nil, fmt.Errorf("model cache: unknown entity %q", entityName)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	models, ok := c.pools[pool]
	if !ok {
		models = make(map[string]*EntityModel)
		c.pools[pool] = models
	}

	if model, ok := models[entityName]; ok {
		return model, nil
	}

	model := newEntityModel(pool, entityName)
	models[entityName] = model
	return model, nil
}

// InvalidatePool drops every accessor bound to pool. Wired as the connection
// registry's eviction hook.
func (c *ModelCache) InvalidatePool(pool *pgxpool.Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pools, pool)
}

// CachedModels reports how many accessors are cached for pool, for diagnostics.
func (c *ModelCache) CachedModels(pool *pgxpool.Pool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pools[pool])
}
