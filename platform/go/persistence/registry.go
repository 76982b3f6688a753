package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrRegistryClosed is returned from Tenant after Close.
var ErrRegistryClosed = errors.New("connection registry is closed")

// RegistryConfig configures the connection registry.
type RegistryConfig struct {
	// CentralConnString points to the shared central database; the central
	// pool is built once at startup and NewRegistry fails if it is unreachable.
	CentralConnString string
	// TenantPool is the template applied to every tenant pool; ConnString is
	// supplied per tenant at acquisition time. MaxConns caps each tenant pool
	// so the aggregate stays within the host connection budget.
	TenantPool PoolConfig
	// IdleEviction closes tenant pools unused for this window. Zero disables
	// the background sweep.
	IdleEviction time.Duration
	// SweepInterval controls how often the idle sweep runs (default: IdleEviction / 2).
	SweepInterval time.Duration
	// OnEvict runs before an evicted pool is closed, while the entry is still
	// registered nowhere. The model cache hooks in here so accessors bound to
	// a dying pool are dropped first.
	OnEvict func(pool *pgxpool.Pool)
	Logger  *zap.Logger
	Metrics *RegistryMetrics
}

type poolEntry struct {
	pool     *pgxpool.Pool
	lastUsed atomic.Int64 // unix nanos
}

func (e *poolEntry) touch() {
	e.lastUsed.Store(time.Now().UnixNano())
}

// Registry owns the single central pool and the cache of tenant pools, keyed
// by tenant identifier. Tenant pools are created lazily and exactly once per
// tenant, evicted on idle timeout or explicit request, and torn down on Close.
// A pool handed out for tenant A is never reachable under any other tenant id.
type Registry struct {
	central *pgxpool.Pool
	cfg     RegistryConfig
	logger  *zap.Logger

	mu      sync.RWMutex
	tenants map[uuid.UUID]*poolEntry
	closed  bool

	group singleflight.Group
	done  chan struct{}
}

// NewRegistry connects the central pool and starts the idle sweep.
func NewRegistry(ctx context.Context, cfg RegistryConfig) (*Registry, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	central, err := NewPool(ctx, PoolConfig{ConnString: cfg.CentralConnString})
	if err != nil {
		return nil, fmt.Errorf("connect central database: %w", err)
	}

	r := &Registry{
		central: central,
		cfg:     cfg,
		logger:  cfg.Logger,
		tenants: make(map[uuid.UUID]*poolEntry),
		done:    make(chan struct{}),
	}

	if cfg.IdleEviction > 0 {
		interval := cfg.SweepInterval
		if interval <= 0 {
			interval = cfg.IdleEviction / 2
		}
		go r.sweepLoop(interval)
	}

	return r, nil
}

// Central returns the process-wide pool to the central database.
func (r *Registry) Central() *pgxpool.Pool {
	return r.central
}

// Tenant returns the cached pool for tenantID, creating it on first call.
// Concurrent callers for the same tenant converge on a single pool: creation
// happens inside a singleflight keyed by tenant id, never under the registry
// lock, so slow dials for one clinic do not block unrelated tenants.
//
// Callers must already know the tenant is provisioned; this method does not
// provision.
func (r *Registry) Tenant(ctx context.Context, tenantID uuid.UUID, connString string) (*pgxpool.Pool, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrRegistryClosed
	}
	if entry, ok := r.tenants[tenantID]; ok {
		entry.touch()
		r.mu.RUnlock()
		return entry.pool, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(tenantID.String(), func() (any, error) {
		// Re-check: a concurrent flight may have registered the entry between
		// the read-lock miss and this flight starting.
		r.mu.RLock()
		entry, ok := r.tenants[tenantID]
		closed := r.closed
		r.mu.RUnlock()
		if closed {
			return nil, ErrRegistryClosed
		}
		if ok {
			return entry, nil
		}

		cfg := r.cfg.TenantPool
		cfg.ConnString = connString
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open tenant pool: %w", err)
		}

		entry = &poolEntry{pool: pool}
		entry.touch()

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			pool.Close()
			return nil, ErrRegistryClosed
		}
		r.tenants[tenantID] = entry
		r.mu.Unlock()

		r.cfg.Metrics.poolCreated()
		r.logger.Info("tenant pool created", zap.String("tenant_id", tenantID.String()))
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	entry := v.(*poolEntry)
	entry.touch()
	return entry.pool, nil
}

// Evict closes and removes a cached tenant pool. Safe to call when no entry
// exists. The eviction hook fires before the pool is closed.
func (r *Registry) Evict(tenantID uuid.UUID) {
	r.mu.Lock()
	entry, ok := r.tenants[tenantID]
	if ok {
		delete(r.tenants, tenantID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.closeEvicted(tenantID, entry)
}

// evictIfIdleSince removes the entry only when it is still idle past the
// cutoff at removal time. The sweep's expiry snapshot is taken under a read
// lock; a request may touch the entry between snapshot and eviction, and a
// just-reactivated pool must not be closed under it.
func (r *Registry) evictIfIdleSince(tenantID uuid.UUID, cutoff int64) bool {
	r.mu.Lock()
	entry, ok := r.tenants[tenantID]
	if !ok || entry.lastUsed.Load() >= cutoff {
		r.mu.Unlock()
		return false
	}
	delete(r.tenants, tenantID)
	r.mu.Unlock()

	r.closeEvicted(tenantID, entry)
	return true
}

func (r *Registry) closeEvicted(tenantID uuid.UUID, entry *poolEntry) {
	if r.cfg.OnEvict != nil {
		r.cfg.OnEvict(entry.pool)
	}
	entry.pool.Close()
	r.cfg.Metrics.poolEvicted()
	r.logger.Info("tenant pool evicted", zap.String("tenant_id", tenantID.String()))
}

// OpenTenantPools reports how many tenant pools are currently cached.
func (r *Registry) OpenTenantPools() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}

// Close stops the sweep and closes every pool, tenant pools first.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := make(map[uuid.UUID]*poolEntry, len(r.tenants))
	for id, entry := range r.tenants {
		entries[id] = entry
	}
	r.tenants = make(map[uuid.UUID]*poolEntry)
	r.mu.Unlock()

	close(r.done)

	for _, entry := range entries {
		if r.cfg.OnEvict != nil {
			r.cfg.OnEvict(entry.pool)
		}
		entry.pool.Close()
	}
	r.central.Close()
}

// sweepLoop evicts idle tenant pools off the request path.
func (r *Registry) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweepIdle(time.Now())
		}
	}
}

func (r *Registry) sweepIdle(now time.Time) {
	cutoff := now.Add(-r.cfg.IdleEviction).UnixNano()

	r.mu.RLock()
	var expired []uuid.UUID
	for id, entry := range r.tenants {
		if entry.lastUsed.Load() < cutoff {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		if r.evictIfIdleSince(id, cutoff) {
			r.logger.Debug("evicted idle tenant pool", zap.String("tenant_id", id.String()))
		}
	}
}
