package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore-backend/domains/tenants/be/service"
	"github.com/clinicore/clinicore-backend/platform/go/tenant"
)

// Resolver defines the lookup capability required to populate a tenant Space.
// Implemented by the tenants service.
type Resolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (service.Resolution, error)
}

// TenantIDFunc extracts the authenticated tenant identifier from the request.
// The authentication layer owns the claim; the middleware trusts the id but
// re-validates active/provisioned status itself.
type TenantIDFunc func(r *http.Request) (uuid.UUID, error)

// HeaderTenantID reads the tenant id from a request header, the seam used by
// deployments where the auth proxy injects the resolved claim.
func HeaderTenantID(header string) TenantIDFunc {
	return func(r *http.Request) (uuid.UUID, error) {
		raw := r.Header.Get(header)
		if raw == "" {
			return uuid.Nil, errors.New("tenant header missing")
		}
		return uuid.Parse(raw)
	}
}

// Config controls middleware behavior.
type Config struct {
	TenantID TenantIDFunc
	// Optional small in-memory TTL cache of resolutions to avoid a central
	// DB hit per request; zero disables caching. Keep it short: a cached
	// resolution can outlive a pool eviction for at most this window.
	CacheTTL time.Duration
}

// WithTenantSpace resolves the tenant for each request and attaches a
// tenant.Space (including the live pool) to the context. Unprovisioned
// tenants receive a distinct provisioning-required signal instead of a
// generic error, so the outer system can trigger provisioning explicitly.
func WithTenantSpace(resolver Resolver, cfg Config) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}
	if cfg.TenantID == nil {
		panic("tenant middleware: tenant id extractor is required")
	}

	var cache *resolutionCache
	if cfg.CacheTTL > 0 {
		cache = newResolutionCache(cfg.CacheTTL)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tid, err := cfg.TenantID(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "tenant_required", "tenant identifier missing or invalid")
				return
			}

			res, ok := cache.get(tid)
			if !ok {
				res, err = resolver.Resolve(r.Context(), tid)
				switch {
				case err == nil:
				case errors.Is(err, service.ErrNotFound):
					writeError(w, http.StatusNotFound, "tenant_not_found", "tenant not found")
					return
				case errors.Is(err, service.ErrInactive):
					writeError(w, http.StatusForbidden, "tenant_inactive", "tenant is disabled")
					return
				case errors.Is(err, service.ErrConnectionUnavailable):
					writeError(w, http.StatusServiceUnavailable, "tenant_unavailable", "tenant database unavailable")
					return
				default:
					writeError(w, http.StatusInternalServerError, "internal", "tenant resolution failed")
					return
				}
				cache.put(tid, res)
			}

			if !res.Provisioned {
				writeError(w, http.StatusConflict, "provisioning_required", "tenant database is not provisioned yet")
				return
			}

			space := tenant.Space{
				TenantID: res.Tenant.ID,
				Name:     res.Tenant.Name,
				DBName:   res.Tenant.DBName,
				Pool:     res.Pool,
			}
			next.ServeHTTP(w, r.WithContext(tenant.WithSpace(r.Context(), space)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

type resolutionCache struct {
	ttl   time.Duration
	mu    sync.Mutex
	items map[uuid.UUID]cacheItem
}

type cacheItem struct {
	res       service.Resolution
	expiresAt time.Time
}

func newResolutionCache(ttl time.Duration) *resolutionCache {
	return &resolutionCache{ttl: ttl, items: make(map[uuid.UUID]cacheItem)}
}

func (c *resolutionCache) get(id uuid.UUID) (service.Resolution, bool) {
	if c == nil {
		return service.Resolution{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok || time.Now().After(item.expiresAt) {
		return service.Resolution{}, false
	}
	return item.res, true
}

func (c *resolutionCache) put(id uuid.UUID, res service.Resolution) {
	if c == nil {
		return
	}
	// Only provisioned resolutions are cached; an unprovisioned tenant must
	// observe its own provisioning on the very next request.
	if !res.Provisioned {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = cacheItem{res: res, expiresAt: time.Now().Add(c.ttl)}
}
