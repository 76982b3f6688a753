package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore-backend/domains/tenants/be/service"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and early development.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]service.Tenant
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[uuid.UUID]service.Tenant)}
}

func (r *MemoryRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
	return t, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) List(ctx context.Context, includeDeleted bool) ([]service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenants := make([]service.Tenant, 0, len(r.byID))
	for _, t := range r.byID {
		if !includeDeleted && t.DeletedAt != nil {
			continue
		}
		tenants = append(tenants, t)
	}
	sort.Slice(tenants, func(i, j int) bool {
		return tenants[i].CreatedAt.After(tenants[j].CreatedAt)
	})
	return tenants, nil
}

func (r *MemoryRepository) SetProvisioned(ctx context.Context, id uuid.UUID, provisioned bool, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.ErrNotFound
	}
	t.Provisioned = provisioned
	if provisioned {
		at := completedAt
		t.SetupCompletedAt = &at
	} else {
		t.SetupCompletedAt = nil
	}
	r.byID[id] = t
	return nil
}

func (r *MemoryRepository) Deactivate(ctx context.Context, id uuid.UUID, softDelete bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.ErrNotFound
	}
	t.IsActive = false
	if softDelete {
		now := time.Now().UTC()
		t.DeletedAt = &now
	}
	r.byID[id] = t
	return nil
}

var _ service.Repository = (*MemoryRepository)(nil)
