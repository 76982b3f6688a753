package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore-backend/domains/tenants/be/service"
	"github.com/clinicore/clinicore-backend/platform/go/persistence"
)

// PostgresRepository adapts the central TenantStore to the service Repository.
type PostgresRepository struct {
	store *persistence.TenantStore
}

// NewPostgresRepository constructs the adapter.
func NewPostgresRepository(store *persistence.TenantStore) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	rec, err := r.store.Create(ctx, toRecord(t))
	if err != nil {
		return service.Tenant{}, err
	}
	return fromRecord(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrTenantRecordNotFound) {
			return service.Tenant{}, service.ErrNotFound
		}
		return service.Tenant{}, err
	}
	return fromRecord(rec), nil
}

func (r *PostgresRepository) List(ctx context.Context, includeDeleted bool) ([]service.Tenant, error) {
	records, err := r.store.List(ctx, includeDeleted)
	if err != nil {
		return nil, err
	}
	tenants := make([]service.Tenant, 0, len(records))
	for _, rec := range records {
		tenants = append(tenants, fromRecord(rec))
	}
	return tenants, nil
}

func (r *PostgresRepository) SetProvisioned(ctx context.Context, id uuid.UUID, provisioned bool, completedAt time.Time) error {
	err := r.store.SetProvisioned(ctx, id, provisioned, completedAt)
	if errors.Is(err, persistence.ErrTenantRecordNotFound) {
		return service.ErrNotFound
	}
	return err
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id uuid.UUID, softDelete bool) error {
	err := r.store.Deactivate(ctx, id, softDelete)
	if errors.Is(err, persistence.ErrTenantRecordNotFound) {
		return service.ErrNotFound
	}
	return err
}

func toRecord(t service.Tenant) persistence.TenantRecord {
	return persistence.TenantRecord{
		ID:               t.ID,
		Name:             t.Name,
		Country:          t.Country,
		DBName:           t.DBName,
		DBHost:           t.DBHost,
		DBPort:           t.DBPort,
		DBUser:           t.DBUser,
		DBPassword:       t.DBPassword,
		Provisioned:      t.Provisioned,
		SetupCompletedAt: t.SetupCompletedAt,
		IsActive:         t.IsActive,
		DeletedAt:        t.DeletedAt,
		CreatedAt:        t.CreatedAt,
	}
}

func fromRecord(rec persistence.TenantRecord) service.Tenant {
	return service.Tenant{
		ID:               rec.ID,
		Name:             rec.Name,
		Country:          rec.Country,
		DBName:           rec.DBName,
		DBHost:           rec.DBHost,
		DBPort:           rec.DBPort,
		DBUser:           rec.DBUser,
		DBPassword:       rec.DBPassword,
		Provisioned:      rec.Provisioned,
		SetupCompletedAt: rec.SetupCompletedAt,
		IsActive:         rec.IsActive,
		DeletedAt:        rec.DeletedAt,
		CreatedAt:        rec.CreatedAt,
	}
}

var _ service.Repository = (*PostgresRepository)(nil)
