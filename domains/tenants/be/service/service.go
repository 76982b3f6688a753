package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore-backend/platform/go/tenant"
)

// Errors shared across the tenant lifecycle subsystem.
var (
	// ErrNotFound means no Tenant Record exists for the identifier.
	ErrNotFound = errors.New("tenant not found")
	// ErrInactive means the tenant is disabled or soft-deleted; rejected
	// before touching the physical database.
	ErrInactive = errors.New("tenant inactive")
	// ErrProvisioningInProgress means another provisioning attempt holds the
	// per-tenant job lock and the caller gave up waiting.
	ErrProvisioningInProgress = errors.New("tenant provisioning in progress")
	// ErrProvisioningFailed wraps the underlying cause of a failed and
	// cleaned-up provisioning attempt. Never retried silently.
	ErrProvisioningFailed = errors.New("tenant provisioning failed")
	// ErrVerificationFailed means a freshly provisioned database did not pass
	// the integrity check.
	ErrVerificationFailed = errors.New("tenant database verification failed")
	// ErrConnectionUnavailable means the tenant pool could not be obtained
	// (host unreachable or pool exhausted).
	ErrConnectionUnavailable = errors.New("tenant connection unavailable")
	// ErrAlreadyProvisioned marks the tenant as provisioned before the call.
	// Provisioning treats this as idempotent success (reported on the result,
	// not as an error); destructive cleanup refuses with it.
	ErrAlreadyProvisioned = errors.New("tenant already provisioned")
)

// Tenant is the domain model for one clinic account and the coordinates of
// its physical database. DBPassword is a secret reference and must never be
// logged.
type Tenant struct {
	ID               uuid.UUID
	Name             string
	Country          string
	DBName           string
	DBHost           string
	DBPort           int
	DBUser           string
	DBPassword       string
	Provisioned      bool
	SetupCompletedAt *time.Time
	IsActive         bool
	DeletedAt        *time.Time
	CreatedAt        time.Time
}

// DSN assembles the connection string for this tenant's physical database.
func (t Tenant) DSN() string {
	return tenant.BuildDSN(t.DBHost, t.DBPort, t.DBUser, t.DBPassword, t.DBName)
}

// CreateInput represents the request to register a tenant account. The
// physical database is NOT created here: expensive setup is deferred until
// first login, when Provision runs explicitly.
type CreateInput struct {
	Name       string
	Country    string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
}

// Resolution is the outcome of resolving a tenant for request routing.
// Provisioned=false tells the caller to route into the provisioning flow
// instead of normal request handling; Pool is only set when Provisioned.
type Resolution struct {
	Tenant      Tenant
	Provisioned bool
	Pool        *pgxpool.Pool
}

// Repository abstracts central-database persistence of Tenant Records.
type Repository interface {
	Create(ctx context.Context, t Tenant) (Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	List(ctx context.Context, includeDeleted bool) ([]Tenant, error)
	SetProvisioned(ctx context.Context, id uuid.UUID, provisioned bool, completedAt time.Time) error
	Deactivate(ctx context.Context, id uuid.UUID, softDelete bool) error
}

// PoolProvider is the connection-registry seam the resolver depends on;
// consumers never construct pools directly.
type PoolProvider interface {
	Tenant(ctx context.Context, tenantID uuid.UUID, connString string) (*pgxpool.Pool, error)
}

// Service provides tenant registry operations and request-scoped resolution.
type Service struct {
	repo  Repository
	pools PoolProvider
}

// New constructs a Service with required dependencies.
func New(repo Repository, pools PoolProvider) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	if pools == nil {
		panic("pool provider is required")
	}
	return &Service{repo: repo, pools: pools}
}

// Create registers a tenant account with a deterministically derived database
// name and the provisioned flag off.
func (s *Service) Create(ctx context.Context, input CreateInput) (Tenant, error) {
	if input.Name == "" {
		return Tenant{}, fmt.Errorf("tenant name is required")
	}

	id := uuid.New()
	country := input.Country
	if country == "" {
		country = "en"
	}
	port := input.DBPort
	if port == 0 {
		port = 5432
	}

	t := Tenant{
		ID:          id,
		Name:        input.Name,
		Country:     country,
		DBName:      tenant.BuildDBName(id),
		DBHost:      input.DBHost,
		DBPort:      port,
		DBUser:      input.DBUser,
		DBPassword:  input.DBPassword,
		Provisioned: false,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}

	return s.repo.Create(ctx, t)
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.Get(ctx, id)
}

// List returns all tenants.
func (s *Service) List(ctx context.Context, includeDeleted bool) ([]Tenant, error) {
	return s.repo.List(ctx, includeDeleted)
}

// Deactivate disables a tenant; subsequent Resolve calls reject with ErrInactive.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID, softDelete bool) error {
	return s.repo.Deactivate(ctx, id, softDelete)
}

// Resolve looks up the Tenant Record and, when the tenant is provisioned,
// returns its live pool from the connection registry (creating it if this is
// the first request since process start). An unprovisioned tenant yields
// Provisioned=false with no error so the caller can route into the explicit
// provisioning flow; Resolve never auto-provisions inside a read path.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (Resolution, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Resolution{}, err
	}

	if !t.IsActive || t.DeletedAt != nil {
		return Resolution{}, fmt.Errorf("%w: %s", ErrInactive, t.ID)
	}

	if !t.Provisioned {
		return Resolution{Tenant: t, Provisioned: false}, nil
	}

	pool, err := s.pools.Tenant(ctx, t.ID, t.DSN())
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}

	return Resolution{Tenant: t, Provisioned: true, Pool: pool}, nil
}
