package provisioning

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/clinicore/clinicore-backend/domains/tenants/be/repo"
	"github.com/clinicore/clinicore-backend/domains/tenants/be/service"
	"github.com/clinicore/clinicore-backend/platform/go/persistence"
	"github.com/clinicore/clinicore-backend/platform/go/tenant"
)

type liveFixture struct {
	repo        *repo.MemoryRepository
	registry    *persistence.SchemaRegistry
	provisioner *Provisioner
	checker     *Checker
	host        string
	port        int
}

// startClinicHost boots a throwaway Postgres acting as the clinic database
// server and wires the real provisioning stack against it.
func startClinicHost(t *testing.T) *liveFixture {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("maintenance"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	adminPool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(adminPool.Close)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	mapped, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	repository := repo.NewMemoryRepository()
	schemaRegistry := persistence.NewSchemaRegistry()
	provisioner := NewProvisioner(repository, NewPGAdmin(adminPool), NewPGTenantClient(), schemaRegistry, nil, nil, Config{})
	checker := NewChecker(repository, NewPGAdmin(adminPool), NewPGTenantClient(), schemaRegistry, provisioner, nil)

	return &liveFixture{
		repo:        repository,
		registry:    schemaRegistry,
		provisioner: provisioner,
		checker:     checker,
		host:        host,
		port:        mapped.Int(),
	}
}

func (f *liveFixture) newTenant(t *testing.T, name string) service.Tenant {
	t.Helper()

	id := uuid.New()
	created, err := f.repo.Create(context.Background(), service.Tenant{
		ID:         id,
		Name:       name,
		Country:    "en",
		DBName:     tenant.BuildDBName(id),
		DBHost:     f.host,
		DBPort:     f.port,
		DBUser:     "postgres",
		DBPassword: "postgres",
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	return created
}

func TestTenantLifecycleIntegration(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	f := startClinicHost(t)
	account := f.newTenant(t, "Acme Clinic")

	// First login path: database absent, report says so without error.
	report, err := f.checker.CheckIntegrity(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, report.Exists)

	result, err := f.provisioner.Provision(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, result.Created)
	require.Equal(t, account.DBName, result.DBName)

	report, err = f.checker.CheckIntegrity(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, report.Healthy)
	require.ElementsMatch(t, f.registry.ExpectedTableNames(), report.TablesFound)

	stored, err := f.repo.Get(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, stored.Provisioned)

	// Second attempt is a no-op.
	again, err := f.provisioner.Provision(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyProvisioned)

	// Mandatory seeds landed.
	conn, err := pgx.Connect(ctx, stored.DSN())
	require.NoError(t, err)
	defer func() {
		_ = conn.Close(context.Background())
	}()

	var roleCount int
	require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM roles").Scan(&roleCount))
	require.Equal(t, 3, roleCount)

	var defaultFacilities int
	require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM facilities WHERE is_default").Scan(&defaultFacilities))
	require.Equal(t, 1, defaultFacilities)
}

func TestTenantIsolationIntegration(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	f := startClinicHost(t)
	north := f.newTenant(t, "North Clinic")
	south := f.newTenant(t, "South Clinic")

	_, err := f.provisioner.Provision(ctx, north.ID)
	require.NoError(t, err)
	_, err = f.provisioner.Provision(ctx, south.ID)
	require.NoError(t, err)

	northStored, err := f.repo.Get(ctx, north.ID)
	require.NoError(t, err)
	southStored, err := f.repo.Get(ctx, south.ID)
	require.NoError(t, err)
	require.NotEqual(t, northStored.DBName, southStored.DBName)

	northConn, err := pgx.Connect(ctx, northStored.DSN())
	require.NoError(t, err)
	defer func() {
		_ = northConn.Close(context.Background())
	}()
	_, err = northConn.Exec(ctx, "INSERT INTO patients (given_name, family_name) VALUES ('Alice', 'North')")
	require.NoError(t, err)

	southConn, err := pgx.Connect(ctx, southStored.DSN())
	require.NoError(t, err)
	defer func() {
		_ = southConn.Close(context.Background())
	}()

	var southPatients int
	require.NoError(t, southConn.QueryRow(ctx, "SELECT count(*) FROM patients").Scan(&southPatients))
	require.Zero(t, southPatients, "a row written through one clinic's connection must not be visible through another's")

	var northPatients int
	require.NoError(t, northConn.QueryRow(ctx, "SELECT count(*) FROM patients").Scan(&northPatients))
	require.Equal(t, 1, northPatients)
}

func TestRepairRestoresDroppedTableIntegration(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	f := startClinicHost(t)
	account := f.newTenant(t, "Acme Clinic")

	_, err := f.provisioner.Provision(ctx, account.ID)
	require.NoError(t, err)

	stored, err := f.repo.Get(ctx, account.ID)
	require.NoError(t, err)

	// Out-of-band damage: a table disappears while data elsewhere stays.
	conn, err := pgx.Connect(ctx, stored.DSN())
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "INSERT INTO patients (given_name, family_name) VALUES ('Jane', 'Doe')")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "DROP TABLE consents")
	require.NoError(t, err)
	require.NoError(t, conn.Close(ctx))

	report, err := f.checker.CheckIntegrity(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, report.Healthy)
	require.Equal(t, []string{"consents"}, report.MissingTables)

	repair, err := f.checker.Repair(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, repair.Repaired)
	require.Equal(t, []string{"consents"}, repair.CreatedTables)

	report, err = f.checker.CheckIntegrity(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, report.Healthy)

	conn, err = pgx.Connect(ctx, stored.DSN())
	require.NoError(t, err)
	defer func() {
		_ = conn.Close(context.Background())
	}()

	var patients int
	require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM patients").Scan(&patients))
	require.Equal(t, 1, patients, "repair must not touch existing data")
}
