package provisioning

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-backend/domains/tenants/be/service"
)

func TestCheckIntegrityReportsMissingDatabaseWithoutError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.newTenant(t, "North Clinic")

	report, err := f.checker.CheckIntegrity(context.Background(), account.ID)
	require.NoError(t, err, "a missing database is reported, never raised")
	require.False(t, report.Exists)
	require.False(t, report.Accessible)
	require.False(t, report.Healthy)
	require.NotEmpty(t, report.Errors)
}

func TestCheckIntegrityUnknownTenant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.checker.CheckIntegrity(context.Background(), uuid.New())
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestCheckIntegrityDetectsMissingTable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.newTenant(t, "North Clinic")
	_, err := f.provisioner.Provision(context.Background(), account.ID)
	require.NoError(t, err)

	f.cluster.dropTable(account.DBName, "appointments")

	report, err := f.checker.CheckIntegrity(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, report.Exists)
	require.True(t, report.Accessible)
	require.False(t, report.Healthy)
	require.Equal(t, []string{"appointments"}, report.MissingTables)
}

func TestCheckIntegrityRetriesTransientReadFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.checker.maxRetries = 2
	account := f.newTenant(t, "North Clinic")
	_, err := f.provisioner.Provision(context.Background(), account.ID)
	require.NoError(t, err)

	f.cluster.mu.Lock()
	f.cluster.listTablesFailures = 1
	f.cluster.mu.Unlock()

	report, err := f.checker.CheckIntegrity(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, report.Accessible)
	require.True(t, report.Healthy)
}

func TestRepairRecreatesOnlyMissingTables(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.newTenant(t, "North Clinic")
	_, err := f.provisioner.Provision(context.Background(), account.ID)
	require.NoError(t, err)

	f.cluster.insertRow(account.DBName, "patients", "jane-doe")
	f.cluster.dropTable(account.DBName, "appointments")

	result, err := f.checker.Repair(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, result.Repaired)
	require.False(t, result.FullProvision)
	require.Equal(t, []string{"appointments"}, result.CreatedTables)

	report, err := f.checker.CheckIntegrity(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, report.Healthy)

	require.Equal(t, []string{"jane-doe"}, f.cluster.tableRows(account.DBName, "patients"),
		"existing data must survive a repair")
}

func TestRepairReappliesMissingSeeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.newTenant(t, "North Clinic")
	_, err := f.provisioner.Provision(context.Background(), account.ID)
	require.NoError(t, err)

	f.cluster.clearSeed(account.DBName, "roles")

	result, err := f.checker.Repair(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, result.Repaired)
	require.Equal(t, []string{"default-roles"}, result.ReseededSeeds)
}

func TestRepairIsNoopOnHealthyTenant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.newTenant(t, "North Clinic")
	_, err := f.provisioner.Provision(context.Background(), account.ID)
	require.NoError(t, err)

	result, err := f.checker.Repair(context.Background(), account.ID)
	require.NoError(t, err)
	require.False(t, result.Repaired)
	require.Empty(t, result.CreatedTables)
	require.Empty(t, result.ReseededSeeds)
}

func TestRepairFallsBackToFullProvisionWhenDatabaseMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.newTenant(t, "North Clinic")
	_, err := f.provisioner.Provision(context.Background(), account.ID)
	require.NoError(t, err)

	// Out-of-band loss of the whole database while the flag says provisioned.
	require.NoError(t, f.cluster.DropDatabase(context.Background(), account.DBName))

	result, err := f.checker.Repair(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, result.Repaired)
	require.True(t, result.FullProvision)

	report, err := f.checker.CheckIntegrity(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, report.Healthy)

	stored, err := f.repo.Get(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, stored.Provisioned)
}

func TestRepairHealsLostProvisionedFlag(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.newTenant(t, "North Clinic")
	_, err := f.provisioner.Provision(context.Background(), account.ID)
	require.NoError(t, err)

	// Simulate a lost flag update after successful physical provisioning.
	require.NoError(t, f.repo.SetProvisioned(context.Background(), account.ID, false, time.Time{}))

	result, err := f.checker.Repair(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, result.Repaired)
	require.True(t, result.FlagHealed)
	require.Empty(t, result.CreatedTables)

	stored, err := f.repo.Get(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, stored.Provisioned)
}

func TestDiagnoseCrossChecksRecordsAndDatabases(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	healthy := f.newTenant(t, "Healthy Clinic")
	_, err := f.provisioner.Provision(context.Background(), healthy.ID)
	require.NoError(t, err)

	lostDB := f.newTenant(t, "Lost DB Clinic")
	_, err = f.provisioner.Provision(context.Background(), lostDB.ID)
	require.NoError(t, err)
	require.NoError(t, f.cluster.DropDatabase(context.Background(), lostDB.DBName))

	flagDrift := f.newTenant(t, "Flag Drift Clinic")
	_, err = f.provisioner.Provision(context.Background(), flagDrift.ID)
	require.NoError(t, err)
	require.NoError(t, f.repo.SetProvisioned(context.Background(), flagDrift.ID, false, time.Time{}))

	require.NoError(t, f.cluster.CreateDatabase(context.Background(), "clinic_000000000000"))

	report, err := f.checker.Diagnose(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{lostDB.ID}, report.MissingDatabases)
	require.Equal(t, []uuid.UUID{flagDrift.ID}, report.UnprovisionedWithDatabase)
	require.Equal(t, []string{"clinic_000000000000"}, report.OrphanDatabases)
}
