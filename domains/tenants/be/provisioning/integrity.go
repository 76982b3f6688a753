package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clinicore/clinicore-backend/domains/tenants/be/service"
	"github.com/clinicore/clinicore-backend/platform/go/persistence"
)

// IntegrityReport is the structured health result for one tenant database.
// Produced fresh on every check, never persisted.
type IntegrityReport struct {
	TenantID      uuid.UUID
	DBName        string
	Exists        bool
	Accessible    bool
	TablesFound   []string
	MissingTables []string
	Healthy       bool
	Errors        []string
}

// RepairResult describes what a repair run changed.
type RepairResult struct {
	TenantID      uuid.UUID
	Repaired      bool
	FullProvision bool
	CreatedTables []string
	ReseededSeeds []string
	// FlagHealed is set when the physical database verified healthy while the
	// central record still said unprovisioned; the flag was flipped to match
	// physical truth.
	FlagHealed bool
}

// DriftReport cross-checks tenant metadata against physical databases, the
// minimum observability contract for operators.
type DriftReport struct {
	// MissingDatabases lists tenants flagged provisioned whose physical
	// database does not exist.
	MissingDatabases []uuid.UUID
	// UnprovisionedWithDatabase lists tenants whose physical database exists
	// while the record says unprovisioned (flag drift, self-healable).
	UnprovisionedWithDatabase []uuid.UUID
	// OrphanDatabases lists clinic databases with no tenant record at all.
	OrphanDatabases []string
}

// Checker verifies tenant databases against the schema registry and repairs
// drift. Check never mutates state; Repair re-runs only the missing portions
// of provisioning.
type Checker struct {
	repo        service.Repository
	admin       Admin
	client      TenantDBClient
	registry    *persistence.SchemaRegistry
	provisioner *Provisioner
	logger      *zap.Logger
	maxRetries  uint64
}

// NewChecker wires the checker; provisioner is used as the full-provision
// fallback when the physical database is absent.
func NewChecker(repo service.Repository, admin Admin, client TenantDBClient, registry *persistence.SchemaRegistry, provisioner *Provisioner, logger *zap.Logger) *Checker {
	if repo == nil || admin == nil || client == nil || registry == nil || provisioner == nil {
		panic("checker requires repo, admin, client, registry and provisioner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		repo:        repo,
		admin:       admin,
		client:      client,
		registry:    registry,
		provisioner: provisioner,
		logger:      logger,
		maxRetries:  3,
	}
}

// CheckIntegrity connects directly to the tenant's physical database,
// bypassing any cached pool, and diffs the actual table set against the
// schema registry. A missing or unreachable database is reported in the
// result, never raised. Transient read failures are retried a bounded number
// of times with backoff; reads only, per our retry policy.
func (c *Checker) CheckIntegrity(ctx context.Context, tenantID uuid.UUID) (IntegrityReport, error) {
	t, err := c.repo.Get(ctx, tenantID)
	if err != nil {
		return IntegrityReport{}, err
	}

	return buildReport(ctx, c.admin, c.retryingClient(), c.registry, t), nil
}

// Repair re-creates missing tables and re-seeds missing mandatory rows
// without touching existing data. A nonexistent database falls back to full
// provisioning; a healthy tenant is a no-op with Repaired=false.
func (c *Checker) Repair(ctx context.Context, tenantID uuid.UUID) (RepairResult, error) {
	t, err := c.repo.Get(ctx, tenantID)
	if err != nil {
		return RepairResult{}, err
	}

	report := buildReport(ctx, c.admin, c.retryingClient(), c.registry, t)
	result := RepairResult{TenantID: tenantID}

	if !report.Exists {
		c.logger.Info("repair: database missing, falling back to full provisioning",
			zap.String("tenant_id", tenantID.String()), zap.String("db_name", t.DBName))
		// Provision re-checks the flag itself; a stale provisioned=true with
		// no physical database must be reset first so it does not short-circuit.
		if t.Provisioned {
			if err := c.repo.SetProvisioned(ctx, tenantID, false, time.Time{}); err != nil {
				return RepairResult{}, fmt.Errorf("reset stale provisioned flag: %w", err)
			}
		}
		if _, err := c.provisioner.Provision(ctx, tenantID); err != nil {
			return RepairResult{}, err
		}
		result.Repaired = true
		result.FullProvision = true
		return result, nil
	}

	if !report.Accessible {
		return RepairResult{}, fmt.Errorf("%w: %v", service.ErrConnectionUnavailable, report.Errors)
	}

	dsn := t.DSN()

	// Missing tables are created in registry order so foreign keys resolve.
	for _, table := range c.registry.Tables() {
		if !contains(report.MissingTables, table.Name) {
			continue
		}
		if err := c.client.ApplyDDL(ctx, dsn, []string{table.DDL}); err != nil {
			return RepairResult{}, fmt.Errorf("recreate table %s: %w", table.Name, err)
		}
		result.CreatedTables = append(result.CreatedTables, table.Name)
	}

	for _, seed := range c.registry.Seeds() {
		ok, err := c.client.SeedSatisfied(ctx, dsn, seed.ProbeSQL)
		if err != nil {
			return RepairResult{}, fmt.Errorf("probe seed %s: %w", seed.Name, err)
		}
		if ok {
			continue
		}
		if err := c.client.ApplyDDL(ctx, dsn, []string{seed.SQL}); err != nil {
			return RepairResult{}, fmt.Errorf("reseed %s: %w", seed.Name, err)
		}
		result.ReseededSeeds = append(result.ReseededSeeds, seed.Name)
	}

	after := buildReport(ctx, c.admin, c.client, c.registry, t)
	if !after.Healthy {
		return RepairResult{}, fmt.Errorf("%w: still missing %v after repair",
			service.ErrVerificationFailed, after.MissingTables)
	}

	// Physical truth is authoritative: a healthy database with a false flag
	// means a lost flag update, heal it here.
	if !t.Provisioned {
		if err := c.repo.SetProvisioned(ctx, tenantID, true, time.Now().UTC()); err != nil {
			return RepairResult{}, fmt.Errorf("heal provisioned flag: %w", err)
		}
		result.FlagHealed = true
	}

	result.Repaired = len(result.CreatedTables) > 0 || len(result.ReseededSeeds) > 0 || result.FlagHealed
	return result, nil
}

// Diagnose enumerates tenant records and physical clinic databases and
// cross-checks both directions.
func (c *Checker) Diagnose(ctx context.Context) (DriftReport, error) {
	var (
		tenants   []service.Tenant
		databases []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tenants, err = c.repo.List(gctx, true)
		return err
	})
	g.Go(func() error {
		var err error
		databases, err = c.admin.ListDatabases(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return DriftReport{}, err
	}

	known := make(map[string]service.Tenant, len(tenants))
	for _, t := range tenants {
		known[t.DBName] = t
	}

	var report DriftReport
	existing := make(map[string]bool, len(databases))
	for _, name := range databases {
		existing[name] = true
		if _, ok := known[name]; !ok {
			report.OrphanDatabases = append(report.OrphanDatabases, name)
		}
	}

	for _, t := range tenants {
		switch {
		case t.Provisioned && !existing[t.DBName]:
			report.MissingDatabases = append(report.MissingDatabases, t.ID)
		case !t.Provisioned && existing[t.DBName]:
			report.UnprovisionedWithDatabase = append(report.UnprovisionedWithDatabase, t.ID)
		}
	}

	return report, nil
}

// retryingClient wraps the raw client so ListTables survives transient dial
// failures. ErrDatabaseMissing is permanent, absence is an answer.
func (c *Checker) retryingClient() TenantDBClient {
	return &retryClient{inner: c.client, maxRetries: c.maxRetries}
}

type retryClient struct {
	inner      TenantDBClient
	maxRetries uint64
}

func (r *retryClient) ApplyDDL(ctx context.Context, dsn string, statements []string) error {
	return r.inner.ApplyDDL(ctx, dsn, statements)
}

func (r *retryClient) SeedSatisfied(ctx context.Context, dsn string, probeSQL string) (bool, error) {
	return r.inner.SeedSatisfied(ctx, dsn, probeSQL)
}

func (r *retryClient) ListTables(ctx context.Context, dsn string) ([]string, error) {
	var tables []string
	op := func() error {
		var err error
		tables, err = r.inner.ListTables(ctx, dsn)
		if errors.Is(err, ErrDatabaseMissing) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries)
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return tables, nil
}

// buildReport computes the integrity report for one tenant. Shared by the
// provisioner's post-creation verification and the checker.
func buildReport(ctx context.Context, admin Admin, client TenantDBClient, registry *persistence.SchemaRegistry, t service.Tenant) IntegrityReport {
	report := IntegrityReport{TenantID: t.ID, DBName: t.DBName}

	exists, err := admin.DatabaseExists(ctx, t.DBName)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("check existence: %v", err))
		return report
	}
	if !exists {
		report.Errors = append(report.Errors, "database does not exist")
		return report
	}
	report.Exists = true

	tables, err := client.ListTables(ctx, t.DSN())
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list tables: %v", err))
		return report
	}
	report.Accessible = true
	report.TablesFound = tables

	found := make(map[string]bool, len(tables))
	for _, name := range tables {
		found[name] = true
	}
	for _, expected := range registry.ExpectedTableNames() {
		if !found[expected] {
			report.MissingTables = append(report.MissingTables, expected)
		}
	}

	report.Healthy = len(report.MissingTables) == 0
	return report
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
