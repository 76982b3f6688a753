package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/clinicore/clinicore-backend/domains/tenants/be/service"
	"github.com/clinicore/clinicore-backend/platform/go/persistence"
	"github.com/clinicore/clinicore-backend/platform/go/tenant"
)

// Result describes one provisioning outcome.
type Result struct {
	TenantID uuid.UUID
	DBName   string
	// AlreadyProvisioned signals idempotent success: the flag was set before
	// the attempt and nothing was created.
	AlreadyProvisioned bool
	// Created is true when this call (or the flight it joined) performed the
	// physical creation.
	Created bool
	// Coalesced is true when this call joined another caller's in-flight attempt.
	Coalesced bool
}

// Config tunes the provisioner.
type Config struct {
	// OperationTimeout bounds one physical provisioning flight end to end.
	// A flight that hits the bound still runs cleanup before releasing the
	// per-tenant job lock. Default 2 minutes.
	OperationTimeout time.Duration
	// CleanupTimeout bounds the cleanup of a failed attempt. Default 30s.
	CleanupTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 2 * time.Minute
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 30 * time.Second
	}
	return c
}

// Provisioner creates and initializes tenant physical databases. Concurrent
// attempts for one tenant are coalesced into a single flight; attempts for
// different tenants run fully in parallel.
type Provisioner struct {
	repo     service.Repository
	admin    Admin
	client   TenantDBClient
	registry *persistence.SchemaRegistry
	logger   *zap.Logger
	metrics  *persistence.RegistryMetrics
	cfg      Config

	group singleflight.Group
}

// NewProvisioner wires the provisioner. metrics may be nil.
func NewProvisioner(repo service.Repository, admin Admin, client TenantDBClient, registry *persistence.SchemaRegistry, logger *zap.Logger, metrics *persistence.RegistryMetrics, cfg Config) *Provisioner {
	if repo == nil || admin == nil || client == nil || registry == nil {
		panic("provisioner requires repo, admin, client and schema registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		repo:     repo,
		admin:    admin,
		client:   client,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
	}
}

// Provision creates the tenant's physical database, applies the base schema,
// seeds mandatory rows, verifies integrity and only then flips the Tenant
// Record's provisioned flag. Idempotent: an already-provisioned tenant
// returns success immediately, re-checked from the store rather than assumed
// from caller intent.
//
// When another attempt for the same tenant is in flight the call waits for
// it; if the caller's context expires first it receives
// ErrProvisioningInProgress while the flight runs to completion, so the job
// lock is always released and cleanup always executes.
func (p *Provisioner) Provision(ctx context.Context, tenantID uuid.UUID) (Result, error) {
	t, err := p.repo.Get(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	if t.Provisioned {
		p.metrics.ProvisionOutcome("already_provisioned")
		return Result{TenantID: t.ID, DBName: t.DBName, AlreadyProvisioned: true}, nil
	}

	ch := p.group.DoChan(tenantID.String(), func() (any, error) {
		// The flight owns its own deadline, detached from any single caller,
		// so one impatient caller cannot cancel work others are waiting on.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.OperationTimeout)
		defer cancel()
		return p.provision(flightCtx, t)
	})

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", service.ErrProvisioningInProgress, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		out := res.Val.(Result)
		out.Coalesced = res.Shared
		return out, nil
	}
}

func (p *Provisioner) provision(ctx context.Context, t service.Tenant) (Result, error) {
	// Re-check inside the flight: a previous flight may have finished between
	// the caller's flag check and this one starting.
	cur, err := p.repo.Get(ctx, t.ID)
	if err != nil {
		return Result{}, err
	}
	if cur.Provisioned {
		p.metrics.ProvisionOutcome("already_provisioned")
		return Result{TenantID: cur.ID, DBName: cur.DBName, AlreadyProvisioned: true}, nil
	}
	t = cur

	logger := p.logger.With(zap.String("tenant_id", t.ID.String()), zap.String("db_name", t.DBName))
	logger.Info("provisioning tenant database")

	if err := p.admin.CreateDatabase(ctx, t.DBName); err != nil {
		return Result{}, p.fail(ctx, logger, t, fmt.Errorf("create physical database: %w", err))
	}

	dsn := t.DSN()

	var ddl []string
	for _, table := range p.registry.Tables() {
		ddl = append(ddl, table.DDL)
	}
	if err := p.client.ApplyDDL(ctx, dsn, ddl); err != nil {
		return Result{}, p.fail(ctx, logger, t, fmt.Errorf("apply base schema: %w", err))
	}

	var seeds []string
	for _, seed := range p.registry.Seeds() {
		seeds = append(seeds, seed.SQL)
	}
	if err := p.client.ApplyDDL(ctx, dsn, seeds); err != nil {
		return Result{}, p.fail(ctx, logger, t, fmt.Errorf("seed mandatory rows: %w", err))
	}

	report := p.inspect(ctx, t)
	if !report.Healthy {
		verr := fmt.Errorf("%w: missing tables %v, errors %v",
			service.ErrVerificationFailed, report.MissingTables, report.Errors)
		return Result{}, p.fail(ctx, logger, t, verr)
	}

	// The flag flips only after verification: the central record must never
	// claim a database that does not exist or is broken. The two databases
	// share no transaction, so ordering is the invariant.
	if err := p.repo.SetProvisioned(ctx, t.ID, true, time.Now().UTC()); err != nil {
		// Physical provisioning succeeded; the database stays. Operators can
		// re-run repair to heal the flag, physical truth is authoritative.
		logger.Error("reconciliation alert: database provisioned but flag update failed",
			zap.Error(err))
		p.metrics.ProvisionOutcome("failed")
		return Result{}, fmt.Errorf("%w: provisioned but flag update failed: %w",
			service.ErrProvisioningFailed, err)
	}

	logger.Info("tenant database provisioned")
	p.metrics.ProvisionOutcome("success")
	return Result{TenantID: t.ID, DBName: t.DBName, Created: true}, nil
}

// fail runs cleanup (on a fresh deadline, the flight's may be gone) and wraps
// the cause as a terminal provisioning failure. Provisioning failures are
// never retried silently.
func (p *Provisioner) fail(ctx context.Context, logger *zap.Logger, t service.Tenant, cause error) error {
	logger.Error("provisioning failed, cleaning up", zap.Error(cause))
	p.metrics.ProvisionOutcome("failed")

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CleanupTimeout)
	defer cancel()
	if err := p.CleanupFailedProvisioning(cleanupCtx, t.ID); err != nil {
		logger.Error("cleanup after failed provisioning also failed", zap.Error(err))
	}

	if errors.Is(cause, service.ErrVerificationFailed) {
		return cause
	}
	return fmt.Errorf("%w: %w", service.ErrProvisioningFailed, cause)
}

// CleanupFailedProvisioning drops a partially created physical database and
// leaves the provisioned flag off so a retry starts clean. Safe to call when
// nothing was created. A tenant whose record says provisioned is refused with
// ErrAlreadyProvisioned: this operation exists to undo failed attempts, not
// to destroy live clinic databases on a mistyped id.
func (p *Provisioner) CleanupFailedProvisioning(ctx context.Context, tenantID uuid.UUID) error {
	dbName := tenant.BuildDBName(tenantID)
	if t, err := p.repo.Get(ctx, tenantID); err == nil {
		if t.Provisioned {
			return fmt.Errorf("%w: refusing to drop database %s", service.ErrAlreadyProvisioned, t.DBName)
		}
		// A complete database behind a false flag is a lost flag update, not
		// a failed attempt; repair heals the flag, cleanup must not drop it.
		if p.completeDatabase(ctx, t) {
			return fmt.Errorf("%w: database %s verifies healthy, run repair instead",
				service.ErrAlreadyProvisioned, t.DBName)
		}
		dbName = t.DBName
	}

	if err := p.admin.DropDatabase(ctx, dbName); err != nil {
		return fmt.Errorf("drop partial database: %w", err)
	}

	if err := p.repo.SetProvisioned(ctx, tenantID, false, time.Time{}); err != nil && !errors.Is(err, service.ErrNotFound) {
		return fmt.Errorf("reset provisioned flag: %w", err)
	}

	p.logger.Info("cleaned up failed provisioning",
		zap.String("tenant_id", tenantID.String()), zap.String("db_name", dbName))
	return nil
}

// inspect produces an integrity report for the tenant without retries; the
// Checker layers retry policy on top for administrative reads.
func (p *Provisioner) inspect(ctx context.Context, t service.Tenant) IntegrityReport {
	return buildReport(ctx, p.admin, p.client, p.registry, t)
}

// completeDatabase reports whether the tenant database has every expected
// table and every mandatory seed. A partial attempt always fails at least one
// of these, so anything complete is a finished provisioning by definition.
func (p *Provisioner) completeDatabase(ctx context.Context, t service.Tenant) bool {
	if !p.inspect(ctx, t).Healthy {
		return false
	}
	dsn := t.DSN()
	for _, seed := range p.registry.Seeds() {
		ok, err := p.client.SeedSatisfied(ctx, dsn, seed.ProbeSQL)
		if err != nil || !ok {
			return false
		}
	}
	return true
}
