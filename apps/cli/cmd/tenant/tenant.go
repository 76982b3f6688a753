package tenantcmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinicore/clinicore-backend/domains/tenants/be/provisioning"
	"github.com/clinicore/clinicore-backend/domains/tenants/be/repo"
	"github.com/clinicore/clinicore-backend/domains/tenants/be/service"
	platformlogging "github.com/clinicore/clinicore-backend/platform/go/logging"
	"github.com/clinicore/clinicore-backend/platform/go/persistence"
)

var (
	centralDatabaseURL string
	adminDatabaseURL   string
	logLevel           string
)

// Command groups tenant lifecycle helpers: registration, provisioning,
// integrity checks and repair.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant utilities (create/provision/check/repair)",
	}

	cmd.PersistentFlags().StringVar(&centralDatabaseURL, "central-database-url", "", "PostgreSQL connection string for the central database")
	cmd.PersistentFlags().StringVar(&adminDatabaseURL, "admin-database-url", "", "PostgreSQL connection string for the maintenance database on the clinic host")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		createCommand(),
		listCommand(),
		provisionCommand(),
		checkCommand(),
		repairCommand(),
		cleanupCommand(),
		diagnoseCommand(),
	)
	return cmd
}

// toolbox bundles the wired dependencies every subcommand needs.
type toolbox struct {
	registry    *persistence.Registry
	svc         *service.Service
	provisioner *provisioning.Provisioner
	checker     *provisioning.Checker
	logger      *zap.Logger
	adminPool   *pgxpool.Pool
}

func newToolbox(ctx context.Context) (*toolbox, error) {
	if centralDatabaseURL == "" {
		return nil, fmt.Errorf("--central-database-url is required")
	}
	if adminDatabaseURL == "" {
		return nil, fmt.Errorf("--admin-database-url is required")
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{Component: "cli", Level: logLevel})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	schemaRegistry := persistence.NewSchemaRegistry()

	registry, err := persistence.NewRegistry(ctx, persistence.RegistryConfig{
		CentralConnString: centralDatabaseURL,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init connection registry: %w", err)
	}

	if err := persistence.BootstrapCentralSchema(ctx, registry.Central()); err != nil {
		registry.Close()
		return nil, fmt.Errorf("bootstrap central schema: %w", err)
	}

	adminPool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: adminDatabaseURL, MaxConns: 2})
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("init admin pool: %w", err)
	}

	tenantStore, err := persistence.NewTenantStore(registry.Central())
	if err != nil {
		registry.Close()
		adminPool.Close()
		return nil, fmt.Errorf("init tenant store: %w", err)
	}

	tenantRepo := repo.NewPostgresRepository(tenantStore)
	svc := service.New(tenantRepo, registry)

	admin := provisioning.NewPGAdmin(adminPool)
	client := provisioning.NewPGTenantClient()
	provisioner := provisioning.NewProvisioner(tenantRepo, admin, client, schemaRegistry, logger, nil, provisioning.Config{})
	checker := provisioning.NewChecker(tenantRepo, admin, client, schemaRegistry, provisioner, logger)

	return &toolbox{
		registry:    registry,
		svc:         svc,
		provisioner: provisioner,
		checker:     checker,
		logger:      logger,
		adminPool:   adminPool,
	}, nil
}

func (tb *toolbox) close() {
	tb.registry.Close()
	tb.adminPool.Close()
	_ = tb.logger.Sync()
}

func createCommand() *cobra.Command {
	var (
		name       string
		country    string
		dbHost     string
		dbPort     int
		dbUser     string
		dbPassword string
		provision  bool
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant account (physical database creation is deferred unless --provision is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			tb, err := newToolbox(ctx)
			if err != nil {
				return err
			}
			defer tb.close()

			t, err := tb.svc.Create(ctx, service.CreateInput{
				Name:       name,
				Country:    country,
				DBHost:     dbHost,
				DBPort:     dbPort,
				DBUser:     dbUser,
				DBPassword: dbPassword,
			})
			if err != nil {
				return fmt.Errorf("create tenant: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Tenant registered: %s (%s), database %s\n", t.Name, t.ID, t.DBName)

			if provision {
				result, err := tb.provisioner.Provision(ctx, t.ID)
				if err != nil {
					return fmt.Errorf("provision tenant: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Provisioned database %s\n", result.DBName)
			}
			return nil
		},
	}

	c.Flags().StringVar(&name, "name", "", "Clinic display name")
	c.Flags().StringVar(&country, "country", "", "Country code (default en)")
	c.Flags().StringVar(&dbHost, "db-host", "", "Host of the clinic database server")
	c.Flags().IntVar(&dbPort, "db-port", 5432, "Port of the clinic database server")
	c.Flags().StringVar(&dbUser, "db-user", "", "Database user for the clinic database")
	c.Flags().StringVar(&dbPassword, "db-password", "", "Database password reference for the clinic database")
	c.Flags().BoolVar(&provision, "provision", false, "Provision the physical database immediately instead of deferring")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("db-host")
	_ = c.MarkFlagRequired("db-user")

	return c
}

func listCommand() *cobra.Command {
	var includeDeleted bool

	c := &cobra.Command{
		Use:   "list",
		Short: "List tenant accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			tb, err := newToolbox(ctx)
			if err != nil {
				return err
			}
			defer tb.close()

			tenants, err := tb.svc.List(ctx, includeDeleted)
			if err != nil {
				return fmt.Errorf("list tenants: %w", err)
			}

			for _, t := range tenants {
				state := "pending"
				if t.Provisioned {
					state = "provisioned"
				}
				if !t.IsActive {
					state = "inactive"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s  %s  %s\n", t.ID, t.Name, t.DBName, state)
			}
			return nil
		},
	}

	c.Flags().BoolVar(&includeDeleted, "include-deleted", false, "Include soft-deleted tenants")
	return c
}

func provisionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "provision <tenant-id>",
		Short: "Provision the tenant's physical database (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd, args[0], func(ctx context.Context, tb *toolbox, id uuid.UUID) (any, error) {
				return tb.provisioner.Provision(ctx, id)
			})
		},
	}
}

func checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <tenant-id>",
		Short: "Check structural integrity of the tenant's database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd, args[0], func(ctx context.Context, tb *toolbox, id uuid.UUID) (any, error) {
				return tb.checker.CheckIntegrity(ctx, id)
			})
		},
	}
}

func repairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair <tenant-id>",
		Short: "Repair missing tables and seeds; full provision when the database is absent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd, args[0], func(ctx context.Context, tb *toolbox, id uuid.UUID) (any, error) {
				return tb.checker.Repair(ctx, id)
			})
		},
	}
}

func cleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <tenant-id>",
		Short: "Drop a partially provisioned database and reset the provisioned flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd, args[0], func(ctx context.Context, tb *toolbox, id uuid.UUID) (any, error) {
				if err := tb.provisioner.CleanupFailedProvisioning(ctx, id); err != nil {
					return nil, err
				}
				return map[string]string{"status": "cleaned"}, nil
			})
		},
	}
}

func diagnoseCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "diagnose",
		Aliases: []string{"diag"},
		Short:   "Cross-check tenant records against physical clinic databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			tb, err := newToolbox(ctx)
			if err != nil {
				return err
			}
			defer tb.close()

			report, err := tb.checker.Diagnose(ctx)
			if err != nil {
				return fmt.Errorf("diagnose: %w", err)
			}
			return printJSON(cmd, report)
		},
	}
}

func withTenant(cmd *cobra.Command, rawID string, fn func(ctx context.Context, tb *toolbox, id uuid.UUID) (any, error)) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("tenant id must be a UUID: %w", err)
	}

	ctx := context.Background()
	tb, err := newToolbox(ctx)
	if err != nil {
		return err
	}
	defer tb.close()

	out, err := fn(ctx, tb, id)
	if err != nil {
		return err
	}
	return printJSON(cmd, out)
}

func printJSON(cmd *cobra.Command, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
