package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	tenantshandler "github.com/clinicore/clinicore-backend/domains/tenants/be/handler"
	tenantsprov "github.com/clinicore/clinicore-backend/domains/tenants/be/provisioning"
	tenantsrepo "github.com/clinicore/clinicore-backend/domains/tenants/be/repo"
	tenantsservice "github.com/clinicore/clinicore-backend/domains/tenants/be/service"
	platformlogging "github.com/clinicore/clinicore-backend/platform/go/logging"
	"github.com/clinicore/clinicore-backend/platform/go/persistence"
	tenantmiddleware "github.com/clinicore/clinicore-backend/platform/go/tenant/middleware"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	// CentralDatabaseURL points to the shared central database holding tenant
	// records.
	CentralDatabaseURL string `env:"CENTRAL_DATABASE_URL,required"`
	// AdminDatabaseURL points to the maintenance database on the clinic host,
	// used only for CREATE/DROP DATABASE and catalog lookups.
	AdminDatabaseURL string `env:"ADMIN_DATABASE_URL,required"`

	// Per-tenant pools stay small: the aggregate across all clinics must fit
	// the host connection budget.
	TenantPoolMaxConns  int32         `env:"TENANT_POOL_MAX_CONNS" envDefault:"4"`
	TenantIdleEviction  time.Duration `env:"TENANT_IDLE_EVICTION" envDefault:"30m"`
	TenantSweepInterval time.Duration `env:"TENANT_SWEEP_INTERVAL" envDefault:"5m"`

	TenantHeader     string        `env:"TENANT_HEADER" envDefault:"X-Tenant-ID"`
	ResolverCacheTTL time.Duration `env:"RESOLVER_CACHE_TTL" envDefault:"1m"`

	ProvisionTimeout time.Duration `env:"PROVISION_TIMEOUT" envDefault:"2m"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	schemaRegistry := persistence.NewSchemaRegistry()
	modelCache := persistence.NewModelCache(schemaRegistry)

	var registry *persistence.Registry
	metrics := persistence.NewRegistryMetrics(prometheus.DefaultRegisterer, func() int {
		if registry == nil {
			return 0
		}
		return registry.OpenTenantPools()
	})

	registry, err = persistence.NewRegistry(ctx, persistence.RegistryConfig{
		CentralConnString: cfg.CentralDatabaseURL,
		TenantPool:        persistence.PoolConfig{MaxConns: cfg.TenantPoolMaxConns},
		IdleEviction:      cfg.TenantIdleEviction,
		SweepInterval:     cfg.TenantSweepInterval,
		OnEvict:           modelCache.InvalidatePool,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		logger.Fatal("init connection registry", zap.Error(err))
	}
	defer registry.Close()

	if err := persistence.BootstrapCentralSchema(ctx, registry.Central()); err != nil {
		logger.Fatal("bootstrap central schema", zap.Error(err))
	}

	adminPool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString: cfg.AdminDatabaseURL,
		MaxConns:   2,
	})
	if err != nil {
		logger.Fatal("init admin pool", zap.Error(err))
	}
	defer persistence.ClosePool(adminPool)

	tenantStore, err := persistence.NewTenantStore(registry.Central())
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}

	tenantRepo := tenantsrepo.NewPostgresRepository(tenantStore)
	tenantService := tenantsservice.New(tenantRepo, registry)

	admin := tenantsprov.NewPGAdmin(adminPool)
	client := tenantsprov.NewPGTenantClient()
	provisioner := tenantsprov.NewProvisioner(tenantRepo, admin, client, schemaRegistry, logger, metrics, tenantsprov.Config{
		OperationTimeout: cfg.ProvisionTimeout,
	})
	checker := tenantsprov.NewChecker(tenantRepo, admin, client, schemaRegistry, provisioner, logger)

	tenantHTTPHandler := tenantshandler.New(tenantService, provisioner, checker, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := registry.Central().Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", promhttp.Handler())

	// Operator surface: tenant lifecycle, provisioning, integrity.
	rootRouter.Mount("/api/v1/admin", tenantHTTPHandler.Routes())

	// Clinic surface: every request runs against the caller's own database,
	// resolved and attached by the tenant middleware.
	clinicRouter := chi.NewRouter()
	clinicRouter.Use(tenantmiddleware.WithTenantSpace(tenantService, tenantmiddleware.Config{
		TenantID: tenantmiddleware.HeaderTenantID(cfg.TenantHeader),
		CacheTTL: cfg.ResolverCacheTTL,
	}))
	clinicRouter.Mount("/", newClinicRoutes(modelCache, logger))
	rootRouter.Mount("/api/v1/clinic", clinicRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
