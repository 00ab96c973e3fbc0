// Package app assembles the SLA tracker from configuration for the server and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/api/http/handlers"
	"github.com/helpdesk-sla/ticket-sla/internal/catalog"
	"github.com/helpdesk-sla/ticket-sla/internal/config"
	"github.com/helpdesk-sla/ticket-sla/internal/events"
	"github.com/helpdesk-sla/ticket-sla/internal/observability"
	"github.com/helpdesk-sla/ticket-sla/internal/persistence"
	"github.com/helpdesk-sla/ticket-sla/internal/repository"
	"github.com/helpdesk-sla/ticket-sla/internal/repository/memory"
	"github.com/helpdesk-sla/ticket-sla/internal/service"
)

// Runtime holds the wired stores and services.
type Runtime struct {
	Config     *config.Config
	Logger     *zap.Logger
	Registry   *prometheus.Registry
	Metrics    *observability.Metrics
	Dispatcher events.Dispatcher
	SLA        *service.SLAService
	Audit      *service.AuditService

	Postgres *persistence.Postgres
	Redis    *persistence.Redis
	// Catalog is set when rules come from a YAML file.
	Catalog *catalog.Catalog
	// Memory is set when no database is configured.
	Memory *memory.Store
	// Rules and Calendars are set when rules live in Postgres.
	Rules     repository.SLARuleRepository
	Calendars repository.BusinessHoursRepository
}

// Build connects the configured stores and constructs the SLA service. Without a
// Postgres DSN everything runs in memory from the catalog file.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{
		Config:     cfg,
		Logger:     logger,
		Registry:   prometheus.NewRegistry(),
		Dispatcher: events.NewInMemoryDispatcher(),
	}
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Metrics = observability.NewMetrics(rt.Registry)

	loc, err := cfg.SLA.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	if cfg.SLA.CatalogFile != "" {
		rt.Catalog, err = catalog.Load(cfg.SLA.CatalogFile)
		if err != nil {
			return nil, err
		}
	}

	deps := service.SLADependencies{
		Dispatcher:      rt.Dispatcher,
		Metrics:         rt.Metrics,
		Logger:          logger.Named("sla"),
		Config:          cfg.SLA,
		DefaultLocation: loc,
	}

	rt.Postgres, err = persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if pool := rt.Postgres.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				rt.Close()
				return nil, err
			}
		}
		rt.Rules = repository.NewSLARuleRepository(pool)
		rt.Calendars = repository.NewBusinessHoursRepository(pool)
		deps.Tickets = repository.NewTicketRepository(pool)
		deps.States = repository.NewTicketSLARepository(pool)
		deps.Rules = rt.Rules
		deps.Calendars = rt.Calendars
		rt.Audit = service.NewAuditService(repository.NewTicketHistoryRepository(pool), logger.Named("audit"))
	} else {
		if rt.Catalog == nil {
			rt.Close()
			return nil, fmt.Errorf("SLA_CATALOG_FILE is required when POSTGRES_DSN is empty")
		}
		rt.Memory = memory.NewStore()
		deps.Tickets = rt.Memory
		deps.States = rt.Memory
		deps.Rules = rt.Catalog
		deps.Calendars = rt.Catalog
		rt.Audit = service.NewAuditService(memory.NewHistoryStore(nil), logger.Named("audit"))
		logger.Warn("running with in-memory SLA state")
	}

	if cfg.Redis.Addr != "" {
		rt.Redis = persistence.NewRedis(ctx, cfg.Redis, logger)
		deps.Lease = rt.Redis.TickLease(cfg.SLA.LeaseName, cfg.SLA.LeaseTTL)
	} else {
		deps.Lease = persistence.NewLocalLease(persistence.WithLeaseTTL(cfg.SLA.LeaseTTL))
	}

	rt.SLA = service.NewSLAService(deps)
	rt.Audit.RegisterHandlers(rt.Dispatcher)
	return rt, nil
}

// ImportCatalog writes the loaded catalog into Postgres. It is a no-op in memory mode.
func (rt *Runtime) ImportCatalog(ctx context.Context) (catalog.ImportResult, error) {
	if rt.Catalog == nil || rt.Rules == nil {
		return catalog.ImportResult{}, nil
	}
	res, err := rt.Catalog.ImportInto(ctx, rt.Rules, rt.Calendars)
	if err != nil {
		return res, err
	}
	rt.Logger.Info("catalog imported", zap.Int("calendars", res.Calendars), zap.Int("rules", res.Rules))
	return res, nil
}

// HealthChecks lists the configured backing stores for the readiness check.
func (rt *Runtime) HealthChecks() map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{}
	if rt.Postgres != nil && rt.Postgres.PoolHandle() != nil {
		checks["postgres"] = rt.Postgres
	}
	if rt.Redis != nil {
		checks["redis"] = rt.Redis
	}
	return checks
}

// Close releases store connections.
func (rt *Runtime) Close() {
	rt.Redis.Close()
	rt.Postgres.Close()
}
