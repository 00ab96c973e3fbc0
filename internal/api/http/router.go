package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/helpdesk-sla/ticket-sla/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	SLA     *handlers.SLAHandler
	Metrics http.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	slaGroup := app.Group("/sla")
	slaGroup.Get("/tickets/:id", cfg.SLA.GetTicketSLA)
	slaGroup.Get("/tickets/:id/metrics", cfg.SLA.GetTicketMetrics)
	slaGroup.Get("/tickets/:id/history", cfg.SLA.GetTicketHistory)
	slaGroup.Get("/compliance", cfg.SLA.GetCompliance)
	slaGroup.Get("/nearing-breach", cfg.SLA.GetNearingBreach)
}
