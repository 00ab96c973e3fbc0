package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-sla/ticket-sla/internal/api/dto"
	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/service"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

const defaultCompliancePeriod = 30 * 24 * time.Hour

// SLAReader is the read side of the SLA service.
type SLAReader interface {
	Status(ctx context.Context, ticketID string) (*domain.TicketSLAState, error)
	TimingMetrics(ctx context.Context, ticketID string) (*service.TimingReport, error)
	ComplianceRate(ctx context.Context, entityID string, from, to time.Time) (*service.ComplianceReport, error)
	TicketsNearingBreach(ctx context.Context, window time.Duration) ([]service.NearingBreachEntry, error)
}

// HistoryReader lists a ticket's SLA audit trail.
type HistoryReader interface {
	History(ctx context.Context, ticketID string, limit int) ([]domain.TicketHistory, error)
}

// SLAHandler serves SLA reports.
type SLAHandler struct {
	sla     SLAReader
	history HistoryReader
	now     func() time.Time
}

// NewSLAHandler constructs handler. history may be nil.
func NewSLAHandler(reader SLAReader, history HistoryReader, now func() time.Time) *SLAHandler {
	if now == nil {
		now = time.Now
	}
	return &SLAHandler{sla: reader, history: history, now: now}
}

// GetTicketSLA GET /sla/tickets/:id.
func (h *SLAHandler) GetTicketSLA(c *fiber.Ctx) error {
	st, err := h.sla.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketSLAResponse(st)})
}

// GetTicketMetrics GET /sla/tickets/:id/metrics.
func (h *SLAHandler) GetTicketMetrics(c *fiber.Ctx) error {
	report, err := h.sla.TimingMetrics(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// GetTicketHistory GET /sla/tickets/:id/history?limit=.
func (h *SLAHandler) GetTicketHistory(c *fiber.Ctx) error {
	if h.history == nil {
		return apperrors.NewNotFound("ticket history", nil)
	}
	limit := c.QueryInt("limit", 100)
	if limit < 0 {
		return apperrors.NewValidationError("limit must not be negative", map[string]any{"limit": limit})
	}
	entries, err := h.history.History(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

// GetCompliance GET /sla/compliance?entity_id=&from=&to=.
func (h *SLAHandler) GetCompliance(c *fiber.Ctx) error {
	q, err := h.parseComplianceQuery(c)
	if err != nil {
		return err
	}
	report, err := h.sla.ComplianceRate(c.UserContext(), q.EntityID, q.From, q.To)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// GetNearingBreach GET /sla/nearing-breach?window=1h.
func (h *SLAHandler) GetNearingBreach(c *fiber.Ctx) error {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return apperrors.NewValidationError("window must be a positive duration", map[string]any{"window": raw})
		}
		window = d
	}
	entries, err := h.sla.TicketsNearingBreach(c.UserContext(), window)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

func (h *SLAHandler) parseComplianceQuery(c *fiber.Ctx) (dto.ComplianceQuery, error) {
	q := dto.ComplianceQuery{EntityID: strings.TrimSpace(c.Query("entity_id"))}
	to, err := parseTimeParam(c.Query("to"), true)
	if err != nil {
		return q, apperrors.NewValidationError("invalid to", map[string]any{"to": c.Query("to")})
	}
	from, err := parseTimeParam(c.Query("from"), false)
	if err != nil {
		return q, apperrors.NewValidationError("invalid from", map[string]any{"from": c.Query("from")})
	}
	if to.IsZero() {
		to = h.now()
	}
	if from.IsZero() {
		from = to.Add(-defaultCompliancePeriod)
	}
	q.From, q.To = from, to
	return q, nil
}

// parseTimeParam accepts RFC 3339 timestamps or YYYY-MM-DD dates (UTC midnight).
// The period end is exclusive, so a date-only end moves to the following midnight
// and the named day is reported in full.
func parseTimeParam(v string, end bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	day, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}
