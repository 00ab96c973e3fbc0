package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/events"
	"github.com/helpdesk-sla/ticket-sla/internal/repository"
)

// AuditService writes every SLA event of a ticket to its history.
type AuditService struct {
	history repository.TicketHistoryRepository
	logger  *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(history repository.TicketHistoryRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{history: history, logger: logger}
}

// RegisterHandlers subscribes to SLA events.
func (a *AuditService) RegisterHandlers(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventSLAPinned, a.handlePinned)
	dispatcher.Subscribe(events.EventSLAMet, a.handleTransition)
	dispatcher.Subscribe(events.EventSLABreached, a.handleTransition)
	dispatcher.Subscribe(events.EventSLAEscalated, a.handleEscalated)
	dispatcher.Subscribe(events.EventSLAWarning, a.handleWarning)
}

// History lists a ticket's SLA audit entries, oldest first.
func (a *AuditService) History(ctx context.Context, ticketID string, limit int) ([]domain.TicketHistory, error) {
	return a.history.ListByTicket(ctx, ticketID, limit)
}

func (a *AuditService) handlePinned(ctx context.Context, event events.Event) error {
	var p events.SLAPinnedPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	return a.record(ctx, event, domain.ChangeTypeSLAPinned, nil, map[string]any{
		"rule_id":           p.RuleID,
		"response_due_at":   p.ResponseDueAt,
		"resolution_due_at": p.ResolutionDueAt,
		"escalation_due_at": p.EscalationDueAt,
		"response_status":   p.ResponseStatus,
		"resolution_status": p.ResolutionStatus,
	})
}

func (a *AuditService) handleTransition(ctx context.Context, event events.Event) error {
	var p events.SLATransitionPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	return a.record(ctx, event, domain.ChangeTypeSLAStatus,
		map[string]any{"metric": p.Metric, "status": domain.SLAStatusActive},
		map[string]any{"metric": p.Metric, "status": p.Status, "at": p.At, "due_at": p.DueAt, "trigger": p.Trigger},
	)
}

func (a *AuditService) handleEscalated(ctx context.Context, event events.Event) error {
	var p events.SLAEscalatedPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	return a.record(ctx, event, domain.ChangeTypeSLAEscalation, nil, map[string]any{
		"escalation_due_at": p.EscalationDueAt,
		"escalated_at":      p.EscalatedAt,
	})
}

func (a *AuditService) handleWarning(ctx context.Context, event events.Event) error {
	var p events.SLAWarningPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	return a.record(ctx, event, domain.ChangeTypeSLAWarning, nil, map[string]any{
		"metric":            p.Metric,
		"due_at":            p.DueAt,
		"minutes_remaining": p.MinutesRemaining,
	})
}

func (a *AuditService) record(ctx context.Context, event events.Event, change domain.TicketChangeType, oldValue, newValue map[string]any) error {
	actorType := event.Actor.Type
	if actorType == "" {
		actorType = domain.AuthorTypeSystem
	}
	entry := &domain.TicketHistory{
		TicketID:      event.TicketID,
		ChangedByType: actorType,
		ChangedByID:   event.Actor.ID,
		ChangeType:    change,
		OldValue:      oldValue,
		NewValue:      newValue,
		CreatedAt:     event.Timestamp,
	}
	if err := a.history.Create(ctx, entry); err != nil {
		a.logger.Warn("sla history write failed",
			zap.String("ticket_id", event.TicketID),
			zap.String("change_type", string(change)),
			zap.Error(err),
		)
		return err
	}
	return nil
}
