package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/events"
)

// NotificationService logs the SLA events meant for people: warnings, breaches and
// escalations. Delivery to external channels goes through the Kafka sink.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventSLAWarning, n.handleWarning)
	n.dispatcher.Subscribe(events.EventSLABreached, n.handleBreached)
	n.dispatcher.Subscribe(events.EventSLAEscalated, n.handleEscalated)
}

func (n *NotificationService) handleWarning(_ context.Context, event events.Event) error {
	var p events.SLAWarningPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	n.logger.Warn("SLA approaching breach",
		zap.String("ticket_id", event.TicketID),
		zap.String("entity_id", p.EntityID),
		zap.String("metric", string(p.Metric)),
		zap.Time("due_at", p.DueAt),
		zap.Int64("minutes_remaining", p.MinutesRemaining),
	)
	return nil
}

func (n *NotificationService) handleBreached(_ context.Context, event events.Event) error {
	var p events.SLATransitionPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("ticket_id", event.TicketID),
		zap.String("entity_id", p.EntityID),
		zap.String("metric", string(p.Metric)),
		zap.String("trigger", p.Trigger),
	}
	if p.DueAt != nil {
		fields = append(fields, zap.Time("due_at", *p.DueAt))
	}
	n.logger.Error("SLA breached", fields...)
	return nil
}

func (n *NotificationService) handleEscalated(_ context.Context, event events.Event) error {
	var p events.SLAEscalatedPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	n.logger.Warn("SLA escalation due",
		zap.String("ticket_id", event.TicketID),
		zap.String("entity_id", p.EntityID),
		zap.Time("escalation_due_at", p.EscalationDueAt),
	)
	return nil
}
