package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/events"
	"github.com/helpdesk-sla/ticket-sla/internal/repository"
)

// SLATracker is the part of the SLA service driven by ticket lifecycle events.
type SLATracker interface {
	PinTicket(ctx context.Context, ticket domain.Ticket) (*domain.TicketSLAState, error)
	RecordFirstResponse(ctx context.Context, ticketID string, at time.Time) (repository.CompletionResult, error)
	RecordResolution(ctx context.Context, ticketID string, at time.Time) (repository.CompletionResult, error)
}

// TicketMirror keeps a local copy of tickets for stores without a tickets table.
type TicketMirror interface {
	PutTicket(t domain.Ticket)
}

// SLAHooks translates ticket lifecycle events into SLA operations.
type SLAHooks struct {
	tracker SLATracker
	mirror  TicketMirror
	logger  *zap.Logger
}

// HookOption configures SLAHooks.
type HookOption func(*SLAHooks)

// WithTicketMirror records every created ticket in m before it is pinned.
func WithTicketMirror(m TicketMirror) HookOption {
	return func(h *SLAHooks) { h.mirror = m }
}

// NewSLAHooks creates the hooks.
func NewSLAHooks(tracker SLATracker, logger *zap.Logger, opts ...HookOption) *SLAHooks {
	h := &SLAHooks{tracker: tracker, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register subscribes the hooks to ticket events.
func (h *SLAHooks) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventTicketCreated, h.handleCreated)
	dispatcher.Subscribe(events.EventTicketMessageAdded, h.handleMessageAdded)
	dispatcher.Subscribe(events.EventTicketStatusChanged, h.handleStatusChanged)
	dispatcher.Subscribe(events.EventTicketPriorityChanged, h.handlePriorityChanged)
}

func (h *SLAHooks) handleCreated(ctx context.Context, event events.Event) error {
	var p events.TicketCreatedPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	ticket := domain.Ticket{
		ID:         event.TicketID,
		EntityID:   p.EntityID,
		Priority:   p.Priority,
		Status:     p.Status,
		CreatedAt:  orEventTime(p.CreatedAt, event),
		Attributes: p.Attributes,
	}
	if h.mirror != nil {
		h.mirror.PutTicket(ticket)
	}
	_, err := h.tracker.PinTicket(ctx, ticket)
	return err
}

func (h *SLAHooks) handleMessageAdded(ctx context.Context, event events.Event) error {
	var p events.TicketMessageAddedPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	if !domain.CountsAsFirstResponse(p.AuthorType, p.MessageType) {
		return nil
	}
	_, err := h.tracker.RecordFirstResponse(ctx, event.TicketID, orEventTime(p.CreatedAt, event))
	return err
}

func (h *SLAHooks) handleStatusChanged(ctx context.Context, event events.Event) error {
	var p events.TicketStatusChangedPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	if !p.NewStatus.Satisfies() {
		return nil
	}
	_, err := h.tracker.RecordResolution(ctx, event.TicketID, orEventTime(p.ChangedAt, event))
	return err
}

// Pinned deadlines stay authoritative; an explicit re-pin is the only way to move them.
func (h *SLAHooks) handlePriorityChanged(_ context.Context, event events.Event) error {
	var p events.TicketPriorityChangedPayload
	if err := events.DecodePayload(event, &p); err != nil {
		return err
	}
	h.logger.Info("ticket priority changed, sla deadlines unchanged",
		zap.String("ticket_id", event.TicketID),
		zap.String("old_priority", string(p.OldPriority)),
		zap.String("new_priority", string(p.NewPriority)),
	)
	return nil
}

func orEventTime(t time.Time, event events.Event) time.Time {
	if t.IsZero() {
		return event.Timestamp
	}
	return t
}
