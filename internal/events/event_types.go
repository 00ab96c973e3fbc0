package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

// Ticket lifecycle events consumed by the SLA hooks.
const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketMessageAdded    EventType = "ticket_message_added"
)

// SLA events emitted for the notification sink.
const (
	EventSLAPinned        EventType = "sla.pinned"
	EventSLAMet           EventType = "sla.met"
	EventSLABreached      EventType = "sla.breached"
	EventSLAWarning       EventType = "sla.warning"
	EventSLAEscalated     EventType = "sla.escalated"
	EventSLATickCompleted EventType = "sla.tick_completed"
)

// SLAEventTypes lists every event the tracker publishes.
var SLAEventTypes = []EventType{
	EventSLAPinned,
	EventSLAMet,
	EventSLABreached,
	EventSLAWarning,
	EventSLAEscalated,
	EventSLATickCompleted,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.MessageAuthorType `json:"type"`
	ID   *string                  `json:"id,omitempty"`
}

// SystemActor is the actor of events raised by the tracker itself.
var SystemActor = Actor{Type: domain.AuthorTypeSystem}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DecodePayload fills dst from the event payload, whether it is a typed value
// published in-process or raw JSON read off the wire.
func DecodePayload(event Event, dst any) error {
	var raw []byte
	switch p := event.Payload.(type) {
	case nil:
		return fmt.Errorf("event %s has no payload", event.Type)
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event.Type, err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return nil
}

// TicketCreatedPayload carries the ticket as it was created.
type TicketCreatedPayload struct {
	EntityID   string                `json:"entity_id"`
	Priority   domain.TicketPriority `json:"priority"`
	Status     domain.TicketStatus   `json:"status"`
	CreatedAt  time.Time             `json:"created_at"`
	Attributes map[string]string     `json:"attributes,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	ChangedAt time.Time           `json:"changed_at"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string                   `json:"message_id"`
	MessageType domain.TicketMessageType `json:"message_type"`
	AuthorType  domain.MessageAuthorType `json:"author_type"`
	CreatedAt   time.Time                `json:"created_at"`
}

// SLAPinnedPayload reports the deadlines pinned to a ticket.
type SLAPinnedPayload struct {
	EntityID         string           `json:"entity_id"`
	RuleID           *int64           `json:"rule_id,omitempty"`
	ResponseDueAt    *time.Time       `json:"response_due_at,omitempty"`
	ResolutionDueAt  *time.Time       `json:"resolution_due_at,omitempty"`
	EscalationDueAt  *time.Time       `json:"escalation_due_at,omitempty"`
	ResponseStatus   domain.SLAStatus `json:"response_status"`
	ResolutionStatus domain.SLAStatus `json:"resolution_status"`
}

// SLATransitionPayload reports a metric reaching met or breached.
type SLATransitionPayload struct {
	EntityID string           `json:"entity_id"`
	Metric   domain.Metric    `json:"metric"`
	Status   domain.SLAStatus `json:"status"`
	DueAt    *time.Time       `json:"due_at,omitempty"`
	At       time.Time        `json:"at"`
	Trigger  string           `json:"trigger"`
}

// SLAWarningPayload is one approaching-breach entry.
type SLAWarningPayload struct {
	EntityID         string        `json:"entity_id"`
	Metric           domain.Metric `json:"metric"`
	DueAt            time.Time     `json:"due_at"`
	MinutesRemaining int64         `json:"minutes_remaining"`
}

// SLAEscalatedPayload reports a passed escalation deadline.
type SLAEscalatedPayload struct {
	EntityID        string    `json:"entity_id"`
	EscalationDueAt time.Time `json:"escalation_due_at"`
	EscalatedAt     time.Time `json:"escalated_at"`
}

// TickSummary is the payload of a completed tick.
type TickSummary struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Pinned     int           `json:"pinned"`
	Breached   int           `json:"breached"`
	Escalated  int           `json:"escalated"`
	Warned     int           `json:"warned"`
	Skipped    int           `json:"skipped"`
	Processed  int           `json:"processed"`
	Incomplete bool          `json:"incomplete"`
}
