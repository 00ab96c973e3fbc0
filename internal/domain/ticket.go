package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen        TicketStatus = "OPEN"
	TicketStatusInProgress  TicketStatus = "IN_PROGRESS"
	TicketStatusPendingUser TicketStatus = "PENDING_USER"
	TicketStatusResolved    TicketStatus = "RESOLVED"
	TicketStatusClosed      TicketStatus = "CLOSED"
	TicketStatusCancelled   TicketStatus = "CANCELLED"
)

// Satisfies reports whether entering this status resolves the ticket for SLA purposes.
func (s TicketStatus) Satisfies() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"

	// PriorityDefault marks a rule that applies to any priority.
	PriorityDefault TicketPriority = "DEFAULT"
)

// Ticket is the slice of a support ticket the SLA subsystem reads.
type Ticket struct {
	ID              string            `json:"id"`
	EntityID        string            `json:"entity_id"`
	Priority        TicketPriority    `json:"priority"`
	Status          TicketStatus      `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	FirstResponseAt *time.Time        `json:"first_response_at,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}
