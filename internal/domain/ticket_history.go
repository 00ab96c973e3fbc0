package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeSLAPinned     TicketChangeType = "SLA_PINNED"
	ChangeTypeSLAStatus     TicketChangeType = "SLA_STATUS_CHANGE"
	ChangeTypeSLAEscalation TicketChangeType = "SLA_ESCALATION"
	ChangeTypeSLAWarning    TicketChangeType = "SLA_WARNING"
)

// TicketHistory is an immutable audit trail entry for a ticket's SLA.
type TicketHistory struct {
	ID            string            `json:"id"`
	TicketID      string            `json:"ticket_id"`
	ChangedByType MessageAuthorType `json:"changed_by_type"`
	ChangedByID   *string           `json:"changed_by_id,omitempty"`
	ChangeType    TicketChangeType  `json:"change_type"`
	OldValue      map[string]any    `json:"old_value,omitempty"`
	NewValue      map[string]any    `json:"new_value,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
