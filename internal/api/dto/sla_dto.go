package dto

import (
	"time"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
)

// MetricState is one SLA clock of a ticket.
type MetricState struct {
	Status      domain.SLAStatus `json:"status"`
	DueAt       *time.Time       `json:"due_at"`
	SatisfiedAt *time.Time       `json:"satisfied_at"`
	Breached    bool             `json:"breached"`
	WarningSent bool             `json:"warning_sent"`
}

// TicketSLAResponse is the pinned SLA of a ticket.
type TicketSLAResponse struct {
	TicketID        string      `json:"ticket_id"`
	EntityID        string      `json:"entity_id"`
	RuleID          *int64      `json:"rule_id"`
	CreatedAt       time.Time   `json:"created_at"`
	PinnedAt        time.Time   `json:"pinned_at"`
	Response        MetricState `json:"response"`
	Resolution      MetricState `json:"resolution"`
	EscalationDueAt *time.Time  `json:"escalation_due_at"`
	EscalatedAt     *time.Time  `json:"escalated_at"`
}

// NewTicketSLAResponse maps pinned state to its response.
func NewTicketSLAResponse(st *domain.TicketSLAState) TicketSLAResponse {
	metric := func(m domain.Metric) MetricState {
		return MetricState{
			Status:      st.Status(m),
			DueAt:       st.DueAt(m),
			SatisfiedAt: st.SatisfiedAt(m),
			Breached:    st.Status(m) == domain.SLAStatusBreached,
			WarningSent: st.WarningSent(m),
		}
	}
	return TicketSLAResponse{
		TicketID:        st.TicketID,
		EntityID:        st.EntityID,
		RuleID:          st.PinnedRuleID,
		CreatedAt:       st.CreatedAt,
		PinnedAt:        st.PinnedAt,
		Response:        metric(domain.MetricResponse),
		Resolution:      metric(domain.MetricResolution),
		EscalationDueAt: st.EscalationDueAt,
		EscalatedAt:     st.EscalatedAt,
	}
}

// ComplianceQuery captures the compliance report filters.
type ComplianceQuery struct {
	EntityID string
	From     time.Time
	To       time.Time
}
