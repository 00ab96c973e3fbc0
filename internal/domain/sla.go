package domain

import (
	"errors"
	"fmt"
	"time"
)

// SLAStatus is the per-metric state of a ticket's SLA.
type SLAStatus string

const (
	SLAStatusNoSLA    SLAStatus = "no_sla"
	SLAStatusActive   SLAStatus = "active"
	SLAStatusMet      SLAStatus = "met"
	SLAStatusBreached SLAStatus = "breached"
)

// Terminal reports whether no further transition is possible.
func (s SLAStatus) Terminal() bool {
	return s != SLAStatusActive
}

// CanTransition reports whether a metric may move from one status to another.
// Only active metrics move, and only to met or breached.
func CanTransition(from, to SLAStatus) bool {
	return from == SLAStatusActive && (to == SLAStatusMet || to == SLAStatusBreached)
}

// Metric identifies one of the two tracked SLA clocks.
type Metric string

const (
	MetricResponse   Metric = "response"
	MetricResolution Metric = "resolution"
)

// Metrics lists the tracked metrics in processing order.
var Metrics = []Metric{MetricResponse, MetricResolution}

// RuleCondition restricts a rule to tickets whose attribute matches.
type RuleCondition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator string   `json:"operator" yaml:"operator"`
	Value    []string `json:"value" yaml:"value"`
}

// Condition operators.
const (
	OperatorEquals    = "="
	OperatorNotEquals = "!="
	OperatorIn        = "in"
	OperatorNotIn     = "not_in"
	OperatorContains  = "contains"
)

// SLARule is a policy of maximum hours for one priority, scoped to an entity or global.
type SLARule struct {
	ID                int64           `json:"id" yaml:"id"`
	EntityID          *string         `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	Name              string          `json:"name" yaml:"name"`
	Priority          TicketPriority  `json:"priority" yaml:"priority"`
	ResponseHours     *int            `json:"response_hours,omitempty" yaml:"response_hours,omitempty"`
	ResolutionHours   *int            `json:"resolution_hours,omitempty" yaml:"resolution_hours,omitempty"`
	EscalationHours   *int            `json:"escalation_hours,omitempty" yaml:"escalation_hours,omitempty"`
	BusinessHoursOnly bool            `json:"business_hours_only" yaml:"business_hours_only"`
	Active            bool            `json:"active" yaml:"active"`
	Precedence        int             `json:"precedence" yaml:"precedence"`
	Conditions        []RuleCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// IsGlobal reports whether the rule applies to every entity.
func (r SLARule) IsGlobal() bool {
	return r.EntityID == nil
}

// IsDefaultPriority reports whether the rule applies to any priority.
func (r SLARule) IsDefaultPriority() bool {
	return r.Priority == PriorityDefault || r.Priority == ""
}

// Validate checks the rule for values no calculation can use.
func (r SLARule) Validate() error {
	if r.EntityID != nil && *r.EntityID == "" {
		return errors.New("entity_id must be omitted or non-empty")
	}
	for name, hours := range map[string]*int{
		"response_hours":   r.ResponseHours,
		"resolution_hours": r.ResolutionHours,
		"escalation_hours": r.EscalationHours,
	} {
		if hours != nil && *hours < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	for _, c := range r.Conditions {
		switch c.Operator {
		case OperatorEquals, OperatorNotEquals, OperatorIn, OperatorNotIn, OperatorContains:
		default:
			return fmt.Errorf("unsupported condition operator %q", c.Operator)
		}
		if c.Field == "" {
			return errors.New("condition field is required")
		}
	}
	return nil
}

// TicketSLAState is the SLA record pinned to a ticket at creation.
type TicketSLAState struct {
	TicketID              string     `json:"ticket_id"`
	EntityID              string     `json:"entity_id"`
	PinnedRuleID          *int64     `json:"pinned_rule_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	ResponseDueAt         *time.Time `json:"response_due_at,omitempty"`
	ResolutionDueAt       *time.Time `json:"resolution_due_at,omitempty"`
	EscalationDueAt       *time.Time `json:"escalation_due_at,omitempty"`
	FirstResponseAt       *time.Time `json:"first_response_at,omitempty"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
	ResponseStatus        SLAStatus  `json:"response_status"`
	ResolutionStatus      SLAStatus  `json:"resolution_status"`
	WarningSentResponse   bool       `json:"warning_sent_response"`
	WarningSentResolution bool       `json:"warning_sent_resolution"`
	EscalatedAt           *time.Time `json:"escalated_at,omitempty"`
	PinnedAt              time.Time  `json:"pinned_at"`
	// Snapshot of the pinned rule, so reports stay true to the deadlines after the
	// catalog changes.
	BusinessHoursOnly       bool   `json:"business_hours_only"`
	ResponseTargetMinutes   *int64 `json:"response_target_minutes,omitempty"`
	ResolutionTargetMinutes *int64 `json:"resolution_target_minutes,omitempty"`
}

// HasRule reports whether a rule was resolved when the ticket was pinned.
func (s TicketSLAState) HasRule() bool {
	return s.PinnedRuleID != nil
}

// Status returns the status of a metric.
func (s TicketSLAState) Status(m Metric) SLAStatus {
	if m == MetricResponse {
		return s.ResponseStatus
	}
	return s.ResolutionStatus
}

// DueAt returns the due instant of a metric.
func (s TicketSLAState) DueAt(m Metric) *time.Time {
	if m == MetricResponse {
		return s.ResponseDueAt
	}
	return s.ResolutionDueAt
}

// SatisfiedAt returns the satisfying event instant of a metric.
func (s TicketSLAState) SatisfiedAt(m Metric) *time.Time {
	if m == MetricResponse {
		return s.FirstResponseAt
	}
	return s.ResolvedAt
}

// TargetMinutes returns the pinned target of a metric.
func (s TicketSLAState) TargetMinutes(m Metric) *int64 {
	if m == MetricResponse {
		return s.ResponseTargetMinutes
	}
	return s.ResolutionTargetMinutes
}

// WarningSent reports whether the approaching-breach warning already fired.
func (s TicketSLAState) WarningSent(m Metric) bool {
	if m == MetricResponse {
		return s.WarningSentResponse
	}
	return s.WarningSentResolution
}

// Outcome decides met or breached for a satisfying event at the given instant.
// An event exactly at the due instant is met.
func Outcome(due time.Time, at time.Time) SLAStatus {
	if at.After(due) {
		return SLAStatusBreached
	}
	return SLAStatusMet
}
