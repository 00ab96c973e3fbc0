package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/events"
	"github.com/helpdesk-sla/ticket-sla/internal/sla"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

// NearingBreachEntry is one active metric approaching its deadline.
type NearingBreachEntry struct {
	TicketID         string        `json:"ticket_id"`
	EntityID         string        `json:"entity_id"`
	Metric           domain.Metric `json:"metric"`
	DueAt            time.Time     `json:"due_at"`
	MinutesRemaining int64         `json:"minutes_remaining"`
}

// TicketsNearingBreach lists active, unwarned metrics due within window of now.
// It never changes state. A non-positive window uses the configured warning window.
func (s *SLAService) TicketsNearingBreach(ctx context.Context, window time.Duration) ([]NearingBreachEntry, error) {
	if window <= 0 {
		window = s.cfg.WarningWindow
	}
	now := s.now()
	rows, err := s.states.ListNearingBreach(ctx, now, now.Add(window), s.cfg.NearingLimit)
	if err != nil {
		return nil, err
	}
	out := make([]NearingBreachEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, NearingBreachEntry{
			TicketID:         r.TicketID,
			EntityID:         r.EntityID,
			Metric:           r.Metric,
			DueAt:            r.DueAt,
			MinutesRemaining: minutesUntil(now, r.DueAt),
		})
	}
	return out, nil
}

// ComplianceReport is the compliance of tickets created in [From, To) with a pinned rule.
type ComplianceReport struct {
	EntityID                string    `json:"entity_id,omitempty"`
	From                    time.Time `json:"from"`
	To                      time.Time `json:"to"`
	TotalTickets            int64     `json:"total_tickets"`
	ResponseMet             int64     `json:"response_met"`
	ResponseBreached        int64     `json:"response_breached"`
	ResolutionMet           int64     `json:"resolution_met"`
	ResolutionBreached      int64     `json:"resolution_breached"`
	ResponseCompliancePct   float64   `json:"response_compliance_pct"`
	ResolutionCompliancePct float64   `json:"resolution_compliance_pct"`
}

// ComplianceRate computes met / (met + breached) per metric. Active and no-SLA
// metrics are left out of the denominator. An empty entityID covers every entity.
func (s *SLAService) ComplianceRate(ctx context.Context, entityID string, from, to time.Time) (*ComplianceReport, error) {
	if !to.After(from) {
		return nil, apperrors.NewValidationError("period end must be after its start", map[string]any{
			"from": from,
			"to":   to,
		})
	}
	counts, err := s.states.ComplianceCounts(ctx, entityID, from, to)
	if err != nil {
		return nil, err
	}
	return &ComplianceReport{
		EntityID:                entityID,
		From:                    from,
		To:                      to,
		TotalTickets:            counts.TotalTickets,
		ResponseMet:             counts.ResponseMet,
		ResponseBreached:        counts.ResponseBreached,
		ResolutionMet:           counts.ResolutionMet,
		ResolutionBreached:      counts.ResolutionBreached,
		ResponseCompliancePct:   compliancePct(counts.ResponseMet, counts.ResponseBreached),
		ResolutionCompliancePct: compliancePct(counts.ResolutionMet, counts.ResolutionBreached),
	}, nil
}

func compliancePct(met, breached int64) float64 {
	total := met + breached
	if total == 0 {
		return 0
	}
	return math.Round(float64(met)/float64(total)*10000) / 100
}

// Status returns the pinned SLA state of a ticket.
func (s *SLAService) Status(ctx context.Context, ticketID string) (*domain.TicketSLAState, error) {
	return s.states.Get(ctx, ticketID)
}

// RepinTicket recomputes a ticket's rule and deadlines from the current catalog,
// keeping its creation instant. Metrics already met or breached keep their status
// and deadline. This is the only path that changes pinned deadlines.
func (s *SLAService) RepinTicket(ctx context.Context, ticketID string) (*domain.TicketSLAState, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	prev, err := s.states.Get(ctx, ticketID)
	if apperrors.IsNotFound(err) {
		return s.pin(ctx, *ticket, TriggerEvent)
	}
	if err != nil {
		return nil, err
	}

	next, err := s.buildState(ctx, *ticket)
	if err != nil {
		return nil, err
	}
	next.FirstResponseAt = firstNonNil(prev.FirstResponseAt, ticket.FirstResponseAt)
	next.ResolvedAt = firstNonNil(prev.ResolvedAt, ticket.ResolvedAt)
	next.EscalatedAt = prev.EscalatedAt
	next.ResponseStatus, next.ResponseDueAt, next.WarningSentResponse = carryMetric(prev, next, domain.MetricResponse)
	next.ResolutionStatus, next.ResolutionDueAt, next.WarningSentResolution = carryMetric(prev, next, domain.MetricResolution)
	if settled(prev.ResponseStatus) {
		next.ResponseTargetMinutes = prev.ResponseTargetMinutes
	}
	if settled(prev.ResolutionStatus) {
		next.ResolutionTargetMinutes = prev.ResolutionTargetMinutes
	}

	if err := s.states.Repin(ctx, next, prev); err != nil {
		return nil, err
	}
	s.logger.Info("ticket sla re-pinned",
		zap.String("ticket_id", ticketID),
		zap.Any("previous_rule_id", prev.PinnedRuleID),
		zap.Any("rule_id", next.PinnedRuleID),
	)
	s.publish(ctx, events.EventSLAPinned, ticketID, events.SLAPinnedPayload{
		EntityID:         next.EntityID,
		RuleID:           next.PinnedRuleID,
		ResponseDueAt:    next.ResponseDueAt,
		ResolutionDueAt:  next.ResolutionDueAt,
		EscalationDueAt:  next.EscalationDueAt,
		ResponseStatus:   next.ResponseStatus,
		ResolutionStatus: next.ResolutionStatus,
	})
	return s.states.Get(ctx, ticketID)
}

func settled(status domain.SLAStatus) bool {
	return status == domain.SLAStatusMet || status == domain.SLAStatusBreached
}

// carryMetric decides status, due and warning flag of a metric after a re-pin.
func carryMetric(prev, next *domain.TicketSLAState, m domain.Metric) (domain.SLAStatus, *time.Time, bool) {
	if settled(prev.Status(m)) {
		return prev.Status(m), prev.DueAt(m), prev.WarningSent(m)
	}
	due := next.DueAt(m)
	status := initialStatus(due, next.SatisfiedAt(m))
	warned := false
	if due != nil && prev.DueAt(m) != nil && due.Equal(*prev.DueAt(m)) {
		warned = prev.WarningSent(m)
	}
	return status, due, warned
}

func firstNonNil(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}

// DueDatePreview is a dry-run computation for a ticket.
type DueDatePreview struct {
	Rule            *domain.SLARule   `json:"rule,omitempty"`
	Specificity     string            `json:"specificity,omitempty"`
	ResponseDueAt   *time.Time        `json:"response_due_at,omitempty"`
	ResolutionDueAt *time.Time        `json:"resolution_due_at,omitempty"`
	EscalationDueAt *time.Time        `json:"escalation_due_at,omitempty"`
	Problems        map[string]string `json:"problems,omitempty"`
}

// PreviewDueDates resolves and computes deadlines for ticket without writing anything.
func (s *SLAService) PreviewDueDates(ctx context.Context, ticket domain.Ticket) (*DueDatePreview, error) {
	rule, err := s.resolver.ResolveTicket(ctx, ticket)
	if err != nil {
		return nil, err
	}
	preview := &DueDatePreview{}
	if rule == nil {
		return preview, nil
	}
	preview.Rule = rule
	preview.Specificity = sla.SpecificityOf(*rule, ticket.EntityID, ticket.Priority).String()

	var clock sla.BusinessClock
	if rule.BusinessHoursOnly {
		cal, err := s.calendarFor(ctx, ticket.EntityID)
		switch {
		case err == nil:
			clock = cal
		case apperrors.IsConfiguration(err):
			preview.addProblem("calendar", err)
		default:
			return nil, err
		}
	}
	result := sla.ComputeDueDates(ticket.CreatedAt, rule, clock)
	preview.ResponseDueAt = result.Response
	preview.ResolutionDueAt = result.Resolution
	preview.EscalationDueAt = result.Escalation
	for target, err := range result.Errors {
		preview.addProblem(string(target), err)
	}
	return preview, nil
}

func (p *DueDatePreview) addProblem(key string, err error) {
	if p.Problems == nil {
		p.Problems = make(map[string]string)
	}
	p.Problems[key] = err.Error()
}

// MetricTiming reports how long a satisfied metric took. Durations are nil until the
// satisfying event has happened.
type MetricTiming struct {
	Metric          domain.Metric    `json:"metric"`
	Status          domain.SLAStatus `json:"status"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	DueAt           *time.Time       `json:"due_at,omitempty"`
	DurationMinutes *int64           `json:"duration_minutes,omitempty"`
	BusinessMinutes *int64           `json:"business_minutes,omitempty"`
	TargetMinutes   *int64           `json:"target_minutes,omitempty"`
	WithinSLA       *bool            `json:"within_sla,omitempty"`
}

// TimingReport holds both metric timings of a ticket.
type TimingReport struct {
	TicketID   string       `json:"ticket_id"`
	RuleID     *int64       `json:"rule_id,omitempty"`
	Response   MetricTiming `json:"response"`
	Resolution MetricTiming `json:"resolution"`
}

// TimingMetrics reports wall-clock and business durations to first response and
// resolution, against the targets pinned with the deadlines.
func (s *SLAService) TimingMetrics(ctx context.Context, ticketID string) (*TimingReport, error) {
	state, err := s.states.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	report := &TimingReport{TicketID: ticketID, RuleID: state.PinnedRuleID}

	var clock interface {
		ElapsedBusinessMinutes(from, to time.Time) int64
	}
	if state.HasRule() && state.BusinessHoursOnly {
		cal, err := s.calendarFor(ctx, state.EntityID)
		if err != nil && !apperrors.IsConfiguration(err) {
			return nil, err
		}
		if cal != nil {
			clock = cal
		}
	}

	timing := func(m domain.Metric) MetricTiming {
		t := MetricTiming{
			Metric:    m,
			Status:    state.Status(m),
			StartedAt: state.CreatedAt,
			EndedAt:   state.SatisfiedAt(m),
			DueAt:     state.DueAt(m),
		}
		t.TargetMinutes = state.TargetMinutes(m)
		if t.EndedAt == nil {
			return t
		}
		minutes := int64(t.EndedAt.Sub(state.CreatedAt) / time.Minute)
		t.DurationMinutes = &minutes
		if clock != nil {
			business := clock.ElapsedBusinessMinutes(state.CreatedAt, *t.EndedAt)
			t.BusinessMinutes = &business
		}
		if t.Status == domain.SLAStatusMet || t.Status == domain.SLAStatusBreached {
			within := t.Status == domain.SLAStatusMet
			t.WithinSLA = &within
		}
		return t
	}
	report.Response = timing(domain.MetricResponse)
	report.Resolution = timing(domain.MetricResolution)
	return report, nil
}
