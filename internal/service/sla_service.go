package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/businesshours"
	"github.com/helpdesk-sla/ticket-sla/internal/config"
	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/events"
	"github.com/helpdesk-sla/ticket-sla/internal/observability"
	"github.com/helpdesk-sla/ticket-sla/internal/persistence"
	"github.com/helpdesk-sla/ticket-sla/internal/repository"
	"github.com/helpdesk-sla/ticket-sla/internal/sla"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

// Transition triggers, used in events and metrics.
const (
	TriggerEvent    = "event"
	TriggerTick     = "tick"
	TriggerBackfill = "backfill"
)

// RuleStore supplies active rules for resolution.
type RuleStore interface {
	sla.RuleCatalog
}

// CalendarStore supplies business-hours calendars by entity.
type CalendarStore interface {
	GetCalendar(ctx context.Context, entityID string) (*domain.BusinessHoursCalendar, error)
}

// SLADependencies bundles what the SLA service needs.
type SLADependencies struct {
	Tickets    repository.TicketRepository
	States     repository.TicketSLARepository
	Rules      RuleStore
	Calendars  CalendarStore
	Dispatcher events.Dispatcher
	// Lease guards Tick; nil runs every tick unguarded.
	Lease   persistence.Lease
	Metrics *observability.Metrics
	Logger  *zap.Logger
	Now     func() time.Time
	Config  config.SLAConfig
	// DefaultLocation applies to calendars without a timezone.
	DefaultLocation *time.Location
}

// SLAService pins SLA deadlines to tickets and tracks them to met or breached.
type SLAService struct {
	tickets    repository.TicketRepository
	states     repository.TicketSLARepository
	resolver   *sla.Resolver
	calendars  CalendarStore
	dispatcher events.Dispatcher
	lease      persistence.Lease
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
	cfg        config.SLAConfig
	loc        *time.Location
}

// NewSLAService constructs the service.
func NewSLAService(deps SLADependencies) *SLAService {
	s := &SLAService{
		tickets:    deps.Tickets,
		states:     deps.States,
		resolver:   sla.NewResolver(deps.Rules),
		calendars:  deps.Calendars,
		dispatcher: deps.Dispatcher,
		lease:      deps.Lease,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Now,
		cfg:        deps.Config,
		loc:        deps.DefaultLocation,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.cfg.BatchSize <= 0 {
		s.cfg.BatchSize = 500
	}
	if s.cfg.MaxBatches <= 0 {
		s.cfg.MaxBatches = 1
	}
	if s.cfg.NearingLimit <= 0 {
		s.cfg.NearingLimit = 500
	}
	if s.cfg.EscalationSize <= 0 {
		s.cfg.EscalationSize = s.cfg.BatchSize
	}
	return s
}

// PinTicket resolves the ticket's rule, computes its deadlines and stores them once.
// Calling it again for a pinned ticket returns the stored state unchanged.
func (s *SLAService) PinTicket(ctx context.Context, ticket domain.Ticket) (*domain.TicketSLAState, error) {
	return s.pin(ctx, ticket, TriggerEvent)
}

func (s *SLAService) pin(ctx context.Context, ticket domain.Ticket, trigger string) (*domain.TicketSLAState, error) {
	state, err := s.buildState(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if err := s.states.Create(ctx, state); err != nil {
		if errors.Is(err, repository.ErrAlreadyPinned) {
			return s.states.Get(ctx, ticket.ID)
		}
		return nil, err
	}

	outcome := "no_rule"
	if state.HasRule() {
		outcome = "rule"
	}
	s.metrics.RecordPinned(outcome)
	s.logger.Info("ticket sla pinned",
		zap.String("ticket_id", ticket.ID),
		zap.String("entity_id", ticket.EntityID),
		zap.String("response_status", string(state.ResponseStatus)),
		zap.String("resolution_status", string(state.ResolutionStatus)),
	)
	s.publish(ctx, events.EventSLAPinned, ticket.ID, events.SLAPinnedPayload{
		EntityID:         state.EntityID,
		RuleID:           state.PinnedRuleID,
		ResponseDueAt:    state.ResponseDueAt,
		ResolutionDueAt:  state.ResolutionDueAt,
		EscalationDueAt:  state.EscalationDueAt,
		ResponseStatus:   state.ResponseStatus,
		ResolutionStatus: state.ResolutionStatus,
	})

	// Satisfying events that happened before the ticket was pinned settle at once.
	for _, m := range domain.Metrics {
		if at := state.SatisfiedAt(m); at != nil && state.DueAt(m) != nil {
			s.recordTransition(ctx, state.TicketID, state.EntityID, m, state.Status(m), state.DueAt(m), *at, trigger)
		}
	}
	return state, nil
}

// buildState computes a fresh state for ticket from the current catalog.
func (s *SLAService) buildState(ctx context.Context, ticket domain.Ticket) (*domain.TicketSLAState, error) {
	state := &domain.TicketSLAState{
		TicketID:         ticket.ID,
		EntityID:         ticket.EntityID,
		CreatedAt:        ticket.CreatedAt,
		FirstResponseAt:  ticket.FirstResponseAt,
		ResolvedAt:       ticket.ResolvedAt,
		ResponseStatus:   domain.SLAStatusNoSLA,
		ResolutionStatus: domain.SLAStatusNoSLA,
		PinnedAt:         s.now(),
	}

	rule, err := s.resolver.ResolveTicket(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		s.logger.Debug("no sla rule applies", zap.String("ticket_id", ticket.ID), zap.String("entity_id", ticket.EntityID))
		return state, nil
	}
	ruleID := rule.ID
	state.PinnedRuleID = &ruleID
	state.BusinessHoursOnly = rule.BusinessHoursOnly

	var clock sla.BusinessClock
	if rule.BusinessHoursOnly {
		cal, err := s.calendarFor(ctx, ticket.EntityID)
		if err != nil {
			if !apperrors.IsConfiguration(err) {
				return nil, err
			}
			s.logger.Warn("business hours unavailable for entity",
				zap.String("ticket_id", ticket.ID),
				zap.String("entity_id", ticket.EntityID),
				zap.Error(err),
			)
		} else {
			clock = cal
		}
	}

	result := sla.ComputeDueDates(ticket.CreatedAt, rule, clock)
	state.ResponseDueAt = result.Response
	state.ResolutionDueAt = result.Resolution
	state.EscalationDueAt = result.Escalation
	state.ResponseTargetMinutes = pinnedTarget(rule, domain.MetricResponse, state.ResponseDueAt)
	state.ResolutionTargetMinutes = pinnedTarget(rule, domain.MetricResolution, state.ResolutionDueAt)
	for target, err := range result.Errors {
		s.logger.Warn("sla target not computed, metric has no sla",
			zap.String("ticket_id", ticket.ID),
			zap.String("entity_id", ticket.EntityID),
			zap.Int64("rule_id", rule.ID),
			zap.String("target", string(target)),
			zap.Error(err),
		)
	}

	state.ResponseStatus = initialStatus(state.ResponseDueAt, state.FirstResponseAt)
	state.ResolutionStatus = initialStatus(state.ResolutionDueAt, state.ResolvedAt)
	return state, nil
}

// pinnedTarget is the rule's target for m, kept only when a deadline was computed.
func pinnedTarget(rule *domain.SLARule, m domain.Metric, due *time.Time) *int64 {
	if due == nil {
		return nil
	}
	minutes, ok := sla.TargetMinutes(rule, m)
	if !ok {
		return nil
	}
	return &minutes
}

func initialStatus(due, satisfied *time.Time) domain.SLAStatus {
	switch {
	case due == nil:
		return domain.SLAStatusNoSLA
	case satisfied != nil:
		return domain.Outcome(*due, *satisfied)
	default:
		return domain.SLAStatusActive
	}
}

// calendarFor loads and compiles an entity calendar. A missing entity or an unusable
// calendar is a ConfigurationError; store failures pass through.
func (s *SLAService) calendarFor(ctx context.Context, entityID string) (*businesshours.Calendar, error) {
	if s.calendars == nil {
		return nil, apperrors.NewConfigurationError("no business hours store configured", nil)
	}
	def, err := s.calendars.GetCalendar(ctx, entityID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewConfigurationError("sla rule references an entity without business hours", map[string]any{
				"entity_id": entityID,
			})
		}
		return nil, err
	}
	return businesshours.New(*def, s.loc)
}

// RecordFirstResponse stops the response clock at the given instant.
func (s *SLAService) RecordFirstResponse(ctx context.Context, ticketID string, at time.Time) (repository.CompletionResult, error) {
	return s.complete(ctx, ticketID, domain.MetricResponse, at)
}

// RecordResolution stops the resolution clock at the given instant.
func (s *SLAService) RecordResolution(ctx context.Context, ticketID string, at time.Time) (repository.CompletionResult, error) {
	return s.complete(ctx, ticketID, domain.MetricResolution, at)
}

func (s *SLAService) complete(ctx context.Context, ticketID string, metric domain.Metric, at time.Time) (repository.CompletionResult, error) {
	res, err := s.states.CompleteMetric(ctx, ticketID, metric, at)
	if apperrors.IsNotFound(err) {
		// The creation hook was missed; pin from the ticket store and retry once.
		ticket, terr := s.tickets.GetByID(ctx, ticketID)
		if terr != nil {
			return res, terr
		}
		if _, perr := s.pin(ctx, *ticket, TriggerBackfill); perr != nil {
			return res, perr
		}
		res, err = s.states.CompleteMetric(ctx, ticketID, metric, at)
	}
	if err != nil {
		return res, err
	}
	if !res.Transitioned {
		return res, nil
	}

	state, err := s.states.Get(ctx, ticketID)
	if err != nil {
		s.logger.Warn("reload ticket sla after transition failed", zap.String("ticket_id", ticketID), zap.Error(err))
		state = &domain.TicketSLAState{TicketID: ticketID}
	}
	s.recordTransition(ctx, ticketID, state.EntityID, metric, res.Current, state.DueAt(metric), at, TriggerEvent)
	return res, nil
}

func (s *SLAService) recordTransition(ctx context.Context, ticketID, entityID string, metric domain.Metric, status domain.SLAStatus, due *time.Time, at time.Time, trigger string) {
	s.metrics.RecordTransition(string(metric), string(status), trigger)
	s.logger.Info("sla metric transitioned",
		zap.String("ticket_id", ticketID),
		zap.String("entity_id", entityID),
		zap.String("metric", string(metric)),
		zap.String("status", string(status)),
		zap.String("trigger", trigger),
	)
	eventType := events.EventSLAMet
	if status == domain.SLAStatusBreached {
		eventType = events.EventSLABreached
	}
	s.publish(ctx, eventType, ticketID, events.SLATransitionPayload{
		EntityID: entityID,
		Metric:   metric,
		Status:   status,
		DueAt:    due,
		At:       at,
		Trigger:  trigger,
	})
}

// publish hands an event to the dispatcher. State is already committed, so a failing
// sink is logged and otherwise ignored.
func (s *SLAService) publish(ctx context.Context, eventType events.EventType, ticketID string, payload any) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     events.SystemActor,
		Timestamp: s.now(),
		Payload:   payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish sla event failed",
			zap.String("type", string(eventType)),
			zap.String("ticket_id", ticketID),
			zap.Error(err),
		)
	}
}
