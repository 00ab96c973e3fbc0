// Package memory provides in-process ticket and SLA state stores with the same
// conditional-update semantics as the Postgres repositories.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/repository"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

var (
	_ repository.TicketRepository    = (*Store)(nil)
	_ repository.TicketSLARepository = (*Store)(nil)
)

// Store holds tickets and their SLA state. Deleting a ticket deletes its state.
type Store struct {
	mu      sync.Mutex
	tickets map[string]domain.Ticket
	states  map[string]domain.TicketSLAState
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tickets: make(map[string]domain.Ticket),
		states:  make(map[string]domain.TicketSLAState),
	}
}

// PutTicket inserts or replaces a ticket.
func (s *Store) PutTicket(t domain.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = t
}

// DeleteTicket removes a ticket and its SLA state.
func (s *Store) DeleteTicket(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, id)
	delete(s.states, id)
}

func (s *Store) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return &t, nil
}

func (s *Store) ListUnpinned(_ context.Context, limit int) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Ticket
	for id, t := range s.tickets {
		if _, pinned := s.states[id]; !pinned {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Create(_ context.Context, state *domain.TicketSLAState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[state.TicketID]; !ok {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": state.TicketID})
	}
	if _, ok := s.states[state.TicketID]; ok {
		return repository.ErrAlreadyPinned
	}
	s.states[state.TicketID] = clone(*state)
	return nil
}

func (s *Store) Get(_ context.Context, ticketID string) (*domain.TicketSLAState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[ticketID]
	if !ok {
		return nil, apperrors.NewNotFound("ticket sla", map[string]any{"ticket_id": ticketID})
	}
	out := clone(st)
	return &out, nil
}

func (s *Store) Repin(_ context.Context, next, prev *domain.TicketSLAState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[next.TicketID]
	if !ok || cur.ResponseStatus != prev.ResponseStatus || cur.ResolutionStatus != prev.ResolutionStatus {
		return apperrors.NewConflict("ticket sla changed during re-pin", map[string]any{"ticket_id": next.TicketID})
	}
	cur.PinnedRuleID = copyInt64(next.PinnedRuleID)
	cur.ResponseDueAt = copyTime(next.ResponseDueAt)
	cur.ResolutionDueAt = copyTime(next.ResolutionDueAt)
	cur.EscalationDueAt = copyTime(next.EscalationDueAt)
	cur.ResponseStatus = next.ResponseStatus
	cur.ResolutionStatus = next.ResolutionStatus
	cur.WarningSentResponse = next.WarningSentResponse
	cur.WarningSentResolution = next.WarningSentResolution
	cur.EscalatedAt = copyTime(next.EscalatedAt)
	cur.PinnedAt = next.PinnedAt
	s.states[next.TicketID] = cur
	return nil
}

func (s *Store) CompleteMetric(_ context.Context, ticketID string, metric domain.Metric, at time.Time) (repository.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[ticketID]
	if !ok {
		return repository.CompletionResult{}, apperrors.NewNotFound("ticket sla", map[string]any{"ticket_id": ticketID})
	}

	status, due, satisfied := fields(&st, metric)
	res := repository.CompletionResult{Previous: *status}
	if *satisfied == nil {
		t := at
		*satisfied = &t
	}
	if *status == domain.SLAStatusActive && *due != nil {
		*status = domain.Outcome(**due, at)
	}
	res.Current = *status
	res.Transitioned = res.Previous != res.Current
	s.states[ticketID] = st
	return res, nil
}

func (s *Store) BreachOverdue(_ context.Context, metric domain.Metric, now time.Time, limit int) ([]repository.MetricTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []repository.MetricTransition
	for id, st := range s.states {
		status, due, satisfied := fields(&st, metric)
		if *status == domain.SLAStatusActive && *due != nil && (*due).Before(now) && *satisfied == nil {
			candidates = append(candidates, repository.MetricTransition{TicketID: id, EntityID: st.EntityID, Metric: metric, DueAt: **due})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].DueAt.Equal(candidates[j].DueAt) {
			return candidates[i].DueAt.Before(candidates[j].DueAt)
		}
		return candidates[i].TicketID < candidates[j].TicketID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, c := range candidates {
		st := s.states[c.TicketID]
		status, _, _ := fields(&st, metric)
		*status = domain.SLAStatusBreached
		s.states[c.TicketID] = st
	}
	return candidates, nil
}

func (s *Store) EscalateOverdue(_ context.Context, now time.Time, limit int) ([]repository.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []repository.Escalation
	for id, st := range s.states {
		if st.EscalatedAt == nil && st.EscalationDueAt != nil && st.EscalationDueAt.Before(now) && st.ResolvedAt == nil {
			out = append(out, repository.Escalation{TicketID: id, EntityID: st.EntityID, EscalationDueAt: *st.EscalationDueAt, EscalatedAt: now})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EscalationDueAt.Equal(out[j].EscalationDueAt) {
			return out[i].EscalationDueAt.Before(out[j].EscalationDueAt)
		}
		return out[i].TicketID < out[j].TicketID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for _, e := range out {
		st := s.states[e.TicketID]
		at := now
		st.EscalatedAt = &at
		s.states[e.TicketID] = st
	}
	return out, nil
}

func (s *Store) ListNearingBreach(_ context.Context, now, until time.Time, limit int) ([]repository.NearingBreach, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []repository.NearingBreach
	for id, st := range s.states {
		for _, m := range domain.Metrics {
			due := st.DueAt(m)
			if st.Status(m) != domain.SLAStatusActive || st.WarningSent(m) || st.SatisfiedAt(m) != nil || due == nil {
				continue
			}
			if due.Before(now) || due.After(until) {
				continue
			}
			out = append(out, repository.NearingBreach{TicketID: id, EntityID: st.EntityID, Metric: m, DueAt: *due})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		if out[i].TicketID != out[j].TicketID {
			return out[i].TicketID < out[j].TicketID
		}
		return out[i].Metric > out[j].Metric
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkWarningSent(_ context.Context, ticketID string, metric domain.Metric) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[ticketID]
	if !ok || st.Status(metric) != domain.SLAStatusActive || st.SatisfiedAt(metric) != nil {
		return false, nil
	}
	flag := &st.WarningSentResolution
	if metric == domain.MetricResponse {
		flag = &st.WarningSentResponse
	}
	if *flag {
		return false, nil
	}
	*flag = true
	s.states[ticketID] = st
	return true, nil
}

func (s *Store) ComplianceCounts(_ context.Context, entityID string, from, to time.Time) (repository.ComplianceCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c repository.ComplianceCounts
	for _, st := range s.states {
		if !st.HasRule() || (entityID != "" && st.EntityID != entityID) {
			continue
		}
		if st.CreatedAt.Before(from) || !st.CreatedAt.Before(to) {
			continue
		}
		c.TotalTickets++
		switch st.ResponseStatus {
		case domain.SLAStatusMet:
			c.ResponseMet++
		case domain.SLAStatusBreached:
			c.ResponseBreached++
		}
		switch st.ResolutionStatus {
		case domain.SLAStatusMet:
			c.ResolutionMet++
		case domain.SLAStatusBreached:
			c.ResolutionBreached++
		}
	}
	return c, nil
}

func fields(st *domain.TicketSLAState, m domain.Metric) (*domain.SLAStatus, **time.Time, **time.Time) {
	if m == domain.MetricResponse {
		return &st.ResponseStatus, &st.ResponseDueAt, &st.FirstResponseAt
	}
	return &st.ResolutionStatus, &st.ResolutionDueAt, &st.ResolvedAt
}

func clone(st domain.TicketSLAState) domain.TicketSLAState {
	st.PinnedRuleID = copyInt64(st.PinnedRuleID)
	st.ResponseDueAt = copyTime(st.ResponseDueAt)
	st.ResolutionDueAt = copyTime(st.ResolutionDueAt)
	st.EscalationDueAt = copyTime(st.EscalationDueAt)
	st.FirstResponseAt = copyTime(st.FirstResponseAt)
	st.ResolvedAt = copyTime(st.ResolvedAt)
	st.EscalatedAt = copyTime(st.EscalatedAt)
	st.ResponseTargetMinutes = copyInt64(st.ResponseTargetMinutes)
	st.ResolutionTargetMinutes = copyInt64(st.ResolutionTargetMinutes)
	return st
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
