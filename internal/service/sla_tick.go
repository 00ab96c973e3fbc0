package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/events"
	"github.com/helpdesk-sla/ticket-sla/internal/persistence"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

// TickReport summarizes one tick.
type TickReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	// Skipped is set when another instance held the tick lease.
	Skipped bool `json:"skipped"`
	Pinned  int  `json:"pinned"`
	// SkippedTickets counts tickets left out of the backfill because of their own errors.
	SkippedTickets int `json:"skipped_tickets"`
	Breached       int `json:"breached"`
	Escalated      int `json:"escalated"`
	Warned         int `json:"warned"`
	// Incomplete means the batch cap was reached with overdue metrics left for the next tick.
	Incomplete bool `json:"incomplete"`
}

// Processed is the number of tickets the tick changed.
func (r TickReport) Processed() int {
	return r.Pinned + r.Breached + r.Escalated + r.Warned
}

// Tick runs one pass of the periodic tracker: backfill pins, breach overdue metrics,
// mark escalations and send approaching-breach warnings. A store failure aborts the
// pass; conditional updates already committed stay committed.
func (s *SLAService) Tick(ctx context.Context) (*TickReport, error) {
	report := &TickReport{StartedAt: s.now()}

	release, err := s.acquireLease(ctx)
	if err != nil {
		return nil, err
	}
	if release == nil {
		report.Skipped = true
		s.metrics.RecordTick("skipped", 0)
		s.logger.Info("sla tick skipped, lease held elsewhere")
		return report, nil
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.Warn("sla tick lease release failed", zap.Error(err))
		}
	}()

	if err := s.runTick(ctx, report); err != nil {
		report.Duration = s.now().Sub(report.StartedAt)
		s.metrics.RecordTick("failed", report.Duration)
		s.logger.Error("sla tick aborted",
			zap.Int("pinned", report.Pinned),
			zap.Int("breached", report.Breached),
			zap.Error(err),
		)
		return report, err
	}

	report.Duration = s.now().Sub(report.StartedAt)
	s.metrics.RecordTick("completed", report.Duration)
	s.logger.Info("sla tick completed",
		zap.Int("processed", report.Processed()),
		zap.Int("pinned", report.Pinned),
		zap.Int("breached", report.Breached),
		zap.Int("escalated", report.Escalated),
		zap.Int("warned", report.Warned),
		zap.Int("skipped_tickets", report.SkippedTickets),
		zap.Bool("incomplete", report.Incomplete),
		zap.Duration("duration", report.Duration),
	)
	s.publish(ctx, events.EventSLATickCompleted, "", events.TickSummary{
		StartedAt:  report.StartedAt,
		Duration:   report.Duration,
		Pinned:     report.Pinned,
		Breached:   report.Breached,
		Escalated:  report.Escalated,
		Warned:     report.Warned,
		Skipped:    report.SkippedTickets,
		Processed:  report.Processed(),
		Incomplete: report.Incomplete,
	})
	return report, nil
}

// acquireLease returns a nil release when another holder has the lease. A lease
// backend failure is logged and the tick runs unguarded.
func (s *SLAService) acquireLease(ctx context.Context) (persistence.ReleaseFunc, error) {
	noop := func(context.Context) error { return nil }
	if s.lease == nil {
		return noop, nil
	}
	release, ok, err := s.lease.TryAcquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("sla tick lease unavailable, running unguarded", zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, nil
	}
	return func(ctx context.Context) error {
		err := release(ctx)
		if errors.Is(err, persistence.ErrLeaseNotHeld) {
			s.logger.Warn("sla tick outlived its lease", zap.Duration("lease_ttl", s.cfg.LeaseTTL))
			return nil
		}
		return err
	}, nil
}

func (s *SLAService) runTick(ctx context.Context, report *TickReport) error {
	now := report.StartedAt
	if err := s.backfill(ctx, report); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	for _, m := range domain.Metrics {
		if err := s.breachOverdue(ctx, m, now, report); err != nil {
			return fmt.Errorf("breach %s: %w", m, err)
		}
	}
	if err := s.escalateOverdue(ctx, now, report); err != nil {
		return fmt.Errorf("escalate: %w", err)
	}
	if err := s.sendWarnings(ctx, now, report); err != nil {
		return fmt.Errorf("warnings: %w", err)
	}
	return nil
}

// backfill pins tickets the creation hook missed. Errors on one ticket skip that
// ticket only; store outages abort.
func (s *SLAService) backfill(ctx context.Context, report *TickReport) error {
	limit := s.cfg.BackfillLimit
	if limit <= 0 {
		return nil
	}
	tickets, err := s.tickets.ListUnpinned(ctx, limit)
	if err != nil {
		return err
	}
	for _, ticket := range tickets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.pin(ctx, ticket, TriggerBackfill); err != nil {
			if apperrors.IsStoreUnavailable(err) {
				return err
			}
			report.SkippedTickets++
			s.metrics.RecordSkipped(skipReason(err))
			s.logger.Warn("skipping ticket in sla backfill",
				zap.String("ticket_id", ticket.ID),
				zap.String("entity_id", ticket.EntityID),
				zap.Error(err),
			)
			continue
		}
		report.Pinned++
	}
	return nil
}

func skipReason(err error) string {
	switch {
	case apperrors.IsNotFound(err):
		return "not_found"
	case apperrors.IsConfiguration(err):
		return "configuration"
	case apperrors.IsConflict(err):
		return "conflict"
	default:
		return "error"
	}
}

// breachOverdue repeats the conditional breach update in bounded batches.
func (s *SLAService) breachOverdue(ctx context.Context, metric domain.Metric, now time.Time, report *TickReport) error {
	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		transitions, err := s.states.BreachOverdue(ctx, metric, now, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, t := range transitions {
			due := t.DueAt
			report.Breached++
			s.recordTransition(ctx, t.TicketID, t.EntityID, metric, domain.SLAStatusBreached, &due, now, TriggerTick)
		}
		if len(transitions) < s.cfg.BatchSize {
			return nil
		}
	}
	report.Incomplete = true
	return nil
}

func (s *SLAService) escalateOverdue(ctx context.Context, now time.Time, report *TickReport) error {
	limit := s.cfg.EscalationSize
	escalations, err := s.states.EscalateOverdue(ctx, now, limit)
	if err != nil {
		return err
	}
	if len(escalations) == limit {
		report.Incomplete = true
	}
	for _, e := range escalations {
		report.Escalated++
		s.metrics.RecordEscalation()
		s.logger.Info("ticket escalated",
			zap.String("ticket_id", e.TicketID),
			zap.String("entity_id", e.EntityID),
			zap.Time("escalation_due_at", e.EscalationDueAt),
		)
		s.publish(ctx, events.EventSLAEscalated, e.TicketID, events.SLAEscalatedPayload{
			EntityID:        e.EntityID,
			EscalationDueAt: e.EscalationDueAt,
			EscalatedAt:     e.EscalatedAt,
		})
	}
	return nil
}

// sendWarnings fires one warning per ticket and metric; the flag update decides
// which caller sends it.
func (s *SLAService) sendWarnings(ctx context.Context, now time.Time, report *TickReport) error {
	if s.cfg.WarningWindow <= 0 {
		return nil
	}
	nearing, err := s.states.ListNearingBreach(ctx, now, now.Add(s.cfg.WarningWindow), s.cfg.NearingLimit)
	if err != nil {
		return err
	}
	for _, n := range nearing {
		sent, err := s.states.MarkWarningSent(ctx, n.TicketID, n.Metric)
		if err != nil {
			return err
		}
		if !sent {
			continue
		}
		report.Warned++
		s.metrics.RecordWarning(string(n.Metric))
		s.publish(ctx, events.EventSLAWarning, n.TicketID, events.SLAWarningPayload{
			EntityID:         n.EntityID,
			Metric:           n.Metric,
			DueAt:            n.DueAt,
			MinutesRemaining: minutesUntil(now, n.DueAt),
		})
	}
	return nil
}

func minutesUntil(now, due time.Time) int64 {
	if !due.After(now) {
		return 0
	}
	return int64(due.Sub(now) / time.Minute)
}
