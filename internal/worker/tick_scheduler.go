package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/service"
)

// TickRunner runs one SLA tick.
type TickRunner interface {
	Tick(ctx context.Context) (*service.TickReport, error)
}

// TickScheduler fires the SLA tick on a cron schedule.
type TickScheduler struct {
	runner   TickRunner
	cron     *cron.Cron
	schedule cron.Schedule
	timeout  time.Duration
	logger   *zap.Logger
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewTickScheduler validates expr (standard five-field cron or a descriptor such as
// "@every 5m") and builds a scheduler in loc. A non-positive timeout leaves ticks
// bounded only by the caller's context.
func NewTickScheduler(runner TickRunner, expr string, timeout time.Duration, loc *time.Location, logger *zap.Logger) (*TickScheduler, error) {
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse tick schedule %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TickScheduler{
		runner:   runner,
		cron:     cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule: schedule,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Run schedules the tick and blocks until ctx is cancelled, then waits for a running
// tick to finish.
func (s *TickScheduler) Run(ctx context.Context) error {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled sla tick failed", zap.Error(err))
		}
	}))
	s.cron.Start()
	s.logger.Info("sla tick scheduler started", zap.Time("next_run", s.schedule.Next(time.Now())))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("sla tick scheduler stopped")
	return nil
}

// RunOnce runs a single tick under the configured timeout. A panicking tick is
// reported as an error.
func (s *TickScheduler) RunOnce(ctx context.Context) (report *service.TickReport, err error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("sla tick panicked: %v", r)
		}
	}()
	return s.runner.Tick(ctx)
}
