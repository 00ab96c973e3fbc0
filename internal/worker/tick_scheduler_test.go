package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/service"
)

type runnerFunc func(ctx context.Context) (*service.TickReport, error)

func (f runnerFunc) Tick(ctx context.Context) (*service.TickReport, error) { return f(ctx) }

func TestNewTickSchedulerRejectsBadSchedule(t *testing.T) {
	_, err := NewTickScheduler(runnerFunc(nil), "every now and then", time.Minute, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewTickScheduler(runnerFunc(nil), "*/5 * * * *", time.Minute, time.UTC, zap.NewNop())
	assert.NoError(t, err)
}

func TestRunOnceAppliesTimeout(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context) (*service.TickReport, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
		return &service.TickReport{Breached: 2}, nil
	})
	s, err := NewTickScheduler(runner, "@every 5m", time.Minute, nil, zap.NewNop())
	require.NoError(t, err)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Breached)
}

func TestRunOnceRecoversPanic(t *testing.T) {
	s, err := NewTickScheduler(runnerFunc(func(context.Context) (*service.TickReport, error) {
		panic("boom")
	}), "@every 5m", 0, nil, zap.NewNop())
	require.NoError(t, err)

	report, err := s.RunOnce(context.Background())
	assert.Nil(t, report)
	assert.ErrorContains(t, err, "boom")
}

func TestRunOnceCancelled(t *testing.T) {
	s, err := NewTickScheduler(runnerFunc(func(context.Context) (*service.TickReport, error) {
		t.Fatal("tick must not run")
		return nil, nil
	}), "@every 5m", 0, nil, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.RunOnce(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunFiresUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	s, err := NewTickScheduler(runnerFunc(func(context.Context) (*service.TickReport, error) {
		runs.Add(1)
		return &service.TickReport{}, nil
	}), "@every 1s", time.Second, nil, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
