package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/repository/memory"
)

func TestAuditServiceRecordsLifecycle(t *testing.T) {
	h := newHarness(t)
	history := memory.NewHistoryStore(h.clock.Now)
	audit := NewAuditService(history, zap.NewNop())
	audit.RegisterHandlers(h.deps.Dispatcher)
	ctx := context.Background()

	created := monday(9, 0)
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "ghost", domain.TicketPriorityUrgent, created))
	require.NoError(t, err)
	_, err = h.svc.RecordFirstResponse(ctx, "t-1", created.Add(time.Hour))
	require.NoError(t, err)

	h.clock.Set(created.Add(9 * time.Hour))
	_, err = h.svc.Tick(ctx)
	require.NoError(t, err)

	entries, err := audit.History(ctx, "t-1", 0)
	require.NoError(t, err)
	var changes []domain.TicketChangeType
	for _, e := range entries {
		changes = append(changes, e.ChangeType)
		assert.Equal(t, domain.AuthorTypeSystem, e.ChangedByType)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, []domain.TicketChangeType{
		domain.ChangeTypeSLAPinned,
		domain.ChangeTypeSLAStatus,
		domain.ChangeTypeSLAStatus,
		domain.ChangeTypeSLAEscalation,
	}, changes)

	assert.Equal(t, domain.SLAStatusMet, entries[1].NewValue["status"])
	assert.Equal(t, domain.Metric("response"), entries[1].NewValue["metric"])
	assert.Equal(t, domain.SLAStatusBreached, entries[2].NewValue["status"])
	assert.Equal(t, TriggerTick, entries[2].NewValue["trigger"])

	limited, err := audit.History(ctx, "t-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
