package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/catalog"
	"github.com/helpdesk-sla/ticket-sla/internal/config"
	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/events"
	"github.com/helpdesk-sla/ticket-sla/internal/observability"
	"github.com/helpdesk-sla/ticket-sla/internal/persistence"
	"github.com/helpdesk-sla/ticket-sla/internal/repository"
	"github.com/helpdesk-sla/ticket-sla/internal/repository/memory"
	"github.com/helpdesk-sla/ticket-sla/internal/testfixtures"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

const testCatalog = `
calendars:
  - entity_id: acme
    timezone: UTC
    windows:
      - { day: mon, start: "09:00", end: "17:00" }
      - { day: tue, start: "09:00", end: "17:00" }
      - { day: wed, start: "09:00", end: "17:00" }
      - { day: thu, start: "09:00", end: "17:00" }
      - { day: fri, start: "09:00", end: "17:00" }
  - entity_id: closed
    windows: []
rules:
  - id: 1
    entity_id: acme
    name: Acme default
    priority: DEFAULT
    response_hours: 24
    resolution_hours: 40
  - id: 2
    name: Urgent
    priority: URGENT
    response_hours: 2
    resolution_hours: 8
    escalation_hours: 4
    business_hours_only: false
  - id: 3
    name: Low
    priority: LOW
    response_hours: 4
    resolution_hours: 16
`

// monday is 2024-03-04 at the given hour and minute, UTC.
func monday(hour, minute int) time.Time {
	return time.Date(2024, time.March, 4, hour, minute, 0, 0, time.UTC)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) ofType(t events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	store   *memory.Store
	catalog *catalog.Catalog
	clock   *testfixtures.Clock
	log     *eventLog
	deps    SLADependencies
	svc     *SLAService
}

func newHarness(t *testing.T, mutate ...func(*SLADependencies)) *harness {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	h := &harness{
		store:   memory.NewStore(),
		catalog: cat,
		clock:   testfixtures.NewClock(monday(12, 0)),
		log:     &eventLog{},
	}
	dispatcher := events.NewInMemoryDispatcher()
	for _, et := range events.SLAEventTypes {
		dispatcher.Subscribe(et, h.log.handle)
	}
	h.deps = SLADependencies{
		Tickets:    h.store,
		States:     h.store,
		Rules:      cat,
		Calendars:  cat,
		Dispatcher: dispatcher,
		Metrics:    observability.NewMetrics(prometheus.NewRegistry()),
		Logger:     zap.NewNop(),
		Now:        h.clock.Now,
		Config: config.SLAConfig{
			BatchSize:     100,
			MaxBatches:    5,
			WarningWindow: time.Hour,
			BackfillLimit: 100,
		},
	}
	for _, m := range mutate {
		m(&h.deps)
	}
	h.svc = NewSLAService(h.deps)
	return h
}

func (h *harness) ticket(id, entity string, priority domain.TicketPriority, created time.Time) domain.Ticket {
	t := domain.Ticket{ID: id, EntityID: entity, Priority: priority, Status: domain.TicketStatusOpen, CreatedAt: created}
	h.store.PutTicket(t)
	return t
}

func (h *harness) state(t *testing.T, id string) *domain.TicketSLAState {
	t.Helper()
	st, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return st
}

func TestPinTicketBusinessHours(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.ticket("t-1", "acme", domain.TicketPriorityMedium, testfixtures.ReferenceTime())

	st, err := h.svc.PinTicket(ctx, ticket)
	require.NoError(t, err)

	require.NotNil(t, st.PinnedRuleID)
	assert.Equal(t, int64(1), *st.PinnedRuleID)
	assert.Equal(t, time.Date(2024, 3, 6, 16, 0, 0, 0, time.UTC), *st.ResponseDueAt)
	assert.Equal(t, time.Date(2024, 3, 8, 16, 0, 0, 0, time.UTC), *st.ResolutionDueAt)
	assert.Nil(t, st.EscalationDueAt)
	assert.Equal(t, domain.SLAStatusActive, st.ResponseStatus)
	assert.Equal(t, domain.SLAStatusActive, st.ResolutionStatus)
	assert.Len(t, h.log.ofType(events.EventSLAPinned), 1)

	again, err := h.svc.PinTicket(ctx, ticket)
	require.NoError(t, err)
	assert.Equal(t, st.ResponseDueAt, again.ResponseDueAt)
	assert.Len(t, h.log.ofType(events.EventSLAPinned), 1, "second pin is a no-op")
}

func TestPinTicketWallClock(t *testing.T) {
	h := newHarness(t)
	created := monday(3, 17)
	st, err := h.svc.PinTicket(context.Background(), h.ticket("t-1", "ghost", domain.TicketPriorityUrgent, created))
	require.NoError(t, err)

	assert.Equal(t, created.Add(2*time.Hour), *st.ResponseDueAt)
	assert.Equal(t, created.Add(8*time.Hour), *st.ResolutionDueAt)
	assert.Equal(t, created.Add(4*time.Hour), *st.EscalationDueAt)
}

func TestPinTicketConfigurationProblemsMeanNoSLA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, entity := range []string{"ghost", "closed"} {
		st, err := h.svc.PinTicket(ctx, h.ticket("t-"+entity, entity, domain.TicketPriorityLow, monday(9, 0)))
		require.NoError(t, err, entity)
		require.NotNil(t, st.PinnedRuleID, entity)
		assert.Equal(t, int64(3), *st.PinnedRuleID)
		assert.Equal(t, domain.SLAStatusNoSLA, st.ResponseStatus, entity)
		assert.Equal(t, domain.SLAStatusNoSLA, st.ResolutionStatus, entity)
		assert.Nil(t, st.ResponseDueAt, entity)
	}
}

func TestPinTicketWithoutRule(t *testing.T) {
	h := newHarness(t)
	st, err := h.svc.PinTicket(context.Background(), h.ticket("t-1", "ghost", domain.TicketPriorityMedium, monday(9, 0)))
	require.NoError(t, err)
	assert.False(t, st.HasRule())
	assert.Equal(t, domain.SLAStatusNoSLA, st.ResponseStatus)
}

func TestRecordEventsAreMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "acme", domain.TicketPriorityMedium, monday(9, 0)))
	require.NoError(t, err)

	res, err := h.svc.RecordFirstResponse(ctx, "t-1", monday(10, 0))
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, domain.SLAStatusMet, res.Current)

	res, err = h.svc.RecordFirstResponse(ctx, "t-1", monday(11, 0))
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.Equal(t, domain.SLAStatusMet, res.Current)

	late := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	res, err = h.svc.RecordResolution(ctx, "t-1", late)
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStatusBreached, res.Current)

	res, err = h.svc.RecordResolution(ctx, "t-1", monday(13, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStatusBreached, res.Current)

	st := h.state(t, "t-1")
	assert.Equal(t, monday(10, 0), *st.FirstResponseAt)
	assert.Equal(t, late, *st.ResolvedAt)
	assert.Len(t, h.log.ofType(events.EventSLAMet), 1)
	assert.Len(t, h.log.ofType(events.EventSLABreached), 1)

	_, err = h.svc.Tick(ctx)
	require.NoError(t, err)
	st = h.state(t, "t-1")
	assert.Equal(t, domain.SLAStatusMet, st.ResponseStatus)
	assert.Equal(t, domain.SLAStatusBreached, st.ResolutionStatus)
}

func TestRecordFirstResponsePinsUnpinnedTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ticket("t-1", "ghost", domain.TicketPriorityUrgent, monday(9, 0))

	res, err := h.svc.RecordFirstResponse(ctx, "t-1", monday(10, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStatusMet, res.Current)
	assert.Equal(t, domain.SLAStatusActive, h.state(t, "t-1").ResolutionStatus)

	_, err = h.svc.RecordFirstResponse(ctx, "missing", monday(10, 0))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestTickBreachesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "ghost", domain.TicketPriorityUrgent, monday(9, 0)))
	require.NoError(t, err)

	report, err := h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Breached)
	assert.Zero(t, report.Escalated)
	assert.False(t, report.Skipped)

	first := h.state(t, "t-1")
	assert.Equal(t, domain.SLAStatusBreached, first.ResponseStatus)
	assert.Equal(t, domain.SLAStatusActive, first.ResolutionStatus)

	report, err = h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Breached)
	assert.Equal(t, first, h.state(t, "t-1"))
	assert.Len(t, h.log.ofType(events.EventSLABreached), 1)
	assert.Len(t, h.log.ofType(events.EventSLATickCompleted), 2)
}

func TestTickAndReplyRaceTransitionOnce(t *testing.T) {
	for round := 0; round < 50; round++ {
		h := newHarness(t)
		ctx := context.Background()
		_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "ghost", domain.TicketPriorityUrgent, monday(9, 0)))
		require.NoError(t, err)

		var (
			wg    sync.WaitGroup
			reply repository.CompletionResult
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, tickErr := h.svc.Tick(ctx)
			assert.NoError(t, tickErr)
		}()
		go func() {
			defer wg.Done()
			var replyErr error
			reply, replyErr = h.svc.RecordFirstResponse(ctx, "t-1", monday(10, 30))
			assert.NoError(t, replyErr)
		}()
		wg.Wait()

		met := h.log.ofType(events.EventSLAMet)
		breached := h.log.ofType(events.EventSLABreached)
		require.Len(t, append(met, breached...), 1, "round %d", round)

		st := h.state(t, "t-1")
		assert.Equal(t, monday(10, 30), *st.FirstResponseAt)
		if reply.Transitioned {
			assert.Equal(t, domain.SLAStatusMet, st.ResponseStatus)
			assert.Len(t, met, 1)
		} else {
			assert.Equal(t, domain.SLAStatusBreached, st.ResponseStatus)
			assert.Len(t, breached, 1)
		}
	}
}

func TestTickIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d"}
	created := []time.Time{monday(7, 0), monday(9, 0), monday(10, 30), monday(11, 30)}
	for i, id := range ids {
		_, err := h.svc.PinTicket(ctx, h.ticket(id, "ghost", domain.TicketPriorityUrgent, created[i]))
		require.NoError(t, err)
	}

	_, err := h.svc.Tick(ctx)
	require.NoError(t, err)
	once := make(map[string]*domain.TicketSLAState)
	for _, id := range ids {
		once[id] = h.state(t, id)
	}

	report, err := h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Processed())
	for _, id := range ids {
		assert.Equal(t, once[id], h.state(t, id), id)
	}
}

func TestTickEscalatesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "ghost", domain.TicketPriorityUrgent, monday(7, 0)))
	require.NoError(t, err)

	report, err := h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)
	assert.Equal(t, monday(12, 0), *h.state(t, "t-1").EscalatedAt)

	report, err = h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Escalated)
	assert.Len(t, h.log.ofType(events.EventSLAEscalated), 1)
}

func TestTickWarnsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "ghost", domain.TicketPriorityUrgent, monday(10, 30)))
	require.NoError(t, err)

	nearing, err := h.svc.TicketsNearingBreach(ctx, 0)
	require.NoError(t, err)
	require.Len(t, nearing, 1)
	assert.Equal(t, domain.MetricResponse, nearing[0].Metric)
	assert.Equal(t, int64(30), nearing[0].MinutesRemaining)

	report, err := h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Warned)

	warnings := h.log.ofType(events.EventSLAWarning)
	require.Len(t, warnings, 1)
	var payload events.SLAWarningPayload
	require.NoError(t, events.DecodePayload(warnings[0], &payload))
	assert.Equal(t, int64(30), payload.MinutesRemaining)

	report, err = h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Warned)

	nearing, err = h.svc.TicketsNearingBreach(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, nearing)
}

// phantomTickets lists one ticket the store does not hold, as if it was deleted mid-tick.
type phantomTickets struct {
	repository.TicketRepository
	listErr error
}

func (p phantomTickets) ListUnpinned(ctx context.Context, limit int) ([]domain.Ticket, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	tickets, err := p.TicketRepository.ListUnpinned(ctx, limit)
	if err != nil {
		return nil, err
	}
	return append(tickets, domain.Ticket{ID: "deleted", EntityID: "ghost", Priority: domain.TicketPriorityUrgent, CreatedAt: monday(8, 0)}), nil
}

// limitRecorder remembers the limits the service passes to batch queries.
type limitRecorder struct {
	repository.TicketSLARepository
	mu     sync.Mutex
	limits map[string]int
}

func (l *limitRecorder) record(op string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[op] = limit
}

func (l *limitRecorder) ListNearingBreach(ctx context.Context, now, until time.Time, limit int) ([]repository.NearingBreach, error) {
	l.record("nearing", limit)
	return l.TicketSLARepository.ListNearingBreach(ctx, now, until, limit)
}

func (l *limitRecorder) EscalateOverdue(ctx context.Context, now time.Time, limit int) ([]repository.Escalation, error) {
	l.record("escalate", limit)
	return l.TicketSLARepository.EscalateOverdue(ctx, now, limit)
}

func TestZeroLimitsFallBackToDefaults(t *testing.T) {
	recorder := &limitRecorder{limits: map[string]int{}}
	h := newHarness(t, func(d *SLADependencies) {
		recorder.TicketSLARepository = d.States
		d.States = recorder
		d.Config.NearingLimit = 0
		d.Config.EscalationSize = 0
	})
	ctx := context.Background()
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "ghost", domain.TicketPriorityUrgent, monday(10, 30)))
	require.NoError(t, err)

	nearing, err := h.svc.TicketsNearingBreach(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Len(t, nearing, 1)
	assert.Equal(t, 500, recorder.limits["nearing"])

	report, err := h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Warned)
	assert.Equal(t, 100, recorder.limits["escalate"], "escalation batches default to the tick batch size")
}

func TestTickBackfillIsolatesTicketErrors(t *testing.T) {
	h := newHarness(t, func(d *SLADependencies) {
		d.Tickets = phantomTickets{TicketRepository: d.Tickets}
	})
	ctx := context.Background()
	h.ticket("b1", "ghost", domain.TicketPriorityUrgent, monday(11, 0))
	h.ticket("b2", "ghost", domain.TicketPriorityLow, monday(11, 0))
	h.ticket("b3", "closed", domain.TicketPriorityLow, monday(11, 0))
	responded := monday(10, 0)
	h.store.PutTicket(domain.Ticket{ID: "b4", EntityID: "ghost", Priority: domain.TicketPriorityUrgent, CreatedAt: monday(9, 0), FirstResponseAt: &responded})

	report, err := h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Pinned)
	assert.Equal(t, 1, report.SkippedTickets)

	assert.Equal(t, domain.SLAStatusActive, h.state(t, "b1").ResponseStatus)
	assert.Equal(t, domain.SLAStatusNoSLA, h.state(t, "b2").ResponseStatus)
	assert.Equal(t, domain.SLAStatusNoSLA, h.state(t, "b3").ResolutionStatus)
	assert.Equal(t, domain.SLAStatusMet, h.state(t, "b4").ResponseStatus)

	met := h.log.ofType(events.EventSLAMet)
	require.Len(t, met, 1)
	var payload events.SLATransitionPayload
	require.NoError(t, events.DecodePayload(met[0], &payload))
	assert.Equal(t, TriggerBackfill, payload.Trigger)
}

type failingStates struct {
	*memory.Store
	breachErr error
}

func (f failingStates) BreachOverdue(context.Context, domain.Metric, time.Time, int) ([]repository.MetricTransition, error) {
	return nil, f.breachErr
}

func TestTickAbortsWhenStoreUnavailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "ghost", domain.TicketPriorityUrgent, monday(9, 0)))
	require.NoError(t, err)

	broken := h.deps
	broken.States = failingStates{Store: h.store, breachErr: apperrors.NewStoreUnavailable("sla state store", context.DeadlineExceeded)}
	_, err = NewSLAService(broken).Tick(ctx)
	assert.True(t, apperrors.IsStoreUnavailable(err))
	assert.Equal(t, domain.SLAStatusActive, h.state(t, "t-1").ResponseStatus)

	unreadable := h.deps
	unreadable.Tickets = phantomTickets{TicketRepository: h.store, listErr: apperrors.NewStoreUnavailable("ticket store", context.DeadlineExceeded)}
	_, err = NewSLAService(unreadable).Tick(ctx)
	assert.True(t, apperrors.IsStoreUnavailable(err))
	assert.Equal(t, domain.SLAStatusActive, h.state(t, "t-1").ResponseStatus, "a store error is never a passed deadline")
}

func TestTickSkipsWhileLeaseHeld(t *testing.T) {
	lease := persistence.NewLocalLease()
	h := newHarness(t, func(d *SLADependencies) { d.Lease = lease })
	ctx := context.Background()
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "ghost", domain.TicketPriorityUrgent, monday(9, 0)))
	require.NoError(t, err)

	release, ok, err := lease.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, domain.SLAStatusActive, h.state(t, "t-1").ResponseStatus)

	require.NoError(t, release(ctx))
	report, err = h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Breached)

	_, ok, err = lease.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "tick released its lease")
}

func TestTickBoundedBatches(t *testing.T) {
	h := newHarness(t, func(d *SLADependencies) {
		d.Config.BatchSize = 2
		d.Config.MaxBatches = 2
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := h.svc.PinTicket(ctx, h.ticket(string(rune('a'+i)), "ghost", domain.TicketPriorityUrgent, monday(8, i)))
		require.NoError(t, err)
	}

	report, err := h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Breached)
	assert.True(t, report.Incomplete)

	report, err = h.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Breached)
	assert.False(t, report.Incomplete)
}

func TestComplianceRateExcludesActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		created := monday(8, i)
		_, err := h.svc.PinTicket(ctx, h.ticket(id, "ghost", domain.TicketPriorityUrgent, created))
		require.NoError(t, err)
		switch {
		case i < 6:
			_, err = h.svc.RecordFirstResponse(ctx, id, created.Add(time.Hour))
		case i < 8:
			_, err = h.svc.RecordFirstResponse(ctx, id, created.Add(3*time.Hour))
		}
		require.NoError(t, err)
	}
	_, err := h.svc.PinTicket(ctx, h.ticket("later", "ghost", domain.TicketPriorityUrgent, monday(8, 0).AddDate(0, 0, 1)))
	require.NoError(t, err)
	_, err = h.svc.PinTicket(ctx, h.ticket("other", "acme", domain.TicketPriorityUrgent, monday(8, 0)))
	require.NoError(t, err)

	report, err := h.svc.ComplianceRate(ctx, "ghost", monday(0, 0), monday(0, 0).AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.TotalTickets)
	assert.Equal(t, int64(6), report.ResponseMet)
	assert.Equal(t, int64(2), report.ResponseBreached)
	assert.Equal(t, 75.0, report.ResponseCompliancePct)
	assert.Zero(t, report.ResolutionCompliancePct)

	_, err = h.svc.ComplianceRate(ctx, "ghost", monday(0, 0), monday(0, 0))
	assert.True(t, apperrors.IsValidation(err))
}

func TestCompliancePct(t *testing.T) {
	assert.Equal(t, 0.0, compliancePct(0, 0))
	assert.Equal(t, 100.0, compliancePct(3, 0))
	assert.Equal(t, 66.67, compliancePct(2, 1))
	assert.Equal(t, 33.33, compliancePct(1, 2))
}

func TestRepinAppliesCurrentCatalog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := monday(9, 0)
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "ghost", domain.TicketPriorityMedium, created))
	require.NoError(t, err)

	one, ten := 1, 10
	require.NoError(t, h.catalog.Upsert(ctx, &domain.SLARule{
		ID: 4, Name: "Global default", Priority: domain.PriorityDefault,
		ResponseHours: &one, ResolutionHours: &ten, Active: true,
	}))

	st, err := h.svc.PinTicket(ctx, domain.Ticket{ID: "t-1", EntityID: "ghost", Priority: domain.TicketPriorityMedium, CreatedAt: created})
	require.NoError(t, err)
	assert.False(t, st.HasRule(), "pinned state is authoritative until re-pinned")

	st, err = h.svc.RepinTicket(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, st.PinnedRuleID)
	assert.Equal(t, int64(4), *st.PinnedRuleID)
	assert.Equal(t, domain.SLAStatusActive, st.ResponseStatus)
	assert.Equal(t, created.Add(time.Hour), *st.ResponseDueAt)

	_, err = h.svc.RepinTicket(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRepinKeepsTerminalMetrics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acme := "acme"
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", acme, domain.TicketPriorityMedium, monday(9, 0)))
	require.NoError(t, err)
	_, err = h.svc.RecordFirstResponse(ctx, "t-1", monday(10, 0))
	require.NoError(t, err)
	before := h.state(t, "t-1")

	two, eight := 2, 8
	require.NoError(t, h.catalog.Upsert(ctx, &domain.SLARule{
		ID: 1, EntityID: &acme, Name: "Acme default", Priority: domain.PriorityDefault,
		ResponseHours: &two, ResolutionHours: &eight, BusinessHoursOnly: true, Active: true,
	}))

	st, err := h.svc.RepinTicket(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStatusMet, st.ResponseStatus)
	assert.Equal(t, before.ResponseDueAt, st.ResponseDueAt)
	assert.Equal(t, monday(17, 0), *st.ResolutionDueAt)
	assert.Equal(t, domain.SLAStatusActive, st.ResolutionStatus)
}

func TestPreviewDueDatesWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	preview, err := h.svc.PreviewDueDates(ctx, domain.Ticket{ID: "p-1", EntityID: "acme", Priority: domain.TicketPriorityHigh, CreatedAt: testfixtures.ReferenceTime()})
	require.NoError(t, err)
	require.NotNil(t, preview.Rule)
	assert.Equal(t, int64(1), preview.Rule.ID)
	assert.Equal(t, "entity_default", preview.Specificity)
	assert.Equal(t, time.Date(2024, 3, 6, 16, 0, 0, 0, time.UTC), *preview.ResponseDueAt)
	assert.Empty(t, preview.Problems)

	_, err = h.store.Get(ctx, "p-1")
	assert.True(t, apperrors.IsNotFound(err))

	preview, err = h.svc.PreviewDueDates(ctx, domain.Ticket{ID: "p-2", EntityID: "ghost", Priority: domain.TicketPriorityLow, CreatedAt: monday(9, 0)})
	require.NoError(t, err)
	assert.Contains(t, preview.Problems, "calendar")
	assert.Nil(t, preview.ResponseDueAt)

	preview, err = h.svc.PreviewDueDates(ctx, domain.Ticket{ID: "p-3", EntityID: "ghost", Priority: domain.TicketPriorityMedium, CreatedAt: monday(9, 0)})
	require.NoError(t, err)
	assert.Nil(t, preview.Rule)
}

func TestTimingMetrics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "acme", domain.TicketPriorityMedium, testfixtures.ReferenceTime()))
	require.NoError(t, err)
	_, err = h.svc.RecordFirstResponse(ctx, "t-1", monday(10, 0))
	require.NoError(t, err)

	report, err := h.svc.TimingMetrics(ctx, "t-1")
	require.NoError(t, err)
	resp := report.Response
	require.NotNil(t, resp.DurationMinutes)
	assert.Equal(t, int64(66*60), *resp.DurationMinutes)
	require.NotNil(t, resp.BusinessMinutes)
	assert.Equal(t, int64(120), *resp.BusinessMinutes)
	assert.Equal(t, int64(1440), *resp.TargetMinutes)
	assert.True(t, *resp.WithinSLA)

	res := report.Resolution
	assert.Nil(t, res.DurationMinutes)
	assert.Nil(t, res.WithinSLA)
	assert.Equal(t, int64(2400), *res.TargetMinutes)

	_, err = h.svc.TimingMetrics(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestTimingMetricsUsesPinnedTargets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.PinTicket(ctx, h.ticket("t-1", "acme", domain.TicketPriorityMedium, monday(9, 0)))
	require.NoError(t, err)

	rule, err := h.catalog.GetByID(ctx, 1)
	require.NoError(t, err)
	edited := *rule
	four, eight := 4, 8
	edited.ResponseHours = &four
	edited.ResolutionHours = &eight
	edited.BusinessHoursOnly = false
	require.NoError(t, h.catalog.Upsert(ctx, &edited))

	_, err = h.svc.RecordFirstResponse(ctx, "t-1", monday(10, 0))
	require.NoError(t, err)
	report, err := h.svc.TimingMetrics(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1440), *report.Response.TargetMinutes)
	assert.Equal(t, int64(2400), *report.Resolution.TargetMinutes)
	require.NotNil(t, report.Response.BusinessMinutes, "measured on the pinned business-hours clock")
	assert.Equal(t, int64(60), *report.Response.BusinessMinutes)

	_, err = h.svc.RepinTicket(ctx, "t-1")
	require.NoError(t, err)
	report, err = h.svc.TimingMetrics(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1440), *report.Response.TargetMinutes, "settled metric keeps its target")
	assert.Equal(t, int64(480), *report.Resolution.TargetMinutes)
	assert.Nil(t, report.Response.BusinessMinutes)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Status(ctx, "t-1")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = h.svc.PinTicket(ctx, h.ticket("t-1", "acme", domain.TicketPriorityMedium, monday(9, 0)))
	require.NoError(t, err)
	st, err := h.svc.Status(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", st.EntityID)
}
