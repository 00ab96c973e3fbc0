package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/sla"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

const sample = `
calendars:
  - entity_id: acme
    timezone: UTC
    windows:
      - { day: monday, start: "09:00", end: "17:00" }
      - { day: "2", start: "09:00", end: "12:00" }
      - { day: tue, start: "13:00", end: "17:00", active: false }
    holidays:
      - { name: Christmas, month: 12, day: 25 }
rules:
  - id: 5
    name: Global default
    priority: any
    response_hours: 8
  - entity_id: acme
    name: Acme high
    priority: high
    response_hours: 2
    business_hours_only: false
  - id: 3
    name: Disabled
    priority: HIGH
    response_hours: 1
    active: false
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	ctx := context.Background()

	cal, err := c.GetCalendar(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, cal.Windows, 3)
	assert.Equal(t, time.Monday, cal.Windows[0].Day)
	assert.Equal(t, domain.NewClockTime(9, 0), cal.Windows[0].Start)
	assert.Equal(t, time.Tuesday, cal.Windows[1].Day)
	assert.False(t, cal.Windows[2].Active)
	assert.Equal(t, time.December, cal.Holidays[0].Month)

	all, err := c.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 5, 6}, []int64{all[0].ID, all[1].ID, all[2].ID})

	global, err := c.GetByID(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityDefault, global.Priority)
	assert.True(t, global.BusinessHoursOnly)
	assert.True(t, global.Active)

	acme, err := c.GetByID(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityHigh, acme.Priority)
	assert.False(t, acme.BusinessHoursOnly)

	active, err := c.ListActiveRules(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	other, err := c.ListActiveRules(ctx, "globex")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, int64(5), other[0].ID)
}

func TestParseFeedsResolver(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	r := sla.NewResolver(c)
	rule, err := r.ResolveTicket(context.Background(), domain.Ticket{ID: "t", EntityID: "acme", Priority: domain.TicketPriorityHigh})
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, int64(6), rule.ID)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "rules: [oops"},
		{"bad weekday", "calendars: [{entity_id: a, windows: [{day: funday, start: \"09:00\", end: \"10:00\"}]}]"},
		{"inverted window", "calendars: [{entity_id: a, windows: [{day: mon, start: \"10:00\", end: \"09:00\"}]}]"},
		{"bad clock", "calendars: [{entity_id: a, windows: [{day: mon, start: \"25:00\", end: \"26:00\"}]}]"},
		{"negative hours", "rules: [{id: 1, name: x, priority: HIGH, response_hours: -1}]"},
		{"duplicate ids", "rules: [{id: 1, name: x, priority: HIGH}, {id: 1, name: y, priority: LOW}]"},
		{"bad operator", "rules: [{id: 1, name: x, priority: HIGH, conditions: [{field: a, operator: like, value: [b]}]}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{
		"Sunday": time.Sunday, "mon": time.Monday, " FRIDAY ": time.Friday, "6": time.Saturday, "0": time.Sunday,
	} {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseWeekday("7")
	assert.Error(t, err)
}

func TestUpsertAndCalendarNotFound(t *testing.T) {
	c := New(nil, nil)
	ctx := context.Background()

	rule := &domain.SLARule{Name: "new", Priority: domain.TicketPriorityLow, Active: true}
	require.NoError(t, c.Upsert(ctx, rule))
	assert.Equal(t, int64(1), rule.ID)

	rule.Precedence = 4
	require.NoError(t, c.Upsert(ctx, rule))
	got, err := c.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Precedence)

	_, err = c.GetCalendar(ctx, "ghost")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = c.GetByID(ctx, 99)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestImportInto(t *testing.T) {
	src, err := Parse([]byte(sample))
	require.NoError(t, err)
	dst := New(nil, nil)

	res, err := src.ImportInto(context.Background(), dst, dst)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Calendars: 1, Rules: 3}, res)

	all, err := dst.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
	_, err = dst.GetCalendar(context.Background(), "acme")
	assert.NoError(t, err)
}

type failingHours struct {
	*Catalog
}

func (failingHours) SaveCalendar(context.Context, domain.BusinessHoursCalendar) error {
	return errors.New("disk full")
}

func TestImportIntoStopsOnError(t *testing.T) {
	src, err := Parse([]byte(sample))
	require.NoError(t, err)
	dst := New(nil, nil)

	_, err = src.ImportInto(context.Background(), dst, failingHours{dst})
	assert.Error(t, err)
	all, _ := dst.ListAll(context.Background())
	assert.Empty(t, all)
}
