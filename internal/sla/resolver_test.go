package sla

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func rule(id int64, entity *string, priority domain.TicketPriority, precedence int) domain.SLARule {
	return domain.SLARule{
		ID:            id,
		EntityID:      entity,
		Name:          "rule",
		Priority:      priority,
		ResponseHours: intPtr(4),
		Active:        true,
		Precedence:    precedence,
	}
}

func TestResolveLevels(t *testing.T) {
	acme := strPtr("acme")
	other := strPtr("globex")

	catalog := []domain.SLARule{
		rule(1, nil, domain.PriorityDefault, 0),
		rule(2, nil, domain.TicketPriorityHigh, 0),
		rule(3, acme, domain.PriorityDefault, 0),
		rule(4, acme, domain.TicketPriorityHigh, 0),
		rule(5, other, domain.TicketPriorityHigh, 0),
	}

	tests := []struct {
		name     string
		rules    []domain.SLARule
		entityID string
		priority domain.TicketPriority
		wantID   int64
		wantOK   bool
	}{
		{"entity and priority", catalog, "acme", domain.TicketPriorityHigh, 4, true},
		{"entity default", catalog, "acme", domain.TicketPriorityLow, 3, true},
		{"global priority", catalog, "initech", domain.TicketPriorityHigh, 2, true},
		{"global default", catalog, "initech", domain.TicketPriorityLow, 1, true},
		{"other entity never leaks", catalog[4:], "acme", domain.TicketPriorityHigh, 0, false},
		{"empty catalog", nil, "acme", domain.TicketPriorityHigh, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.rules, tt.entityID, tt.priority, nil)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, got.ID)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestResolveTieBreaks(t *testing.T) {
	acme := strPtr("acme")

	byPrecedence := []domain.SLARule{
		rule(10, acme, domain.TicketPriorityHigh, 5),
		rule(11, acme, domain.TicketPriorityHigh, 1),
		rule(12, acme, domain.TicketPriorityHigh, 3),
	}
	got, ok := Resolve(byPrecedence, "acme", domain.TicketPriorityHigh, nil)
	require.True(t, ok)
	assert.Equal(t, int64(11), got.ID)

	byID := []domain.SLARule{
		rule(30, acme, domain.TicketPriorityHigh, 1),
		rule(20, acme, domain.TicketPriorityHigh, 1),
		rule(25, acme, domain.TicketPriorityHigh, 1),
	}
	got, ok = Resolve(byID, "acme", domain.TicketPriorityHigh, nil)
	require.True(t, ok)
	assert.Equal(t, int64(20), got.ID)
}

func TestResolveSkipsInactiveAndUnmatched(t *testing.T) {
	acme := strPtr("acme")
	inactive := rule(1, acme, domain.TicketPriorityHigh, 0)
	inactive.Active = false
	vipOnly := rule(2, acme, domain.TicketPriorityHigh, 0)
	vipOnly.Conditions = []domain.RuleCondition{{Field: "tier", Operator: domain.OperatorEquals, Value: []string{"vip"}}}
	fallback := rule(3, nil, domain.PriorityDefault, 0)

	rules := []domain.SLARule{inactive, vipOnly, fallback}

	got, ok := Resolve(rules, "acme", domain.TicketPriorityHigh, map[string]string{"tier": "standard"})
	require.True(t, ok)
	assert.Equal(t, int64(3), got.ID)

	got, ok = Resolve(rules, "acme", domain.TicketPriorityHigh, map[string]string{"tier": "VIP"})
	require.True(t, ok)
	assert.Equal(t, int64(2), got.ID)
}

func TestResolveIsDeterministic(t *testing.T) {
	acme := strPtr("acme")
	rules := []domain.SLARule{
		rule(7, acme, domain.TicketPriorityUrgent, 2),
		rule(3, acme, domain.TicketPriorityUrgent, 2),
		rule(9, nil, domain.TicketPriorityUrgent, 0),
	}

	first, ok := Resolve(rules, "acme", domain.TicketPriorityUrgent, nil)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, ok := Resolve(rules, "acme", domain.TicketPriorityUrgent, nil)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, int64(3), first.ID)
}

func TestResolveReturnsCopy(t *testing.T) {
	rules := []domain.SLARule{rule(1, nil, domain.PriorityDefault, 0)}
	got, ok := Resolve(rules, "acme", domain.TicketPriorityLow, nil)
	require.True(t, ok)
	got.Precedence = 99
	assert.Equal(t, 0, rules[0].Precedence)
}

func TestMatchConditions(t *testing.T) {
	lookup := TicketAttributes("acme", domain.TicketPriorityHigh, map[string]string{
		"channel": "email",
		"subject": "Server down in production",
	})

	tests := []struct {
		name      string
		condition domain.RuleCondition
		want      bool
	}{
		{"equals", domain.RuleCondition{Field: "channel", Operator: "=", Value: []string{"EMAIL"}}, true},
		{"equals missing field", domain.RuleCondition{Field: "tier", Operator: "=", Value: []string{"vip"}}, false},
		{"not equals", domain.RuleCondition{Field: "channel", Operator: "!=", Value: []string{"phone"}}, true},
		{"not equals missing field", domain.RuleCondition{Field: "tier", Operator: "!=", Value: []string{"vip"}}, true},
		{"in", domain.RuleCondition{Field: "priority", Operator: "in", Value: []string{"URGENT", "HIGH"}}, true},
		{"not in", domain.RuleCondition{Field: "entity_id", Operator: "not_in", Value: []string{"acme"}}, false},
		{"contains", domain.RuleCondition{Field: "subject", Operator: "contains", Value: []string{"production"}}, true},
		{"unknown operator", domain.RuleCondition{Field: "channel", Operator: "~", Value: []string{"email"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchConditions([]domain.RuleCondition{tt.condition}, lookup))
		})
	}

	assert.True(t, MatchConditions(nil, lookup))
}

type stubCatalog struct {
	rules []domain.SLARule
	err   error
}

func (s stubCatalog) ListActiveRules(_ context.Context, _ string) ([]domain.SLARule, error) {
	return s.rules, s.err
}

func TestResolverResolveTicket(t *testing.T) {
	ticket := domain.Ticket{ID: "t-1", EntityID: "acme", Priority: domain.TicketPriorityHigh}

	r := NewResolver(stubCatalog{rules: []domain.SLARule{rule(1, nil, domain.TicketPriorityHigh, 0)}})
	got, err := r.ResolveTicket(context.Background(), ticket)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)

	r = NewResolver(stubCatalog{})
	got, err = r.ResolveTicket(context.Background(), ticket)
	require.NoError(t, err)
	assert.Nil(t, got)

	storeErr := errors.New("db down")
	r = NewResolver(stubCatalog{err: storeErr})
	_, err = r.ResolveTicket(context.Background(), ticket)
	assert.ErrorIs(t, err, storeErr)
}

func TestSortRules(t *testing.T) {
	rules := []domain.SLARule{
		rule(3, strPtr("b"), domain.TicketPriorityHigh, 0),
		rule(2, nil, domain.TicketPriorityLow, 1),
		rule(1, nil, domain.TicketPriorityLow, 0),
	}
	SortRules(rules)
	assert.Equal(t, []int64{1, 2, 3}, []int64{rules[0].ID, rules[1].ID, rules[2].ID})
}
