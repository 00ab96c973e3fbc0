package sla

import (
	"strings"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
)

// AttributeLookup returns the value of a ticket field by name.
type AttributeLookup func(field string) (string, bool)

// TicketAttributes builds a lookup over a ticket's core fields and free-form attributes.
func TicketAttributes(entityID string, priority domain.TicketPriority, attrs map[string]string) AttributeLookup {
	return func(field string) (string, bool) {
		switch field {
		case "entity_id":
			return entityID, true
		case "priority":
			return string(priority), true
		}
		v, ok := attrs[field]
		return v, ok
	}
}

// MatchConditions reports whether every condition holds. An empty set always matches.
func MatchConditions(conditions []domain.RuleCondition, lookup AttributeLookup) bool {
	for _, c := range conditions {
		if !matchCondition(c, lookup) {
			return false
		}
	}
	return true
}

func matchCondition(c domain.RuleCondition, lookup AttributeLookup) bool {
	value, ok := lookup(c.Field)
	switch c.Operator {
	case domain.OperatorEquals:
		return ok && len(c.Value) > 0 && strings.EqualFold(value, c.Value[0])
	case domain.OperatorNotEquals:
		return !ok || len(c.Value) == 0 || !strings.EqualFold(value, c.Value[0])
	case domain.OperatorIn:
		return ok && containsFold(c.Value, value)
	case domain.OperatorNotIn:
		return !ok || !containsFold(c.Value, value)
	case domain.OperatorContains:
		if !ok {
			return false
		}
		for _, needle := range c.Value {
			if strings.Contains(strings.ToLower(value), strings.ToLower(needle)) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
