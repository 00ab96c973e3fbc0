// Package sla resolves the rule that governs a ticket and turns it into due dates.
package sla

import (
	"context"
	"fmt"
	"sort"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
)

// Specificity ranks how closely a rule targets a ticket. Lower is more specific.
type Specificity int

const (
	SpecificityEntityPriority Specificity = iota + 1
	SpecificityEntityDefault
	SpecificityGlobalPriority
	SpecificityGlobalDefault
	specificityNone
)

func (s Specificity) String() string {
	switch s {
	case SpecificityEntityPriority:
		return "entity_priority"
	case SpecificityEntityDefault:
		return "entity_default"
	case SpecificityGlobalPriority:
		return "global_priority"
	case SpecificityGlobalDefault:
		return "global_default"
	default:
		return "none"
	}
}

func specificity(r domain.SLARule, entityID string, priority domain.TicketPriority) Specificity {
	switch {
	case !r.IsGlobal() && *r.EntityID == entityID && r.Priority == priority:
		return SpecificityEntityPriority
	case !r.IsGlobal() && *r.EntityID == entityID && r.IsDefaultPriority():
		return SpecificityEntityDefault
	case r.IsGlobal() && r.Priority == priority:
		return SpecificityGlobalPriority
	case r.IsGlobal() && r.IsDefaultPriority():
		return SpecificityGlobalDefault
	default:
		return specificityNone
	}
}

// Resolve picks the governing rule from a catalog snapshot: entity rule for the
// priority, entity default, global rule for the priority, global default. Within a
// level the lowest precedence wins, then the lowest id. Inactive rules and rules
// whose conditions do not match the ticket attributes are ignored.
func Resolve(rules []domain.SLARule, entityID string, priority domain.TicketPriority, attrs map[string]string) (*domain.SLARule, bool) {
	lookup := TicketAttributes(entityID, priority, attrs)

	var best *domain.SLARule
	bestLevel := specificityNone
	for i := range rules {
		r := &rules[i]
		if !r.Active {
			continue
		}
		level := specificity(*r, entityID, priority)
		if level == specificityNone || level > bestLevel {
			continue
		}
		if !MatchConditions(r.Conditions, lookup) {
			continue
		}
		if level < bestLevel || r.Precedence < best.Precedence ||
			(r.Precedence == best.Precedence && r.ID < best.ID) {
			best = r
			bestLevel = level
		}
	}
	if best == nil {
		return nil, false
	}
	picked := *best
	return &picked, true
}

// SpecificityOf reports the level at which a rule applies to a ticket.
func SpecificityOf(r domain.SLARule, entityID string, priority domain.TicketPriority) Specificity {
	return specificity(r, entityID, priority)
}

// RuleCatalog supplies the active rules visible to an entity: its own and the global ones.
type RuleCatalog interface {
	ListActiveRules(ctx context.Context, entityID string) ([]domain.SLARule, error)
}

// Resolver resolves rules against a live catalog.
type Resolver struct {
	catalog RuleCatalog
}

// NewResolver builds a resolver over the catalog.
func NewResolver(catalog RuleCatalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// ResolveTicket loads a catalog snapshot and resolves the ticket's rule. A nil rule
// with a nil error means no rule applies.
func (r *Resolver) ResolveTicket(ctx context.Context, ticket domain.Ticket) (*domain.SLARule, error) {
	rules, err := r.catalog.ListActiveRules(ctx, ticket.EntityID)
	if err != nil {
		return nil, fmt.Errorf("load sla rules: %w", err)
	}
	rule, ok := Resolve(rules, ticket.EntityID, ticket.Priority, ticket.Attributes)
	if !ok {
		return nil, nil
	}
	return rule, nil
}

// SortRules orders rules by entity, priority, precedence and id for stable listings.
func SortRules(rules []domain.SLARule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		ae, be := "", ""
		if a.EntityID != nil {
			ae = *a.EntityID
		}
		if b.EntityID != nil {
			be = *b.EntityID
		}
		if ae != be {
			return ae < be
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Precedence != b.Precedence {
			return a.Precedence < b.Precedence
		}
		return a.ID < b.ID
	})
}
