package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

const configStore = "entity configuration store"

// SLARuleRepository manages the rule catalog.
type SLARuleRepository interface {
	// ListActiveRules returns active rules owned by the entity plus active global rules.
	ListActiveRules(ctx context.Context, entityID string) ([]domain.SLARule, error)
	ListAll(ctx context.Context) ([]domain.SLARule, error)
	GetByID(ctx context.Context, id int64) (*domain.SLARule, error)
	// Upsert inserts a rule, or updates it when ID is set. Existing pinned tickets are untouched.
	Upsert(ctx context.Context, rule *domain.SLARule) error
}

type slaRuleRepository struct {
	pool *pgxpool.Pool
}

// NewSLARuleRepository instantiates repository.
func NewSLARuleRepository(pool *pgxpool.Pool) SLARuleRepository {
	return &slaRuleRepository{pool: pool}
}

const ruleColumns = `id, entity_id, name, priority, response_hours, resolution_hours, escalation_hours,
               business_hours_only, active, precedence, COALESCE(conditions, '[]'::jsonb)`

func (r *slaRuleRepository) ListActiveRules(ctx context.Context, entityID string) ([]domain.SLARule, error) {
	query := `SELECT ` + ruleColumns + `
        FROM sla_rules
        WHERE active AND (entity_id IS NULL OR entity_id = $1)
        ORDER BY precedence, id`
	return r.list(ctx, query, entityID)
}

func (r *slaRuleRepository) ListAll(ctx context.Context) ([]domain.SLARule, error) {
	query := `SELECT ` + ruleColumns + ` FROM sla_rules ORDER BY entity_id NULLS FIRST, priority, precedence, id`
	return r.list(ctx, query)
}

func (r *slaRuleRepository) list(ctx context.Context, query string, args ...any) ([]domain.SLARule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(configStore, err)
	}
	defer rows.Close()

	var rules []domain.SLARule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperrors.NewStoreUnavailable(configStore, err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(configStore, err)
	}
	return rules, nil
}

func (r *slaRuleRepository) GetByID(ctx context.Context, id int64) (*domain.SLARule, error) {
	query := `SELECT ` + ruleColumns + ` FROM sla_rules WHERE id = $1`
	rule, err := scanRule(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, apperrors.StoreError(configStore, "sla rule", err, map[string]any{"rule_id": id})
	}
	return rule, nil
}

func (r *slaRuleRepository) Upsert(ctx context.Context, rule *domain.SLARule) error {
	if err := rule.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"rule": rule.Name})
	}
	conditions := rule.Conditions
	if conditions == nil {
		conditions = []domain.RuleCondition{}
	}

	if rule.ID == 0 {
		const query = `
            INSERT INTO sla_rules (entity_id, name, priority, response_hours, resolution_hours, escalation_hours,
                business_hours_only, active, precedence, conditions)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
            RETURNING id`
		err := r.pool.QueryRow(ctx, query,
			rule.EntityID, rule.Name, rule.Priority, rule.ResponseHours, rule.ResolutionHours, rule.EscalationHours,
			rule.BusinessHoursOnly, rule.Active, rule.Precedence, conditions,
		).Scan(&rule.ID)
		if err != nil {
			return ruleWriteError(rule, err)
		}
		return nil
	}

	const query = `
        INSERT INTO sla_rules (id, entity_id, name, priority, response_hours, resolution_hours, escalation_hours,
            business_hours_only, active, precedence, conditions)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (id) DO UPDATE SET entity_id=EXCLUDED.entity_id, name=EXCLUDED.name, priority=EXCLUDED.priority,
            response_hours=EXCLUDED.response_hours, resolution_hours=EXCLUDED.resolution_hours,
            escalation_hours=EXCLUDED.escalation_hours, business_hours_only=EXCLUDED.business_hours_only,
            active=EXCLUDED.active, precedence=EXCLUDED.precedence, conditions=EXCLUDED.conditions,
            updated_at=NOW()`
	if _, err := r.pool.Exec(ctx, query,
		rule.ID, rule.EntityID, rule.Name, rule.Priority, rule.ResponseHours, rule.ResolutionHours, rule.EscalationHours,
		rule.BusinessHoursOnly, rule.Active, rule.Precedence, conditions,
	); err != nil {
		return ruleWriteError(rule, err)
	}
	// explicit ids bypass the identity sequence
	const resync = `SELECT setval(pg_get_serial_sequence('sla_rules', 'id'), GREATEST((SELECT MAX(id) FROM sla_rules), 1))`
	if _, err := r.pool.Exec(ctx, resync); err != nil {
		return apperrors.NewStoreUnavailable(configStore, err)
	}
	return nil
}

func ruleWriteError(rule *domain.SLARule, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperrors.NewConfigurationError("sla rule references an unknown entity", map[string]any{
			"rule":      rule.Name,
			"entity_id": rule.EntityID,
		})
	}
	return apperrors.NewStoreUnavailable(configStore, err)
}

func scanRule(row pgx.Row) (*domain.SLARule, error) {
	var rule domain.SLARule
	if err := row.Scan(
		&rule.ID,
		&rule.EntityID,
		&rule.Name,
		&rule.Priority,
		&rule.ResponseHours,
		&rule.ResolutionHours,
		&rule.EscalationHours,
		&rule.BusinessHoursOnly,
		&rule.Active,
		&rule.Precedence,
		&rule.Conditions,
	); err != nil {
		return nil, err
	}
	return &rule, nil
}
