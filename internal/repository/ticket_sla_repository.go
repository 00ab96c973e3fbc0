package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

const slaStore = "sla state store"

// ErrAlreadyPinned is returned by Create when the ticket already has SLA state.
var ErrAlreadyPinned = apperrors.NewDomainError(apperrors.CodeConflict, "ticket sla already pinned", http.StatusConflict, nil)

// MetricTransition describes a metric that changed status in a batch update.
type MetricTransition struct {
	TicketID string
	EntityID string
	Metric   domain.Metric
	DueAt    time.Time
}

// Escalation describes a ticket whose escalation deadline passed unresolved.
type Escalation struct {
	TicketID        string
	EntityID        string
	EscalationDueAt time.Time
	EscalatedAt     time.Time
}

// NearingBreach is an active metric due within a warning window.
type NearingBreach struct {
	TicketID string
	EntityID string
	Metric   domain.Metric
	DueAt    time.Time
}

// CompletionResult reports the outcome of recording a satisfying event.
type CompletionResult struct {
	Previous     domain.SLAStatus
	Current      domain.SLAStatus
	Transitioned bool
}

// ComplianceCounts aggregates terminal outcomes for a period.
type ComplianceCounts struct {
	TotalTickets       int64
	ResponseMet        int64
	ResponseBreached   int64
	ResolutionMet      int64
	ResolutionBreached int64
}

// TicketSLARepository persists pinned SLA state. Every status change is a conditional
// update keyed on the expected current status.
type TicketSLARepository interface {
	Create(ctx context.Context, state *domain.TicketSLAState) error
	Get(ctx context.Context, ticketID string) (*domain.TicketSLAState, error)
	// Repin overwrites the pinned rule and deadlines if both statuses still equal prev's.
	Repin(ctx context.Context, next, prev *domain.TicketSLAState) error
	// CompleteMetric records the satisfying instant once and moves an active metric to
	// met or breached depending on the due date.
	CompleteMetric(ctx context.Context, ticketID string, metric domain.Metric, at time.Time) (CompletionResult, error)
	// BreachOverdue flips up to limit overdue active metrics to breached. In every
	// batch method a limit <= 0 means no limit.
	BreachOverdue(ctx context.Context, metric domain.Metric, now time.Time, limit int) ([]MetricTransition, error)
	EscalateOverdue(ctx context.Context, now time.Time, limit int) ([]Escalation, error)
	ListNearingBreach(ctx context.Context, now, until time.Time, limit int) ([]NearingBreach, error)
	// MarkWarningSent sets the warning flag of a still active, unsatisfied metric and
	// reports whether this call set it.
	MarkWarningSent(ctx context.Context, ticketID string, metric domain.Metric) (bool, error)
	ComplianceCounts(ctx context.Context, entityID string, from, to time.Time) (ComplianceCounts, error)
}

type metricColumns struct {
	status    string
	due       string
	satisfied string
	warning   string
}

func columnsFor(m domain.Metric) metricColumns {
	if m == domain.MetricResponse {
		return metricColumns{"response_status", "response_due_at", "first_response_at", "warning_sent_response"}
	}
	return metricColumns{"resolution_status", "resolution_due_at", "resolved_at", "warning_sent_resolution"}
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as LIMIT ALL.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

type ticketSLARepository struct {
	pool *pgxpool.Pool
}

// NewTicketSLARepository instantiates repository.
func NewTicketSLARepository(pool *pgxpool.Pool) TicketSLARepository {
	return &ticketSLARepository{pool: pool}
}

const stateColumns = `ticket_id, entity_id, pinned_rule_id, created_at, response_due_at, resolution_due_at,
               escalation_due_at, first_response_at, resolved_at, response_status, resolution_status,
               warning_sent_response, warning_sent_resolution, escalated_at, pinned_at,
               business_hours_only, response_target_minutes, resolution_target_minutes`

func (r *ticketSLARepository) Create(ctx context.Context, state *domain.TicketSLAState) error {
	const query = `
        INSERT INTO ticket_sla (ticket_id, entity_id, pinned_rule_id, created_at, response_due_at, resolution_due_at,
            escalation_due_at, first_response_at, resolved_at, response_status, resolution_status, pinned_at,
            business_hours_only, response_target_minutes, resolution_target_minutes)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT (ticket_id) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query,
		state.TicketID,
		state.EntityID,
		state.PinnedRuleID,
		state.CreatedAt,
		state.ResponseDueAt,
		state.ResolutionDueAt,
		state.EscalationDueAt,
		state.FirstResponseAt,
		state.ResolvedAt,
		state.ResponseStatus,
		state.ResolutionStatus,
		state.PinnedAt,
		state.BusinessHoursOnly,
		state.ResponseTargetMinutes,
		state.ResolutionTargetMinutes,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": state.TicketID})
		}
		return apperrors.NewStoreUnavailable(slaStore, err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyPinned
	}
	return nil
}

func (r *ticketSLARepository) Get(ctx context.Context, ticketID string) (*domain.TicketSLAState, error) {
	query := `SELECT ` + stateColumns + ` FROM ticket_sla WHERE ticket_id = $1`
	var s domain.TicketSLAState
	err := r.pool.QueryRow(ctx, query, ticketID).Scan(
		&s.TicketID,
		&s.EntityID,
		&s.PinnedRuleID,
		&s.CreatedAt,
		&s.ResponseDueAt,
		&s.ResolutionDueAt,
		&s.EscalationDueAt,
		&s.FirstResponseAt,
		&s.ResolvedAt,
		&s.ResponseStatus,
		&s.ResolutionStatus,
		&s.WarningSentResponse,
		&s.WarningSentResolution,
		&s.EscalatedAt,
		&s.PinnedAt,
		&s.BusinessHoursOnly,
		&s.ResponseTargetMinutes,
		&s.ResolutionTargetMinutes,
	)
	if err != nil {
		return nil, apperrors.StoreError(slaStore, "ticket sla", err, map[string]any{"ticket_id": ticketID})
	}
	return &s, nil
}

func (r *ticketSLARepository) Repin(ctx context.Context, next, prev *domain.TicketSLAState) error {
	const query = `
        UPDATE ticket_sla SET pinned_rule_id=$2, response_due_at=$3, resolution_due_at=$4, escalation_due_at=$5,
            response_status=$6, resolution_status=$7, warning_sent_response=$8, warning_sent_resolution=$9,
            escalated_at=$10, pinned_at=$11, business_hours_only=$14, response_target_minutes=$15,
            resolution_target_minutes=$16, updated_at=NOW()
        WHERE ticket_id=$1 AND response_status=$12 AND resolution_status=$13`
	cmd, err := r.pool.Exec(ctx, query,
		next.TicketID,
		next.PinnedRuleID,
		next.ResponseDueAt,
		next.ResolutionDueAt,
		next.EscalationDueAt,
		next.ResponseStatus,
		next.ResolutionStatus,
		next.WarningSentResponse,
		next.WarningSentResolution,
		next.EscalatedAt,
		next.PinnedAt,
		prev.ResponseStatus,
		prev.ResolutionStatus,
		next.BusinessHoursOnly,
		next.ResponseTargetMinutes,
		next.ResolutionTargetMinutes,
	)
	if err != nil {
		return apperrors.NewStoreUnavailable(slaStore, err)
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NewConflict("ticket sla changed during re-pin", map[string]any{"ticket_id": next.TicketID})
	}
	return nil
}

func (r *ticketSLARepository) CompleteMetric(ctx context.Context, ticketID string, metric domain.Metric, at time.Time) (CompletionResult, error) {
	c := columnsFor(metric)
	query := fmt.Sprintf(`
        WITH prev AS (
            SELECT ticket_id, %[1]s AS status FROM ticket_sla WHERE ticket_id = $1 FOR UPDATE
        )
        UPDATE ticket_sla s SET
            %[3]s = COALESCE(s.%[3]s, $2),
            %[1]s = CASE
                WHEN s.%[1]s = 'active' AND $2 <= s.%[2]s THEN 'met'
                WHEN s.%[1]s = 'active' THEN 'breached'
                ELSE s.%[1]s END,
            updated_at = NOW()
        FROM prev
        WHERE s.ticket_id = prev.ticket_id
        RETURNING prev.status, s.%[1]s`, c.status, c.due, c.satisfied)

	var res CompletionResult
	if err := r.pool.QueryRow(ctx, query, ticketID, at).Scan(&res.Previous, &res.Current); err != nil {
		return CompletionResult{}, apperrors.StoreError(slaStore, "ticket sla", err, map[string]any{"ticket_id": ticketID})
	}
	res.Transitioned = res.Previous != res.Current
	return res, nil
}

func (r *ticketSLARepository) BreachOverdue(ctx context.Context, metric domain.Metric, now time.Time, limit int) ([]MetricTransition, error) {
	c := columnsFor(metric)
	query := fmt.Sprintf(`
        UPDATE ticket_sla s SET %[1]s = 'breached', updated_at = NOW()
        WHERE s.ticket_id IN (
            SELECT ticket_id FROM ticket_sla
            WHERE %[1]s = 'active' AND %[2]s < $1 AND %[3]s IS NULL
            ORDER BY %[2]s
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        AND s.%[1]s = 'active' AND s.%[2]s < $1 AND s.%[3]s IS NULL
        RETURNING s.ticket_id, s.entity_id, s.%[2]s`, c.status, c.due, c.satisfied)

	rows, err := r.pool.Query(ctx, query, now, limitArg(limit))
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(slaStore, err)
	}
	defer rows.Close()

	var out []MetricTransition
	for rows.Next() {
		t := MetricTransition{Metric: metric}
		if err := rows.Scan(&t.TicketID, &t.EntityID, &t.DueAt); err != nil {
			return nil, apperrors.NewStoreUnavailable(slaStore, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(slaStore, err)
	}
	return out, nil
}

func (r *ticketSLARepository) EscalateOverdue(ctx context.Context, now time.Time, limit int) ([]Escalation, error) {
	const query = `
        UPDATE ticket_sla s SET escalated_at = $1, updated_at = NOW()
        WHERE s.ticket_id IN (
            SELECT ticket_id FROM ticket_sla
            WHERE escalated_at IS NULL AND escalation_due_at < $1 AND resolved_at IS NULL
            ORDER BY escalation_due_at
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        AND s.escalated_at IS NULL AND s.resolved_at IS NULL
        RETURNING s.ticket_id, s.entity_id, s.escalation_due_at, s.escalated_at`

	rows, err := r.pool.Query(ctx, query, now, limitArg(limit))
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(slaStore, err)
	}
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		var e Escalation
		if err := rows.Scan(&e.TicketID, &e.EntityID, &e.EscalationDueAt, &e.EscalatedAt); err != nil {
			return nil, apperrors.NewStoreUnavailable(slaStore, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(slaStore, err)
	}
	return out, nil
}

func (r *ticketSLARepository) ListNearingBreach(ctx context.Context, now, until time.Time, limit int) ([]NearingBreach, error) {
	const query = `
        SELECT ticket_id, entity_id, metric, due_at FROM (
            SELECT ticket_id, entity_id, 'response' AS metric, response_due_at AS due_at
            FROM ticket_sla
            WHERE response_status = 'active' AND NOT warning_sent_response AND first_response_at IS NULL
              AND response_due_at >= $1 AND response_due_at <= $2
            UNION ALL
            SELECT ticket_id, entity_id, 'resolution', resolution_due_at
            FROM ticket_sla
            WHERE resolution_status = 'active' AND NOT warning_sent_resolution AND resolved_at IS NULL
              AND resolution_due_at >= $1 AND resolution_due_at <= $2
        ) nearing
        ORDER BY due_at, ticket_id
        LIMIT $3`

	rows, err := r.pool.Query(ctx, query, now, until, limitArg(limit))
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(slaStore, err)
	}
	defer rows.Close()

	var out []NearingBreach
	for rows.Next() {
		var n NearingBreach
		if err := rows.Scan(&n.TicketID, &n.EntityID, &n.Metric, &n.DueAt); err != nil {
			return nil, apperrors.NewStoreUnavailable(slaStore, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(slaStore, err)
	}
	return out, nil
}

func (r *ticketSLARepository) MarkWarningSent(ctx context.Context, ticketID string, metric domain.Metric) (bool, error) {
	c := columnsFor(metric)
	query := fmt.Sprintf(`
        UPDATE ticket_sla SET %[1]s = TRUE, updated_at = NOW()
        WHERE ticket_id = $1 AND NOT %[1]s AND %[2]s = 'active' AND %[3]s IS NULL`, c.warning, c.status, c.satisfied)
	cmd, err := r.pool.Exec(ctx, query, ticketID)
	if err != nil {
		return false, apperrors.NewStoreUnavailable(slaStore, err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketSLARepository) ComplianceCounts(ctx context.Context, entityID string, from, to time.Time) (ComplianceCounts, error) {
	const query = `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE response_status = 'met'),
               COUNT(*) FILTER (WHERE response_status = 'breached'),
               COUNT(*) FILTER (WHERE resolution_status = 'met'),
               COUNT(*) FILTER (WHERE resolution_status = 'breached')
        FROM ticket_sla
        WHERE pinned_rule_id IS NOT NULL
          AND ($1 = '' OR entity_id = $1)
          AND created_at >= $2 AND created_at < $3`

	var c ComplianceCounts
	err := r.pool.QueryRow(ctx, query, entityID, from, to).Scan(
		&c.TotalTickets,
		&c.ResponseMet,
		&c.ResponseBreached,
		&c.ResolutionMet,
		&c.ResolutionBreached,
	)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return ComplianceCounts{}, apperrors.NewStoreUnavailable(slaStore, err)
	}
	return c, nil
}
