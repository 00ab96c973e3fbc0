package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

const historyStore = "ticket history store"

// TicketHistoryRepository stores SLA audit entries.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	// ListByTicket returns entries oldest first; limit <= 0 means all.
	ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (ticket_id, changed_by_type, changed_by_id, change_type, old_value, new_value, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()))
        RETURNING id::text, created_at`
	var createdAt *time.Time
	if !history.CreatedAt.IsZero() {
		at := history.CreatedAt
		createdAt = &at
	}
	err := r.pool.QueryRow(ctx, query,
		history.TicketID,
		history.ChangedByType,
		history.ChangedByID,
		history.ChangeType,
		history.OldValue,
		history.NewValue,
		createdAt,
	).Scan(&history.ID, &history.CreatedAt)
	return apperrors.StoreError(historyStore, "ticket", err, map[string]any{"ticket_id": history.TicketID})
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id::text, ticket_id, changed_by_type, changed_by_id, change_type, old_value, new_value, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC
        LIMIT NULLIF($2, 0)`
	if limit < 0 {
		limit = 0
	}
	rows, err := r.pool.Query(ctx, query, ticketID, limit)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(historyStore, err)
	}
	defer rows.Close()

	result := []domain.TicketHistory{}
	for rows.Next() {
		var history domain.TicketHistory
		if err := rows.Scan(
			&history.ID,
			&history.TicketID,
			&history.ChangedByType,
			&history.ChangedByID,
			&history.ChangeType,
			&history.OldValue,
			&history.NewValue,
			&history.CreatedAt,
		); err != nil {
			return nil, apperrors.NewStoreUnavailable(historyStore, err)
		}
		result = append(result, history)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(historyStore, err)
	}
	return result, nil
}
