package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

const ticketStore = "ticket store"

// TicketRepository reads the ticket fields the SLA subsystem depends on.
type TicketRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// ListUnpinned returns tickets that have no SLA state yet, oldest first.
	ListUnpinned(ctx context.Context, limit int) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `t.id, t.entity_id, t.priority, t.status, t.created_at, t.first_response_at, t.resolved_at, COALESCE(t.attributes, '{}'::jsonb)`

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets t WHERE t.id = $1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, apperrors.StoreError(ticketStore, "ticket", err, map[string]any{"ticket_id": id})
	}
	return ticket, nil
}

func (r *ticketRepository) ListUnpinned(ctx context.Context, limit int) ([]domain.Ticket, error) {
	query := `
        SELECT ` + ticketColumns + `
        FROM tickets t
        LEFT JOIN ticket_sla s ON s.ticket_id = t.id
        WHERE s.ticket_id IS NULL
        ORDER BY t.created_at, t.id
        LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(ticketStore, err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, apperrors.NewStoreUnavailable(ticketStore, err)
		}
		tickets = append(tickets, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(ticketStore, err)
	}
	return tickets, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.EntityID,
		&ticket.Priority,
		&ticket.Status,
		&ticket.CreatedAt,
		&ticket.FirstResponseAt,
		&ticket.ResolvedAt,
		&ticket.Attributes,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
