package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/repository"
)

var _ repository.TicketHistoryRepository = (*HistoryStore)(nil)

// HistoryStore keeps SLA audit entries per ticket.
type HistoryStore struct {
	mu      sync.Mutex
	entries map[string][]domain.TicketHistory
	now     func() time.Time
}

// NewHistoryStore returns an empty store. now stamps entries created without a time.
func NewHistoryStore(now func() time.Time) *HistoryStore {
	if now == nil {
		now = time.Now
	}
	return &HistoryStore{entries: make(map[string][]domain.TicketHistory), now: now}
}

func (h *HistoryStore) Create(_ context.Context, entry *domain.TicketHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = h.now()
	}
	h.entries[entry.TicketID] = append(h.entries[entry.TicketID], *entry)
	return nil
}

func (h *HistoryStore) ListByTicket(_ context.Context, ticketID string, limit int) ([]domain.TicketHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]domain.TicketHistory{}, h.entries[ticketID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
