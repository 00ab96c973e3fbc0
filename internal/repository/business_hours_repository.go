package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

// BusinessHoursRepository reads and replaces entity calendars.
type BusinessHoursRepository interface {
	// GetCalendar returns NotFound when the entity does not exist. An entity without
	// windows yields a calendar with no windows.
	GetCalendar(ctx context.Context, entityID string) (*domain.BusinessHoursCalendar, error)
	// SaveCalendar creates the entity if needed and replaces its windows and holidays.
	SaveCalendar(ctx context.Context, cal domain.BusinessHoursCalendar) error
}

type businessHoursRepository struct {
	pool *pgxpool.Pool
}

// NewBusinessHoursRepository instantiates repository.
func NewBusinessHoursRepository(pool *pgxpool.Pool) BusinessHoursRepository {
	return &businessHoursRepository{pool: pool}
}

func (r *businessHoursRepository) GetCalendar(ctx context.Context, entityID string) (*domain.BusinessHoursCalendar, error) {
	cal := domain.BusinessHoursCalendar{EntityID: entityID}
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(timezone, '') FROM entities WHERE id = $1`, entityID).Scan(&cal.Timezone); err != nil {
		return nil, apperrors.StoreError(configStore, "entity", err, map[string]any{"entity_id": entityID})
	}

	rows, err := r.pool.Query(ctx, `
        SELECT day_of_week, start_minute, end_minute, active
        FROM business_hours WHERE entity_id = $1
        ORDER BY day_of_week, start_minute`, entityID)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(configStore, err)
	}
	for rows.Next() {
		var w domain.BusinessWindow
		var day, start, end int
		if err := rows.Scan(&day, &start, &end, &w.Active); err != nil {
			rows.Close()
			return nil, apperrors.NewStoreUnavailable(configStore, err)
		}
		w.Day = time.Weekday(day)
		w.Start = domain.ClockTime(start)
		w.End = domain.ClockTime(end)
		cal.Windows = append(cal.Windows, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(configStore, err)
	}

	rows, err = r.pool.Query(ctx, `
        SELECT name, month, day, COALESCE(year, 0)
        FROM business_holidays WHERE entity_id = $1
        ORDER BY month, day`, entityID)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(configStore, err)
	}
	defer rows.Close()
	for rows.Next() {
		var h domain.Holiday
		var month int
		if err := rows.Scan(&h.Name, &month, &h.Day, &h.Year); err != nil {
			return nil, apperrors.NewStoreUnavailable(configStore, err)
		}
		h.Month = time.Month(month)
		cal.Holidays = append(cal.Holidays, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailable(configStore, err)
	}
	return &cal, nil
}

func (r *businessHoursRepository) SaveCalendar(ctx context.Context, cal domain.BusinessHoursCalendar) error {
	if cal.EntityID == "" {
		return apperrors.NewValidationError("entity_id is required", nil)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperrors.NewStoreUnavailable(configStore, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
        INSERT INTO entities (id, timezone) VALUES ($1, NULLIF($2, ''))
        ON CONFLICT (id) DO UPDATE SET timezone = EXCLUDED.timezone`, cal.EntityID, cal.Timezone); err != nil {
		return apperrors.NewStoreUnavailable(configStore, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM business_hours WHERE entity_id = $1`, cal.EntityID); err != nil {
		return apperrors.NewStoreUnavailable(configStore, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM business_holidays WHERE entity_id = $1`, cal.EntityID); err != nil {
		return apperrors.NewStoreUnavailable(configStore, err)
	}

	batch := &pgx.Batch{}
	for _, w := range cal.Windows {
		batch.Queue(`INSERT INTO business_hours (entity_id, day_of_week, start_minute, end_minute, active) VALUES ($1,$2,$3,$4,$5)`,
			cal.EntityID, int(w.Day), int(w.Start), int(w.End), w.Active)
	}
	for _, h := range cal.Holidays {
		var year *int
		if !h.Recurring() {
			y := h.Year
			year = &y
		}
		batch.Queue(`INSERT INTO business_holidays (entity_id, name, month, day, year) VALUES ($1,$2,$3,$4,$5)`,
			cal.EntityID, h.Name, int(h.Month), h.Day, year)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return apperrors.NewStoreUnavailable(configStore, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewStoreUnavailable(configStore, err)
	}
	return nil
}
