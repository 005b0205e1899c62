package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"dinerbell/internal/types"
)

// CatalogRepository reads the weekly offers and events maintained by the
// menu and events services. The pipeline never writes these tables.
type CatalogRepository struct {
	db DBTX
}

func NewCatalogRepository(db DBTX) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// dateOnly formats t's calendar date for comparison against DATE columns.
func dateOnly(t time.Time) string {
	return t.Format(time.DateOnly)
}

// ActiveWeeklyOffer returns the active promotional week covering day along
// with its items, or nil when there is none.
func (r *CatalogRepository) ActiveWeeklyOffer(ctx context.Context, day time.Time) (*types.WeeklyOffer, error) {
	var w types.WeeklyOffer
	err := r.db.QueryRow(ctx,
		`SELECT id, theme, start_date, end_date, is_active
		   FROM weekly_offers
		  WHERE is_active AND $1::date BETWEEN start_date AND end_date
		  ORDER BY start_date DESC
		  LIMIT 1`,
		dateOnly(day),
	).Scan(&w.ID, &w.Theme, &w.StartDate, &w.EndDate, &w.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query active weekly offer", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, name, sort_order
		   FROM weekly_offer_items
		  WHERE weekly_offer_id = $1
		  ORDER BY sort_order, name`,
		w.ID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query weekly offer items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item types.WeeklyOfferItem
		if err := rows.Scan(&item.ID, &item.Name, &item.SortOrder); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan weekly offer item", err)
		}
		w.Items = append(w.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating weekly offer items", err)
	}
	return &w, nil
}

// EventsBetween returns events whose date lies in [from, to], inclusive,
// ordered by date.
func (r *CatalogRepository) EventsBetween(ctx context.Context, from, to time.Time) ([]types.RestaurantEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, event_date
		   FROM events
		  WHERE event_date BETWEEN $1::date AND $2::date
		  ORDER BY event_date, id`,
		dateOnly(from),
		dateOnly(to),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query upcoming events", err)
	}
	defer rows.Close()

	var events []types.RestaurantEvent
	for rows.Next() {
		var e types.RestaurantEvent
		if err := rows.Scan(&e.ID, &e.Title, &e.EventDate); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating events", err)
	}
	return events, nil
}
