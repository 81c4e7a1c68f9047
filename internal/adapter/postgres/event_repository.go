package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/dashpulse/internal/domain"
)

const (
	insertEventSQL = `
INSERT INTO events (user_id, event_type, timestamp, data)
VALUES ($1, $2, $3, $4)
RETURNING id, user_id, event_type, timestamp, data`

	getEventSQL = `
SELECT id, user_id, event_type, timestamp, data
FROM events
WHERE id = $1`

	listEventsSQL = `
SELECT id, user_id, event_type, timestamp, data
FROM events
ORDER BY timestamp DESC, id DESC
OFFSET $1 LIMIT $2`

	summarySQL = `
SELECT count(*),
       count(DISTINCT user_id),
       count(*) FILTER (WHERE timestamp >= $1)
FROM events`

	countByTypeSQL = `
SELECT event_type, count(*)
FROM events
GROUP BY event_type`
)

var emptyData = json.RawMessage(`{}`)

// EventRepo is the Postgres-backed event history.
type EventRepo struct {
	pool *pgxpool.Pool
}

var _ domain.EventRepository = (*EventRepo)(nil)

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		ev       domain.Event
		category string
		data     []byte
	)
	if err := row.Scan(&ev.ID, &ev.Identity, &category, &ev.Timestamp, &data); err != nil {
		return domain.Event{}, err
	}
	ev.Category = domain.Category(category)
	ev.Timestamp = ev.Timestamp.UTC()
	ev.Data = json.RawMessage(data)
	return ev, nil
}

func (r *EventRepo) Insert(ctx context.Context, event domain.Event) (domain.Event, error) {
	data := event.Data
	if len(data) == 0 {
		data = emptyData
	}

	row := r.pool.QueryRow(ctx, insertEventSQL, event.Identity, string(event.Category), event.Timestamp, []byte(data))
	stored, err := scanEvent(row)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to insert event: %w", err)
	}
	return stored, nil
}

func (r *EventRepo) Get(ctx context.Context, id int64) (domain.Event, error) {
	ev, err := scanEvent(r.pool.QueryRow(ctx, getEventSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

func (r *EventRepo) List(ctx context.Context, offset, limit int) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, listEventsSQL, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return events, nil
}

// Summary counts all events and users, plus the events at or after since.
func (r *EventRepo) Summary(ctx context.Context, since time.Time) (domain.HistorySummary, error) {
	sum := domain.HistorySummary{EventsByType: make(map[string]int64)}

	err := r.pool.QueryRow(ctx, summarySQL, since).Scan(&sum.TotalEvents, &sum.TotalUsers, &sum.RecentEvents)
	if err != nil {
		return domain.HistorySummary{}, fmt.Errorf("failed to summarise events: %w", err)
	}

	rows, err := r.pool.Query(ctx, countByTypeSQL)
	if err != nil {
		return domain.HistorySummary{}, fmt.Errorf("failed to count events by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			category string
			n        int64
		)
		if err := rows.Scan(&category, &n); err != nil {
			return domain.HistorySummary{}, fmt.Errorf("failed to scan event count: %w", err)
		}
		sum.EventsByType[category] = n
	}
	if err := rows.Err(); err != nil {
		return domain.HistorySummary{}, fmt.Errorf("failed to count events by type: %w", err)
	}
	return sum, nil
}
