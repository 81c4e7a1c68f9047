package domain

import (
	"context"
	"encoding/json"
	"time"
)

// CounterStore is the durable source of truth for aggregate state.
type CounterStore interface {
	Increment(ctx context.Context, category string) (int64, error)
	IncrementHourly(ctx context.Context, category, hourBucket string) (int64, error)
	RecordActivity(ctx context.Context, identity, category string) error
	Snapshot(ctx context.Context) (Snapshot, error)
}

// UpdatePublisher announces counter changes on the broadcast channel.
type UpdatePublisher interface {
	Publish(ctx context.Context, kind string, payload any) error
}

// Broadcaster fans a received update out to every live connection.
type Broadcaster interface {
	Broadcast(ctx context.Context, content json.RawMessage) BroadcastResult
}

// CredentialVerifier turns a short-lived credential into an identity.
type CredentialVerifier interface {
	Verify(token string) (identity string, err error)
}

// EventRepository stores the historical event log.
type EventRepository interface {
	Insert(ctx context.Context, event Event) (Event, error)
	Get(ctx context.Context, id int64) (Event, error)
	// List returns events newest first.
	List(ctx context.Context, offset, limit int) ([]Event, error)
	Summary(ctx context.Context, since time.Time) (HistorySummary, error)
}

// RetentionStore is the maintenance surface used by scheduled jobs.
type RetentionStore interface {
	HourlyCounts(ctx context.Context, hourBucket string) (map[string]int64, error)
	PurgeHourlyBefore(ctx context.Context, cutoff time.Time) (int, error)
	PurgeIdleActivity(ctx context.Context, cutoff time.Time) (int, error)
	SaveSnapshot(ctx context.Context, key string, snapshot Snapshot, ttl time.Duration) error
}
