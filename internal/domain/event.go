package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category classifies an ingested event and partitions the counters.
type Category string

const (
	CategoryPageView Category = "page_view"
	CategoryClick    Category = "click"
	CategoryPurchase Category = "purchase"
)

const maxIdentityLength = 32

// Valid reports whether c is one of the known event categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPageView, CategoryClick, CategoryPurchase:
		return true
	default:
		return false
	}
}

// Event is a single application event handed to the producer.
type Event struct {
	ID        int64           `json:"id,omitempty"`
	Identity  string          `json:"user_id"`
	Category  Category        `json:"event_type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate checks the fields the producer relies on.
func (e Event) Validate() error {
	if e.Identity == "" || len(e.Identity) > maxIdentityLength {
		return fmt.Errorf("%w: user_id must be 1-%d characters", ErrInvalidEvent, maxIdentityLength)
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: unknown event_type %q", ErrInvalidEvent, e.Category)
	}
	return nil
}

// ActivityRecord is one entry of an identity's activity log.
type ActivityRecord struct {
	Category  string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxActivityEntries caps every activity log; the newest entries win.
const MaxActivityEntries = 100

// HistorySummary aggregates the persisted event log.
type HistorySummary struct {
	TotalEvents  int64            `json:"total_events"`
	TotalUsers   int64            `json:"total_users"`
	EventsByType map[string]int64 `json:"events_by_type"`
	RecentEvents int64            `json:"last_24h_events"`
}
