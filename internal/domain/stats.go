package domain

import (
	"encoding/json"
	"time"
)

// HourBucketLayout is the fixed-width, sortable layout of hour buckets (UTC).
const HourBucketLayout = "2006-01-02-15"

// HourlyRetention is how long hour buckets are kept before cleanup may remove them.
const HourlyRetention = 48 * time.Hour

// HourBucket truncates t to the hour in UTC and formats it as YYYY-MM-DD-HH.
func HourBucket(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(HourBucketLayout)
}

// ParseHourBucket is the inverse of HourBucket.
func ParseHourBucket(bucket string) (time.Time, error) {
	return time.ParseInLocation(HourBucketLayout, bucket, time.UTC)
}

// Snapshot is the aggregate view reconstructed from the counter store.
type Snapshot struct {
	TotalEvents         int64            `json:"total_events"`
	CountsByCategory    map[string]int64 `json:"events_by_type"`
	ActiveIdentityCount int              `json:"active_users"`
	GeneratedAt         time.Time        `json:"timestamp"`
}

// Update kinds published on the broadcast channel.
const (
	KindStatsUpdate       = "stats_update"
	KindHourlyAggregation = "hourly_aggregation"
)

// UpdateRecord is the immutable payload announced once per counter mutation.
type UpdateRecord struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// BroadcastResult summarises one fan-out sweep.
type BroadcastResult struct {
	Delivered int
	Pruned    int
}
