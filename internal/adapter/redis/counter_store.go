package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/dashpulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// CounterStore keeps aggregate counters and bounded activity logs in Redis.
// Every key is mutated with single-key atomic commands; the activity log's
// push-then-trim runs inside MULTI/EXEC.
type CounterStore struct {
	rdb   *goredis.Client
	clock clockwork.Clock

	closeOnce sync.Once
	closeErr  error
}

var (
	_ domain.CounterStore   = (*CounterStore)(nil)
	_ domain.RetentionStore = (*CounterStore)(nil)
)

func NewCounterStore(rdb *goredis.Client, clock clockwork.Clock) *CounterStore {
	return &CounterStore{rdb: rdb, clock: clock}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func (s *CounterStore) Increment(ctx context.Context, category string) (int64, error) {
	total, err := s.rdb.Incr(ctx, totalKey(category)).Result()
	if err != nil {
		return 0, unavailable("increment", err)
	}
	return total, nil
}

func (s *CounterStore) IncrementHourly(ctx context.Context, category, hourBucket string) (int64, error) {
	total, err := s.rdb.Incr(ctx, hourlyKey(category, hourBucket)).Result()
	if err != nil {
		return 0, unavailable("increment hourly", err)
	}
	return total, nil
}

func (s *CounterStore) RecordActivity(ctx context.Context, identity, category string) error {
	entry, err := json.Marshal(domain.ActivityRecord{Category: category, Timestamp: s.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	key := activityKey(identity)
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, key, entry)
		pipe.LTrim(ctx, key, 0, domain.MaxActivityEntries-1)
		return nil
	})
	if err != nil {
		return unavailable("record activity", err)
	}
	return nil
}

// Activity returns up to limit entries of identity's log, newest first.
// Entries that fail to decode are skipped.
func (s *CounterStore) Activity(ctx context.Context, identity string, limit int) ([]domain.ActivityRecord, error) {
	if limit <= 0 || limit > domain.MaxActivityEntries {
		limit = domain.MaxActivityEntries
	}

	raw, err := s.rdb.LRange(ctx, activityKey(identity), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, unavailable("read activity", err)
	}

	records := make([]domain.ActivityRecord, 0, len(raw))
	for _, r := range raw {
		var rec domain.ActivityRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Snapshot rebuilds the aggregate view: one scan and one MGET for the
// counters, one scan for activity-log membership.
func (s *CounterStore) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	snap := domain.Snapshot{
		CountsByCategory: make(map[string]int64),
		GeneratedAt:      s.clock.Now().UTC(),
	}

	keys, err := s.scanKeys(ctx, totalPrefix+"*")
	if err != nil {
		return domain.Snapshot{}, unavailable("scan counters", err)
	}

	counts, err := s.readCounts(ctx, keys)
	if err != nil {
		return domain.Snapshot{}, unavailable("read counters", err)
	}
	for key, n := range counts {
		category := strings.TrimPrefix(key, totalPrefix)
		snap.CountsByCategory[category] = n
		snap.TotalEvents += n
	}

	identities, err := s.scanKeys(ctx, activityPrefix+"*")
	if err != nil {
		return domain.Snapshot{}, unavailable("scan activity", err)
	}
	snap.ActiveIdentityCount = len(identities)

	return snap, nil
}

// HourlyCounts returns per-category counts for one hour bucket.
func (s *CounterStore) HourlyCounts(ctx context.Context, hourBucket string) (map[string]int64, error) {
	keys, err := s.scanKeys(ctx, hourlyPrefix+"*:"+hourBucket)
	if err != nil {
		return nil, unavailable("scan hourly", err)
	}

	counts, err := s.readCounts(ctx, keys)
	if err != nil {
		return nil, unavailable("read hourly", err)
	}

	result := make(map[string]int64, len(counts))
	for key, n := range counts {
		category := strings.TrimSuffix(strings.TrimPrefix(key, hourlyPrefix), ":"+hourBucket)
		result[category] = n
	}
	return result, nil
}

// PurgeHourlyBefore deletes hour buckets whose start lies before cutoff.
// Keys with an unparseable bucket suffix are left alone.
func (s *CounterStore) PurgeHourlyBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.scanKeys(ctx, hourlyPrefix+"*")
	if err != nil {
		return 0, unavailable("scan hourly", err)
	}

	stale := make([]string, 0)
	for _, key := range keys {
		idx := strings.LastIndexByte(key, ':')
		if idx < 0 {
			continue
		}
		start, err := domain.ParseHourBucket(key[idx+1:])
		if err != nil {
			continue
		}
		if start.Before(cutoff) {
			stale = append(stale, key)
		}
	}

	return s.deleteKeys(ctx, stale)
}

// PurgeIdleActivity deletes activity logs whose newest entry is older than cutoff.
// Logs whose head cannot be decoded are left alone.
func (s *CounterStore) PurgeIdleActivity(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.scanKeys(ctx, activityPrefix+"*")
	if err != nil {
		return 0, unavailable("scan activity", err)
	}

	stale := make([]string, 0)
	for _, key := range keys {
		head, err := s.rdb.LIndex(ctx, key, 0).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return 0, unavailable("read activity head", err)
		}

		var rec domain.ActivityRecord
		if err := json.Unmarshal([]byte(head), &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			stale = append(stale, key)
		}
	}

	return s.deleteKeys(ctx, stale)
}

// SaveSnapshot stores snapshot as JSON under key with a TTL.
func (s *CounterStore) SaveSnapshot(ctx context.Context, key string, snapshot domain.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.rdb.SetEx(ctx, key, data, ttl).Err(); err != nil {
		return unavailable("save snapshot", err)
	}
	return nil
}

func (s *CounterStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the client. Safe to call more than once and on a store built without a client.
func (s *CounterStore) Close() error {
	s.closeOnce.Do(func() {
		if s.rdb != nil {
			s.closeErr = s.rdb.Close()
		}
	})
	return s.closeErr
}

// scanKeys repeats SCAN until the cursor returns to zero.
func (s *CounterStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return dedupe(keys), nil
}

// SCAN may return a key more than once while the keyspace is rehashing.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// readCounts batch-reads integer values in one MGET. Keys that vanished between
// the scan and the read are omitted.
func (s *CounterStore) readCounts(ctx context.Context, keys []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return counts, nil
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			continue
		}
		counts[keys[i]] = n
	}
	return counts, nil
}

func (s *CounterStore) deleteKeys(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		n, err := s.rdb.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, unavailable("delete", err)
		}
		deleted += int(n)
	}
	return deleted, nil
}
