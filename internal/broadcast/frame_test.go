package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsFrame(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	data, err := StatsFrame(map[string]int{"total_events": 2}, now)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_type":"realtime_stats","data":{"total_events":2},"timestamp":"2026-05-06T07:08:09Z"}`, string(data))
}

func TestBroadcastFrame_EmbedsContentVerbatim(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	data, err := BroadcastFrame(json.RawMessage(`{"kind":"hourly_aggregation","payload":[1,2]}`), now)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_type":"broadcast","content":{"kind":"hourly_aggregation","payload":[1,2]},"timestamp":"2026-05-06T07:08:09Z"}`, string(data))
}
