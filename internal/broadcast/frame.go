package broadcast

import (
	"encoding/json"
	"time"
)

// Frame message types pushed to dashboard clients.
const (
	MessageRealtimeStats = "realtime_stats"
	MessageBroadcast     = "broadcast"
)

// Frame is the envelope of every server-initiated dashboard message.
type Frame struct {
	MessageType string          `json:"message_type"`
	Data        any             `json:"data,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// StatsFrame encodes a realtime_stats frame carrying data.
func StatsFrame(data any, now time.Time) ([]byte, error) {
	return json.Marshal(Frame{MessageType: MessageRealtimeStats, Data: data, Timestamp: now.UTC()})
}

// BroadcastFrame encodes a broadcast frame wrapping content verbatim.
func BroadcastFrame(content json.RawMessage, now time.Time) ([]byte, error) {
	return json.Marshal(Frame{MessageType: MessageBroadcast, Content: content, Timestamp: now.UTC()})
}
