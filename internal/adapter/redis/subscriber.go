package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
	"github.com/pscheid92/dashpulse/internal/domain"
	"github.com/pscheid92/dashpulse/internal/platform/correlation"
	goredis "github.com/redis/go-redis/v9"
)

type SubscriberState int32

const (
	StateStopped SubscriberState = iota
	StateSubscribing
	StateListening
	StateStopping
)

func (s SubscriberState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateSubscribing:
		return "subscribing"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const defaultStopTimeout = 5 * time.Second

// UpdateSubscriber relays every update record from the broadcast channel to a
// Broadcaster. A single Run call consumes the channel until ctx is cancelled
// or the connection fails; a stopped subscriber can be Run again.
type UpdateSubscriber struct {
	rdb         *goredis.Client
	channel     string
	sink        domain.Broadcaster
	clock       clockwork.Clock
	metrics     *metrics.SubscriberMetrics
	stopTimeout time.Duration

	state atomic.Int32
}

func NewUpdateSubscriber(rdb *goredis.Client, sink domain.Broadcaster, clock clockwork.Clock, m *metrics.SubscriberMetrics) *UpdateSubscriber {
	return &UpdateSubscriber{
		rdb:         rdb,
		channel:     UpdatesChannel,
		sink:        sink,
		clock:       clock,
		metrics:     m,
		stopTimeout: defaultStopTimeout,
	}
}

func (s *UpdateSubscriber) State() SubscriberState {
	return SubscriberState(s.state.Load())
}

func (s *UpdateSubscriber) setState(state SubscriberState) {
	s.state.Store(int32(state))
	s.metrics.State.Set(float64(state))
}

// Run blocks until ctx is cancelled (returns nil) or the subscription breaks
// (returns an error wrapping domain.ErrSubscriptionLost).
func (s *UpdateSubscriber) Run(ctx context.Context) error {
	s.setState(StateSubscribing)
	defer s.setState(StateStopped)

	pubsub := s.rdb.Subscribe(ctx, s.channel)

	if err := s.awaitAck(ctx, pubsub); err != nil {
		_ = pubsub.Close()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: subscribe %s: %w", domain.ErrSubscriptionLost, s.channel, err)
	}

	s.setState(StateListening)
	slog.InfoContext(ctx, "Update subscriber listening", "channel", s.channel)

	msgs := make(chan *goredis.Message)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	stopReader := sync.OnceFunc(func() { close(stop) })
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- msg:
			case <-stop:
				return
			}
		}
	}()

	defer stopReader()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopping)
			s.shutdown(pubsub, stopReader, readerDone)
			return nil

		case err := <-readErr:
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: receive: %w", domain.ErrSubscriptionLost, err)

		case msg := <-msgs:
			s.forward(ctx, msg)
		}
	}
}

func (s *UpdateSubscriber) awaitAck(ctx context.Context, pubsub *goredis.PubSub) error {
	msg, err := pubsub.Receive(ctx)
	if err != nil {
		return err
	}
	if _, ok := msg.(*goredis.Subscription); !ok {
		return fmt.Errorf("unexpected first message %T", msg)
	}
	return nil
}

// shutdown releases a reader parked on an undelivered message, closes the
// pubsub connection to unblock a pending receive, and waits for the reader no
// longer than stopTimeout.
func (s *UpdateSubscriber) shutdown(pubsub *goredis.PubSub, stopReader func(), readerDone <-chan struct{}) {
	stopReader()
	if err := pubsub.Close(); err != nil {
		slog.Warn("Failed to close subscription", "channel", s.channel, "error", err)
	}

	select {
	case <-readerDone:
		slog.Info("Update subscriber stopped", "channel", s.channel)
	case <-s.clock.After(s.stopTimeout):
		slog.Warn("Update subscriber reader did not exit in time", "timeout", s.stopTimeout)
	}
}

// forward decodes one message and hands it to the sink. Failures are contained
// to this message.
func (s *UpdateSubscriber) forward(ctx context.Context, msg *goredis.Message) {
	ctx = correlation.WithID(ctx, correlation.NewID())

	defer func() {
		if r := recover(); r != nil {
			s.metrics.Panics.Inc()
			slog.ErrorContext(ctx, "Recovered panic while forwarding update", "panic", r)
		}
	}()

	record, err := DecodeUpdate([]byte(msg.Payload))
	if err != nil {
		s.metrics.DecodeErrors.Inc()
		slog.WarnContext(ctx, "Dropping malformed update", "channel", msg.Channel, "error", err)
		return
	}

	s.metrics.Received.WithLabelValues(record.Kind).Inc()
	result := s.sink.Broadcast(ctx, json.RawMessage(msg.Payload))
	slog.DebugContext(ctx, "Update forwarded", "kind", record.Kind, "delivered", result.Delivered, "pruned", result.Pruned)
}

// DecodeUpdate parses a broadcast-channel message into an UpdateRecord.
func DecodeUpdate(data []byte) (domain.UpdateRecord, error) {
	var record domain.UpdateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.UpdateRecord{}, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	if record.Kind == "" {
		return domain.UpdateRecord{}, fmt.Errorf("%w: missing kind", domain.ErrDecode)
	}
	return record, nil
}
