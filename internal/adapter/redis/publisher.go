package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pscheid92/dashpulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// UpdatePublisher announces update records on the shared broadcast channel.
type UpdatePublisher struct {
	rdb     *goredis.Client
	channel string
}

var _ domain.UpdatePublisher = (*UpdatePublisher)(nil)

func NewUpdatePublisher(rdb *goredis.Client) *UpdatePublisher {
	return &UpdatePublisher{rdb: rdb, channel: UpdatesChannel}
}

// Publish serializes {kind, payload} and publishes it. The caller's counter
// mutation has already happened and is never rolled back on failure.
func (p *UpdatePublisher) Publish(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %w", domain.ErrPublishFailed, err)
	}

	data, err := json.Marshal(domain.UpdateRecord{Kind: kind, Payload: raw})
	if err != nil {
		return fmt.Errorf("%w: marshal record: %w", domain.ErrPublishFailed, err)
	}

	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrPublishFailed, p.channel, err)
	}
	return nil
}
