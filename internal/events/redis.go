package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
)

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
}

// NewRedisPublisher creates a publisher for channel.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, timeout: 2 * time.Second}
}

// Dispatch publishes evt. Failures are logged.
func (p *RedisPublisher) Dispatch(ctx context.Context, evt domain.Event) {
	body, err := encode(evt)
	if err != nil {
		logger.Error("events: redis publish skipped", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		logger.Error("events: publishing to redis failed", "channel", p.channel, "type", string(evt.Type), "error", err)
	}
}
