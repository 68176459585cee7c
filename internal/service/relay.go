package service

import (
	"context"
	"encoding/json"
	"time"

	"logging_proxy/internal/logger"

	"github.com/go-redis/redis/v8"
)

const relayPublishTimeout = 2 * time.Second

// RedisRelay republishes every log event as JSON on a Redis pub/sub channel so
// observers in other processes can follow the stream. It is an ordinary
// subscriber: a slow Redis only costs the relay its own queued events.
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *logger.Logger
}

func NewRedisRelay(client *redis.Client, channel string, log *logger.Logger) *RedisRelay {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisRelay{client: client, channel: channel, log: log}
}

// Run relays events until ctx is canceled or the subscription is closed.
func (r *RedisRelay) Run(ctx context.Context, stream EventStream) {
	sub := stream.Subscribe()
	defer stream.Unsubscribe(sub)

	r.log.Infow("relay_started", "channel", r.channel, "subscription", sub.ID())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				r.log.Errorw("relay_marshal_failed", "err", err, "event_id", ev.EventID)
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
			err = r.client.Publish(pctx, r.channel, payload).Err()
			cancel()
			if err != nil {
				r.log.Errorw("relay_publish_failed", "err", err, "event_id", ev.EventID)
			}
		}
	}
}
