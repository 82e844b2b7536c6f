package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultChannel is the Redis pub/sub channel carrying change events.
	DefaultChannel = "excel-analytics:changes"

	// PublishTimeout is the max time to wait for a Redis publish.
	PublishTimeout = 500 * time.Millisecond
)

// Redis relays change events through Redis pub/sub so that every instance
// behind a load balancer sees every change, not only its own writes.
type Redis struct {
	dispatcher
	client  *redis.Client
	channel string
}

// NewRedis creates a Redis-backed feed on the given channel.
func NewRedis(client *redis.Client, channel string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	logger = logger.With("component", "feed.redis", "channel", channel)
	return &Redis{
		dispatcher: dispatcher{logger: logger},
		client:     client,
		channel:    channel,
	}
}

// Publish sends an event to the channel. Failures are logged and the event is lost.
func (r *Redis) Publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("failed to marshal change event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PublishTimeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.Warn("failed to publish change event", "kind", ev.Kind, "error", err)
	}
}

// Run subscribes to the channel and dispatches received events until ctx is cancelled.
func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("change feed subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("change feed stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("discarding undecodable change event", "error", err)
				continue
			}
			r.dispatch(ctx, ev)
		}
	}
}
