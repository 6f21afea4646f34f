package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pbn-studio/engine/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker publishes events on a redis pub/sub channel so that the worker
// process can reach websocket clients connected to the api process.
type RedisBroker struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisBroker(rdb redis.UniversalClient, channel string) *RedisBroker {
	return &RedisBroker{rdb: rdb, channel: channel}
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Forward relays every event received on the channel to dst until ctx is done.
// ready, if not nil, is closed once the subscription is confirmed.
func (b *RedisBroker) Forward(ctx context.Context, dst Publisher, ready chan<- struct{}) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.L().Warn("discarding malformed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if err := dst.Publish(ctx, ev); err != nil {
				logger.L().Warn("forward event failed", zap.String("event", string(ev.Type)), zap.Error(err))
			}
		}
	}
}

// Relay runs Forward until ctx is done and subscribes again, with exponential backoff
// capped at maxInterval, whenever subscribing fails or the subscription ends.
// ready is closed after the first successful subscription.
func (b *RedisBroker) Relay(ctx context.Context, dst Publisher, ready chan<- struct{}, maxInterval time.Duration) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = maxInterval
	if bo.InitialInterval > maxInterval {
		bo.InitialInterval = maxInterval
	}
	log := logger.L().With(zap.String("channel", b.channel))

	for {
		subscribed := make(chan struct{})
		done := make(chan error, 1)
		go func() { done <- b.Forward(ctx, dst, subscribed) }()

		var err error
		select {
		case <-subscribed:
			if ready != nil {
				close(ready)
				ready = nil
			}
			bo.Reset()
			err = <-done
		case err = <-done:
		}
		if ctx.Err() != nil {
			return
		}

		wait := bo.NextBackOff()
		log.Warn("event subscription lost, retrying", zap.Duration("in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
