package cache

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/japperJ/geogate/internal/logger"
)

// Bus is the cross-instance invalidation channel. Lost messages are an
// accepted risk bounded by the distributed tier's TTL, so delivery is
// best-effort.
type Bus interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string, handler func(payload string)) error
}

// RedisBus broadcasts over Redis pub/sub so every process instance sees
// invalidations published by any other.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an existing Redis client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish sends the payload to all current subscribers.
func (b *RedisBus) Publish(ctx context.Context, channel, payload string) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe consumes messages on a background goroutine until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler func(payload string)) error {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	go func() {
		defer func() {
			if err := sub.Close(); err != nil {
				logger.WithFields(map[string]interface{}{"channel": channel, "error": err.Error()}).
					Warn("closing pub/sub subscription")
			}
		}()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Payload)
			}
		}
	}()

	return nil
}

// MemoryBus delivers messages to in-process subscribers only. Used by tests
// and single-instance deployments.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]func(payload string)
}

// NewMemoryBus returns an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]func(payload string))}
}

// Publish invokes all handlers registered for the channel synchronously.
func (b *MemoryBus) Publish(ctx context.Context, channel, payload string) error {
	b.mu.RLock()
	handlers := append([]func(string){}, b.handlers[channel]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

// Subscribe registers a handler for the channel.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string, handler func(payload string)) error {
	b.mu.Lock()
	b.handlers[channel] = append(b.handlers[channel], handler)
	b.mu.Unlock()
	return nil
}
