// Package watch provides the live-list layer: mutations publish a
// per-collection change signal over Redis pub/sub, and subscribers refetch
// their query to receive a fresh result set. One-shot reads stay on the
// backend directly; cascade discovery never subscribes.
package watch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"weldvault/api/internal/record"
)

type fetcher interface {
	FetchOnce(ctx context.Context, collection string, filters []record.Filter) ([]record.Record, error)
}

// Hub implements record.Publisher and record.Watcher over Redis. Many
// components may watch the same collection simultaneously; every subscriber
// gets its own fresh copies and must route mutations through the facade.
type Hub struct {
	client  *redis.Client
	backend fetcher
	prefix  string
}

func NewHub(redisURL string, backend fetcher) (*Hub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewHubWithClient(client, backend), nil
}

// NewHubWithClient creates a hub from an existing Redis client.
func NewHubWithClient(client *redis.Client, backend fetcher) *Hub {
	return &Hub{client: client, backend: backend, prefix: "records:"}
}

func (h *Hub) channel(collection string) string {
	return h.prefix + collection
}

// Publish signals that a collection changed. Failures are logged, not
// surfaced: a missed signal only delays a refetch, it cannot corrupt data.
func (h *Hub) Publish(ctx context.Context, collection string) {
	if err := h.client.Publish(ctx, h.channel(collection), "changed").Err(); err != nil {
		log.Printf("watch: publish %s: %v", collection, err)
	}
}

// Watch subscribes fn to a live view of the query. fn fires once with the
// current result set, then again after every published change. The returned
// function cancels the subscription.
func (h *Hub) Watch(ctx context.Context, collection string, filters []record.Filter, fn func([]record.Record)) (func(), error) {
	pubsub := h.client.Subscribe(ctx, h.channel(collection))
	// Confirm the subscription before the initial fetch so no change signal
	// between fetch and subscribe is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	items, err := h.backend.FetchOnce(ctx, collection, filters)
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("initial fetch %s: %w", collection, err)
	}
	fn(items)

	go func() {
		for range pubsub.Channel() {
			items, err := h.backend.FetchOnce(ctx, collection, filters)
			if err != nil {
				log.Printf("watch: refetch %s: %v", collection, err)
				continue
			}
			fn(items)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

// Ping checks if Redis is reachable.
func (h *Hub) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (h *Hub) Close() error {
	return h.client.Close()
}
