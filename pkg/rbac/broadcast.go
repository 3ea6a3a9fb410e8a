package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// InvalidationChannel is the pub/sub channel every instance subscribes to.
const InvalidationChannel = "dentflow:rbac:invalidate"

// invalidateAllPayload signals a full cache purge rather than one user.
const invalidateAllPayload = "*"

// Broadcaster propagates cache invalidations across instances over Redis
// pub/sub. Each instance publishes after local mutation and applies every
// received message to its local cache. Messages carry the sender's instance
// ID so the publisher can skip re-applying its own invalidation, which it
// already performed synchronously.
//
// Delivery is best-effort: a dropped message only extends staleness up to
// the cache TTL, it never grants or revokes access by itself.
type Broadcaster struct {
	client     *redis.Client
	cache      *AccessCache
	log        *slog.Logger
	metrics    Metrics
	instanceID string
}

// NewBroadcaster creates a broadcaster bound to a cache. Call Listen to
// start applying remote invalidations.
func NewBroadcaster(client *redis.Client, cache *AccessCache, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		client:     client,
		cache:      cache,
		log:        log,
		metrics:    nopMetrics{},
		instanceID: uuid.NewString(),
	}
}

// SetMetrics installs a metrics sink. Safe to call before Listen only.
func (b *Broadcaster) SetMetrics(m Metrics) {
	if m != nil {
		b.metrics = m
	}
}

// Invalidate publishes a single-user invalidation. The local cache must
// already have been invalidated by the caller; publish failures are returned
// so the caller can log them, but the mutation has already succeeded.
func (b *Broadcaster) Invalidate(ctx context.Context, userID int64) error {
	payload := b.instanceID + ":" + strconv.FormatInt(userID, 10)
	if err := b.client.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// InvalidateAll publishes a full-purge invalidation.
func (b *Broadcaster) InvalidateAll(ctx context.Context) error {
	payload := b.instanceID + ":" + invalidateAllPayload
	if err := b.client.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Listen subscribes to the invalidation channel and applies messages to the
// local cache until ctx is cancelled. It blocks; run it in its own
// goroutine.
func (b *Broadcaster) Listen(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	// Force the subscription before reporting readiness in logs.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", InvalidationChannel, err)
	}
	b.log.Info("cache invalidation listener started", "channel", InvalidationChannel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.apply(msg.Payload)
		}
	}
}

func (b *Broadcaster) apply(payload string) {
	sender, target, ok := splitPayload(payload)
	if !ok {
		b.log.Warn("dropping malformed invalidation message", "payload", payload)
		return
	}
	if sender == b.instanceID {
		return
	}
	if target == invalidateAllPayload {
		b.cache.InvalidateAll()
		b.metrics.InvalidationObserved("broadcast")
		return
	}
	userID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		b.log.Warn("dropping malformed invalidation message", "payload", payload)
		return
	}
	b.cache.Invalidate(userID)
	b.metrics.InvalidationObserved("broadcast")
}

func splitPayload(payload string) (sender, target string, ok bool) {
	for i := 0; i < len(payload); i++ {
		if payload[i] == ':' {
			return payload[:i], payload[i+1:], i > 0 && i+1 < len(payload)
		}
	}
	return "", "", false
}
