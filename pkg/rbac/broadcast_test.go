package rbac

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupBroadcastPair wires two caches to the same Redis, as two service
// instances would be, and starts the second instance's listener.
func setupBroadcastPair(t *testing.T) (*Broadcaster, *AccessCache, *AccessCache) {
	t.Helper()

	mr := miniredis.RunT(t)

	publisherCache := NewAccessCache(16, time.Minute)
	listenerCache := NewAccessCache(16, time.Minute)

	publisherClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	listenerClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		publisherClient.Close()
		listenerClient.Close()
	})

	publisher := NewBroadcaster(publisherClient, publisherCache, discardLogger())
	listener := NewBroadcaster(listenerClient, listenerCache, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go listener.Listen(ctx)

	// Publish probes until the listener's subscription lands; the probe
	// payload parses as malformed and is dropped without side effects.
	require.Eventually(t, func() bool {
		return mr.Publish(InvalidationChannel, "probe:probe") > 0
	}, 2*time.Second, 10*time.Millisecond)

	return publisher, publisherCache, listenerCache
}

func TestBroadcastInvalidatesRemoteCache(t *testing.T) {
	publisher, _, remote := setupBroadcastPair(t)

	remote.SetRoles(42, []string{RoleSales})
	remote.SetPermissions(42, []string{PermExportData})
	remote.SetRoles(7, []string{RoleSupport})

	require.NoError(t, publisher.Invalidate(context.Background(), 42))

	assert.Eventually(t, func() bool {
		_, rolesOK := remote.Roles(42)
		_, permsOK := remote.Permissions(42)
		return !rolesOK && !permsOK
	}, 2*time.Second, 10*time.Millisecond)

	// Unrelated users stay cached.
	_, ok := remote.Roles(7)
	assert.True(t, ok)
}

func TestBroadcastInvalidateAll(t *testing.T) {
	publisher, _, remote := setupBroadcastPair(t)

	remote.SetRoles(1, []string{RoleSales})
	remote.SetRoles(2, []string{RoleSupport})

	require.NoError(t, publisher.InvalidateAll(context.Background()))

	assert.Eventually(t, func() bool {
		return remote.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastSkipsOwnMessages(t *testing.T) {
	mr := miniredis.RunT(t)

	cache := NewAccessCache(16, time.Minute)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b := NewBroadcaster(client, cache, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Listen(ctx)
	require.Eventually(t, func() bool {
		return mr.Publish(InvalidationChannel, "probe:probe") > 0
	}, 2*time.Second, 10*time.Millisecond)

	// The publisher invalidates locally before broadcasting; a re-applied
	// self-message would be harmless but is filtered by instance ID. Seed
	// the cache after publishing to observe that the echo does not purge.
	require.NoError(t, b.Invalidate(ctx, 42))
	cache.SetRoles(42, []string{RoleSales})

	time.Sleep(100 * time.Millisecond)
	_, ok := cache.Roles(42)
	assert.True(t, ok)
}

func TestApplyIgnoresMalformedPayloads(t *testing.T) {
	cache := NewAccessCache(16, time.Minute)
	b := &Broadcaster{cache: cache, metrics: nopMetrics{}, instanceID: "self"}
	b.log = discardLogger()

	cache.SetRoles(42, []string{RoleSales})

	b.apply("no-separator")
	b.apply("other:not-a-number")
	b.apply(":42")

	_, ok := cache.Roles(42)
	assert.True(t, ok)

	b.apply("other:42")
	_, ok = cache.Roles(42)
	assert.False(t, ok)
}

func TestApplyCountsBroadcastInvalidations(t *testing.T) {
	b := &Broadcaster{cache: NewAccessCache(16, time.Minute), metrics: nopMetrics{}, instanceID: "self"}
	b.log = discardLogger()
	metrics := &countingMetrics{}
	b.SetMetrics(metrics)

	b.apply("other:42")
	b.apply("other:*")
	assert.Equal(t, 2, metrics.invalidations)

	// Dropped messages are not invalidations: neither self-echoes nor
	// malformed payloads count.
	b.apply("self:42")
	b.apply("garbage")
	assert.Equal(t, 2, metrics.invalidations)
}
