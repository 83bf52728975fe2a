package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/quentinrf/aquaflow/internal/domain"
)

// TestStoreAgainstRealRedis runs the store against a Redis container
func TestStoreAgainstRealRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("Failed to parse %q: %v", uri, err)
	}

	store := NewStoreFromClient(goredis.NewClient(opts), "")
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	snapshots := make(chan domain.UsageSnapshot, 4)
	cancel, err := store.Subscribe(ctx, domain.ChannelData, func(_ context.Context, value []byte) {
		snapshots <- domain.DecodeSnapshot(value)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	want := domain.UsageSnapshot{TotalLiters: 15, TotalPrice: 4.5, LastFlow2: 105}
	if err := store.Write(ctx, domain.ChannelData, want.Encode()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case got := <-snapshots:
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for snapshot notification")
	}

	raw, found, err := store.ReadOnce(ctx, domain.ChannelData)
	if err != nil || !found {
		t.Fatalf("ReadOnce = %q, %v, %v", raw, found, err)
	}
	if got := domain.DecodeSnapshot(raw); got != want {
		t.Errorf("read back %+v, want %+v", got, want)
	}
}
