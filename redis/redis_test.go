package redis

import (
	"context"
	"testing"
	"time"

	"github.com/m-lab/echo-probe/roundtrip"
)

func clientSetup(t *testing.T) *Client {
	client := NewClient("localhost:6379")
	// Try to ping Redis to see if it's available.
	ctx := context.Background()
	if err := client.rdb.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available, skipping tests. Start Redis with: docker run -d -p 6379:6379 redis:latest")
	}
	return client
}

func TestSetAndGetResult(t *testing.T) {
	client := clientSetup(t)
	defer client.Close()
	ctx := context.Background()

	record := &roundtrip.Result{
		UUID:         "test-uuid-001",
		Protocol:     "tcp",
		MessageCount: 3,
		BytesEchoed:  192,
		Samples:      []int64{11, 12, 13},
	}
	if err := client.SetResult(ctx, record, time.Minute); err != nil {
		t.Fatalf("Failed to cache the record: %v", err)
	}
	got, err := client.GetResult(ctx, record.UUID)
	if err != nil {
		t.Fatalf("Failed to read the record back: %v", err)
	}
	if got.UUID != record.UUID || got.MessageCount != record.MessageCount {
		t.Errorf("Read back %+v, want %+v", got, record)
	}
	uuid, err := client.LatestUUID(ctx)
	if err != nil {
		t.Fatalf("Failed to read the latest uuid: %v", err)
	}
	if uuid != record.UUID {
		t.Errorf("Latest uuid is %q, want %q", uuid, record.UUID)
	}

	// Cleanup
	client.rdb.Del(ctx, resultPrefix+record.UUID, latestKey)
}

func TestLatestUUIDWhenNothingIsCached(t *testing.T) {
	client := clientSetup(t)
	defer client.Close()
	ctx := context.Background()

	client.rdb.Del(ctx, latestKey)
	uuid, err := client.LatestUUID(ctx)
	if err != nil {
		t.Fatalf("LatestUUID failed: %v", err)
	}
	if uuid != "" {
		t.Errorf("Latest uuid is %q, want an empty string", uuid)
	}
}
