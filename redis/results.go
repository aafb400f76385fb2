package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m-lab/echo-probe/roundtrip"
)

const (
	resultPrefix = "echo:result:"
	latestKey    = "echo:latest"
)

// SetResult caches record under its UUID for ttl and marks it as the
// latest run.
func (c *Client) SetResult(ctx context.Context, record *roundtrip.Result, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, resultPrefix+record.UUID, data, ttl).Err(); err != nil {
		return err
	}
	return c.rdb.Set(ctx, latestKey, record.UUID, ttl).Err()
}

// GetResult returns the cached record for uuid.
func (c *Client) GetResult(ctx context.Context, uuid string) (*roundtrip.Result, error) {
	data, err := c.rdb.Get(ctx, resultPrefix+uuid).Bytes()
	if err != nil {
		return nil, err
	}
	record := &roundtrip.Result{}
	err = json.Unmarshal(data, record)
	return record, err
}

// LatestUUID returns the UUID of the most recently cached record, or
// "" when no record has been cached yet.
func (c *Client) LatestUUID(ctx context.Context) (string, error) {
	uuid, err := c.rdb.Get(ctx, latestKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	return uuid, err
}
