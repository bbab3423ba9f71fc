// Package predcache is an optional Redis cache for served predictions.
// Build farms resubmit identical metadata in bursts (rebuild storms); a
// short TTL absorbs those without touching the models. A nil cache is a
// no-op, so serving works identically without Redis.
package predcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
	"github.com/fedora-copr/rpmeta/pkg/predictor"
)

type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{redis: client, ttl: ttl}, nil
}

// Get returns the cached result for a request, or nil on miss. Errors are
// returned so callers can log them, but a failing cache must never fail a
// prediction.
func (c *Cache) Get(ctx context.Context, rec dataset.BuildRecord) (*predictor.Result, error) {
	if c == nil {
		return nil, nil
	}
	key, err := requestKey(rec)
	if err != nil {
		return nil, err
	}

	payload, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var res predictor.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode cached prediction: %w", err)
	}
	return &res, nil
}

func (c *Cache) Put(ctx context.Context, rec dataset.BuildRecord, res *predictor.Result) error {
	if c == nil {
		return nil
	}
	key, err := requestKey(rec)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal prediction: %w", err)
	}
	return c.redis.Set(ctx, key, payload, c.ttl).Err()
}

// Flush drops every cached prediction, e.g. after a model reload.
func (c *Cache) Flush(ctx context.Context) error {
	if c == nil {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, "prediction:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.redis.Close()
}

func requestKey(rec dataset.BuildRecord) (string, error) {
	rec.DurationSecs = 0
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal request key: %w", err)
	}
	sum := sha256.Sum256(payload)
	return "prediction:" + hex.EncodeToString(sum[:]), nil
}
