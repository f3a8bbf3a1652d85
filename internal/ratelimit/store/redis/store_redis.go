// Package redis keeps fixed-window counters in Redis so every replica sees
// the same auth-failure counts.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stagepass/internal/ratelimit/models"
	"stagepass/pkg/requestcontext"
)

type WindowStore struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *WindowStore {
	return &WindowStore{client: client}
}

// Increment runs INCR and sets the expiry only when the key is new, so the
// window stays anchored at the first event.
func (s *WindowStore) Increment(ctx context.Context, key string, window time.Duration) (models.Window, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return models.Window{}, fmt.Errorf("increment %s: %w", key, err)
	}
	return toWindow(ctx, incr.Val(), ttl.Val(), window), nil
}

func (s *WindowStore) Current(ctx context.Context, key string) (models.Window, error) {
	var get *redis.StringCmd
	var ttl *redis.DurationCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.Window{}, fmt.Errorf("read %s: %w", key, err)
	}
	count, err := get.Int64()
	if errors.Is(err, redis.Nil) {
		return models.Window{}, nil
	}
	if err != nil {
		return models.Window{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return toWindow(ctx, count, ttl.Val(), 0), nil
}

func (s *WindowStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

// PTTL reports negative values for keys without expiry; fall back to the
// full window so a counter never looks permanently reset.
func toWindow(ctx context.Context, count int64, ttl, window time.Duration) models.Window {
	if ttl < 0 {
		ttl = window
	}
	return models.Window{Count: int(count), ResetAt: requestcontext.Now(ctx).Add(ttl)}
}
