package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore counts requests in fixed windows with INCR + EXPIRE.
type RedisRateLimitStore struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedisRateLimitStore(client redis.Cmdable) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, now: time.Now}
}

func (s *RedisRateLimitStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	now := s.now()
	windowStart := now.Truncate(window)
	resetAt := windowStart.Add(window)
	bucket := fmt.Sprintf("%s:%d", key, windowStart.Unix())

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, bucket)
		p.ExpireAt(ctx, bucket, resetAt.Add(time.Second))
		return nil
	})
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("rate limit incr: %w", err)
	}

	n := int(incr.Val())
	return RateLimitResult{
		Allowed:   n <= limit,
		Remaining: max(limit-n, 0),
		ResetAt:   resetAt,
	}, nil
}

func (s *RedisRateLimitStore) Peek(ctx context.Context, key string, window time.Duration) (int, error) {
	bucket := fmt.Sprintf("%s:%d", key, s.now().Truncate(window).Unix())
	n, err := s.client.Get(ctx, bucket).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit get: %w", err)
	}
	return n, nil
}

// RedisIdempotencyStore keeps one JSON record per key with a TTL.
type RedisIdempotencyStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client redis.Cmdable, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func idempotencyKey(scope, key string) string {
	return "idem:" + scope + ":" + key
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, scope, key string) (*IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, idempotencyKey(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency get: %w", err)
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("idempotency decode: %w", err)
	}
	return &rec, nil
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string) (bool, error) {
	raw, err := json.Marshal(IdempotencyRecord{Status: IdempotencyStatusProcessing, Fingerprint: fingerprint})
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, idempotencyKey(scope, key), raw, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency begin: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, scope, key string, rec IdempotencyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, idempotencyKey(scope, key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Abandon(ctx context.Context, scope, key string) error {
	if err := s.client.Del(ctx, idempotencyKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("idempotency abandon: %w", err)
	}
	return nil
}
