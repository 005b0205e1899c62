package core

import (
	"context"
	"sync"
	"time"
)

// MemoryRateLimitStore is the single-process RateLimitStore used when no
// Redis is configured.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]memoryBucket
}

type memoryBucket struct {
	count   int
	resetAt time.Time
}

func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{now: time.Now, buckets: make(map[string]memoryBucket)}
}

func (s *MemoryRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = memoryBucket{resetAt: now.Truncate(window).Add(window)}
	}
	b.count++
	s.buckets[key] = b

	return RateLimitResult{
		Allowed:   b.count <= limit,
		Remaining: max(limit-b.count, 0),
		ResetAt:   b.resetAt,
	}, nil
}

func (s *MemoryRateLimitStore) Peek(_ context.Context, key string, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || !s.now().Before(b.resetAt) {
		return 0, nil
	}
	return b.count, nil
}

// MemoryIdempotencyStore is the single-process IdempotencyStore used when
// no Redis is configured. Entries expire after ttl.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]memoryRecord
}

type memoryRecord struct {
	rec       IdempotencyRecord
	expiresAt time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryIdempotencyStore{ttl: ttl, now: time.Now, records: make(map[string]memoryRecord)}
}

// lookup must be called with mu held.
func (s *MemoryIdempotencyStore) lookup(k string) (memoryRecord, bool) {
	r, ok := s.records[k]
	if ok && !s.now().Before(r.expiresAt) {
		delete(s.records, k)
		return memoryRecord{}, false
	}
	return r, ok
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, scope, key string) (*IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.lookup(idempotencyKey(scope, key))
	if !ok {
		return nil, nil
	}
	rec := r.rec
	return &rec, nil
}

func (s *MemoryIdempotencyStore) Begin(_ context.Context, scope, key, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := idempotencyKey(scope, key)
	if _, ok := s.lookup(k); ok {
		return false, nil
	}
	s.records[k] = memoryRecord{
		rec:       IdempotencyRecord{Status: IdempotencyStatusProcessing, Fingerprint: fingerprint},
		expiresAt: s.now().Add(s.ttl),
	}
	return true, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, scope, key string, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[idempotencyKey(scope, key)] = memoryRecord{rec: rec, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Abandon(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, idempotencyKey(scope, key))
	return nil
}
