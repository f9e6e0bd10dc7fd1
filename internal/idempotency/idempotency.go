// Package idempotency remembers which CRM entities a client-supplied
// Idempotency-Key already produced, so that a resubmission after a partial
// failure resumes instead of creating a second record.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrInProgress is returned when another attempt holds the key and has not
// created its record yet.
var ErrInProgress = errors.New("idempotency: key in use by an attempt still in progress")

const (
	// pendingTTL bounds how long a reservation without a record blocks the
	// key, in case the holder died.
	pendingTTL = 2 * time.Minute
	keyPrefix  = "grant:idem:"
)

// Entry is what a key has produced so far.
type Entry struct {
	AttemptID  string `json:"attemptId"`
	RecordID   string `json:"recordId,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
	LinkID     string `json:"linkId,omitempty"`
}

// Store reserves keys and records progress against them.
type Store interface {
	// Reserve claims key for attemptID. A nil entry means the claim
	// succeeded; a non-nil entry is the progress of an earlier attempt.
	Reserve(ctx context.Context, key, attemptID string) (*Entry, error)
	// Save records progress and keeps the key for the store's TTL.
	Save(ctx context.Context, key string, e Entry) error
	// Release drops a reservation that produced nothing.
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key, attemptID string) (*Entry, error) {
	data, err := json.Marshal(Entry{AttemptID: attemptID})
	if err != nil {
		return nil, err
	}
	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, data, pendingTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Reserve(ctx, key, attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: read: %w", err)
	}
	var prev Entry
	if err := json.Unmarshal(raw, &prev); err != nil {
		return nil, fmt.Errorf("idempotency: decode: %w", err)
	}
	if prev.RecordID == "" {
		return nil, ErrInProgress
	}
	return &prev, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// MemoryStore is a single-process Store.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	Entry
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: map[string]memEntry{}}
}

func (s *MemoryStore) Reserve(_ context.Context, key, attemptID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if e.RecordID == "" {
			return nil, ErrInProgress
		}
		prev := e.Entry
		return &prev, nil
	}
	s.entries[key] = memEntry{Entry: Entry{AttemptID: attemptID}, expires: now.Add(pendingTTL)}
	return nil, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{Entry: e, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
