package placeholder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a shared Redis instance so that a fleet
// of servers can resolve each other's task ids. Expiry is enforced by
// server-side TTLs: an expired task surfaces as NotFound, which the
// contract allows. Capacity is bounded by TTL alone in this backend.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisStoreConfig holds Redis connection configuration.
type RedisStoreConfig struct {
	// URL is the Redis connection string (redis://host:port/db).
	URL string
	// Prefix is the key prefix for all task keys (default: "agenthost:task:").
	Prefix string
	// TTL is the maximum placeholder lifetime (0 = never expire).
	TTL time.Duration
}

// taskRecord is the JSON envelope stored per task id.
type taskRecord struct {
	Resolved bool   `json:"resolved"`
	Payload  []byte `json:"payload,omitempty"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisStore(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient creates a store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return newRedisStore(client, prefix, ttl)
}

func newRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "agenthost:task:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) taskKey(taskID string) string {
	return s.prefix + taskID
}

// Prepare issues a fresh task id and registers it as pending.
func (s *RedisStore) Prepare(ctx context.Context) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	data, err := json.Marshal(&taskRecord{})
	if err != nil {
		return "", fmt.Errorf("marshal task record: %w", err)
	}

	if err := s.client.Set(ctx, s.taskKey(id), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("prepare task: %w", err)
	}
	return id, nil
}

// Set resolves a pending task with its final payload. The TTL is not
// extended: the deadline runs from Prepare, matching the local backend.
func (s *RedisStore) Set(ctx context.Context, taskID string, payload []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(&taskRecord{Resolved: true, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}

	// KEEPTTL preserves the deadline set at Prepare time; an already
	// expired key is gone and the write is refused via XX.
	ok, err := s.client.SetArgs(ctx, s.taskKey(taskID), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("resolve task: %w", err)
	}
	if errors.Is(err, redis.Nil) || ok == "" {
		return ErrNotFound
	}
	return nil
}

// Get retrieves the current value for a task id.
func (s *RedisStore) Get(ctx context.Context, taskID string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var rec taskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal task record: %w", err)
	}
	if !rec.Resolved {
		return nil, ErrPending
	}
	return rec.Payload, nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
