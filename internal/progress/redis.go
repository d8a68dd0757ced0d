package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/powlabs/proofwork/internal/types"
)

// RedisStore keeps progress entries in Redis, mapping the fixed TTL
// directly onto key expiry. Useful when multiple pipeline instances serve
// the same polling consumers.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection before
// returning.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	slog.Info("progress store using redis", "addr", addr, "db", db)

	return &RedisStore{client: client, ttl: TTL}, nil
}

func progressKey(subject string) string {
	return "progress:" + subject
}

// Set overwrites the subject's entry; Redis expiry handles eviction.
func (s *RedisStore) Set(ctx context.Context, subject, stage, message string, percent int) error {
	state := types.ProgressState{
		Subject:   subject,
		Stage:     stage,
		Message:   message,
		Percent:   percent,
		UpdatedAt: time.Now(),
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode progress state: %w", err)
	}

	return s.client.Set(ctx, progressKey(subject), encoded, s.ttl).Err()
}

// Get returns the subject's entry if it has not expired.
func (s *RedisStore) Get(ctx context.Context, subject string) (types.ProgressState, bool, error) {
	raw, err := s.client.Get(ctx, progressKey(subject)).Bytes()
	if err == redis.Nil {
		return types.ProgressState{}, false, nil
	}
	if err != nil {
		return types.ProgressState{}, false, fmt.Errorf("read progress state: %w", err)
	}

	var state types.ProgressState
	if err := json.Unmarshal(raw, &state); err != nil {
		return types.ProgressState{}, false, fmt.Errorf("decode progress state: %w", err)
	}

	return state, true, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
