package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tollgate-sdk/tollgate/internal/config"
	"github.com/tollgate-sdk/tollgate/model"
)

// Compile-time check to verify that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

const (
	redisAssignmentsKey    = "tollgate:assignments"
	redisOccurrenceKeysKey = "tollgate:occurrence_keys"
	redisOccurrencePrefix  = "tollgate:occurrences:"

	redisPingRetries = 3
	redisPingBackoff = 200 * time.Millisecond
)

// NewRedisClient initializes a Redis client from the storage configuration
// and verifies connectivity with a short retry loop.
func NewRedisClient(ctx context.Context, cfg *config.StorageConfig, log *slog.Logger) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis: config cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	var lastErr error
	backoff := redisPingBackoff
	for attempt := 1; attempt <= redisPingRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()

		if lastErr == nil {
			return client, nil
		}

		log.Warn("redis ping failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", redisPingRetries),
			slog.Any("error", lastErr),
		)
		if attempt < redisPingRetries {
			select {
			case <-ctx.Done():
				client.Close()
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	client.Close()
	return nil, fmt.Errorf("redis: connection failed after %d attempts: %w", redisPingRetries, lastErr)
}

// RedisStore keeps assignments in a hash keyed by experiment id and
// occurrence records in per-key sorted sets scored by creation time, so a
// window count is a single ZCOUNT.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("storage: redis client cannot be nil")
	}
	return &RedisStore{client: client}
}

// LoadAssignments returns every persisted assignment.
func (s *RedisStore) LoadAssignments(ctx context.Context) ([]model.Assignment, error) {
	fields, err := s.client.HGetAll(ctx, redisAssignmentsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load assignments: %w", err)
	}

	out := make([]model.Assignment, 0, len(fields))
	for experimentID, raw := range fields {
		var a model.Assignment
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("redis: decode assignment %s: %w", experimentID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// SaveAssignment inserts or replaces the assignment for its experiment id.
func (s *RedisStore) SaveAssignment(ctx context.Context, a model.Assignment) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: encode assignment %s: %w", a.ExperimentID, err)
	}
	if err := s.client.HSet(ctx, redisAssignmentsKey, a.ExperimentID, raw).Err(); err != nil {
		return fmt.Errorf("redis: save assignment %s: %w", a.ExperimentID, err)
	}
	return nil
}

// CountOccurrences counts records for the key created at or after since.
func (s *RedisStore) CountOccurrences(ctx context.Context, key string, since time.Time) (int, error) {
	min := "-inf"
	if !since.IsZero() {
		min = strconv.FormatInt(since.UnixNano(), 10)
	}

	count, err := s.client.ZCount(ctx, redisOccurrencePrefix+key, min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count occurrences for %s: %w", key, err)
	}
	return int(count), nil
}

// SaveOccurrence appends one occurrence record. Members are unique per
// firing; the score carries the timestamp used for window queries.
func (s *RedisStore) SaveOccurrence(ctx context.Context, key string, at time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, redisOccurrencePrefix+key, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: uuid.NewString(),
	})
	pipe.SAdd(ctx, redisOccurrenceKeysKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save occurrence for %s: %w", key, err)
	}
	return nil
}

// Reset deletes all assignments and occurrence records.
func (s *RedisStore) Reset(ctx context.Context) error {
	keys, err := s.client.SMembers(ctx, redisOccurrenceKeysKey).Result()
	if err != nil {
		return fmt.Errorf("redis: list occurrence keys: %w", err)
	}

	toDelete := []string{redisAssignmentsKey, redisOccurrenceKeysKey}
	for _, key := range keys {
		toDelete = append(toDelete, redisOccurrencePrefix+key)
	}
	if err := s.client.Del(ctx, toDelete...).Err(); err != nil {
		return fmt.Errorf("redis: reset: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
