package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aescanero/robotd/internal/domain"
	"github.com/aescanero/robotd/internal/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "robotd:worker:"

// WorkerStore implements WorkerStore using Redis
type WorkerStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewWorkerStore creates a new Redis worker store. Records expire after ttl
// unless they are saved again; a zero ttl keeps them until deleted.
func NewWorkerStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *WorkerStore {
	return &WorkerStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists a worker record
func (s *WorkerStore) Save(ctx context.Context, record *domain.WorkerRecord) error {
	if record == nil || record.WorkerID == "" {
		return fmt.Errorf("worker record without id")
	}
	key := getWorkerKey(record.WorkerID)

	// Serialize record
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal worker record: %w", err)
	}

	// Save to Redis with TTL
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save worker record: %w", err)
	}

	s.logger.Debug("worker record saved",
		zap.String("worker_id", record.WorkerID),
		zap.String("state", record.State))

	return nil
}

// Get retrieves a worker record
func (s *WorkerStore) Get(ctx context.Context, workerID string) (*domain.WorkerRecord, error) {
	key := getWorkerKey(workerID)

	// Get from Redis
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ports.ErrRecordNotFound, workerID)
		}
		return nil, fmt.Errorf("failed to get worker record: %w", err)
	}

	// Deserialize record
	var record domain.WorkerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker record: %w", err)
	}

	return &record, nil
}

// Delete removes a worker record
func (s *WorkerStore) Delete(ctx context.Context, workerID string) error {
	key := getWorkerKey(workerID)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete worker record: %w", err)
	}

	s.logger.Debug("worker record deleted",
		zap.String("worker_id", workerID))

	return nil
}

// List returns every stored record, oldest allocation first. Records that
// expire or disappear during the scan are skipped.
func (s *WorkerStore) List(ctx context.Context) ([]*domain.WorkerRecord, error) {
	pattern := keyPrefix + "*"

	// Scan for keys
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return []*domain.WorkerRecord{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get worker records: %w", err)
	}

	records := make([]*domain.WorkerRecord, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}

		var record domain.WorkerRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			s.logger.Warn("skipping unreadable worker record",
				zap.String("key", keys[i]),
				zap.Error(err))
			continue
		}

		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].AllocatedAt.Before(records[j].AllocatedAt)
	})
	return records, nil
}

// getWorkerKey returns the Redis key for a worker record
func getWorkerKey(workerID string) string {
	return keyPrefix + workerID
}
