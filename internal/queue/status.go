package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/timmy/supaarchive/internal/config"
)

// Task states as reported to API clients.
const (
	StatePending = "PENDING"
	StateRunning = "RUNNING"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
)

const (
	statusKeyPrefix = "supaarchive:task:"
	recentTasksKey  = "supaarchive:tasks:recent"
	maxRecentTasks  = 200
	defaultStateTTL = 7 * 24 * time.Hour
)

// TaskStatus is the last known state of a task.
type TaskStatus struct {
	TaskID    string    `json:"task_id"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusStore keeps task states in redis with an expiry.
type StatusStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient opens a go-redis client for the configured server.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewStatusStore creates a status store. ttl <= 0 uses seven days.
func NewStatusStore(rdb *redis.Client, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StatusStore{rdb: rdb, ttl: ttl}
}

// Set records the state of a task. New pending tasks are also pushed onto the
// bounded recent-task list.
func (s *StatusStore) Set(ctx context.Context, taskID, state, message string) error {
	data, err := json.Marshal(TaskStatus{
		TaskID:    taskID,
		State:     state,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, statusKeyPrefix+taskID, data, s.ttl)
	if state == StatePending {
		pipe.RPush(ctx, recentTasksKey, taskID)
		pipe.LTrim(ctx, recentTasksKey, -maxRecentTasks, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store task status: %w", err)
	}
	return nil
}

// Get returns the recorded state of a task, or false if none is known.
func (s *StatusStore) Get(ctx context.Context, taskID string) (*TaskStatus, bool, error) {
	raw, err := s.rdb.Get(ctx, statusKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read task status: %w", err)
	}
	var st TaskStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("failed to decode task status: %w", err)
	}
	return &st, true, nil
}

// Recent returns up to n most recently enqueued task ids, newest first.
func (s *StatusStore) Recent(ctx context.Context, n int) ([]string, error) {
	if n <= 0 || n > maxRecentTasks {
		n = maxRecentTasks
	}
	ids, err := s.rdb.LRange(ctx, recentTasksKey, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tasks: %w", err)
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if _, ok := seen[ids[i]]; ok {
			continue
		}
		seen[ids[i]] = struct{}{}
		out = append(out, ids[i])
	}
	return out, nil
}

// Ping checks the redis connection.
func (s *StatusStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
