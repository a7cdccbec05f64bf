package queue

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/timmy/supaarchive/internal/config"
)

// DeadLetter is a task that exhausted its retries.
type DeadLetter struct {
	TaskID       string    `json:"task_id"`
	Type         string    `json:"type"`
	Payload      string    `json:"payload"`
	Retried      int       `json:"retried"`
	MaxRetry     int       `json:"max_retry"`
	LastError    string    `json:"last_error"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// Inspector reads and requeues dead letters.
type Inspector struct {
	inspector *asynq.Inspector
	queue     string
}

// NewInspector creates a dead-letter inspector for the configured queue.
func NewInspector(redisCfg *config.RedisConfig, queueCfg *config.QueueConfig) *Inspector {
	return &Inspector{
		inspector: asynq.NewInspector(RedisOpt(redisCfg)),
		queue:     queueCfg.Name,
	}
}

// Close releases the redis connection.
func (i *Inspector) Close() error {
	return i.inspector.Close()
}

// DeadLetters lists archived tasks, one page at a time (page starts at 1).
func (i *Inspector) DeadLetters(page, pageSize int) ([]DeadLetter, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 30
	}
	tasks, err := i.inspector.ListArchivedTasks(i.queue, asynq.PageSize(pageSize), asynq.Page(page))
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	out := make([]DeadLetter, len(tasks))
	for n, t := range tasks {
		out[n] = DeadLetter{
			TaskID:       t.ID,
			Type:         t.Type,
			Payload:      string(t.Payload),
			Retried:      t.Retried,
			MaxRetry:     t.MaxRetry,
			LastError:    t.LastErr,
			LastFailedAt: t.LastFailedAt,
		}
	}
	return out, nil
}

// Requeue moves a dead letter back to the pending queue.
func (i *Inspector) Requeue(taskID string) error {
	if err := i.inspector.RunTask(i.queue, taskID); err != nil {
		return fmt.Errorf("failed to requeue %s: %w", taskID, err)
	}
	return nil
}
