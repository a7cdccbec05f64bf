package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/source"
)

// Client enqueues pipeline tasks.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	maxRetry  int
	timeout   time.Duration
	status    *StatusStore
}

// RedisOpt builds the asynq connection options from configuration.
func RedisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewClient creates a task client.
// Parameters:
//   - redisCfg: redis connection settings.
//   - queueCfg: queue name, retry budget and per-task timeout.
//   - status: optional task status store; nil disables status tracking.
//
// Returns:
//   - *Client: task client; Close it when done.
func NewClient(redisCfg *config.RedisConfig, queueCfg *config.QueueConfig, status *StatusStore) *Client {
	return &Client{
		client:    asynq.NewClient(RedisOpt(redisCfg)),
		inspector: asynq.NewInspector(RedisOpt(redisCfg)),
		queue:     queueCfg.Name,
		maxRetry:  queueCfg.MaxRetry,
		timeout:   queueCfg.TaskTimeout,
		status:    status,
	}
}

// Close releases the redis connections.
func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}

// enqueue submits a task. A TaskID conflict means an identical task is already
// pending, which counts as success.
func (c *Client) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) (string, error) {
	task, err := newTask(taskType, payload)
	if err != nil {
		return "", err
	}

	base := []asynq.Option{asynq.Queue(c.queue), asynq.MaxRetry(c.maxRetry)}
	if c.timeout > 0 {
		base = append(base, asynq.Timeout(c.timeout))
	}
	info, err := c.client.EnqueueContext(ctx, task, append(base, opts...)...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			logger.With(logger.Fields{logger.FieldTaskType: taskType}).Debug(ctx, "Task already pending")
			return "", nil
		}
		return "", fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}

	if c.status != nil {
		if err := c.status.Set(ctx, info.ID, StatePending, ""); err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldTaskID, info.ID).Warn("Failed to record task status")
		}
	}
	logger.With(logger.Fields{
		logger.FieldTaskID:   info.ID,
		logger.FieldTaskType: taskType,
	}).Debug(ctx, "Task enqueued to %s", info.Queue)
	return info.ID, nil
}

// EnqueueIngestItem schedules download and ingestion of one item.
func (c *Client) EnqueueIngestItem(ctx context.Context, sourceName string, item source.Item) error {
	_, err := c.enqueue(ctx, TypeIngestItem, IngestItemPayload{Source: sourceName, Item: item})
	return err
}

// EnqueueIndexEmbedding schedules embedding of an artwork after delay. At most
// one index task per artwork is live at a time; a dead-lettered one is
// replaced by a fresh task.
// Returns:
//   - bool: true when a new task was submitted, false when one is already pending.
//   - error: enqueue or inspection failure.
func (c *Client) EnqueueIndexEmbedding(ctx context.Context, artworkID string, delay time.Duration) (bool, error) {
	taskID := "index:" + artworkID
	opts := []asynq.Option{asynq.TaskID(taskID)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	payload := ArtworkPayload{ArtworkID: artworkID}

	id, err := c.enqueue(ctx, TypeIndexEmbedding, payload, opts...)
	if err != nil || id != "" {
		return id != "", err
	}

	info, err := c.inspector.GetTaskInfo(c.queue, taskID)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
		// Finished between the two calls.
	case err != nil:
		return false, fmt.Errorf("failed to inspect task %s: %w", taskID, err)
	case info.State == asynq.TaskStateArchived:
		if err := c.inspector.DeleteTask(c.queue, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return false, fmt.Errorf("failed to drop dead letter %s: %w", taskID, err)
		}
		logger.With(logger.Fields{
			logger.FieldTaskID:    taskID,
			logger.FieldArtworkID: artworkID,
		}).Info(ctx, "Replacing dead-lettered index task")
	default:
		return false, nil
	}

	id, err = c.enqueue(ctx, TypeIndexEmbedding, payload, opts...)
	return id != "", err
}

// EnqueueFetchSource schedules a pull run against a registered source.
func (c *Client) EnqueueFetchSource(ctx context.Context, sourceName, query string, limit int) (string, error) {
	return c.enqueue(ctx, TypeFetchSource, FetchSourcePayload{Source: sourceName, Query: query, Limit: limit})
}

// EnqueueTranslate schedules metadata translation for an artwork.
func (c *Client) EnqueueTranslate(ctx context.Context, artworkID string) (string, error) {
	return c.enqueue(ctx, TypeTranslateMetadata, ArtworkPayload{ArtworkID: artworkID},
		asynq.TaskID("translate:"+artworkID))
}

// EnqueueBackfill schedules embedding of every record that has none.
func (c *Client) EnqueueBackfill(ctx context.Context) (string, error) {
	return c.enqueue(ctx, TypeBackfillEmbeddings, nil, asynq.Unique(time.Hour))
}

// EnqueueRemoveBroken schedules the broken-record sweep.
func (c *Client) EnqueueRemoveBroken(ctx context.Context) (string, error) {
	return c.enqueue(ctx, TypeRemoveBroken, nil, asynq.Unique(time.Hour))
}

// EnqueueRemoveDisallowedMedia schedules removal of records with disallowed extensions.
func (c *Client) EnqueueRemoveDisallowedMedia(ctx context.Context) (string, error) {
	return c.enqueue(ctx, TypeRemoveDisallowedMedia, nil, asynq.Unique(time.Hour))
}
