package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/source"
)

// Task type names. They are stable identifiers stored in redis.
const (
	TypeIngestItem            = "ingest:item"
	TypeFetchSource           = "ingest:fetch_source"
	TypeIndexEmbedding        = "index:embedding"
	TypeBackfillEmbeddings    = "index:backfill"
	TypeRemoveBroken          = "repair:remove_broken"
	TypeRemoveDisallowedMedia = "repair:remove_disallowed_media"
	TypeTranslateMetadata     = "translate:metadata"
)

// IngestItemPayload carries one source item to the ingestion pipeline.
type IngestItemPayload struct {
	Source string      `json:"source"`
	Item   source.Item `json:"item"`
}

// FetchSourcePayload asks a worker to walk a pull source.
type FetchSourcePayload struct {
	Source string `json:"source"`
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
}

// ArtworkPayload targets a single artwork.
type ArtworkPayload struct {
	ArtworkID string `json:"artwork_id"`
}

func newTask(taskType string, payload interface{}) (*asynq.Task, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", taskType, err)
		}
	}
	return asynq.NewTask(taskType, data), nil
}

// decode unmarshals a task payload. A malformed payload can never succeed, so
// it is reported as a validation error and not retried.
func decode(t *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", domain.ErrValidation, t.Type(), err)
	}
	return nil
}
