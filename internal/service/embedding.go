package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
)

// EmbeddingService calls an image+text embedding server over HTTP.
// The model is loaded on the server on first use; the client probes it once
// and, when configured, serializes inference calls.
type EmbeddingService struct {
	client     *resty.Client
	model      string
	dimensions int

	initMu sync.Mutex
	ready  bool

	serialize bool
	inferMu   sync.Mutex
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(cfg *config.EmbeddingConfig) *EmbeddingService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &EmbeddingService{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		serialize:  cfg.Serialize,
	}
}

// GetModel returns the model name being used
func (s *EmbeddingService) GetModel() string {
	return s.model
}

type embedRequest struct {
	Model string `json:"model"`
	Image string `json:"image"`
	Text  string `json:"text,omitempty"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Detail    string    `json:"detail,omitempty"`
}

type modelStatus struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Ready      bool   `json:"ready"`
}

// ensureModel asks the server to load the model, at most once per process.
// A failed probe is retried by the next call.
func (s *EmbeddingService) ensureModel(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.ready {
		return nil
	}

	var status modelStatus
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("model", s.model).
		SetResult(&status).
		Get("/models/load")
	if err != nil {
		return fmt.Errorf("%w: failed to reach embedding server: %v", domain.ErrInferenceFailure, err)
	}
	if resp.IsError() || !status.Ready {
		return fmt.Errorf("%w: embedding model %s not ready (status %d)", domain.ErrInferenceFailure, s.model, resp.StatusCode())
	}
	if s.dimensions > 0 && status.Dimensions > 0 && status.Dimensions != s.dimensions {
		return fmt.Errorf("embedding model %s has %d dimensions, configured %d", s.model, status.Dimensions, s.dimensions)
	}

	logger.With(logger.Fields{
		"model":      s.model,
		"dimensions": status.Dimensions,
	}).Info(ctx, "Embedding model ready")
	s.ready = true
	return nil
}

// Embed computes the embedding of an image conditioned on its tag text.
func (s *EmbeddingService) Embed(ctx context.Context, image []byte, text string) ([]float32, error) {
	if err := s.ensureModel(ctx); err != nil {
		return nil, err
	}
	if s.serialize {
		s.inferMu.Lock()
		defer s.inferMu.Unlock()
	}

	start := time.Now()
	var result embedResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(embedRequest{
			Model: s.model,
			Image: base64.StdEncoding.EncodeToString(image),
			Text:  text,
		}).
		SetResult(&result).
		SetError(&result).
		Post("/embed")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call embedding server: %v", domain.ErrInferenceFailure, err)
	}
	if resp.IsError() {
		if result.Detail != "" {
			return nil, fmt.Errorf("%w: embedding server error: %s", domain.ErrInferenceFailure, result.Detail)
		}
		return nil, fmt.Errorf("%w: embedding server error: status %d", domain.ErrInferenceFailure, resp.StatusCode())
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", domain.ErrInferenceFailure)
	}
	if s.dimensions > 0 && len(result.Embedding) != s.dimensions {
		return nil, fmt.Errorf("%w: got %d dimensions, expected %d", domain.ErrInferenceFailure, len(result.Embedding), s.dimensions)
	}

	logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()}).Debug(ctx, "Embedding computed")
	return result.Embedding, nil
}
