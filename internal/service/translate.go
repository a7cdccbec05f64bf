package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
)

// DeepLTranslator calls the DeepL v2 translate endpoint.
type DeepLTranslator struct {
	client *resty.Client
}

// NewDeepLTranslator creates a DeepL client.
func NewDeepLTranslator(cfg *config.TranslationConfig) *DeepLTranslator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetHeader("Authorization", "DeepL-Auth-Key "+cfg.APIKey)

	return &DeepLTranslator{client: client}
}

type deeplRequest struct {
	Text       []string `json:"text"`
	TargetLang string   `json:"target_lang"`
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
	Message string `json:"message,omitempty"`
}

// Translate translates text into targetLang.
func (t *DeepLTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	var result deeplResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(deeplRequest{Text: []string{text}, TargetLang: targetLang}).
		SetResult(&result).
		SetError(&result).
		Post("/translate")
	if err != nil {
		return "", fmt.Errorf("failed to call DeepL: %w", err)
	}
	if resp.IsError() {
		if result.Message != "" {
			return "", fmt.Errorf("DeepL error: %s", result.Message)
		}
		return "", fmt.Errorf("DeepL error: status %d", resp.StatusCode())
	}
	if len(result.Translations) == 0 {
		return "", fmt.Errorf("DeepL returned no translation")
	}
	return result.Translations[0].Text, nil
}

// TranslationService produces translated overlays for artwork metadata.
type TranslationService struct {
	artworks     ArtworkStore
	translations TranslationStore
	translator   Translator
	targetLang   string
}

// NewTranslationService creates a new translation service.
func NewTranslationService(artworks ArtworkStore, translations TranslationStore, translator Translator, targetLang string) *TranslationService {
	return &TranslationService{
		artworks:     artworks,
		translations: translations,
		translator:   translator,
		targetLang:   targetLang,
	}
}

// TranslateArtwork translates the title and description of an artwork and stores
// the overlay for it, or for every page of its set when it belongs to one.
// Returns the number of overlays written.
func (s *TranslationService) TranslateArtwork(ctx context.Context, id string) (int, error) {
	ctx = logger.SetArtworkID(ctx, id)
	artwork, err := s.artworks.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}

	title, err := s.translate(ctx, artwork.Title)
	if err != nil {
		return 0, err
	}
	description, err := s.translate(ctx, artwork.Description)
	if err != nil {
		return 0, err
	}

	ids := []string{artwork.ID}
	if m, ok := artwork.Membership().(domain.SetMember); ok {
		members, err := s.artworks.SetMemberIDs(ctx, m.SourceSetID)
		if err != nil {
			return 0, fmt.Errorf("failed to list set members: %w", err)
		}
		if len(members) > 0 {
			ids = members
		}
	}

	records := make([]domain.Translation, len(ids))
	for i, memberID := range ids {
		records[i] = domain.Translation{
			ID:          memberID,
			Title:       title,
			Description: description,
			TargetLang:  s.targetLang,
		}
	}
	if err := s.translations.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to store translations: %w", err)
	}

	logger.With(logger.Fields{logger.FieldCount: len(records)}).Info(ctx, "Artwork metadata translated")
	return len(records), nil
}

func (s *TranslationService) translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	return s.translator.Translate(ctx, text, s.targetLang)
}
