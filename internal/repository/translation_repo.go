package repository

import (
	"context"
	"errors"

	"github.com/timmy/supaarchive/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TranslationRepository stores translated metadata overlays.
type TranslationRepository struct {
	db *gorm.DB
}

// NewTranslationRepository creates a new TranslationRepository.
func NewTranslationRepository(db *gorm.DB) *TranslationRepository {
	return &TranslationRepository{db: db}
}

// Upsert creates or replaces the overlay for each translation's artwork id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - translations: one overlay per artwork id.
// Returns:
//   - error: non-nil if the write fails.
func (r *TranslationRepository) Upsert(ctx context.Context, translations []domain.Translation) error {
	if len(translations) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "description", "target_lang", "updated_at"}),
	}).Create(&translations).Error
}

// GetByID returns the overlay for an artwork, or domain.ErrNotFound.
func (r *TranslationRepository) GetByID(ctx context.Context, id string) (*domain.Translation, error) {
	var translation domain.Translation
	if err := r.db.WithContext(ctx).First(&translation, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &translation, nil
}

// Count returns the number of stored overlays.
func (r *TranslationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Translation{}).Count(&count).Error
	return count, err
}

// Delete removes the overlay for an artwork if present.
func (r *TranslationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Translation{}, "id = ?", id).Error
}
