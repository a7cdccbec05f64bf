package repository

import (
	"context"

	"github.com/timmy/supaarchive/internal/domain"
	"gorm.io/gorm"
)

// IngestRunRepository persists ingest run bookkeeping.
type IngestRunRepository struct {
	db *gorm.DB
}

// NewIngestRunRepository creates a new IngestRunRepository.
func NewIngestRunRepository(db *gorm.DB) *IngestRunRepository {
	return &IngestRunRepository{db: db}
}

// Create inserts a new run.
func (r *IngestRunRepository) Create(ctx context.Context, run *domain.IngestRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Save writes the run counters and status.
func (r *IngestRunRepository) Save(ctx context.Context, run *domain.IngestRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// ListRecent returns the most recent runs, newest first.
func (r *IngestRunRepository) ListRecent(ctx context.Context, limit int) ([]domain.IngestRun, error) {
	var runs []domain.IngestRun
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
