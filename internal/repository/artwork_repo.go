package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/timmy/supaarchive/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArtworkRepository is the content store, keyed by payload hash.
type ArtworkRepository struct {
	db *gorm.DB
}

// NewArtworkRepository creates a new ArtworkRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ArtworkRepository: repository instance bound to db.
func NewArtworkRepository(db *gorm.DB) *ArtworkRepository {
	return &ArtworkRepository{db: db}
}

// GetByID retrieves an artwork by its content hash.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: SHA-256 hex of the payload.
// Returns:
//   - *domain.Artwork: record if found.
//   - error: domain.ErrNotFound when absent, otherwise the query error.
func (r *ArtworkRepository) GetByID(ctx context.Context, id string) (*domain.Artwork, error) {
	var artwork domain.Artwork
	if err := r.db.WithContext(ctx).First(&artwork, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &artwork, nil
}

// GetByIDs loads several artworks at once. Missing ids are absent from the map.
func (r *ArtworkRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Artwork, error) {
	out := make(map[string]*domain.Artwork, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var artworks []domain.Artwork
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&artworks).Error; err != nil {
		return nil, err
	}
	for i := range artworks {
		out[artworks[i].ID] = &artworks[i]
	}
	return out, nil
}

// CreateIfAbsent inserts the record unless a row with the same hash exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - artwork: record to insert.
// Returns:
//   - bool: true if this call inserted the row, false if another writer won.
//   - error: non-nil if the insert fails.
func (r *ArtworkRepository) CreateIfAbsent(ctx context.Context, artwork *domain.Artwork) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(artwork)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateMerged writes the merge-owned columns if the stored revision still
// matches. BlobRef, AddedAt and Embedding are not part of the update.
// Returns false when another writer changed the row first.
func (r *ArtworkRepository) UpdateMerged(ctx context.Context, artwork *domain.Artwork) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Artwork{}).
		Where("id = ? AND revision = ?", artwork.ID, artwork.Revision).
		Updates(map[string]interface{}{
			"tags":          artwork.Tags,
			"source_set_id": artwork.SourceSetID,
			"page_no":       artwork.PageNo,
			"external_id":   artwork.ExternalID,
			"author_id":     artwork.AuthorID,
			"author_name":   artwork.AuthorName,
			"title":         artwork.Title,
			"description":   artwork.Description,
			"revision":      artwork.Revision + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	artwork.Revision++
	return true, nil
}

// SetBlob records a completed upload along with the decoded dimensions.
func (r *ArtworkRepository) SetBlob(ctx context.Context, id, blobRef string, width, height int) error {
	result := r.db.WithContext(ctx).Model(&domain.Artwork{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"blob_ref": blobRef,
			"width":    width,
			"height":   height,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetEmbedding stores the normalized embedding for an artwork.
func (r *ArtworkRepository) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	result := r.db.WithContext(ctx).Model(&domain.Artwork{}).
		Where("id = ?", id).
		Update("embedding", domain.Vector(embedding))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ExistsBySetPage reports whether a (sourceSetId, pageNo) pair is archived.
func (r *ArtworkRepository) ExistsBySetPage(ctx context.Context, sourceSetID int64, pageNo int) (bool, error) {
	return r.exists(ctx, "source_set_id = ? AND page_no = ?", sourceSetID, pageNo)
}

// ExistsBySet reports whether any page of a set is archived.
func (r *ArtworkRepository) ExistsBySet(ctx context.Context, sourceSetID int64) (bool, error) {
	return r.exists(ctx, "source_set_id = ?", sourceSetID)
}

// ExistsByExternalID reports whether a secondary catalog id is archived.
func (r *ArtworkRepository) ExistsByExternalID(ctx context.Context, externalID int64) (bool, error) {
	return r.exists(ctx, "external_id = ?", externalID)
}

func (r *ArtworkRepository) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Artwork{}).Where(query, args...).Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListBySourceSet returns the pages of a set ordered by page number.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sourceSetID: set identifier.
//   - limit: maximum rows; <= 0 means no limit.
// Returns:
//   - []domain.Artwork: pages in ascending page order.
//   - error: non-nil if the query fails.
func (r *ArtworkRepository) ListBySourceSet(ctx context.Context, sourceSetID int64, limit int) ([]domain.Artwork, error) {
	var artworks []domain.Artwork
	query := r.db.WithContext(ctx).
		Where("source_set_id = ?", sourceSetID).
		Order("page_no ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&artworks).Error; err != nil {
		return nil, err
	}
	return artworks, nil
}

// SetMemberIDs returns the ids of every page of a set.
func (r *ArtworkRepository) SetMemberIDs(ctx context.Context, sourceSetID int64) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&domain.Artwork{}).
		Where("source_set_id = ?", sourceSetID).
		Order("page_no ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ScanAfter walks the whole table in id order, one batch at a time.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - afterID: last id of the previous batch, empty for the first batch.
//   - limit: batch size.
// Returns:
//   - []domain.Artwork: next batch, empty at the end.
//   - error: non-nil if the query fails.
func (r *ArtworkRepository) ScanAfter(ctx context.Context, afterID string, limit int) ([]domain.Artwork, error) {
	return r.scan(r.db.WithContext(ctx), afterID, limit)
}

// ScanMissingEmbedding walks records that have not been indexed yet.
func (r *ArtworkRepository) ScanMissingEmbedding(ctx context.Context, afterID string, limit int) ([]domain.Artwork, error) {
	return r.scan(r.db.WithContext(ctx).Where("embedding IS NULL"), afterID, limit)
}

// ScanByBlobSuffix walks records whose blob key ends with one of the suffixes.
func (r *ArtworkRepository) ScanByBlobSuffix(ctx context.Context, suffixes []string, afterID string, limit int) ([]domain.Artwork, error) {
	if len(suffixes) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(suffixes))
	args := make([]interface{}, 0, len(suffixes))
	for _, suffix := range suffixes {
		clauses = append(clauses, "LOWER(blob_ref) LIKE ?")
		args = append(args, "%"+strings.ToLower(suffix))
	}
	query := r.db.WithContext(ctx).Where("("+strings.Join(clauses, " OR ")+")", args...)
	return r.scan(query, afterID, limit)
}

func (r *ArtworkRepository) scan(query *gorm.DB, afterID string, limit int) ([]domain.Artwork, error) {
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}
	var artworks []domain.Artwork
	if err := query.Order("id ASC").Limit(limit).Find(&artworks).Error; err != nil {
		return nil, err
	}
	return artworks, nil
}

// ListLatestPrimary returns standalone records and first pages, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - offset: rows to skip.
//   - limit: page size.
// Returns:
//   - []domain.Artwork: page of records.
//   - int64: total number of primary records.
//   - error: non-nil if the query fails.
func (r *ArtworkRepository) ListLatestPrimary(ctx context.Context, offset, limit int) ([]domain.Artwork, int64, error) {
	base := r.db.WithContext(ctx).Model(&domain.Artwork{}).
		Where("(page_no IS NULL OR page_no = 0)").
		Where("blob_ref <> ?", domain.PlaceholderBlobRef).
		Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var artworks []domain.Artwork
	if err := base.Order("added_at DESC").Order("id ASC").Offset(offset).Limit(limit).Find(&artworks).Error; err != nil {
		return nil, 0, err
	}
	return artworks, total, nil
}

// Delete removes an artwork record.
func (r *ArtworkRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Artwork{}, "id = ?", id).Error
}

// Stats computes archive statistics. Tag counts are aggregated in memory since
// tags are stored as JSON text on every driver.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - topN: number of most frequent tags to return.
// Returns:
//   - *domain.Stats: aggregate counters; TotalTranslations is left for the caller.
//   - error: non-nil if any query fails.
func (r *ArtworkRepository) Stats(ctx context.Context, topN int) (*domain.Stats, error) {
	db := r.db.WithContext(ctx).Model(&domain.Artwork{})
	stats := &domain.Stats{}

	if err := db.Session(&gorm.Session{}).Count(&stats.TotalArtworks).Error; err != nil {
		return nil, fmt.Errorf("failed to count artworks: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Where("embedding IS NOT NULL").Count(&stats.Indexed).Error; err != nil {
		return nil, fmt.Errorf("failed to count indexed artworks: %w", err)
	}
	stats.Pending = stats.TotalArtworks - stats.Indexed

	if err := db.Session(&gorm.Session{}).Where("source_set_id IS NOT NULL").
		Distinct("source_set_id").Count(&stats.TotalSets).Error; err != nil {
		return nil, fmt.Errorf("failed to count sets: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Where("author_id IS NOT NULL").
		Distinct("author_id").Count(&stats.UniqueAuthors).Error; err != nil {
		return nil, fmt.Errorf("failed to count authors: %w", err)
	}

	counts := make(map[string]int64)
	type tagRow struct {
		ID   string
		Tags domain.StringArray
	}
	afterID := ""
	for {
		var rows []tagRow
		query := db.Session(&gorm.Session{}).Select("id", "tags").Order("id ASC").Limit(1000)
		if afterID != "" {
			query = query.Where("id > ?", afterID)
		}
		if err := query.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to aggregate tags: %w", err)
		}
		for _, row := range rows {
			for _, tag := range row.Tags {
				counts[tag]++
			}
		}
		if len(rows) < 1000 {
			break
		}
		afterID = rows[len(rows)-1].ID
	}

	stats.UniqueTags = len(counts)
	stats.TopTags = topTags(counts, topN)
	return stats, nil
}

func topTags(counts map[string]int64, n int) []domain.TagCount {
	out := make([]domain.TagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, domain.TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
