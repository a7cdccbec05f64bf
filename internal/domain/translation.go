package domain

import "time"

// Translation is a translated title/description overlay for one artwork.
type Translation struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	Title       string    `gorm:"type:text" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	TargetLang  string    `gorm:"type:text" json:"target_lang"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Translation.
func (Translation) TableName() string {
	return "translations"
}

// TagCount is one row of the top-tags statistic.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// Stats summarises the archive.
type Stats struct {
	TotalArtworks     int64      `json:"total_artworks"`
	TotalSets         int64      `json:"total_sets"`
	TotalTranslations int64      `json:"total_translations"`
	Indexed           int64      `json:"indexed"`
	Pending           int64      `json:"pending"`
	UniqueTags        int        `json:"unique_tags"`
	UniqueAuthors     int64      `json:"unique_authors"`
	TopTags           []TagCount `json:"top_tags"`
}
