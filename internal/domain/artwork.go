package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// PlaceholderBlobRef marks a record whose payload has not been uploaded yet.
const PlaceholderBlobRef = "placeholder"

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Vector stores an embedding as JSON text. A nil Vector is persisted as NULL,
// which is how unindexed records are recognised.
type Vector []float32

// Value implements the driver.Valuer interface.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Vector")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, (*[]float32)(v))
}

// Artwork is one archived image, keyed by the SHA-256 of its payload.
type Artwork struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	BlobRef     string      `gorm:"type:text;not null" json:"blob_ref"`
	Tags        StringArray `gorm:"type:text" json:"tags"`
	AddedAt     int64       `gorm:"not null;index:idx_artworks_added_at" json:"added_at"`
	SourceSetID *int64      `gorm:"index:idx_artworks_set_page" json:"source_set_id,omitempty"`
	PageNo      *int        `gorm:"index:idx_artworks_set_page" json:"page_no,omitempty"`
	ExternalID  *int64      `gorm:"index:idx_artworks_external_id" json:"external_id,omitempty"`
	AuthorID    *int64      `json:"author_id,omitempty"`
	AuthorName  string      `gorm:"type:text" json:"author_name,omitempty"`
	Title       string      `gorm:"type:text" json:"title,omitempty"`
	Description string      `gorm:"type:text" json:"description,omitempty"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Embedding   Vector      `gorm:"type:text" json:"-"`
	Revision    int64       `gorm:"not null;default:0" json:"-"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Artwork.
func (Artwork) TableName() string {
	return "artworks"
}

// Membership reports whether the record belongs to a multi-page set.
func (a *Artwork) Membership() Membership {
	if a.SourceSetID == nil || a.PageNo == nil {
		return Standalone{}
	}
	return SetMember{SourceSetID: *a.SourceSetID, PageNo: *a.PageNo}
}

// SetMembership writes both set columns together so they are never half-populated.
func (a *Artwork) SetMembership(m Membership) {
	switch v := m.(type) {
	case SetMember:
		id, page := v.SourceSetID, v.PageNo
		a.SourceSetID = &id
		a.PageNo = &page
	default:
		a.SourceSetID = nil
		a.PageNo = nil
	}
}

// IsPrimary is true for standalone records and for page 0 of a set.
func (a *Artwork) IsPrimary() bool {
	m, ok := a.Membership().(SetMember)
	return !ok || m.PageNo == 0
}

// HasBlob reports whether the payload upload has completed.
func (a *Artwork) HasBlob() bool {
	return a.BlobRef != "" && a.BlobRef != PlaceholderBlobRef
}

// IsIndexed reports whether an embedding has been assigned.
func (a *Artwork) IsIndexed() bool {
	return len(a.Embedding) > 0
}

// Membership is either Standalone or SetMember.
type Membership interface {
	isMembership()
}

// Standalone is a record that is not part of any multi-page set.
type Standalone struct{}

// SetMember is one page of a multi-page set.
type SetMember struct {
	SourceSetID int64
	PageNo      int
}

func (Standalone) isMembership() {}
func (SetMember) isMembership()  {}

// ArtworkSearchResult is an artwork hydrated from a vector hit.
type ArtworkSearchResult struct {
	Artwork
	URL   string  `json:"url"`
	Score float32 `json:"score,omitempty"`
}

// NormalizeTags trims, drops empties and deduplicates while keeping first-seen order.
func NormalizeTags(tags []string) StringArray {
	seen := make(map[string]struct{}, len(tags))
	out := make(StringArray, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
