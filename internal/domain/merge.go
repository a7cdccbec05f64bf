package domain

// Outcome is the result of running one payload through the ingestion pipeline.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeMerged  Outcome = "merged"
	OutcomeSkipped Outcome = "skipped"
)

// SourceMetadata is the metadata an adapter attaches to a payload.
type SourceMetadata struct {
	Membership  Membership
	ExternalID  *int64
	AuthorID    *int64
	AuthorName  string
	Title       string
	Description string
}

// NewArtwork builds the initial record for a payload seen for the first time.
func NewArtwork(id string, tags []string, meta SourceMetadata, addedAt int64) *Artwork {
	a := &Artwork{
		ID:          id,
		BlobRef:     PlaceholderBlobRef,
		Tags:        NormalizeTags(tags),
		AddedAt:     addedAt,
		ExternalID:  meta.ExternalID,
		AuthorID:    meta.AuthorID,
		AuthorName:  meta.AuthorName,
		Title:       meta.Title,
		Description: meta.Description,
	}
	if meta.Membership != nil {
		a.SetMembership(meta.Membership)
	}
	return a
}

// MergeInto folds a duplicate submission into an existing record and reports
// whether anything changed. BlobRef, AddedAt and Embedding are never touched.
func MergeInto(existing *Artwork, tags []string, meta SourceMetadata) bool {
	changed := false

	merged := NormalizeTags(append(append([]string{}, existing.Tags...), tags...))
	if !sameTags(merged, existing.Tags) {
		existing.Tags = merged
		changed = true
	}

	if incoming, ok := meta.Membership.(SetMember); ok && existing.Membership() != Membership(incoming) {
		existing.SetMembership(incoming)
		changed = true
	}

	if meta.ExternalID != nil && (existing.ExternalID == nil || *existing.ExternalID != *meta.ExternalID) {
		id := *meta.ExternalID
		existing.ExternalID = &id
		changed = true
	}

	if existing.AuthorID == nil && meta.AuthorID != nil {
		id := *meta.AuthorID
		existing.AuthorID = &id
		changed = true
	}
	if existing.AuthorName == "" && meta.AuthorName != "" {
		existing.AuthorName = meta.AuthorName
		changed = true
	}
	if existing.Title == "" && meta.Title != "" {
		existing.Title = meta.Title
		changed = true
	}
	if existing.Description == "" && meta.Description != "" {
		existing.Description = meta.Description
		changed = true
	}

	return changed
}

func sameTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
