package pixiv

import (
	"errors"
	"testing"

	"github.com/timmy/supaarchive/internal/domain"
)

func TestSubmissionValidate(t *testing.T) {
	tests := []struct {
		name    string
		sub     Submission
		wantErr bool
	}{
		{"valid", Submission{IllustrationID: 1, Pages: []string{"https://i.pximg.net/a.png"}}, false},
		{"missing id", Submission{Pages: []string{"https://i.pximg.net/a.png"}}, true},
		{"no pages", Submission{IllustrationID: 1}, true},
		{"blank page", Submission{IllustrationID: 1, Pages: []string{"a", " "}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Errorf("error should wrap ErrValidation: %v", err)
			}
		})
	}
}

func TestSubmissionItems(t *testing.T) {
	sub := Submission{
		IllustrationID: 42,
		Tags:           []string{"girl", "sky"},
		AuthorID:       7,
		AuthorName:     "artist",
		Title:          "タイトル",
		Pages:          []string{"https://i.pximg.net/p0.png", "https://i.pximg.net/p1.jpg"},
	}

	items := sub.Items("https://www.pixiv.net/")
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	for i, item := range items {
		if err := item.Validate(); err != nil {
			t.Errorf("item %d invalid: %v", i, err)
		}
		m, ok := item.Membership().(domain.SetMember)
		if !ok || m.SourceSetID != 42 || m.PageNo != i {
			t.Errorf("item %d membership = %#v", i, item.Membership())
		}
		if item.Headers["Referer"] != "https://www.pixiv.net/" {
			t.Errorf("item %d missing referer", i)
		}
		if item.AuthorID == nil || *item.AuthorID != 7 {
			t.Errorf("item %d author id = %v", i, item.AuthorID)
		}
	}
	if items[1].Extension() != "jpg" {
		t.Errorf("extension = %q, want jpg", items[1].Extension())
	}
}
