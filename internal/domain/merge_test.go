package domain

import (
	"reflect"
	"testing"
)

func int64Ptr(v int64) *int64 { return &v }

func TestMergeIntoUnionsTags(t *testing.T) {
	existing := NewArtwork("h", []string{"a", "b"}, SourceMetadata{}, 100)

	if !MergeInto(existing, []string{"b", "c", " ", "a"}, SourceMetadata{}) {
		t.Fatal("expected merge to report a change")
	}
	want := StringArray{"a", "b", "c"}
	if !reflect.DeepEqual(existing.Tags, want) {
		t.Errorf("tags = %v, want %v", existing.Tags, want)
	}
	if MergeInto(existing, []string{"c", "a"}, SourceMetadata{}) {
		t.Error("second merge with known tags should be a no-op")
	}
}

func TestMergeIntoCollapsesStoredDuplicates(t *testing.T) {
	existing := NewArtwork("h", nil, SourceMetadata{}, 100)
	existing.Tags = StringArray{"a", "a"}

	if !MergeInto(existing, []string{"b"}, SourceMetadata{}) {
		t.Fatal("expected merge to report a change")
	}
	want := StringArray{"a", "b"}
	if !reflect.DeepEqual(existing.Tags, want) {
		t.Errorf("tags = %v, want %v", existing.Tags, want)
	}
}

func TestMergeIntoKeepsImmutableFields(t *testing.T) {
	existing := NewArtwork("h", nil, SourceMetadata{}, 100)
	existing.BlobRef = "h.png"
	existing.Embedding = Vector{1, 0}

	MergeInto(existing, []string{"x"}, SourceMetadata{Title: "t", Membership: SetMember{SourceSetID: 9, PageNo: 2}})

	if existing.BlobRef != "h.png" || existing.AddedAt != 100 || len(existing.Embedding) != 2 {
		t.Errorf("immutable fields changed: %+v", existing)
	}
	if existing.Title != "t" {
		t.Errorf("blank title should be filled, got %q", existing.Title)
	}
}

func TestMergeIntoMembership(t *testing.T) {
	tests := []struct {
		name     string
		start    Membership
		incoming Membership
		want     Membership
		changed  bool
	}{
		{"standalone joins set", Standalone{}, SetMember{SourceSetID: 1, PageNo: 0}, SetMember{SourceSetID: 1, PageNo: 0}, true},
		{"same set page", SetMember{SourceSetID: 1, PageNo: 3}, SetMember{SourceSetID: 1, PageNo: 3}, SetMember{SourceSetID: 1, PageNo: 3}, false},
		{"different set", SetMember{SourceSetID: 1, PageNo: 3}, SetMember{SourceSetID: 2, PageNo: 0}, SetMember{SourceSetID: 2, PageNo: 0}, true},
		{"standalone submission keeps set", SetMember{SourceSetID: 1, PageNo: 3}, Standalone{}, SetMember{SourceSetID: 1, PageNo: 3}, false},
		{"nil membership keeps set", SetMember{SourceSetID: 1, PageNo: 3}, nil, SetMember{SourceSetID: 1, PageNo: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewArtwork("h", nil, SourceMetadata{Membership: tt.start}, 1)
			changed := MergeInto(a, nil, SourceMetadata{Membership: tt.incoming})
			if changed != tt.changed {
				t.Errorf("changed = %v, want %v", changed, tt.changed)
			}
			if got := a.Membership(); got != tt.want {
				t.Errorf("membership = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMergeIntoExternalID(t *testing.T) {
	a := NewArtwork("h", nil, SourceMetadata{ExternalID: int64Ptr(5)}, 1)
	if MergeInto(a, nil, SourceMetadata{ExternalID: int64Ptr(5)}) {
		t.Error("equal external id should not change the record")
	}
	if !MergeInto(a, nil, SourceMetadata{ExternalID: int64Ptr(6)}) || *a.ExternalID != 6 {
		t.Errorf("external id = %v, want 6", a.ExternalID)
	}
}

func TestSetMembershipBothOrNeither(t *testing.T) {
	a := &Artwork{}
	a.SetMembership(SetMember{SourceSetID: 4, PageNo: 1})
	if a.SourceSetID == nil || a.PageNo == nil {
		t.Fatal("set member must populate both columns")
	}
	if a.IsPrimary() {
		t.Error("page 1 is not primary")
	}
	a.SetMembership(Standalone{})
	if a.SourceSetID != nil || a.PageNo != nil {
		t.Error("standalone must clear both columns")
	}
	if !a.IsPrimary() {
		t.Error("standalone records are primary")
	}
}

func TestVectorNullRoundTrip(t *testing.T) {
	var v Vector
	val, err := v.Value()
	if err != nil || val != nil {
		t.Fatalf("nil vector should store NULL, got %v, %v", val, err)
	}

	var scanned Vector
	if err := scanned.Scan("[0.5,1]"); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !reflect.DeepEqual(scanned, Vector{0.5, 1}) {
		t.Errorf("scanned = %v", scanned)
	}
	if err := scanned.Scan(nil); err != nil || scanned != nil {
		t.Errorf("Scan(nil) = %v, %v", scanned, err)
	}
}
