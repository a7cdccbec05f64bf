package source

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/timmy/supaarchive/internal/domain"
)

type namedSource string

func (n namedSource) Name() string { return string(n) }

func (n namedSource) FetchBatch(ctx context.Context, query, cursor string, limit int) ([]Item, string, error) {
	return nil, "", nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(namedSource("gelbooru"), namedSource("staging:a"))

	if got := r.Names(); !reflect.DeepEqual(got, []string{"gelbooru", "staging:a"}) {
		t.Fatalf("Names() = %v", got)
	}
	s, err := r.Get("staging:a")
	if err != nil || s.Name() != "staging:a" {
		t.Fatalf("Get() = %v, %v", s, err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}
