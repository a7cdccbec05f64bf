package gelbooru

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/timmy/supaarchive/internal/domain"
)

func TestFetchBatch(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"@attributes":{"limit":2,"offset":0,"count":5},"post":[
			{"id":11,"file_url":"https://img.example/a.png","tags":"cat  sky"},
			{"id":12,"file_url":"https://img.example/b.webm","tags":"cat"}
		]}`))
	}))
	defer srv.Close()

	a := NewAdapter(Config{BaseURL: srv.URL, APIKey: "k", UserID: "u"})
	items, next, err := a.FetchBatch(context.Background(), " cat   sky ", "", 2)
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}

	if gotQuery["tags"] != "cat sky" || gotQuery["pid"] != "0" || gotQuery["json"] != "1" || gotQuery["api_key"] != "k" {
		t.Errorf("query = %v", gotQuery)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].ExternalID == nil || *items[0].ExternalID != 11 {
		t.Errorf("external id = %v", items[0].ExternalID)
	}
	if len(items[0].Tags) != 2 {
		t.Errorf("tags = %v", items[0].Tags)
	}
	if _, ok := items[0].Membership().(domain.Standalone); !ok {
		t.Error("gelbooru posts are standalone")
	}
	if !items[1].HasExtension([]string{".webm", ".mp4"}) {
		t.Error("webm post should be recognised as disallowed media")
	}
	if next != "1" {
		t.Errorf("next = %q, want 1", next)
	}
}

func TestFetchBatchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, _, err := NewAdapter(Config{BaseURL: srv.URL}).FetchBatch(context.Background(), "cat", "", 10)
	if !errors.Is(err, domain.ErrUpstreamFetch) {
		t.Errorf("error = %v, want ErrUpstreamFetch", err)
	}
}
