package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/domain"
)

func newEmbeddingServer(t *testing.T, loads *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/models/load":
			atomic.AddInt32(loads, 1)
			w.Write([]byte(`{"model":"ViT-L-14","dimensions":3,"ready":true}`))
		case "/embed":
			var req embedRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			img, _ := base64.StdEncoding.DecodeString(req.Image)
			if string(img) == "broken" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				w.Write([]byte(`{"detail":"cannot decode image"}`))
				return
			}
			w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestEmbeddingServiceLoadsModelOnce(t *testing.T) {
	var loads int32
	srv := newEmbeddingServer(t, &loads)
	defer srv.Close()

	svc := NewEmbeddingService(&config.EmbeddingConfig{Model: "ViT-L-14", BaseURL: srv.URL, Dimensions: 3, Serialize: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.Embed(context.Background(), []byte("img"), "cat, sky")
			if err != nil || len(v) != 3 {
				t.Errorf("Embed() = %v, %v", v, err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Errorf("model load probes = %d, want 1", n)
	}
}

func TestEmbeddingServiceErrors(t *testing.T) {
	var loads int32
	srv := newEmbeddingServer(t, &loads)
	defer srv.Close()

	svc := NewEmbeddingService(&config.EmbeddingConfig{Model: "ViT-L-14", BaseURL: srv.URL, Dimensions: 3})
	if _, err := svc.Embed(context.Background(), []byte("broken"), ""); !errors.Is(err, domain.ErrInferenceFailure) {
		t.Errorf("server error = %v, want ErrInferenceFailure", err)
	}

	wrongDims := NewEmbeddingService(&config.EmbeddingConfig{Model: "ViT-L-14", BaseURL: srv.URL, Dimensions: 768})
	if _, err := wrongDims.Embed(context.Background(), []byte("img"), ""); err == nil {
		t.Error("expected a dimension mismatch error")
	}
}
