package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/timmy/supaarchive/internal/domain"
)

func TestRetryDelay(t *testing.T) {
	delay := RetryDelay(time.Second, 10*time.Second)
	task := asynq.NewTask(TypeIndexEmbedding, nil)

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{60, 10 * time.Second},
		{-1, time.Second},
	}
	for _, tt := range tests {
		if got := delay(tt.n, errors.New("boom"), task); got != tt.want {
			t.Errorf("RetryDelay(n=%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestRetryDelayDefaults(t *testing.T) {
	delay := RetryDelay(0, 0)
	if got := delay(5, nil, nil); got != time.Second {
		t.Fatalf("RetryDelay with zero config = %v, want 1s", got)
	}
}

func TestClassify(t *testing.T) {
	transient := fmt.Errorf("%w: timeout", domain.ErrUpstreamFetch)
	if got := classify(transient); got != transient {
		t.Fatalf("classify(transient) = %v, want unchanged", got)
	}

	for _, err := range []error{
		fmt.Errorf("%w: artwork x", domain.ErrNotFound),
		fmt.Errorf("%w: bad payload", domain.ErrValidation),
	} {
		got := classify(err)
		if !errors.Is(got, asynq.SkipRetry) {
			t.Errorf("classify(%v) does not wrap SkipRetry", err)
		}
		if Retryable(got) {
			t.Errorf("Retryable(%v) = true", got)
		}
	}

	if classify(nil) != nil {
		t.Fatal("classify(nil) != nil")
	}
}

func TestMiddlewareSkipsRetryOnStructuralError(t *testing.T) {
	s := &Server{maxRetry: 3}
	h := s.middleware(asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		return fmt.Errorf("%w: artwork gone", domain.ErrNotFound)
	}))

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeIndexEmbedding, nil))
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("middleware error = %v, want SkipRetry wrapping ErrNotFound", err)
	}
	if !s.isFinal(context.Background(), err) {
		t.Fatal("structural error should be final")
	}
}
