package embedder

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

// scriptedEmbedder fails with the queued errors in order, then succeeds.
type scriptedEmbedder struct {
	mu      sync.Mutex
	errs    []error
	batches [][]string
	delay   time.Duration
}

func (s *scriptedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.batches = append(s.batches, texts)
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func fastConfig(batch, retries int) *ResilientConfig {
	return &ResilientConfig{
		BatchSize:       batch,
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestResilient_Batches(t *testing.T) {
	t.Parallel()
	inner := &scriptedEmbedder{}
	r := NewResilient(inner, fastConfig(2, 0), nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := r.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(inner.batches) != 3 {
		t.Errorf("want 3 batches, got %d", len(inner.batches))
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
}

func TestResilient_EmptyInputMakesNoCalls(t *testing.T) {
	t.Parallel()
	inner := &scriptedEmbedder{}
	vecs, err := NewResilient(inner, fastConfig(2, 0), nil).Embed(context.Background(), nil)
	if err != nil || len(vecs) != 0 || len(inner.batches) != 0 {
		t.Fatalf("want no calls and no vectors, got %d calls, %v, %v", len(inner.batches), vecs, err)
	}
}

func TestResilient_Retries(t *testing.T) {
	t.Parallel()

	transient := &StatusError{Backend: "fake", Code: http.StatusServiceUnavailable, Message: "overloaded"}
	permanent := &StatusError{Backend: "fake", Code: http.StatusBadRequest, Message: "bad input"}

	tests := []struct {
		name      string
		errs      []error
		retries   int
		wantErr   error
		wantCalls int
	}{
		{name: "recovers after transient failures", errs: []error{transient, errors.New("connection reset")}, retries: 2, wantCalls: 3},
		{name: "gives up after max retries", errs: []error{transient, transient, transient}, retries: 2, wantErr: transient, wantCalls: 3},
		{name: "client error is not retried", errs: []error{permanent}, retries: 5, wantErr: permanent, wantCalls: 1},
		{name: "no retries configured", errs: []error{transient}, retries: 0, wantErr: transient, wantCalls: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			inner := &scriptedEmbedder{errs: tc.errs}
			_, err := NewResilient(inner, fastConfig(10, tc.retries), nil).Embed(context.Background(), []string{"x"})
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if len(inner.batches) != tc.wantCalls {
				t.Errorf("want %d calls, got %d", tc.wantCalls, len(inner.batches))
			}
		})
	}
}

func TestResilient_PerRequestTimeout(t *testing.T) {
	t.Parallel()
	inner := &scriptedEmbedder{delay: time.Second}
	cfg := fastConfig(10, 1)
	cfg.Timeout = 10 * time.Millisecond

	start := time.Now()
	_, err := NewResilient(inner, cfg, nil).Embed(context.Background(), []string{"x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	if len(inner.batches) != 2 {
		t.Errorf("timeouts should be retried: want 2 calls, got %d", len(inner.batches))
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout not enforced")
	}
}

func TestResilient_CanceledContextNotRetried(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &scriptedEmbedder{errs: []error{context.Canceled}}

	_, err := NewResilient(inner, fastConfig(10, 3), nil).Embed(ctx, []string{"x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if len(inner.batches) > 1 {
		t.Errorf("canceled request retried %d times", len(inner.batches)-1)
	}
}
