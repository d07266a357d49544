package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/docqa-go/internal/rag"
)

// ResilientConfig tunes a Resilient embedder.
type ResilientConfig struct {
	// BatchSize caps the number of texts per request (default 100).
	BatchSize int
	// Timeout bounds each request; 0 disables the per-request deadline.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int
	// InitialInterval is the first backoff delay (default 500ms).
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay (default 10s).
	MaxInterval time.Duration
}

// Resilient splits large inputs into batches and retries transient failures
// of the wrapped embedder with exponential backoff. Client errors and caller
// cancellation are returned immediately.
type Resilient struct {
	inner rag.Embedder
	cfg   ResilientConfig
	log   *slog.Logger
}

// NewResilient wraps inner. A nil log discards retry warnings.
func NewResilient(inner rag.Embedder, cfg *ResilientConfig, log *slog.Logger) *Resilient {
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Resilient{inner: inner, cfg: c, log: log.With(slog.String("component", "embedder"))}
}

// Embed embeds texts batch by batch, preserving order.
func (r *Resilient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(texts))
		vecs, err := r.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: texts %d-%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (r *Resilient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vecs [][]float32
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		}
		defer cancel()

		v, err := r.inner.Embed(callCtx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(v) != len(batch) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(batch), len(v)))
		}
		vecs = v
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.InitialInterval
	eb.MaxInterval = r.cfg.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.MaxRetries)), ctx) //nolint:gosec // non-negative

	notify := func(err error, wait time.Duration) {
		r.log.Warn("embedding request failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("batch", len(batch)),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return vecs, nil
}
