package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// EmbedBatch embeds texts concurrently with at most limit calls in flight,
// preserving input order. The first failure cancels the rest.
func EmbedBatch(ctx context.Context, e Embedder, texts []string, limit int) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 4
	}
	results := make([]Vector, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RateLimited throttles calls to an Embedder to stay inside provider quotas.
type RateLimited struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls with the given burst.
func NewRateLimited(next Embedder, perSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Embed(ctx context.Context, text string) (Vector, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for embedding rate limit: %w", err)
	}
	return r.next.Embed(ctx, text)
}
