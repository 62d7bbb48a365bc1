// Package rag wires extraction, segmentation, embedding, indexing and
// completion into the ingestion and question-answering pipelines.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecobiomax/normaIA/internal/embeddings"
	"github.com/ecobiomax/normaIA/internal/vectorindex"
)

// ErrEmptyQuestion is returned by Ask for a blank question.
var ErrEmptyQuestion = errors.New("question must not be empty")

// AccessDeniedError stops a request before any processing happens.
type AccessDeniedError struct {
	UserID string
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied for user %q: %s", e.UserID, e.Reason)
}

// IsRetryable reports whether a failed ingestion may succeed when re-run
// unchanged: index outages, embedding provider failures and timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var unavailable *vectorindex.UnavailableError
	if errors.As(err, &unavailable) {
		return true
	}
	var provider *embeddings.ProviderError
	if errors.As(err, &provider) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Timeouts bound each external call. Zero disables the bound.
type Timeouts struct {
	Extract    time.Duration
	Embed      time.Duration
	Index      time.Duration
	Completion time.Duration
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timeoutEmbedder applies a per-call deadline to every Embed.
type timeoutEmbedder struct {
	next    embeddings.Embedder
	timeout time.Duration
}

func (t timeoutEmbedder) Embed(ctx context.Context, text string) (embeddings.Vector, error) {
	ctx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Embed(ctx, text)
}
