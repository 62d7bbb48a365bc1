// Package vectorindex stores chunk embeddings and answers cosine
// nearest-neighbour queries.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/ecobiomax/normaIA/internal/embeddings"
)

// Payload mirrors the chunk fields shown at retrieval time.
type Payload struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id,omitempty"`
	Filename   string `json:"filename"`
	Section    string `json:"section"`
	Text       string `json:"text"`
	ChunkIndex int    `json:"chunk_index"`
	Page       int    `json:"page,omitempty"`
}

// Point is one vector keyed by chunk id.
type Point struct {
	ID      string
	Vector  embeddings.Vector
	Payload Payload
}

// Hit is a search result. Higher scores are more similar.
type Hit struct {
	ID      string
	Score   float32
	Payload Payload
}

// Index is a named collection with fixed dimension and cosine distance.
type Index interface {
	// EnsureCollection creates the collection on first use; later calls are no-ops.
	EnsureCollection(ctx context.Context) error
	// Upsert inserts or overwrites the point with p.ID.
	Upsert(ctx context.Context, p Point) error
	// Search returns up to k points by descending similarity, ties by ascending id.
	// An empty or missing collection yields no hits and no error.
	Search(ctx context.Context, vector embeddings.Vector, k int) ([]Hit, error)
	// Delete removes the point; unknown ids are ignored.
	Delete(ctx context.Context, id string) error
}

// ErrDimensionMismatch reports a vector whose length differs from the collection's.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// UnavailableError reports that the backing service could not be reached or
// failed. Ingestion treats it as retryable.
type UnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vector index %s unavailable during %s: %v", e.Backend, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateCollection(name string, dim int) error {
	if !collectionName.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	return nil
}

func checkDimension(v embeddings.Vector, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dim)
	}
	return nil
}

// ranksBefore orders by score descending, then id ascending.
func ranksBefore(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return ranksBefore(hits[i], hits[j]) })
}

// hitHeap keeps the current top-k with the weakest hit at the root.
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return ranksBefore(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
