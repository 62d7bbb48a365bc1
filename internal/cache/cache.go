package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Cache stores retrieval results keyed by normalized question.
//
// Get reports the generation it read under; a following Set for the same
// retrieval passes it back, so results computed before an Invalidate are
// never visible after it.
type Cache interface {
	// Get returns a nil entry on a miss.
	Get(ctx context.Context, key string) (*Entry, Generation, error)
	Set(ctx context.Context, key string, gen Generation, entry *Entry, ttl time.Duration) error
	// Invalidate drops every cached result. Called whenever the index changes.
	Invalidate(ctx context.Context) error
	Close() error
}

// Generation identifies a cache epoch. Invalidate starts a new one.
type Generation int64

// Entry is a cached retrieval.
type Entry struct {
	Results  []Result  `json:"results"`
	StoredAt time.Time `json:"stored_at"`
}

// Result is one retrieved chunk.
type Result struct {
	ChunkID  string  `json:"chunk_id"`
	Score    float32 `json:"score"`
	Text     string  `json:"text"`
	Filename string  `json:"filename"`
	Section  string  `json:"section"`
	Page     int     `json:"page,omitempty"`
}

// Key hashes the whitespace- and case-normalized question with k.
func Key(question string, k int) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", k, normalized)))
	return hex.EncodeToString(sum[:])
}
