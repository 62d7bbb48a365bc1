package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestNoOpCache(t *testing.T) {
	cache := NewNoOpCache()
	ctx := context.Background()

	err := cache.Set(ctx, "test-key", 0, &Entry{
		Results: []Result{{ChunkID: "123", Score: 0.9, Filename: "NBR 5419.pdf"}},
	}, time.Hour)
	if err != nil {
		t.Errorf("Expected no error on Set, got %v", err)
	}

	entry, _, err := cache.Get(ctx, "test-key")
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if entry != nil {
		t.Errorf("Expected nil entry (no-op cache doesn't store), got %v", entry)
	}

	if err := cache.Invalidate(ctx); err != nil {
		t.Errorf("Expected no error on Invalidate, got %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Errorf("Expected no error on Close, got %v", err)
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		a, b  string
		ka    int
		kb    int
		equal bool
	}{
		{"same question", "Qual o escopo?", "Qual o escopo?", 5, 5, true},
		{"case and spacing", "Qual  o ESCOPO? ", "qual o escopo?", 5, 5, true},
		{"different k", "Qual o escopo?", "Qual o escopo?", 5, 3, false},
		{"different question", "Qual o escopo?", "Qual a norma?", 5, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := Key(tt.a, tt.ka)
			kb := Key(tt.b, tt.kb)
			if (ka == kb) != tt.equal {
				t.Errorf("expected equal=%v for %q/%d and %q/%d", tt.equal, tt.a, tt.ka, tt.b, tt.kb)
			}
			if len(ka) != 64 {
				t.Errorf("expected 64 hex chars, got %d", len(ka))
			}
		})
	}
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	if _, err := NewRedisCache(RedisConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected connection error for unreachable redis")
	}
}

func newMiniRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := NewRedisCache(RedisConfig{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("connecting to miniredis: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, _ := newMiniRedisCache(t)
	ctx := context.Background()
	key := Key("Qual o escopo?", 5)

	entry, gen, err := c.Get(ctx, key)
	if err != nil || entry != nil {
		t.Fatalf("expected miss, got %v, %v", entry, err)
	}
	if err := c.Set(ctx, key, gen, &Entry{Results: []Result{{ChunkID: "c1", Filename: "NBR 5419.pdf"}}}, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	entry, _, err = c.Get(ctx, key)
	if err != nil || entry == nil {
		t.Fatalf("expected hit, got %v, %v", entry, err)
	}
	if entry.Results[0].ChunkID != "c1" || entry.StoredAt.IsZero() {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestRedisCacheInvalidateDropsEntries(t *testing.T) {
	c, _ := newMiniRedisCache(t)
	ctx := context.Background()
	key := Key("Qual o escopo?", 5)

	_, gen, _ := c.Get(ctx, key)
	if err := c.Set(ctx, key, gen, &Entry{Results: []Result{{ChunkID: "c1"}}}, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	entry, _, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry != nil {
		t.Errorf("expected miss after invalidate, got %+v", entry)
	}
}

func TestRedisCacheWriteAfterInvalidateStaysHidden(t *testing.T) {
	c, _ := newMiniRedisCache(t)
	ctx := context.Background()
	key := Key("Qual o escopo?", 5)

	// A retrieval misses, a document is deleted, then the retrieval stores
	// the results it computed before the deletion.
	_, gen, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Set(ctx, key, gen, &Entry{Results: []Result{{ChunkID: "deleted-chunk"}}}, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	entry, _, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry != nil {
		t.Errorf("results from before the invalidation were served: %+v", entry.Results)
	}
}

func TestRedisCacheGenerationReadError(t *testing.T) {
	c, srv := newMiniRedisCache(t)
	srv.Set(c.generationKey(), "not-a-number")

	if _, _, err := c.Get(context.Background(), Key("q", 5)); err == nil {
		t.Fatal("expected error for corrupt generation counter")
	}
}
