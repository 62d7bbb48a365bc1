package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecobiomax/normaIA/internal/cache"
	"github.com/ecobiomax/normaIA/internal/embeddings"
	"github.com/ecobiomax/normaIA/internal/vectorindex"
)

// DefaultTopK is used when a caller asks for k <= 0.
const DefaultTopK = 5

// QueryResult is one retrieved chunk. It is never persisted.
type QueryResult struct {
	ChunkID  string  `json:"chunk_id"`
	Score    float32 `json:"score"`
	Text     string  `json:"text"`
	Filename string  `json:"filename"`
	Section  string  `json:"section"`
	Page     int     `json:"page,omitempty"`
}

type RetrieverConfig struct {
	// MinScore drops hits scoring below it. Zero keeps every hit.
	MinScore float32
	CacheTTL time.Duration
	Timeouts Timeouts
}

// Retriever embeds a query and searches the vector index. It never writes
// to the index or the metadata store.
type Retriever struct {
	log      *slog.Logger
	embedder embeddings.Embedder
	index    vectorindex.Index
	cache    cache.Cache
	cfg      RetrieverConfig
}

// NewRetriever builds a retriever. A nil cache disables caching.
func NewRetriever(log *slog.Logger, embedder embeddings.Embedder, index vectorindex.Index, c cache.Cache, cfg RetrieverConfig) *Retriever {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Retriever{
		log:      log,
		embedder: timeoutEmbedder{next: embedder, timeout: cfg.Timeouts.Embed},
		index:    index,
		cache:    c,
		cfg:      cfg,
	}
}

// Retrieve returns up to k chunks by descending similarity. An empty index
// yields an empty slice and no error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]QueryResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	key := cache.Key(query, k)
	cached, gen, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warn("retrieval cache read failed", "err", err)
	} else if cached != nil {
		r.log.Debug("retrieval cache hit", "k", k)
		return fromCache(cached), nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	searchCtx, cancel := withTimeout(ctx, r.cfg.Timeouts.Index)
	defer cancel()
	hits, err := r.index.Search(searchCtx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	results := make([]QueryResult, 0, len(hits))
	for _, h := range hits {
		if r.cfg.MinScore > 0 && h.Score < r.cfg.MinScore {
			continue
		}
		results = append(results, QueryResult{
			ChunkID:  h.ID,
			Score:    h.Score,
			Text:     h.Payload.Text,
			Filename: h.Payload.Filename,
			Section:  h.Payload.Section,
			Page:     h.Payload.Page,
		})
	}

	if err := r.cache.Set(ctx, key, gen, toCache(results), r.cfg.CacheTTL); err != nil {
		r.log.Warn("retrieval cache write failed", "err", err)
	}
	return results, nil
}

func toCache(results []QueryResult) *cache.Entry {
	out := &cache.Entry{Results: make([]cache.Result, len(results))}
	for i, r := range results {
		out.Results[i] = cache.Result(r)
	}
	return out
}

func fromCache(c *cache.Entry) []QueryResult {
	out := make([]QueryResult, len(c.Results))
	for i, r := range c.Results {
		out[i] = QueryResult(r)
	}
	return out
}
