package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ecobiomax/normaIA/internal/cache"
	"github.com/ecobiomax/normaIA/internal/embeddings"
	"github.com/ecobiomax/normaIA/internal/vectorindex"
)

const lightningQuery = "proteção contra descargas atmosféricas"

func seededStandards(t *testing.T) *vectorindex.SQLite {
	t.Helper()
	ctx := context.Background()
	idx := newSQLiteIndex(t, 3)
	require.NoError(t, idx.EnsureCollection(ctx))
	require.NoError(t, idx.Upsert(ctx, vectorindex.Point{
		ID:      "00000000-0000-5000-8000-000000000001",
		Vector:  embeddings.Vector{0.9, 0.1, 0},
		Payload: vectorindex.Payload{Filename: "NBR 5419.pdf", Section: "NBR 5419 grounding", Text: "Subsistema de aterramento"},
	}))
	require.NoError(t, idx.Upsert(ctx, vectorindex.Point{
		ID:      "00000000-0000-5000-8000-000000000002",
		Vector:  embeddings.Vector{0.1, 0.9, 0},
		Payload: vectorindex.Payload{Filename: "ASME B31.3.pdf", Section: "ASME B31.3 piping", Text: "Process piping"},
	}))
	return idx
}

func TestRetrieve_TopResultIsClosestStandard(t *testing.T) {
	emb := new(embeddings.MockEmbedder)
	emb.On("Embed", mock.Anything, lightningQuery).Return(embeddings.Vector{0.8, 0.2, 0.1}, nil)

	r := NewRetriever(discardLogger(), emb, seededStandards(t), nil, RetrieverConfig{})

	results, err := r.Retrieve(context.Background(), lightningQuery, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "NBR 5419 grounding", results[0].Section)
	assert.Equal(t, "NBR 5419.pdf", results[0].Filename)

	again, err := r.Retrieve(context.Background(), lightningQuery, 1)
	require.NoError(t, err)
	assert.Equal(t, results, again)
}

func TestRetrieve_ReturnsAllNearestWithoutThreshold(t *testing.T) {
	emb := new(embeddings.MockEmbedder)
	emb.On("Embed", mock.Anything, lightningQuery).Return(embeddings.Vector{0.8, 0.2, 0.1}, nil)

	r := NewRetriever(discardLogger(), emb, seededStandards(t), nil, RetrieverConfig{})
	results, err := r.Retrieve(context.Background(), lightningQuery, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRetrieve_MinScoreFilters(t *testing.T) {
	emb := new(embeddings.MockEmbedder)
	emb.On("Embed", mock.Anything, lightningQuery).Return(embeddings.Vector{0.8, 0.2, 0.1}, nil)

	r := NewRetriever(discardLogger(), emb, seededStandards(t), nil, RetrieverConfig{MinScore: 0.9})
	results, err := r.Retrieve(context.Background(), lightningQuery, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "NBR 5419.pdf", results[0].Filename)
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	r := NewRetriever(discardLogger(), wordEmbedder{}, newSQLiteIndex(t, testDim), nil, RetrieverConfig{})
	results, err := r.Retrieve(context.Background(), "qualquer pergunta", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieve_DefaultK(t *testing.T) {
	vec := embeddings.Vector{1, 0, 0}
	emb := new(embeddings.MockEmbedder)
	emb.On("Embed", mock.Anything, "q").Return(vec, nil)
	idx := new(vectorindex.MockIndex)
	idx.On("Search", mock.Anything, vec, DefaultTopK).Return([]vectorindex.Hit{}, nil)

	r := NewRetriever(discardLogger(), emb, idx, nil, RetrieverConfig{})
	_, err := r.Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	idx.AssertExpectations(t)
}

func TestRetrieve_PropagatesProviderErrors(t *testing.T) {
	emb := new(embeddings.MockEmbedder)
	emb.On("Embed", mock.Anything, "q").Return(nil, &embeddings.ProviderError{Provider: "openai", Err: errors.New("429")})

	r := NewRetriever(discardLogger(), emb, new(vectorindex.MockIndex), nil, RetrieverConfig{})
	_, err := r.Retrieve(context.Background(), "q", 5)
	var provider *embeddings.ProviderError
	assert.True(t, errors.As(err, &provider))
}

func TestRetrieve_CacheHitSkipsEmbedding(t *testing.T) {
	c := new(cache.MockCache)
	c.On("Get", mock.Anything, cache.Key("q", 5)).Return(&cache.Entry{
		Results: []cache.Result{{ChunkID: "c1", Score: 0.7, Filename: "a.pdf", Section: "S"}},
	}, cache.Generation(0), nil)
	emb := new(embeddings.MockEmbedder)

	r := NewRetriever(discardLogger(), emb, new(vectorindex.MockIndex), c, RetrieverConfig{})
	results, err := r.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
	emb.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestRetrieve_CacheMissStoresUnderReadGeneration(t *testing.T) {
	c := new(cache.MockCache)
	key := cache.Key(lightningQuery, 1)
	c.On("Get", mock.Anything, key).Return(nil, cache.Generation(3), nil)
	c.On("Set", mock.Anything, key, cache.Generation(3), mock.MatchedBy(func(r *cache.Entry) bool {
		return len(r.Results) == 1 && r.Results[0].Filename == "NBR 5419.pdf"
	}), time.Hour).Return(nil)

	emb := new(embeddings.MockEmbedder)
	emb.On("Embed", mock.Anything, lightningQuery).Return(embeddings.Vector{0.8, 0.2, 0.1}, nil)

	r := NewRetriever(discardLogger(), emb, seededStandards(t), c, RetrieverConfig{CacheTTL: time.Hour})
	_, err := r.Retrieve(context.Background(), lightningQuery, 1)
	require.NoError(t, err)
	c.AssertExpectations(t)
}
