//go:build integration

package vectorindex

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecobiomax/normaIA/internal/embeddings"
)

// newIntegrationPGVector connects to NORMAIA_TEST_DB_URL, a Postgres with the
// vector extension available, and uses a throwaway table.
func newIntegrationPGVector(t *testing.T) *PGVector {
	t.Helper()
	url := os.Getenv("NORMAIA_TEST_DB_URL")
	if url == "" {
		t.Skip("NORMAIA_TEST_DB_URL not set, skipping pgvector integration test")
	}
	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	table := "normas_test_" + uuid.NewString()[:8]
	idx, err := NewPGVector(db, table, 3)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec(`DROP TABLE IF EXISTS "` + table + `"`)
	})
	return idx
}

func TestPGVectorIntegration_MissingCollection(t *testing.T) {
	idx := newIntegrationPGVector(t)
	ctx := context.Background()

	hits, err := idx.Search(ctx, embeddings.Vector{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NoError(t, idx.Delete(ctx, uuid.NewString()))
}

func TestPGVectorIntegration_EnsureUpsertSearchDelete(t *testing.T) {
	idx := newIntegrationPGVector(t)
	ctx := context.Background()

	require.NoError(t, idx.EnsureCollection(ctx))
	require.NoError(t, idx.EnsureCollection(ctx))

	hits, err := idx.Search(ctx, embeddings.Vector{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	tieA := "00000000-0000-0000-0000-00000000000a"
	tieB := "00000000-0000-0000-0000-00000000000b"
	far := uuid.NewString()
	for _, p := range []Point{
		{ID: tieB, Vector: embeddings.Vector{1, 0, 0}, Payload: Payload{Filename: "NBR 5419.pdf", Text: "b"}},
		{ID: far, Vector: embeddings.Vector{0, 1, 0}, Payload: Payload{Filename: "ASME.pdf", Text: "far"}},
		{ID: tieA, Vector: embeddings.Vector{2, 0, 0}, Payload: Payload{Filename: "NBR 5419.pdf", Text: "a"}},
	} {
		require.NoError(t, idx.Upsert(ctx, p))
	}

	hits, err = idx.Search(ctx, embeddings.Vector{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{tieA, tieB, far}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, "NBR 5419.pdf", hits[0].Payload.Filename)

	require.NoError(t, idx.Delete(ctx, far))
	require.NoError(t, idx.Delete(ctx, far))
	hits, err = idx.Search(ctx, embeddings.Vector{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestPGVectorIntegration_MalformedIDIsNotRetryable(t *testing.T) {
	idx := newIntegrationPGVector(t)
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx))

	err := idx.Upsert(ctx, Point{ID: "not-a-uuid", Vector: embeddings.Vector{1, 0, 0}})
	require.Error(t, err)
	var unavailable *UnavailableError
	assert.False(t, errors.As(err, &unavailable))
}
