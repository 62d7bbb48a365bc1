package rag

import (
	"context"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecobiomax/normaIA/internal/access"
	"github.com/ecobiomax/normaIA/internal/blob"
	"github.com/ecobiomax/normaIA/internal/chunker"
	"github.com/ecobiomax/normaIA/internal/embeddings"
	"github.com/ecobiomax/normaIA/internal/extract"
	"github.com/ecobiomax/normaIA/internal/store"
	"github.com/ecobiomax/normaIA/internal/vectorindex"
)

const testDim = 8

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wordEmbedder hashes words into a small vector; identical texts embed identically.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) (embeddings.Vector, error) {
	v := make(embeddings.Vector, testDim)
	v[0] = 0.01
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%testDim]++
	}
	return v, nil
}

// pagedText joins pages with newlines and returns matching page offsets.
func pagedText(pages ...string) extract.Result {
	var (
		b       strings.Builder
		offsets []int
	)
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n")
		}
		offsets = append(offsets, b.Len())
		b.WriteString(p)
	}
	return extract.Result{Text: b.String(), PageCount: len(pages), PageOffsets: offsets}
}

// threePages has no line that looks like a heading.
func threePages() extract.Result {
	page := strings.Repeat("os requisitos de protecao sao descritos nesta parte da norma ", 14)
	return pagedText(page, page, page)
}

func staticExtractor(res extract.Result) *extract.Registry {
	reg := extract.NewRegistry()
	reg.Register(extract.MIMEPDF, extract.Func(func(context.Context, []byte) (extract.Result, error) {
		return res, nil
	}))
	return reg
}

func newSQLiteIndex(t *testing.T, dim int) *vectorindex.SQLite {
	t.Helper()
	idx, err := vectorindex.OpenSQLite(":memory:", "normas", dim)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func newBlobs(t *testing.T) *blob.FS {
	t.Helper()
	fs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)
	return fs
}

func testDeps(t *testing.T, reg *extract.Registry, idx vectorindex.Index) IngestorDeps {
	return IngestorDeps{
		Log:        discardLogger(),
		Store:      store.NewMemory(),
		Blobs:      newBlobs(t),
		Extractors: reg,
		Embedder:   wordEmbedder{},
		Index:      idx,
		Gate:       access.NewStaticGate([]string{"*"}),
	}
}

func testIngestConfig() IngestorConfig {
	return IngestorConfig{Segment: chunker.DefaultOptions(), EmbedConcurrency: 2}
}
