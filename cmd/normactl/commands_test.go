package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ecobiomax/normaIA/internal/access"
	"github.com/ecobiomax/normaIA/internal/app"
	"github.com/ecobiomax/normaIA/internal/blob"
	"github.com/ecobiomax/normaIA/internal/chunker"
	"github.com/ecobiomax/normaIA/internal/embeddings"
	"github.com/ecobiomax/normaIA/internal/extract"
	"github.com/ecobiomax/normaIA/internal/llm"
	"github.com/ecobiomax/normaIA/internal/rag"
	"github.com/ecobiomax/normaIA/internal/store"
	"github.com/ecobiomax/normaIA/internal/vectorindex"
)

func newTestDeps(t *testing.T) (app.Deps, *llm.MockClient) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()

	idx, err := vectorindex.OpenSQLite(":memory:", "normas", 4)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	blobs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)

	reg := extract.NewRegistry()
	reg.Register(extract.MIMEPDF, extract.Func(func(_ context.Context, data []byte) (extract.Result, error) {
		if bytes.Contains(data, []byte("broken")) {
			return extract.Result{}, &extract.ExtractionError{MIMEType: extract.MIMEPDF, Reason: "malformed pdf"}
		}
		text := strings.Repeat("A ABNT NBR 5410 define requisitos de protecao contra choques eletricos. ", 10)
		return extract.Result{Text: text, PageCount: 1, PageOffsets: []int{0}}, nil
	}))

	emb := &embeddings.MockEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{0, 1, 0, 0}, nil).Maybe()
	completer := &llm.MockClient{}
	gate := access.NewStaticGate([]string{"*"})

	ingestor := rag.NewIngestor(rag.IngestorDeps{
		Log:        log,
		Store:      st,
		Blobs:      blobs,
		Extractors: reg,
		Embedder:   emb,
		Index:      idx,
		Gate:       gate,
	}, rag.IngestorConfig{Segment: chunker.DefaultOptions(), EmbedConcurrency: 1})
	retriever := rag.NewRetriever(log, emb, idx, nil, rag.RetrieverConfig{})
	composer := rag.NewComposer(log, completer, st, "português brasileiro", 0)

	return app.Deps{
		Log:      log,
		Store:    st,
		Index:    idx,
		Ingestor: ingestor,
		Asker:    rag.NewAsker(log, gate, retriever, composer, st, rag.DefaultTopK),
	}, completer
}

func writePDF(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, deps app.Deps, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(func() (app.Deps, error) { return deps, nil })
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestCommand(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		wantOut string
	}{
		{"readable document", "%PDF-1.4 norma", false, "processado com sucesso"},
		{"unreadable document", "%PDF-1.4 broken", true, "Erro ao processar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := newTestDeps(t)
			out, err := run(t, deps, "ingest", "--user", "ana", writePDF(t, "nbr5410.pdf", tt.content))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Contains(t, out, tt.wantOut)
		})
	}
}

func TestIngestCommandMissingFile(t *testing.T) {
	deps, _ := newTestDeps(t)
	_, err := run(t, deps, "ingest", filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
}

func TestAskAndHistoryCommands(t *testing.T) {
	deps, completer := newTestDeps(t)
	_, err := run(t, deps, "ingest", "--user", "ana", writePDF(t, "nbr5410.pdf", "%PDF-1.4 norma"))
	require.NoError(t, err)

	completer.On("Complete", mock.Anything, mock.Anything, "qual a protecao exigida?", mock.Anything, mock.Anything).
		Return("Protecao por seccionamento automatico.", nil).Once()

	out, err := run(t, deps, "ask", "--user", "ana", "qual", "a", "protecao", "exigida?")
	require.NoError(t, err)
	assert.Contains(t, out, "Protecao por seccionamento automatico.")
	assert.Contains(t, out, "Fontes:")
	assert.Contains(t, out, "nbr5410.pdf")
	completer.AssertExpectations(t)

	out, err = run(t, deps, "history", "--user", "ana", "--json")
	require.NoError(t, err)
	var records []store.ChatRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "qual a protecao exigida?", records[0].Question)

	out, err = run(t, deps, "history", "--user", "bruno", "--json")
	require.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(out))
}

func TestDocumentsCommand(t *testing.T) {
	deps, _ := newTestDeps(t)
	_, err := run(t, deps, "ingest", "--user", "ana", writePDF(t, "nbr5410.pdf", "%PDF-1.4 norma"))
	require.NoError(t, err)

	out, err := run(t, deps, "documents", "--user", "ana")
	require.NoError(t, err)
	assert.Contains(t, out, "FILENAME")
	assert.Contains(t, out, "nbr5410.pdf")
	assert.Contains(t, out, string(store.StatusCompleted))

	out, err = run(t, deps, "documents", "--user", "bruno")
	require.NoError(t, err)
	assert.NotContains(t, out, "nbr5410.pdf")
}

func TestAskCommandRejectsBlankQuestion(t *testing.T) {
	deps, _ := newTestDeps(t)
	_, err := run(t, deps, "ask", "   ")
	require.ErrorIs(t, err, rag.ErrEmptyQuestion)
}
