package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ecobiomax/normaIA/internal/access"
	"github.com/ecobiomax/normaIA/internal/blob"
	"github.com/ecobiomax/normaIA/internal/cache"
	"github.com/ecobiomax/normaIA/internal/chunker"
	"github.com/ecobiomax/normaIA/internal/embeddings"
	"github.com/ecobiomax/normaIA/internal/extract"
	"github.com/ecobiomax/normaIA/internal/queue"
	"github.com/ecobiomax/normaIA/internal/store"
	"github.com/ecobiomax/normaIA/internal/vectorindex"
)

var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://normaia.ecobiomax.com/chunks"))

// ChunkID derives a stable id from the chunk's position, so re-ingesting a
// document overwrites the same index points.
func ChunkID(documentID uuid.UUID, sectionIndex, chunkIndex int) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s/%d/%d", documentID, sectionIndex, chunkIndex)))
}

// IngestResult is the outcome reported to the uploader.
type IngestResult struct {
	Success         bool   `json:"success"`
	DocumentID      string `json:"document_id,omitempty"`
	ChunksProcessed int    `json:"chunks_processed"`
	Message         string `json:"message,omitempty"`
	Error           string `json:"error,omitempty"`
}

// IngestorDeps are the collaborators of the write path. Blobs and Queue may
// be nil; without them failed documents are not re-ingested in the background.
type IngestorDeps struct {
	Log        *slog.Logger
	Store      store.Store
	Blobs      blob.Store
	Extractors *extract.Registry
	Embedder   embeddings.Embedder
	Index      vectorindex.Index
	Cache      cache.Cache
	Queue      queue.Queue
	Gate       access.Gate
}

type IngestorConfig struct {
	Segment          chunker.Options
	EmbedConcurrency int
	Timeouts         Timeouts
	// ReingestDelay is how long a background retry waits before running.
	ReingestDelay time.Duration
}

// Ingestor runs the write path. Metadata is written before vectors: chunk
// rows are saved first, each vector id is recorded after its upsert, and
// the document is completed only once every upsert has succeeded.
type Ingestor struct {
	IngestorDeps
	cfg      IngestorConfig
	embedder embeddings.Embedder
}

func NewIngestor(deps IngestorDeps, cfg IngestorConfig) *Ingestor {
	if deps.Extractors == nil {
		deps.Extractors = extract.NewRegistry()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewNoOpCache()
	}
	if cfg.ReingestDelay <= 0 {
		cfg.ReingestDelay = 30 * time.Second
	}
	return &Ingestor{
		IngestorDeps: deps,
		cfg:          cfg,
		embedder:     timeoutEmbedder{next: deps.Embedder, timeout: cfg.Timeouts.Embed},
	}
}

// Ingest accepts an upload and runs the pipeline synchronously. The only
// error returned is *AccessDeniedError; pipeline failures are reported in
// the result and on the document.
func (in *Ingestor) Ingest(ctx context.Context, userID, filename string, data []byte) (IngestResult, error) {
	if d := in.Gate.CheckAccess(ctx, userID); !d.Granted {
		return IngestResult{}, &AccessDeniedError{UserID: userID, Reason: d.Reason}
	}

	docID := uuid.New()
	doc, err := in.Store.CreateDocument(ctx, store.Document{
		ID:         docID,
		UserID:     userID,
		Filename:   filename,
		Size:       int64(len(data)),
		StorageKey: blob.Key(userID, docID.String()),
		MimeType:   extract.DetectMIME(filename, data),
		Status:     store.StatusPending,
	})
	if err != nil {
		in.Log.Error("failed to create document", "filename", filename, "user_id", userID, "err", err)
		return failedResult(filename, "", err, false), nil
	}
	log := in.Log.With("document_id", doc.ID, "filename", filename)

	if in.Blobs != nil {
		if err := in.Blobs.Put(ctx, doc.StorageKey, data); err != nil {
			in.fail(ctx, doc, fmt.Errorf("storing upload: %w", err), nil)
			return failedResult(filename, doc.ID.String(), err, false), nil
		}
	}

	n, err := in.process(ctx, doc, data)
	if err != nil {
		scheduled := IsRetryable(err) && in.scheduleReingest(ctx, doc, err)
		return failedResult(filename, doc.ID.String(), err, scheduled), nil
	}

	log.Info("document ingested", "chunks", n)
	res := IngestResult{
		Success:         true,
		DocumentID:      doc.ID.String(),
		ChunksProcessed: n,
		Message:         fmt.Sprintf("Documento %q processado com sucesso!", filename),
	}
	if n == 0 {
		res.Message = fmt.Sprintf("Documento %q processado, mas nenhum trecho de texto foi encontrado.", filename)
	}
	return res, nil
}

// Reprocess re-runs ingestion for a stored document from its saved bytes.
func (in *Ingestor) Reprocess(ctx context.Context, docID uuid.UUID) error {
	if in.Blobs == nil {
		return errors.New("reprocess requires a blob store")
	}
	doc, err := in.Store.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", docID, err)
	}
	if doc.Status == store.StatusCompleted {
		in.Log.Info("document already completed, skipping reprocess", "document_id", docID)
		return nil
	}
	data, err := in.Blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("loading upload of document %s: %w", docID, err)
	}
	n, err := in.process(ctx, doc, data)
	if err != nil {
		return err
	}
	in.Log.Info("document reprocessed", "document_id", docID, "chunks", n)
	return nil
}

// process runs extraction through indexing and marks the document. On
// failure the document is marked failed and vectors written by this run are
// removed.
func (in *Ingestor) process(ctx context.Context, doc store.Document, data []byte) (int, error) {
	if err := in.Store.UpdateDocumentStatus(ctx, doc.ID, store.StatusProcessing, ""); err != nil {
		return 0, in.fail(ctx, doc, fmt.Errorf("marking processing: %w", err), nil)
	}
	if err := in.purge(ctx, doc.ID); err != nil {
		return 0, in.fail(ctx, doc, err, nil)
	}

	extractor, err := in.Extractors.For(doc.MimeType)
	if err != nil {
		return 0, in.fail(ctx, doc, err, nil)
	}
	extractCtx, cancel := withTimeout(ctx, in.cfg.Timeouts.Extract)
	res, err := extractor.Extract(extractCtx, data)
	cancel()
	if err != nil {
		return 0, in.fail(ctx, doc, err, nil)
	}

	segments := chunker.Segment(res.Text, in.cfg.Segment)
	rows := make([]store.Chunk, len(segments))
	texts := make([]string, len(segments))
	for i, s := range segments {
		rows[i] = store.Chunk{
			ID:         ChunkID(doc.ID, s.SectionIndex, s.Index),
			DocumentID: doc.ID,
			Index:      s.Index,
			Text:       s.Text,
			Section:    s.Section,
			Page:       res.PageAt(s.Offset),
			Metadata:   map[string]string{"filename": doc.Filename, "section": s.Section},
		}
		texts[i] = s.Text
	}

	if len(rows) > 0 {
		if err := in.Store.SaveChunks(ctx, rows); err != nil {
			return 0, in.fail(ctx, doc, fmt.Errorf("saving chunks: %w", err), nil)
		}
		if err := in.index(ctx, doc, rows, texts); err != nil {
			return 0, err
		}
	}

	if err := in.Store.CompleteDocument(ctx, doc.ID, res.PageCount, len(rows)); err != nil {
		return 0, in.fail(ctx, doc, fmt.Errorf("completing document: %w", err), in.vectorIDs(rows))
	}
	if err := in.Cache.Invalidate(ctx); err != nil {
		in.Log.Warn("failed to invalidate retrieval cache", "err", err)
	}
	return len(rows), nil
}

// index embeds and upserts every chunk, recording each vector id once written.
func (in *Ingestor) index(ctx context.Context, doc store.Document, rows []store.Chunk, texts []string) error {
	ensureCtx, cancel := withTimeout(ctx, in.cfg.Timeouts.Index)
	err := in.Index.EnsureCollection(ensureCtx)
	cancel()
	if err != nil {
		return in.fail(ctx, doc, err, nil)
	}

	vectors, err := embeddings.EmbedBatch(ctx, in.embedder, texts, in.cfg.EmbedConcurrency)
	if err != nil {
		return in.fail(ctx, doc, err, nil)
	}

	var written []string
	for i, row := range rows {
		id := row.ID.String()
		upsertCtx, cancel := withTimeout(ctx, in.cfg.Timeouts.Index)
		err := in.Index.Upsert(upsertCtx, vectorindex.Point{
			ID:     id,
			Vector: vectors[i],
			Payload: vectorindex.Payload{
				DocumentID: doc.ID.String(),
				UserID:     doc.UserID,
				Filename:   doc.Filename,
				Section:    row.Section,
				Text:       row.Text,
				ChunkIndex: row.Index,
				Page:       row.Page,
			},
		})
		cancel()
		if err != nil {
			return in.fail(ctx, doc, fmt.Errorf("upserting chunk %d: %w", row.Index, err), written)
		}
		written = append(written, id)
		if err := in.Store.SetChunkVectorID(ctx, row.ID, id); err != nil {
			return in.fail(ctx, doc, fmt.Errorf("recording vector of chunk %d: %w", row.Index, err), written)
		}
	}
	return nil
}

// purge removes vectors and chunk rows left by an earlier run.
func (in *Ingestor) purge(ctx context.Context, docID uuid.UUID) error {
	previous, err := in.Store.ListChunks(ctx, docID)
	if err != nil {
		return fmt.Errorf("listing previous chunks: %w", err)
	}
	if len(previous) == 0 {
		return nil
	}
	for _, c := range previous {
		if err := in.deleteVector(ctx, c.ID.String()); err != nil {
			return fmt.Errorf("deleting previous vector %s: %w", c.ID, err)
		}
	}
	if err := in.Store.DeleteChunks(ctx, docID); err != nil {
		return fmt.Errorf("deleting previous chunks: %w", err)
	}
	if err := in.Cache.Invalidate(ctx); err != nil {
		in.Log.Warn("failed to invalidate retrieval cache", "err", err)
	}
	return nil
}

func (in *Ingestor) deleteVector(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, in.cfg.Timeouts.Index)
	defer cancel()
	return in.Index.Delete(ctx, id)
}

// fail marks the document failed and removes the vectors in written. It
// returns cause so callers can write `return in.fail(...)`.
func (in *Ingestor) fail(ctx context.Context, doc store.Document, cause error, written []string) error {
	// Bookkeeping must run even when ctx already expired.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	log := in.Log.With("document_id", doc.ID, "filename", doc.Filename)
	log.Error("ingestion failed", "err", cause, "retryable", IsRetryable(cause), "vectors_written", len(written))

	for _, id := range written {
		if err := in.deleteVector(ctx, id); err != nil {
			log.Warn("failed to roll back vector", "vector_id", id, "err", err)
			continue
		}
		chunkID, err := uuid.Parse(id)
		if err == nil {
			err = in.Store.SetChunkVectorID(ctx, chunkID, "")
		}
		if err != nil {
			log.Warn("failed to clear vector id", "vector_id", id, "err", err)
		}
	}

	if err := in.Store.UpdateDocumentStatus(ctx, doc.ID, store.StatusFailed, cause.Error()); err != nil {
		log.Error("failed to mark document failed", "err", err)
	}
	return cause
}

func (in *Ingestor) vectorIDs(rows []store.Chunk) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID.String()
	}
	return ids
}

// scheduleReingest reports whether a reingest task was enqueued.
func (in *Ingestor) scheduleReingest(ctx context.Context, doc store.Document, cause error) bool {
	if in.Queue == nil || in.Blobs == nil {
		return false
	}
	task, err := queue.NewReingestTask(doc.ID, cause.Error(), in.cfg.ReingestDelay)
	if err != nil {
		in.Log.Error("failed to build reingest task", "document_id", doc.ID, "err", err)
		return false
	}
	ctx = context.WithoutCancel(ctx)
	if err := queue.EnqueueWithRetry(ctx, in.Queue, task, 3, 200*time.Millisecond); err != nil {
		in.Log.Error("failed to enqueue reingest", "document_id", doc.ID, "err", err)
		return false
	}
	in.Log.Info("reingest scheduled", "document_id", doc.ID, "task_id", task.ID)
	return true
}

// failedResult reports which file failed and a generic cause.
func failedResult(filename, docID string, err error, retryScheduled bool) IngestResult {
	cause := causeOf(err)
	if retryScheduled {
		cause += "; nova tentativa agendada"
	}
	return IngestResult{
		Success:    false,
		DocumentID: docID,
		Message:    fmt.Sprintf("Erro ao processar o documento %q. Verifique se o arquivo é um PDF válido.", filename),
		Error:      cause,
	}
}

func causeOf(err error) string {
	var extractionErr *extract.ExtractionError
	var unavailable *vectorindex.UnavailableError
	var provider *embeddings.ProviderError
	switch {
	case errors.As(err, &extractionErr):
		return "documento ilegível: " + extractionErr.Reason
	case errors.As(err, &unavailable):
		return "índice de vetores indisponível"
	case errors.As(err, &provider):
		return "serviço de embeddings indisponível"
	case errors.Is(err, context.DeadlineExceeded):
		return "tempo limite excedido"
	default:
		return "erro interno"
	}
}
