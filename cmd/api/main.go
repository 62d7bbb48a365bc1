package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ecobiomax/normaIA/internal/app"
	"github.com/ecobiomax/normaIA/internal/httputil"
	"github.com/ecobiomax/normaIA/internal/rag"
	"github.com/ecobiomax/normaIA/internal/store"
)

type askRequest struct {
	Question string `json:"question" validate:"required,max=4000"`
}

type documentView struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	Size         int64      `json:"size"`
	Status       string     `json:"status"`
	PageCount    int        `json:"page_count"`
	ChunkCount   int        `json:"chunk_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

type historyEntry struct {
	ID        string         `json:"id"`
	Question  string         `json:"question"`
	Answer    string         `json:"answer"`
	Sources   []store.Source `json:"sources"`
	CreatedAt time.Time      `json:"created_at"`
}

func main() {
	deps, err := app.Build("api")
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httputil.Serve(ctx, deps.Log, srv); err != nil {
		deps.Log.Error("server failed", "err", err)
	}
}

func newRouter(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log)
	r.Get("/healthz", httputil.HealthHandler(deps.Log, deps.Checks()...))

	r.Route("/api", func(r chi.Router) {
		r.Use(httputil.RequireUser)
		r.Post("/documents", uploadHandler(deps))
		r.Get("/documents", listDocumentsHandler(deps))
		r.Get("/documents/{id}", getDocumentHandler(deps))
		r.Delete("/documents/{id}", deleteDocumentHandler(deps))
		r.Post("/ask", askHandler(deps))
		r.Get("/history", historyHandler(deps))
	})
	return r
}

func uploadHandler(deps app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := httputil.UserID(ctx)

		if r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFileSize+1<<20)

		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			if strings.ToLower(filepath.Ext(header.Filename)) == ".pdf" {
				contentType = "application/pdf"
			}
		}
		if contentType != "application/pdf" {
			httputil.Fail(deps.Log, w, "unsupported file type (only PDF allowed)", nil, http.StatusBadRequest)
			return
		}

		content, err := io.ReadAll(file)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to read file", err, http.StatusInternalServerError)
			return
		}

		res, err := deps.Ingestor.Ingest(ctx, userID, header.Filename, content)
		if err != nil {
			failRequest(deps.Log, w, "failed to ingest document", err)
			return
		}
		status := http.StatusOK
		if !res.Success {
			status = http.StatusUnprocessableEntity
		}
		httputil.WriteJSON(w, status, res)
	}
}

func askHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid request body", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		res, err := deps.Asker.Ask(r.Context(), httputil.UserID(r.Context()), req.Question)
		if err != nil {
			failRequest(deps.Log, w, "failed to answer question", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}

func listDocumentsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Ingestor.ListDocuments(r.Context(), httputil.UserID(r.Context()))
		if err != nil {
			failRequest(deps.Log, w, "failed to list documents", err)
			return
		}
		views := make([]documentView, 0, len(docs))
		for _, d := range docs {
			views = append(views, toDocumentView(d))
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"documents": views})
	}
}

func getDocumentHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
			return
		}
		doc, err := deps.Ingestor.Document(r.Context(), httputil.UserID(r.Context()), docID)
		if err != nil {
			failRequest(deps.Log.With("document_id", docID), w, "failed to load document", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toDocumentView(doc))
	}
}

func deleteDocumentHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
			return
		}
		if err := deps.Ingestor.Delete(r.Context(), httputil.UserID(r.Context()), docID); err != nil {
			failRequest(deps.Log.With("document_id", docID), w, "failed to delete document", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func historyHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := rag.DefaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httputil.Fail(deps.Log, w, "limit must be a positive integer", err, http.StatusBadRequest)
				return
			}
			limit = n
		}

		records, err := deps.Asker.History(r.Context(), httputil.UserID(r.Context()), limit)
		if err != nil {
			failRequest(deps.Log, w, "failed to load history", err)
			return
		}
		entries := make([]historyEntry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, historyEntry{
				ID:        rec.ID.String(),
				Question:  rec.Question,
				Answer:    rec.Answer,
				Sources:   rec.Sources,
				CreatedAt: rec.CreatedAt,
			})
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"history": entries})
	}
}

// failRequest maps pipeline errors onto HTTP statuses.
func failRequest(log *slog.Logger, w http.ResponseWriter, message string, err error) {
	var denied *rag.AccessDeniedError
	switch {
	case errors.As(err, &denied):
		httputil.Fail(log, w, "access denied: "+denied.Reason, err, http.StatusForbidden)
	case errors.Is(err, store.ErrNotFound):
		httputil.Fail(log, w, "document not found", err, http.StatusNotFound)
	case errors.Is(err, rag.ErrEmptyQuestion):
		httputil.Fail(log, w, err.Error(), err, http.StatusBadRequest)
	default:
		httputil.Fail(log, w, message, err, http.StatusInternalServerError)
	}
}

func toDocumentView(d store.Document) documentView {
	return documentView{
		ID:           d.ID.String(),
		Filename:     d.Filename,
		Size:         d.Size,
		Status:       string(d.Status),
		PageCount:    d.PageCount,
		ChunkCount:   d.ChunkCount,
		ErrorMessage: d.ErrorMessage,
		UploadedAt:   d.UploadedAt,
		ProcessedAt:  d.ProcessedAt,
	}
}
