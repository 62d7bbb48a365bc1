package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ecobiomax/normaIA/internal/blob"
	"github.com/ecobiomax/normaIA/internal/store"
)

// ListDocuments returns the user's documents, newest first.
func (in *Ingestor) ListDocuments(ctx context.Context, userID string) ([]store.Document, error) {
	return in.Store.ListDocuments(ctx, userID)
}

// Document returns one of the user's documents. Documents owned by someone
// else are reported as store.ErrNotFound.
func (in *Ingestor) Document(ctx context.Context, userID string, id uuid.UUID) (store.Document, error) {
	doc, err := in.Store.GetDocument(ctx, id)
	if err != nil {
		return store.Document{}, err
	}
	if doc.UserID != userID {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

// Delete removes a document's vectors, chunks, upload and row.
func (in *Ingestor) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	doc, err := in.Document(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := in.purge(ctx, doc.ID); err != nil {
		return err
	}
	if in.Blobs != nil {
		if err := in.Blobs.Delete(ctx, doc.StorageKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return fmt.Errorf("deleting upload: %w", err)
		}
	}
	if err := in.Store.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	in.Log.Info("document deleted", "document_id", doc.ID, "user_id", userID)
	return nil
}
