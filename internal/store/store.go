package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

var ErrNotFound = errors.New("not found")

type Document struct {
	ID           uuid.UUID
	UserID       string
	Filename     string
	Size         int64
	StorageKey   string
	MimeType     string
	PageCount    int
	ChunkCount   int
	Status       DocumentStatus
	ErrorMessage string
	UploadedAt   time.Time
	ProcessedAt  *time.Time
}

// Chunk is the metadata row for one indexed text window. VectorID is empty
// until the vector has been written to the index.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Index      int
	Text       string
	Section    string
	Page       int
	VectorID   string
	Metadata   map[string]string
}

// Source attributes an answer to a document section.
type Source struct {
	Filename string  `json:"filename"`
	Section  string  `json:"section"`
	Score    float32 `json:"score"`
}

type ChatRecord struct {
	ID        uuid.UUID
	UserID    string
	Question  string
	Answer    string
	Sources   []Source
	CreatedAt time.Time
}

type Subscription struct {
	UserID   string
	Status   string
	TrialEnd *time.Time
}

// Store persists documents, chunks, chat history and reads subscriptions.
type Store interface {
	CreateDocument(ctx context.Context, doc Document) (Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (Document, error)
	// ListDocuments returns the user's documents, newest first.
	ListDocuments(ctx context.Context, userID string) ([]Document, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, errMsg string) error
	// CompleteDocument marks the document completed and records its counts.
	CompleteDocument(ctx context.Context, id uuid.UUID, pageCount, chunkCount int) error
	// DeleteDocument removes the document and its chunks.
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	// SaveChunks inserts or replaces chunks by id.
	SaveChunks(ctx context.Context, chunks []Chunk) error
	// ListChunks returns a document's chunks ordered by index.
	ListChunks(ctx context.Context, docID uuid.UUID) ([]Chunk, error)
	SetChunkVectorID(ctx context.Context, chunkID uuid.UUID, vectorID string) error
	DeleteChunks(ctx context.Context, docID uuid.UUID) error

	SaveChatRecord(ctx context.Context, rec ChatRecord) (ChatRecord, error)
	// ListChatRecords returns up to limit records for the user, newest first.
	ListChatRecords(ctx context.Context, userID string, limit int) ([]ChatRecord, error)

	GetSubscription(ctx context.Context, userID string) (Subscription, error)
}
