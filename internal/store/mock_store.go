package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockStore) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockStore) ListDocuments(ctx context.Context, userID string) ([]Document, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Document), args.Error(1)
}

func (m *MockStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *MockStore) CompleteDocument(ctx context.Context, id uuid.UUID, pageCount, chunkCount int) error {
	args := m.Called(ctx, id, pageCount, chunkCount)
	return args.Error(0)
}

func (m *MockStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) SaveChunks(ctx context.Context, chunks []Chunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *MockStore) ListChunks(ctx context.Context, docID uuid.UUID) ([]Chunk, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Chunk), args.Error(1)
}

func (m *MockStore) SetChunkVectorID(ctx context.Context, chunkID uuid.UUID, vectorID string) error {
	args := m.Called(ctx, chunkID, vectorID)
	return args.Error(0)
}

func (m *MockStore) DeleteChunks(ctx context.Context, docID uuid.UUID) error {
	args := m.Called(ctx, docID)
	return args.Error(0)
}

func (m *MockStore) SaveChatRecord(ctx context.Context, rec ChatRecord) (ChatRecord, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(ChatRecord), args.Error(1)
}

func (m *MockStore) ListChatRecords(ctx context.Context, userID string, limit int) ([]ChatRecord, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ChatRecord), args.Error(1)
}

func (m *MockStore) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(Subscription), args.Error(1)
}
