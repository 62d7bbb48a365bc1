package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory. It backs the CLI's
// local mode and end-to-end tests.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	documents     map[uuid.UUID]Document
	chunks        map[uuid.UUID]Chunk
	history       []ChatRecord
	subscriptions map[string]Subscription
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		documents:     make(map[uuid.UUID]Document),
		chunks:        make(map[uuid.UUID]Chunk),
		subscriptions: make(map[string]Subscription),
	}
}

// PutSubscription inserts or replaces a subscription.
func (m *MemoryStore) PutSubscription(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.UserID] = sub
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	doc.UploadedAt = m.now()
	m.documents[doc.ID] = doc
	return doc, nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id uuid.UUID) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, userID string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Document
	for _, d := range m.documents {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MemoryStore) UpdateDocumentStatus(_ context.Context, id uuid.UUID, status DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.ErrorMessage = errMsg
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) CompleteDocument(_ context.Context, id uuid.UUID, pageCount, chunkCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	d.Status = StatusCompleted
	d.ErrorMessage = ""
	d.PageCount = pageCount
	d.ChunkCount = chunkCount
	d.ProcessedAt = &now
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return ErrNotFound
	}
	delete(m.documents, id)
	m.deleteChunksLocked(id)
	return nil
}

func (m *MemoryStore) SaveChunks(_ context.Context, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		if _, ok := m.documents[c.DocumentID]; !ok {
			return ErrNotFound
		}
	}
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *MemoryStore) ListChunks(_ context.Context, docID uuid.UUID) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Chunk
	for _, c := range m.chunks {
		if c.DocumentID == docID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *MemoryStore) SetChunkVectorID(_ context.Context, chunkID uuid.UUID, vectorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[chunkID]
	if !ok {
		return ErrNotFound
	}
	c.VectorID = vectorID
	m.chunks[chunkID] = c
	return nil
}

func (m *MemoryStore) DeleteChunks(_ context.Context, docID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteChunksLocked(docID)
	return nil
}

func (m *MemoryStore) deleteChunksLocked(docID uuid.UUID) {
	for id, c := range m.chunks {
		if c.DocumentID == docID {
			delete(m.chunks, id)
		}
	}
}

func (m *MemoryStore) SaveChatRecord(_ context.Context, rec ChatRecord) (ChatRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Sources == nil {
		rec.Sources = []Source{}
	}
	rec.CreatedAt = m.now()
	m.history = append(m.history, rec)
	return rec, nil
}

func (m *MemoryStore) ListChatRecords(_ context.Context, userID string, limit int) ([]ChatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ChatRecord
	for i := len(m.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.history[i].UserID == userID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, userID string) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[userID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}
