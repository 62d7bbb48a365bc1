package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ecobiomax/normaIA/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

// TaskTypeReingest asks a worker to re-run ingestion for a stored document.
const TaskTypeReingest TaskType = "reingest"

// DefaultMaxAttempts bounds deliveries of a task that sets no MaxAttempts.
const DefaultMaxAttempts = 5

// Task is a unit of background work.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

// ReingestPayload identifies the document to reprocess.
type ReingestPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	Reason     string    `json:"reason,omitempty"`
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// NewReingestTask builds a reingest task that becomes eligible after delay.
func NewReingestTask(docID uuid.UUID, reason string, delay time.Duration) (Task, error) {
	body, err := json.Marshal(ReingestPayload{DocumentID: docID, Reason: reason})
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:          uuid.New(),
		Type:        TaskTypeReingest,
		Payload:     body,
		MaxAttempts: DefaultMaxAttempts,
		NotBefore:   time.Now().Add(delay),
	}, nil
}

// DecodeReingest extracts the payload of a reingest task.
func DecodeReingest(task Task) (ReingestPayload, error) {
	if task.Type != TaskTypeReingest {
		return ReingestPayload{}, fmt.Errorf("unexpected task type %q", task.Type)
	}
	var p ReingestPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return ReingestPayload{}, fmt.Errorf("decoding reingest payload: %w", err)
	}
	if p.DocumentID == uuid.Nil {
		return ReingestPayload{}, fmt.Errorf("reingest payload missing document id")
	}
	return p, nil
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	return retry.Do(ctx, attempts, base, nil, func(ctx context.Context) error {
		return q.Enqueue(ctx, task)
	})
}
