package queue

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockQueue is a testify mock for Queue.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, task Task) error {
	return m.Called(ctx, task).Error(0)
}

// Worker records the call and returns immediately.
func (m *MockQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	return m.Called(ctx, taskType, handler).Error(0)
}
