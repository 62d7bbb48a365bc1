package cache

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockCache is a testify mock for Cache.
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) (*Entry, Generation, error) {
	args := m.Called(ctx, key)
	e, _ := args.Get(0).(*Entry)
	gen, _ := args.Get(1).(Generation)
	return e, gen, args.Error(2)
}

func (m *MockCache) Set(ctx context.Context, key string, gen Generation, entry *Entry, ttl time.Duration) error {
	return m.Called(ctx, key, gen, entry, ttl).Error(0)
}

func (m *MockCache) Invalidate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCache) Close() error {
	return m.Called().Error(0)
}
