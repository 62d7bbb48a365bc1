package vectorindex

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ecobiomax/normaIA/internal/embeddings"
)

// MockIndex is a testify mock for Index.
type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) EnsureCollection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIndex) Upsert(ctx context.Context, p Point) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockIndex) Search(ctx context.Context, vector embeddings.Vector, k int) ([]Hit, error) {
	args := m.Called(ctx, vector, k)
	hits, _ := args.Get(0).([]Hit)
	return hits, args.Error(1)
}

func (m *MockIndex) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
