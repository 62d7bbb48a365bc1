package access

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockGate is a testify mock for Gate.
type MockGate struct {
	mock.Mock
}

func (m *MockGate) CheckAccess(ctx context.Context, userID string) Decision {
	args := m.Called(ctx, userID)
	return args.Get(0).(Decision)
}
