package reaper

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockSessions mocks the Sessions interface.
type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) Reconcile(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSessions) IdleSessionIDs(now time.Time) []string {
	args := m.Called(now)
	if ids := args.Get(0); ids != nil {
		return ids.([]string)
	}
	return nil
}

func (m *MockSessions) CloseExpired(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessions) StuckSessionIDs() []string {
	args := m.Called()
	if ids := args.Get(0); ids != nil {
		return ids.([]string)
	}
	return nil
}

func (m *MockSessions) RetryTeardown(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
