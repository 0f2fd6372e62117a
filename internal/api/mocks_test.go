package api

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
	"github.com/t-henke/glaskasten/internal/ops"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Handles(name string) bool {
	args := m.Called(name)
	return args.Bool(0)
}

func (m *MockDispatcher) Dispatch(ctx context.Context, name string, raw json.RawMessage) ops.Envelope {
	args := m.Called(ctx, name, raw)
	return args.Get(0).(ops.Envelope)
}
