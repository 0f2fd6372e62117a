package engine

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/t-henke/glaskasten/internal/docker"
	"github.com/t-henke/glaskasten/protocol"
)

type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) Exec(ctx context.Context, containerID string, spec docker.ExecSpec) (docker.ExecResult, error) {
	args := m.Called(ctx, containerID, spec)
	return args.Get(0).(docker.ExecResult), args.Error(1)
}

func (m *MockRuntime) Inspect(ctx context.Context, containerID string) (docker.InspectResult, error) {
	args := m.Called(ctx, containerID)
	return args.Get(0).(docker.InspectResult), args.Error(1)
}

type MockEvalClient struct {
	mock.Mock
}

func (m *MockEvalClient) Eval(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*protocol.Response), args.Error(1)
	}
	return nil, args.Error(1)
}
