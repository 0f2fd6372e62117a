package session

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/t-henke/glaskasten/internal/docker"
	"github.com/t-henke/glaskasten/internal/engine"
	"github.com/t-henke/glaskasten/internal/journal"
)

type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) CreateContainer(ctx context.Context, spec docker.CreateSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockRuntime) StopContainer(ctx context.Context, containerID string, graceSeconds int) error {
	args := m.Called(ctx, containerID, graceSeconds)
	return args.Error(0)
}

func (m *MockRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockRuntime) Inspect(ctx context.Context, containerID string) (docker.InspectResult, error) {
	args := m.Called(ctx, containerID)
	return args.Get(0).(docker.InspectResult), args.Error(1)
}

func (m *MockRuntime) ListManaged(ctx context.Context) ([]docker.ManagedContainer, error) {
	args := m.Called(ctx)
	if list := args.Get(0); list != nil {
		return list.([]docker.ManagedContainer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuntime) Exec(ctx context.Context, containerID string, spec docker.ExecSpec) (docker.ExecResult, error) {
	args := m.Called(ctx, containerID, spec)
	return args.Get(0).(docker.ExecResult), args.Error(1)
}

func (m *MockRuntime) PutArchive(ctx context.Context, containerID, dstDir string, archive io.Reader) error {
	args := m.Called(ctx, containerID, dstDir, archive)
	return args.Error(0)
}

func (m *MockRuntime) GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, int64, error) {
	args := m.Called(ctx, containerID, path)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Get(1).(int64), args.Error(2)
	}
	return nil, args.Get(1).(int64), args.Error(2)
}

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Run(ctx context.Context, target engine.Target, code string, limits engine.Limits) (*engine.Outcome, error) {
	args := m.Called(ctx, target, code, limits)
	if out := args.Get(0); out != nil {
		return out.(*engine.Outcome), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Append(e journal.Entry) error {
	args := m.Called(e)
	return args.Error(0)
}

func (m *MockJournal) Counts() (map[string]int, error) {
	args := m.Called()
	if counts := args.Get(0); counts != nil {
		return counts.(map[string]int), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockWorkspaces struct {
	mock.Mock
}

func (m *MockWorkspaces) Ensure(sessionID string) (string, error) {
	args := m.Called(sessionID)
	return args.String(0), args.Error(1)
}

type MockPool struct {
	mock.Mock
}

func (m *MockPool) Claim(ctx context.Context) (string, bool) {
	args := m.Called(ctx)
	return args.String(0), args.Bool(1)
}

func (m *MockPool) Owns(containerID string) bool {
	args := m.Called(containerID)
	return args.Bool(0)
}
