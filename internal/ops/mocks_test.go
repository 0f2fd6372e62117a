package ops

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/t-henke/glaskasten/internal/engine"
	"github.com/t-henke/glaskasten/internal/session"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Create(ctx context.Context, opts session.CreateOpts) (*session.Info, error) {
	args := m.Called(ctx, opts)
	if info := args.Get(0); info != nil {
		return info.(*session.Info), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) List(includeInactive bool) []session.Info {
	args := m.Called(includeInactive)
	return args.Get(0).([]session.Info)
}

func (m *MockService) Close(ctx context.Context, id string, force bool) error {
	args := m.Called(ctx, id, force)
	return args.Error(0)
}

func (m *MockService) Execute(ctx context.Context, id, code string, opts session.ExecOpts) (*engine.Outcome, error) {
	args := m.Called(ctx, id, code, opts)
	if out := args.Get(0); out != nil {
		return out.(*engine.Outcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) ListFiles(ctx context.Context, id, dirPath string) ([]session.FileEntry, error) {
	args := m.Called(ctx, id, dirPath)
	if entries := args.Get(0); entries != nil {
		return entries.([]session.FileEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) ReadFile(ctx context.Context, id, filePath string) (string, bool, error) {
	args := m.Called(ctx, id, filePath)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockService) WriteFile(ctx context.Context, id, filePath, content string) error {
	args := m.Called(ctx, id, filePath, content)
	return args.Error(0)
}

func (m *MockService) InstallPackage(ctx context.Context, id, pkg, source string) (*session.InstallResult, error) {
	args := m.Called(ctx, id, pkg, source)
	if res := args.Get(0); res != nil {
		return res.(*session.InstallResult), args.Error(1)
	}
	return nil, args.Error(1)
}
