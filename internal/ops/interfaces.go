package ops

import (
	"context"

	"github.com/t-henke/glaskasten/internal/engine"
	"github.com/t-henke/glaskasten/internal/session"
)

// Service abstracts the session manager operations the dispatch layer needs.
type Service interface {
	Create(ctx context.Context, opts session.CreateOpts) (*session.Info, error)
	List(includeInactive bool) []session.Info
	Close(ctx context.Context, id string, force bool) error
	Execute(ctx context.Context, id, code string, opts session.ExecOpts) (*engine.Outcome, error)
	ListFiles(ctx context.Context, id, dirPath string) ([]session.FileEntry, error)
	ReadFile(ctx context.Context, id, filePath string) (content string, encoded bool, err error)
	WriteFile(ctx context.Context, id, filePath, content string) error
	InstallPackage(ctx context.Context, id, pkg, source string) (*session.InstallResult, error)
}
