package session

import (
	"context"
	"io"

	"github.com/t-henke/glaskasten/internal/docker"
	"github.com/t-henke/glaskasten/internal/journal"
)

// Runtime is the container-runtime surface the manager depends on.
type Runtime interface {
	CreateContainer(ctx context.Context, spec docker.CreateSpec) (string, error)
	StopContainer(ctx context.Context, containerID string, graceSeconds int) error
	RemoveContainer(ctx context.Context, containerID string) error
	Inspect(ctx context.Context, containerID string) (docker.InspectResult, error)
	ListManaged(ctx context.Context) ([]docker.ManagedContainer, error)
	Exec(ctx context.Context, containerID string, spec docker.ExecSpec) (docker.ExecResult, error)
	PutArchive(ctx context.Context, containerID, dstDir string, archive io.Reader) error
	GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, int64, error)
}

// ExecutionJournal records completed executions for the history counts in
// session listings.
type ExecutionJournal interface {
	Append(e journal.Entry) error
	Counts() (map[string]int, error)
}

// Workspaces provisions per-session host directories for bind mounting.
type Workspaces interface {
	Ensure(sessionID string) (string, error)
}

// ContainerPool hands out pre-warmed containers. Claim returns ok=false
// when the pool is empty and the caller falls back to a cold create. Owns
// lets the startup sweep tell pooled containers apart from orphans.
type ContainerPool interface {
	Claim(ctx context.Context) (containerID string, ok bool)
	Owns(containerID string) bool
}
