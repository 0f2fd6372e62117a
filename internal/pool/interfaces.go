package pool

import (
	"context"

	"github.com/t-henke/glaskasten/internal/docker"
)

// Runtime is the container surface the pool needs: it only ever creates
// warm containers and removes the ones nobody claimed.
type Runtime interface {
	CreateContainer(ctx context.Context, spec docker.CreateSpec) (string, error)
	RemoveContainer(ctx context.Context, containerID string) error
}
