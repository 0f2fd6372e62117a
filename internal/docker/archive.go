package docker

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

// PutArchive streams a tar archive into the container, extracting it under
// dstDir. The caller is responsible for dstDir existing.
func (c *Client) PutArchive(ctx context.Context, containerID, dstDir string, archive io.Reader) error {
	err := c.docker.CopyToContainer(ctx, containerID, dstDir, archive, container.CopyToContainerOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return errdefs.Wrap(errdefs.CodeInvalidPath, err, "destination %q not found in container", dstDir)
		}
		return errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "copy to container failed")
	}
	return nil
}

// GetArchive fetches the file at path as a tar stream plus its stat size,
// so callers can refuse oversized files before reading any data.
func (c *Client) GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, int64, error) {
	rc, stat, err := c.docker.CopyFromContainer(ctx, containerID, path)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, 0, errdefs.Wrap(errdefs.CodeFileNotFound, err, "no such file: %s", path)
		}
		return nil, 0, errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "copy from container failed")
	}
	return rc, stat.Size, nil
}
