package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

const (
	imageLabel   = labelPrefix + "image"   // marks images produced by imgbuilder
	variantLabel = labelPrefix + "variant" // r or python
)

// BuildImage runs a daemon-side build from the given context tar, tagging
// and labeling the result as gateway-managed. Progress lines stream to out.
func (c *Client) BuildImage(ctx context.Context, tag, variant string, buildCtx io.Reader, out io.Writer) error {
	resp, err := c.docker.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		Labels: map[string]string{
			imageLabel:   "true",
			variantLabel: variant,
		},
	})
	if err != nil {
		return errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "image build failed to start")
	}
	defer resp.Body.Close()
	return drainBuildStream(resp.Body, out)
}

// drainBuildStream decodes the daemon's progress stream. A build error
// arrives as a terminal message on the stream, not as an HTTP failure.
func drainBuildStream(r io.Reader, out io.Writer) error {
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("decode build stream: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("build: %s", msg.Error)
		}
		if msg.Stream != "" && out != nil {
			io.WriteString(out, msg.Stream)
		}
	}
}

// ImageSummary describes one gateway-built image.
type ImageSummary struct {
	ID      string
	Tags    []string
	Variant string
}

// ListImages returns all images carrying the gateway build label.
func (c *Client) ListImages(ctx context.Context) ([]ImageSummary, error) {
	summaries, err := c.docker.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", imageLabel+"=true")),
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "listing images")
	}
	out := make([]ImageSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, ImageSummary{
			ID:      s.ID,
			Tags:    s.RepoTags,
			Variant: s.Labels[variantLabel],
		})
	}
	return out, nil
}

// FindImage resolves a reference. exists is false when the daemon does not
// know the tag.
func (c *Client) FindImage(ctx context.Context, ref string) (ImageSummary, bool, error) {
	summaries, err := c.docker.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return ImageSummary{}, false, errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "resolving image %q", ref)
	}
	if len(summaries) == 0 {
		return ImageSummary{}, false, nil
	}
	s := summaries[0]
	return ImageSummary{ID: s.ID, Tags: s.RepoTags, Variant: s.Labels[variantLabel]}, true, nil
}

// RemoveImage untags and deletes an image together with dangling parents.
func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	_, err := c.docker.ImageRemove(ctx, ref, image.RemoveOptions{PruneChildren: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return errdefs.New(errdefs.CodeImageMissing, "image %q not found", ref)
		}
		return errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "removing image %q", ref)
	}
	return nil
}
