// Package docker is the runtime adapter: a narrow facade over the Docker
// Engine API that creates hardened session containers, executes commands
// with time and byte budgets, and moves file archives in and out. The
// adapter is stateless; session state lives in the registry.
package docker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/protocol"
)

const (
	labelPrefix = "glaskasten."
	namePrefix  = "glaskasten-"
)

var evaluatorPort = nat.Port(strconv.Itoa(protocol.EvaluatorPort) + "/tcp")

type Client struct {
	docker *client.Client
}

// New connects to the daemon. An empty endpoint falls back to the standard
// environment (DOCKER_HOST et al.).
func New(endpoint string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if endpoint != "" {
		opts = append(opts, client.WithHost(endpoint))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{docker: cli}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.docker.Ping(ctx); err != nil {
		return errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "container runtime unreachable")
	}
	return nil
}

// CreateSpec describes one session container. The security profile fields
// are applied verbatim on top of the fixed parts: non-root user, read-only
// root, all capabilities dropped, no-new-privileges, tmpfs for every
// writable path.
type CreateSpec struct {
	SessionID string
	Image     string
	Cmd       []string // nil keeps the image entrypoint (evaluator images)
	Env       []string // KEY=VALUE, the session's immutable env snapshot

	MemoryBytes int64
	CPUPeriod   int64
	CPUQuota    int64
	PidsLimit   int64

	NetworkMode string
	ExtraHosts  []string

	TmpfsTmp  string // mount options for /tmp
	TmpfsWork string // mount options for /sandbox; ignored with a workspace
	Workspace string // host dir bound at /sandbox, empty for tmpfs

	PublishEvaluator bool // map the evaluator port to a random host port

	Labels map[string]string
}

// CreateContainer creates and starts a session container with the fixed
// security profile. The partially created container is removed if start
// fails, so no orphan survives the error path.
func (c *Client) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	labels := map[string]string{
		labelPrefix + "session_id": spec.SessionID,
		labelPrefix + "managed":    "true",
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	tmpfs := map[string]string{"/tmp": spec.TmpfsTmp}
	var mounts []mount.Mount
	if spec.Workspace != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: spec.Workspace,
			Target: "/sandbox",
		})
	} else {
		tmpfs["/sandbox"] = spec.TmpfsWork
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			CPUPeriod: spec.CPUPeriod,
			CPUQuota:  spec.CPUQuota,
			PidsLimit: int64Ptr(spec.PidsLimit),
		},
		AutoRemove:     false,
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		Tmpfs:          tmpfs,
		Mounts:         mounts,
		ExtraHosts:     spec.ExtraHosts,
	}
	if spec.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.NetworkMode)
	}

	containerCfg := &container.Config{
		Image:      spec.Image,
		User:       "1000",
		WorkingDir: "/sandbox",
		Env:        spec.Env,
		Cmd:        spec.Cmd,
		Labels:     labels,
		Tty:        false,
	}

	if spec.PublishEvaluator {
		containerCfg.ExposedPorts = nat.PortSet{evaluatorPort: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			evaluatorPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
		}
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, namePrefix+spec.SessionID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", errdefs.Wrap(errdefs.CodeImageMissing, err, "image %q not found at the runtime", spec.Image)
		}
		return "", errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "container create failed")
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Clean up on start failure.
		c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "container start failed")
	}

	return resp.ID, nil
}

// StopContainer stops with the given grace period. A container that is
// already gone is not an error.
func (c *Client) StopContainer(ctx context.Context, containerID string, graceSeconds int) error {
	err := c.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &graceSeconds})
	if err != nil && !client.IsErrNotFound(err) {
		return errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "container stop failed")
	}
	return nil
}

// RemoveContainer force-removes a container and its anonymous volumes.
// Removing an already-removed container succeeds silently.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "container remove failed")
	}
	return nil
}

// InspectResult is the slice of container state the gateway cares about.
type InspectResult struct {
	Exists   bool
	Running  bool
	HostPort int // mapped evaluator port, 0 when unmapped
}

// Inspect reports whether the container exists and runs and, for evaluator
// containers, the host port the evaluator endpoint is mapped to. A missing
// container is not an error: Exists is false.
func (c *Client) Inspect(ctx context.Context, containerID string) (InspectResult, error) {
	info, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return InspectResult{}, nil
		}
		return InspectResult{}, errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "container inspect failed")
	}

	res := InspectResult{Exists: true}
	if info.State != nil {
		res.Running = info.State.Running
	}
	if info.NetworkSettings != nil {
		if bindings := info.NetworkSettings.Ports[evaluatorPort]; len(bindings) > 0 {
			if p, err := strconv.Atoi(bindings[0].HostPort); err == nil {
				res.HostPort = p
			}
		}
	}
	return res, nil
}

// ManagedContainer names one container carrying the gateway's labels.
type ManagedContainer struct {
	ContainerID string
	SessionID   string
}

// ListManaged returns every container (running or not) created by this
// gateway, identified by label.
func (c *Client) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	f := filters.NewArgs()
	f.Add("label", labelPrefix+"managed=true")

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "container list failed")
	}

	var result []ManagedContainer
	for _, ctr := range containers {
		result = append(result, ManagedContainer{
			ContainerID: ctr.ID,
			SessionID:   ctr.Labels[labelPrefix+"session_id"],
		})
	}
	return result, nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
