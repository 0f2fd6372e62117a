package session

import (
	"context"
	"strconv"
	"time"

	"github.com/t-henke/glaskasten/internal/config"
	"github.com/t-henke/glaskasten/internal/docker"
	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/metrics"
)

// CreateOpts carries the caller-tunable parts of a session create.
type CreateOpts struct {
	// TimeoutSeconds overrides the configured idle timeout for this
	// session. Zero keeps the default.
	TimeoutSeconds int
}

// Info is the caller-visible session record.
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	HostPort     int       `json:"host_port,omitempty"`
	HistoryCount int       `json:"history_count"`
}

// Create provisions a new session: capacity slot, workspace directory,
// container, and for the persistent variant a ready evaluator. Nothing is
// visible to other callers until the registry commit at the end, and every
// failure path releases whatever was built before it.
func (m *Manager) Create(ctx context.Context, opts CreateOpts) (*Info, error) {
	if opts.TimeoutSeconds < 0 {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "timeout_seconds must not be negative")
	}
	idle := time.Duration(m.cfg.IdleTimeoutSeconds) * time.Second
	if opts.TimeoutSeconds > 0 {
		idle = time.Duration(opts.TimeoutSeconds) * time.Second
	}

	if err := m.registry.Reserve(); err != nil {
		return nil, err
	}

	id := newSessionID()

	var hostDir string
	if m.ws != nil {
		dir, err := m.ws.Ensure(id)
		if err != nil {
			m.registry.Unreserve()
			return nil, errdefs.Wrap(errdefs.CodeInternal, err, "provisioning workspace for session %s", id)
		}
		hostDir = dir
	}

	containerID, origin := "", "cold"
	if m.pool != nil {
		if pooled, ok := m.pool.Claim(ctx); ok {
			containerID, origin = pooled, "pooled"
		}
	}
	if containerID == "" {
		created, err := m.runtime.CreateContainer(ctx, BuildCreateSpec(m.cfg, id, hostDir))
		if err != nil {
			m.registry.Unreserve()
			return nil, err
		}
		containerID = created
	}

	hostPort := 0
	if m.cfg.Persistent() {
		port, err := m.evaluatorPort(ctx, containerID)
		if err != nil {
			m.abortCreate(ctx, containerID)
			return nil, err
		}
		hostPort = port
	}

	now := time.Now().UTC()
	snap := Snapshot{
		ID:          id,
		ContainerID: containerID,
		HostPort:    hostPort,
		Workspace:   hostDir,
		CreatedAt:   now,
		LastUsedAt:  now,
		IdleTimeout: idle,
	}
	if err := m.registry.Commit(snap); err != nil {
		m.abortCreate(ctx, containerID)
		return nil, err
	}

	metrics.SessionsCreated.WithLabelValues(origin).Inc()
	m.logger.Info("session created",
		"session_id", id,
		"container_id", containerID,
		"host_port", hostPort,
		"origin", origin,
		"idle_timeout_s", int(idle/time.Second))
	return &Info{ID: id, CreatedAt: now, LastUsedAt: now, HostPort: hostPort}, nil
}

// BuildCreateSpec maps the configuration onto a container spec for one
// session. The pool uses it too, so warm containers are indistinguishable
// from cold ones.
func BuildCreateSpec(cfg *config.Config, id, hostDir string) docker.CreateSpec {
	env, extraHosts := containerEnv(cfg)
	memBytes, _ := cfg.MemoryBytes()

	var cmd []string
	if !cfg.Persistent() {
		// No long-running evaluator; the container just has to stay up
		// between one-shot exec calls.
		cmd = []string{"sleep", "infinity"}
	}

	return docker.CreateSpec{
		SessionID:        id,
		Image:            cfg.ImageName,
		Cmd:              cmd,
		Env:              env,
		MemoryBytes:      memBytes,
		CPUPeriod:        cfg.Limits.CPUPeriod,
		CPUQuota:         cfg.Limits.CPUQuota,
		PidsLimit:        cfg.Limits.PidsLimit,
		NetworkMode:      cfg.NetworkMode,
		ExtraHosts:       extraHosts,
		TmpfsTmp:         cfg.Limits.TmpfsTmp,
		TmpfsWork:        cfg.Limits.TmpfsWork,
		Workspace:        hostDir,
		PublishEvaluator: cfg.Persistent(),
	}
}

// containerEnv builds the environment injected into a session container,
// fixed for the session's lifetime. Loopback database hosts are rewritten
// to the Docker host alias so sandboxed code can still reach a database
// running on the gateway host.
func containerEnv(cfg *config.Config) (env, extraHosts []string) {
	env = append(env, "HOME=/sandbox")
	switch cfg.Variant {
	case config.VariantPython:
		env = append(env, "PYTHONUSERBASE=/sandbox/.local")
	case config.VariantR:
		env = append(env, "R_LIBS_USER=/sandbox/.rlib")
	}
	if cfg.PackageSourceToken != "" {
		env = append(env, "PACKAGE_SOURCE_TOKEN="+cfg.PackageSourceToken)
	}

	db := cfg.DB
	if db.Host == "" {
		return env, nil
	}
	host := db.Host
	if (host == "localhost" || host == "127.0.0.1") && cfg.NetworkMode != "none" {
		host = "host.docker.internal"
		extraHosts = append(extraHosts, "host.docker.internal:host-gateway")
	}
	env = append(env,
		"DB_HOST="+host,
		"DB_PORT="+strconv.Itoa(db.Port),
		"DB_USER="+db.User,
		"DB_PASSWORD="+db.Password,
		"DB_NAME="+db.Name,
	)
	return env, extraHosts
}

// evaluatorPort looks up the published host port and waits for the
// evaluator behind it to answer. A session whose evaluator never comes up
// is torn down by the caller.
func (m *Manager) evaluatorPort(ctx context.Context, containerID string) (int, error) {
	ins, err := m.runtime.Inspect(ctx, containerID)
	if err != nil {
		return 0, err
	}
	if !ins.Running {
		return 0, errdefs.New(errdefs.CodeInternal, "session container exited during startup")
	}
	if ins.HostPort == 0 {
		return 0, errdefs.New(errdefs.CodeInternal, "session container has no published evaluator port")
	}

	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.EvaluatorReadySeconds)*time.Second)
	defer cancel()
	if err := m.probe(probeCtx, ins.HostPort); err != nil {
		return 0, err
	}
	return ins.HostPort, nil
}

// abortCreate tears down a partially created session so no container
// outlives a failed create. The workspace directory is kept; it is cheap
// and carries no resources.
func (m *Manager) abortCreate(ctx context.Context, containerID string) {
	if err := m.runtime.RemoveContainer(context.WithoutCancel(ctx), containerID); err != nil {
		m.logger.Error("removing container after failed create", "container_id", containerID, "error", err)
	}
	m.registry.Unreserve()
}
