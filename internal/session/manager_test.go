package session

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/t-henke/glaskasten/internal/config"
	"github.com/t-henke/glaskasten/internal/docker"
	"github.com/t-henke/glaskasten/internal/testutil"
)

func testConfig() *config.Config {
	return testutil.TestConfig()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager() (*Manager, *MockRuntime, *MockEngine, *MockJournal) {
	rt := &MockRuntime{}
	eng := &MockEngine{}
	jnl := &MockJournal{}
	mgr := NewManager(testConfig(), testLogger(), rt, eng, jnl, nil, nil)
	mgr.probe = func(ctx context.Context, hostPort int) error { return nil }
	return mgr, rt, eng, jnl
}

// addLiveSession plants a committed session directly in the registry so op
// tests can skip the create flow.
func addLiveSession(t *testing.T, mgr *Manager, id string) Snapshot {
	t.Helper()
	now := time.Now().UTC()
	snap := Snapshot{
		ID:          id,
		ContainerID: "c-" + id,
		HostPort:    49200,
		CreatedAt:   now,
		LastUsedAt:  now,
		IdleTimeout: 5 * time.Minute,
	}
	require.NoError(t, mgr.registry.Commit(snap))
	return snap
}

func TestContainerEnvInjectsDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.DB = config.DB{Host: "db.internal", Port: 5432, User: "app", Password: "secret", Name: "main"}

	env, extraHosts := containerEnv(cfg)

	assert.Contains(t, env, "DB_HOST=db.internal")
	assert.Contains(t, env, "DB_PORT=5432")
	assert.Contains(t, env, "DB_USER=app")
	assert.Contains(t, env, "DB_PASSWORD=secret")
	assert.Contains(t, env, "DB_NAME=main")
	assert.Empty(t, extraHosts)
}

func TestContainerEnvRewritesLoopbackHost(t *testing.T) {
	cfg := testConfig()
	cfg.DB = config.DB{Host: "localhost", Port: 5432, User: "app", Name: "main"}

	env, extraHosts := containerEnv(cfg)

	assert.Contains(t, env, "DB_HOST=host.docker.internal")
	assert.Equal(t, []string{"host.docker.internal:host-gateway"}, extraHosts)
}

func TestContainerEnvKeepsLoopbackWithoutNetwork(t *testing.T) {
	cfg := testConfig()
	cfg.Variant = config.VariantPython
	cfg.NetworkMode = "none"
	cfg.DB = config.DB{Host: "127.0.0.1", Port: 5432}

	env, extraHosts := containerEnv(cfg)

	assert.Contains(t, env, "DB_HOST=127.0.0.1")
	assert.Empty(t, extraHosts)
}

func TestContainerEnvOmitsDatabaseWhenUnset(t *testing.T) {
	env, extraHosts := containerEnv(testConfig())

	for _, kv := range env {
		assert.NotContains(t, kv, "DB_")
	}
	assert.Empty(t, extraHosts)
}

func TestContainerEnvVariantLibraryPaths(t *testing.T) {
	cfg := testConfig()
	env, _ := containerEnv(cfg)
	assert.Contains(t, env, "R_LIBS_USER=/sandbox/.rlib")
	assert.Contains(t, env, "HOME=/sandbox")

	cfg.Variant = config.VariantPython
	env, _ = containerEnv(cfg)
	assert.Contains(t, env, "PYTHONUSERBASE=/sandbox/.local")
}

func TestBuildCreateSpecPersistent(t *testing.T) {
	spec := BuildCreateSpec(testConfig(), "sess-1", "")

	assert.Equal(t, "sess-1", spec.SessionID)
	assert.Equal(t, "glaskasten-r:test", spec.Image)
	assert.Nil(t, spec.Cmd)
	assert.True(t, spec.PublishEvaluator)
	assert.Equal(t, int64(512*1024*1024), spec.MemoryBytes)
	assert.Equal(t, int64(256), spec.PidsLimit)
}

func TestBuildCreateSpecOneshot(t *testing.T) {
	cfg := testConfig()
	cfg.Variant = config.VariantPython
	cfg.NetworkMode = "none"

	spec := BuildCreateSpec(cfg, "sess-1", "/srv/ws/sess-1")

	assert.Equal(t, []string{"sleep", "infinity"}, spec.Cmd)
	assert.False(t, spec.PublishEvaluator)
	assert.Equal(t, "/srv/ws/sess-1", spec.Workspace)
}

func TestReconcileRemovesOrphans(t *testing.T) {
	mgr, rt, _, _ := newTestManager()
	addLiveSession(t, mgr, "known")

	rt.On("ListManaged", mock.Anything).Return([]docker.ManagedContainer{
		{ContainerID: "c-known", SessionID: "known"},
		{ContainerID: "c-orphan", SessionID: "gone"},
	}, nil)
	rt.On("RemoveContainer", mock.Anything, "c-orphan").Return(nil)

	require.NoError(t, mgr.Reconcile(context.Background()))

	rt.AssertCalled(t, "RemoveContainer", mock.Anything, "c-orphan")
	rt.AssertNotCalled(t, "RemoveContainer", mock.Anything, "c-known")
}

func TestReconcileSkipsPooledContainers(t *testing.T) {
	rt := &MockRuntime{}
	pool := &MockPool{}
	mgr := NewManager(testConfig(), testLogger(), rt, &MockEngine{}, &MockJournal{}, nil, pool)

	rt.On("ListManaged", mock.Anything).Return([]docker.ManagedContainer{
		{ContainerID: "c-warm", SessionID: "pool-1"},
	}, nil)
	pool.On("Owns", "c-warm").Return(true)

	require.NoError(t, mgr.Reconcile(context.Background()))

	rt.AssertNotCalled(t, "RemoveContainer", mock.Anything, mock.Anything)
}

func TestShutdownClosesEverySession(t *testing.T) {
	mgr, rt, _, _ := newTestManager()
	addLiveSession(t, mgr, "a")
	addLiveSession(t, mgr, "b")

	rt.On("StopContainer", mock.Anything, mock.Anything, stopGraceSeconds).Return(nil)
	rt.On("RemoveContainer", mock.Anything, mock.Anything).Return(nil)

	mgr.Shutdown(context.Background())

	live, terminating, _ := mgr.registry.Counts()
	assert.Zero(t, live)
	assert.Zero(t, terminating)
	rt.AssertNumberOfCalls(t, "RemoveContainer", 2)
}

func TestRetryTeardownFinishesStuckClose(t *testing.T) {
	mgr, rt, _, _ := newTestManager()
	addLiveSession(t, mgr, "stuck")
	_, err := mgr.registry.BeginClose("stuck")
	require.NoError(t, err)

	rt.On("StopContainer", mock.Anything, "c-stuck", stopGraceSeconds).Return(nil)
	rt.On("RemoveContainer", mock.Anything, "c-stuck").Return(nil)

	require.NoError(t, mgr.RetryTeardown(context.Background(), "stuck"))

	_, terminating, _ := mgr.registry.Counts()
	assert.Zero(t, terminating)
}
