package ops

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/session"
)

func TestCreateSession(t *testing.T) {
	d, svc := newTestDispatcher()
	now := time.Now().UTC()
	svc.On("Create", mock.Anything, session.CreateOpts{TimeoutSeconds: 120}).
		Return(&session.Info{ID: "s1", CreatedAt: now, LastUsedAt: now, HostPort: 49210}, nil)

	env := d.Dispatch(context.Background(), OpCreateSession, json.RawMessage(`{"timeout_seconds":120}`))

	m := wire(t, env)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "s1", m["id"])
	assert.Equal(t, float64(49210), m["host_port"])
	assert.Contains(t, m, "created_at")
	assert.Contains(t, m, "last_used_at")
	assert.NotContains(t, m, "history_count")
}

func TestCreateSessionOmitsUnpublishedPort(t *testing.T) {
	d, svc := newTestDispatcher()
	now := time.Now().UTC()
	svc.On("Create", mock.Anything, mock.Anything).
		Return(&session.Info{ID: "s1", CreatedAt: now, LastUsedAt: now}, nil)

	env := d.Dispatch(context.Background(), OpCreateSession, nil)

	assert.NotContains(t, wire(t, env), "host_port")
}

func TestCreateSessionAtCapacity(t *testing.T) {
	d, svc := newTestDispatcher()
	svc.On("Create", mock.Anything, mock.Anything).
		Return(nil, errdefs.New(errdefs.CodeCapacityExhausted, "session limit reached (10)"))

	env := d.Dispatch(context.Background(), OpCreateSession, nil)

	body := wireError(t, env)
	assert.Equal(t, "capacity_exhausted", body["code"])
	assert.Equal(t, true, body["retryable"])
}

func TestListSessions(t *testing.T) {
	d, svc := newTestDispatcher()
	now := time.Now().UTC()
	svc.On("List", false).Return([]session.Info{
		{ID: "s1", CreatedAt: now, LastUsedAt: now, HostPort: 49210, HistoryCount: 3},
		{ID: "s2", CreatedAt: now, LastUsedAt: now, HostPort: 49211},
	})

	env := d.Dispatch(context.Background(), OpListSessions, nil)

	m := wire(t, env)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, float64(2), m["count"])
	sessions := m["sessions"].([]any)
	assert.Len(t, sessions, 2)
	first := sessions[0].(map[string]any)
	assert.Equal(t, "s1", first["id"])
	assert.Equal(t, float64(3), first["history_count"])
}

func TestListSessionsIncludeInactive(t *testing.T) {
	d, svc := newTestDispatcher()
	svc.On("List", true).Return([]session.Info{})

	env := d.Dispatch(context.Background(), OpListSessions, json.RawMessage(`{"include_inactive":true}`))

	m := wire(t, env)
	assert.Equal(t, float64(0), m["count"])
	assert.Equal(t, []any{}, m["sessions"], "empty list renders as [], not null")
	svc.AssertExpectations(t)
}

func TestCloseSessionDefaultsToForce(t *testing.T) {
	d, svc := newTestDispatcher()
	svc.On("Close", mock.Anything, "s1", true).Return(nil)

	env := d.Dispatch(context.Background(), OpCloseSession, json.RawMessage(`{"id":"s1"}`))

	m := wire(t, env)
	assert.Equal(t, true, m["success"])
	assert.Contains(t, m["message"], "s1")
	svc.AssertExpectations(t)
}

func TestCloseSessionPolite(t *testing.T) {
	d, svc := newTestDispatcher()
	svc.On("Close", mock.Anything, "s1", false).
		Return(errdefs.New(errdefs.CodeSessionActive, "session s1 is executing"))

	env := d.Dispatch(context.Background(), OpCloseSession, json.RawMessage(`{"id":"s1","force":false}`))

	body := wireError(t, env)
	assert.Equal(t, "session_active", body["code"])
	assert.Equal(t, true, body["retryable"])
}

func TestCloseSessionRequiresID(t *testing.T) {
	d, svc := newTestDispatcher()

	env := d.Dispatch(context.Background(), OpCloseSession, json.RawMessage(`{}`))

	body := wireError(t, env)
	assert.Equal(t, "invalid_argument", body["code"])
	svc.AssertNotCalled(t, "Close")
}
