package reaper

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSweep_NothingIdle(t *testing.T) {
	sm := &MockSessions{}
	r := New(sm, time.Minute, testLogger())

	sm.On("IdleSessionIDs", mock.Anything).Return([]string{})
	sm.On("StuckSessionIDs").Return([]string{})

	r.sweep(context.Background())

	sm.AssertExpectations(t)
	sm.AssertNotCalled(t, "CloseExpired")
}

func TestSweep_ClosesIdleSessions(t *testing.T) {
	sm := &MockSessions{}
	r := New(sm, time.Minute, testLogger())

	sm.On("IdleSessionIDs", mock.Anything).Return([]string{"s1", "s2"})
	sm.On("CloseExpired", mock.Anything, "s1").Return(nil)
	sm.On("CloseExpired", mock.Anything, "s2").Return(nil)
	sm.On("StuckSessionIDs").Return([]string{})

	r.sweep(context.Background())

	sm.AssertExpectations(t)
}

func TestSweep_SwallowsConcurrentClose(t *testing.T) {
	sm := &MockSessions{}
	r := New(sm, time.Minute, testLogger())

	sm.On("IdleSessionIDs", mock.Anything).Return([]string{"gone"})
	sm.On("CloseExpired", mock.Anything, "gone").
		Return(errdefs.New(errdefs.CodeSessionNotFound, "session gone not found"))
	sm.On("StuckSessionIDs").Return([]string{})

	require.NotPanics(t, func() {
		r.sweep(context.Background())
	})
	sm.AssertExpectations(t)
}

func TestSweep_KeepsGoingAfterRuntimeFailure(t *testing.T) {
	sm := &MockSessions{}
	r := New(sm, time.Minute, testLogger())

	sm.On("IdleSessionIDs", mock.Anything).Return([]string{"s1", "s2"})
	sm.On("CloseExpired", mock.Anything, "s1").
		Return(errdefs.New(errdefs.CodeRuntimeUnavailable, "daemon down"))
	sm.On("CloseExpired", mock.Anything, "s2").Return(nil)
	sm.On("StuckSessionIDs").Return([]string{})

	r.sweep(context.Background())

	sm.AssertCalled(t, "CloseExpired", mock.Anything, "s2")
}

func TestSweep_RetriesStuckTeardowns(t *testing.T) {
	sm := &MockSessions{}
	r := New(sm, time.Minute, testLogger())

	sm.On("IdleSessionIDs", mock.Anything).Return([]string{})
	sm.On("StuckSessionIDs").Return([]string{"stuck"})
	sm.On("RetryTeardown", mock.Anything, "stuck").Return(errors.New("still down"))

	require.NotPanics(t, func() {
		r.sweep(context.Background())
	})
	sm.AssertCalled(t, "RetryTeardown", mock.Anything, "stuck")
}

func TestReconcile_DelegatesToManager(t *testing.T) {
	sm := &MockSessions{}
	r := New(sm, time.Minute, testLogger())

	sm.On("Reconcile", mock.Anything).Return(nil)

	r.reconcile(context.Background())

	sm.AssertExpectations(t)
}

func TestReconcile_LogsAndContinuesOnFailure(t *testing.T) {
	sm := &MockSessions{}
	r := New(sm, time.Minute, testLogger())

	sm.On("Reconcile", mock.Anything).Return(errors.New("daemon unreachable"))

	require.NotPanics(t, func() {
		r.reconcile(context.Background())
	})
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	sm := &MockSessions{}
	r := New(sm, 10*time.Millisecond, testLogger())

	sm.On("Reconcile", mock.Anything).Return(nil)
	sm.On("IdleSessionIDs", mock.Anything).Return([]string{})
	sm.On("StuckSessionIDs").Return([]string{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancel")
	}
}
